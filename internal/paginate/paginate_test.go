package paginate

import (
	"context"
	"errors"
	"slices"
	"testing"

	"github.com/luciancaetano/kephasgate/entity"
)

type item struct {
	id entity.ID
}

func key(i item) entity.ID { return i.id }

// remote serves a sorted id space the way the REST endpoints do: after pages
// ascend, before pages descend.
type remote struct {
	ids     []entity.ID
	cursors []Cursor
	err     error
}

func newRemote(n int) *remote {
	r := &remote{}
	for i := 1; i <= n; i++ {
		r.ids = append(r.ids, entity.ID(i))
	}
	return r
}

func (r *remote) fetch(_ context.Context, c Cursor) ([]item, error) {
	r.cursors = append(r.cursors, c)
	if r.err != nil {
		return nil, r.err
	}

	var page []item
	switch c.Direction {
	case After:
		for _, id := range r.ids {
			if id > c.ID && len(page) < c.Limit {
				page = append(page, item{id})
			}
		}
	case Before:
		for _, id := range slices.Backward(r.ids) {
			if id < c.ID && len(page) < c.Limit {
				page = append(page, item{id})
			}
		}
	case Around:
		for _, id := range r.ids {
			if id >= c.ID-entity.ID(c.Limit/2) && len(page) < c.Limit {
				page = append(page, item{id})
			}
		}
	}
	return page, nil
}

func ids(items []item) []entity.ID {
	out := make([]entity.ID, 0, len(items))
	for _, i := range items {
		out = append(out, i.id)
	}
	return out
}

func cursorIDs(cs []Cursor) []entity.ID {
	out := make([]entity.ID, 0, len(cs))
	for _, c := range cs {
		out = append(out, c.ID)
	}
	return out
}

// TestForwards tests a forward walk over pages of three
func TestForwards(t *testing.T) {
	t.Parallel()

	r := newRemote(7)
	p := Forwards(key, r.fetch)
	p.PageSize = 3

	got, err := Collect(Paginate(context.Background(), p))
	if err != nil {
		t.Fatalf("Collect() failed: %v", err)
	}
	if want := []entity.ID{1, 2, 3, 4, 5, 6, 7}; !slices.Equal(ids(got), want) {
		t.Errorf("ids = %v, want %v", ids(got), want)
	}
	if want := []entity.ID{0, 3, 6}; !slices.Equal(cursorIDs(r.cursors), want) {
		t.Errorf("cursors = %v, want %v", cursorIDs(r.cursors), want)
	}
}

// TestBackwards tests that a backward walk descends using the oldest id
func TestBackwards(t *testing.T) {
	t.Parallel()

	r := newRemote(7)
	p := Backwards(key, r.fetch)
	p.PageSize = 3

	got, err := Collect(Paginate(context.Background(), p))
	if err != nil {
		t.Fatalf("Collect() failed: %v", err)
	}
	if want := []entity.ID{7, 6, 5, 4, 3, 2, 1}; !slices.Equal(ids(got), want) {
		t.Errorf("ids = %v, want %v", ids(got), want)
	}
	if want := []entity.ID{entity.MaxID, 5, 2}; !slices.Equal(cursorIDs(r.cursors), want) {
		t.Errorf("cursors = %v, want %v", cursorIDs(r.cursors), want)
	}
}

// TestExactMultipleEndsOnEmptyPage tests termination when the last page is full
func TestExactMultipleEndsOnEmptyPage(t *testing.T) {
	t.Parallel()

	r := newRemote(6)
	p := Forwards(key, r.fetch)
	p.PageSize = 3

	got, err := Collect(Paginate(context.Background(), p))
	if err != nil {
		t.Fatalf("Collect() failed: %v", err)
	}
	if len(got) != 6 {
		t.Errorf("got %d items, want 6", len(got))
	}
	if len(r.cursors) != 3 {
		t.Errorf("fetches = %d, want 3", len(r.cursors))
	}
}

// TestLimitTruncatesOnly tests that Limit stops output without changing the fetch size
func TestLimitTruncatesOnly(t *testing.T) {
	t.Parallel()

	r := newRemote(50)
	p := Forwards(key, r.fetch)
	p.PageSize = 10
	p.Limit = 15

	got, err := Collect(Paginate(context.Background(), p))
	if err != nil {
		t.Fatalf("Collect() failed: %v", err)
	}
	if len(got) != 15 || got[14].id != 15 {
		t.Errorf("got %v", ids(got))
	}
	for _, c := range r.cursors {
		if c.Limit != 10 {
			t.Errorf("fetch limit = %d, want 10", c.Limit)
		}
	}
	if len(r.cursors) != 2 {
		t.Errorf("fetches = %d, want 2", len(r.cursors))
	}
}

// TestPageSizeCeiling tests that page sizes above the maximum are capped
func TestPageSizeCeiling(t *testing.T) {
	t.Parallel()

	p, err := New(Params[item]{PageSize: 500, Key: key, Fetch: newRemote(0).fetch})
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	if p.PageSize() != MaxPageSize {
		t.Errorf("PageSize() = %d, want %d", p.PageSize(), MaxPageSize)
	}
}

// TestStuckCursor tests that a remote ignoring the cursor cannot loop forever
func TestStuckCursor(t *testing.T) {
	t.Parallel()

	calls := 0
	fetch := func(context.Context, Cursor) ([]item, error) {
		calls++
		return []item{{3}, {1}, {2}}, nil
	}

	got, err := Collect(Paginate(context.Background(), Params[item]{PageSize: 3, Key: key, Fetch: fetch}))
	if err != nil {
		t.Fatalf("Collect() failed: %v", err)
	}
	if want := []entity.ID{3, 1, 2}; !slices.Equal(ids(got), want) {
		t.Errorf("ids = %v, want %v", ids(got), want)
	}
	if calls != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}
}

// TestOverlappingPages tests that items already passed are not yielded twice
func TestOverlappingPages(t *testing.T) {
	t.Parallel()

	pages := [][]item{
		{{1}, {2}, {3}},
		{{3}, {4}, {5}},
		{{6}},
	}
	var n int
	fetch := func(context.Context, Cursor) ([]item, error) {
		page := pages[n]
		n++
		return page, nil
	}

	got, err := Collect(Paginate(context.Background(), Params[item]{PageSize: 3, Key: key, Fetch: fetch}))
	if err != nil {
		t.Fatalf("Collect() failed: %v", err)
	}
	if want := []entity.ID{1, 2, 3, 4, 5, 6}; !slices.Equal(ids(got), want) {
		t.Errorf("ids = %v, want %v", ids(got), want)
	}
}

// TestSingleItemPage tests that a one item page moves the cursor to that item
func TestSingleItemPage(t *testing.T) {
	t.Parallel()

	r := newRemote(3)
	got, err := Collect(Paginate(context.Background(), Params[item]{PageSize: 1, Key: key, Fetch: r.fetch}))
	if err != nil {
		t.Fatalf("Collect() failed: %v", err)
	}
	if len(got) != 3 {
		t.Errorf("got %v", ids(got))
	}
	if want := []entity.ID{0, 1, 2, 3}; !slices.Equal(cursorIDs(r.cursors), want) {
		t.Errorf("cursors = %v, want %v", cursorIDs(r.cursors), want)
	}
}

// TestAround tests that an around traversal fetches once
func TestAround(t *testing.T) {
	t.Parallel()

	r := newRemote(20)
	got, err := Collect(Paginate(context.Background(), Params[item]{
		Start:     10,
		Direction: Around,
		PageSize:  5,
		Key:       key,
		Fetch:     r.fetch,
	}))
	if err != nil {
		t.Fatalf("Collect() failed: %v", err)
	}
	if want := []entity.ID{8, 9, 10, 11, 12}; !slices.Equal(ids(got), want) {
		t.Errorf("ids = %v, want %v", ids(got), want)
	}
	if len(r.cursors) != 1 {
		t.Errorf("fetches = %d, want 1", len(r.cursors))
	}
}

// TestFetchError tests that a fetch error ends the sequence
func TestFetchError(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	r := newRemote(5)
	r.err = boom

	var errs int
	for _, err := range Paginate(context.Background(), Forwards(key, r.fetch)) {
		if !errors.Is(err, boom) {
			t.Errorf("err = %v, want boom", err)
		}
		errs++
	}
	if errs != 1 {
		t.Errorf("yielded %d errors, want 1", errs)
	}
}

// TestEarlyBreak tests that breaking out of the loop stops fetching
func TestEarlyBreak(t *testing.T) {
	t.Parallel()

	r := newRemote(100)
	p := Forwards(key, r.fetch)
	p.PageSize = 10

	for it, err := range Paginate(context.Background(), p) {
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if it.id == 4 {
			break
		}
	}
	if len(r.cursors) != 1 {
		t.Errorf("fetches = %d, want 1", len(r.cursors))
	}
}

// TestCancelled tests that a cancelled context stops before fetching
func TestCancelled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r := newRemote(5)
	_, err := Collect(Paginate(ctx, Forwards(key, r.fetch)))
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
	if len(r.cursors) != 0 {
		t.Errorf("fetches = %d, want 0", len(r.cursors))
	}
}

// TestValidation tests that bad params are rejected before any fetch
func TestValidation(t *testing.T) {
	t.Parallel()

	fetch := newRemote(1).fetch
	tests := []struct {
		name   string
		params Params[item]
		want   error
	}{
		{"zero page size", Params[item]{PageSize: 0, Key: key, Fetch: fetch}, ErrInvalidPageSize},
		{"negative page size", Params[item]{PageSize: -1, Key: key, Fetch: fetch}, ErrInvalidPageSize},
		{"negative limit", Params[item]{PageSize: 1, Limit: -1, Key: key, Fetch: fetch}, ErrInvalidLimit},
		{"nil fetch", Params[item]{PageSize: 1, Key: key}, ErrNilFetch},
		{"nil key", Params[item]{PageSize: 1, Fetch: fetch}, ErrNilKey},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.params); !errors.Is(err, tt.want) {
				t.Errorf("New() error = %v, want %v", err, tt.want)
			}
			_, err := Collect(Paginate(context.Background(), tt.params))
			if !errors.Is(err, tt.want) {
				t.Errorf("Paginate() error = %v, want %v", err, tt.want)
			}
		})
	}
}
