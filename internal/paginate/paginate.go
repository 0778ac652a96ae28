// Package paginate walks paged remote collections keyed by snowflake ids.
//
// A traversal fetches one page at a time at the current cursor, yields its
// items in the order received, then moves the cursor to the extreme key of
// the page: the largest for After, the smallest for Before. It ends on an
// empty or short page, when the cursor stops moving, or once Limit items
// were yielded.
package paginate

import (
	"context"
	"errors"
	"fmt"
	"iter"

	"github.com/luciancaetano/kephasgate/entity"
)

// MaxPageSize is the largest page the remote side serves.
const MaxPageSize = 100

var (
	ErrInvalidPageSize = errors.New("paginate: page size must be positive")
	ErrInvalidLimit    = errors.New("paginate: limit must not be negative")
	ErrNilFetch        = errors.New("paginate: nil fetch function")
	ErrNilKey          = errors.New("paginate: nil key function")
)

// Direction selects which side of the cursor a page is taken from.
type Direction int

const (
	After Direction = iota
	Before
	Around
)

func (d Direction) String() string {
	switch d {
	case After:
		return "after"
	case Before:
		return "before"
	case Around:
		return "around"
	default:
		return fmt.Sprintf("Direction(%d)", int(d))
	}
}

// Cursor is the position a page is requested at.
type Cursor struct {
	Direction Direction
	ID        entity.ID
	Limit     int
}

// Fetcher fetches the page at a cursor.
type Fetcher[T any] func(ctx context.Context, c Cursor) ([]T, error)

// Params describes a traversal.
type Params[T any] struct {
	Start     entity.ID
	Direction Direction
	PageSize  int
	Limit     int // 0 means unlimited
	Key       func(T) entity.ID
	Fetch     Fetcher[T]
}

// Forwards returns params walking from the oldest item towards the youngest.
func Forwards[T any](key func(T) entity.ID, fetch Fetcher[T]) Params[T] {
	return Params[T]{Start: 0, Direction: After, PageSize: MaxPageSize, Key: key, Fetch: fetch}
}

// Backwards returns params walking from the youngest item towards the oldest.
func Backwards[T any](key func(T) entity.ID, fetch Fetcher[T]) Params[T] {
	return Params[T]{Start: entity.MaxID, Direction: Before, PageSize: MaxPageSize, Key: key, Fetch: fetch}
}

// Pager is a validated traversal. It may be iterated more than once; every
// iteration starts again at Start.
type Pager[T any] struct {
	params Params[T]
	size   int
}

// New validates p.
func New[T any](p Params[T]) (*Pager[T], error) {
	if p.PageSize <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidPageSize, p.PageSize)
	}
	if p.Limit < 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidLimit, p.Limit)
	}
	if p.Fetch == nil {
		return nil, ErrNilFetch
	}
	if p.Key == nil {
		return nil, ErrNilKey
	}
	if p.Direction < After || p.Direction > Around {
		return nil, fmt.Errorf("paginate: unknown direction %d", p.Direction)
	}
	return &Pager[T]{params: p, size: min(p.PageSize, MaxPageSize)}, nil
}

// PageSize returns the number of items requested per fetch.
func (p *Pager[T]) PageSize() int {
	return p.size
}

// All returns the lazy sequence of items. A fetch error is yielded once and
// ends the sequence; so does cancellation of ctx.
func (p *Pager[T]) All(ctx context.Context) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		var zero T
		cursor := Cursor{Direction: p.params.Direction, ID: p.params.Start, Limit: p.size}
		yielded := 0

		for {
			if err := ctx.Err(); err != nil {
				yield(zero, err)
				return
			}

			page, err := p.params.Fetch(ctx, cursor)
			if err != nil {
				yield(zero, fmt.Errorf("fetch %s %d: %w", cursor.Direction, cursor.ID, err))
				return
			}

			for _, item := range page {
				if !p.beyond(cursor, item) {
					continue
				}
				if !yield(item, nil) {
					return
				}
				yielded++
				if p.params.Limit > 0 && yielded >= p.params.Limit {
					return
				}
			}

			if cursor.Direction == Around || len(page) == 0 || len(page) < p.size {
				return
			}
			next := p.extreme(cursor.Direction, page)
			if next == cursor.ID {
				return
			}
			cursor.ID = next
		}
	}
}

// beyond reports whether item lies past the cursor in the traversal
// direction.
func (p *Pager[T]) beyond(c Cursor, item T) bool {
	switch c.Direction {
	case After:
		return p.params.Key(item) > c.ID
	case Before:
		return p.params.Key(item) < c.ID
	}
	return true
}

func (p *Pager[T]) extreme(d Direction, page []T) entity.ID {
	best := p.params.Key(page[0])
	for _, item := range page[1:] {
		k := p.params.Key(item)
		if (d == After && k > best) || (d == Before && k < best) {
			best = k
		}
	}
	return best
}

// Paginate validates p and returns its sequence. Invalid params yield their
// error as the only element.
func Paginate[T any](ctx context.Context, p Params[T]) iter.Seq2[T, error] {
	pager, err := New(p)
	if err != nil {
		return func(yield func(T, error) bool) {
			var zero T
			yield(zero, err)
		}
	}
	return pager.All(ctx)
}

// Collect drains seq into a slice, stopping at the first error.
func Collect[T any](seq iter.Seq2[T, error]) ([]T, error) {
	var out []T
	for item, err := range seq {
		if err != nil {
			return out, err
		}
		out = append(out, item)
	}
	return out, nil
}
