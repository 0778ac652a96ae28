package rest

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luciancaetano/kephasgate/entity"
	"github.com/luciancaetano/kephasgate/internal/paginate"
	"github.com/luciancaetano/kephasgate/internal/ratelimit"
	"github.com/luciancaetano/kephasgate/internal/retry"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := NewClient(Config{
		Token:      "secret",
		BaseURL:    srv.URL,
		HTTPClient: srv.Client(),
		MaxRetries: 2,
		Retry:      retry.Config{InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond},
		Logger:     discard,
	})
	require.NoError(t, err)
	return c, srv
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// TestExecuteSendsHeaders tests authentication and audit headers
func TestExecuteSendsHeaders(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	var got http.Header
	var body map[string]any
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		got = r.Header.Clone()
		_ = json.NewDecoder(r.Body).Decode(&body)
		writeJSON(w, http.StatusOK, map[string]any{"id": "9", "channel_id": "1", "author": map[string]any{"id": "2", "username": "u"}, "content": "hi", "timestamp": "2024-01-01T00:00:00Z"})
	})

	msg, err := c.CreateMessage(context.Background(), 1, CreateMessageParams{Content: "hi"})
	require.NoError(t, err)
	assert.Equal(t, entity.ID(9), msg.ID)
	assert.Equal(t, entity.ID(2), msg.AuthorID)

	mu.Lock()
	assert.Equal(t, "Bot secret", got.Get("Authorization"))
	assert.Equal(t, "application/json", got.Get("Content-Type"))
	assert.Contains(t, got.Get("User-Agent"), "DiscordBot")
	assert.Equal(t, "hi", body["content"])
	mu.Unlock()

	require.NoError(t, c.DeleteMessage(context.Background(), 1, 9, "spam cleanup"))
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "spam%20cleanup", got.Get("X-Audit-Log-Reason"))
}

// TestLookupNotFound tests that 404 is an absent result
func TestLookupNotFound(t *testing.T) {
	t.Parallel()

	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, map[string]any{"code": 10004, "message": "Unknown Guild"})
	})
	ctx := context.Background()

	_, ok, err := c.GetGuild(ctx, 1)
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = c.GetMember(ctx, 1, 2)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = c.GetPinnedMessages(ctx, 1)
	assert.True(t, IsNotFound(err))
}

// TestLookupFound tests decoding of single entity lookups
func TestLookupFound(t *testing.T) {
	t.Parallel()

	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/guilds/1":
			assert.Equal(t, "true", r.URL.Query().Get("with_counts"))
			writeJSON(w, http.StatusOK, map[string]any{"id": "1", "name": "g", "owner_id": "5", "approximate_member_count": 42})
		case "/guilds/1/members/2":
			writeJSON(w, http.StatusOK, map[string]any{"user": map[string]any{"id": "2", "username": "u"}, "nick": "n", "roles": []string{"7"}, "joined_at": "2024-01-01T00:00:00Z"})
		default:
			http.NotFound(w, r)
		}
	})
	ctx := context.Background()

	g, ok, err := c.GetGuild(ctx, 1)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 42, g.MemberCount)
	assert.Equal(t, entity.ID(5), g.OwnerID)

	m, ok, err := c.GetMember(ctx, 1, 2)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, entity.Member{GuildID: 1, UserID: 2, Nick: "n", Roles: []entity.ID{7}, JoinedAt: m.JoinedAt}, m)
	assert.Equal(t, 2024, m.JoinedAt.Year())
}

// TestRetryAfter429 tests that a route 429 locks the bucket and retries
func TestRetryAfter429(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			writeJSON(w, http.StatusTooManyRequests, map[string]any{"retry_after": 0.05, "global": false})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"id": "3", "username": "u"})
	})

	start := time.Now()
	u, ok, err := c.GetUser(context.Background(), 3)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "u", u.Username)
	assert.Equal(t, int32(2), calls.Load())
	assert.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)
}

// TestGlobal429 tests that a global 429 holds back other routes too
func TestGlobal429(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("X-RateLimit-Global", "true")
			writeJSON(w, http.StatusTooManyRequests, map[string]any{"retry_after": 0.05})
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	start := time.Now()
	require.NoError(t, c.TriggerTyping(context.Background(), 1))
	assert.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)
}

// TestRateLimitExhausted tests the error after the last retry
func TestRateLimitExhausted(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Retry-After", "0.01")
		w.WriteHeader(http.StatusTooManyRequests)
	})

	err := c.TriggerTyping(context.Background(), 1)
	var limited *RateLimitedError
	require.ErrorAs(t, err, &limited)
	assert.InDelta(t, float64(10*time.Millisecond), float64(limited.RetryAfter), float64(time.Microsecond))
	assert.False(t, limited.Global)
	assert.Equal(t, "route:POST /channels/1/typing", limited.Bucket)
	assert.Equal(t, int32(3), calls.Load())
}

// TestServerErrorRetries tests 5xx retries with backoff
func TestServerErrorRetries(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"url": "wss://gateway.example", "shards": 2, "session_start_limit": map[string]any{"total": 1000, "remaining": 999, "reset_after": 1500, "max_concurrency": 1}})
	})

	gb, err := c.GetGatewayBot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, gb.Shards)
	assert.Equal(t, 1500*time.Millisecond, gb.SessionStartLimit.ResetIn())
	assert.Equal(t, int32(3), calls.Load())
}

// TestClientErrorNotRetried tests that 4xx responses fail at once
func TestClientErrorNotRetried(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		writeJSON(w, http.StatusForbidden, map[string]any{"code": 50013, "message": "Missing Permissions"})
	})

	_, err := c.ModifyGuildMember(context.Background(), 1, 2, ModifyMemberParams{}, "")
	var httpErr *HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusForbidden, httpErr.Status)
	assert.Equal(t, 50013, httpErr.Code)
	assert.Equal(t, "Missing Permissions", httpErr.Message)
	assert.Equal(t, int32(1), calls.Load())
	assert.False(t, IsNotFound(err))
}

// TestHeadersUpdateBucket tests that rate limit headers correct the bucket
func TestHeadersUpdateBucket(t *testing.T) {
	t.Parallel()

	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-RateLimit-Limit", "10")
		w.Header().Set("X-RateLimit-Remaining", "0")
		w.Header().Set("X-RateLimit-Reset-After", "2.5")
		writeJSON(w, http.StatusOK, []any{})
	})

	_, err := c.GetPinnedMessages(context.Background(), 7)
	require.NoError(t, err)

	b, ok := c.Limiter().Snapshot(ratelimit.RouteKey(http.MethodGet, "/channels/7/pins"))
	require.True(t, ok)
	assert.Equal(t, 10, b.Capacity)
	assert.Equal(t, 0, b.Remaining)
	assert.WithinDuration(t, time.Now().Add(2500*time.Millisecond), b.ResetAt, time.Second)
}

// TestMessagePagination tests walking channel history through the fetcher
func TestMessagePagination(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	var queries []string
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		queries = append(queries, r.URL.RawQuery)
		mu.Unlock()

		before, _ := entity.ParseID(r.URL.Query().Get("before"))
		var page []map[string]any
		for id := min(before-1, 7); id >= 1 && len(page) < 3; id-- {
			page = append(page, map[string]any{"id": id.String(), "channel_id": "40", "author": map[string]any{"id": "2"}, "content": "m", "timestamp": "2024-01-01T00:00:00Z"})
		}
		writeJSON(w, http.StatusOK, page)
	})

	p := paginate.Backwards(func(m entity.Message) entity.ID { return m.ID }, c.MessageFetcher(40))
	p.PageSize = 3
	msgs, err := paginate.Collect(paginate.Paginate(context.Background(), p))
	require.NoError(t, err)

	var ids []entity.ID
	for _, m := range msgs {
		ids = append(ids, m.ID)
	}
	assert.Equal(t, []entity.ID{7, 6, 5, 4, 3, 2, 1}, ids)
	assert.Equal(t, []string{
		"before=9223372036854775807&limit=3",
		"before=5&limit=3",
		"before=2&limit=3",
	}, queries)
}

// TestCancelledWhileLimited tests that waiting on a bucket honours ctx
func TestCancelledWhileLimited(t *testing.T) {
	t.Parallel()

	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	c.Limiter().Lock(ratelimit.RouteKey(http.MethodPost, "/channels/1/typing"), time.Now().Add(time.Minute))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := c.TriggerTyping(ctx, 1)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

// TestNewClientValidation tests configuration errors
func TestNewClientValidation(t *testing.T) {
	t.Parallel()

	_, err := NewClient(Config{})
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = NewClient(Config{Token: "t", MaxRetries: -1})
	assert.ErrorIs(t, err, ErrInvalidConfig)

	c, err := NewClient(Config{Token: "t"})
	require.NoError(t, err)
	assert.Equal(t, DefaultBaseURL, c.baseURL)
	assert.Equal(t, DefaultMaxRetries, c.maxRetries)
}
