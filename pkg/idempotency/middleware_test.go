package idempotency_test

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/pinboard/pkg/apperr"
	"github.com/dmitrymomot/pinboard/pkg/idempotency"
)

func newStore(t *testing.T) (*idempotency.RedisStore, *miniredis.Miniredis) {
	t.Helper()
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return idempotency.NewRedisStore(client, "test:"), srv
}

func countingHandler(calls *atomic.Int32, status int) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = fmt.Fprintf(w, `{"call":%d}`, n)
	})
}

func do(h http.Handler, method, key string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, "/me/pinned-post", nil)
	if key != "" {
		req.Header.Set(idempotency.HeaderKey, key)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestMiddleware_ReplaysResponse(t *testing.T) {
	t.Parallel()

	store, _ := newStore(t)
	var calls atomic.Int32
	h := idempotency.Middleware(store, idempotency.WithLogger(slog.New(slog.DiscardHandler)))(countingHandler(&calls, http.StatusCreated))

	first := do(h, http.MethodPost, "abc")
	second := do(h, http.MethodPost, "abc")

	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, http.StatusCreated, second.Code)
	assert.Equal(t, first.Body.String(), second.Body.String())
	assert.Equal(t, "true", second.Header().Get(idempotency.HeaderReplayed))
	assert.Equal(t, "application/json", second.Header().Get("Content-Type"))

	other := do(h, http.MethodPost, "xyz")
	assert.Equal(t, int32(2), calls.Load())
	assert.JSONEq(t, `{"call":2}`, other.Body.String())
}

func TestMiddleware_PassThrough(t *testing.T) {
	t.Parallel()

	store, _ := newStore(t)
	var calls atomic.Int32
	h := idempotency.Middleware(store)(countingHandler(&calls, http.StatusOK))

	do(h, http.MethodPost, "")
	do(h, http.MethodPost, "")
	do(h, http.MethodGet, "same")
	do(h, http.MethodGet, "same")
	assert.Equal(t, int32(4), calls.Load())
}

func TestMiddleware_ServerErrorsNotStored(t *testing.T) {
	t.Parallel()

	store, _ := newStore(t)
	var calls atomic.Int32
	h := idempotency.Middleware(store)(countingHandler(&calls, http.StatusInternalServerError))

	do(h, http.MethodDelete, "k")
	do(h, http.MethodDelete, "k")
	assert.Equal(t, int32(2), calls.Load())
}

func TestMiddleware_InFlightConflict(t *testing.T) {
	t.Parallel()

	store, _ := newStore(t)
	locked, err := store.Lock(context.Background(), "POST:/me/pinned-post:busy", time.Minute)
	require.NoError(t, err)
	require.True(t, locked)

	var calls atomic.Int32
	h := idempotency.Middleware(store)(countingHandler(&calls, http.StatusOK))

	rec := do(h, http.MethodPost, "busy")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "application/json")
	assert.JSONEq(t, `{"error":{"code":"conflict","message":"conflict: request with this idempotency key is in progress"}}`, rec.Body.String())
	assert.Zero(t, calls.Load())

	t.Run("custom conflict handler", func(t *testing.T) {
		t.Parallel()

		var got error
		h := idempotency.Middleware(store, idempotency.WithConflictHandler(func(w http.ResponseWriter, _ *http.Request, err error) {
			got = err
			w.WriteHeader(http.StatusTeapot)
		}))(countingHandler(&calls, http.StatusOK))

		rec := do(h, http.MethodPost, "busy")
		assert.Equal(t, http.StatusTeapot, rec.Code)
		assert.ErrorIs(t, got, idempotency.ErrInProgress)
		assert.ErrorIs(t, got, apperr.ErrConflict)
		assert.Zero(t, calls.Load())
	})
}

// pausingStore holds the first Get miss until release is closed, leaving a
// window between Get and Lock for a concurrent request to finish.
type pausingStore struct {
	*idempotency.RedisStore
	gets    atomic.Int32
	paused  chan struct{}
	release chan struct{}
}

func (s *pausingStore) Get(ctx context.Context, key string) (*idempotency.Response, error) {
	resp, err := s.RedisStore.Get(ctx, key)
	if s.gets.Add(1) == 1 {
		close(s.paused)
		<-s.release
	}
	return resp, err
}

func TestMiddleware_ReplaysResponseSavedBeforeLock(t *testing.T) {
	t.Parallel()

	redisStore, _ := newStore(t)
	store := &pausingStore{
		RedisStore: redisStore,
		paused:     make(chan struct{}),
		release:    make(chan struct{}),
	}
	var calls atomic.Int32
	h := idempotency.Middleware(store)(countingHandler(&calls, http.StatusCreated))

	late := make(chan *httptest.ResponseRecorder, 1)
	go func() { late <- do(h, http.MethodPost, "race") }()

	<-store.paused
	first := do(h, http.MethodPost, "race")
	require.Equal(t, http.StatusCreated, first.Code)
	close(store.release)

	rec := <-late
	assert.Equal(t, int32(1), calls.Load(), "handler must run once per key")
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, first.Body.String(), rec.Body.String())
	assert.Equal(t, "true", rec.Header().Get(idempotency.HeaderReplayed))
}

func TestMiddleware_KeyFuncScopes(t *testing.T) {
	t.Parallel()

	store, _ := newStore(t)
	var calls atomic.Int32
	h := idempotency.Middleware(store, idempotency.WithKeyFunc(func(r *http.Request, key string) string {
		return r.Header.Get("X-User-ID") + ":" + key
	}))(countingHandler(&calls, http.StatusOK))

	for _, user := range []string{"u1", "u2", "u1"} {
		req := httptest.NewRequest(http.MethodPost, "/x", nil)
		req.Header.Set(idempotency.HeaderKey, "same")
		req.Header.Set("X-User-ID", user)
		h.ServeHTTP(httptest.NewRecorder(), req)
	}
	assert.Equal(t, int32(2), calls.Load())
}

func TestMiddleware_StoreDown(t *testing.T) {
	t.Parallel()

	store, srv := newStore(t)
	srv.Close()

	var calls atomic.Int32
	h := idempotency.Middleware(store, idempotency.WithLogger(slog.New(slog.DiscardHandler)))(countingHandler(&calls, http.StatusOK))

	rec := do(h, http.MethodPost, "k")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int32(1), calls.Load())
}

func TestRedisStore_TTL(t *testing.T) {
	t.Parallel()

	store, srv := newStore(t)
	ctx := context.Background()

	_, err := store.Get(ctx, "k")
	assert.ErrorIs(t, err, idempotency.ErrNotFound)

	require.NoError(t, store.Save(ctx, "k", &idempotency.Response{StatusCode: 201, Body: []byte("ok")}, time.Minute))
	resp, err := store.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, 201, resp.StatusCode)
	assert.Equal(t, []byte("ok"), resp.Body)

	srv.FastForward(2 * time.Minute)
	_, err = store.Get(ctx, "k")
	assert.ErrorIs(t, err, idempotency.ErrNotFound)
}
