package handler_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/pinboard/handler"
	"github.com/dmitrymomot/pinboard/pkg/apperr"
	"github.com/dmitrymomot/pinboard/pkg/binder"
	"github.com/dmitrymomot/pinboard/pkg/logger"
)

type createRequest struct {
	ID   uuid.UUID `path:"id"`
	Name string    `json:"name"`
}

func TestWrap(t *testing.T) {
	t.Parallel()

	id := uuid.New()
	path := binder.Path(func(*http.Request, string) string { return id.String() })

	h := handler.HandlerFunc[handler.Context, createRequest](func(ctx handler.Context, req createRequest) handler.Response {
		if req.Name == "taken" {
			return handler.JSONError(fmt.Errorf("%w: name taken", apperr.ErrConflict))
		}
		return handler.JSON(req, handler.WithJSONStatus(http.StatusCreated))
	})
	wrapped := handler.Wrap(h,
		handler.WithBinders[handler.Context, createRequest](path, binder.JSON()),
		handler.WithErrorHandler[handler.Context, createRequest](handler.NewErrorHandler[handler.Context](logger.Discard())),
	)

	call := func(body string) *httptest.ResponseRecorder {
		r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
		r.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		wrapped(w, r)
		return w
	}

	t.Run("binds path and body", func(t *testing.T) {
		t.Parallel()
		w := call(`{"name":"  Alice "}`)
		assert.Equal(t, http.StatusCreated, w.Code)

		var got struct {
			Data createRequest `json:"data"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
		assert.Equal(t, id, got.Data.ID)
		assert.Equal(t, "Alice", got.Data.Name)
	})

	t.Run("bind error goes through the error handler", func(t *testing.T) {
		t.Parallel()
		w := call(`{"name":`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, w.Body.String(), `"bad_request"`)
	})

	t.Run("domain error", func(t *testing.T) {
		t.Parallel()
		w := call(`{"name":"taken"}`)
		assert.Equal(t, http.StatusConflict, w.Code)
	})
}

func TestWrap_Decorators(t *testing.T) {
	t.Parallel()

	var order []string
	mark := func(name string) handler.Decorator[handler.Context, struct{}] {
		return func(next handler.HandlerFunc[handler.Context, struct{}]) handler.HandlerFunc[handler.Context, struct{}] {
			return func(ctx handler.Context, req struct{}) handler.Response {
				order = append(order, name)
				return next(ctx, req)
			}
		}
	}

	h := handler.Wrap(
		func(handler.Context, struct{}) handler.Response { return handler.Empty() },
		handler.WithDecorators(mark("outer"), mark("inner")),
	)
	w := httptest.NewRecorder()
	h(w, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Empty(t, w.Body.String())
	assert.Equal(t, []string{"outer", "inner"}, order)
}

func TestWrap_NilResponse(t *testing.T) {
	t.Parallel()

	h := handler.Wrap(func(handler.Context, struct{}) handler.Response { return nil })
	w := httptest.NewRecorder()
	h(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestContextValue(t *testing.T) {
	t.Parallel()

	key := handler.NewContextKey("user")
	ctx := context.WithValue(context.Background(), key, 42)

	assert.Equal(t, 42, handler.ContextValue[int](ctx, key))
	assert.Empty(t, handler.ContextValue[string](ctx, key))

	_, ok := handler.ContextValueOK[int](context.Background(), key)
	assert.False(t, ok)
	assert.Equal(t, "user", key.String())
}

func TestEmptyWithStatus(t *testing.T) {
	t.Parallel()

	w := httptest.NewRecorder()
	require.NoError(t, handler.EmptyWithStatus(http.StatusAccepted).Render(w, httptest.NewRequest(http.MethodPost, "/", nil)))
	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Empty(t, w.Header().Get("Content-Type"))
}
