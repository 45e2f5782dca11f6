package recoverer

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/vadimbarashkov/url-shortener-client/internal/logger"
)

func TestNew(t *testing.T) {
	t.Run("panic", func(t *testing.T) {
		h := New(logger.Discard())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			panic("boom")
		}))

		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.JSONEq(t, `{"data":null,"error":{"status":500,"name":"InternalServerError","message":"Internal Server Error"}}`, rec.Body.String())
	})

	t.Run("no panic", func(t *testing.T) {
		h := New(logger.Discard())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNoContent)
		}))

		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

		assert.Equal(t, http.StatusNoContent, rec.Code)
	})
}
