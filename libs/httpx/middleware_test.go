package httpx

import (
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestWithRecoverTurnsPanicInto500(t *testing.T) {
	logger := slog.New(slog.DiscardHandler)
	h := Chain(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}), WithRecover(logger))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("got %d, want %d", rec.Code, http.StatusInternalServerError)
	}
}

func TestWithRecoverPassesThrough(t *testing.T) {
	logger := slog.New(slog.DiscardHandler)
	h := Chain(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}), WithRecover(logger))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusTeapot {
		t.Fatalf("got %d, want %d", rec.Code, http.StatusTeapot)
	}
}
