package server

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/adfharrison1/go-db-repl/pkg/api"
	"github.com/adfharrison1/go-db-repl/pkg/repl"
	"github.com/adfharrison1/go-db-repl/pkg/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, addr string) *Server {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	engine, err := storage.NewStorageEngine(storage.WithLogger(logger))
	require.NoError(t, err)
	t.Cleanup(func() { engine.Close() })

	si := repl.New(engine, repl.WithLogger(logger))
	return NewServer(addr, api.NewHandler(si, logger), logger)
}

func TestServerRoutes(t *testing.T) {
	s := newTestServer(t, ":0")

	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, httptest.NewRequest("GET", "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	s.Router().ServeHTTP(w, httptest.NewRequest("GET", "/nowhere", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
	var resp api.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, http.StatusNotFound, resp.Code)

	w = httptest.NewRecorder()
	s.Router().ServeHTTP(w, httptest.NewRequest("POST", "/health", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestStatusRecorder(t *testing.T) {
	w := httptest.NewRecorder()
	rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
	rec.WriteHeader(http.StatusTeapot)
	rec.Flush()

	assert.Equal(t, http.StatusTeapot, rec.status)
	assert.True(t, w.Flushed)
}

func TestServerShutdown(t *testing.T) {
	s := newTestServer(t, "127.0.0.1:0")
	assert.Equal(t, "127.0.0.1:0", s.Addr())

	done := make(chan error, 1)
	go func() { done <- s.ListenAndServe() }()

	// Give the listener a moment before asking it to stop.
	time.Sleep(50 * time.Millisecond)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.Shutdown(ctx))

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
