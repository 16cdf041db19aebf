package hyperliquid

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestInfoRetriesServerError(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte(`{"BTC":"50000.0","ETH":"3000.0"}`))
	}))
	t.Cleanup(srv.Close)
	c := NewInfoClient(srv.URL, 5*time.Second, zap.NewNop())

	mids, err := c.AllMids(context.Background())
	if err != nil {
		t.Fatalf("allMids after transient failure: %v", err)
	}
	if mids["BTC"] != "50000.0" {
		t.Fatalf("unexpected mids: %v", mids)
	}
	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Fatalf("expected 2 attempts, got %d", got)
	}
}

func TestInfoDoesNotRetryClientErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusUnprocessableEntity)
		w.Write([]byte(`{"error":"unknown query"}`))
	}))
	t.Cleanup(srv.Close)
	c := NewInfoClient(srv.URL, 5*time.Second, zap.NewNop())

	if _, err := c.AllMids(context.Background()); err == nil {
		t.Fatalf("expected error from 422")
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("client errors must not be retried, got %d attempts", got)
	}
}
