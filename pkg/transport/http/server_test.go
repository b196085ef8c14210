package http

import (
	"context"
	"encoding/json"
	"net"
	gohttp "net/http"
	"strings"
	"testing"
	"time"

	"github.com/sandpit-dev/sandpit/pkg/api"
)

// startServer binds an ephemeral port and runs srv on it, returning the
// address to dial. The server is shut down when the test finishes.
func startServer(t *testing.T, srv *Server) string {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen error: %v", err)
	}

	go srv.Serve(ln)
	time.Sleep(50 * time.Millisecond)

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	})

	return ln.Addr().String()
}

func TestServerAcceptsBatches(t *testing.T) {
	srv := NewServer(&fakeManager{}, nil, ServerConfig{})
	addr := startServer(t, srv)

	resp, err := gohttp.Post("http://"+addr+"/v1/sessions/scratch/batch", "application/json",
		strings.NewReader(`{"code": "1 + 1"}`))
	if err != nil {
		t.Fatalf("POST error: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != gohttp.StatusOK {
		t.Errorf("status = %d, want %d", resp.StatusCode, gohttp.StatusOK)
	}

	var got api.BatchResult
	json.NewDecoder(resp.Body).Decode(&got)
	if got.SessionID != "sess_fake0000000000000000000" {
		t.Errorf("session_id = %q", got.SessionID)
	}
}

func TestServerShutdownDrainsInFlightBatch(t *testing.T) {
	slow := &fakeManager{
		batchFn: func(ctx context.Context, handle string, req *api.BatchRequest) (*api.BatchResult, error) {
			select {
			case <-time.After(200 * time.Millisecond):
				return &api.BatchResult{SessionID: "sess_graceful000000000000000"}, nil
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		},
	}

	srv := NewServer(slow, nil, ServerConfig{DrainTimeout: 5 * time.Second})

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen error: %v", err)
	}
	addr := ln.Addr().String()

	go srv.Serve(ln)
	time.Sleep(50 * time.Millisecond)

	responseCh := make(chan int, 1)
	go func() {
		resp, err := gohttp.Post("http://"+addr+"/v1/sessions/scratch/batch", "application/json",
			strings.NewReader("{}"))
		if err != nil {
			responseCh <- 0
			return
		}
		defer resp.Body.Close()
		responseCh <- resp.StatusCode
	}()

	time.Sleep(50 * time.Millisecond)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	srv.Shutdown(ctx)

	if status := <-responseCh; status != gohttp.StatusOK {
		t.Errorf("slow request status = %d, want %d", status, gohttp.StatusOK)
	}
}

func TestServerConfigDefaults(t *testing.T) {
	cfg := ServerConfig{}
	cfg.fill()

	if cfg.Addr != ":8080" {
		t.Errorf("addr = %q, want :8080", cfg.Addr)
	}
	if cfg.MaxBodySize != 10<<20 {
		t.Errorf("max body size = %d, want %d", cfg.MaxBodySize, 10<<20)
	}
	if cfg.DrainTimeout != 30*time.Second {
		t.Errorf("drain timeout = %v, want 30s", cfg.DrainTimeout)
	}
	if cfg.Logger == nil {
		t.Error("logger not defaulted")
	}
}

func TestServerOuterMiddleware(t *testing.T) {
	srv := NewServer(&fakeManager{}, nil, ServerConfig{
		Wrap: func(next gohttp.Handler) gohttp.Handler {
			return gohttp.HandlerFunc(func(w gohttp.ResponseWriter, r *gohttp.Request) {
				w.Header().Set("X-Wrapped", "yes")
				next.ServeHTTP(w, r)
			})
		},
	})
	addr := startServer(t, srv)

	resp, err := gohttp.Get("http://" + addr + "/healthz")
	if err != nil {
		t.Fatalf("GET error: %v", err)
	}
	defer resp.Body.Close()

	if got := resp.Header.Get("X-Wrapped"); got != "yes" {
		t.Errorf("X-Wrapped = %q, want yes", got)
	}
}
