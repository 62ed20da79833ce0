package probe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestProbeSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	p := NewHTTPProber()
	res := p.Probe(context.Background(), API, srv.URL, 2*time.Second)
	if !res.Success {
		t.Fatalf("expected success, got detail %q", res.Detail)
	}
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status=%d want=200", res.StatusCode)
	}
	if res.Detail != "" {
		t.Fatalf("unexpected detail on success: %q", res.Detail)
	}
	if res.Latency <= 0 {
		t.Fatalf("latency not recorded: %v", res.Latency)
	}
}

func TestProbeNon2xxFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	p := NewHTTPProber()
	res := p.Probe(context.Background(), Frontend, srv.URL, 2*time.Second)
	if res.Success {
		t.Fatal("expected failure for HTTP 502")
	}
	if !strings.HasPrefix(res.Detail, DetailStatus) {
		t.Fatalf("detail=%q want %s prefix", res.Detail, DetailStatus)
	}
	if res.StatusCode != http.StatusBadGateway {
		t.Fatalf("status=%d want=502", res.StatusCode)
	}
}

func TestProbeTimeout(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-block
	}))
	defer srv.Close()
	defer close(block)

	p := NewHTTPProber()
	res := p.Probe(context.Background(), API, srv.URL, 50*time.Millisecond)
	if res.Success {
		t.Fatal("expected timeout failure")
	}
	if !strings.HasPrefix(res.Detail, DetailTimeout) {
		t.Fatalf("detail=%q want %s prefix", res.Detail, DetailTimeout)
	}
}

func TestProbeConnectionError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	p := NewHTTPProber()
	res := p.Probe(context.Background(), API, url, time.Second)
	if res.Success {
		t.Fatal("expected failure against closed server")
	}
	if !strings.HasPrefix(res.Detail, DetailConnection) {
		t.Fatalf("detail=%q want %s prefix", res.Detail, DetailConnection)
	}
}
