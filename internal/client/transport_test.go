package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/smart-protocol/smart/config"
)

func okServer(t *testing.T) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(server.Close)
	return server
}

// TestDelayedRoundTripper_Disabled verifies that no delay is added when disabled
func TestDelayedRoundTripper_Disabled(t *testing.T) {
	server := okServer(t)

	transport := NewDelayedRoundTripper(nil, DelayConfig{
		Enabled:  false,
		MinDelay: time.Second,
		MaxDelay: 2 * time.Second,
	})
	client := &http.Client{Transport: transport}

	start := time.Now()
	resp, err := client.Get(server.URL)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	resp.Body.Close()

	if elapsed := time.Since(start); elapsed >= time.Second {
		t.Errorf("Request took too long with disabled delay: %v", elapsed)
	}
}

// TestDelayedRoundTripper_Enabled verifies that every request waits at least MinDelay
func TestDelayedRoundTripper_Enabled(t *testing.T) {
	server := okServer(t)

	minDelay := 20 * time.Millisecond
	transport := NewDelayedRoundTripper(nil, DelayConfig{
		Enabled:  true,
		MinDelay: minDelay,
		MaxDelay: 40 * time.Millisecond,
	})
	client := &http.Client{Transport: transport}

	for i := 0; i < 5; i++ {
		start := time.Now()
		resp, err := client.Get(server.URL)
		if err != nil {
			t.Fatalf("Request %d failed: %v", i, err)
		}
		resp.Body.Close()

		if elapsed := time.Since(start); elapsed < minDelay {
			t.Errorf("Request %d too fast: %v (expected >= %v)", i, elapsed, minDelay)
		}
	}
}

func TestDelayedRoundTripper_DelayRange(t *testing.T) {
	d := NewDelayedRoundTripper(nil, DelayConfig{
		Enabled:  true,
		MinDelay: 10 * time.Millisecond,
		MaxDelay: 50 * time.Millisecond,
	})
	for i := 0; i < 1000; i++ {
		delay := d.calculateDelay()
		if delay < 10*time.Millisecond || delay >= 50*time.Millisecond {
			t.Fatalf("delay %v outside [10ms, 50ms)", delay)
		}
	}

	fixed := NewDelayedRoundTripper(nil, DelayConfig{Enabled: true, MinDelay: 30 * time.Millisecond, MaxDelay: 10 * time.Millisecond})
	if got := fixed.calculateDelay(); got != 30*time.Millisecond {
		t.Errorf("max below min: got %v, want the min delay", got)
	}
}

func TestDelayedRoundTripper_ContextCancelled(t *testing.T) {
	server := okServer(t)

	transport := NewDelayedRoundTripper(nil, DelayConfig{
		Enabled:  true,
		MinDelay: time.Minute,
		MaxDelay: time.Minute,
	})
	client := &http.Client{Transport: transport}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, server.URL, nil)
	if err != nil {
		t.Fatal(err)
	}
	_, err = client.Do(req)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

// TestNewHTTPClient verifies the factory only wraps the transport when delays are enabled
func TestNewHTTPClient(t *testing.T) {
	plain := NewHTTPClient(config.NetworkConfig{DelayEnabled: false, MinDelayMs: 100, MaxDelayMs: 200}, 5*time.Second)
	if _, ok := plain.Transport.(*DelayedRoundTripper); ok {
		t.Error("expected the default transport without delays")
	}
	if plain.Timeout != 5*time.Second {
		t.Errorf("timeout = %v, want 5s", plain.Timeout)
	}

	delayed := NewHTTPClient(config.NetworkConfig{DelayEnabled: true, MinDelayMs: 30, MaxDelayMs: 60}, 5*time.Second)
	rt, ok := delayed.Transport.(*DelayedRoundTripper)
	if !ok {
		t.Fatal("expected a DelayedRoundTripper")
	}
	if rt.config.MinDelay != 30*time.Millisecond || rt.config.MaxDelay != 60*time.Millisecond {
		t.Errorf("unexpected delay config %+v", rt.config)
	}
}
