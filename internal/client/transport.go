package client

import (
	"math/rand"
	"net/http"
	"sync"
	"time"

	"github.com/smart-protocol/smart/config"
)

// DelayConfig specifies latency simulation parameters
type DelayConfig struct {
	Enabled  bool          `json:"enabled"`
	MinDelay time.Duration `json:"min_delay"`
	MaxDelay time.Duration `json:"max_delay"`
}

// DelayedRoundTripper adds a random delay before every request, to
// exercise clients against a slow node
type DelayedRoundTripper struct {
	base   http.RoundTripper
	config DelayConfig

	mu  sync.Mutex
	rng *rand.Rand
}

// NewDelayedRoundTripper wraps base, or http.DefaultTransport if base is nil
func NewDelayedRoundTripper(base http.RoundTripper, cfg DelayConfig) *DelayedRoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}
	return &DelayedRoundTripper{
		base:   base,
		config: cfg,
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (d *DelayedRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	if d.config.Enabled {
		select {
		case <-time.After(d.calculateDelay()):
		case <-req.Context().Done():
			return nil, req.Context().Err()
		}
	}
	return d.base.RoundTrip(req)
}

// calculateDelay returns a random delay within the configured range
func (d *DelayedRoundTripper) calculateDelay() time.Duration {
	lo, hi := d.config.MinDelay, d.config.MaxDelay
	if hi <= lo {
		return lo
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return lo + time.Duration(d.rng.Int63n(int64(hi-lo)))
}

// NewHTTPClient creates an HTTP client, with simulated latency when the
// network config enables it
func NewHTTPClient(cfg config.NetworkConfig, timeout time.Duration) *http.Client {
	transport := http.DefaultTransport
	if cfg.DelayEnabled {
		transport = NewDelayedRoundTripper(transport, DelayConfig{
			Enabled:  true,
			MinDelay: time.Duration(cfg.MinDelayMs) * time.Millisecond,
			MaxDelay: time.Duration(cfg.MaxDelayMs) * time.Millisecond,
		})
	}
	return &http.Client{
		Transport: transport,
		Timeout:   timeout,
	}
}
