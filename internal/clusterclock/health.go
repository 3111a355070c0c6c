package clusterclock

import (
	"log/slog"
	"sync"
	"time"

	"github.com/beevik/ntp"
)

// Health is a point-in-time read of clock skew against an NTP reference,
// cached by HealthSampler and returned by Last. No RPC or trackerctl
// command reports it.
type Health struct {
	OffsetMs float64
	Healthy  bool
	Err      string
}

// HealthSampler periodically queries an NTP server and caches the last
// reading; heartbeats and stamps themselves never block on it — it is a
// diagnostic side channel only.
type HealthSampler struct {
	server string
	mu     sync.Mutex
	last   Health
}

// NewHealthSampler creates a sampler against server (e.g. "pool.ntp.org").
func NewHealthSampler(server string) *HealthSampler {
	return &HealthSampler{server: server, last: Health{Healthy: true}}
}

// Sample queries the configured NTP server with a short timeout and
// caches the result. Failures are logged at Debug and leave Healthy
// false with the error recorded, never panicking — this is best-effort
// diagnostics, not a correctness dependency.
func (h *HealthSampler) Sample() Health {
	resp, err := ntp.QueryWithOptions(h.server, ntp.QueryOptions{Timeout: 2 * time.Second})
	h.mu.Lock()
	defer h.mu.Unlock()
	if err != nil {
		h.last = Health{Healthy: false, Err: err.Error()}
		slog.Debug("clusterclock: ntp query failed", "server", h.server, "err", err)
		return h.last
	}
	h.last = Health{OffsetMs: float64(resp.ClockOffset.Microseconds()) / 1000.0, Healthy: true}
	return h.last
}

// Last returns the most recently cached Health without querying again.
func (h *HealthSampler) Last() Health {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.last
}
