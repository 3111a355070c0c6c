package clusterstate

import "time"

// LivenessConfig carries the inactivity thresholds spec.md §6 lists as
// host-configured keys. Zero values are invalid; use DefaultLivenessConfig
// unless the host's config layer overrides them.
type LivenessConfig struct {
	ActiveToClosed      time.Duration
	ActiveToExpired     time.Duration
	ClosedToExpired     time.Duration
	ActiveToUnavailable time.Duration
}

// DefaultLivenessConfig mirrors the relationship spec.md §5 requires:
// active→expired must be several multiples of the heartbeat interval, and
// strictly after active→closed and active→unavailable.
func DefaultLivenessConfig() LivenessConfig {
	return LivenessConfig{
		ActiveToClosed:      30 * time.Second,
		ActiveToUnavailable: 2 * time.Minute,
		ActiveToExpired:     10 * time.Minute,
		ClosedToExpired:     5 * time.Minute,
	}
}
