// Package clusterclock provides the injectable clock the cluster state
// machine and content tracker stamp their operations with, plus an
// optional NTP-skew health sampler; trackerd refreshes it, and no RPC or
// CLI command reports it.
package clusterclock

import "time"

// Clock abstracts time.Now() for deterministic testing, mirroring the
// teacher's network.Clock.
type Clock interface {
	Now() time.Time
}

// RealClock implements Clock using the real system clock.
type RealClock struct{}

// Now returns the current wall-clock time in UTC.
func (RealClock) Now() time.Time { return time.Now().UTC() }
