// Package config loads the daemon's tunables: liveness thresholds, the
// local-change batching policy, and remote-construction timeouts
// (spec.md §6). Like the teacher's own CLI context config, a missing
// file is not an error — it just means "use the defaults".
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/buildcache/contenttracker/internal/clusterstate"
)

// Config holds every tunable spec.md §6 names.
type Config struct {
	ActiveToClosed            time.Duration `yaml:"active_to_closed"`
	ActiveToUnavailable       time.Duration `yaml:"active_to_unavailable"`
	ActiveToExpired           time.Duration `yaml:"active_to_expired"`
	ClosedToExpired           time.Duration `yaml:"closed_to_expired"`
	EventBatchSize            int           `yaml:"event_batch_size"`
	EventNagleInterval        time.Duration `yaml:"event_nagle_interval"`
	RemoteConstructionTimeout time.Duration `yaml:"remote_construction_timeout_ms"`
	MaxRemoteWait             time.Duration `yaml:"max_remote_wait_ms"`
	HeartbeatInterval         time.Duration `yaml:"heartbeat_interval"`
	NTPServer                 string        `yaml:"ntp_server"`
	ShardStripes              int           `yaml:"shard_stripes"`
}

// Default returns the daemon's built-in tunables, used whenever no
// config file is present.
func Default() Config {
	return Config{
		ActiveToClosed:            30 * time.Second,
		ActiveToUnavailable:       2 * time.Minute,
		ActiveToExpired:           10 * time.Minute,
		ClosedToExpired:           5 * time.Minute,
		EventBatchSize:            64,
		EventNagleInterval:        10 * time.Millisecond,
		RemoteConstructionTimeout: 10 * time.Second,
		MaxRemoteWait:             30 * time.Second,
		HeartbeatInterval:         5 * time.Second,
		NTPServer:                 "pool.ntp.org",
		ShardStripes:              64,
	}
}

// Load reads path and overlays it onto Default(). A missing file is not
// an error: it returns the defaults unchanged, mirroring the teacher's
// own config.Load semantics for a missing CLI context file.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// Liveness projects the subset of Config the cluster-state machine needs.
func (c Config) Liveness() clusterstate.LivenessConfig {
	return clusterstate.LivenessConfig{
		ActiveToClosed:      c.ActiveToClosed,
		ActiveToExpired:     c.ActiveToExpired,
		ClosedToExpired:     c.ClosedToExpired,
		ActiveToUnavailable: c.ActiveToUnavailable,
	}
}
