// Package config defines service configuration structures and loading hooks.
//
// Conventions:
// - Keep fields unexported where possible and use functional options.
// - Provide New() initializer to build a Config with defaults.
// - External errors must be wrapped via this package's error helpers.
package config

import (
	"runtime"
	"time"
)

// Config contains process configuration. Extend as needed.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// Addr configures the ops HTTP listen address, e.g. ":8080".
	Addr string `koanf:"addr"`

	// DatabasePath is the SQLite file backing kills, fleets and characters.
	DatabasePath string `koanf:"database_path"`

	// FeedURL is the upstream kill feed endpoint (RedisQ-style long poll).
	FeedURL string `koanf:"feed_url"`

	// DirectoryURL is the base URL of the id->entity lookup service.
	DirectoryURL string `koanf:"directory_url"`

	// StatsURL is the base URL of the character stats service.
	StatsURL string `koanf:"stats_url"`

	// PollInterval is the delay before the stream poll job re-arms itself.
	PollInterval time.Duration `koanf:"poll_interval"`

	// FleetExpiry is how long a fleet may go unseen before it is expired.
	FleetExpiry time.Duration `koanf:"fleet_expiry"`

	// SweepStaleAfter bounds which active fleets the health sweep visits:
	// only those not updated for at least this long.
	SweepStaleAfter time.Duration `koanf:"sweep_stale_after"`

	// SweepBatchSize bounds how many fleets one health sweep visits.
	SweepBatchSize int `koanf:"sweep_batch_size"`

	// ThreatBatchSize bounds how many fleets one threat recompute visits.
	ThreatBatchSize int `koanf:"threat_batch_size"`

	// DangerBatchSize bounds how many characters one danger refresh visits.
	DangerBatchSize int `koanf:"danger_batch_size"`

	// QueueSize bounds the in-memory kill package queue.
	QueueSize int `koanf:"queue_size"`

	// WorkerCount sets the number of normalizer workers.
	WorkerCount int `koanf:"worker_count"`

	// DedupeSize sets the size of the seen-killID cache.
	DedupeSize int `koanf:"dedupe_size"`

	// ShutdownGrace bounds how long in-flight jobs may run after shutdown.
	ShutdownGrace time.Duration `koanf:"shutdown_grace"`
}

// New creates a Config populated with defaults. The sweep window, batch
// sizes and poll delay default to the values the reconciliation jobs were
// tuned for in production.
func New() *Config {
	return &Config{
		LogLevel:        "info",
		Addr:            ":9080",
		DatabasePath:    "fleettrack.db",
		FeedURL:         "https://redisq.zkillboard.com/listen.php",
		DirectoryURL:    "https://esi.evetech.net/latest",
		StatsURL:        "https://zkillboard.com/api/stats",
		PollInterval:    time.Second,
		FleetExpiry:     5 * time.Minute,
		SweepStaleAfter: 5 * time.Minute,
		SweepBatchSize:  50,
		ThreatBatchSize: 25,
		DangerBatchSize: 10,
		QueueSize:       10_000,
		WorkerCount:     runtime.NumCPU() * 2,
		DedupeSize:      50_000,
		ShutdownGrace:   10 * time.Second,
	}
}
