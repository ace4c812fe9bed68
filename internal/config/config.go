// Package config provides service-level bootstrap configuration.
//
// This is the *service's own* configuration — which search cluster to
// talk to, which connector service_types this replica claims, and the
// polling/heartbeat/concurrency defaults for the orchestrator — as
// distinct from the Connector and SyncJob documents the service
// reconciles, which are persisted in the search cluster itself (see
// package connector and package syncjob).
//
// Store is not on the ingest hot path: it is read once at startup.
// Config changes are not hot-reloaded in v1.
package config

import (
	"context"
	"time"
)

// Store loads and persists the service's bootstrap configuration.
type Store interface {
	// Load reads the configuration. Returns nil config if none exists.
	Load(ctx context.Context) (*Config, error)

	// Save persists the configuration.
	Save(ctx context.Context, cfg *Config) error
}

// Config describes how this replica of the connector service is wired.
type Config struct {
	// SearchCluster holds connection parameters for the opaque
	// search-cluster client (see package searchindex).
	SearchCluster SearchClusterConfig

	// ServiceTypes lists the Source service_types this replica claims
	// connectors for (spec.md §4.7 step 1). Empty means "all types this
	// binary's source registry knows how to construct".
	ServiceTypes []string

	// PollInterval is how often the orchestrator pages the connector
	// index for due work. A quartz-cron string (seconds precision),
	// e.g. "*/30 * * * * *" for every 30 seconds.
	PollInterval string

	// HeartbeatInterval is how often a claimed connector's last_seen is
	// refreshed while a sync is in flight.
	HeartbeatInterval time.Duration

	// StuckJobsThreshold is how stale last_seen must be before another
	// replica's claim is considered abandoned (spec.md §4.7 step 3, §8).
	StuckJobsThreshold time.Duration

	// MaxConcurrentSyncs is loaded and defaulted but not read: the
	// orchestrator services connectors one at a time within each tick.
	MaxConcurrentSyncs int

	// ConcurrentDownloads is passed to the orchestrator, which does not
	// hand it to the bulk coordinator: every sync starts from
	// bulk.DefaultOptions, adjusted only by a Source's TweakBulkOptions.
	ConcurrentDownloads int

	// ChunkSize is passed to the orchestrator, which does not hand it to
	// the bulk coordinator; the batch size comes from bulk.DefaultOptions
	// and TweakBulkOptions.
	ChunkSize int

	// Pipeline is passed to the orchestrator and stored there; no ingest
	// pipeline is applied to the documents the bulk coordinator writes.
	Pipeline string

	// Debug is loaded with the rest of the config but not read; the log
	// level is set from the CLI --debug flag alone.
	Debug bool
}

// SearchClusterConfig holds connection parameters for the search cluster.
type SearchClusterConfig struct {
	Addresses []string
	Username  string
	Password  string
	APIKey    string
}

// DefaultConfig returns conservative defaults matching spec.md's stated
// defaults (concurrent_downloads, pipeline name).
func DefaultConfig() *Config {
	return &Config{
		ServiceTypes:        nil,
		PollInterval:        "*/30 * * * * *",
		HeartbeatInterval:   30 * time.Second,
		StuckJobsThreshold:  5 * time.Minute,
		MaxConcurrentSyncs:  4,
		ConcurrentDownloads: 10,
		ChunkSize:           500,
		Pipeline:            "ent-search-generic-ingestion",
	}
}
