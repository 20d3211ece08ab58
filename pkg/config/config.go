// Package config defines the typed configuration shape the synchronization
// core reads into. Persistence of the underlying key/value pairs is an
// external collaborator; this package only owns the shape and its
// validation.
package config

import "fmt"

// SyncDirection filters which jobs the engine dispatches.
type SyncDirection string

const (
	DirectionBidirectional SyncDirection = "bidirectional"
	DirectionPushOnly      SyncDirection = "push_only"
	DirectionPullOnly      SyncDirection = "pull_only"
)

// ConflictRule tells modules how to resolve a pull-vs-local-change collision.
type ConflictRule string

const (
	ConflictNewestWins ConflictRule = "newest_wins"
	ConflictRemoteWins ConflictRule = "remote_wins"
	ConflictLocalWins  ConflictRule = "local_wins"
)

// Protocol selects the RPC transport variant.
type Protocol string

const (
	ProtocolJSONRPC Protocol = "json-rpc"
	ProtocolXMLRPC  Protocol = "xml-rpc"
)

// SyncConfig holds the sync.* recognised options.
type SyncConfig struct {
	Direction    SyncDirection `json:"direction,omitempty"`
	ConflictRule ConflictRule  `json:"conflict_rule,omitempty"`
	BatchSize    int           `json:"batch_size,omitempty"`
	// Interval is an external scheduler hint; the core never reads it to
	// drive its own ticking.
	Interval string `json:"interval,omitempty"`
	AutoSync bool   `json:"auto_sync,omitempty"`
}

// LogConfig holds the log.* recognised options.
type LogConfig struct {
	Enabled       bool   `json:"enabled,omitempty"`
	MinLevel      string `json:"min_level,omitempty"`
	RetentionDays int    `json:"retention_days,omitempty"`
}

// ConnectionConfig holds the per-tenant ERP connection record, minus the
// encrypted key which lives in the credential store, not in configuration.
type ConnectionConfig struct {
	URL            string   `json:"url,omitempty"`
	Database       string   `json:"database,omitempty"`
	Username       string   `json:"username,omitempty"`
	Protocol       Protocol `json:"protocol,omitempty"`
	TimeoutSeconds int      `json:"timeout_seconds,omitempty"`
}

// Config is the root configuration shape for a tenant.
type Config struct {
	Connection ConnectionConfig `json:"connection,omitempty"`
	Sync       SyncConfig       `json:"sync,omitempty"`
	Log        LogConfig        `json:"log,omitempty"`
}

// Default returns a Config populated with sensible defaults.
func Default() Config {
	return Config{
		Connection: ConnectionConfig{
			Protocol:       ProtocolJSONRPC,
			TimeoutSeconds: 30,
		},
		Sync: SyncConfig{
			Direction:    DirectionBidirectional,
			ConflictRule: ConflictNewestWins,
			BatchSize:    50,
		},
		Log: LogConfig{
			Enabled:       true,
			MinLevel:      "info",
			RetentionDays: 30,
		},
	}
}

// Validate enforces the configuration bounds: batch_size in [1,500],
// retention_days in [1,365], connection timeout in [5,120].
func (c Config) Validate() error {
	if c.Sync.BatchSize < 1 || c.Sync.BatchSize > 500 {
		return fmt.Errorf("sync.batch_size must be in [1,500], got %d", c.Sync.BatchSize)
	}
	if c.Log.RetentionDays < 1 || c.Log.RetentionDays > 365 {
		return fmt.Errorf("log.retention_days must be in [1,365], got %d", c.Log.RetentionDays)
	}
	if c.Connection.TimeoutSeconds != 0 && (c.Connection.TimeoutSeconds < 5 || c.Connection.TimeoutSeconds > 120) {
		return fmt.Errorf("connection timeout_seconds must be in [5,120], got %d", c.Connection.TimeoutSeconds)
	}
	switch c.Sync.Direction {
	case DirectionBidirectional, DirectionPushOnly, DirectionPullOnly, "":
	default:
		return fmt.Errorf("unrecognised sync.direction: %q", c.Sync.Direction)
	}
	switch c.Sync.ConflictRule {
	case ConflictNewestWins, ConflictRemoteWins, ConflictLocalWins, "":
	default:
		return fmt.Errorf("unrecognised sync.conflict_rule: %q", c.Sync.ConflictRule)
	}
	switch c.Connection.Protocol {
	case ProtocolJSONRPC, ProtocolXMLRPC, "":
	default:
		return fmt.Errorf("unrecognised connection protocol: %q", c.Connection.Protocol)
	}
	return nil
}

// AllowsPush reports whether the configured direction permits push jobs.
func (c Config) AllowsPush() bool {
	return c.Sync.Direction != DirectionPullOnly
}

// AllowsPull reports whether the configured direction permits pull jobs.
func (c Config) AllowsPull() bool {
	return c.Sync.Direction != DirectionPushOnly
}
