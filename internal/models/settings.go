package models

import "time"

// SessionsConfig holds session tracking settings.
type SessionsConfig struct {
	GracePeriod       time.Duration `yaml:"grace_period"`       // max time since last heartbeat before abandonment is considered
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"` // how often running sessions persist a heartbeat
	DetectInterval    time.Duration `yaml:"detect_interval"`    // how often the abandoned-session scan runs
	LivenessStrategy  string        `yaml:"liveness_strategy"`  // "pid" | "token"
}

// LoggingConfig holds log stream settings.
type LoggingConfig struct {
	FlushInterval   time.Duration `yaml:"flush_interval"`    // periodic flush for non-critical entries
	MaxTotalEntries int           `yaml:"max_total_entries"` // per-session ceiling; later entries are dropped
	MaxBufferBytes  int           `yaml:"max_buffer_bytes"`  // forced flush threshold
	MaxEntryBytes   int           `yaml:"max_entry_bytes"`   // oversized entries are truncated
	RetentionDays   int           `yaml:"retention_days"`    // daily log files older than this are pruned
}

// RecoveryConfig holds recovery coordinator settings.
type RecoveryConfig struct {
	RetryBaseDelay   time.Duration `yaml:"retry_base_delay"`
	RetryMaxDelay    time.Duration `yaml:"retry_max_delay"`
	DefaultTTL       time.Duration `yaml:"default_ttl"`       // checkpoint expiry
	ReapInterval     time.Duration `yaml:"reap_interval"`     // expired-checkpoint reaper
	OperationTimeout time.Duration `yaml:"operation_timeout"` // per recovery attempt
}

// Settings represents global application settings.
// This corresponds to ~/.emberwatch/settings.yaml.
type Settings struct {
	Version  int            `yaml:"version"`
	Root     string         `yaml:"root,omitempty"` // data root override; empty means ~/.emberwatch
	Sessions SessionsConfig `yaml:"sessions"`
	Logging  LoggingConfig  `yaml:"logging"`
	Recovery RecoveryConfig `yaml:"recovery"`
}

// NewSettings creates settings with default values.
func NewSettings() *Settings {
	return &Settings{
		Version: 1,
		Sessions: SessionsConfig{
			GracePeriod:       2 * time.Minute,
			HeartbeatInterval: 15 * time.Second,
			DetectInterval:    60 * time.Second,
			LivenessStrategy:  "pid",
		},
		Logging: LoggingConfig{
			FlushInterval:   100 * time.Millisecond,
			MaxTotalEntries: 10000,
			MaxBufferBytes:  256 * 1024,
			MaxEntryBytes:   16 * 1024,
			RetentionDays:   30,
		},
		Recovery: RecoveryConfig{
			RetryBaseDelay:   500 * time.Millisecond,
			RetryMaxDelay:    30 * time.Second,
			DefaultTTL:       24 * time.Hour,
			ReapInterval:     10 * time.Minute,
			OperationTimeout: 30 * time.Second,
		},
	}
}
