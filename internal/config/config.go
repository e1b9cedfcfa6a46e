package config

import "time"

// Config holds all application configuration.
// It organizes settings into logical groups for better maintainability.
type Config struct {
	Database DatabaseConfig `mapstructure:"database" validate:"required"`
	Log      LogConfig      `mapstructure:"log"      validate:"required"`
	Pool     PoolConfig     `mapstructure:"pool"     validate:"required"`
	Task     TaskConfig     `mapstructure:"task"     validate:"required"`
	Tracing  TracingConfig  `mapstructure:"tracing"`
}

// Database drivers
const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// DatabaseConfig contains all database-related configuration settings.
type DatabaseConfig struct {
	// URL is required for the postgres driver and ignored by the memory driver.
	URL             string        `mapstructure:"url"               validate:"required_if=Driver postgres"`
	Driver          string        `mapstructure:"driver"            validate:"required,oneof=postgres memory"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"    validate:"gte=2"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"    validate:"gte=0,ltefield=MaxOpenConns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime" validate:"gte=0"`
}

// LogConfig contains logging settings.
type LogConfig struct {
	Level string `mapstructure:"level" validate:"required,oneof=debug info warn error"`
}

// PoolConfig bounds the size of single pool operations.
type PoolConfig struct {
	MaxClaimBatch  int `mapstructure:"max_claim_batch"  validate:"gt=0"`
	MaxImportBatch int `mapstructure:"max_import_batch" validate:"gt=0"`
}

// TaskConfig configures the background queue and worker.
type TaskConfig struct {
	QueueSize       int           `mapstructure:"queue_size"       validate:"gt=0"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"gt=0"`
}

// TracingConfig controls span export. Output is "stdout", "stderr" or a file path.
type TracingConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Output  string `mapstructure:"output" validate:"required_if=Enabled true"`
}
