// Package config loads goharvest's process configuration.
//
// Sources, lowest to highest precedence: built-in defaults, a YAML config
// file, GOHARVEST_* environment variables, runtime overrides passed to Load.
package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	gfconfig "github.com/fulmenhq/gofulmen/config"

	"github.com/3leaps/goharvest/internal/observability"
	"github.com/3leaps/goharvest/pkg/engine"
	"github.com/3leaps/goharvest/pkg/extract"
	s3store "github.com/3leaps/goharvest/pkg/objectstore/s3"
)

// Sink drivers.
const (
	SinkBadger  = "badger"
	SinkSQLite  = "sqlite"
	SinkDiscard = "discard"
)

// Config is the full process configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Engine    EngineConfig    `mapstructure:"engine"`
	Sink      SinkConfig      `mapstructure:"sink"`
	Retention RetentionConfig `mapstructure:"retention"`
	Extract   ExtractConfig   `mapstructure:"extract"`
	Storage   StorageConfig   `mapstructure:"storage"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// Addr returns host:port.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// LoggingConfig configures the server logger.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Profile    string `mapstructure:"profile"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// Observability converts to the logger configuration.
func (l LoggingConfig) Observability() observability.LoggingConfig {
	return observability.LoggingConfig{
		Level:      l.Level,
		Profile:    l.Profile,
		File:       l.File,
		MaxSizeMB:  l.MaxSizeMB,
		MaxBackups: l.MaxBackups,
		MaxAgeDays: l.MaxAgeDays,
		Compress:   l.Compress,
	}
}

// EngineConfig tunes the job engine.
type EngineConfig struct {
	MaxConcurrentJobs int           `mapstructure:"max_concurrent_jobs"`
	ExtractRateLimit  float64       `mapstructure:"extract_rate_limit"`
	WriteAttempts     int           `mapstructure:"write_attempts"`
	RetryDelay        time.Duration `mapstructure:"retry_delay"`
	MaxContentBytes   int           `mapstructure:"max_content_bytes"`
	ScratchDir        string        `mapstructure:"scratch_dir"`
}

// SinkConfig selects where RECORD_STREAM batches are written.
type SinkConfig struct {
	Driver string `mapstructure:"driver"`

	// Path is the badger directory or the sqlite database file.
	Path string `mapstructure:"path"`
}

// RetentionConfig controls eviction of finished jobs.
type RetentionConfig struct {
	TTL           time.Duration `mapstructure:"ttl"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
	ArchiveDir    string        `mapstructure:"archive_dir"`
}

// ExtractConfig tunes file extraction for DIRECTORY_SCAN jobs.
type ExtractConfig struct {
	Timeout      time.Duration `mapstructure:"timeout"`
	MaxFileBytes int64         `mapstructure:"max_file_bytes"`
}

// StorageConfig holds object store connection settings.
type StorageConfig struct {
	S3 S3Config `mapstructure:"s3"`
}

// S3Config configures uploads to s3:// destinations.
type S3Config struct {
	Region          string `mapstructure:"region"`
	Endpoint        string `mapstructure:"endpoint"`
	Profile         string `mapstructure:"profile"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	ForcePathStyle  bool   `mapstructure:"force_path_style"`
}

// Validate checks values that defaults cannot repair.
func (c *Config) Validate() error {
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	switch strings.ToLower(c.Sink.Driver) {
	case SinkBadger, SinkSQLite, SinkDiscard:
	default:
		return fmt.Errorf("sink.driver %q: must be one of %s, %s, %s", c.Sink.Driver, SinkBadger, SinkSQLite, SinkDiscard)
	}
	switch strings.ToLower(c.Logging.Profile) {
	case observability.ProfileStructured, observability.ProfileConsole:
	default:
		return fmt.Errorf("logging.profile %q: must be %s or %s", c.Logging.Profile, observability.ProfileStructured, observability.ProfileConsole)
	}
	if c.Engine.ExtractRateLimit < 0 {
		return fmt.Errorf("engine.extract_rate_limit must be >= 0")
	}
	if c.Retention.TTL < 0 {
		return fmt.Errorf("retention.ttl must be >= 0")
	}
	return nil
}

// EngineOptions converts to engine.Config.
func (c *Config) EngineOptions() engine.Config {
	return engine.Config{
		MaxConcurrentJobs: c.Engine.MaxConcurrentJobs,
		ExtractRateLimit:  c.Engine.ExtractRateLimit,
		WriteAttempts:     c.Engine.WriteAttempts,
		RetryDelay:        c.Engine.RetryDelay,
		MaxContentBytes:   c.Engine.MaxContentBytes,
		ScratchDir:        c.Engine.ScratchDir,
		Retention: engine.RetentionConfig{
			TTL:           c.Retention.TTL,
			SweepInterval: c.Retention.SweepInterval,
			ArchiveDir:    c.Retention.ArchiveDir,
		},
	}
}

// ExtractorOptions converts to extract.Config.
func (c *Config) ExtractorOptions() extract.Config {
	return extract.Config{
		MaxFileBytes: c.Extract.MaxFileBytes,
		Timeout:      c.Extract.Timeout,
	}
}

// S3Options converts to the uploader base config. Bucket is filled per
// destination.
func (c *Config) S3Options() s3store.Config {
	s := c.Storage.S3
	return s3store.Config{
		Region:          s.Region,
		Endpoint:        s.Endpoint,
		Profile:         s.Profile,
		AccessKeyID:     s.AccessKeyID,
		SecretAccessKey: s.SecretAccessKey,
		ForcePathStyle:  s.ForcePathStyle,
	}
}

// DefaultSinkPath returns the on-disk location for a sink driver under the
// application data directory.
func DefaultSinkPath(driver string) string {
	dataDir := gfconfig.GetAppDataDir(appName)
	switch strings.ToLower(driver) {
	case SinkSQLite:
		return filepath.Join(dataDir, "index", "goharvest.db")
	default:
		return filepath.Join(dataDir, "index", "badger")
	}
}
