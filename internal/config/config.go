// Package config loads the engine configuration from a YAML file with
// environment variable overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"backup-orchestrator/internal/archive"
	"backup-orchestrator/internal/backup"
	"backup-orchestrator/internal/notify"
	"backup-orchestrator/internal/storage"
)

// envPrefix namespaces every environment override.
const envPrefix = "BACKUP_ORCHESTRATOR_"

// Config is the full engine configuration.
type Config struct {
	Database      DatabaseConfig     `yaml:"database"`
	Dataset       DatasetConfig      `yaml:"dataset"`
	Storage       []storage.Config   `yaml:"storage"`
	Compression   CompressionConfig  `yaml:"compression"`
	Encryption    EncryptionConfig   `yaml:"encryption"`
	SMTP          *notify.SMTPConfig `yaml:"smtp,omitempty"`
	Scheduler     SchedulerConfig    `yaml:"scheduler"`
	Logging       LoggingConfig      `yaml:"logging"`
	Organizations []Organization     `yaml:"organizations,omitempty"`
}

// DatabaseConfig selects the persistence backend.
type DatabaseConfig struct {
	// Driver is "mysql" or "memory". The memory driver is for tests and
	// single-run invocations; records do not survive the process.
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn,omitempty"`
}

// DatasetConfig locates the tenant entity data when the memory database
// driver is active. The mysql driver reads entities from the same database.
type DatasetConfig struct {
	BasePath string `yaml:"base_path"`
}

// CompressionConfig controls artifact payload compression.
type CompressionConfig struct {
	Algorithm archive.CompressionType `yaml:"algorithm"`
	Level     int                     `yaml:"level"`
}

// EncryptionConfig controls artifact and credential encryption.
type EncryptionConfig struct {
	Enabled   bool   `yaml:"enabled"`
	KeySource string `yaml:"key_source"` // env or file
	KeyEnvVar string `yaml:"key_env_var,omitempty"`
	KeyPath   string `yaml:"key_path,omitempty"`
	// KeyRef is the opaque name records carry for the active key.
	KeyRef string `yaml:"key_ref"`
}

// SchedulerConfig controls the worker loop.
type SchedulerConfig struct {
	PollInterval time.Duration `yaml:"poll_interval"`
}

// LoggingConfig mirrors the logging package's options.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	File       string `yaml:"file,omitempty"`
	ShowCaller bool   `yaml:"show_caller"`
}

// Organization names a tenant this deployment serves. The name backs the
// typed confirmation gate on destructive restores.
type Organization struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// SetDefaults fills zero values with working defaults.
func (c *Config) SetDefaults() {
	if c.Database.Driver == "" {
		c.Database.Driver = "memory"
	}
	if len(c.Storage) == 0 {
		c.Storage = []storage.Config{
			{Disk: "local", Local: &storage.LocalConfig{BasePath: "./backups"}},
		}
	}
	if c.Dataset.BasePath == "" {
		c.Dataset.BasePath = "./data"
	}
	if c.Compression.Algorithm == "" {
		c.Compression.Algorithm = archive.CompressionTypeZstd
	}
	if c.Compression.Level == 0 {
		c.Compression.Level = 3
	}
	if c.Encryption.KeySource == "" {
		c.Encryption.KeySource = "env"
	}
	if c.Encryption.KeyEnvVar == "" {
		c.Encryption.KeyEnvVar = envPrefix + "ENCRYPTION_KEY"
	}
	if c.Encryption.KeyRef == "" {
		c.Encryption.KeyRef = "primary"
	}
	if c.Scheduler.PollInterval == 0 {
		c.Scheduler.PollInterval = time.Minute
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "normal"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}

// LoadFromEnvironment applies environment overrides on top of file values.
func (c *Config) LoadFromEnvironment() {
	if v := os.Getenv(envPrefix + "DB_DRIVER"); v != "" {
		c.Database.Driver = v
	}
	if v := os.Getenv(envPrefix + "DB_DSN"); v != "" {
		c.Database.DSN = v
	}
	if v := os.Getenv(envPrefix + "LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv(envPrefix + "LOG_FILE"); v != "" {
		c.Logging.File = v
	}
	if v := os.Getenv(envPrefix + "ENCRYPTION_ENABLED"); v != "" {
		if enabled, err := strconv.ParseBool(v); err == nil {
			c.Encryption.Enabled = enabled
		}
	}
	if v := os.Getenv(envPrefix + "POLL_INTERVAL"); v != "" {
		if interval, err := time.ParseDuration(v); err == nil {
			c.Scheduler.PollInterval = interval
		}
	}
}

// Validate rejects configurations the engine cannot start with.
func (c *Config) Validate() error {
	errs := &backup.ValidationErrors{}

	switch c.Database.Driver {
	case "memory":
	case "mysql":
		if c.Database.DSN == "" {
			errs.Add("database.dsn", "dsn is required for the mysql driver", "")
		}
	default:
		errs.Add("database.driver", "driver must be mysql or memory", c.Database.Driver)
	}

	if len(c.Storage) == 0 {
		errs.Add("storage", "at least one storage disk is required", "")
	}

	switch c.Compression.Algorithm {
	case archive.CompressionTypeNone, archive.CompressionTypeGzip,
		archive.CompressionTypeLZ4, archive.CompressionTypeZstd:
	default:
		errs.Add("compression.algorithm", "unsupported compression algorithm", string(c.Compression.Algorithm))
	}

	if c.Encryption.Enabled {
		switch c.Encryption.KeySource {
		case "env":
			if c.Encryption.KeyEnvVar == "" {
				errs.Add("encryption.key_env_var", "key_env_var is required for the env key source", "")
			}
		case "file":
			if c.Encryption.KeyPath == "" {
				errs.Add("encryption.key_path", "key_path is required for the file key source", "")
			}
		default:
			errs.Add("encryption.key_source", "key_source must be env or file", c.Encryption.KeySource)
		}
	}

	if c.Scheduler.PollInterval < 0 {
		errs.Add("scheduler.poll_interval", "poll interval cannot be negative", c.Scheduler.PollInterval.String())
	}

	if errs.HasErrors() {
		return errs
	}
	return nil
}

// LoadKey resolves the configured encryption key, or nil when encryption is
// disabled.
func (c *Config) LoadKey() ([]byte, error) {
	if !c.Encryption.Enabled {
		return nil, nil
	}
	switch c.Encryption.KeySource {
	case "env":
		return archive.LoadKeyFromEnv(c.Encryption.KeyEnvVar)
	case "file":
		return archive.LoadKeyFromFile(c.Encryption.KeyPath)
	default:
		return nil, backup.NewConfigurationError(
			fmt.Sprintf("unknown encryption key source %q", c.Encryption.KeySource), nil)
	}
}

// OrgName resolves a configured organization's name for the restore
// confirmation gate.
func (c *Config) OrgName(orgID string) (string, error) {
	for _, org := range c.Organizations {
		if org.ID == orgID {
			return org.Name, nil
		}
	}
	return "", backup.NewNotFoundError(
		fmt.Sprintf("organization %s is not configured", orgID), nil)
}

// Load reads the configuration from path, applies defaults and environment
// overrides, and validates the result. A missing file is not an error; the
// defaults plus environment apply.
func Load(path string) (*Config, error) {
	config := &Config{}

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			data, err := os.ReadFile(path)
			if err != nil {
				return nil, backup.NewConfigurationError(
					fmt.Sprintf("failed to read config file %s", path), err)
			}
			if err := yaml.Unmarshal(data, config); err != nil {
				return nil, backup.NewConfigurationError(
					fmt.Sprintf("failed to parse config file %s", path), err)
			}
		}
	}

	config.SetDefaults()
	config.LoadFromEnvironment()

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}
