package config

import (
	"fmt"
	"os"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Host     HostConfig    `yaml:"host"`
	S3       S3Config      `yaml:"s3"`
	Convert  ConvertConfig `yaml:"convert"`
	Batch    BatchConfig   `yaml:"batch"`
	LogLevel string        `yaml:"log_level"`
}

// HostConfig configures the public file-host upload protocol
type HostConfig struct {
	AcquireURL   string `yaml:"acquire_url"`
	StatusURL    string `yaml:"status_url"`
	APIKey       string `yaml:"api_key"`
	PollAttempts int    `yaml:"poll_attempts"`
	PollDelaySec int    `yaml:"poll_delay_sec"`
}

// S3Config configures the alternate S3-compatible backend
type S3Config struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	Secure    bool   `yaml:"secure"`
}

// ConvertConfig configures the link conversion service
type ConvertConfig struct {
	Enabled      bool   `yaml:"enabled"`
	URL          string `yaml:"url"`
	Attempts     int    `yaml:"attempts"`
	BaseDelaySec int    `yaml:"base_delay_sec"`
	MaxDelaySec  int    `yaml:"max_delay_sec"`
}

// BatchConfig represents pipeline-specific configuration
type BatchConfig struct {
	Backend          string `yaml:"backend"` // filehost or s3
	Transform        bool   `yaml:"transform"`
	Archive          bool   `yaml:"archive"`
	Upload           bool   `yaml:"upload"`
	TransformCommand string `yaml:"transform_command"`
	ArchiveCommand   string `yaml:"archive_command"`
	ArchiveFormat    string `yaml:"archive_format"`
	ArchiveLevel     int    `yaml:"archive_level"`
	ArchivePassword  string `yaml:"archive_password"`
	ArchiveParallel  int    `yaml:"archive_parallel"`
	OutputDir        string `yaml:"output_dir"`
	UploadRetries    int    `yaml:"upload_retries"`
	RetryBackoffSec  int    `yaml:"retry_backoff_sec"`
	Checkpoint       string `yaml:"checkpoint"`
	Resume           bool   `yaml:"resume"`
	ShowProgress     bool   `yaml:"show_progress"`
	MetricsAddr      string `yaml:"metrics_addr"`
}

// Load loads configuration from file and command line flags
func Load(configFile string, flags *pflag.FlagSet) (*Config, error) {
	cfg := &Config{
		LogLevel: "info",
		Host: HostConfig{
			PollAttempts: 10,
			PollDelaySec: 30,
		},
		Convert: ConvertConfig{
			Attempts:     30,
			BaseDelaySec: 5,
			MaxDelaySec:  60,
		},
		Batch: BatchConfig{
			Backend:         "filehost",
			Transform:       true,
			Archive:         true,
			Upload:          true,
			ArchiveFormat:   "zip",
			ArchiveLevel:    5,
			ArchiveParallel: 4,
			UploadRetries:   3,
			RetryBackoffSec: 5,
			Checkpoint:      "./packmule.db",
			ShowProgress:    true,
		},
	}

	if configFile != "" {
		if err := loadFromFile(cfg, configFile); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	if err := loadFromFlags(cfg, flags); err != nil {
		return nil, fmt.Errorf("failed to load flags: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func loadFromFile(cfg *Config, filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return err
	}

	return yaml.Unmarshal(data, cfg)
}

func loadFromFlags(cfg *Config, flags *pflag.FlagSet) error {
	if flags == nil {
		return nil
	}

	if flags.Changed("acquire-url") {
		cfg.Host.AcquireURL, _ = flags.GetString("acquire-url")
	}
	if flags.Changed("status-url") {
		cfg.Host.StatusURL, _ = flags.GetString("status-url")
	}
	if flags.Changed("api-key") {
		cfg.Host.APIKey, _ = flags.GetString("api-key")
	}
	if flags.Changed("poll-attempts") {
		cfg.Host.PollAttempts, _ = flags.GetInt("poll-attempts")
	}
	if flags.Changed("poll-delay-sec") {
		cfg.Host.PollDelaySec, _ = flags.GetInt("poll-delay-sec")
	}

	if flags.Changed("s3-endpoint") {
		cfg.S3.Endpoint, _ = flags.GetString("s3-endpoint")
	}
	if flags.Changed("s3-access-key") {
		cfg.S3.AccessKey, _ = flags.GetString("s3-access-key")
	}
	if flags.Changed("s3-secret-key") {
		cfg.S3.SecretKey, _ = flags.GetString("s3-secret-key")
	}
	if flags.Changed("s3-bucket") {
		cfg.S3.Bucket, _ = flags.GetString("s3-bucket")
	}
	if flags.Changed("s3-secure") {
		cfg.S3.Secure, _ = flags.GetBool("s3-secure")
	}

	if flags.Changed("convert") {
		cfg.Convert.Enabled, _ = flags.GetBool("convert")
	}
	if flags.Changed("convert-url") {
		cfg.Convert.URL, _ = flags.GetString("convert-url")
	}
	if flags.Changed("convert-attempts") {
		cfg.Convert.Attempts, _ = flags.GetInt("convert-attempts")
	}

	if flags.Changed("backend") {
		cfg.Batch.Backend, _ = flags.GetString("backend")
	}
	if flags.Changed("transform") {
		cfg.Batch.Transform, _ = flags.GetBool("transform")
	}
	if flags.Changed("archive") {
		cfg.Batch.Archive, _ = flags.GetBool("archive")
	}
	if flags.Changed("upload") {
		cfg.Batch.Upload, _ = flags.GetBool("upload")
	}
	if flags.Changed("transform-command") {
		cfg.Batch.TransformCommand, _ = flags.GetString("transform-command")
	}
	if flags.Changed("archive-command") {
		cfg.Batch.ArchiveCommand, _ = flags.GetString("archive-command")
	}
	if flags.Changed("archive-format") {
		cfg.Batch.ArchiveFormat, _ = flags.GetString("archive-format")
	}
	if flags.Changed("archive-level") {
		cfg.Batch.ArchiveLevel, _ = flags.GetInt("archive-level")
	}
	if flags.Changed("archive-password") {
		cfg.Batch.ArchivePassword, _ = flags.GetString("archive-password")
	}
	if flags.Changed("archive-parallel") {
		cfg.Batch.ArchiveParallel, _ = flags.GetInt("archive-parallel")
	}
	if flags.Changed("output-dir") {
		cfg.Batch.OutputDir, _ = flags.GetString("output-dir")
	}
	if flags.Changed("upload-retries") {
		cfg.Batch.UploadRetries, _ = flags.GetInt("upload-retries")
	}
	if flags.Changed("retry-backoff-sec") {
		cfg.Batch.RetryBackoffSec, _ = flags.GetInt("retry-backoff-sec")
	}
	if flags.Changed("checkpoint") {
		cfg.Batch.Checkpoint, _ = flags.GetString("checkpoint")
	}
	if flags.Changed("resume") {
		cfg.Batch.Resume, _ = flags.GetBool("resume")
	}
	if flags.Changed("show-progress") {
		cfg.Batch.ShowProgress, _ = flags.GetBool("show-progress")
	}
	if flags.Changed("metrics-addr") {
		cfg.Batch.MetricsAddr, _ = flags.GetString("metrics-addr")
	}
	if flags.Changed("log-level") {
		cfg.LogLevel, _ = flags.GetString("log-level")
	}

	return nil
}

func (c *Config) validate() error {
	switch c.Batch.Backend {
	case "filehost":
		if c.Batch.Upload {
			if c.Host.AcquireURL == "" {
				return fmt.Errorf("host acquire URL is required")
			}
			if c.Host.StatusURL == "" {
				return fmt.Errorf("host status URL is required")
			}
		}
	case "s3":
		if c.Batch.Upload {
			if c.S3.Endpoint == "" {
				return fmt.Errorf("s3 endpoint is required")
			}
			if c.S3.AccessKey == "" {
				return fmt.Errorf("s3 access key is required")
			}
			if c.S3.SecretKey == "" {
				return fmt.Errorf("s3 secret key is required")
			}
			if c.S3.Bucket == "" {
				return fmt.Errorf("s3 bucket is required")
			}
		}
	default:
		return fmt.Errorf("unknown backend %q (expected filehost or s3)", c.Batch.Backend)
	}

	if c.Batch.Transform && c.Batch.TransformCommand == "" {
		return fmt.Errorf("transform command is required when the transform phase is enabled")
	}
	if c.Batch.Archive && c.Batch.ArchiveCommand == "" {
		return fmt.Errorf("archive command is required when the archive phase is enabled")
	}
	if c.Batch.ArchiveLevel < 0 || c.Batch.ArchiveLevel > 9 {
		return fmt.Errorf("archive level must be between 0 and 9")
	}
	if c.Batch.ArchiveParallel < 0 {
		return fmt.Errorf("archive parallelism cannot be negative")
	}
	if c.Batch.UploadRetries <= 0 {
		return fmt.Errorf("upload retries must be positive")
	}
	if c.Convert.Enabled && c.Convert.URL == "" {
		return fmt.Errorf("convert URL is required when conversion is enabled")
	}

	return nil
}
