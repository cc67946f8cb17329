package config

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/robfig/cron/v3"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateBroker(); err != nil {
		return err
	}
	if err := c.validateStorage(); err != nil {
		return err
	}
	if err := c.validateLimits(); err != nil {
		return err
	}
	if err := c.validateIntake(); err != nil {
		return err
	}
	if err := c.validateReaper(); err != nil {
		return err
	}
	if err := c.validateWorkflow(); err != nil {
		return err
	}
	if err := c.validateConverters(); err != nil {
		return err
	}
	if err := c.validateAPI(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validateBroker() error {
	switch c.Broker.Backend {
	case BrokerSQLite:
	case BrokerRedis:
		if !strings.HasPrefix(c.Broker.RedisURL, "redis://") && !strings.HasPrefix(c.Broker.RedisURL, "rediss://") {
			return fmt.Errorf("broker.redis_url must use redis:// or rediss://, got %q", c.Broker.RedisURL)
		}
		if c.Broker.BlockTimeout <= 0 {
			return errors.New("broker.block_timeout must be positive")
		}
	default:
		return fmt.Errorf("broker.backend must be %q or %q, got %q", BrokerSQLite, BrokerRedis, c.Broker.Backend)
	}
	if c.Broker.ResultTTL <= 0 {
		return errors.New("broker.result_ttl must be positive")
	}
	return nil
}

func (c *Config) validateStorage() error {
	switch c.Storage.Backend {
	case StorageFilesystem:
		if c.Paths.ArtifactDir == "" {
			return errors.New("paths.artifact_dir must be set for the filesystem storage backend")
		}
	case StorageS3:
		if strings.TrimSpace(c.Storage.S3Bucket) == "" {
			return errors.New("storage.s3_bucket must be set when storage.backend is s3")
		}
	default:
		return fmt.Errorf("storage.backend must be %q or %q, got %q", StorageFilesystem, StorageS3, c.Storage.Backend)
	}
	return nil
}

func (c *Config) validateLimits() error {
	return ensurePositiveMap(map[string]int{
		"limits.image_mb":    c.Limits.ImageMB,
		"limits.audio_mb":    c.Limits.AudioMB,
		"limits.video_mb":    c.Limits.VideoMB,
		"limits.document_mb": c.Limits.DocumentMB,
	})
}

func (c *Config) validateIntake() error {
	if c.Intake.MaxFilenameLength < 16 {
		return errors.New("intake.max_filename_length must be at least 16")
	}
	for _, pattern := range c.Intake.DeniedFilenamePatterns {
		if _, err := regexp.Compile(pattern); err != nil {
			return fmt.Errorf("intake.denied_filename_patterns: %q: %w", pattern, err)
		}
	}
	return nil
}

func (c *Config) validateReaper() error {
	if c.Reaper.TTL <= 0 {
		return errors.New("reaper.ttl must be positive")
	}
	if _, err := cron.ParseStandard(c.Reaper.Schedule); err != nil {
		return fmt.Errorf("reaper.schedule: %w", err)
	}
	return nil
}

func (c *Config) validateWorkflow() error {
	if err := ensurePositiveMap(map[string]int{
		"workflow.workers":              c.Workflow.Workers,
		"workflow.queue_poll_interval":  c.Workflow.QueuePollInterval,
		"workflow.error_retry_interval": c.Workflow.ErrorRetryInterval,
		"workflow.heartbeat_interval":   c.Workflow.HeartbeatInterval,
		"workflow.heartbeat_timeout":    c.Workflow.HeartbeatTimeout,
		"workflow.convert_timeout":      c.Workflow.ConvertTimeout,
	}); err != nil {
		return err
	}
	if c.Workflow.HeartbeatTimeout <= c.Workflow.HeartbeatInterval {
		return errors.New("workflow.heartbeat_timeout must be greater than workflow.heartbeat_interval")
	}
	return nil
}

func (c *Config) validateConverters() error {
	if c.Converters.PDFDPI < 72 || c.Converters.PDFDPI > 600 {
		return fmt.Errorf("converters.pdf_dpi must be between 72 and 600, got %d", c.Converters.PDFDPI)
	}
	return nil
}

func (c *Config) validateAPI() error {
	for _, origin := range c.API.CORSOrigins {
		if origin == "*" {
			continue
		}
		u, err := url.Parse(origin)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" || u.Path != "" {
			return fmt.Errorf("api.cors_origins: %q is not an http(s) origin", origin)
		}
	}
	return ensurePositiveMap(map[string]int{
		"api.max_concurrent_uploads": c.API.MaxConcurrentUploads,
		"api.rate_limit_per_minute":  c.API.RateLimitPerMinute,
		"api.rate_limit_burst":       c.API.RateLimitBurst,
		"api.read_timeout":           c.API.ReadTimeout,
		"api.write_timeout":          c.API.WriteTimeout,
	})
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format must be console or json, got %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("logging.level must be debug, info, warn, or error, got %q", c.Logging.Level)
	}
	return nil
}

func ensurePositiveMap(values map[string]int) error {
	for key, value := range values {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
