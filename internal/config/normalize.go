package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeBroker()
	c.normalizeStorage()
	c.normalizeIntake()
	c.normalizeReaper()
	c.normalizeConverters()
	c.normalizeAPI()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if c.Paths.ArtifactDir, err = expandPath(c.Paths.ArtifactDir); err != nil {
		return fmt.Errorf("paths.artifact_dir: %w", err)
	}
	if c.Paths.StateDir, err = expandPath(c.Paths.StateDir); err != nil {
		return fmt.Errorf("paths.state_dir: %w", err)
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	c.Paths.APIBind = strings.TrimSpace(c.Paths.APIBind)
	if c.Paths.APIBind == "" {
		c.Paths.APIBind = defaultAPIBind
	}
	return nil
}

func (c *Config) normalizeBroker() {
	c.Broker.Backend = strings.ToLower(strings.TrimSpace(c.Broker.Backend))
	if c.Broker.Backend == "" {
		c.Broker.Backend = BrokerSQLite
	}
	if value, ok := lookupEnv("CONVERTD_REDIS_URL", "CELERY_BROKER_URL"); ok {
		c.Broker.RedisURL = value
	}
	c.Broker.RedisURL = strings.TrimSpace(c.Broker.RedisURL)
	if c.Broker.RedisURL == "" {
		c.Broker.RedisURL = defaultRedisURL
	}
	if strings.TrimSpace(c.Broker.Stream) == "" {
		c.Broker.Stream = defaultStream
	}
	if strings.TrimSpace(c.Broker.Group) == "" {
		c.Broker.Group = defaultGroup
	}
	if strings.TrimSpace(c.Broker.Consumer) == "" {
		host, err := os.Hostname()
		if err != nil || host == "" {
			host = "worker"
		}
		c.Broker.Consumer = fmt.Sprintf("%s-%d", host, os.Getpid())
	}
}

func (c *Config) normalizeStorage() {
	c.Storage.Backend = strings.ToLower(strings.TrimSpace(c.Storage.Backend))
	if c.Storage.Backend == "" {
		c.Storage.Backend = StorageFilesystem
	}
	if c.Storage.S3Bucket == "" {
		if value, ok := lookupEnv("CONVERTD_S3_BUCKET"); ok {
			c.Storage.S3Bucket = value
		}
	}
	if c.Storage.S3Endpoint == "" {
		if value, ok := lookupEnv("CONVERTD_S3_ENDPOINT"); ok {
			c.Storage.S3Endpoint = value
		}
	}
	if c.Storage.S3AccessKey == "" {
		if value, ok := lookupEnv("CONVERTD_S3_ACCESS_KEY"); ok {
			c.Storage.S3AccessKey = value
		}
	}
	if c.Storage.S3SecretKey == "" {
		if value, ok := lookupEnv("CONVERTD_S3_SECRET_KEY"); ok {
			c.Storage.S3SecretKey = value
		}
	}
	c.Storage.S3Prefix = strings.TrimLeft(strings.TrimSpace(c.Storage.S3Prefix), "/")
	if c.Storage.S3Prefix != "" && !strings.HasSuffix(c.Storage.S3Prefix, "/") {
		c.Storage.S3Prefix += "/"
	}
	if strings.TrimSpace(c.Storage.S3Region) == "" {
		c.Storage.S3Region = defaultS3Region
	}
}

func (c *Config) normalizeIntake() {
	if len(c.Intake.AllowedMIMEPrefixes) == 0 {
		c.Intake.AllowedMIMEPrefixes = DefaultAllowedMIMEPrefixes()
	}
	prefixes := c.Intake.AllowedMIMEPrefixes[:0]
	for _, prefix := range c.Intake.AllowedMIMEPrefixes {
		prefix = strings.ToLower(strings.TrimSpace(prefix))
		if prefix != "" {
			prefixes = append(prefixes, prefix)
		}
	}
	c.Intake.AllowedMIMEPrefixes = prefixes
	if c.Intake.DeniedFilenamePatterns == nil {
		c.Intake.DeniedFilenamePatterns = DefaultDeniedFilenamePatterns()
	}
}

func (c *Config) normalizeReaper() {
	c.Reaper.Schedule = strings.TrimSpace(c.Reaper.Schedule)
	if c.Reaper.Schedule == "" {
		c.Reaper.Schedule = defaultReaperSchedule
	}
}

func (c *Config) normalizeConverters() {
	if strings.TrimSpace(c.Converters.FFmpegBinary) == "" {
		c.Converters.FFmpegBinary = defaultFFmpegBinary
	}
	if strings.TrimSpace(c.Converters.SofficeBinary) == "" {
		c.Converters.SofficeBinary = defaultSofficeBinary
	}
	if strings.TrimSpace(c.Converters.PdftoppmBinary) == "" {
		c.Converters.PdftoppmBinary = defaultPdftoppmBinary
	}
	if c.Converters.PDFDPI == 0 {
		c.Converters.PDFDPI = defaultPDFDPI
	}
}

func (c *Config) normalizeAPI() {
	origins := c.API.CORSOrigins[:0]
	for _, origin := range c.API.CORSOrigins {
		origin = strings.TrimRight(strings.TrimSpace(origin), "/")
		if origin != "" {
			origins = append(origins, origin)
		}
	}
	c.API.CORSOrigins = origins
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	if c.Logging.RetentionDays < 0 {
		c.Logging.RetentionDays = 0
	}
}

func lookupEnv(keys ...string) (string, bool) {
	for _, key := range keys {
		if value, ok := os.LookupEnv(key); ok && strings.TrimSpace(value) != "" {
			return strings.TrimSpace(value), true
		}
	}
	return "", false
}
