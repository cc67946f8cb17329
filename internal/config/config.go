package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and bind address configuration.
type Paths struct {
	ArtifactDir string `toml:"artifact_dir"`
	StateDir    string `toml:"state_dir"`
	LogDir      string `toml:"log_dir"`
	APIBind     string `toml:"api_bind"`
}

// Broker selects and configures the job queue backend.
type Broker struct {
	Backend      string `toml:"backend"`
	RedisURL     string `toml:"redis_url"`
	Stream       string `toml:"stream"`
	Group        string `toml:"group"`
	Consumer     string `toml:"consumer"`
	BlockTimeout int    `toml:"block_timeout"`
	ResultTTL    int    `toml:"result_ttl"`
}

// Storage selects and configures the artifact backend.
type Storage struct {
	Backend     string `toml:"backend"`
	S3Bucket    string `toml:"s3_bucket"`
	S3Prefix    string `toml:"s3_prefix"`
	S3Endpoint  string `toml:"s3_endpoint"`
	S3Region    string `toml:"s3_region"`
	S3PathStyle bool   `toml:"s3_path_style"`
	S3AccessKey string `toml:"s3_access_key"`
	S3SecretKey string `toml:"s3_secret_key"`
}

// Limits holds the per-category upload ceilings in MiB.
type Limits struct {
	ImageMB    int `toml:"image_mb"`
	AudioMB    int `toml:"audio_mb"`
	VideoMB    int `toml:"video_mb"`
	DocumentMB int `toml:"document_mb"`
}

// Intake configures the upload validation gate.
type Intake struct {
	AllowedMIMEPrefixes    []string `toml:"allowed_mime_prefixes"`
	DeniedFilenamePatterns []string `toml:"denied_filename_patterns"`
	MaxFilenameLength      int      `toml:"max_filename_length"`
}

// Reaper configures artifact eviction.
type Reaper struct {
	Enabled  bool   `toml:"enabled"`
	TTL      int    `toml:"ttl"`
	Schedule string `toml:"schedule"`
}

// Workflow contains worker pool sizing and timing.
type Workflow struct {
	Workers            int  `toml:"workers"`
	QueuePollInterval  int  `toml:"queue_poll_interval"`
	ErrorRetryInterval int  `toml:"error_retry_interval"`
	HeartbeatInterval  int  `toml:"heartbeat_interval"`
	HeartbeatTimeout   int  `toml:"heartbeat_timeout"`
	ReclaimStale       bool `toml:"reclaim_stale"`
	ConvertTimeout     int  `toml:"convert_timeout"`
}

// Converters names the external binaries used by the media and document converters.
type Converters struct {
	FFmpegBinary   string `toml:"ffmpeg_binary"`
	SofficeBinary  string `toml:"soffice_binary"`
	PdftoppmBinary string `toml:"pdftoppm_binary"`
	// PDFDPI is the resolution PDF pages are rendered at for image targets.
	PDFDPI int `toml:"pdf_dpi"`
}

// API contains HTTP surface tuning.
type API struct {
	MaxConcurrentUploads int `toml:"max_concurrent_uploads"`
	RateLimitPerMinute   int `toml:"rate_limit_per_minute"`
	RateLimitBurst       int `toml:"rate_limit_burst"`
	ReadTimeout          int `toml:"read_timeout"`
	WriteTimeout         int `toml:"write_timeout"`
	// CORSOrigins lists browser origins allowed to call the API. Empty
	// disables CORS headers.
	CORSOrigins []string `toml:"cors_origins"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format        string `toml:"format"`
	Level         string `toml:"level"`
	RetentionDays int    `toml:"retention_days"`
}

// Config encapsulates all configuration values for convertd.
//
// Configuration sections by subsystem:
//   - Paths: artifact/state/log directories and API bind address
//   - Broker: sqlite or redis job queue
//   - Storage: filesystem or s3 artifact store
//   - Limits: per-category upload ceilings
//   - Intake: upload screening rules
//   - Reaper: artifact TTL and schedule
//   - Workflow: worker pool and heartbeat timing
//   - Converters: external binary names
//   - API: rate limiting and server timeouts
//   - Logging: log format and level
type Config struct {
	Paths      Paths      `toml:"paths"`
	Broker     Broker     `toml:"broker"`
	Storage    Storage    `toml:"storage"`
	Limits     Limits     `toml:"limits"`
	Intake     Intake     `toml:"intake"`
	Reaper     Reaper     `toml:"reaper"`
	Workflow   Workflow   `toml:"workflow"`
	Converters Converters `toml:"converters"`
	API        API        `toml:"api"`
	Logging    Logging    `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/convertd/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	// A missing .env is the common case.
	_ = godotenv.Load()

	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("convertd.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation.
// The artifact directory is only created for the filesystem backend.
func (c *Config) EnsureDirectories() error {
	dirs := []string{c.Paths.StateDir, c.Paths.LogDir}
	if c.Storage.Backend == StorageFilesystem {
		dirs = append(dirs, c.Paths.ArtifactDir)
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// QueueDBPath returns the SQLite queue database location.
func (c *Config) QueueDBPath() string {
	return filepath.Join(c.Paths.StateDir, "queue.db")
}

// LockPath returns the daemon single-instance lock file.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.StateDir, "convertd.lock")
}

// ReaperLockPath returns the lock file shared by concurrent reapers.
func (c *Config) ReaperLockPath() string {
	return filepath.Join(c.Paths.StateDir, "reaper.lock")
}

// ArtifactTTL returns the reaper eviction threshold.
func (c *Config) ArtifactTTL() time.Duration {
	return time.Duration(c.Reaper.TTL) * time.Second
}

// ResultTTL returns how long finished job records are retained by the broker.
func (c *Config) ResultTTL() time.Duration {
	return time.Duration(c.Broker.ResultTTL) * time.Second
}

// ConvertTimeout returns the deadline applied to each converter call.
func (c *Config) ConvertTimeout() time.Duration {
	return time.Duration(c.Workflow.ConvertTimeout) * time.Second
}

// MaxUploadBytes returns the largest per-category ceiling, used to bound request reads.
func (c *Config) MaxUploadBytes() int64 {
	largest := c.Limits.ImageMB
	for _, mb := range []int{c.Limits.AudioMB, c.Limits.VideoMB, c.Limits.DocumentMB} {
		if mb > largest {
			largest = mb
		}
	}
	return int64(largest) << 20
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
