package config

// Broker and storage backend identifiers.
const (
	BrokerSQLite      = "sqlite"
	BrokerRedis       = "redis"
	StorageFilesystem = "filesystem"
	StorageS3         = "s3"
)

const (
	defaultArtifactDir        = "~/.local/share/convertd/artifacts"
	defaultStateDir           = "~/.local/share/convertd/state"
	defaultLogDir             = "~/.local/share/convertd/logs"
	defaultAPIBind            = "127.0.0.1:8000"
	defaultRedisURL           = "redis://localhost:6379/0"
	defaultStream             = "convertd:jobs"
	defaultGroup              = "convertd-workers"
	defaultBlockTimeout       = 5
	defaultResultTTL          = 86400
	defaultS3Region           = "auto"
	defaultImageMB            = 20
	defaultAudioMB            = 50
	defaultVideoMB            = 200
	defaultDocumentMB         = 10
	defaultMaxFilenameLength  = 100
	defaultReaperTTL          = 900
	defaultReaperSchedule     = "@every 1m"
	defaultWorkers            = 2
	defaultHeartbeatInterval  = 15
	defaultHeartbeatTimeout   = 120
	defaultConvertTimeout     = 600
	defaultFFmpegBinary       = "ffmpeg"
	defaultSofficeBinary      = "soffice"
	defaultPdftoppmBinary     = "pdftoppm"
	defaultPDFDPI             = 200
	defaultMaxUploads         = 16
	defaultRateLimitPerMinute = 10
	defaultRateLimitBurst     = 10
	defaultReadTimeout        = 60
	defaultWriteTimeout       = 60
	defaultLogFormat          = "console"
	defaultLogLevel           = "info"
	defaultLogRetentionDays   = 30
)

// DefaultAllowedMIMEPrefixes lists sniffed content types accepted by the intake gate.
func DefaultAllowedMIMEPrefixes() []string {
	return []string{
		"image/",
		"audio/",
		"video/",
		"application/ogg",
		"application/pdf",
		"application/rtf",
		"text/rtf",
		"text/plain",
		"application/vnd.openxmlformats-officedocument.wordprocessingml",
	}
}

// DefaultDeniedFilenamePatterns lists regular expressions matched against lower-cased
// upload names.
func DefaultDeniedFilenamePatterns() []string {
	return []string{
		`\.(exe|bat|cmd|com|scr|pif|msi|dll|sh|bash|ps1|vbs|js|jar|php\d?|phtml|asp|aspx|jsp|cgi|pl|py|rb)(\.|$)`,
		`<script`,
		`javascript:`,
		`eval\(`,
		`system\(`,
		`exec\(`,
		`\.\.`,
		`[/\\]`,
		`\x00`,
	}
}

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			ArtifactDir: defaultArtifactDir,
			StateDir:    defaultStateDir,
			LogDir:      defaultLogDir,
			APIBind:     defaultAPIBind,
		},
		Broker: Broker{
			Backend:      BrokerSQLite,
			RedisURL:     defaultRedisURL,
			Stream:       defaultStream,
			Group:        defaultGroup,
			BlockTimeout: defaultBlockTimeout,
			ResultTTL:    defaultResultTTL,
		},
		Storage: Storage{
			Backend:  StorageFilesystem,
			S3Region: defaultS3Region,
		},
		Limits: Limits{
			ImageMB:    defaultImageMB,
			AudioMB:    defaultAudioMB,
			VideoMB:    defaultVideoMB,
			DocumentMB: defaultDocumentMB,
		},
		Intake: Intake{
			AllowedMIMEPrefixes:    DefaultAllowedMIMEPrefixes(),
			DeniedFilenamePatterns: DefaultDeniedFilenamePatterns(),
			MaxFilenameLength:      defaultMaxFilenameLength,
		},
		Reaper: Reaper{
			Enabled:  true,
			TTL:      defaultReaperTTL,
			Schedule: defaultReaperSchedule,
		},
		Workflow: Workflow{
			Workers:            defaultWorkers,
			QueuePollInterval:  2,
			ErrorRetryInterval: 10,
			HeartbeatInterval:  defaultHeartbeatInterval,
			HeartbeatTimeout:   defaultHeartbeatTimeout,
			ConvertTimeout:     defaultConvertTimeout,
		},
		Converters: Converters{
			FFmpegBinary:   defaultFFmpegBinary,
			SofficeBinary:  defaultSofficeBinary,
			PdftoppmBinary: defaultPdftoppmBinary,
			PDFDPI:         defaultPDFDPI,
		},
		API: API{
			MaxConcurrentUploads: defaultMaxUploads,
			RateLimitPerMinute:   defaultRateLimitPerMinute,
			RateLimitBurst:       defaultRateLimitBurst,
			ReadTimeout:          defaultReadTimeout,
			WriteTimeout:         defaultWriteTimeout,
		},
		Logging: Logging{
			Format:        defaultLogFormat,
			Level:         defaultLogLevel,
			RetentionDays: defaultLogRetentionDays,
		},
	}
}
