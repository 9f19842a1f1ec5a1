package config

const (
	defaultDataDir                  = "~/.local/share/ozonassist"
	defaultLogDir                   = "~/.local/share/ozonassist/logs"
	defaultAttachmentDir            = "~/.local/share/ozonassist/images"
	defaultDatabaseName             = "ozonassist.db"
	defaultBind                     = "127.0.0.1:8972"
	defaultStaleAfterSeconds        = 120
	defaultReapSchedule             = "@every 2m"
	defaultBusyTimeoutMillis        = 5000
	defaultCacheKiB                 = 64000
	defaultImportWorkers            = 4
	defaultMaxUploadMiB             = 32
	defaultNotifyRequestTimeout     = 10
	defaultNotifyDedupWindowSeconds = 60
	defaultLogFormat                = "console"
	defaultLogLevel                 = "info"
	defaultLogRetentionRuns         = 20
	defaultEventBufferSize          = 256
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir:       defaultDataDir,
			LogDir:        defaultLogDir,
			AttachmentDir: defaultAttachmentDir,
		},
		Server: Server{
			Bind:            defaultBind,
			AllowedOrigins:  []string{"*"},
			MaxUploadMiB:    defaultMaxUploadMiB,
			EventBufferSize: defaultEventBufferSize,
		},
		Queue: Queue{
			StaleAfterSeconds: defaultStaleAfterSeconds,
			ReapSchedule:      defaultReapSchedule,
		},
		Store: Store{
			BusyTimeoutMillis: defaultBusyTimeoutMillis,
			CacheKiB:          defaultCacheKiB,
		},
		Attachments: Attachments{
			ImportWorkers: defaultImportWorkers,
		},
		Notifications: Notifications{
			RequestTimeout:     defaultNotifyRequestTimeout,
			TaskFailures:       true,
			Timeouts:           true,
			BatchComplete:      true,
			DedupWindowSeconds: defaultNotifyDedupWindowSeconds,
		},
		Logging: Logging{
			Format:        defaultLogFormat,
			Level:         defaultLogLevel,
			RetentionRuns: defaultLogRetentionRuns,
		},
		Metrics: Metrics{
			Enabled: true,
		},
	}
}
