package config

// Default values for configuration.
const (
	DefaultMaxFileSizeMB          = 50
	DefaultMaxConcurrentDownloads = 5
	DefaultProgressLogInterval    = 100
	DefaultForumTopicsLimit       = 200
	DefaultHistoryPageSize        = 100
	DefaultTimezone               = "Europe/Moscow"
	DefaultDateFormat             = "2006-01-02 15:04:05"
	DefaultOutputPath             = "telegram_export.html"
	DefaultSessionFile            = "tg.session"

	// Logging defaults
	DefaultLogLevel  = "info"
	DefaultLogFormat = "text"
)
