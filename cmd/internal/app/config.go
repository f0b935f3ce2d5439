package app

import (
	"time"

	"pulse/cmd/internal/apps"
)

// Config contains all runtime configuration loaded from environment variables.
type Config struct {
	HTTPAddr  string
	LogLevel  string
	LogFormat string

	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int
	ShutdownTimeout   time.Duration

	DatabaseURL string
	DBMaxConns  int32
	DBMinConns  int32
	DBSchema    string

	// If true:
	// - /readyz returns 503 unless DB is configured and reachable.
	ReadinessRequireDB bool

	// Apps are loaded from the file (if any) plus the default app (if a key is set).
	// With a database configured, apps come from Postgres instead.
	AppsFile    string
	AppCacheTTL time.Duration
	DefaultApp  apps.App
	Limits      apps.Defaults

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisChannel  string

	WSSendQueueSize    int
	WSWriteTimeout     time.Duration
	WSReadIdleTimeout  time.Duration
	WSHeartbeatEvery   time.Duration
	WSHeartbeatTimeout time.Duration
	WSRateEvents       int
	WSRateWindow       time.Duration

	APIMaxBodyBytes int64
	APIMaxSkew      time.Duration
}

// LoadConfig loads Config from environment variables with defaults.
func LoadConfig() Config {
	def := apps.DefaultLimits()

	return Config{
		HTTPAddr:  EnvString("PULSE_HTTP_ADDR", "0.0.0.0:6001"),
		LogLevel:  EnvString("PULSE_LOG_LEVEL", "info"),
		LogFormat: EnvString("PULSE_LOG_FORMAT", "json"),

		ReadHeaderTimeout: EnvDuration("PULSE_HTTP_READ_HEADER_TIMEOUT", 5*time.Second),
		ReadTimeout:       EnvDuration("PULSE_HTTP_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:      EnvDuration("PULSE_HTTP_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:       EnvDuration("PULSE_HTTP_IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes:    EnvInt("PULSE_HTTP_MAX_HEADER_BYTES", 1<<20),
		ShutdownTimeout:   EnvDuration("PULSE_SHUTDOWN_TIMEOUT", 10*time.Second),

		DatabaseURL: EnvString("PULSE_DATABASE_URL", ""),
		DBMaxConns:  EnvInt32("PULSE_DB_MAX_CONNS", 10),
		DBMinConns:  EnvInt32("PULSE_DB_MIN_CONNS", 0),
		DBSchema:    EnvString("PULSE_DB_SCHEMA", "pulse"),

		ReadinessRequireDB: EnvBool("PULSE_READINESS_REQUIRE_DB", false),

		AppsFile:    EnvString("PULSE_APPS_FILE", ""),
		AppCacheTTL: EnvDuration("PULSE_APP_CACHE_TTL", 30*time.Second),
		DefaultApp: apps.App{
			ID:                       EnvString("PULSE_DEFAULT_APP_ID", "app-id"),
			Key:                      EnvString("PULSE_DEFAULT_APP_KEY", "app-key"),
			Secret:                   EnvString("PULSE_DEFAULT_APP_SECRET", "app-secret"),
			Enabled:                  EnvBool("PULSE_DEFAULT_APP_ENABLED", true),
			EnableClientMessages:     EnvBool("PULSE_DEFAULT_APP_ENABLE_CLIENT_MESSAGES", false),
			MaxConnections:           EnvInt("PULSE_DEFAULT_APP_MAX_CONNECTIONS", 0),
			MaxClientEventsPerSecond: EnvInt("PULSE_DEFAULT_APP_MAX_CLIENT_EVENTS_PER_SECOND", 0),
			AllowedOrigins:           EnvCSV("PULSE_DEFAULT_APP_ALLOWED_ORIGINS", nil),
		},
		Limits: apps.Defaults{
			ChannelNameMaxLength:    EnvInt("PULSE_CHANNEL_LIMITS_MAX_NAME_LENGTH", def.ChannelNameMaxLength),
			EventNameMaxLength:      EnvInt("PULSE_EVENT_LIMITS_MAX_NAME_LENGTH", def.EventNameMaxLength),
			EventPayloadMaxKB:       EnvFloat("PULSE_EVENT_LIMITS_MAX_PAYLOAD_IN_KB", def.EventPayloadMaxKB),
			EventMaxChannelsAtOnce:  EnvInt("PULSE_EVENT_LIMITS_MAX_CHANNELS_AT_ONCE", def.EventMaxChannelsAtOnce),
			EventMaxBatchSize:       EnvInt("PULSE_EVENT_LIMITS_MAX_BATCH_SIZE", def.EventMaxBatchSize),
			PresenceMemberMaxSizeKB: EnvFloat("PULSE_PRESENCE_MAX_MEMBER_SIZE_IN_KB", def.PresenceMemberMaxSizeKB),
			PresenceMaxMembers:      EnvInt("PULSE_PRESENCE_MAX_MEMBERS_PER_CHANNEL", def.PresenceMaxMembers),
		},

		RedisAddr:     EnvString("PULSE_REDIS_ADDR", ""),
		RedisPassword: EnvString("PULSE_REDIS_PASSWORD", ""),
		RedisDB:       EnvInt("PULSE_REDIS_DB", 0),
		RedisChannel:  EnvString("PULSE_REDIS_CHANNEL", "pulse:broadcasts"),

		WSSendQueueSize:    EnvInt("PULSE_WS_SEND_QUEUE_SIZE", 0),
		WSWriteTimeout:     EnvDuration("PULSE_WS_WRITE_TIMEOUT", 0),
		WSReadIdleTimeout:  EnvDuration("PULSE_WS_READ_IDLE_TIMEOUT", 0),
		WSHeartbeatEvery:   EnvDuration("PULSE_WS_HEARTBEAT_EVERY", 0),
		WSHeartbeatTimeout: EnvDuration("PULSE_WS_HEARTBEAT_TIMEOUT", 0),
		WSRateEvents:       EnvInt("PULSE_WS_RATE_EVENTS", 0),
		WSRateWindow:       EnvDuration("PULSE_WS_RATE_WINDOW", 0),

		APIMaxBodyBytes: int64(EnvInt("PULSE_API_MAX_BODY_BYTES", 10<<20)),
		APIMaxSkew:      EnvDuration("PULSE_API_MAX_SKEW", 600*time.Second),
	}
}
