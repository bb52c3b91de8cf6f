// Package config loads napper's settings from YAML and the environment.
package config

import "time"

// Config is the root configuration, shared by the server and the client
// commands.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Log       LogConfig       `yaml:"log"`
	CORS      CORSConfig      `yaml:"cors"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Stream    StreamConfig    `yaml:"stream"`
	Schedule  ScheduleConfig  `yaml:"schedule"`
	Client    ClientConfig    `yaml:"client"`
}

// ServerConfig holds HTTP server settings. WriteTimeout stays zero by
// default because /api/stream responses are open-ended.
type ServerConfig struct {
	Host            string        `yaml:"host"             env:"SERVER_HOST"             env-default:"0.0.0.0"`
	Port            int           `yaml:"port"             env:"SERVER_PORT"             env-default:"8080"`
	ReadTimeout     time.Duration `yaml:"read_timeout"     env:"SERVER_READ_TIMEOUT"     env-default:"10s"`
	WriteTimeout    time.Duration `yaml:"write_timeout"    env:"SERVER_WRITE_TIMEOUT"    env-default:"0s"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"     env:"SERVER_IDLE_TIMEOUT"     env-default:"120s"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SERVER_SHUTDOWN_TIMEOUT" env-default:"10s"`
	MaxBodyBytes    int64         `yaml:"max_body_bytes"   env:"SERVER_MAX_BODY_BYTES"   env-default:"1048576"`
}

// DatabaseConfig locates the server's event log.
type DatabaseConfig struct {
	Path string `yaml:"path" env:"DATABASE_PATH" env-default:"napper.db"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `yaml:"level"  env:"LOG_LEVEL"  env-default:"info"`
	Format string `yaml:"format" env:"LOG_FORMAT" env-default:"text"`
}

// CORSConfig holds CORS settings.
type CORSConfig struct {
	AllowedOrigins string `yaml:"allowed_origins" env:"CORS_ALLOWED_ORIGINS" env-default:"*"`
	AllowedMethods string `yaml:"allowed_methods" env:"CORS_ALLOWED_METHODS" env-default:"GET,POST,OPTIONS"`
	AllowedHeaders string `yaml:"allowed_headers" env:"CORS_ALLOWED_HEADERS" env-default:"Content-Type,X-Request-Id,X-Client-Id"`
	MaxAge         int    `yaml:"max_age"         env:"CORS_MAX_AGE"         env-default:"86400"`
}

// RateLimitConfig limits mutations per client IP.
type RateLimitConfig struct {
	Enabled         bool          `yaml:"enabled"          env:"RATE_LIMIT_ENABLED"          env-default:"true"`
	RPS             float64       `yaml:"rps"              env:"RATE_LIMIT_RPS"              env-default:"10"`
	Burst           int           `yaml:"burst"            env:"RATE_LIMIT_BURST"            env-default:"30"`
	CleanupInterval time.Duration `yaml:"cleanup_interval" env:"RATE_LIMIT_CLEANUP_INTERVAL" env-default:"1m"`
	IdleTTL         time.Duration `yaml:"idle_ttl"         env:"RATE_LIMIT_IDLE_TTL"         env-default:"3m"`
}

// StreamConfig tunes the push channel.
type StreamConfig struct {
	Heartbeat time.Duration `yaml:"heartbeat" env:"STREAM_HEARTBEAT" env-default:"25s"`
}

// ScheduleConfig sets the zone that day boundaries are computed in.
type ScheduleConfig struct {
	TimeZone string `yaml:"time_zone" env:"SCHEDULE_TIME_ZONE" env-default:"UTC"`

	// Location is TimeZone resolved by Validate.
	Location *time.Location `yaml:"-" env:"-"`
}

// ClientConfig configures the sync agent used by `napper client`.
type ClientConfig struct {
	ServerURL         string        `yaml:"server_url"         env:"CLIENT_SERVER_URL"         env-default:"http://localhost:8080"`
	DataPath          string        `yaml:"data_path"          env:"CLIENT_DATA_PATH"          env-default:"napper-client.db"`
	SuppressWindow    time.Duration `yaml:"suppress_window"    env:"CLIENT_SUPPRESS_WINDOW"    env-default:"1s"`
	OriginSuppression bool          `yaml:"origin_suppression" env:"CLIENT_ORIGIN_SUPPRESSION" env-default:"false"`
	RequestTimeout    time.Duration `yaml:"request_timeout"    env:"CLIENT_REQUEST_TIMEOUT"    env-default:"10s"`
	ReconnectMin      time.Duration `yaml:"reconnect_min"      env:"CLIENT_RECONNECT_MIN"      env-default:"1s"`
	ReconnectMax      time.Duration `yaml:"reconnect_max"      env:"CLIENT_RECONNECT_MAX"      env-default:"30s"`
}
