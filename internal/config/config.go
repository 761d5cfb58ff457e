package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"
)

// EnvPrefix prefixes every environment variable the loader reads.
const EnvPrefix = "VCLASSROOM_"

// ARCHITECTURAL DISCOVERY: Configuration layer serves as system-wide settings coordinator
// Clean separation between configuration management and business logic
type Config struct {
	Env       string           `json:"env"`
	Log       *LogConfig       `json:"log"`
	Database  *DatabaseConfig  `json:"database"`
	HTTP      *HTTPConfig      `json:"http"`
	WebSocket *WebSocketConfig `json:"websocket"`
	Hub       *HubConfig       `json:"hub"`
}

type LogConfig struct {
	// Level overrides the env-derived level when set: debug, info, warn or error.
	Level string `json:"level"`
}

type DatabaseConfig struct {
	Path            string        `json:"path"`
	MaxConnections  int           `json:"max_connections"`
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `json:"conn_max_idle_time"`
	MigrationsPath  string        `json:"migrations_path"`
}

type HTTPConfig struct {
	Host           string        `json:"host"`
	Port           int           `json:"port"`
	ReadTimeout    time.Duration `json:"read_timeout"`
	WriteTimeout   time.Duration `json:"write_timeout"`
	AllowedOrigins []string      `json:"allowed_origins"`
}

// Addr returns host:port for the listener.
func (h *HTTPConfig) Addr() string {
	return net.JoinHostPort(h.Host, strconv.Itoa(h.Port))
}

// FUNCTIONAL DISCOVERY: WebSocket configuration optimized for classroom scenarios
type WebSocketConfig struct {
	PingInterval   time.Duration `json:"ping_interval"`
	ReadTimeout    time.Duration `json:"read_timeout"`
	WriteTimeout   time.Duration `json:"write_timeout"`
	BufferSize     int           `json:"buffer_size"`
	MaxMessageSize int64         `json:"max_message_size"`
}

type HubConfig struct {
	QueueSize int `json:"queue_size"`
	// EventsPerMinute caps bulk inbound events per connection; 0 disables the limit.
	EventsPerMinute int           `json:"events_per_minute"`
	LookupTimeout   time.Duration `json:"lookup_timeout"`
}

// DefaultConfig returns settings for a single classroom server on one host.
func DefaultConfig() *Config {
	return &Config{
		Env: "development",
		Log: &LogConfig{},
		Database: &DatabaseConfig{
			Path:            "./data/vclassroom.db",
			MaxConnections:  10,
			ConnMaxLifetime: time.Hour,
			ConnMaxIdleTime: 10 * time.Minute,
		},
		HTTP: &HTTPConfig{
			Host:           "0.0.0.0",
			Port:           3000,
			ReadTimeout:    30 * time.Second,
			WriteTimeout:   30 * time.Second,
			AllowedOrigins: []string{"*"},
		},
		WebSocket: &WebSocketConfig{
			PingInterval:   30 * time.Second,
			ReadTimeout:    60 * time.Second,
			WriteTimeout:   10 * time.Second,
			BufferSize:     100,
			MaxMessageSize: 1 << 20,
		},
		Hub: &HubConfig{
			QueueSize:       1000,
			EventsPerMinute: 0,
			LookupTimeout:   5 * time.Second,
		},
	}
}

var logLevels = map[string]bool{"": true, "debug": true, "info": true, "warn": true, "warning": true, "error": true}

// Validate rejects settings that would fail at runtime rather than at startup.
func (c *Config) Validate() error {
	if c.Log == nil || c.Database == nil || c.HTTP == nil || c.WebSocket == nil || c.Hub == nil {
		return errors.New("log, database, http, websocket and hub sections are required")
	}
	if !logLevels[strings.ToLower(c.Log.Level)] {
		return fmt.Errorf("unknown log level %q", c.Log.Level)
	}

	if c.Database.Path == "" {
		return errors.New("database path cannot be empty")
	}
	if c.Database.MaxConnections <= 0 {
		return errors.New("database max connections must be positive")
	}
	if c.Database.ConnMaxLifetime <= 0 || c.Database.ConnMaxIdleTime <= 0 {
		return errors.New("database connection lifetimes must be positive")
	}

	// Port 0 binds an ephemeral port.
	if c.HTTP.Port < 0 || c.HTTP.Port > 65535 {
		return errors.New("HTTP port must be between 0 and 65535")
	}
	if c.HTTP.ReadTimeout <= 0 || c.HTTP.WriteTimeout <= 0 {
		return errors.New("HTTP timeouts must be positive")
	}

	if c.WebSocket.PingInterval <= 0 {
		return errors.New("WebSocket ping interval must be positive")
	}
	// TECHNICAL DISCOVERY: a read deadline at or below the ping interval expires
	// before the pong can arrive
	if c.WebSocket.ReadTimeout <= c.WebSocket.PingInterval {
		return errors.New("WebSocket read timeout must exceed the ping interval")
	}
	if c.WebSocket.WriteTimeout <= 0 {
		return errors.New("WebSocket write timeout must be positive")
	}
	if c.WebSocket.BufferSize <= 0 {
		return errors.New("WebSocket buffer size must be positive")
	}
	if c.WebSocket.MaxMessageSize <= 0 {
		return errors.New("WebSocket max message size must be positive")
	}

	if c.Hub.QueueSize <= 0 {
		return errors.New("hub queue size must be positive")
	}
	if c.Hub.EventsPerMinute < 0 {
		return errors.New("hub events per minute cannot be negative")
	}
	if c.Hub.LookupTimeout <= 0 {
		return errors.New("hub lookup timeout must be positive")
	}
	return nil
}

// IsProduction reports whether the deployment runs with env "prod".
func (c *Config) IsProduction() bool {
	return c.Env == "prod" || c.Env == "production"
}

// LoadFromEnv returns defaults overridden by VCLASSROOM_* variables.
// Unparseable values are ignored and the default kept.
func LoadFromEnv() *Config {
	config := DefaultConfig()
	applyEnv(config, os.LookupEnv)
	return config
}

func applyEnv(c *Config, lookup func(string) (string, bool)) {
	str := func(key string, dst *string) {
		if v, ok := lookup(EnvPrefix + key); ok && v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int) {
		if v, ok := lookup(EnvPrefix + key); ok {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}
	dur := func(key string, dst *time.Duration) {
		if v, ok := lookup(EnvPrefix + key); ok {
			if d, err := time.ParseDuration(v); err == nil {
				*dst = d
			}
		}
	}

	str("ENV", &c.Env)
	str("LOG_LEVEL", &c.Log.Level)

	str("DATABASE_PATH", &c.Database.Path)
	str("DATABASE_MIGRATIONS_PATH", &c.Database.MigrationsPath)
	num("DATABASE_MAX_CONNECTIONS", &c.Database.MaxConnections)

	// FUNCTIONAL DISCOVERY: PaaS hosts hand the listen port over as bare PORT
	if v, ok := lookup("PORT"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			c.HTTP.Port = n
		}
	}
	str("HTTP_HOST", &c.HTTP.Host)
	num("HTTP_PORT", &c.HTTP.Port)
	dur("HTTP_READ_TIMEOUT", &c.HTTP.ReadTimeout)
	dur("HTTP_WRITE_TIMEOUT", &c.HTTP.WriteTimeout)
	if v, ok := lookup(EnvPrefix + "HTTP_ALLOWED_ORIGINS"); ok && v != "" {
		c.HTTP.AllowedOrigins = splitList(v)
	}

	dur("WEBSOCKET_PING_INTERVAL", &c.WebSocket.PingInterval)
	dur("WEBSOCKET_READ_TIMEOUT", &c.WebSocket.ReadTimeout)
	dur("WEBSOCKET_WRITE_TIMEOUT", &c.WebSocket.WriteTimeout)
	num("WEBSOCKET_BUFFER_SIZE", &c.WebSocket.BufferSize)
	if v, ok := lookup(EnvPrefix + "WEBSOCKET_MAX_MESSAGE_SIZE"); ok {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			c.WebSocket.MaxMessageSize = n
		}
	}

	num("HUB_QUEUE_SIZE", &c.Hub.QueueSize)
	num("HUB_EVENTS_PER_MINUTE", &c.Hub.EventsPerMinute)
	dur("HUB_LOOKUP_TIMEOUT", &c.Hub.LookupTimeout)
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// ConfigFile represents the JSON structure for file-based configuration
// FUNCTIONAL DISCOVERY: Separate struct for JSON parsing to handle duration strings
type ConfigFile struct {
	Env       string               `json:"env"`
	Log       *LogConfig           `json:"log"`
	Database  *DatabaseConfigFile  `json:"database"`
	HTTP      *HTTPConfigFile      `json:"http"`
	WebSocket *WebSocketConfigFile `json:"websocket"`
	Hub       *HubConfigFile       `json:"hub"`
}

type DatabaseConfigFile struct {
	Path            string `json:"path"`
	MaxConnections  int    `json:"max_connections"`
	ConnMaxLifetime string `json:"conn_max_lifetime"`
	ConnMaxIdleTime string `json:"conn_max_idle_time"`
	MigrationsPath  string `json:"migrations_path"`
}

type HTTPConfigFile struct {
	Host           string   `json:"host"`
	Port           int      `json:"port"`
	ReadTimeout    string   `json:"read_timeout"`
	WriteTimeout   string   `json:"write_timeout"`
	AllowedOrigins []string `json:"allowed_origins"`
}

type WebSocketConfigFile struct {
	PingInterval   string `json:"ping_interval"`
	ReadTimeout    string `json:"read_timeout"`
	WriteTimeout   string `json:"write_timeout"`
	BufferSize     int    `json:"buffer_size"`
	MaxMessageSize int64  `json:"max_message_size"`
}

type HubConfigFile struct {
	QueueSize       int    `json:"queue_size"`
	EventsPerMinute *int   `json:"events_per_minute"`
	LookupTimeout   string `json:"lookup_timeout"`
}

// LoadFromFile reads a JSON file over the defaults and validates the result.
func LoadFromFile(filepath string) (*Config, error) {
	config := DefaultConfig()
	if err := applyFile(config, filepath); err != nil {
		return nil, err
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration in %s: %w", filepath, err)
	}
	return config, nil
}

func applyFile(config *Config, filepath string) error {
	data, err := os.ReadFile(filepath)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", filepath, err)
	}
	var f ConfigFile
	if err := json.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", filepath, err)
	}

	// Zero values leave the current setting alone; a bad duration is an error
	// because the operator wrote it on purpose.
	var errs []error
	dur := func(name, v string, dst *time.Duration) {
		if v == "" {
			return
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
			return
		}
		*dst = d
	}
	setStr := func(v string, dst *string) {
		if v != "" {
			*dst = v
		}
	}
	setInt := func(v int, dst *int) {
		if v > 0 {
			*dst = v
		}
	}

	setStr(f.Env, &config.Env)
	if f.Log != nil {
		setStr(f.Log.Level, &config.Log.Level)
	}
	if d := f.Database; d != nil {
		setStr(d.Path, &config.Database.Path)
		setStr(d.MigrationsPath, &config.Database.MigrationsPath)
		setInt(d.MaxConnections, &config.Database.MaxConnections)
		dur("database.conn_max_lifetime", d.ConnMaxLifetime, &config.Database.ConnMaxLifetime)
		dur("database.conn_max_idle_time", d.ConnMaxIdleTime, &config.Database.ConnMaxIdleTime)
	}
	if h := f.HTTP; h != nil {
		setStr(h.Host, &config.HTTP.Host)
		setInt(h.Port, &config.HTTP.Port)
		dur("http.read_timeout", h.ReadTimeout, &config.HTTP.ReadTimeout)
		dur("http.write_timeout", h.WriteTimeout, &config.HTTP.WriteTimeout)
		if len(h.AllowedOrigins) > 0 {
			config.HTTP.AllowedOrigins = h.AllowedOrigins
		}
	}
	if w := f.WebSocket; w != nil {
		dur("websocket.ping_interval", w.PingInterval, &config.WebSocket.PingInterval)
		dur("websocket.read_timeout", w.ReadTimeout, &config.WebSocket.ReadTimeout)
		dur("websocket.write_timeout", w.WriteTimeout, &config.WebSocket.WriteTimeout)
		setInt(w.BufferSize, &config.WebSocket.BufferSize)
		if w.MaxMessageSize > 0 {
			config.WebSocket.MaxMessageSize = w.MaxMessageSize
		}
	}
	if h := f.Hub; h != nil {
		setInt(h.QueueSize, &config.Hub.QueueSize)
		// A pointer so an explicit 0 can disable the limit.
		if h.EventsPerMinute != nil {
			config.Hub.EventsPerMinute = *h.EventsPerMinute
		}
		dur("hub.lookup_timeout", h.LookupTimeout, &config.Hub.LookupTimeout)
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid durations in %s: %w", filepath, err)
	}
	return nil
}

// LoadConfigWithPrecedence layers file over environment over defaults.
// An empty filepath skips the file; a named file that cannot be read is an error.
func LoadConfigWithPrecedence(filepath string) (*Config, error) {
	config := LoadFromEnv()
	if filepath != "" {
		if err := applyFile(config, filepath); err != nil {
			return nil, err
		}
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return config, nil
}
