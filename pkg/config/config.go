package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"schoolportal-backend/pkg/env"
)

// Ring timeout bounds accepted by Validate
const (
	MinRingTimeout = 5 * time.Second
	MaxRingTimeout = 120 * time.Second
)

// Call log backends
const (
	CallLogBackendCockroach = "cockroach"
	CallLogBackendCassandra = "cassandra"
	CallLogBackendNone      = "none"
)

// Config holds all configuration for the call service
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Cassandra CassandraConfig `yaml:"cassandra"`
	Redis     RedisConfig     `yaml:"redis"`
	JWT       JWTConfig       `yaml:"jwt"`
	Log       LogConfig       `yaml:"log"`
	Call      CallConfig      `yaml:"call"`
	WebSocket WebSocketConfig `yaml:"websocket"`
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port           int      `yaml:"port"`
	Environment    string   `yaml:"environment"` // development, staging, production
	ServiceName    string   `yaml:"service_name"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// DatabaseConfig holds CockroachDB configuration
type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Name     string `yaml:"name"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}

// CassandraConfig holds Cassandra configuration
type CassandraConfig struct {
	Hosts    []string      `yaml:"hosts"`
	Keyspace string        `yaml:"keyspace"`
	Username string        `yaml:"username"`
	Password string        `yaml:"password"`
	Timeout  time.Duration `yaml:"timeout"`
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host     string        `yaml:"host"`
	Port     int           `yaml:"port"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	PoolSize int           `yaml:"pool_size"`
	Timeout  time.Duration `yaml:"timeout"`
}

// JWTConfig holds token validation settings
type JWTConfig struct {
	Secret   string `yaml:"secret"`
	Audience string `yaml:"audience"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level    string `yaml:"level"`  // debug, info, warn, error
	Format   string `yaml:"format"` // json, text
	Output   string `yaml:"output"` // stdout, file
	FilePath string `yaml:"file_path"`
}

// CallConfig holds call orchestration settings
type CallConfig struct {
	// RingTimeout is how long an invited participant may ring before the
	// invitation is marked missed.
	RingTimeout           time.Duration `yaml:"ring_timeout"`
	MaxParticipants       int           `yaml:"max_participants"`
	MaxSignalPayloadBytes int           `yaml:"max_signal_payload_bytes"`
	TombstoneTTL          time.Duration `yaml:"tombstone_ttl"`
	CallLogBackend        string        `yaml:"call_log_backend"`
	CallLogWriteTimeout   time.Duration `yaml:"call_log_write_timeout"`
}

// WebSocketConfig holds duplex channel settings
type WebSocketConfig struct {
	MaxConnections int           `yaml:"max_connections"`
	PingInterval   time.Duration `yaml:"ping_interval"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	SendBuffer     int           `yaml:"send_buffer"`
}

// Default returns the configuration used when nothing is overridden
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:        8085,
			Environment: "development",
			ServiceName: "call-service",
			AllowedOrigins: []string{
				"http://localhost:3000",
				"http://127.0.0.1:3000",
			},
		},
		Database: DatabaseConfig{
			Host:     "localhost",
			Port:     26257,
			User:     "root",
			Name:     "schoolportal",
			SSLMode:  "disable",
			MaxConns: 25,
			MinConns: 5,
		},
		Cassandra: CassandraConfig{
			Hosts:    []string{"localhost"},
			Keyspace: "schoolportal_calls",
			Timeout:  600 * time.Millisecond,
		},
		Redis: RedisConfig{
			Host:     "localhost",
			Port:     6379,
			PoolSize: 10,
			Timeout:  5 * time.Second,
		},
		JWT: JWTConfig{
			Audience: "schoolportal-api",
		},
		Log: LogConfig{
			Level:    "info",
			Format:   "json",
			Output:   "stdout",
			FilePath: "/logs/call-service.log",
		},
		Call: CallConfig{
			RingTimeout:           30 * time.Second,
			MaxParticipants:       8,
			MaxSignalPayloadBytes: 64 * 1024,
			TombstoneTTL:          10 * time.Minute,
			CallLogBackend:        CallLogBackendCockroach,
			CallLogWriteTimeout:   5 * time.Second,
		},
		WebSocket: WebSocketConfig{
			MaxConnections: 1000,
			PingInterval:   54 * time.Second,
			WriteTimeout:   10 * time.Second,
			SendBuffer:     256,
		},
	}
}

// Load builds the configuration from defaults, environment variables and the
// optional YAML file named by CALL_SERVICE_CONFIG, in that order.
func Load() (*Config, error) {
	cfg := Default()
	cfg.applyEnv()

	if path := os.Getenv("CALL_SERVICE_CONFIG"); path != "" {
		if err := cfg.LoadFile(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadFile overlays the YAML file at path onto cfg. Keys absent from the
// file keep their current values.
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.Server.Port = env.GetInt("PORT", c.Server.Port)
	c.Server.Environment = env.GetString("ENV", c.Server.Environment)
	c.Server.ServiceName = env.GetString("SERVICE_NAME", c.Server.ServiceName)
	c.Server.AllowedOrigins = env.GetStringSlice("CORS_ALLOWED_ORIGINS", c.Server.AllowedOrigins)

	c.Database.Host = env.GetString("DB_HOST", c.Database.Host)
	c.Database.Port = env.GetInt("DB_PORT", c.Database.Port)
	c.Database.User = env.GetString("DB_USER", c.Database.User)
	c.Database.Password = env.GetStringFromFile("DB_PASSWORD", c.Database.Password)
	c.Database.Name = env.GetString("DB_NAME", c.Database.Name)
	c.Database.SSLMode = env.GetString("DB_SSL_MODE", c.Database.SSLMode)
	c.Database.MaxConns = env.GetInt("DB_MAX_CONNS", c.Database.MaxConns)
	c.Database.MinConns = env.GetInt("DB_MIN_CONNS", c.Database.MinConns)

	c.Cassandra.Hosts = env.GetStringSlice("CASSANDRA_HOSTS", c.Cassandra.Hosts)
	c.Cassandra.Keyspace = env.GetString("CASSANDRA_KEYSPACE", c.Cassandra.Keyspace)
	c.Cassandra.Username = env.GetString("CASSANDRA_USER", c.Cassandra.Username)
	c.Cassandra.Password = env.GetStringFromFile("CASSANDRA_PASSWORD", c.Cassandra.Password)
	c.Cassandra.Timeout = env.GetDuration("CASSANDRA_TIMEOUT", c.Cassandra.Timeout)

	c.Redis.Host = env.GetString("REDIS_HOST", c.Redis.Host)
	c.Redis.Port = env.GetInt("REDIS_PORT", c.Redis.Port)
	c.Redis.Password = env.GetStringFromFile("REDIS_PASSWORD", c.Redis.Password)
	c.Redis.DB = env.GetInt("REDIS_DB", c.Redis.DB)
	c.Redis.PoolSize = env.GetInt("REDIS_POOL_SIZE", c.Redis.PoolSize)
	c.Redis.Timeout = env.GetDuration("REDIS_TIMEOUT", c.Redis.Timeout)

	c.JWT.Secret = env.GetStringFromFile("JWT_SECRET", c.JWT.Secret)
	c.JWT.Audience = env.GetString("JWT_AUDIENCE", c.JWT.Audience)

	c.Log.Level = env.GetString("LOG_LEVEL", c.Log.Level)
	c.Log.Format = env.GetString("LOG_FORMAT", c.Log.Format)
	c.Log.Output = env.GetString("LOG_OUTPUT", c.Log.Output)
	c.Log.FilePath = env.GetString("LOG_FILE_PATH", c.Log.FilePath)

	c.Call.RingTimeout = env.GetDuration("CALL_RING_TIMEOUT", c.Call.RingTimeout)
	c.Call.MaxParticipants = env.GetInt("CALL_MAX_PARTICIPANTS", c.Call.MaxParticipants)
	c.Call.MaxSignalPayloadBytes = env.GetInt("CALL_MAX_SIGNAL_PAYLOAD_BYTES", c.Call.MaxSignalPayloadBytes)
	c.Call.TombstoneTTL = env.GetDuration("CALL_TOMBSTONE_TTL", c.Call.TombstoneTTL)
	c.Call.CallLogBackend = env.GetString("CALL_LOG_BACKEND", c.Call.CallLogBackend)
	c.Call.CallLogWriteTimeout = env.GetDuration("CALL_LOG_WRITE_TIMEOUT", c.Call.CallLogWriteTimeout)

	c.WebSocket.MaxConnections = env.GetInt("WS_MAX_CONNECTIONS", c.WebSocket.MaxConnections)
	c.WebSocket.PingInterval = env.GetDuration("WS_PING_INTERVAL", c.WebSocket.PingInterval)
	c.WebSocket.WriteTimeout = env.GetDuration("WS_WRITE_TIMEOUT", c.WebSocket.WriteTimeout)
	c.WebSocket.SendBuffer = env.GetInt("WS_SEND_BUFFER", c.WebSocket.SendBuffer)
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.JWT.Secret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	if c.Server.Environment == "production" && len(c.JWT.Secret) < 32 {
		return fmt.Errorf("JWT_SECRET must be at least 32 characters in production")
	}

	if c.Call.RingTimeout < MinRingTimeout || c.Call.RingTimeout > MaxRingTimeout {
		return fmt.Errorf("call ring timeout must be between %s and %s, got %s",
			MinRingTimeout, MaxRingTimeout, c.Call.RingTimeout)
	}
	if c.Call.MaxParticipants < 2 {
		return fmt.Errorf("call max participants must be at least 2, got %d", c.Call.MaxParticipants)
	}
	if c.Call.MaxSignalPayloadBytes <= 0 {
		return fmt.Errorf("call max signal payload must be positive")
	}

	switch c.Call.CallLogBackend {
	case CallLogBackendCockroach, CallLogBackendCassandra, CallLogBackendNone:
	default:
		return fmt.Errorf("unknown call log backend %q", c.Call.CallLogBackend)
	}

	if c.WebSocket.MaxConnections <= 0 {
		return fmt.Errorf("websocket max connections must be positive")
	}

	return nil
}

// IsProduction reports whether the service runs in production mode
func (c *Config) IsProduction() bool {
	return c.Server.Environment == "production"
}
