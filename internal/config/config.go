package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/google/uuid"
	_ "github.com/joho/godotenv/autoload"
)

// Event and result backends
const (
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

// Config holds all configuration for the chcount server
type Config struct {
	// Server configuration
	Host     string `env:"CHCOUNT_HOST" envDefault:"127.0.0.1"`
	HTTPPort int    `env:"CHCOUNT_HTTP_PORT" envDefault:"3000"`
	GRPCPort int    `env:"CHCOUNT_GRPC_PORT" envDefault:"9090"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	// Names this instance in Redis consumer groups, generated when empty
	InstanceID string `env:"CHCOUNT_INSTANCE_ID"`

	// Directory served on GET, empty disables static files
	DocsDir string `env:"CHCOUNT_DOCS_DIR"`

	// Request body limit in bytes
	BodyLimit int64 `env:"CHCOUNT_BODY_LIMIT" envDefault:"20000"`

	// Jobs configuration
	Jobs JobsConfig

	// Events backend: memory or redis
	EventsBackend string `env:"CHCOUNT_EVENTS_BACKEND" envDefault:"memory"`

	// Results backend: memory, redis or postgres
	ResultsBackend string `env:"CHCOUNT_RESULTS_BACKEND" envDefault:"memory"`

	// Redis configuration
	Redis RedisConfig

	// PostgreSQL connection URL for the postgres results backend
	PostgresURL string `env:"CHCOUNT_POSTGRES_URL"`

	// OTLP/HTTP collector, empty disables tracing
	OTLPEndpoint string `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`

	// Worker configuration
	Workers WorkerConfig

	// Timeouts
	Timeouts TimeoutConfig
}

// JobsConfig holds count job settings
type JobsConfig struct {
	SpoolDir         string        `env:"CHCOUNT_TMP_STORAGE" envDefault:"."`
	Executable       string        `env:"CHCOUNT_EXECUTABLE"`
	DefaultCharacter string        `env:"CHCOUNT_DEFAULT_CHARACTER" envDefault:"c"`
	ResultTTL        time.Duration `env:"CHCOUNT_RESULT_TTL" envDefault:"1h"`
	// How often expired results are removed from memory and postgres stores
	PruneInterval    time.Duration `env:"CHCOUNT_RESULT_PRUNE_INTERVAL" envDefault:"1m"`
}

// RedisConfig holds Redis connection configuration
type RedisConfig struct {
	Addr     string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	Password string `env:"REDIS_PASS"`
	DB       int    `env:"REDIS_DB" envDefault:"0"`

	// Connection pool settings
	PoolSize     int           `env:"REDIS_POOL_SIZE" envDefault:"10"`
	MinIdleConns int           `env:"REDIS_MIN_IDLE_CONNS" envDefault:"2"`
	MaxRetries   int           `env:"REDIS_MAX_RETRIES" envDefault:"3"`
	DialTimeout  time.Duration `env:"REDIS_DIAL_TIMEOUT" envDefault:"5s"`
	ReadTimeout  time.Duration `env:"REDIS_READ_TIMEOUT" envDefault:"3s"`
	WriteTimeout time.Duration `env:"REDIS_WRITE_TIMEOUT" envDefault:"3s"`
}

// WorkerConfig holds worker pool configuration
type WorkerConfig struct {
	PoolSize int `env:"WORKER_POOL_SIZE" envDefault:"4"`
	// Goroutines per count, zero means CPU count minus one
	CounterWorkers      int           `env:"WORKER_COUNTER_THREADS" envDefault:"0"`
	HealthCheckInterval time.Duration `env:"WORKER_HEALTH_CHECK_INTERVAL" envDefault:"30s"`
}

// TimeoutConfig holds various timeout configurations
type TimeoutConfig struct {
	Read            time.Duration `env:"TIMEOUT_READ" envDefault:"30s"`
	Job             time.Duration `env:"TIMEOUT_JOB" envDefault:"300s"`
	ShutdownTimeout time.Duration `env:"TIMEOUT_SHUTDOWN" envDefault:"30s"`
}

// ClientConfig holds configuration for the chcount client
type ClientConfig struct {
	ServerURL      string        `env:"CHCOUNT_SERVER_URL" envDefault:"http://127.0.0.1:3000"`
	LogLevel       string        `env:"LOG_LEVEL" envDefault:"info"`
	DialTimeout    time.Duration `env:"CHCOUNT_DIAL_TIMEOUT" envDefault:"10s"`
	RequestTimeout time.Duration `env:"CHCOUNT_REQUEST_TIMEOUT" envDefault:"30s"`
	ResultTimeout  time.Duration `env:"CHCOUNT_RESULT_TIMEOUT" envDefault:"5m"`

	// Unclaimed pushed results are dropped after this long
	ResultRetention time.Duration `env:"CHCOUNT_RESULT_RETENTION" envDefault:"10m"`
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if cfg.InstanceID == "" {
		cfg.InstanceID = newInstanceID()
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	// Job events carry spool paths, other processes resolve them from their own working directory
	spoolDir, err := filepath.Abs(cfg.Jobs.SpoolDir)
	if err != nil {
		return nil, fmt.Errorf("invalid tmp storage: %w", err)
	}
	cfg.Jobs.SpoolDir = spoolDir

	return cfg, nil
}

// LoadClient reads client configuration from environment variables
func LoadClient() (*ClientConfig, error) {
	cfg := &ClientConfig{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	// Validate server ports
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.HTTPPort)
	}
	if c.GRPCPort < 0 || c.GRPCPort > 65535 {
		return fmt.Errorf("invalid gRPC port: %d", c.GRPCPort)
	}
	if c.GRPCPort == c.HTTPPort {
		return fmt.Errorf("gRPC port must differ from HTTP port: %d", c.GRPCPort)
	}

	if c.BodyLimit < 1 {
		return fmt.Errorf("body limit must be positive: %d", c.BodyLimit)
	}

	if c.DocsDir != "" {
		if err := requireDir(c.DocsDir); err != nil {
			return fmt.Errorf("invalid docs directory: %w", err)
		}
	}

	// Validate jobs config
	if err := requireDir(c.Jobs.SpoolDir); err != nil {
		return fmt.Errorf("invalid tmp storage: %w", err)
	}
	if c.Jobs.PruneInterval < 0 {
		return fmt.Errorf("result prune interval must not be negative")
	}
	if len(c.Jobs.DefaultCharacter) != 1 {
		return fmt.Errorf("default character must be a single byte: %q", c.Jobs.DefaultCharacter)
	}
	if c.Jobs.Executable != "" {
		info, err := os.Stat(c.Jobs.Executable)
		if err != nil {
			return fmt.Errorf("invalid chcount executable: %w", err)
		}
		if !info.Mode().IsRegular() {
			return fmt.Errorf("chcount executable is not a regular file: %s", c.Jobs.Executable)
		}
	}

	// Validate backends
	switch c.EventsBackend {
	case BackendMemory, BackendRedis:
	default:
		return fmt.Errorf("unsupported events backend: %s (must be memory or redis)", c.EventsBackend)
	}
	switch c.ResultsBackend {
	case BackendMemory, BackendRedis:
	case BackendPostgres:
		if c.PostgresURL == "" {
			return fmt.Errorf("postgres URL is required for the postgres results backend")
		}
	default:
		return fmt.Errorf("unsupported results backend: %s (must be memory, redis or postgres)", c.ResultsBackend)
	}
	if c.UsesRedis() && c.Redis.Addr == "" {
		return fmt.Errorf("redis address is required")
	}

	// Validate worker config
	if c.Workers.PoolSize < 1 {
		return fmt.Errorf("worker pool size must be at least 1")
	}
	if c.Workers.CounterWorkers < 0 {
		return fmt.Errorf("counter threads must not be negative")
	}

	return validateLogLevel(c.LogLevel)
}

// Validate checks if the client configuration is valid
func (c *ClientConfig) Validate() error {
	if c.ServerURL == "" {
		return fmt.Errorf("server URL is required")
	}
	if c.ResultRetention < 0 {
		return fmt.Errorf("result retention must not be negative")
	}
	return validateLogLevel(c.LogLevel)
}

// UsesRedis reports whether any backend needs a Redis connection
func (c *Config) UsesRedis() bool {
	return c.EventsBackend == BackendRedis || c.ResultsBackend == BackendRedis
}

// DefaultCharacterByte returns the configured default character
func (c *Config) DefaultCharacterByte() byte {
	return c.Jobs.DefaultCharacter[0]
}

// GetHTTPAddr returns the HTTP server address
func (c *Config) GetHTTPAddr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.HTTPPort))
}

// GetGRPCAddr returns the gRPC server address
func (c *Config) GetGRPCAddr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.GRPCPort))
}

// newInstanceID combines the host name with a random suffix, container
// replicas share PIDs and may share host names
func newInstanceID() string {
	suffix := uuid.New().String()[:8]
	host, err := os.Hostname()
	if err != nil || host == "" {
		return "chcount-" + suffix
	}
	return host + "-" + suffix
}

func validateLogLevel(level string) error {
	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[level] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", level)
	}
	return nil
}

func requireDir(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", path)
	}
	return nil
}
