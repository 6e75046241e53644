// Package config loads service configuration from the environment, an
// optional .env file and an optional YAML overlay.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
)

// Environment names the deployment context.
type Environment string

const (
	EnvDevelopment Environment = "development"
	EnvTest        Environment = "test"
	EnvProduction  Environment = "production"
)

// IsProduction reports whether the environment is production-like.
func (e Environment) IsProduction() bool {
	return e == EnvProduction
}

// Config is the validated, read-only settings object. It is built once by
// Load and passed by value or pointer afterwards; nothing mutates it.
type Config struct {
	Env     string `env:"APP_ENV,default=development" yaml:"env"`
	Service string `env:"SERVICE_NAME,default=user-service" yaml:"service"`
	Version string `env:"SERVICE_VERSION,default=1.0.0" yaml:"version"`

	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Health   HealthConfig   `yaml:"health"`
	Logging  LoggingConfig  `yaml:"logging"`
	Security SecurityConfig `yaml:"security"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Host            string        `env:"HOST,default=0.0.0.0" yaml:"host"`
	Port            int           `env:"PORT,default=3000" yaml:"port"`
	ReadTimeout     time.Duration `env:"SERVER_READ_TIMEOUT,default=30s" yaml:"read_timeout"`
	WriteTimeout    time.Duration `env:"SERVER_WRITE_TIMEOUT,default=30s" yaml:"write_timeout"`
	IdleTimeout     time.Duration `env:"SERVER_IDLE_TIMEOUT,default=120s" yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT,default=30s" yaml:"shutdown_timeout"`
}

// DatabaseConfig configures the document store connection.
type DatabaseConfig struct {
	URI                    string        `env:"MONGODB_URI,default=mongodb://localhost:27017/user_service" yaml:"uri"`
	TestURI                string        `env:"MONGODB_TEST_URI,default=mongodb://localhost:27017/user_service_test" yaml:"test_uri"`
	MaxPoolSize            uint64        `env:"MONGODB_MAX_POOL_SIZE,default=10" yaml:"max_pool_size"`
	MinPoolSize            uint64        `env:"MONGODB_MIN_POOL_SIZE,default=0" yaml:"min_pool_size"`
	ConnectTimeout         time.Duration `env:"MONGODB_CONNECT_TIMEOUT,default=10s" yaml:"connect_timeout"`
	ServerSelectionTimeout time.Duration `env:"MONGODB_SERVER_SELECTION_TIMEOUT,default=5s" yaml:"server_selection_timeout"`
	OperationTimeout       time.Duration `env:"MONGODB_OPERATION_TIMEOUT,default=45s" yaml:"operation_timeout"`
	MaxRetries             int           `env:"DB_MAX_RETRIES,default=5" yaml:"max_retries"`
	RetryDelay             time.Duration `env:"DB_RETRY_DELAY,default=5s" yaml:"retry_delay"`
	RetryMultiplier        float64       `env:"DB_RETRY_MULTIPLIER,default=1.5" yaml:"retry_multiplier"`
}

// TargetURI selects the connection string for env.
func (d DatabaseConfig) TargetURI(env Environment) string {
	if env == EnvTest {
		return d.TestURI
	}
	return d.URI
}

// HealthConfig configures the health probes.
type HealthConfig struct {
	CheckTimeout      time.Duration `env:"HEALTH_CHECK_TIMEOUT,default=5s" yaml:"check_timeout"`
	ReadinessTimeout  time.Duration `env:"HEALTH_READINESS_TIMEOUT,default=3s" yaml:"readiness_timeout"`
	MemoryWarnPercent float64       `env:"HEALTH_MEMORY_WARN_PERCENT,default=90" yaml:"memory_warn_percent"`
	CPUWarnPercent    float64       `env:"HEALTH_CPU_WARN_PERCENT,default=90" yaml:"cpu_warn_percent"`
	DiskPath          string        `env:"HEALTH_DISK_PATH,default=/" yaml:"disk_path"`
	DiskWarnPercent   float64       `env:"HEALTH_DISK_WARN_PERCENT,default=90" yaml:"disk_warn_percent"`
}

// LoggingConfig configures the logger.
type LoggingConfig struct {
	Level  string `env:"LOG_LEVEL,default=info" yaml:"level"`
	Format string `env:"LOG_FORMAT,default=json" yaml:"format"`
}

// SecurityConfig configures the HTTP security middleware.
type SecurityConfig struct {
	JWTSecret      string `env:"JWT_SECRET" yaml:"jwt_secret"`
	CORSOrigins    string `env:"CORS_ALLOWED_ORIGINS,default=http://localhost:3000" yaml:"cors_allowed_origins"`
	RateLimitRPS   int    `env:"RATE_LIMIT_RPS,default=20" yaml:"rate_limit_rps"`
	RateLimitBurst int    `env:"RATE_LIMIT_BURST,default=40" yaml:"rate_limit_burst"`
}

// Environment returns the parsed deployment environment.
func (c *Config) Environment() Environment {
	return Environment(strings.ToLower(strings.TrimSpace(c.Env)))
}

// Addr returns the HTTP listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// AllowedOrigins splits the CORS origin list.
func (c *Config) AllowedOrigins() []string {
	return splitAndTrimCSV(c.Security.CORSOrigins)
}

// RequiredSettings reports, for each setting the service cannot run
// without, whether it is present.
func (c *Config) RequiredSettings() map[string]bool {
	required := map[string]bool{
		"MONGODB_URI":  strings.TrimSpace(c.Database.TargetURI(c.Environment())) != "",
		"SERVICE_NAME": strings.TrimSpace(c.Service) != "",
	}
	if c.Environment().IsProduction() {
		required["JWT_SECRET"] = strings.TrimSpace(c.Security.JWTSecret) != ""
	}
	return required
}

// Validate checks the settings for consistency.
func (c *Config) Validate() error {
	switch c.Environment() {
	case EnvDevelopment, EnvTest, EnvProduction:
	default:
		return fmt.Errorf("APP_ENV must be one of development, test, production: got %q", c.Env)
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("PORT out of range: %d", c.Server.Port)
	}
	if strings.TrimSpace(c.Database.TargetURI(c.Environment())) == "" {
		return errors.New("database URI is required")
	}
	if c.Database.MaxRetries < 0 {
		return errors.New("DB_MAX_RETRIES must be >= 0")
	}
	if c.Database.RetryDelay <= 0 {
		return errors.New("DB_RETRY_DELAY must be > 0")
	}
	if c.Database.RetryMultiplier < 1 {
		return errors.New("DB_RETRY_MULTIPLIER must be >= 1")
	}
	if c.Database.MinPoolSize > c.Database.MaxPoolSize {
		return errors.New("MONGODB_MIN_POOL_SIZE must not exceed MONGODB_MAX_POOL_SIZE")
	}
	if c.Health.CheckTimeout <= 0 || c.Health.ReadinessTimeout <= 0 {
		return errors.New("health timeouts must be > 0")
	}
	if c.Security.RateLimitRPS <= 0 {
		return errors.New("RATE_LIMIT_RPS must be > 0")
	}
	if c.Security.RateLimitBurst <= 0 {
		return errors.New("RATE_LIMIT_BURST must be > 0")
	}
	if c.Environment().IsProduction() && strings.TrimSpace(c.Security.JWTSecret) == "" {
		return errors.New("JWT_SECRET is required in production")
	}
	return nil
}

// Load reads .env (when present), decodes the environment, applies the
// optional CONFIG_FILE overlay and validates the result.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, fmt.Errorf("decode environment: %w", err)
	}

	if path := strings.TrimSpace(os.Getenv("CONFIG_FILE")); path != "" {
		if err := LoadFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

func splitAndTrimCSV(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	values := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			values = append(values, trimmed)
		}
	}
	return values
}
