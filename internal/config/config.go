// Package config handles loading application configuration from environment
// variables. All config is centralized here so no other package reads env
// vars directly. Sensible defaults are provided for development.
package config

import (
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/kelseyhightower/envconfig"
)

// Config holds all application configuration. Populated from environment
// variables at startup. Passed to other packages via dependency injection.
type Config struct {
	// Env is the runtime environment: "development" or "production".
	Env string `envconfig:"ENV" default:"development"`

	// AppName is the product name shown in outgoing email.
	AppName string `envconfig:"APP_NAME" default:"Portal"`

	// Port is the HTTP listen port (default: 8080).
	Port int `envconfig:"PORT" default:"8080"`

	// BaseURL is the public-facing URL of the front-end, used for CORS.
	BaseURL string `envconfig:"BASE_URL" default:"http://localhost:5173"`

	// LogLevel controls log verbosity: "debug", "info", "warn", "error".
	LogLevel string `envconfig:"LOG_LEVEL" default:"debug"`

	// CORSOrigins lists extra front-end origins allowed besides BaseURL
	// (comma-separated), e.g. the public site next to the admin panel.
	CORSOrigins []string `envconfig:"CORS_ORIGINS"`

	// TrustedProxies lists the CIDRs whose forwarding headers are honoured
	// when resolving the client IP.
	TrustedProxies []string `envconfig:"TRUSTED_PROXIES" default:"127.0.0.1/8,10.0.0.0/8,172.16.0.0/12,192.168.0.0/16,::1/128"`

	// Database holds MariaDB connection settings.
	Database DatabaseConfig `envconfig:"DB"`

	// Redis holds Redis connection settings.
	Redis RedisConfig `envconfig:"REDIS"`

	// Auth holds authentication-related settings.
	Auth AuthConfig `envconfig:"AUTH"`

	// SMTP holds outgoing mail settings used by the delivery worker.
	SMTP SMTPConfig `envconfig:"SMTP"`

	// Worker holds background job settings.
	Worker WorkerConfig `envconfig:"WORKER"`
}

// DatabaseConfig holds MariaDB connection parameters. Individual fields
// (Host, User, Password, Name) are read from separate env vars so
// container orchestrators can manage each independently.
// If DB_URL is set, it takes precedence over the individual fields.
type DatabaseConfig struct {
	// Host is the MariaDB address in host:port format. If no port is
	// specified, 3306 is appended automatically.
	Host string `envconfig:"HOST" default:"localhost:3306"`

	User     string `envconfig:"USER" default:"portal"`
	Password string `envconfig:"PASSWORD" default:"portal"`
	Name     string `envconfig:"NAME" default:"portal"`

	// URL is a full DSN that replaces the individual fields when set.
	URL string `envconfig:"URL"`

	// MaxOpenConns is the maximum number of open connections in the pool.
	MaxOpenConns int `envconfig:"MAX_OPEN_CONNS" default:"25"`

	// MaxIdleConns is the maximum number of idle connections in the pool.
	MaxIdleConns int `envconfig:"MAX_IDLE_CONNS" default:"5"`

	// ConnMaxLifetime is how long a connection can be reused.
	ConnMaxLifetime time.Duration `envconfig:"CONN_MAX_LIFETIME" default:"5m"`

	// MigrationsPath is the directory holding the *.up.sql/*.down.sql files.
	MigrationsPath string `envconfig:"MIGRATIONS_PATH" default:"db/migrations"`
}

// DSN returns the go-sql-driver/mysql connection string. If DB_URL was
// set, it is parsed and its host, credentials and database are kept.
// Otherwise the DSN is built from the individual Host/User/Password/Name
// fields using the driver's Config.FormatDSN() to safely handle special
// characters in passwords. Either way the options the user store depends
// on are forced on.
func (d DatabaseConfig) DSN() string {
	var cfg *mysql.Config
	if d.URL != "" {
		parsed, err := mysql.ParseDSN(d.URL)
		if err != nil {
			// Load rejects this; callers that skip it get the driver's error on open.
			return d.URL
		}
		cfg = parsed
	} else {
		cfg = mysql.NewConfig()
		cfg.User = d.User
		cfg.Passwd = d.Password
		cfg.Net = "tcp"
		cfg.Addr = ensurePort(d.Host, "3306")
		cfg.DBName = d.Name
	}
	cfg.ParseTime = true
	cfg.Loc = time.UTC
	// UPDATE row counts report matched rows, so an unchanged profile isn't
	// mistaken for a missing user.
	cfg.ClientFoundRows = true
	return cfg.FormatDSN()
}

// ensurePort appends the default port if the host string doesn't include one.
// Allows users to set DB_HOST=mydb (gets :3306) or DB_HOST=mydb:3307 (as-is).
func ensurePort(host, defaultPort string) string {
	_, _, err := net.SplitHostPort(host)
	if err != nil {
		return net.JoinHostPort(host, defaultPort)
	}
	return host
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	// URL is the Redis connection URL (e.g., "redis://localhost:6379/0").
	URL string `envconfig:"URL" default:"redis://localhost:6379/0"`
}

// AuthConfig holds authentication settings.
type AuthConfig struct {
	// SessionTTL is how long sessions last before expiring.
	SessionTTL time.Duration `envconfig:"SESSION_TTL" default:"168h"`

	// OTPTTL is how long a password-reset code stays usable.
	OTPTTL time.Duration `envconfig:"OTP_TTL" default:"10m"`

	// OTPMaxAttempts is the number of wrong codes that locks a challenge.
	OTPMaxAttempts int `envconfig:"OTP_MAX_ATTEMPTS" default:"5"`

	// ProofTTL bounds the window between verifying a code and resetting.
	ProofTTL time.Duration `envconfig:"PROOF_TTL" default:"10m"`

	// BootstrapSecret is the pre-shared elevation credential accepted by
	// register-admin. Empty disables the secret path; an authenticated admin
	// can still create other admins.
	BootstrapSecret string `envconfig:"BOOTSTRAP_SECRET"`

	// PasswordMinLength is the minimum accepted password length.
	PasswordMinLength int `envconfig:"PASSWORD_MIN_LENGTH" default:"8"`

	// Argon2 holds the argon2id cost parameters.
	Argon2 Argon2Config `envconfig:"ARGON2"`
}

// Argon2Config holds argon2id parameters. Defaults follow OWASP guidance
// for a self-hosted service: memory=64MB, iterations=3, parallelism=4.
type Argon2Config struct {
	Time    uint32 `envconfig:"TIME" default:"3"`
	Memory  uint32 `envconfig:"MEMORY_KIB" default:"65536"`
	Threads uint8  `envconfig:"THREADS" default:"4"`
}

// SMTPConfig holds outgoing mail settings.
type SMTPConfig struct {
	Host        string `envconfig:"HOST"`
	Port        int    `envconfig:"PORT" default:"587"`
	Username    string `envconfig:"USERNAME"`
	Password    string `envconfig:"PASSWORD"`
	FromAddress string `envconfig:"FROM_ADDRESS" default:"no-reply@portal.local"`
	FromName    string `envconfig:"FROM_NAME" default:"Portal"`

	// Encryption is one of "starttls", "ssl" or "none".
	Encryption string `envconfig:"ENCRYPTION" default:"starttls"`
}

// WorkerConfig holds background job settings.
type WorkerConfig struct {
	// Concurrency is the number of tasks the worker processes in parallel.
	Concurrency int `envconfig:"CONCURRENCY" default:"5"`

	// MetricsAddr is where the worker serves /metrics. Empty disables it.
	MetricsAddr string `envconfig:"METRICS_ADDR" default:":9091"`
}

// Load reads configuration from environment variables with sensible defaults.
// Returns an error if variables are malformed or production requirements
// are not met.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("reading environment: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// validate checks cross-field constraints that envconfig can't express.
func (c *Config) validate() error {
	if c.Database.URL != "" {
		if _, err := mysql.ParseDSN(c.Database.URL); err != nil {
			return fmt.Errorf("DB_URL is not a valid DSN: %w", err)
		}
	}
	if c.Auth.SessionTTL <= 0 {
		return fmt.Errorf("AUTH_SESSION_TTL must be positive")
	}
	if c.Auth.OTPTTL <= 0 {
		return fmt.Errorf("AUTH_OTP_TTL must be positive")
	}
	if c.Auth.OTPMaxAttempts < 1 {
		return fmt.Errorf("AUTH_OTP_MAX_ATTEMPTS must be at least 1")
	}
	if c.Auth.PasswordMinLength < 8 {
		return fmt.Errorf("AUTH_PASSWORD_MIN_LENGTH must be at least 8")
	}
	if c.Auth.Argon2.Time == 0 || c.Auth.Argon2.Memory == 0 || c.Auth.Argon2.Threads == 0 {
		return fmt.Errorf("AUTH_ARGON2_* parameters must be positive")
	}

	// Case-insensitive check catches common variants like "Production", "prod".
	if c.IsProduction() && c.Auth.BootstrapSecret != "" && len(c.Auth.BootstrapSecret) < 32 {
		return fmt.Errorf("AUTH_BOOTSTRAP_SECRET must be at least 32 characters in production")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	env := strings.ToLower(c.Env)
	return env == "development" || env == "dev"
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	env := strings.ToLower(c.Env)
	return env == "production" || env == "prod"
}
