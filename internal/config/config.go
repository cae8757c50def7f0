package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Security SecurityConfig `mapstructure:"security"`
	Store    StoreConfig    `mapstructure:"store"`
	Audit    AuditConfig    `mapstructure:"audit"`
	Sandbox  SandboxConfig  `mapstructure:"sandbox"`
	Events   EventsConfig   `mapstructure:"events"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

type SecurityConfig struct {
	PasswordMinLength int           `mapstructure:"password_min_length"`
	MFAEnabled        bool          `mapstructure:"mfa_enabled"`
	MaxFailedAttempts int           `mapstructure:"max_failed_attempts"`
	LockoutDuration   time.Duration `mapstructure:"lockout_duration"`
	TokenTTL          time.Duration `mapstructure:"token_ttl"`
	TokenSecret       string        `mapstructure:"token_secret"`
	AdminUsername     string        `mapstructure:"admin_username"`
	InternalKey       string        `mapstructure:"internal_key"`
	ConfidentialKey   string        `mapstructure:"confidential_key"`
	RestrictedKey     string        `mapstructure:"restricted_key"`
}

type StoreConfig struct {
	// Type selects the credential repository backend: "file", "memory"
	// or "postgres".
	Type     string         `mapstructure:"type"`
	Path     string         `mapstructure:"path"`
	Postgres PostgresConfig `mapstructure:"postgres"`
}

type PostgresConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Database string `mapstructure:"database"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	SSLMode  string `mapstructure:"sslmode"`
}

func (p PostgresConfig) ConnString() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		p.User, p.Password, p.Host, p.Port, p.Database, p.SSLMode)
}

type AuditConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	Directory     string `mapstructure:"directory"`
	Encrypt       bool   `mapstructure:"encrypt"`
	RetentionDays int    `mapstructure:"retention_days"`
}

type SandboxConfig struct {
	Isolation      string        `mapstructure:"isolation"`
	WorkDir        string        `mapstructure:"work_dir"`
	ContainerImage string        `mapstructure:"container_image"`
	MemoryLimitMB  int64         `mapstructure:"memory_limit_mb"`
	CPUTimeLimit   time.Duration `mapstructure:"cpu_time_limit"`
	WallTimeLimit  time.Duration `mapstructure:"wall_time_limit"`
	DiskLimitMB    int64         `mapstructure:"disk_limit_mb"`
	MaxProcesses   int           `mapstructure:"max_processes"`
	MaxFileSizeMB  int64         `mapstructure:"max_file_size_mb"`
	NetworkAccess  bool          `mapstructure:"network_access"`
}

type EventsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	URL     string `mapstructure:"url"`
	Name    string `mapstructure:"name"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads configuration from the given file (or the default search
// paths when empty), applying defaults and VULNSCOPE_* environment
// variable overrides. The security core only reads named keys; the file
// is owned by the wider platform.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	v.SetDefault("security.password_min_length", 12)
	v.SetDefault("security.mfa_enabled", false)
	v.SetDefault("security.max_failed_attempts", 5)
	v.SetDefault("security.lockout_duration", "15m")
	v.SetDefault("security.token_ttl", "1h")
	v.SetDefault("security.token_secret", "change-this-in-production")
	v.SetDefault("security.admin_username", "admin")
	v.SetDefault("store.type", "file")
	v.SetDefault("store.path", "/var/lib/vulnscope/credentials.enc")
	v.SetDefault("store.postgres.host", "localhost")
	v.SetDefault("store.postgres.port", 5432)
	v.SetDefault("store.postgres.database", "vulnscope")
	v.SetDefault("store.postgres.user", "vulnscope")
	v.SetDefault("store.postgres.sslmode", "disable")
	v.SetDefault("audit.enabled", true)
	v.SetDefault("audit.directory", "/var/log/vulnscope/audit")
	v.SetDefault("audit.encrypt", false)
	v.SetDefault("audit.retention_days", 90)
	v.SetDefault("sandbox.isolation", "basic")
	v.SetDefault("sandbox.work_dir", "/tmp/vulnscope-sandbox")
	v.SetDefault("sandbox.container_image", "alpine:3.20")
	v.SetDefault("sandbox.memory_limit_mb", 512)
	v.SetDefault("sandbox.cpu_time_limit", "60s")
	v.SetDefault("sandbox.wall_time_limit", "30s")
	v.SetDefault("sandbox.disk_limit_mb", 1024)
	v.SetDefault("sandbox.max_processes", 32)
	v.SetDefault("sandbox.max_file_size_mb", 10)
	v.SetDefault("sandbox.network_access", false)
	v.SetDefault("events.enabled", false)
	v.SetDefault("events.url", "nats://localhost:4222")
	v.SetDefault("events.name", "vulnscope-core")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/vulnscope")
	}

	v.SetEnvPrefix("VULNSCOPE")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// Default returns the built-in defaults without consulting any file.
func Default() *Config {
	cfg, _ := Load("")
	return cfg
}
