package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

var GlobalConfig *Config

const (
	DefaultSteps          = 89888
	DefaultScheduleHour   = 0
	DefaultScheduleMinute = 5

	// DefaultTimezoneOffset is the reference timezone (UTC+8) used for schedules and "today".
	DefaultTimezoneOffset = 8 * 3600
)

// Config global configuration
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Database     DatabaseConfig     `yaml:"database"`
	Redis        RedisConfig        `yaml:"redis"`
	Logger       LoggerConfig       `yaml:"logger"`
	Schedule     ScheduleConfig     `yaml:"schedule"`
	Execution    ExecutionConfig    `yaml:"execution"`
	Submitter    SubmitterConfig    `yaml:"submitter"`
	Records      RecordsConfig      `yaml:"records"`
	Notification NotificationConfig `yaml:"notification"`
	Security     SecurityConfig     `yaml:"security"`
	Bootstrap    BootstrapConfig    `yaml:"bootstrap"`
}

// ServerConfig server configuration
type ServerConfig struct {
	Port        int      `yaml:"port"`
	Mode        string   `yaml:"mode"`         // debug, release
	APIKey      string   `yaml:"api_key"`      // optional, if empty, auth is disabled
	CORSOrigins []string `yaml:"cors_origins"` // empty means "*"
}

// DatabaseConfig selects the gorm driver. DSN wins over the MySQL block when set.
type DatabaseConfig struct {
	Driver string      `yaml:"driver"` // sqlite, mysql
	DSN    string      `yaml:"dsn"`
	MySQL  MySQLConfig `yaml:"mysql"`
}

// MySQLConfig MySQL configuration
type MySQLConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
}

// RedisConfig Redis configuration. Empty Addr runs in single-instance mode.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// LoggerConfig logger configuration
type LoggerConfig struct {
	Level  string           `yaml:"level"`  // debug, info, warn, error
	Output string           `yaml:"output"` // console, file, both
	File   LoggerFileConfig `yaml:"file"`
}

// LoggerFileConfig logger file configuration
type LoggerFileConfig struct {
	Path       string `yaml:"path"`
	MaxSize    int    `yaml:"max_size"` // megabytes
	MaxBackups int    `yaml:"max_backups"`
	MaxAge     int    `yaml:"max_age"` // days
	Compress   bool   `yaml:"compress"`
}

// ScheduleConfig holds the reference timezone and account defaults.
type ScheduleConfig struct {
	Timezone          string        `yaml:"timezone"` // IANA name; empty means fixed UTC+8
	DefaultSteps      int           `yaml:"default_steps"`
	DefaultHour       *int          `yaml:"default_hour"`
	DefaultMinute     *int          `yaml:"default_minute"`
	ReconcileInterval time.Duration `yaml:"reconcile_interval"`
}

// ExecutionConfig execution engine configuration
type ExecutionConfig struct {
	Concurrency int `yaml:"concurrency"` // execute-all parallelism, 1 = sequential
}

// SubmitterConfig remote step-counting site configuration
type SubmitterConfig struct {
	BaseURL       string        `yaml:"base_url"`
	PostURL       string        `yaml:"post_url"` // defaults to BaseURL
	Timeout       time.Duration `yaml:"timeout"`
	FieldAccount  string        `yaml:"field_account"`
	FieldPassword string        `yaml:"field_password"`
	FieldSteps    string        `yaml:"field_steps"`
	UserAgent     string        `yaml:"user_agent"`
	WarmUp        *bool         `yaml:"warm_up"` // GET base url before posting
}

// RecordsConfig execution record retention
type RecordsConfig struct {
	RetentionDays int `yaml:"retention_days"` // 0 disables cleanup
	TodayLimit    int `yaml:"today_limit"`
}

// NotificationConfig notification configuration
type NotificationConfig struct {
	FeishuWebhookURL string `yaml:"feishu_webhook_url"`
}

// SecurityConfig holds the base64 AES-256 key used to encrypt stored passwords.
type SecurityConfig struct {
	MasterKey string `yaml:"master_key"`
}

// BootstrapConfig seeds one account when the store is empty.
type BootstrapConfig struct {
	Account  string `yaml:"account"`
	Password string `yaml:"password"`
}

// Init initializes configuration
func Init() error {
	// .env is optional
	_ = godotenv.Load()

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config/config.yaml"
	}

	cfg, err := Load(configPath)
	if err != nil {
		return err
	}

	GlobalConfig = cfg
	return nil
}

// Load reads a YAML file, applies env overrides and defaults. A missing file yields defaults.
func Load(path string) (*Config, error) {
	var cfg Config

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	case os.IsNotExist(err):
		// run on defaults and environment
	default:
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	applyEnvOverrides(&cfg)
	applyDefaults(&cfg)
	return &cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		driver, dsn := ParseDatabaseURL(v)
		cfg.Database.Driver = driver
		cfg.Database.DSN = dsn
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("BUSHU_URL"); v != "" {
		cfg.Submitter.BaseURL = v
	}
	if v := os.Getenv("BUSHU_POST_URL"); v != "" {
		cfg.Submitter.PostURL = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logger.Level = strings.ToLower(v)
	}
	if v := os.Getenv("FEISHU_WEBHOOK_URL"); v != "" && cfg.Notification.FeishuWebhookURL == "" {
		cfg.Notification.FeishuWebhookURL = v
	}
	if v := os.Getenv("BUSHU_MASTER_KEY"); v != "" {
		cfg.Security.MasterKey = v
	}
	if v := os.Getenv("DEFAULT_ACCOUNT"); v != "" {
		cfg.Bootstrap.Account = v
	}
	if v := os.Getenv("DEFAULT_PASSWORD"); v != "" {
		cfg.Bootstrap.Password = v
	}
}

// ParseDatabaseURL maps "sqlite:///path.db" and "mysql://dsn" style URLs to a driver and DSN.
// Anything without a known scheme is treated as a MySQL DSN.
func ParseDatabaseURL(raw string) (driver, dsn string) {
	switch {
	case strings.HasPrefix(raw, "sqlite:///"):
		return "sqlite", strings.TrimPrefix(raw, "sqlite:///")
	case strings.HasPrefix(raw, "sqlite://"):
		return "sqlite", strings.TrimPrefix(raw, "sqlite://")
	case strings.HasPrefix(raw, "mysql://"):
		return "mysql", strings.TrimPrefix(raw, "mysql://")
	default:
		return "mysql", raw
	}
}

// applyDefaults fills unset or invalid values. Invalid values fall back silently.
func applyDefaults(cfg *Config) {
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.Mode == "" {
		cfg.Server.Mode = "release"
	}

	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "sqlite"
	}
	if cfg.Database.Driver == "sqlite" && cfg.Database.DSN == "" {
		cfg.Database.DSN = "bushu.db"
	}
	if cfg.Database.MySQL.Port <= 0 {
		cfg.Database.MySQL.Port = 3306
	}

	if cfg.Logger.Level == "" {
		cfg.Logger.Level = "info"
	}
	if cfg.Logger.Output == "" {
		cfg.Logger.Output = "console"
	}
	if cfg.Logger.File.Path == "" {
		cfg.Logger.File.Path = "logs/bushu.log"
	}
	if cfg.Logger.File.MaxSize <= 0 {
		cfg.Logger.File.MaxSize = 20
	}
	if cfg.Logger.File.MaxBackups <= 0 {
		cfg.Logger.File.MaxBackups = 5
	}
	if cfg.Logger.File.MaxAge <= 0 {
		cfg.Logger.File.MaxAge = 15
	}

	if cfg.Schedule.DefaultSteps <= 0 {
		cfg.Schedule.DefaultSteps = DefaultSteps
	}
	if cfg.Schedule.DefaultHour == nil || *cfg.Schedule.DefaultHour < 0 || *cfg.Schedule.DefaultHour > 23 {
		h := DefaultScheduleHour
		cfg.Schedule.DefaultHour = &h
	}
	if cfg.Schedule.DefaultMinute == nil || *cfg.Schedule.DefaultMinute < 0 || *cfg.Schedule.DefaultMinute > 59 {
		m := DefaultScheduleMinute
		cfg.Schedule.DefaultMinute = &m
	}
	if cfg.Schedule.ReconcileInterval <= 0 {
		cfg.Schedule.ReconcileInterval = time.Minute
	}

	if cfg.Execution.Concurrency <= 0 {
		cfg.Execution.Concurrency = 1
	}

	if cfg.Submitter.BaseURL == "" {
		cfg.Submitter.BaseURL = "http://8.140.250.130/bushu/"
	}
	if cfg.Submitter.PostURL == "" {
		cfg.Submitter.PostURL = cfg.Submitter.BaseURL
	}
	if cfg.Submitter.Timeout <= 0 {
		cfg.Submitter.Timeout = 20 * time.Second
	}
	if cfg.Submitter.FieldAccount == "" {
		cfg.Submitter.FieldAccount = "xmphone"
	}
	if cfg.Submitter.FieldPassword == "" {
		cfg.Submitter.FieldPassword = "xmpwd"
	}
	if cfg.Submitter.FieldSteps == "" {
		cfg.Submitter.FieldSteps = "steps"
	}
	if cfg.Submitter.UserAgent == "" {
		cfg.Submitter.UserAgent = "Mozilla/5.0 (compatible; BushuBot/1.0)"
	}
	if cfg.Submitter.WarmUp == nil {
		warm := true
		cfg.Submitter.WarmUp = &warm
	}

	if cfg.Records.RetentionDays < 0 {
		cfg.Records.RetentionDays = 0
	}
	if cfg.Records.TodayLimit <= 0 {
		cfg.Records.TodayLimit = 200
	}
}

// Location returns the reference timezone. Unknown names fall back to fixed UTC+8.
func (c ScheduleConfig) Location() *time.Location {
	if c.Timezone != "" {
		if loc, err := time.LoadLocation(c.Timezone); err == nil {
			return loc
		}
	}
	return time.FixedZone("UTC+8", DefaultTimezoneOffset)
}

// MySQLDSN builds the go-sql-driver DSN from the MySQL block.
func (c DatabaseConfig) MySQLDSN() string {
	if c.DSN != "" {
		return c.DSN
	}
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
		c.MySQL.User,
		c.MySQL.Password,
		c.MySQL.Host,
		c.MySQL.Port,
		c.MySQL.Database,
	)
}
