package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Source    SourceConfig    `mapstructure:"source"`
	IMAP      IMAPConfig      `mapstructure:"imap"`
	Remote    RemoteConfig    `mapstructure:"remote"`
	Sync      SyncConfig      `mapstructure:"sync"`
	Dispatch  DispatchConfig  `mapstructure:"dispatch"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Log       LogConfig       `mapstructure:"log"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port         string        `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// DatabaseConfig holds database connection configuration
type DatabaseConfig struct {
	Driver     string `mapstructure:"driver"`
	Host       string `mapstructure:"host"`
	Port       int    `mapstructure:"port"`
	User       string `mapstructure:"user"`
	Password   string `mapstructure:"password"`
	DBName     string `mapstructure:"dbname"`
	SQLitePath string `mapstructure:"sqlite_path"`
}

// SourceConfig selects and configures the calendar source provider
type SourceConfig struct {
	Kind         string            `mapstructure:"kind"`
	ClientID     string            `mapstructure:"client_id"`
	ClientSecret string            `mapstructure:"client_secret"`
	RefreshToken string            `mapstructure:"refresh_token"`
	ICSFeeds     map[string]string `mapstructure:"ics_feeds"`
	Timeout      time.Duration     `mapstructure:"timeout"`
}

// IMAPConfig holds the invitation watcher configuration
type IMAPConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Folder   string `mapstructure:"folder"`
}

// RemoteConfig holds the remote scheduling service endpoint
type RemoteConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// SyncConfig holds reconciliation settings
type SyncConfig struct {
	WindowDays     int    `mapstructure:"window_days"`
	TimeZone       string `mapstructure:"timezone"`
	FetchWorkers   int    `mapstructure:"fetch_workers"`
	MailboxWorkers int    `mapstructure:"mailbox_workers"`
	UnfoldMaxScan  int    `mapstructure:"unfold_max_scan"`
	UnfoldBuffer   int    `mapstructure:"unfold_buffer"`
}

// DispatchConfig holds outbound batching settings
type DispatchConfig struct {
	BatchSize  int `mapstructure:"batch_size"`
	MaxResends int `mapstructure:"max_resends"`
}

// SchedulerConfig holds scheduler configuration
type SchedulerConfig struct {
	NotificationIntervalSeconds int    `mapstructure:"notification_interval_seconds"`
	DispatchIntervalSeconds     int    `mapstructure:"dispatch_interval_seconds"`
	InviteIntervalMinutes       int    `mapstructure:"invite_interval_minutes"`
	FullPullSchedule            string `mapstructure:"full_pull_schedule"`
	ReconcileSchedule           string `mapstructure:"reconcile_schedule"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level string `mapstructure:"level"`
}

// LoadConfig loads configuration from environment variables and config file
func LoadConfig() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	v.AutomaticEnv()
	bindEnvVars(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")

	v.SetDefault("database.driver", "mysql")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 3306)
	v.SetDefault("database.sqlite_path", "calendar-ledger.db")

	v.SetDefault("source.kind", "google")
	v.SetDefault("source.timeout", "30s")

	v.SetDefault("imap.enabled", false)
	v.SetDefault("imap.host", "imap.gmail.com")
	v.SetDefault("imap.port", 993)
	v.SetDefault("imap.folder", "INBOX")

	v.SetDefault("remote.timeout", "60s")

	v.SetDefault("sync.window_days", 90)
	v.SetDefault("sync.timezone", "Local")
	v.SetDefault("sync.fetch_workers", 1)
	v.SetDefault("sync.mailbox_workers", 4)
	v.SetDefault("sync.unfold_max_scan", 200)
	v.SetDefault("sync.unfold_buffer", 1)

	v.SetDefault("dispatch.batch_size", 50)
	v.SetDefault("dispatch.max_resends", 5)

	v.SetDefault("scheduler.notification_interval_seconds", 30)
	v.SetDefault("scheduler.dispatch_interval_seconds", 60)
	v.SetDefault("scheduler.invite_interval_minutes", 5)
	v.SetDefault("scheduler.full_pull_schedule", "0 0 */6 * * *")
	v.SetDefault("scheduler.reconcile_schedule", "0 30 2 * * *")

	v.SetDefault("log.level", "info")
}

// bindEnvVars binds environment variables to configuration keys
func bindEnvVars(v *viper.Viper) {
	// Server
	v.BindEnv("server.port", "SERVER_PORT")
	v.BindEnv("server.read_timeout", "SERVER_READ_TIMEOUT")
	v.BindEnv("server.write_timeout", "SERVER_WRITE_TIMEOUT")

	// Database
	v.BindEnv("database.driver", "DB_DRIVER")
	v.BindEnv("database.host", "DB_HOST")
	v.BindEnv("database.port", "DB_PORT")
	v.BindEnv("database.user", "DB_USER")
	v.BindEnv("database.password", "DB_PASSWORD")
	v.BindEnv("database.dbname", "DB_NAME")
	v.BindEnv("database.sqlite_path", "DB_SQLITE_PATH")

	// Calendar source
	v.BindEnv("source.kind", "SOURCE_KIND")
	v.BindEnv("source.client_id", "GOOGLE_CLIENT_ID")
	v.BindEnv("source.client_secret", "GOOGLE_CLIENT_SECRET")
	v.BindEnv("source.refresh_token", "GOOGLE_REFRESH_TOKEN")
	v.BindEnv("source.timeout", "SOURCE_TIMEOUT")

	// IMAP
	v.BindEnv("imap.enabled", "IMAP_ENABLED")
	v.BindEnv("imap.host", "IMAP_HOST")
	v.BindEnv("imap.port", "IMAP_PORT")
	v.BindEnv("imap.user", "IMAP_USER")
	v.BindEnv("imap.password", "IMAP_PASSWORD")
	v.BindEnv("imap.folder", "IMAP_FOLDER")

	// Remote scheduling service
	v.BindEnv("remote.base_url", "REMOTE_BASE_URL")
	v.BindEnv("remote.timeout", "REMOTE_TIMEOUT")

	// Sync
	v.BindEnv("sync.window_days", "SYNC_WINDOW_DAYS")
	v.BindEnv("sync.timezone", "SYNC_TIMEZONE")
	v.BindEnv("sync.fetch_workers", "SYNC_FETCH_WORKERS")
	v.BindEnv("sync.mailbox_workers", "SYNC_MAILBOX_WORKERS")

	// Dispatch
	v.BindEnv("dispatch.batch_size", "DISPATCH_BATCH_SIZE")
	v.BindEnv("dispatch.max_resends", "DISPATCH_MAX_RESENDS")

	// Scheduler
	v.BindEnv("scheduler.notification_interval_seconds", "SCHEDULER_NOTIFICATION_INTERVAL_SECONDS")
	v.BindEnv("scheduler.dispatch_interval_seconds", "SCHEDULER_DISPATCH_INTERVAL_SECONDS")
	v.BindEnv("scheduler.invite_interval_minutes", "SCHEDULER_INVITE_INTERVAL_MINUTES")
	v.BindEnv("scheduler.full_pull_schedule", "SCHEDULER_FULL_PULL_SCHEDULE")
	v.BindEnv("scheduler.reconcile_schedule", "SCHEDULER_RECONCILE_SCHEDULE")

	v.BindEnv("log.level", "LOG_LEVEL")
}

// GetDSN returns the database connection string
func (c *DatabaseConfig) GetDSN() string {
	if c.Driver == "sqlite" {
		return c.SQLitePath
	}
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		c.User, c.Password, c.Host, c.Port, c.DBName)
}

// Location resolves the configured sync time zone
func (c *SyncConfig) Location() (*time.Location, error) {
	if c.TimeZone == "" || c.TimeZone == "Local" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.TimeZone)
	if err != nil {
		return nil, fmt.Errorf("invalid sync timezone %q: %w", c.TimeZone, err)
	}
	return loc, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}

	switch c.Database.Driver {
	case "mysql":
		if c.Database.Host == "" || c.Database.User == "" || c.Database.DBName == "" {
			return fmt.Errorf("database host, user, and dbname are required")
		}
	case "sqlite":
		if c.Database.SQLitePath == "" {
			return fmt.Errorf("database sqlite_path is required for the sqlite driver")
		}
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}

	switch c.Source.Kind {
	case "google":
		if c.Source.ClientID == "" || c.Source.ClientSecret == "" || c.Source.RefreshToken == "" {
			return fmt.Errorf("Google OAuth2 credentials are required for the google source")
		}
	case "ics":
		if len(c.Source.ICSFeeds) == 0 {
			return fmt.Errorf("at least one ICS feed is required for the ics source")
		}
	default:
		return fmt.Errorf("unsupported source kind %q", c.Source.Kind)
	}

	if c.IMAP.Enabled && (c.IMAP.User == "" || c.IMAP.Password == "") {
		return fmt.Errorf("IMAP credentials are required when the invitation watcher is enabled")
	}

	if c.Remote.BaseURL == "" {
		return fmt.Errorf("remote base_url is required")
	}

	if c.Sync.WindowDays <= 0 {
		return fmt.Errorf("sync window must be greater than 0 days")
	}
	if _, err := c.Sync.Location(); err != nil {
		return err
	}

	if c.Dispatch.BatchSize <= 0 {
		return fmt.Errorf("dispatch batch size must be greater than 0")
	}

	if c.Scheduler.NotificationIntervalSeconds <= 0 || c.Scheduler.DispatchIntervalSeconds <= 0 {
		return fmt.Errorf("scheduler intervals must be greater than 0")
	}

	return nil
}
