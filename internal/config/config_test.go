package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		Server:   ServerConfig{Port: "8080"},
		Database: DatabaseConfig{Driver: "sqlite", SQLitePath: "test.db"},
		Source: SourceConfig{
			Kind:         "google",
			ClientID:     "id",
			ClientSecret: "secret",
			RefreshToken: "token",
		},
		Remote:   RemoteConfig{BaseURL: "http://remote.local"},
		Sync:     SyncConfig{WindowDays: 30, TimeZone: "UTC"},
		Dispatch: DispatchConfig{BatchSize: 10},
		Scheduler: SchedulerConfig{
			NotificationIntervalSeconds: 30,
			DispatchIntervalSeconds:     60,
		},
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, 30*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, "mysql", cfg.Database.Driver)
	assert.Equal(t, 3306, cfg.Database.Port)
	assert.Equal(t, "google", cfg.Source.Kind)
	assert.Equal(t, 90, cfg.Sync.WindowDays)
	assert.Equal(t, 200, cfg.Sync.UnfoldMaxScan)
	assert.Equal(t, 1, cfg.Sync.UnfoldBuffer)
	assert.Equal(t, 50, cfg.Dispatch.BatchSize)
	assert.Equal(t, 5, cfg.Dispatch.MaxResends)
	assert.Equal(t, "0 0 */6 * * *", cfg.Scheduler.FullPullSchedule)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("DB_DRIVER", "sqlite")
	t.Setenv("SYNC_WINDOW_DAYS", "14")
	t.Setenv("DISPATCH_BATCH_SIZE", "5")
	t.Setenv("REMOTE_BASE_URL", "http://remote.local")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Server.Port)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, 14, cfg.Sync.WindowDays)
	assert.Equal(t, 5, cfg.Dispatch.BatchSize)
	assert.Equal(t, "http://remote.local", cfg.Remote.BaseURL)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{"valid", func(c *Config) {}, false},
		{"missing port", func(c *Config) { c.Server.Port = "" }, true},
		{"unknown driver", func(c *Config) { c.Database.Driver = "postgres" }, true},
		{"mysql without host", func(c *Config) { c.Database = DatabaseConfig{Driver: "mysql"} }, true},
		{"mysql complete", func(c *Config) {
			c.Database = DatabaseConfig{Driver: "mysql", Host: "db", User: "u", DBName: "ledger"}
		}, false},
		{"sqlite without path", func(c *Config) { c.Database.SQLitePath = "" }, true},
		{"google without token", func(c *Config) { c.Source.RefreshToken = "" }, true},
		{"ics without feeds", func(c *Config) { c.Source.Kind = "ics" }, true},
		{"ics with feeds", func(c *Config) {
			c.Source.Kind = "ics"
			c.Source.ICSFeeds = map[string]string{"a@example.com": "http://feed"}
		}, false},
		{"unknown source", func(c *Config) { c.Source.Kind = "exchange" }, true},
		{"imap without credentials", func(c *Config) { c.IMAP.Enabled = true }, true},
		{"missing remote", func(c *Config) { c.Remote.BaseURL = "" }, true},
		{"zero window", func(c *Config) { c.Sync.WindowDays = 0 }, true},
		{"bad timezone", func(c *Config) { c.Sync.TimeZone = "Mars/Olympus" }, true},
		{"zero batch", func(c *Config) { c.Dispatch.BatchSize = 0 }, true},
		{"zero interval", func(c *Config) { c.Scheduler.DispatchIntervalSeconds = 0 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestGetDSN(t *testing.T) {
	sqlite := DatabaseConfig{Driver: "sqlite", SQLitePath: "/tmp/ledger.db"}
	assert.Equal(t, "/tmp/ledger.db", sqlite.GetDSN())

	mysql := DatabaseConfig{Driver: "mysql", Host: "db", Port: 3306, User: "u", Password: "p", DBName: "ledger"}
	assert.Equal(t, "u:p@tcp(db:3306)/ledger?charset=utf8mb4&parseTime=True&loc=Local", mysql.GetDSN())
}

func TestSyncLocation(t *testing.T) {
	loc, err := (&SyncConfig{TimeZone: "Local"}).Location()
	require.NoError(t, err)
	assert.Equal(t, time.Local, loc)

	loc, err = (&SyncConfig{TimeZone: "UTC"}).Location()
	require.NoError(t, err)
	assert.Equal(t, "UTC", loc.String())
}
