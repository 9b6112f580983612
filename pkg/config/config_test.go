package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "https://api.twitter.com/1.1", cfg.API.BaseURL)
	assert.Equal(t, 200, cfg.API.PageSize)
	assert.Equal(t, 60, cfg.RateLimit.RequestsPerMinute)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "data", cfg.Capture.Prefix)
	assert.Equal(t, 15*time.Minute, cfg.Capture.SaveInterval)
	assert.True(t, cfg.Capture.Compress)
	assert.NoError(t, cfg.Validate())
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("TWARCHIVE_CONSUMER_KEY", "ck")
	t.Setenv("TWARCHIVE_CONSUMER_SECRET", "cs")
	t.Setenv("TWARCHIVE_DB_DRIVER", "postgres")
	t.Setenv("TWARCHIVE_DB_DSN", "postgres://localhost/archive")
	t.Setenv("TWARCHIVE_PAGE_SIZE", "100")
	t.Setenv("TWARCHIVE_SAVE_INTERVAL", "90s")
	t.Setenv("TWARCHIVE_COMPRESS", "false")
	t.Setenv("TWARCHIVE_LOG_LEVEL", "debug")

	cfg := DefaultConfig()
	require.NoError(t, cfg.LoadFromEnv())

	assert.Equal(t, "ck", cfg.API.ConsumerKey)
	assert.Equal(t, "cs", cfg.API.ConsumerSecret)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, "postgres://localhost/archive", cfg.Database.DSN)
	assert.Equal(t, 100, cfg.API.PageSize)
	assert.Equal(t, 90*time.Second, cfg.Capture.SaveInterval)
	assert.False(t, cfg.Capture.Compress)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoadFromEnvRejectsBadNumbers(t *testing.T) {
	t.Setenv("TWARCHIVE_PAGE_SIZE", "lots")
	t.Setenv("TWARCHIVE_SAVE_INTERVAL", "soon")

	err := DefaultConfig().LoadFromEnv()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "TWARCHIVE_PAGE_SIZE")
	assert.Contains(t, err.Error(), "TWARCHIVE_SAVE_INTERVAL")
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
api:
  default_account: archivist
  max_pages: 4
capture:
  data_dir: /var/lib/capture
  save_interval: 5m
database:
  driver: sqlite
  dsn: /tmp/archive.db
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg := DefaultConfig()
	require.NoError(t, cfg.LoadFromFile(path))

	assert.Equal(t, "archivist", cfg.API.DefaultAccount)
	assert.Equal(t, 4, cfg.API.MaxPages)
	assert.Equal(t, "/var/lib/capture", cfg.Capture.DataDir)
	assert.Equal(t, 5*time.Minute, cfg.Capture.SaveInterval)
	assert.Equal(t, "/tmp/archive.db", cfg.Database.DSN)
	// untouched sections keep their defaults
	assert.Equal(t, 200, cfg.API.PageSize)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"bad driver", func(c *Config) { c.Database.Driver = "mysql" }, "unsupported database driver"},
		{"empty dsn", func(c *Config) { c.Database.DSN = "" }, "database DSN is required"},
		{"page size too large", func(c *Config) { c.API.PageSize = 500 }, "page size"},
		{"negative interval", func(c *Config) { c.Capture.SaveInterval = -time.Second }, "save interval"},
		{"min above max", func(c *Config) {
			c.RateLimit.MinDelay = time.Minute
			c.RateLimit.MaxDelay = time.Second
		}, "min delay exceeds max delay"},
		{"bad level", func(c *Config) { c.Logging.Level = "loud" }, "invalid log level"},
		{"bad format", func(c *Config) { c.Logging.Format = "xml" }, "invalid log format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadPrecedence(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	path := filepath.Join(home, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("logging:\n  level: warn\ndatabase:\n  dsn: file.db\n"), 0644))

	t.Setenv("TWARCHIVE_DB_DSN", "env.db")

	cfg, err := Load(path, map[string]interface{}{"log-level": "debug"})
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Logging.Level, "flags override the file")
	assert.Equal(t, "env.db", cfg.Database.DSN, "environment overrides the file")
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cfg := DefaultConfig()
	cfg.API.DefaultAccount = "saved"
	require.NoError(t, cfg.Save(path))

	loaded := DefaultConfig()
	require.NoError(t, loaded.LoadFromFile(path))
	assert.Equal(t, "saved", loaded.API.DefaultAccount)
	assert.Equal(t, cfg.Capture.SaveInterval, loaded.Capture.SaveInterval)
}
