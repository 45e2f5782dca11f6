package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoad(t *testing.T) {
	t.Run("non-existent config file", func(t *testing.T) {
		cfg, err := Load("invalid/path/to/config.yml")

		assert.Error(t, err)
		assert.ErrorIs(t, err, os.ErrNotExist)
		assert.Nil(t, cfg)
	})

	t.Run("invalid config file", func(t *testing.T) {
		data := `channel:
  max_reconnect_attempts: not number`

		f := createTempFile(t, []byte(data))
		cfg, err := Load(f.Name())

		assert.Error(t, err)
		assert.Nil(t, cfg)
	})

	t.Run("unknown storage driver", func(t *testing.T) {
		data := `storage:
  driver: redis`

		f := createTempFile(t, []byte(data))
		cfg, err := Load(f.Name())

		assert.Error(t, err)
		assert.Nil(t, cfg)
	})

	t.Run("short code length out of range", func(t *testing.T) {
		data := `devserver:
  short_code_length: 2`

		f := createTempFile(t, []byte(data))
		cfg, err := Load(f.Name())

		assert.Error(t, err)
		assert.Nil(t, cfg)
	})

	t.Run("empty path uses defaults", func(t *testing.T) {
		cfg, err := Load("")

		assert.NoError(t, err)

		var wantCfg Config
		setDefaults(&wantCfg)

		assert.Equal(t, wantCfg, *cfg)
	})

	t.Run("success", func(t *testing.T) {
		data := `env: prod
api:
  base_url: https://api.example.com
channel:
  url: wss://api.example.com/ws
  reconnect_base_delay: 2s
  max_reconnect_attempts: 3
storage:
  driver: sqlite
  path: ./session.db`

		f := createTempFile(t, []byte(data))
		cfg, err := Load(f.Name())

		assert.NoError(t, err)
		assert.NotNil(t, cfg)

		var wantCfg Config
		setDefaults(&wantCfg)

		wantCfg.Env = EnvProd
		wantCfg.API.BaseURL = "https://api.example.com"
		wantCfg.Channel.URL = "wss://api.example.com/ws"
		wantCfg.Channel.ReconnectBaseDelay = 2 * time.Second
		wantCfg.Channel.MaxReconnectAttempts = 3
		wantCfg.Storage.Driver = StorageSQLite
		wantCfg.Storage.Path = "./session.db"

		assert.Equal(t, wantCfg, *cfg)
	})

	t.Run("env overrides", func(t *testing.T) {
		t.Setenv("SHORTENER_API_URL", "https://env.example.com")
		t.Setenv("SHORTENER_WS_URL", "wss://env.example.com/ws")
		t.Setenv("SHORTENER_STORAGE_PATH", "/tmp/session.json")
		t.Setenv("SHORTENER_LOG_LEVEL", "debug")

		cfg, err := Load("")

		assert.NoError(t, err)
		assert.Equal(t, "https://env.example.com", cfg.API.BaseURL)
		assert.Equal(t, "wss://env.example.com/ws", cfg.Channel.URL)
		assert.Equal(t, "/tmp/session.json", cfg.Storage.Path)
		assert.Equal(t, "debug", cfg.Log.Level)
	})
}

func createTempFile(t testing.TB, data []byte) *os.File {
	t.Helper()

	f, err := os.CreateTemp("", "config.yml")
	if err != nil {
		t.Fatalf("Failed to create temp file: %v", err)
	}
	t.Cleanup(func() {
		f.Close()
		os.Remove(f.Name())
	})

	if _, err := f.Write(data); err != nil {
		t.Fatalf("Failed to write to file: %v", err)
	}

	return f
}

func TestDevServer_Addr(t *testing.T) {
	s := DevServer{Port: 1337}

	assert.Equal(t, ":1337", s.Addr())
}
