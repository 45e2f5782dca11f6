package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	EnvDev   = "dev"
	EnvStage = "stage"
	EnvProd  = "prod"
)

const (
	StorageFile   = "file"
	StorageSQLite = "sqlite"
)

type Config struct {
	Env          string `yaml:"env"`
	API          `yaml:"api"`
	Channel      `yaml:"channel"`
	Storage      `yaml:"storage"`
	Log          `yaml:"log"`
	Availability `yaml:"availability"`
	DevServer    `yaml:"devserver"`
}

type API struct {
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
}

var defaultAPI = API{
	BaseURL: "http://localhost:1337",
	Timeout: 15 * time.Second,
}

type Channel struct {
	URL                  string        `yaml:"url"`
	ReconnectBaseDelay   time.Duration `yaml:"reconnect_base_delay"`
	MaxReconnectAttempts int           `yaml:"max_reconnect_attempts"`
	DialTimeout          time.Duration `yaml:"dial_timeout"`
}

var defaultChannel = Channel{
	URL:                  "ws://localhost:1337/ws",
	ReconnectBaseDelay:   time.Second,
	MaxReconnectAttempts: 5,
	DialTimeout:          10 * time.Second,
}

type Storage struct {
	Driver string `yaml:"driver"`
	Path   string `yaml:"path"`
}

type Log struct {
	Level string `yaml:"level"`
}

type Availability struct {
	Debounce time.Duration `yaml:"debounce"`
}

type DevServer struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	JWTSecret       string        `yaml:"jwt_secret"`
	TokenTTL        time.Duration `yaml:"token_ttl"`
	ShortCodeLength int           `yaml:"short_code_length"`
}

var defaultDevServer = DevServer{
	Port:            1337,
	ReadTimeout:     5 * time.Second,
	WriteTimeout:    10 * time.Second,
	IdleTimeout:     time.Minute,
	JWTSecret:       "dev-secret",
	TokenTTL:        24 * time.Hour,
	ShortCodeLength: 6,
}

func (s *DevServer) Addr() string {
	return fmt.Sprintf(":%d", s.Port)
}

// Load reads the YAML config at path on top of the defaults and then applies
// environment overrides. An empty path skips the file.
func Load(path string) (*Config, error) {
	const op = "config.Load"

	var cfg Config
	setDefaults(&cfg)

	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("%s: failed to open config file: %w", op, err)
		}
		defer f.Close()

		if err := yaml.NewDecoder(f).Decode(&cfg); err != nil {
			return nil, fmt.Errorf("%s: failed to decode config file: %w", op, err)
		}
	}

	applyEnv(&cfg)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &cfg, nil
}

func setDefaults(cfg *Config) {
	cfg.Env = EnvDev
	cfg.API = defaultAPI
	cfg.Channel = defaultChannel
	cfg.Storage = Storage{
		Driver: StorageFile,
		Path:   defaultStoragePath(),
	}
	cfg.Log = Log{Level: "info"}
	cfg.Availability = Availability{Debounce: 500 * time.Millisecond}
	cfg.DevServer = defaultDevServer
}

func defaultStoragePath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "shortener-session.json"
	}
	return filepath.Join(dir, "shortener", "session.json")
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("SHORTENER_API_URL"); v != "" {
		cfg.API.BaseURL = v
	}
	if v := os.Getenv("SHORTENER_WS_URL"); v != "" {
		cfg.Channel.URL = v
	}
	if v := os.Getenv("SHORTENER_STORAGE_PATH"); v != "" {
		cfg.Storage.Path = v
	}
	if v := os.Getenv("SHORTENER_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
}

func (c *Config) validate() error {
	switch c.Storage.Driver {
	case StorageFile, StorageSQLite:
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}
	if c.Channel.MaxReconnectAttempts < 0 {
		return errors.New("max_reconnect_attempts must not be negative")
	}
	if c.DevServer.ShortCodeLength < 3 || c.DevServer.ShortCodeLength > 20 {
		return errors.New("short_code_length must be between 3 and 20")
	}
	if c.Channel.ReconnectBaseDelay <= 0 {
		return errors.New("reconnect_base_delay must be positive")
	}
	return nil
}
