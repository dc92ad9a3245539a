package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Config represents runtime configuration for the service.
type Config struct {
	BasicConfig BasicConfig               `json:"basic_config"`
	Databases   map[string]DatabaseConfig `json:"databases"`
	Redis       RedisConfig               `json:"redis"`
	Board       BoardConfig               `json:"board"`
	Discovery   DiscoveryConfig           `json:"discovery"`
}

type BasicConfig struct {
	ServerAddress     string `json:"server_address"`
	TokenTTLHours     int    `json:"token_ttl_hours"`
	AllowGuests       bool   `json:"allow_guests"`
	SessionQueueSize  int    `json:"session_queue_size"`
	SendBufferSize    int    `json:"send_buffer_size"`
	MinWorkers        int    `json:"min_workers"`
	MaxWorkers        int    `json:"max_workers"`
	QueueSize         int    `json:"queue_size"`
	WorkerIdleTimeout int    `json:"worker_idle_timeout"` // minutes
}

// DatabaseConfig covers both file based (DSN) and networked drivers.
type DatabaseConfig struct {
	DSN      string `json:"dsn"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
	DBName   string `json:"db_name"`
	Params   string `json:"params"`
}

type RedisConfig struct {
	Enabled  bool   `json:"enabled"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

// BoardConfig describes the canvas every session shares.
type BoardConfig struct {
	Width       int     `json:"width"`
	Height      int     `json:"height"`
	StrokeWidth float64 `json:"stroke_width"`
	EraserWidth float64 `json:"eraser_width"`
	Background  string  `json:"background"`
}

type DiscoveryConfig struct {
	Enabled  bool   `json:"enabled"`
	Instance string `json:"instance"`
}

const (
	DefaultServerAddress    = ":8090"
	DefaultSessionQueueSize = 256
	DefaultSendBufferSize   = 256
	DefaultBoardWidth       = 800
	DefaultBoardHeight      = 600
	DefaultStrokeWidth      = 5
	DefaultEraserWidth      = 25
	DefaultBackground       = "#ffffff"
)

// Default returns a configuration usable without a file: in-memory sqlite,
// no redis, no discovery.
func Default() *Config {
	cfg := &Config{
		Databases: map[string]DatabaseConfig{
			"sqlite3": {DSN: ":memory:"},
		},
	}
	cfg.applyDefaults()
	return cfg
}

// Load reads configuration from the provided path (defaults to config.json).
func Load(path string) (*Config, error) {
	if path == "" {
		path = "config.json"
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}

	file, err := os.Open(absPath)
	if err != nil {
		return nil, fmt.Errorf("open config %s: %w", absPath, err)
	}
	defer file.Close()

	var cfg Config
	if err := json.NewDecoder(file).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if len(cfg.Databases) == 0 {
		return nil, fmt.Errorf("at least one database must be configured")
	}

	// sqlite files are resolved relative to the config file
	for name, db := range cfg.Databases {
		if !isSQLite(name) || db.DSN == "" || db.DSN == ":memory:" || strings.HasPrefix(db.DSN, "file:") {
			continue
		}
		if !filepath.IsAbs(db.DSN) {
			db.DSN = filepath.Join(filepath.Dir(absPath), db.DSN)
			cfg.Databases[name] = db
		}
	}

	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.BasicConfig.ServerAddress == "" {
		c.BasicConfig.ServerAddress = DefaultServerAddress
	}
	if c.BasicConfig.TokenTTLHours <= 0 {
		c.BasicConfig.TokenTTLHours = 24
	}
	if c.BasicConfig.SessionQueueSize <= 0 {
		c.BasicConfig.SessionQueueSize = DefaultSessionQueueSize
	}
	if c.BasicConfig.SendBufferSize <= 0 {
		c.BasicConfig.SendBufferSize = DefaultSendBufferSize
	}
	if c.BasicConfig.MinWorkers <= 0 {
		c.BasicConfig.MinWorkers = 1
	}
	if c.BasicConfig.MaxWorkers < c.BasicConfig.MinWorkers {
		c.BasicConfig.MaxWorkers = c.BasicConfig.MinWorkers + 3
	}
	if c.BasicConfig.QueueSize <= 0 {
		c.BasicConfig.QueueSize = 64
	}
	if c.Board.Width <= 0 {
		c.Board.Width = DefaultBoardWidth
	}
	if c.Board.Height <= 0 {
		c.Board.Height = DefaultBoardHeight
	}
	if c.Board.StrokeWidth <= 0 {
		c.Board.StrokeWidth = DefaultStrokeWidth
	}
	if c.Board.EraserWidth <= 0 {
		c.Board.EraserWidth = DefaultEraserWidth
	}
	if c.Board.Background == "" {
		c.Board.Background = DefaultBackground
	}
}

func isSQLite(name string) bool {
	switch strings.ToLower(name) {
	case "sqlite", "sqlite3":
		return true
	}
	return false
}
