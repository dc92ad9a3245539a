package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadResolvesSQLitePathAndDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	body := `{
		"basic_config": {"server_address": ":9000", "allow_guests": true},
		"databases": {"sqlite3": {"dsn": "data/board.db"}},
		"board": {"stroke_width": 3}
	}`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.BasicConfig.ServerAddress != ":9000" || !cfg.BasicConfig.AllowGuests {
		t.Fatalf("basic config not decoded: %+v", cfg.BasicConfig)
	}
	want := filepath.Join(dir, "data/board.db")
	if got := cfg.Databases["sqlite3"].DSN; got != want {
		t.Fatalf("sqlite dsn not resolved: want %s got %s", want, got)
	}
	if cfg.Board.StrokeWidth != 3 || cfg.Board.EraserWidth != DefaultEraserWidth {
		t.Fatalf("board widths: %+v", cfg.Board)
	}
	if cfg.Board.Width != DefaultBoardWidth || cfg.Board.Background != DefaultBackground {
		t.Fatalf("board defaults missing: %+v", cfg.Board)
	}
	if cfg.BasicConfig.MaxWorkers < cfg.BasicConfig.MinWorkers {
		t.Fatalf("worker bounds inverted: %+v", cfg.BasicConfig)
	}
}

func TestLoadRequiresDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(`{"basic_config": {}}`), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatalf("expected error without databases")
	}
}

func TestLoadKeepsMemoryDSN(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(`{"databases": {"sqlite3": {"dsn": ":memory:"}}}`), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.Databases["sqlite3"].DSN != ":memory:" {
		t.Fatalf("memory dsn rewritten: %s", cfg.Databases["sqlite3"].DSN)
	}
}
