package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadConfigDefaultsWithoutFile(t *testing.T) {
	cfg, err := loadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("loadConfig failed: %v", err)
	}
	if cfg.Population.Root != "population" || cfg.Population.Count != 20 {
		t.Errorf("population defaults = %+v", cfg.Population)
	}
	if cfg.Run.MaxParallel != 2 || cfg.Run.Eta != 5.0 {
		t.Errorf("run defaults = %+v", cfg.Run)
	}
	if cfg.Run.TickInterval != time.Second {
		t.Errorf("tick interval = %v", cfg.Run.TickInterval)
	}
	if cfg.Run.Selection != "roulette" {
		t.Errorf("selection = %q", cfg.Run.Selection)
	}
}

func TestLoadConfigOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "asterion.yaml")
	data := `
population:
  root: /data/pop
  count: 8
  layer_sizes: [4, 6, 5]
run:
  game_bin: /usr/bin/fruitgame
  agent_bin: /usr/bin/fruitagent
  max_parallel: 4
  tick_interval: 250ms
  level_weight: 50
store:
  kind: memory
api:
  listen: 127.0.0.1:9999
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := loadConfig(path)
	if err != nil {
		t.Fatalf("loadConfig failed: %v", err)
	}
	if cfg.Population.Root != "/data/pop" || cfg.Population.Count != 8 {
		t.Errorf("population = %+v", cfg.Population)
	}
	if len(cfg.Population.LayerSizes) != 3 || cfg.Population.LayerSizes[1] != 6 {
		t.Errorf("layer sizes = %v", cfg.Population.LayerSizes)
	}
	if cfg.Run.MaxParallel != 4 || cfg.Run.GameBin != "/usr/bin/fruitgame" {
		t.Errorf("run = %+v", cfg.Run)
	}
	if cfg.Run.TickInterval != 250*time.Millisecond {
		t.Errorf("tick interval = %v", cfg.Run.TickInterval)
	}
	if cfg.Run.LevelWeight != 50 {
		t.Errorf("level weight = %v", cfg.Run.LevelWeight)
	}
	if cfg.Store.Kind != "memory" || cfg.API.Listen != "127.0.0.1:9999" {
		t.Errorf("store=%+v api=%+v", cfg.Store, cfg.API)
	}
	// Untouched fields keep their defaults.
	if cfg.Run.Eta != 5.0 || cfg.Run.Selection != "roulette" {
		t.Errorf("defaults lost: %+v", cfg.Run)
	}
}

func TestLoadConfigRejectsBadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.yaml")
	if err := os.WriteFile(path, []byte("run: [not: a map"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := loadConfig(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestConfigInitWritesAndRefusesOverwrite(t *testing.T) {
	orig := configPath
	defer func() { configPath = orig }()
	configPath = filepath.Join(t.TempDir(), "asterion.yaml")

	cmd := newConfigCmd()
	cmd.SetArgs([]string{"init"})
	var out bytes.Buffer
	cmd.SetOut(&out)

	if err := cmd.Execute(); err != nil {
		t.Fatalf("config init failed: %v", err)
	}
	data, err := os.ReadFile(configPath)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "population:") || !strings.Contains(string(data), "max_parallel:") {
		t.Errorf("written config incomplete:\n%s", data)
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		t.Fatalf("reload of written config failed: %v", err)
	}
	if cfg.Run.MaxParallel != 2 {
		t.Errorf("round-tripped max_parallel = %d", cfg.Run.MaxParallel)
	}

	cmd = newConfigCmd()
	cmd.SetArgs([]string{"init"})
	cmd.SetOut(&out)
	if err := cmd.Execute(); err == nil {
		t.Fatal("second init should refuse to overwrite")
	}
}
