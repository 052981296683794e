package config

import (
	"bytes"
	"errors"
	"flag"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if !cfg.Import.DecodeNames {
		t.Error("expected decode_names to be true by default")
	}
	if len(cfg.Import.GRFPaths) != 0 {
		t.Errorf("expected no GRF paths, got %v", cfg.Import.GRFPaths)
	}
	if cfg.Import.Format != "" {
		t.Errorf("expected empty format, got %q", cfg.Import.Format)
	}

	if cfg.Report.Summary {
		t.Error("expected summary to be false by default")
	}
	if !cfg.Report.CheckNodes {
		t.Error("expected check_nodes to be true by default")
	}

	if cfg.Logging.Level != "warn" {
		t.Errorf("expected log level 'warn', got %s", cfg.Logging.Level)
	}
	if cfg.Logging.LogFile != "" {
		t.Errorf("expected empty log file, got %s", cfg.Logging.LogFile)
	}
}

func TestLoadFromFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "animchan.yaml")

	yamlContent := `
import:
  grf_paths:
    - "data.grf"
    - "rdata.grf"
  decode_names: false
  format: "rsm"

report:
  summary: true
  check_nodes: false

logging:
  level: "debug"
  log_file: "animchan.log"
`

	if err := os.WriteFile(configPath, []byte(yamlContent), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg := Default()
	if err := loadFromFile(cfg, configPath); err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if len(cfg.Import.GRFPaths) != 2 || cfg.Import.GRFPaths[1] != "rdata.grf" {
		t.Errorf("unexpected grf paths: %v", cfg.Import.GRFPaths)
	}
	if cfg.Import.DecodeNames {
		t.Error("expected decode_names to be false")
	}
	if cfg.Import.Format != "rsm" {
		t.Errorf("expected format 'rsm', got %q", cfg.Import.Format)
	}
	if !cfg.Report.Summary {
		t.Error("expected summary to be true")
	}
	if cfg.Report.CheckNodes {
		t.Error("expected check_nodes to be false")
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("expected log level 'debug', got %s", cfg.Logging.Level)
	}
	if cfg.Logging.LogFile != "animchan.log" {
		t.Errorf("expected log file 'animchan.log', got %s", cfg.Logging.LogFile)
	}
}

func TestLoadFromFilePartial(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "partial.yaml")
	if err := os.WriteFile(configPath, []byte("report:\n  summary: true\n"), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg := Default()
	if err := loadFromFile(cfg, configPath); err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	// Untouched keys keep their defaults.
	if !cfg.Report.CheckNodes {
		t.Error("expected check_nodes default to survive partial file")
	}
	if !cfg.Import.DecodeNames {
		t.Error("expected decode_names default to survive partial file")
	}
}

func TestLoadFromFileInvalid(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "invalid.yaml")

	invalidYAML := `
import:
  decode_names: not a bool
  invalid syntax here
`

	if err := os.WriteFile(configPath, []byte(invalidYAML), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg := Default()
	if err := loadFromFile(cfg, configPath); err == nil {
		t.Error("expected error loading invalid YAML, got nil")
	}
}

func TestLoadFromFileMissing(t *testing.T) {
	cfg := Default()
	if err := loadFromFile(cfg, "/nonexistent/path/config.yaml"); err == nil {
		t.Error("expected error loading missing file, got nil")
	}
}

func TestConfigDir(t *testing.T) {
	dir := ConfigDir()
	if dir == "" {
		t.Error("ConfigDir returned empty string")
	}
	if !filepath.IsAbs(dir) {
		t.Errorf("ConfigDir should return absolute path, got %s", dir)
	}
}

func TestFindConfigFile(t *testing.T) {
	origDir, _ := os.Getwd()
	defer os.Chdir(origDir)

	tmpDir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(tmpDir, "xdg"))
	t.Setenv("HOME", tmpDir)
	os.Chdir(tmpDir)

	if path := findConfigFile(); path != "" {
		t.Errorf("expected empty path when no config exists, got %s", path)
	}

	configPath := filepath.Join(tmpDir, "animchan.yaml")
	if err := os.WriteFile(configPath, []byte("report:\n  summary: true\n"), 0644); err != nil {
		t.Fatalf("failed to create test config: %v", err)
	}

	if path := findConfigFile(); path == "" {
		t.Error("expected to find animchan.yaml in current directory")
	}
}

func TestParseFlags(t *testing.T) {
	var out bytes.Buffer
	f, err := ParseFlags("animchan", []string{"-debug", "-grf", "a.grf, b.grf", "-format", "GLTF", "-summary", "model.rsm"}, &out)
	if err != nil {
		t.Fatalf("ParseFlags failed: %v", err)
	}

	if !f.Debug || !f.Summary {
		t.Errorf("bool flags not set: %+v", f)
	}
	if len(f.Args) != 1 || f.Args[0] != "model.rsm" {
		t.Errorf("Args = %v, want [model.rsm]", f.Args)
	}

	cfg := Default()
	applyFlags(cfg, f)

	if cfg.Logging.Level != "debug" {
		t.Errorf("expected log level 'debug', got %s", cfg.Logging.Level)
	}
	if len(cfg.Import.GRFPaths) != 2 || cfg.Import.GRFPaths[0] != "a.grf" || cfg.Import.GRFPaths[1] != "b.grf" {
		t.Errorf("unexpected grf paths: %v", cfg.Import.GRFPaths)
	}
	if cfg.Import.Format != "gltf" {
		t.Errorf("expected format 'gltf', got %q", cfg.Import.Format)
	}
	if !cfg.Report.Summary {
		t.Error("expected summary enabled by flag")
	}
}

func TestParseFlagsHelp(t *testing.T) {
	var out bytes.Buffer
	_, err := ParseFlags("animchan", []string{"-h"}, &out)
	if !errors.Is(err, flag.ErrHelp) {
		t.Fatalf("expected flag.ErrHelp, got %v", err)
	}
	if !strings.HasPrefix(out.String(), "usage: animchan <file>\n") {
		t.Errorf("unexpected usage output: %q", out.String())
	}
}

func TestParseFlagsUnknown(t *testing.T) {
	var out bytes.Buffer
	if _, err := ParseFlags("animchan", []string{"-bogus"}, &out); err == nil {
		t.Error("expected error for unknown flag")
	}
}

func TestLoadPriority(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "animchan.yaml")

	yamlContent := `
import:
  format: "rsm"
  grf_paths: ["data.grf"]
logging:
  level: "info"
`

	if err := os.WriteFile(configPath, []byte(yamlContent), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	f := &Flags{ConfigPath: configPath, Format: "gltf", GRF: "extra.grf"}
	cfg, err := Load(f)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if cfg.Import.Format != "gltf" {
		t.Errorf("expected format 'gltf' from flag, got %q", cfg.Import.Format)
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("expected level 'info' from file, got %s", cfg.Logging.Level)
	}
	if len(cfg.Import.GRFPaths) != 2 || cfg.Import.GRFPaths[1] != "extra.grf" {
		t.Errorf("expected flag archive appended to file archives, got %v", cfg.Import.GRFPaths)
	}
}

func TestLoadBadFile(t *testing.T) {
	_, err := Load(&Flags{ConfigPath: "/nonexistent/animchan.yaml"})
	if err == nil {
		t.Fatal("expected error for missing explicit config")
	}
	if !strings.Contains(err.Error(), "/nonexistent/animchan.yaml") {
		t.Errorf("error should name the path: %v", err)
	}
}

func TestSaveTo(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "out.yaml")

	cfg := Default()
	cfg.Import.GRFPaths = []string{"data.grf"}
	cfg.Report.Summary = true
	if err := cfg.SaveTo(path); err != nil {
		t.Fatalf("SaveTo failed: %v", err)
	}

	loaded := &Config{}
	if err := loadFromFile(loaded, path); err != nil {
		t.Fatalf("failed to reload saved config: %v", err)
	}
	if !loaded.Report.Summary || len(loaded.Import.GRFPaths) != 1 || loaded.Logging.Level != "warn" {
		t.Errorf("saved config did not round-trip: %+v", loaded)
	}
}
