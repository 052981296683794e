// Package config handles animchan configuration loading and management.
package config

// Config holds all tool settings.
type Config struct {
	Import  ImportConfig  `yaml:"import"`
	Report  ReportConfig  `yaml:"report"`
	Logging LoggingConfig `yaml:"logging"`
}

// ImportConfig controls how scene files are located and parsed.
type ImportConfig struct {
	GRFPaths    []string `yaml:"grf_paths"`    // Archives searched when the path is not on disk
	DecodeNames bool     `yaml:"decode_names"` // Decode EUC-KR names in RSM models
	Format      string   `yaml:"format"`       // Force "rsm" or "gltf"; empty sniffs the file
}

// ReportConfig controls what is printed besides the channel lines.
type ReportConfig struct {
	Summary    bool `yaml:"summary"`     // Print per-animation summary to stdout
	CheckNodes bool `yaml:"check_nodes"` // Warn about channels targeting unknown nodes
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level   string `yaml:"level"`
	LogFile string `yaml:"log_file"`
}

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		Import: ImportConfig{
			DecodeNames: true,
		},
		Report: ReportConfig{
			Summary:    false,
			CheckNodes: true,
		},
		Logging: LoggingConfig{
			Level:   "warn",
			LogFile: "",
		},
	}
}
