// Package config handles import tool configuration loading and management.
package config

// Config holds all import settings.
type Config struct {
	Import  ImportConfig  `yaml:"import"`
	Output  OutputConfig  `yaml:"output"`
	Logging LoggingConfig `yaml:"logging"`
}

// ImportConfig controls how scenes are assembled.
type ImportConfig struct {
	Skinning bool `yaml:"skinning"` // Resolve skin deformers

	// GRF archive that model paths are read from. Empty reads from disk.
	Archive string `yaml:"archive"`

	// RSM face emission
	ReverseWinding   bool `yaml:"reverse_winding"`
	ForceAllTwoSided bool `yaml:"force_all_two_sided"`

	// Bones shorter than this are reported as degenerate.
	DegenerateBoneEpsilon float32 `yaml:"degenerate_bone_epsilon"`
}

// OutputConfig controls the import report.
type OutputConfig struct {
	ReportPath   string `yaml:"report_path"` // Empty writes to stdout
	ListJoints   bool   `yaml:"list_joints"`
	ListWarnings bool   `yaml:"list_warnings"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	LogFile    string `yaml:"log_file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		Import: ImportConfig{
			Skinning:              true,
			DegenerateBoneEpsilon: 1e-4,
		},
		Output: OutputConfig{
			ListJoints:   true,
			ListWarnings: true,
		},
		Logging: LoggingConfig{
			Level:      "info",
			MaxSizeMB:  50,
			MaxBackups: 3,
			MaxAgeDays: 7,
			Compress:   true,
		},
	}
}
