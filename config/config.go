package config

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"goshawk/core"
)

// InputConfig selects the scan input. Exactly one of File, Directory
// and S3URI must be set.
type InputConfig struct {
	File      string `mapstructure:"file"`
	Directory string `mapstructure:"directory"`
	S3URI     string `mapstructure:"s3_uri"`
}

// OutputConfig selects sinks and rendering options. CSV, JSON and
// JSONL are independent flags; with none set and no path configured,
// records go to the console.
type OutputConfig struct {
	Path        string `mapstructure:"path"`
	CSV         bool   `mapstructure:"csv"`
	JSON        bool   `mapstructure:"json"`
	JSONL       bool   `mapstructure:"jsonl"`
	Raw         bool   `mapstructure:"raw"`
	NoColor     bool   `mapstructure:"no_color"`
	NoSummary   bool   `mapstructure:"no_summary"`
	NoFrequency bool   `mapstructure:"no_frequency"`
	Profile     string `mapstructure:"profile"`
}

// TimeConfig is the time-window filter configuration. Start/End are
// RFC 3339; Offset is a relative recency like "90d". Offset excludes
// Start/End.
type TimeConfig struct {
	Start  string `mapstructure:"start"`
	End    string `mapstructure:"end"`
	Offset string `mapstructure:"offset"`
}

// ScanConfig bounds the pipeline's resources.
type ScanConfig struct {
	ChunkSize int `mapstructure:"chunk_size" validate:"gt=0"`
	Workers   int `mapstructure:"workers" validate:"gte=0"`
}

// Config holds the full scan configuration.
type Config struct {
	LogSource string `mapstructure:"log_source" validate:"omitempty,oneof=aws azure"`
	RulesDir  string `mapstructure:"rules_dir" validate:"required"`
	MinLevel  string `mapstructure:"min_level" validate:"omitempty,oneof=informational low medium high critical"`

	Input  InputConfig  `mapstructure:"input"`
	Output OutputConfig `mapstructure:"output"`
	Time   TimeConfig   `mapstructure:"time"`
	Scan   ScanConfig   `mapstructure:"scan"`

	GeoIPDir string `mapstructure:"geoip_dir"`
}

// Load reads configuration from an optional config file plus GOSHAWK_*
// environment overrides and validates the result. CLI flags are bound
// onto the same viper instance before calling Load.
func Load(v *viper.Viper) (*Config, error) {
	setDefaults(v)

	v.SetEnvPrefix("GOSHAWK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if cfgFile := v.GetString("config"); cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log_source", "aws")
	v.SetDefault("min_level", core.LevelInformational)
	v.SetDefault("scan.chunk_size", 1000)
	v.SetDefault("scan.workers", 0) // 0 means GOMAXPROCS
}

// Validate checks field constraints and the cross-field rules the
// pipeline depends on.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	inputs := 0
	for _, in := range []string{c.Input.File, c.Input.Directory, c.Input.S3URI} {
		if in != "" {
			inputs++
		}
	}
	if inputs == 0 {
		return fmt.Errorf("no input: one of file, directory or s3 URI is required")
	}
	if inputs > 1 {
		return fmt.Errorf("file, directory and s3 URI are mutually exclusive")
	}

	if c.Time.Offset != "" && (c.Time.Start != "" || c.Time.End != "") {
		return fmt.Errorf("time offset cannot be combined with absolute start/end times")
	}
	// Surface bad time strings at startup rather than mid-scan.
	if _, err := core.NewTimeFilter(c.Time.Start, c.Time.End, c.Time.Offset); err != nil {
		return err
	}

	if (c.Output.CSV || c.Output.JSON || c.Output.JSONL) && c.Output.Path == "" {
		return fmt.Errorf("output path is required when a file sink is enabled")
	}
	if c.Output.Raw && !c.Output.JSON && !c.Output.JSONL {
		return fmt.Errorf("raw output only applies to the json and jsonl sinks")
	}
	return nil
}
