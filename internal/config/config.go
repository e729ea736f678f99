// Package config provides configuration types, defaults, and loading for
// sitekiln, following perles' internal/config shape: a nested
// mapstructure-tagged struct populated by spf13/viper from a YAML file
// plus environment overrides, with a Default() constructor supplying
// every value a bare invocation needs.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"sitekiln/internal/tracing"
)

// Config holds every configuration option for a sitekiln invocation. It
// is distinct from the pipeline definition (§6.1's YAML node graph):
// this Config governs how the engine runs, not what it builds.
type Config struct {
	Pipeline PipelineConfig `mapstructure:"pipeline"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Workers  WorkerConfig   `mapstructure:"workers"`
	Tracing  tracing.Config `mapstructure:"tracing"`
}

// PipelineConfig controls where the pipeline definition lives and which
// execution strategy drives it.
type PipelineConfig struct {
	// DefinitionFile is the YAML pipeline-definition path (§6.1).
	DefinitionFile string `mapstructure:"definition_file"`

	// BuildDir is where node outputs are written.
	BuildDir string `mapstructure:"build_dir"`

	// Strategy selects "sequential", "wave", or "dynamic" (default).
	Strategy string `mapstructure:"strategy"`
}

// CacheConfig controls the Cache Store's on-disk location and behavior.
type CacheConfig struct {
	// Dir is the cache root (also where internal/runstate keeps its
	// run ledger, under "<dir>/runs").
	Dir string `mapstructure:"dir"`

	// HashAlways is loaded from configuration ("cache.hash_always"), but
	// no code reads it: the Cache Store's timestamp fast path stays in
	// use whatever its value.
	HashAlways bool `mapstructure:"hash_always"`
}

// WorkerConfig controls the shared Worker Pool's size.
type WorkerConfig struct {
	// Count is the number of concurrent workers. Zero means
	// runtime.NumCPU().
	Count int `mapstructure:"count"`
}

// Default returns the configuration a bare `sitekiln run` uses when no
// config file and no flags are present.
func Default() Config {
	return Config{
		Pipeline: PipelineConfig{
			DefinitionFile: "sitekiln.yaml",
			BuildDir:       "dist",
			Strategy:       "dynamic",
		},
		Cache: CacheConfig{
			Dir:        ".sitekiln/cache",
			HashAlways: false,
		},
		Workers: WorkerConfig{
			Count: 0,
		},
		Tracing: tracing.DefaultConfig(),
	}
}

// Load reads configuration from configPath if non-empty, otherwise
// searches ".sitekiln/config.yaml" in the current directory and
// "$HOME/.config/sitekiln/config.yaml", applying Default()'s values as
// defaults and SITEKILN_-prefixed environment variables as overrides.
// A missing config file anywhere in the search path is not an error:
// Default() values are returned as-is.
func Load(configPath string) (Config, error) {
	v := viper.New()
	setDefaults(v, Default())

	v.SetEnvPrefix("SITEKILN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".sitekiln")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", "sitekiln"))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return Config{}, fmt.Errorf("config: reading %s: %w", configPath, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: unmarshaling: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper, d Config) {
	v.SetDefault("pipeline.definition_file", d.Pipeline.DefinitionFile)
	v.SetDefault("pipeline.build_dir", d.Pipeline.BuildDir)
	v.SetDefault("pipeline.strategy", d.Pipeline.Strategy)
	v.SetDefault("cache.dir", d.Cache.Dir)
	v.SetDefault("cache.hash_always", d.Cache.HashAlways)
	v.SetDefault("workers.count", d.Workers.Count)
	v.SetDefault("tracing.enabled", d.Tracing.Enabled)
	v.SetDefault("tracing.exporter", d.Tracing.Exporter)
	v.SetDefault("tracing.file_path", d.Tracing.FilePath)
	v.SetDefault("tracing.sample_rate", d.Tracing.SampleRate)
	v.SetDefault("tracing.service_name", d.Tracing.ServiceName)
}

// Validate checks cross-field invariants Default() always satisfies but
// a hand-edited config file might not.
func (c Config) Validate() error {
	switch c.Pipeline.Strategy {
	case "sequential", "wave", "dynamic":
	default:
		return fmt.Errorf("config: pipeline.strategy must be sequential, wave, or dynamic, got %q", c.Pipeline.Strategy)
	}
	if strings.TrimSpace(c.Pipeline.DefinitionFile) == "" {
		return fmt.Errorf("config: pipeline.definition_file is required")
	}
	if strings.TrimSpace(c.Cache.Dir) == "" {
		return fmt.Errorf("config: cache.dir is required")
	}
	if c.Workers.Count < 0 {
		return fmt.Errorf("config: workers.count must be >= 0, got %d", c.Workers.Count)
	}
	return nil
}
