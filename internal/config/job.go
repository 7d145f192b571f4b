package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"topicsnap/internal/job"
)

const SupportedSchema = "v1"

// LoadJobSpec parses a job YAML, validates it, and returns the parsed job
// and an absolute path to the source config (if set).
func LoadJobSpec(path string) (job.File, string, error) {
	var cfg job.File
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, "", err
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, "", fmt.Errorf("job %s: %w", path, err)
	}
	if cfg.SchemaVersion == "" {
		cfg.SchemaVersion = SupportedSchema
	}
	if cfg.SchemaVersion != SupportedSchema {
		return cfg, "", fmt.Errorf("job schema_version %q not supported (want %q)", cfg.SchemaVersion, SupportedSchema)
	}
	if cfg.Name == "" {
		cfg.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	if cfg.Source.Driver == "" {
		cfg.Source.Driver = "sarama"
	}
	if len(cfg.Sinks) == 0 {
		cfg.Sinks = []string{"stdout"}
	}
	if err := cfg.Validate(); err != nil {
		return cfg, "", fmt.Errorf("job %s: %w", path, err)
	}
	confPath := cfg.Source.Config
	if confPath != "" && !filepath.IsAbs(confPath) {
		confPath, err = filepath.Abs(filepath.Join(filepath.Dir(path), confPath))
		if err != nil {
			return cfg, "", err
		}
	}
	return cfg, confPath, nil
}
