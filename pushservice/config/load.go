package config

import (
	"fmt"
	"log/slog"

	"gopkg.in/yaml.v3"
)

// Load parses raw YAML, maps it and applies environment overrides.
func Load(raw []byte, logger *slog.Logger) (*Config, error) {
	var yamlCfg YamlConfig
	if err := yaml.Unmarshal(raw, &yamlCfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal yaml config: %w", err)
	}
	baseCfg, err := NewConfigFromYaml(&yamlCfg, logger)
	if err != nil {
		return nil, err
	}
	return UpdateConfigWithEnvOverrides(baseCfg, logger)
}
