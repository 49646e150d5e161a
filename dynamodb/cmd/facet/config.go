package main

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

const configFilename = "facet.yaml"

// Config holds the project defaults of the facet command. It is loaded from
// facet.yaml if present, flags take precedence.
type Config struct {
	// Schema is the path of the schema document, relative to the config file.
	Schema string `yaml:"schema"`
	// Table overrides the table name of the schema.
	Table string `yaml:"table"`
	// DataDir is where the local store keeps its data. Empty means in memory.
	DataDir  string `yaml:"dataDir"`
	Endpoint string `yaml:"endpoint"`
	Region   string `yaml:"region"`
	Profile  string `yaml:"profile"`
}

// LoadConfig searches for facet.yaml starting from dir and walking up to
// the filesystem root. It returns an empty config if there is none.
func LoadConfig(dir string) (Config, error) {
	var cfg Config

	path := findConfigFile(dir)
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing %s: %w", path, err)
	}
	base := filepath.Dir(path)
	if cfg.Schema != "" && !filepath.IsAbs(cfg.Schema) {
		cfg.Schema = filepath.Join(base, cfg.Schema)
	}
	if cfg.DataDir != "" && !filepath.IsAbs(cfg.DataDir) {
		cfg.DataDir = filepath.Join(base, cfg.DataDir)
	}
	return cfg, nil
}

func findConfigFile(dir string) string {
	for {
		path := filepath.Join(dir, configFilename)
		if _, err := os.Stat(path); err == nil {
			return path
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached filesystem root
			return ""
		}
		dir = parent
	}
}
