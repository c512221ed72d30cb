package config

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Load decodes the YAML file at path over Defaults, then applies .env and BOT_* environment
// overrides. The result is not validated.
func Load(path string) (*Config, error) {
	cfg := Defaults()
	// Decoding merges into existing maps, so the default table only applies when none is given.
	defaultROI := cfg.MinimalROI
	cfg.MinimalROI = nil

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	decoder := yaml.NewDecoder(f)
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}

	if len(cfg.MinimalROI) == 0 {
		cfg.MinimalROI = defaultROI
	}

	// A missing .env file is fine.
	_ = godotenv.Load()

	cfg.applyEnvOverrides()
	return &cfg, nil
}
