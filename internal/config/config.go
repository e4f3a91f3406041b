package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config holds application configuration
type Config struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`

	Storage struct {
		// Root directory for feedback data; images live under it
		Path         string `yaml:"path"`
		DatabasePath string `yaml:"database_path"`
		// When true, an unreadable database is moved aside at startup
		// and the service continues with an empty store.
		RecoverOnCorruption *bool `yaml:"recover_on_corruption"`
	} `yaml:"storage"`

	Vision struct {
		ScorerURL      string `yaml:"scorer_url"` // empty means no classifier, fallback mode
		CatalogPath    string `yaml:"catalog_path"`
		TopK           int    `yaml:"top_k"`
		TimeoutSeconds int    `yaml:"timeout_seconds"`
		MaxConcurrent  int    `yaml:"max_concurrent"`
	} `yaml:"vision"`

	Dataset struct {
		ExportDir        string  `yaml:"export_dir"`
		BatchSize        int     `yaml:"batch_size"`
		CorrectionWeight float64 `yaml:"correction_weight"`
	} `yaml:"dataset"`
}

// LoadConfig loads configuration from YAML file
func LoadConfig(configPath string) (*Config, error) {
	config := &Config{}

	file, err := os.Open(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()

	decoder := yaml.NewDecoder(file)
	if err := decoder.Decode(config); err != nil {
		return nil, fmt.Errorf("failed to decode config file: %w", err)
	}

	config.applyDefaults()

	// Expand environment variables in external endpoints
	config.Vision.ScorerURL = os.ExpandEnv(config.Vision.ScorerURL)

	return config, nil
}

// Default returns the configuration used when no config file exists.
func Default() *Config {
	config := &Config{}
	config.applyDefaults()
	return config
}

func (c *Config) applyDefaults() {
	if c.Server.Port == "" {
		c.Server.Port = "8003"
	}
	if c.Storage.Path == "" {
		c.Storage.Path = "./data/feedbacks"
	}
	if c.Storage.DatabasePath == "" {
		c.Storage.DatabasePath = "./data/feedbacks/feedbacks.db"
	}
	if c.Storage.RecoverOnCorruption == nil {
		v := true
		c.Storage.RecoverOnCorruption = &v
	}
	if c.Vision.CatalogPath == "" {
		c.Vision.CatalogPath = "./data/plants_database.json"
	}
	if c.Vision.TopK == 0 {
		c.Vision.TopK = 5
	}
	if c.Vision.TimeoutSeconds == 0 {
		c.Vision.TimeoutSeconds = 10
	}
	if c.Vision.MaxConcurrent == 0 {
		c.Vision.MaxConcurrent = 4
	}
	if c.Dataset.ExportDir == "" {
		c.Dataset.ExportDir = "./data/exports"
	}
	if c.Dataset.BatchSize == 0 {
		c.Dataset.BatchSize = 32
	}
	if c.Dataset.CorrectionWeight == 0 {
		c.Dataset.CorrectionWeight = 2.0
	}
}
