package main

import (
	"fmt"
	"os"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v2"
)

type daemonConfig struct {
	Listen      listenConfig      `yaml:"listen"`
	Storage     storageConfig     `yaml:"storage"`
	Logging     loggingConfig     `yaml:"logging"`
	Progression progressionConfig `yaml:"progression"`
}

type listenConfig struct {
	Addr string `yaml:"addr" env:"PARAGON_LISTEN_ADDR"`
}

type storageConfig struct {
	DatabaseFile        string `yaml:"databaseFile" env:"PARAGON_DB_FILE"`
	AccountDatabaseFile string `yaml:"accountDatabaseFile" env:"PARAGON_ACCOUNT_DB_FILE"`
	CatalogueFile       string `yaml:"catalogueFile" env:"PARAGON_CATALOGUE_FILE"`
}

type loggingConfig struct {
	Level string `yaml:"level" env:"PARAGON_LOG_LEVEL"`
}

type progressionConfig struct {
	// KeyByAccount switches progression from per-character to
	// account-wide. Changing it against an existing database orphans the
	// old rows rather than migrating them.
	KeyByAccount bool `yaml:"keyByAccount" env:"PARAGON_KEY_BY_ACCOUNT"`
}

func defaultConfig() daemonConfig {
	return daemonConfig{
		Listen: listenConfig{
			Addr: ":4011",
		},
		Storage: storageConfig{
			DatabaseFile:        "paragon.db",
			AccountDatabaseFile: "auth.db",
			CatalogueFile:       "catalogue.yaml",
		},
		Logging: loggingConfig{
			Level: "info",
		},
	}
}

func (dc daemonConfig) SerializeToFile(filename string) error {
	fBytes, err := yaml.Marshal(dc)
	if err != nil {
		return fmt.Errorf("yaml.Marshal(): %w", err)
	}
	err = os.WriteFile(filename, fBytes, 0644)
	if err != nil {
		return fmt.Errorf("os.WriteFile(%q, ...): %w", filename, err)
	}
	return nil
}

// DeserializeFromFile loads the YAML config, then lets PARAGON_* environment
// variables override individual fields.
func (dc *daemonConfig) DeserializeFromFile(filename string) error {
	fBytes, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("os.ReadFile(%q): %w", filename, err)
	}
	err = yaml.Unmarshal(fBytes, dc)
	if err != nil {
		return fmt.Errorf("yaml.Unmarshal(): %w", err)
	}
	err = env.Parse(dc)
	if err != nil {
		return fmt.Errorf("env.Parse(): %w", err)
	}
	return nil
}
