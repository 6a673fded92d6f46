// Package config loads the YAML configuration that parameterizes a DBOS
// instance: database connection info, and worker pool sizing.
package config

import (
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"
)

// Config is the top-level shape of dbos-config.yaml.
type Config struct {
	Name     string   `yaml:"name"`
	Language string   `yaml:"language"`
	Database Database `yaml:"database"`
	Runtime  Runtime  `yaml:"runtime"`
}

// Database holds the connection info for both the system database and the
// application's own database; they are separate logical databases
// (AppDBName, SysDBName) on the same Postgres server.
type Database struct {
	Hostname  string `yaml:"hostname"`
	Port      int    `yaml:"port"`
	Username  string `yaml:"username"`
	Password  string `yaml:"password"`
	AppDBName string `yaml:"app_db_name"`
	SysDBName string `yaml:"sys_db_name"`
}

// Runtime controls the worker pool the engine runs asynchronously-started
// workflows on.
type Runtime struct {
	Workers            int     `yaml:"workers"`
	StartRatePerSecond float64 `yaml:"start_rate_per_second"`
}

const (
	defaultPort               = 5432
	defaultWorkers             = 64
	defaultStartRatePerSecond = 200
)

var envPattern = regexp.MustCompile(`\$\{(\w+)\}`)

// Load reads and parses path, expanding ${VAR} references against the
// process environment before unmarshaling, and fails fast if a mandatory
// field is missing.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	expanded := expandEnv(raw)

	var cfg Config
	if err := yaml.Unmarshal(expanded, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	applyDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func expandEnv(raw []byte) []byte {
	return envPattern.ReplaceAllFunc(raw, func(match []byte) []byte {
		name := envPattern.FindSubmatch(match)[1]
		return []byte(os.Getenv(string(name)))
	})
}

func applyDefaults(cfg *Config) {
	if cfg.Language == "" {
		cfg.Language = "go"
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = defaultPort
	}
	if cfg.Runtime.Workers == 0 {
		cfg.Runtime.Workers = defaultWorkers
	}
	if cfg.Runtime.StartRatePerSecond == 0 {
		cfg.Runtime.StartRatePerSecond = defaultStartRatePerSecond
	}
}

// Validate checks the mandatory fields a runnable config must carry.
func (c *Config) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("config: %q is required", "name")
	}
	if c.Database.Hostname == "" {
		return fmt.Errorf("config: %q is required", "database.hostname")
	}
	return nil
}

// DSN builds a libpq-style connection string for the named logical
// database (the system database or the application's own).
func (d Database) DSN(dbName string) string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s", d.Username, d.Password, d.Hostname, d.Port, dbName)
}
