package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Engine        EngineConfig        `yaml:"engine"`
	Backup        BackupConfig        `yaml:"backup"`
	Database      DatabaseConfig      `yaml:"database"`
	Collaborators CollaboratorsConfig `yaml:"collaborators"`
}

type ServerConfig struct {
	Port     int    `yaml:"port"`
	LogLevel string `yaml:"log_level"`

	// Requests per second allowed per client, 0 disables limiting
	RateLimit float64 `yaml:"rate_limit"`
	RateBurst int     `yaml:"rate_burst"`
}

type EngineConfig struct {
	MaintenanceInterval time.Duration `yaml:"maintenance_interval"`
	StalenessThreshold  time.Duration `yaml:"staleness_threshold"`
	StepTimeout         time.Duration `yaml:"step_timeout"`
}

type BackupConfig struct {
	StorageMode string   `yaml:"storage_mode"` // local | s3
	LocalPath   string   `yaml:"local_path"`
	Compression bool     `yaml:"compression"`
	Encryption  bool     `yaml:"encryption"`
	KeyFile     string   `yaml:"key_file"`
	S3          S3Config `yaml:"s3"`
}

type S3Config struct {
	Endpoint  string `yaml:"endpoint"`
	Bucket    string `yaml:"bucket"`
	Region    string `yaml:"region"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	PathStyle bool   `yaml:"path_style"`
}

// CollaboratorsConfig wires the engine to its external collaborators.
// Channels map notification channel names to webhook URLs; Operations
// map infrastructure operations (failover-service,
// failover-infrastructure, migrate-data, validate) to control
// endpoints. Empty maps put the engine in simulated mode.
type CollaboratorsConfig struct {
	SourcePath string            `yaml:"source_path"`
	Channels   map[string]string `yaml:"channels"`
	Operations map[string]string `yaml:"operations"`
	Secret     string            `yaml:"secret"`
}

type DatabaseConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Database string `yaml:"database"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
}

// Default returns a working single-node configuration
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:      8080,
			LogLevel:  "info",
			RateLimit: 50,
			RateBurst: 100,
		},
		Engine: EngineConfig{
			MaintenanceInterval: time.Hour,
			StalenessThreshold:  90 * 24 * time.Hour,
			StepTimeout:         60 * time.Second,
		},
		Backup: BackupConfig{
			StorageMode: "local",
			LocalPath:   "/var/lib/continuity/backups",
			Compression: true,
		},
		Database: DatabaseConfig{
			Port:    5432,
			SSLMode: "disable",
		},
		Collaborators: CollaboratorsConfig{
			SourcePath: "/var/lib/continuity/data",
		},
	}
}

// Load reads a yaml config file, falling back to defaults for any
// field left unset
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}
