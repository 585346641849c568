// Package config loads the immutable YAML configuration handed to every
// component at construction time. Nothing in this module reads from a
// mutable global; a Config value is threaded explicitly from main into the
// storage, replication, server, and logging constructors.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration document.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Storage     StorageConfig     `yaml:"storage"`
	Compaction  CompactionConfig  `yaml:"compaction"`
	Replication ReplicationConfig `yaml:"replication"`
	Metrics     MetricsConfig     `yaml:"metrics"`
	Log         LogConfig         `yaml:"log"`
}

// ServerConfig controls the TCP listener.
type ServerConfig struct {
	Host      string `yaml:"host"`
	Port      int    `yaml:"port"`
	IsReplica bool   `yaml:"is_replica"`
}

// StorageConfig controls the on-disk layout and checkpoint cadence.
type StorageConfig struct {
	DataDir            string        `yaml:"data_dir"`
	CheckpointInterval time.Duration `yaml:"checkpoint_interval"`
	MaxWALSize         int64         `yaml:"max_wal_size"`
}

// CompactionConfig controls the background compactor. Ignored entirely
// when ServerConfig.IsReplica is true.
type CompactionConfig struct {
	Enabled     bool          `yaml:"enabled"`
	Interval    time.Duration `yaml:"interval"`
	Threshold   float64       `yaml:"threshold"`
	MinFileSize int64         `yaml:"min_file_size"`
}

// ReplicationMode selects how the master waits on replica acknowledgement.
type ReplicationMode string

const (
	ReplicationAsync ReplicationMode = "async"
	ReplicationSync  ReplicationMode = "sync"
)

// ReplicationConfig controls the master's replicator. Addresses are
// host:port pairs; additional replicas can be registered at runtime via
// the ADMIN ADDREPLICA command without restarting the process.
type ReplicationConfig struct {
	Enabled      bool            `yaml:"enabled"`
	Mode         ReplicationMode `yaml:"mode"`
	Addresses    []string        `yaml:"addresses"`
	MaxRetries   int             `yaml:"max_retries"`
	QueueSize    int             `yaml:"queue_size"`
	MaxFailures  int             `yaml:"max_failures"`
	Timeout      time.Duration   `yaml:"timeout"`
	NumWorkers   int             `yaml:"num_workers"`
}

// MetricsConfig controls the Prometheus exposition endpoint.
type MetricsConfig struct {
	Enabled    bool   `yaml:"enabled"`
	ListenAddr string `yaml:"listen_addr"`
}

// LogConfig controls the structured logger.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the configuration with every documented default value
// applied, suitable as a base that a loaded YAML file overlays.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 7070,
		},
		Storage: StorageConfig{
			DataDir:            "./data",
			CheckpointInterval: 10 * time.Second,
			MaxWALSize:         0,
		},
		Compaction: CompactionConfig{
			Enabled:     true,
			Interval:    time.Hour,
			Threshold:   0.3,
			MinFileSize: 10 * 1024 * 1024,
		},
		Replication: ReplicationConfig{
			Enabled:     false,
			Mode:        ReplicationAsync,
			MaxRetries:  3,
			QueueSize:   10000,
			MaxFailures: 3,
			Timeout:     5 * time.Second,
			NumWorkers:  2,
		},
		Metrics: MetricsConfig{
			Enabled:    true,
			ListenAddr: ":9100",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads a YAML document at path and overlays it onto Default().
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config file: %w", err)
	}

	return cfg, nil
}
