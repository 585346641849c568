package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefault_MatchesDocumentedValues(t *testing.T) {
	cfg := Default()

	if cfg.Server.Port != 7070 {
		t.Errorf("expected default port 7070, got %d", cfg.Server.Port)
	}
	if cfg.Server.IsReplica {
		t.Error("expected default server role to be master")
	}
	if cfg.Storage.CheckpointInterval != 10*time.Second {
		t.Errorf("expected 10s checkpoint interval, got %s", cfg.Storage.CheckpointInterval)
	}
	if !cfg.Compaction.Enabled || cfg.Compaction.Interval != time.Hour {
		t.Errorf("unexpected compaction defaults: %+v", cfg.Compaction)
	}
	if cfg.Compaction.Threshold != 0.3 {
		t.Errorf("expected default compaction threshold 0.3, got %f", cfg.Compaction.Threshold)
	}
	if cfg.Compaction.MinFileSize != 10*1024*1024 {
		t.Errorf("expected default min file size 10MiB, got %d", cfg.Compaction.MinFileSize)
	}
	if cfg.Replication.Enabled {
		t.Error("expected replication disabled by default")
	}
	if cfg.Replication.Mode != ReplicationAsync {
		t.Errorf("expected default replication mode async, got %s", cfg.Replication.Mode)
	}
	if cfg.Replication.MaxFailures != 3 {
		t.Errorf("expected default max_failures 3, got %d", cfg.Replication.MaxFailures)
	}
	if !cfg.Metrics.Enabled || cfg.Metrics.ListenAddr != ":9100" {
		t.Errorf("unexpected metrics defaults: %+v", cfg.Metrics)
	}
	if cfg.Log.Level != "info" || cfg.Log.Format != "text" {
		t.Errorf("unexpected log defaults: %+v", cfg.Log)
	}
}

func TestLoad_OverlaysOntoDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	yamlDoc := `
server:
  host: "127.0.0.1"
  port: 9999
  is_replica: true
replication:
  enabled: true
  mode: sync
  addresses:
    - "10.0.0.1:7070"
    - "10.0.0.2:7070"
`
	if err := os.WriteFile(path, []byte(yamlDoc), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Server.Host != "127.0.0.1" || cfg.Server.Port != 9999 || !cfg.Server.IsReplica {
		t.Errorf("unexpected server config after overlay: %+v", cfg.Server)
	}
	if !cfg.Replication.Enabled || cfg.Replication.Mode != ReplicationSync {
		t.Errorf("unexpected replication config after overlay: %+v", cfg.Replication)
	}
	if len(cfg.Replication.Addresses) != 2 {
		t.Errorf("expected 2 replica addresses, got %d", len(cfg.Replication.Addresses))
	}

	// Fields absent from the YAML document keep their documented defaults.
	if cfg.Compaction.Threshold != 0.3 {
		t.Errorf("expected untouched compaction threshold to stay at default, got %f", cfg.Compaction.Threshold)
	}
	if cfg.Metrics.ListenAddr != ":9100" {
		t.Errorf("expected untouched metrics listen addr to stay at default, got %s", cfg.Metrics.ListenAddr)
	}
}

func TestLoad_MissingFileReturnsError(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected an error when the config file does not exist")
	}
}

func TestLoad_InvalidYAMLReturnsError(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("server: [this is not a mapping"), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := Load(path); err == nil {
		t.Error("expected an error for malformed YAML")
	}
}
