package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad(t *testing.T) {
	// Create temp config file
	content := `
server:
  hostname: "quota.test.com"

api:
  listen_addr: ":9080"
  read_timeout: 15s
  allowed_ips:
    - "10.0.0.0/8"

storage:
  path: "/tmp/test.db"
  busy_timeout: 3s

logging:
  level: "debug"
  format: "text"

metrics:
  enabled: true
  listen_addr: ":9191"

admission:
  reserve_on_qualify: true

vendor:
  enabled: true
  request_timeout: 5s
  max_retries: 2
`
	tmpDir := t.TempDir()
	cfgPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(cfgPath, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	// Check values
	if cfg.Server.Hostname != "quota.test.com" {
		t.Errorf("Hostname = %v, want quota.test.com", cfg.Server.Hostname)
	}
	if cfg.API.ListenAddr != ":9080" {
		t.Errorf("API.ListenAddr = %v, want :9080", cfg.API.ListenAddr)
	}
	if cfg.API.ReadTimeout != 15*time.Second {
		t.Errorf("API.ReadTimeout = %v, want 15s", cfg.API.ReadTimeout)
	}
	if len(cfg.API.AllowedIPs) != 1 || cfg.API.AllowedIPs[0] != "10.0.0.0/8" {
		t.Errorf("API.AllowedIPs = %v, want [10.0.0.0/8]", cfg.API.AllowedIPs)
	}
	if cfg.Storage.Path != "/tmp/test.db" {
		t.Errorf("Storage.Path = %v, want /tmp/test.db", cfg.Storage.Path)
	}
	if cfg.Storage.BusyTimeout != 3*time.Second {
		t.Errorf("Storage.BusyTimeout = %v, want 3s", cfg.Storage.BusyTimeout)
	}
	if !cfg.Metrics.Enabled {
		t.Error("Metrics.Enabled = false, want true")
	}
	if !cfg.Admission.ReserveOnQualify {
		t.Error("Admission.ReserveOnQualify = false, want true")
	}
	if cfg.Vendor.MaxRetries != 2 {
		t.Errorf("Vendor.MaxRetries = %v, want 2", cfg.Vendor.MaxRetries)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %v, want debug", cfg.Logging.Level)
	}
}

func TestLoadDefaults(t *testing.T) {
	content := `
storage:
  path: "/tmp/quota.db"
`
	tmpDir := t.TempDir()
	cfgPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(cfgPath, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	// Check defaults
	if cfg.API.ListenAddr != ":8080" {
		t.Errorf("API.ListenAddr = %v, want :8080", cfg.API.ListenAddr)
	}
	if cfg.API.ReadTimeout != 30*time.Second {
		t.Errorf("API.ReadTimeout = %v, want 30s", cfg.API.ReadTimeout)
	}
	if cfg.Storage.BusyTimeout != 5*time.Second {
		t.Errorf("Storage.BusyTimeout = %v, want 5s", cfg.Storage.BusyTimeout)
	}
	if cfg.Metrics.ListenAddr != ":9090" {
		t.Errorf("Metrics.ListenAddr = %v, want :9090", cfg.Metrics.ListenAddr)
	}
	if cfg.Metrics.Path != "/metrics" {
		t.Errorf("Metrics.Path = %v, want /metrics", cfg.Metrics.Path)
	}
	if cfg.Admission.ReserveOnQualify {
		t.Error("Admission.ReserveOnQualify = true, want false")
	}
	if cfg.Vendor.RequestTimeout != 10*time.Second {
		t.Errorf("Vendor.RequestTimeout = %v, want 10s", cfg.Vendor.RequestTimeout)
	}
	if cfg.Vendor.MaxRetries != 3 {
		t.Errorf("Vendor.MaxRetries = %v, want 3", cfg.Vendor.MaxRetries)
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("Logging.Level = %v, want info", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "json" {
		t.Errorf("Logging.Format = %v, want json", cfg.Logging.Format)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{
			name: "valid config",
			cfg: Config{
				Storage: StorageConfig{Path: "/tmp/quota.db"},
				Logging: LoggingConfig{Level: "info", Format: "json"},
			},
			wantErr: false,
		},
		{
			name: "missing storage path",
			cfg: Config{
				Logging: LoggingConfig{Level: "info", Format: "json"},
			},
			wantErr: true,
		},
		{
			name: "invalid log level",
			cfg: Config{
				Storage: StorageConfig{Path: "/tmp/quota.db"},
				Logging: LoggingConfig{Level: "invalid", Format: "json"},
			},
			wantErr: true,
		},
		{
			name: "invalid log format",
			cfg: Config{
				Storage: StorageConfig{Path: "/tmp/quota.db"},
				Logging: LoggingConfig{Level: "info", Format: "invalid"},
			},
			wantErr: true,
		},
		{
			name: "negative vendor retries",
			cfg: Config{
				Storage: StorageConfig{Path: "/tmp/quota.db"},
				Logging: LoggingConfig{Level: "info", Format: "json"},
				Vendor:  VendorConfig{MaxRetries: -1},
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLoadFileNotFound(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	if err == nil {
		t.Error("Load() expected error for nonexistent file")
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	content := `invalid: yaml: content: [`
	tmpDir := t.TempDir()
	cfgPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(cfgPath, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	_, err := Load(cfgPath)
	if err == nil {
		t.Error("Load() expected error for invalid YAML")
	}
}
