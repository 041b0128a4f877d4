package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/fieldset/quotad/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration commands",
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration file",
	RunE:  runConfigValidate,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a sample configuration file",
	RunE:  runConfigInit,
}

var (
	initOutput string
	initForce  bool
)

func init() {
	configValidateCmd.Flags().StringVarP(&configFile, "config", "c", "/etc/quotad/quotad.yaml", "Path to configuration file")
	configInitCmd.Flags().StringVarP(&initOutput, "output", "o", "quotad.yaml", "Output configuration file path")
	configInitCmd.Flags().BoolVar(&initForce, "force", false, "Overwrite existing config file")
	configCmd.AddCommand(configValidateCmd)
	configCmd.AddCommand(configInitCmd)
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return err
	}

	fmt.Println("Configuration is valid")
	fmt.Printf("  Listen address: %s\n", cfg.API.ListenAddr)
	fmt.Printf("  Storage path: %s\n", cfg.Storage.Path)
	fmt.Printf("  Reserve on qualify: %v\n", cfg.Admission.ReserveOnQualify)
	fmt.Printf("  Vendor callbacks: %v\n", cfg.Vendor.Enabled)
	fmt.Printf("  Metrics: %v\n", cfg.Metrics.Enabled)

	return nil
}

const sampleConfig = `# Quotad configuration
# Generated by: quotad config init

api:
  listen_addr: ":8080"
  max_header_bytes: 1048576  # 1 MB
  read_timeout: 30s
  write_timeout: 30s
  idle_timeout: 60s
  # Restrict API access to these IPs/CIDRs (empty allows all)
  # allowed_ips:
  #   - "10.0.0.0/8"

storage:
  path: "/var/lib/quotad/quotad.db"
  busy_timeout: 5s

admission:
  # Count quota slots at qualification instead of completion.
  reserve_on_qualify: false

vendor:
  enabled: true
  request_timeout: 10s
  max_retries: 3
  retry_interval: 5s

metrics:
  enabled: false
  listen_addr: ":9090"
  path: "/metrics"
  # allowed_ips:
  #   - "127.0.0.1"

logging:
  level: "info"
  format: "json"
`

func runConfigInit(cmd *cobra.Command, args []string) error {
	if !initForce {
		if _, err := os.Stat(initOutput); err == nil {
			return fmt.Errorf("config file %s already exists (use --force to overwrite)", initOutput)
		}
	}
	if err := os.WriteFile(initOutput, []byte(sampleConfig), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	fmt.Printf("Configuration saved to: %s\n", initOutput)
	fmt.Printf("Start the server with: quotad serve -c %s\n", initOutput)
	return nil
}
