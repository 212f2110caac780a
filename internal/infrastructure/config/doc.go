// Package config handles loading and validating SweIoT Link configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with SWEIOT_* environment variables
//   - Validation of required fields
//   - Default value handling
//
// Security Considerations:
//   - Relay and management credentials should be set via environment variables
//   - The config file should have restricted permissions (0600)
//   - The operator token secret must be set before the API is exposed
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Channel.Default)
package config
