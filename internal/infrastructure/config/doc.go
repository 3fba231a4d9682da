// Package config handles loading and validating the PLC monitor configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with PLCMONITOR_* environment variables
//   - Validation of required fields
//   - Default value handling
//
// Device and signal definitions live in a separate file named by
// protocols.s7.config_file and are loaded by the s7 bridge package.
//
// Security Considerations:
//   - Credentials (MQTT password, InfluxDB token) should be set via environment variables
//   - The config file should have restricted permissions (0600)
//
// Usage:
//
//	cfg, err := config.Load(config.PathFromEnv())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Site.Name)
package config
