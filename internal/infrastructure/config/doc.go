// Package config handles loading and validating Playout Core configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with environment variables
//   - Validation of required fields
//   - Default value handling, including per-studio playout settings
//
// Security Considerations:
//   - Sensitive values (passwords, tokens) should be set via environment variables
//   - The config file should have restricted permissions (0600)
//   - The JWT secret guards take/next commands and must be set before going on air
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	for _, studio := range cfg.Studios {
//	    fmt.Println(studio.ID, studio.Settings.MinimumTakeSpan())
//	}
package config
