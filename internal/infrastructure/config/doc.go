// Package config handles loading and validating SprayCell Core configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with SPRAYCELL_* environment variables
//   - Validation of field rules (struct tags) and cross-field rules
//   - Default value handling
//
// Configuration is loaded once at startup and passed by value to the
// components that need it; nothing re-reads it at runtime. The tag
// definitions and the transition table live in their own files
// (tags.file, state.file) and are loaded by the tag and state packages.
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Site.ID, cfg.Tags.PollInterval)
package config
