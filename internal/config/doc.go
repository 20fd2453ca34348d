// Package config loads, normalizes, and validates the TOML configuration
// shared by morphd and the morph CLI. Load resolves the config path,
// applies defaults for missing values, expands ~ in path fields, and
// rejects configurations that cannot run.
package config
