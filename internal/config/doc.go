// Package config loads codepool settings from defaults, an optional
// config.yaml and CODEPOOL_* environment variables using viper, and validates
// them with struct tags before any component is constructed.
package config
