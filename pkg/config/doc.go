// Package config loads application configuration from PREMISE_* environment
// variables and validates it before the server starts.
package config
