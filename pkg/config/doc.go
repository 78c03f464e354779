// Package config loads the application configuration from MOCKIDP_-prefixed
// environment variables and validates it before anything is wired up.
package config
