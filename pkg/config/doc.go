// Package config loads typed configuration from environment variables.
//
// Structs describe their settings with caarlos0/env tags and are parsed once
// per type; later Load calls return the cached copy. A .env file in the
// working directory is loaded on first use through godotenv, and LoadEnv
// loads additional files explicitly:
//
//	type StorageConfig struct {
//		Driver string `env:"STORAGE_DRIVER" envDefault:"memory"`
//	}
//
//	_ = config.LoadEnv(".env.local")
//	var cfg StorageConfig
//	config.MustLoad(&cfg)
package config
