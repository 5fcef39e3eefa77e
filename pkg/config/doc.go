// Package config loads typed configuration structs from environment variables
// using caarlos0/env tags, with optional .env files read through godotenv.
//
// Every component owns its Config struct (pg.Config, queue.Config,
// saga.Config and so on); the CLI composes them:
//
//	cfg, err := config.Load[app.Config](config.WithEnvFiles(flagEnvFile))
package config
