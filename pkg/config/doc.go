// Package config loads service configuration from environment variables.
//
// It wraps github.com/joho/godotenv and github.com/caarlos0/env/v11: an
// optional .env file is read once per process, then env.Parse fills the target
// struct from its field tags. Each infrastructure package exposes its own
// Config struct (pg.Config, redis.Config, httpserver.Config) and the binary
// loads them side by side:
//
//	var pgCfg pg.Config
//	config.MustLoad(&pgCfg)
//
// Errors wrap ErrParsingConfig so callers can tell configuration problems
// apart from runtime failures.
package config
