// Package config loads environment based configuration with
// github.com/caarlos0/env. A .env file in the working directory is read
// once through godotenv before the first parse.
//
// Load caches one value per config type; Parse always reads the environment.
package config
