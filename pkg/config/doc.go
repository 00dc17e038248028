// Package config loads env-tagged structs with caarlos0/env, reading an
// optional .env file first. Every package that needs settings declares its
// own Config struct; the composition root loads them here.
package config
