// Package config loads, normalizes, and validates storyloom configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// GEMINI_API_KEY, GOOGLE_CLOUD_PROJECT, and NATS_URL. A .env file in the
// working directory is read before the environment is consulted.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
