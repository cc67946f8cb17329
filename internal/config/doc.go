// Package config loads, normalizes, and validates convertd configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, overlays a local .env file, and honours
// environment fallbacks such as CONVERTD_REDIS_URL. The Config value is built
// once at startup and handed to every component explicitly; nothing in the
// module reads configuration from package state.
package config
