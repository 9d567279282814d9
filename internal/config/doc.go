// Package config loads the agenttxd JSON configuration and fills in the
// defaults every component relies on.
package config
