// Package config loads and validates service configuration from CURIO_*
// environment variables: server ports and timeouts, metadata store and
// blob backend selection, cache tiers, and token settings.
package config
