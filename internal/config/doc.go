// Package config loads the Leno runtime configuration: a JSON file with
// defaults applied for every omitted field and a small set of LENO_*
// environment overrides for deployment specific values.
package config
