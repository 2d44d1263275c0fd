// Package config loads flowsense configuration. Values resolve in three
// layers: built-in defaults, an optional TOML file, then FLOWSENSE_*
// environment overrides. A missing config file is not an error.
//
// Watch adds live reload: file changes are debounced, re-loaded through
// the same three layers, and announced on the bus as config:reloaded.
package config
