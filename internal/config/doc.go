// Package config provides configuration management for tierstore.
//
// Configuration is layered: built-in defaults, then an optional YAML file,
// then TIERSTORE_* environment variable overrides. Validate() is expected to
// run after loading and before any component is constructed.
package config
