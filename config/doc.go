// Package config loads sitesync settings from defaults, an optional
// YAML or TOML file and SITESYNC_ environment variables.
//
// A Manager resolves secret references in the auth settings after every
// load and can watch its file, handing each valid reload to registered
// callbacks. An invalid reload is logged and the previous settings stay
// in effect.
package config
