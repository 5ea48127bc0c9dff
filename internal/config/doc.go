// Package config loads and validates the chunkship run configuration.
//
// A run can be configured from a YAML file (Load), from flags alone
// (Default + overrides + Validate), or a mix: the caller applies flag
// values on top of the loaded file before validating.
//
// Credentials never live in the file as a pair: the username may be
// stored literally, but the password (and optionally the username too)
// is resolved from named environment variables via
// AuthConfig.Credentials(). When both env-var names are configured and
// either variable is unset, Credentials returns an error so the run
// fails before any network call is made.
package config
