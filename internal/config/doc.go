// Package config resolves the confstack command's own settings (output
// format, log level, allowed top-level keys) from defaults, CONFSTACK_*
// environment variables and CLI flags, with precedence: CLI flags >
// Environment variables > Defaults. The layered application configuration
// itself is loaded by package confstack.
package config
