// Package logging builds the zap logger used by the confstack command.
package logging
