// Package exec runs external commands with logging, output capture,
// redaction of secrets, and timeouts.
package exec
