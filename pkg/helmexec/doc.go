// Package helmexec invokes a Helm executable.
//
// A [Runner] knows which Helm major version it drives and isolates Helm's
// state in a project local home directory: Helm 2 receives `--home` on every
// invocation, Helm 3 gets XDG base directories below the home directory.
package helmexec
