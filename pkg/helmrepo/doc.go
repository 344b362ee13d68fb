// Package helmrepo manages the Helm chart repositories of a project.
//
// A [Manager] holds the configured repositories. A [Syncer] reconciles the
// repositories known to a Helm home directory with the configured ones,
// keeping their credentials current and leaving a copy of the resulting
// repositories.yaml for up-to-date checks.
package helmrepo
