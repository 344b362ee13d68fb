// Package config loads helmbuild.yaml, the project configuration.
//
// Values omitted from the file keep the defaults returned by [Default].
// Relative paths are resolved against the project directory with
// [Config.Resolve], and [Config.Validate] reports every problem at once.
package config
