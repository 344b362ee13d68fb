// Package helmversion parses Helm client versions and answers which optional
// Helm features a given version supports.
//
// The special version "canary" denotes a build from Helm's main branch and
// supports every feature.
package helmversion
