// Package provision downloads and unpacks the Helm client binary for a
// configured version and platform.
//
// The release archive is stored next to the extracted executable. When the
// archive is already present no network request is made. An optional shared
// cache directory lets several projects reuse one download.
package provision
