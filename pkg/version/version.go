package version

import (
	"runtime/debug"
)

var (
	// Version is the release version, set at build time.
	Version = "dev"
	// Revision is the VCS revision, set at build time or read from the build
	// info.
	Revision = revision()
	// Branch is the VCS branch, set at build time.
	Branch = ""
	// BuildUser is the user that built the binary, set at build time.
	BuildUser = ""
	// BuildDate is the build timestamp, set at build time.
	BuildDate = ""
)

func revision() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return "unknown"
	}

	for _, s := range info.Settings {
		if s.Key == "vcs.revision" && s.Value != "" {
			return s.Value
		}
	}

	return "unknown"
}

// GoVersion returns the Go version the binary was built with.
func GoVersion() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return "unknown"
	}

	return info.GoVersion
}
