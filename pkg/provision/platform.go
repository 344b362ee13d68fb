package provision

import (
	"fmt"
	"log/slog"
	"runtime"
	"strings"

	"github.com/macropower/helmbuild/pkg/helmversion"
)

const (
	OSWindows = "windows"
	OSDarwin  = "darwin"
	OSLinux   = "linux"
)

// DefaultDownloadURLTemplate is formatted with the version tag, OS and
// architecture.
const DefaultDownloadURLTemplate = "https://get.helm.sh/helm-%s-%s-%s.tar.gz"

var knownArchitectures = map[string]bool{
	"386":     true,
	"amd64":   true,
	"arm":     true,
	"arm64":   true,
	"ppc64le": true,
	"s390x":   true,
}

// Platform identifies a Helm release build.
type Platform struct {
	OS   string
	Arch string
}

// Detect returns the [Platform] of the running process. Unknown values are
// kept as-is and logged, since a custom download URL may still work.
func Detect() Platform {
	p := Platform{OS: runtime.GOOS}

	switch p.OS {
	case OSWindows, OSDarwin, OSLinux:
	default:
		slog.Warn("unable to detect operating system, set os or downloadURL",
			slog.String("os", p.OS),
		)
	}

	arch, ok := NormalizeArch(runtime.GOARCH)
	if !ok {
		slog.Warn("unable to detect architecture, set architecture or downloadURL",
			slog.String("arch", runtime.GOARCH),
		)
	}

	p.Arch = arch

	return p
}

// NormalizeArch maps common architecture aliases to Helm release names.
// The boolean is false when the result is not a known Helm build.
func NormalizeArch(arch string) (string, bool) {
	a := strings.ToLower(strings.TrimSpace(arch))

	switch a {
	case "x86", "i386", "i686":
		a = "386"
	case "x86_64", "x64":
		a = "amd64"
	case "aarch64":
		a = "arm64"
	}

	return a, knownArchitectures[a]
}

// ExecutableName returns the Helm executable file name for the platform.
func (p Platform) ExecutableName() string {
	if p.OS == OSWindows {
		return "helm.exe"
	}

	return "helm"
}

// DownloadURL returns the official release archive URL for a version.
func (p Platform) DownloadURL(v helmversion.Version) string {
	return fmt.Sprintf(DefaultDownloadURLTemplate, v.Tag(), p.OS, p.Arch)
}
