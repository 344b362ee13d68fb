package helmversion

import (
	"errors"
	"fmt"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// Canary is the version string for Helm builds from the main branch.
const Canary = "canary"

var ErrInvalidVersion = errors.New("invalid helm version")

// Feature is an optional Helm capability introduced in a specific release.
type Feature struct {
	since *semver.Version
	Name  string
}

// Since returns the first Helm version providing the feature.
func (f Feature) Since() string {
	return f.since.Original()
}

var (
	// LintWithValues is support for `helm lint --values`.
	LintWithValues = Feature{Name: "lint with values", since: semver.MustParse("2.9.0-rc3")}
	// TemplateWithOutputDir is support for `helm template --output-dir`.
	TemplateWithOutputDir = Feature{Name: "template with output dir", since: semver.MustParse("2.8.0")}
	// RepoAuthentication is support for `helm repo add --username --password`.
	RepoAuthentication = Feature{Name: "repository authentication", since: semver.MustParse("2.9.0-rc3")}
	// V3 is the Helm 3 client, which has no Tiller, no `helm init` and uses
	// XDG base directories instead of `--home`.
	V3 = Feature{Name: "helm 3", since: semver.MustParse("3.0.0")}
)

// Version is a parsed Helm client version.
type Version struct {
	v      *semver.Version
	canary bool
}

// Parse parses a Helm version such as "3.17.4", "v2.9.0-rc3" or "canary".
func Parse(s string) (Version, error) {
	s = strings.TrimSpace(s)
	if strings.EqualFold(s, Canary) {
		return Version{canary: true}, nil
	}

	if s == "" {
		return Version{}, fmt.Errorf("%w: empty version", ErrInvalidVersion)
	}

	v, err := semver.NewVersion(s)
	if err != nil {
		return Version{}, fmt.Errorf("%w %q: %w", ErrInvalidVersion, s, err)
	}

	return Version{v: v}, nil
}

// MustParse is like [Parse] but panics on error.
func MustParse(s string) Version {
	v, err := Parse(s)
	if err != nil {
		panic(err)
	}

	return v
}

// Supports reports whether the version provides the given feature.
func (v Version) Supports(f Feature) bool {
	if v.canary {
		return true
	}

	if v.v == nil {
		return false
	}

	return !v.v.LessThan(f.since)
}

// IsV3 reports whether the version is Helm 3 or newer.
func (v Version) IsV3() bool {
	return v.Supports(V3)
}

// IsCanary reports whether the version is a canary build.
func (v Version) IsCanary() bool {
	return v.canary
}

// String returns the version without a "v" prefix, or "canary".
func (v Version) String() string {
	if v.canary {
		return Canary
	}

	if v.v == nil {
		return ""
	}

	return v.v.String()
}

// Tag returns the release tag used in download URLs: "v3.17.4" or "canary".
func (v Version) Tag() string {
	if v.canary {
		return Canary
	}

	return "v" + v.String()
}
