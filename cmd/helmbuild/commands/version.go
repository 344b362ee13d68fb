package commands

import (
	"fmt"

	"github.com/spf13/cobra"
	"helm.sh/helm/v3/pkg/chartutil"

	"github.com/macropower/helmbuild/pkg/config"
	"github.com/macropower/helmbuild/pkg/version"
)

// GetVersionString returns the CLI version with the embedded Helm SDK version
// as build metadata.
func GetVersionString() string {
	return fmt.Sprintf("%s+%s", version.Version, chartutil.DefaultCapabilities.HelmVersion.Version)
}

// NewVersionCmd returns the version command.
func NewVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version of the helmbuild CLI",
		Run: func(cc *cobra.Command, _ []string) {
			cc.Println(GetVersionString())
			cc.Printf("revision: %s\n", version.Revision)
			cc.Printf("go: %s\n", version.GoVersion())
			cc.Printf("default helm: %s\n", config.DefaultVersion)
		},
	}
}
