package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/macropower/helmbuild/cmd/helmbuild/commands"
)

const (
	cmdName = "helmbuild"

	shortDesc = "Build, test and deploy Helm charts."
	longDesc  = `helmbuild builds, tests and deploys Helm charts.

It downloads a pinned Helm client into the project, keeps the Helm
repositories in sync with helmbuild.yaml, renders expansions into the chart
source, packages it, runs the chart tests and uploads the packaged charts to
a chart repository.
`
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	cmd := commands.NewRootCmd(cmdName, shortDesc, longDesc)
	err := cmd.ExecuteContext(ctx)

	stop()

	if err != nil {
		fmt.Fprintln(os.Stderr, strings.TrimLeft(err.Error(), "\n"))
		os.Exit(1)
	}
}
