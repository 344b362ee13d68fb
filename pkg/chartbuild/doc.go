// Package chartbuild builds and packages a Helm chart from its source
// directory.
//
// The source is rendered with expansions into a temporary directory, copied
// to `<outputDir>/<chart name>`, its dependencies are built, and the chart is
// packaged into the output directory.
package chartbuild
