// Package http provides the HTTP client used to download Helm releases and
// upload packaged charts.
//
// Non-2xx responses are returned as [StatusError]s, and [IsRetryable]
// classifies failures for use with [github.com/macropower/helmbuild/pkg/retry].
package http
