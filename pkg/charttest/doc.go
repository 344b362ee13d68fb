// Package charttest lints and renders packaged charts against values files
// and asserts on the rendered manifests.
//
// Test cases are YAML files below a tests directory. A file that is a map
// with both `title` and `values` is a structured case:
//
//	title: ingress enabled
//	values:
//	  ingress:
//	    enabled: true
//	assert:
//	  - file: templates/ingress.yaml
//	    test: eq
//	    path: $[0].spec.rules[0].host
//	    value: example.com
//
// Any other file is used as a values file as-is. Results are written as a
// JUnit XML report.
package charttest
