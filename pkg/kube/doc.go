// Package kube provides utilities for reading rendered Kubernetes manifests.
//
// Multi-document YAML produced by `helm template` is split with
// [SplitYAMLToString] and decoded into generic values with
// [DecodeDocuments]. Map documents can be inspected with [Object].
package kube
