// Package tracing provides lightweight spans for timing pipeline work.
package tracing
