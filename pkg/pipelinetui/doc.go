// Package pipelinetui renders pipeline progress in the terminal.
//
// [NewPipelineTUI] wraps a [Runner] such as [pipeline.Pipeline]. While the
// run is in progress, finished stages are printed above a spinner and a
// progress bar, and log records are printed above the spinner instead of
// being interleaved with it.
package pipelinetui
