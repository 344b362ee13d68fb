// Package retry runs operations with capped exponential backoff.
//
// It is a thin wrapper around [github.com/cenkalti/backoff/v4] that bounds
// the number of attempts so that callers cannot retry forever.
package retry
