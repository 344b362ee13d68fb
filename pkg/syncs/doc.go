// Package syncs provides synchronization primitives.
//
// [KeyLock] serializes work on the same key (for example a download URL)
// while letting unrelated keys proceed concurrently.
package syncs
