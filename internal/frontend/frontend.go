// Package frontend defines the scheduler's view of a front end: anything
// that can hand over raw sample bytes. RF device enumeration and
// configuration stay out of scope; both implementations here only move
// bytes from a source (file, serial port) to a callback.
package frontend

import "context"

// OnBuffer is called by a Source for every fixed-size block of raw
// interleaved sample bytes it produces.
type OnBuffer func([]byte)

// Source is the front end abstraction the scheduler depends on. Start
// blocks until ctx is cancelled or the source runs out of data (e.g. EOF
// on a file replay); it must not retain onBuffer's argument slice past the
// call.
type Source interface {
	Start(ctx context.Context, onBuffer OnBuffer) error
	Stop() error
}
