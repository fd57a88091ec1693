// Package playback schedules decoded audio onto an output device, either as
// one-shot playback per speaker slot or as a gapless sequence of chunks.
package playback

import (
	"time"

	"github.com/pteprep/livevoice/pkg/audio"
)

// Source is one started buffer on an Output.
type Source interface {
	// Stop silences the source. It is safe to call after the source ended.
	Stop()
}

// Output is an open audio output context with its own clock.
//
// Start schedules buf to begin at clock offset at; offsets in the past start
// immediately. onEnded is called exactly once, when the source finishes or is
// stopped, and never from inside Start. Start on a closed Output returns
// audio.ErrDeviceUnavailable.
type Output interface {
	Now() time.Duration
	Start(buf *audio.Buffer, at time.Duration, onEnded func()) (Source, error)
	Close() error
}

// Device opens output contexts. Each session owns the Output it opened and
// closes it on teardown.
type Device interface {
	Open(f audio.Format) (Output, error)
}
