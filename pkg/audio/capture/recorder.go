package capture

import (
	"bytes"
	"context"
	"sync"
	"time"

	"github.com/pteprep/livevoice/pkg/audio"
)

// Recorder captures one utterance into a single blob. Unlike a streaming
// session it buffers everything until Stop.
type Recorder struct {
	pipeline *Pipeline
}

// NewRecorder returns a recorder that captures through p. Starting a
// recording tears down any other session open on p.
func NewRecorder(p *Pipeline) *Recorder {
	return &Recorder{pipeline: p}
}

// Start opens the microphone and begins accumulating frames. sizeHint, when
// positive, preallocates room for that much audio. A refused microphone
// returns an error wrapping audio.ErrPermissionDenied and no recording.
func (r *Recorder) Start(ctx context.Context, sizeHint time.Duration) (*Recording, error) {
	f := r.pipeline.Format()
	rec := &Recording{
		format: f,
		done:   make(chan struct{}),
	}
	if sizeHint > 0 {
		rec.pcm.Grow(int(sizeHint.Seconds() * float64(f.BytesPerSecond())))
	}

	session, err := r.pipeline.Start(ctx, SinkFunc(rec.append))
	if err != nil {
		return nil, err
	}
	rec.session = session
	rec.started = time.Now()
	return rec, nil
}

// Recording is an in-progress one-shot capture.
type Recording struct {
	format  audio.Format
	session *Session
	started time.Time

	mu  sync.Mutex
	pcm bytes.Buffer

	stopOnce sync.Once
	done     chan struct{}
	blob     *audio.Blob
	err      error
}

func (r *Recording) append(f audio.Frame) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pcm.Write(f.Data)
	return nil
}

// Stop ends the capture and returns every accumulated chunk as one WAV blob.
// Later calls return the same result.
func (r *Recording) Stop() (*audio.Blob, error) {
	r.stopOnce.Do(func() {
		r.err = r.session.Stop()

		r.mu.Lock()
		pcm := append([]byte(nil), r.pcm.Bytes()...)
		r.mu.Unlock()

		frame := audio.Frame{Data: pcm, Format: r.format}
		r.blob = &audio.Blob{
			MIMEType: "audio/wav",
			Data:     audio.EncodeWAV(pcm, r.format),
			Duration: frame.Duration(),
		}
		r.session.pipeline.metrics.Recordings.Add(context.Background(), 1)
		r.session.pipeline.logger.Info("recording finished",
			"duration", r.blob.Duration,
			"wall", time.Since(r.started).Round(time.Millisecond),
		)
		close(r.done)
	})
	return r.blob, r.err
}

// Wait blocks until the recording is stopped. It never returns on its own:
// the caller must pair every Start with a Stop, including on cancellation.
func (r *Recording) Wait(ctx context.Context) (*audio.Blob, error) {
	select {
	case <-r.done:
		return r.blob, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Stopped reports whether Stop has completed.
func (r *Recording) Stopped() bool {
	select {
	case <-r.done:
		return true
	default:
		return false
	}
}
