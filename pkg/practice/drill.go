package practice

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/pteprep/livevoice/pkg/audio"
)

// Recorder is the one-shot recording surface a drill drives.
type Recorder interface {
	StartRecording(ctx context.Context) error
	StopRecording() (*audio.Blob, error)
}

type Phase int

const (
	PhaseIdle Phase = iota
	PhasePrep
	PhaseRecording
	PhaseDone
	PhaseCancelled
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhasePrep:
		return "prep"
	case PhaseRecording:
		return "recording"
	case PhaseDone:
		return "done"
	case PhaseCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Result is the outcome of a completed drill. Expired is true when the
// record window ran out rather than the candidate finishing early; expiry
// is a normal ending, not an error.
type Result struct {
	Blob    *audio.Blob
	Expired bool
}

var errDrillRunning = errors.New("drill already running")

// Drill runs the prep countdown, then records until the record window
// expires or Advance is called. Every timer it arms is released before Run
// returns, whatever the exit path.
type Drill struct {
	rec    Recorder
	timing Timing
	logger audio.Logger

	// Tick is the countdown granularity reported to OnTick.
	Tick time.Duration
	// OnTick, when set, receives the phase and the time left in it. It runs
	// on the goroutine calling Run.
	OnTick func(p Phase, remaining time.Duration)

	advance chan struct{}

	mu      sync.Mutex
	phase   Phase
	running bool
}

// NewDrill creates a drill for one question.
// If logger is nil, a no-op logger is used
func NewDrill(rec Recorder, t Timing, logger audio.Logger) *Drill {
	if logger == nil {
		logger = &audio.NoOpLogger{}
	}
	return &Drill{
		rec:     rec,
		timing:  t,
		logger:  logger,
		Tick:    time.Second,
		advance: make(chan struct{}, 1),
	}
}

// Phase returns the current phase.
func (d *Drill) Phase() Phase {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.phase
}

// Advance ends the current phase early: it skips the rest of prep, or
// finishes the recording.
func (d *Drill) Advance() {
	select {
	case d.advance <- struct{}{}:
	default:
	}
}

// clearAdvance drops an Advance left over from the previous phase.
func (d *Drill) clearAdvance() {
	select {
	case <-d.advance:
	default:
	}
}

func (d *Drill) setPhase(p Phase) {
	d.mu.Lock()
	d.phase = p
	d.mu.Unlock()
	d.logger.Debug("drill phase", "phase", p.String())
}

// Run blocks until the drill ends. Cancelling ctx stops an in-progress
// recording and returns ctx.Err().
func (d *Drill) Run(ctx context.Context) (*Result, error) {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return nil, errDrillRunning
	}
	d.running = true
	d.mu.Unlock()
	defer func() {
		d.mu.Lock()
		d.running = false
		d.mu.Unlock()
	}()

	d.clearAdvance()
	d.setPhase(PhasePrep)
	if _, err := d.countdown(ctx, PhasePrep, d.timing.Prep); err != nil {
		d.setPhase(PhaseCancelled)
		return nil, err
	}

	if err := d.rec.StartRecording(ctx); err != nil {
		d.setPhase(PhaseCancelled)
		return nil, fmt.Errorf("start recording: %w", err)
	}
	d.clearAdvance()
	d.setPhase(PhaseRecording)

	expired, err := d.countdown(ctx, PhaseRecording, d.timing.Record)
	blob, stopErr := d.rec.StopRecording()
	if err != nil {
		d.setPhase(PhaseCancelled)
		return nil, err
	}
	if stopErr != nil {
		d.setPhase(PhaseCancelled)
		return nil, fmt.Errorf("stop recording: %w", stopErr)
	}

	d.setPhase(PhaseDone)
	return &Result{Blob: blob, Expired: expired}, nil
}

// countdown waits out one phase. It reports whether the window expired, as
// opposed to being ended by Advance.
func (d *Drill) countdown(ctx context.Context, p Phase, window time.Duration) (bool, error) {
	if window <= 0 {
		return true, ctx.Err()
	}

	deadline := time.Now().Add(window)
	timer := time.NewTimer(window)
	defer timer.Stop()

	tick := d.Tick
	if tick <= 0 {
		tick = time.Second
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	if d.OnTick != nil {
		d.OnTick(p, window)
	}
	for {
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-d.advance:
			return false, nil
		case <-timer.C:
			if d.OnTick != nil {
				d.OnTick(p, 0)
			}
			return true, nil
		case <-ticker.C:
			if d.OnTick != nil {
				if left := time.Until(deadline); left > 0 {
					d.OnTick(p, left)
				}
			}
		}
	}
}
