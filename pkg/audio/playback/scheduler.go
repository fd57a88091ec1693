package playback

import (
	"fmt"
	"sync"
	"time"

	"github.com/pteprep/livevoice/pkg/audio"
)

// Handle is one scheduled, in-flight playback source.
type Handle struct {
	Buffer *audio.Buffer
	// Start is the clock offset the buffer was scheduled at.
	Start time.Duration

	mu      sync.Mutex
	src     Source
	stopped bool
	ended   bool
	onEnded func()
	detach  func(*Handle)
	done    chan struct{}
}

func newHandle(buf *audio.Buffer, at time.Duration, onEnded func(), detach func(*Handle)) *Handle {
	return &Handle{
		Buffer:  buf,
		Start:   at,
		onEnded: onEnded,
		detach:  detach,
		done:    make(chan struct{}),
	}
}

// Done is closed once the handle finished or was stopped.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Stop silences the handle. The completion callback is not invoked.
func (h *Handle) Stop() {
	h.mu.Lock()
	if h.stopped || h.ended {
		h.mu.Unlock()
		return
	}
	h.stopped = true
	src := h.src
	close(h.done)
	h.mu.Unlock()

	h.detach(h)
	if src != nil {
		src.Stop()
	}
}

// attach records the started source. A handle stopped while it was being
// started is silenced here.
func (h *Handle) attach(src Source) {
	h.mu.Lock()
	h.src = src
	stopped := h.stopped
	h.mu.Unlock()

	if stopped {
		src.Stop()
	}
}

// finished is the Output's end callback.
func (h *Handle) finished() {
	h.mu.Lock()
	if h.stopped || h.ended {
		h.mu.Unlock()
		return
	}
	h.ended = true
	cb := h.onEnded
	close(h.done)
	h.mu.Unlock()

	h.detach(h)
	if cb != nil {
		cb()
	}
}

// Scheduler plays decoded buffers on one Output.
type Scheduler struct {
	out    Output
	logger audio.Logger

	mu    sync.Mutex
	slots map[string]*Handle
}

// NewScheduler creates a scheduler over out.
// If logger is nil, a no-op logger is used
func NewScheduler(out Output, logger audio.Logger) *Scheduler {
	if logger == nil {
		logger = &audio.NoOpLogger{}
	}
	return &Scheduler{
		out:    out,
		logger: logger,
		slots:  make(map[string]*Handle),
	}
}

// Output returns the output the scheduler plays on.
func (s *Scheduler) Output() Output {
	return s.out
}

// PlayOnce starts buf immediately in the given speaker slot. Whatever was
// playing in that slot is stopped first, so a slot speaks at most once at a
// time. onEnded runs only when playback completes naturally.
func (s *Scheduler) PlayOnce(slot string, buf *audio.Buffer, onEnded func()) (*Handle, error) {
	s.mu.Lock()
	prev := s.slots[slot]
	h := newHandle(buf, s.out.Now(), onEnded, func(h *Handle) { s.release(slot, h) })
	s.slots[slot] = h
	s.mu.Unlock()

	if prev != nil {
		prev.Stop()
	}

	src, err := s.out.Start(buf, h.Start, h.finished)
	if err != nil {
		s.release(slot, h)
		s.logger.Warn("playback start failed", "slot", slot, "error", err)
		return nil, fmt.Errorf("play %s: %w", slot, err)
	}
	h.attach(src)

	s.logger.Debug("playback started", "slot", slot, "duration", buf.Duration())
	return h, nil
}

// Stop silences whatever is playing in slot.
func (s *Scheduler) Stop(slot string) {
	s.mu.Lock()
	h := s.slots[slot]
	s.mu.Unlock()

	if h != nil {
		h.Stop()
	}
}

// StopSlots silences every slot.
func (s *Scheduler) StopSlots() {
	s.mu.Lock()
	handles := make([]*Handle, 0, len(s.slots))
	for _, h := range s.slots {
		handles = append(handles, h)
	}
	s.mu.Unlock()

	for _, h := range handles {
		h.Stop()
	}
}

// Speaking reports whether any slot is currently playing.
func (s *Scheduler) Speaking() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.slots) > 0
}

func (s *Scheduler) release(slot string, h *Handle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.slots[slot] == h {
		delete(s.slots, slot)
	}
}

// NewSequence returns an empty gapless sequence playing on this scheduler's
// output.
func (s *Scheduler) NewSequence() *Sequence {
	return &Sequence{
		out:    s.out,
		logger: s.logger,
		active: make(map[*Handle]struct{}),
	}
}

// Sequence schedules buffers back to back. It owns the running cursor and
// the active set used for bulk cancellation on barge-in.
type Sequence struct {
	out    Output
	logger audio.Logger

	mu     sync.Mutex
	cursor time.Duration
	active map[*Handle]struct{}
}

// Enqueue schedules buf at max(cursor, now) and advances the cursor by the
// buffer's duration, so consecutive chunks play without gaps or overlap.
func (q *Sequence) Enqueue(buf *audio.Buffer) (*Handle, error) {
	q.mu.Lock()
	start := q.cursor
	if now := q.out.Now(); now > start {
		start = now
	}
	q.cursor = start + buf.Duration()
	h := newHandle(buf, start, nil, q.remove)
	q.active[h] = struct{}{}
	q.mu.Unlock()

	src, err := q.out.Start(buf, start, h.finished)
	if err != nil {
		q.mu.Lock()
		delete(q.active, h)
		if q.cursor == start+buf.Duration() {
			q.cursor = start
		}
		q.mu.Unlock()
		return nil, fmt.Errorf("enqueue: %w", err)
	}
	h.attach(src)
	return h, nil
}

// StopAll stops every active handle, clears the set and resets the cursor
// to zero.
func (q *Sequence) StopAll() int {
	q.mu.Lock()
	handles := make([]*Handle, 0, len(q.active))
	for h := range q.active {
		handles = append(handles, h)
	}
	q.active = make(map[*Handle]struct{})
	q.cursor = 0
	q.mu.Unlock()

	for _, h := range handles {
		h.Stop()
	}
	if len(handles) > 0 {
		q.logger.Debug("playback sequence stopped", "handles", len(handles))
	}
	return len(handles)
}

// Cursor returns the offset at which the next chunk will start at the
// earliest.
func (q *Sequence) Cursor() time.Duration {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.cursor
}

// Active returns the number of scheduled handles that have not ended.
func (q *Sequence) Active() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.active)
}

func (q *Sequence) remove(h *Handle) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.active, h)
}
