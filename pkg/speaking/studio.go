// Package speaking is the surface a practice screen drives: one live
// conversation, text-to-speech prompts and one-shot answer recordings, all
// sharing the same microphone and kept from stepping on each other.
package speaking

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/pteprep/livevoice/pkg/audio"
	"github.com/pteprep/livevoice/pkg/audio/capture"
	"github.com/pteprep/livevoice/pkg/audio/playback"
	"github.com/pteprep/livevoice/pkg/live"
	"github.com/pteprep/livevoice/pkg/practice"
)

var (
	// ErrNotRecording is returned by StopRecording when no recording is open
	ErrNotRecording = errors.New("no recording in progress")
)

const promptSlot = "prompt"

var _ practice.Recorder = (*Studio)(nil)

// Synthesizer turns text into playable audio.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) (*audio.Buffer, error)
}

type Config struct {
	Live    *live.Session
	Capture *capture.Pipeline
	Device  playback.Device
	TTS     Synthesizer
	Logger  audio.Logger
	// RecordHint sizes the buffer of one-shot recordings.
	RecordHint time.Duration
}

// Studio coordinates the live session, prompt playback and recordings.
type Studio struct {
	live     *live.Session
	recorder *capture.Recorder
	device   playback.Device
	tts      Synthesizer
	logger   audio.Logger
	hint     time.Duration

	// claimMu is held from the exclusivity check until the live session or
	// the recording owns the microphone.
	claimMu sync.Mutex

	mu        sync.Mutex
	recording *capture.Recording
	out       playback.Output
	outRate   int
	sched     *playback.Scheduler
	lastErr   error
}

// NewStudio creates a studio.
// If logger is nil, a no-op logger is used
func NewStudio(cfg Config) *Studio {
	logger := cfg.Logger
	if logger == nil {
		logger = &audio.NoOpLogger{}
	}
	return &Studio{
		live:     cfg.Live,
		recorder: capture.NewRecorder(cfg.Capture),
		device:   cfg.Device,
		tts:      cfg.TTS,
		logger:   logger,
		hint:     cfg.RecordHint,
	}
}

// StartLiveSession opens the live conversation. It fails with
// live.ErrSessionActive while a recording holds the microphone.
//
// It returns once the transport is dialling. The microphone is acquired
// when the model accepts the session, so a refused microphone surfaces
// through AwaitLive, LastError and the event stream rather than here.
func (s *Studio) StartLiveSession(ctx context.Context) error {
	s.claimMu.Lock()
	defer s.claimMu.Unlock()

	s.mu.Lock()
	if s.recording != nil {
		s.mu.Unlock()
		return fmt.Errorf("%w: recording in progress", live.ErrSessionActive)
	}
	sched := s.sched
	s.mu.Unlock()

	if sched != nil {
		sched.StopSlots()
	}
	if err := s.live.Start(ctx); err != nil {
		s.setErr(err)
		return err
	}
	return nil
}

// AwaitLive blocks until the live session is open and capturing. It
// returns the failure that ended the session otherwise.
func (s *Studio) AwaitLive(ctx context.Context) error {
	if err := s.live.WaitOpen(ctx); err != nil {
		s.setErr(err)
		return err
	}
	return nil
}

// StopLiveSession tears the live conversation down.
func (s *Studio) StopLiveSession() error {
	err := s.live.Stop()
	if err != nil {
		s.setErr(err)
	}
	return err
}

// PlayText synthesizes text and plays it as the prompt, replacing any prompt
// still playing. The returned handle is done when playback ends.
func (s *Studio) PlayText(ctx context.Context, text string) (*playback.Handle, error) {
	if s.tts == nil {
		return nil, errors.New("no synthesizer configured")
	}
	buf, err := s.tts.Synthesize(ctx, text)
	if err != nil {
		s.setErr(err)
		return nil, fmt.Errorf("synthesize: %w", err)
	}

	sched, err := s.scheduler(buf.SampleRate)
	if err != nil {
		s.setErr(err)
		return nil, err
	}
	h, err := sched.PlayOnce(promptSlot, buf, nil)
	if err != nil {
		s.setErr(err)
		return nil, err
	}
	s.logger.Info("prompt playing", "duration", buf.Duration())
	return h, nil
}

// StopPlayback silences the prompt.
func (s *Studio) StopPlayback() {
	s.mu.Lock()
	sched := s.sched
	s.mu.Unlock()
	if sched != nil {
		sched.Stop(promptSlot)
	}
}

// StartRecording begins a one-shot answer recording. A recording already in
// progress is discarded. It fails with live.ErrSessionActive while the live
// session holds the microphone.
func (s *Studio) StartRecording(ctx context.Context) error {
	s.claimMu.Lock()
	defer s.claimMu.Unlock()

	switch s.live.State() {
	case live.Connecting, live.Open, live.Interrupted, live.Closing:
		return fmt.Errorf("%w: live session holds the microphone", live.ErrSessionActive)
	}

	s.mu.Lock()
	prev := s.recording
	s.recording = nil
	s.mu.Unlock()
	if prev != nil {
		s.logger.Warn("discarding unfinished recording")
		_, _ = prev.Stop()
	}

	rec, err := s.recorder.Start(ctx, s.hint)
	if err != nil {
		s.setErr(err)
		return err
	}

	s.mu.Lock()
	s.recording = rec
	s.mu.Unlock()
	return nil
}

// StopRecording ends the recording and returns it as one blob.
func (s *Studio) StopRecording() (*audio.Blob, error) {
	s.mu.Lock()
	rec := s.recording
	s.recording = nil
	s.mu.Unlock()

	if rec == nil {
		return nil, ErrNotRecording
	}
	blob, err := rec.Stop()
	if err != nil {
		s.setErr(err)
	}
	return blob, err
}

// Recording reports whether a one-shot recording is open.
func (s *Studio) Recording() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recording != nil
}

func (s *Studio) SessionState() live.State {
	return s.live.State()
}

func (s *Studio) LiveTranscript() []live.Turn {
	return s.live.Transcript()
}

// Events returns the live session's event stream.
func (s *Studio) Events() <-chan live.Event {
	return s.live.Events()
}

// IsSpeaking reports whether a prompt or model speech is playing.
func (s *Studio) IsSpeaking() bool {
	s.mu.Lock()
	sched := s.sched
	s.mu.Unlock()
	if sched != nil && sched.Speaking() {
		return true
	}
	return s.live.Speaking()
}

// LastError returns the most recent failure from the studio or the live
// session.
func (s *Studio) LastError() error {
	s.mu.Lock()
	err := s.lastErr
	s.mu.Unlock()
	if lerr := s.live.LastError(); lerr != nil {
		return lerr
	}
	return err
}

// Close stops everything and releases the prompt output.
func (s *Studio) Close() error {
	var errs []error
	if _, err := s.StopRecording(); err != nil && !errors.Is(err, ErrNotRecording) {
		errs = append(errs, err)
	}
	if err := s.live.Close(); err != nil {
		errs = append(errs, err)
	}

	s.mu.Lock()
	out, sched := s.out, s.sched
	s.out, s.sched = nil, nil
	s.mu.Unlock()
	if sched != nil {
		sched.StopSlots()
	}
	if out != nil {
		if err := out.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close prompt output: %w", err))
		}
	}
	return errors.Join(errs...)
}

// scheduler returns the prompt scheduler, opening the output on first use
// and reopening it when a prompt arrives at a different sample rate.
func (s *Studio) scheduler(rate int) (*playback.Scheduler, error) {
	if rate <= 0 {
		rate = audio.ModelFormat.SampleRate
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sched != nil && s.outRate == rate {
		return s.sched, nil
	}
	if s.sched != nil {
		s.logger.Debug("reopening prompt output", "from", s.outRate, "to", rate)
		s.sched.StopSlots()
		if err := s.out.Close(); err != nil {
			s.logger.Warn("close prompt output", "error", err)
		}
		s.out, s.sched, s.outRate = nil, nil, 0
	}

	out, err := s.device.Open(audio.Format{SampleRate: rate, Channels: 1})
	if err != nil {
		return nil, fmt.Errorf("open prompt output: %w", err)
	}
	s.out = out
	s.outRate = rate
	s.sched = playback.NewScheduler(out, s.logger)
	return s.sched, nil
}

func (s *Studio) setErr(err error) {
	s.mu.Lock()
	s.lastErr = err
	s.mu.Unlock()
	s.logger.Warn("studio operation failed", "error", err)
}
