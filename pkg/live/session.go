package live

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pteprep/livevoice/pkg/audio"
	"github.com/pteprep/livevoice/pkg/audio/capture"
	"github.com/pteprep/livevoice/pkg/audio/playback"
	"github.com/pteprep/livevoice/pkg/metrics"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Config wires a Session to its collaborators.
type Config struct {
	Dialer  Dialer
	Device  playback.Device
	Capture *capture.Pipeline
	Logger  audio.Logger
	Metrics *metrics.Metrics
	// EventBuffer is the capacity of the Events channel. Events are dropped
	// with a warning when the consumer falls behind.
	EventBuffer int
}

// Session is a restartable live voice session. It owns at most one run at a
// time; every run acquires its own output device and transport and releases
// both on teardown.
type Session struct {
	dialer  Dialer
	device  playback.Device
	capture *capture.Pipeline
	logger  audio.Logger
	metrics *metrics.Metrics

	evMu     sync.Mutex
	events   chan Event
	evClosed bool

	mu      sync.Mutex
	state   State
	cur     *run
	id      string
	turns   []Turn
	input   strings.Builder
	output  strings.Builder
	lastErr error
}

// run holds the resources of one Start..teardown cycle. Callbacks from a
// transport whose run is no longer current are ignored.
type run struct {
	s         *Session
	id        string
	started   time.Time
	ctx       context.Context
	cancel    context.CancelFunc
	output    playback.Output
	sched     *playback.Scheduler
	seq       *playback.Sequence
	transport Transport
	mic       *capture.Session
	// capturing is set once capture has been started for the run. Capture
	// needs both the OnOpen signal and the transport returned by Dial.
	capturing bool

	openOnce sync.Once
	opened   chan struct{}
	openErr  error
}

// errClosedBeforeOpen is reported to WaitOpen when a run ends before it
// reached Open.
var errClosedBeforeOpen = fmt.Errorf("%w: session closed before it opened", ErrNotOpen)

// signalOpen releases WaitOpen callers. The first outcome wins.
func (r *run) signalOpen(err error) {
	r.openOnce.Do(func() {
		r.openErr = err
		close(r.opened)
	})
}

// NewSession creates an idle session.
func NewSession(cfg Config) *Session {
	logger := cfg.Logger
	if logger == nil {
		logger = &audio.NoOpLogger{}
	}
	size := cfg.EventBuffer
	if size <= 0 {
		size = 256
	}
	return &Session{
		dialer:  cfg.Dialer,
		device:  cfg.Device,
		capture: cfg.Capture,
		logger:  logger,
		metrics: metrics.OrDiscard(cfg.Metrics),
		events:  make(chan Event, size),
		state:   Idle,
	}
}

// Start acquires the output device and dials the transport. The session is
// Connecting when Start returns; capture begins once the transport opens.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.state != Idle && s.state != Closed {
		s.mu.Unlock()
		return ErrSessionActive
	}

	out, err := s.device.Open(audio.ModelFormat)
	if err != nil {
		s.lastErr = err
		s.mu.Unlock()
		return fmt.Errorf("open output: %w", err)
	}

	rctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	sched := playback.NewScheduler(out, s.logger)
	r := &run{
		s:       s,
		id:      uuid.NewString(),
		started: time.Now(),
		ctx:     rctx,
		cancel:  cancel,
		output:  out,
		sched:   sched,
		seq:     sched.NewSequence(),
		opened:  make(chan struct{}),
	}
	s.cur = r
	s.id = r.id
	s.turns = nil
	s.input.Reset()
	s.output.Reset()
	s.lastErr = nil
	s.setState(Connecting)
	s.mu.Unlock()

	s.logger.Info("live session connecting", "session_id", r.id)
	s.metrics.ActiveSessions.Add(context.Background(), 1)

	t, err := s.dialer.Dial(ctx, r)
	if err != nil {
		err = fmt.Errorf("%w: dial: %v", ErrTransport, err)
		s.fail(r, err)
		return err
	}

	s.mu.Lock()
	if s.cur != r {
		s.mu.Unlock()
		_ = t.Close()
		return fmt.Errorf("%w: session stopped while connecting", ErrTransport)
	}
	r.transport = t
	startNow := s.state.active() && !r.capturing
	r.capturing = r.capturing || startNow
	s.mu.Unlock()

	if startNow {
		r.startCapture()
	}
	return nil
}

// WaitOpen blocks until the current run is open and capturing, or has
// failed. A microphone refused after the transport opened is returned here
// wrapping audio.ErrPermissionDenied; Start has already returned nil by then.
func (s *Session) WaitOpen(ctx context.Context) error {
	s.mu.Lock()
	r := s.cur
	lastErr := s.lastErr
	s.mu.Unlock()
	if r == nil {
		if lastErr != nil {
			return lastErr
		}
		return ErrNotOpen
	}

	select {
	case <-r.opened:
		return r.openErr
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop tears the session down: transport, capture, scheduled playback and
// the output device, in that order. Every step runs even if an earlier one
// fails; the failures are joined. Stop on an idle or closed session is a
// no-op.
func (s *Session) Stop() error {
	s.mu.Lock()
	r := s.cur
	if r == nil {
		s.mu.Unlock()
		return nil
	}
	s.detach()
	s.mu.Unlock()

	err := r.teardown()
	s.finish(r, "stopped")
	return err
}

// Close stops the session and closes the Events channel.
func (s *Session) Close() error {
	err := s.Stop()
	s.evMu.Lock()
	if !s.evClosed {
		s.evClosed = true
		close(s.events)
	}
	s.evMu.Unlock()
	return err
}

// Events returns the session's event stream. It is shared by every run and
// closed by Close.
func (s *Session) Events() <-chan Event {
	return s.events
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// ID returns the identifier of the current or most recent run.
func (s *Session) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

// Transcript returns a copy of the finalized turns, oldest first.
func (s *Session) Transcript() []Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Turn(nil), s.turns...)
}

// Partial returns the untrimmed transcript accumulated since the last turn.
func (s *Session) Partial() Partial {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Partial{User: s.input.String(), Model: s.output.String()}
}

// LastError returns the most recent failure, cleared by Start.
func (s *Session) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// Speaking reports whether model audio is scheduled or playing.
func (s *Session) Speaking() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cur != nil && s.cur.seq.Active() > 0
}

// detach moves the current run out of the session. Callers hold s.mu.
func (s *Session) detach() {
	s.cur = nil
	s.setState(Closing)
}

// fail tears r down after an unrecoverable error and reports it.
func (s *Session) fail(r *run, err error) {
	r.signalOpen(err)
	s.mu.Lock()
	if s.cur != r {
		s.mu.Unlock()
		return
	}
	s.detach()
	s.lastErr = err
	s.mu.Unlock()

	s.logger.Error("live session failed", "session_id", r.id, "error", err)
	s.emit(r.id, ErrorEvent, err)
	if terr := r.teardown(); terr != nil {
		s.logger.Warn("teardown after failure", "session_id", r.id, "error", terr)
	}
	s.finish(r, "failed")
}

func (s *Session) finish(r *run, reason string) {
	s.metrics.ActiveSessions.Add(context.Background(), -1)
	s.metrics.SessionDuration.Record(context.Background(), time.Since(r.started).Seconds(),
		metric.WithAttributes(attribute.String("reason", reason)))

	s.mu.Lock()
	// A newer run may already have started.
	if s.cur == nil {
		s.setState(Closed)
	}
	s.mu.Unlock()
	s.logger.Info("live session closed", "session_id", r.id, "reason", reason)
}

// setState records and announces a transition. Callers hold s.mu.
func (s *Session) setState(st State) {
	if s.state == st {
		return
	}
	s.logger.Debug("live session state", "from", s.state.String(), "to", st.String())
	s.state = st
	s.emit(s.id, StateChanged, st)
}

func (s *Session) emit(id string, t EventType, data interface{}) {
	s.evMu.Lock()
	defer s.evMu.Unlock()
	if s.evClosed {
		return
	}
	select {
	case s.events <- Event{Type: t, SessionID: id, Data: data}:
	default:
		s.logger.Warn("live event dropped", "type", string(t))
	}
}

// teardown releases the run's resources in order: transport, capture,
// playback, output. The run context is cancelled only after capture has
// stopped so its watcher cannot close the microphone ahead of the transport.
func (r *run) teardown() error {
	r.signalOpen(errClosedBeforeOpen)
	var errs []error
	if r.transport != nil {
		if err := r.transport.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close transport: %w", err))
		}
	}
	if r.mic != nil {
		if err := r.mic.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("stop capture: %w", err))
		}
	}
	r.cancel()
	r.seq.StopAll()
	r.sched.StopSlots()
	if err := r.output.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close output: %w", err))
	}
	return errors.Join(errs...)
}

// SendAudio forwards a captured frame to the run's transport.
func (r *run) SendAudio(p audio.Packet) error {
	r.s.mu.Lock()
	t := r.transport
	live := r.s.cur == r && r.s.state.active()
	r.s.mu.Unlock()
	if !live || t == nil {
		return ErrNotOpen
	}
	return t.SendAudio(p)
}

func (r *run) OnOpen() {
	s := r.s
	s.mu.Lock()
	if s.cur != r || s.state != Connecting {
		s.mu.Unlock()
		return
	}
	s.setState(Open)
	startNow := r.transport != nil && !r.capturing
	r.capturing = r.capturing || startNow
	s.mu.Unlock()
	s.logger.Info("live session open", "session_id", r.id)

	if startNow {
		r.startCapture()
	}
}

func (r *run) startCapture() {
	s := r.s
	if s.capture == nil {
		r.signalOpen(nil)
		return
	}
	mic, err := s.capture.Start(r.ctx, capture.WireSink(r))
	if err != nil {
		s.fail(r, err)
		return
	}

	s.mu.Lock()
	if s.cur != r {
		s.mu.Unlock()
		_ = mic.Stop()
		return
	}
	r.mic = mic
	s.mu.Unlock()
	r.signalOpen(nil)
}

func (r *run) OnMessage(msg Message) {
	s := r.s
	ctx := context.Background()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cur != r || !s.state.active() {
		return
	}

	if msg.InputTranscript != "" || msg.OutputTranscript != "" {
		s.input.WriteString(msg.InputTranscript)
		s.output.WriteString(msg.OutputTranscript)
		s.emit(r.id, TranscriptPartial, Partial{User: s.input.String(), Model: s.output.String()})
	}

	for _, chunk := range msg.AudioChunks {
		s.metrics.PacketsReceived.Add(ctx, 1)
		buf, err := audio.DecodePacket(chunk, audio.ModelFormat)
		if err != nil {
			s.metrics.DecodeErrors.Add(ctx, 1)
			s.logger.Warn("dropping undecodable audio packet", "session_id", r.id, "error", err)
			s.emit(r.id, ErrorEvent, err)
			continue
		}
		if _, err := r.seq.Enqueue(buf); err != nil {
			s.logger.Warn("failed to schedule audio", "session_id", r.id, "error", err)
			s.emit(r.id, ErrorEvent, err)
			continue
		}
		s.metrics.ChunksScheduled.Add(ctx, 1)
	}

	if msg.Interrupted {
		s.setState(Interrupted)
		n := r.seq.StopAll()
		s.metrics.Interruptions.Add(ctx, 1)
		s.logger.Info("model interrupted", "session_id", r.id, "stopped", n)
		s.emit(r.id, InterruptedEvent, n)
		s.setState(Open)
	}

	if msg.TurnComplete {
		user := strings.TrimSpace(s.input.String())
		model := strings.TrimSpace(s.output.String())
		if user != "" || model != "" {
			turn := Turn{User: user, Model: model}
			s.turns = append(s.turns, turn)
			s.metrics.Turns.Add(ctx, 1)
			s.emit(r.id, TurnCompleted, turn)
		}
		s.input.Reset()
		s.output.Reset()
	}
}

func (r *run) OnError(err error) {
	r.s.metrics.TransportErrors.Add(context.Background(), 1)
	if !errors.Is(err, ErrTransport) {
		err = fmt.Errorf("%w: %v", ErrTransport, err)
	}
	r.s.fail(r, err)
}

func (r *run) OnClose(reason string) {
	s := r.s
	s.mu.Lock()
	if s.cur != r {
		s.mu.Unlock()
		return
	}
	s.detach()
	s.mu.Unlock()

	s.logger.Info("live transport closed by remote", "session_id", r.id, "reason", reason)
	if err := r.teardown(); err != nil {
		s.logger.Warn("teardown after remote close", "session_id", r.id, "error", err)
	}
	s.finish(r, "remote_close")
}
