// Package capture acquires the microphone and turns live input into fixed
// size PCM16 frames, either streamed to a sink as they arrive or buffered
// into a single recording.
package capture

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/pteprep/livevoice/pkg/audio"
	"github.com/pteprep/livevoice/pkg/metrics"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Stream is an acquired microphone. Close stops all tracks and releases the
// device; once it returns the frame callback is never invoked again.
type Stream interface {
	Close() error
}

// Microphone acquires input streams. Open calls onFrame sequentially, in
// capture order, with frameSize samples per channel (interleaved, normalised
// to [-1, 1]). The slice passed to onFrame is owned by the callee. Open must
// fail with an error wrapping audio.ErrPermissionDenied when access is
// refused or no device is available.
type Microphone interface {
	Open(ctx context.Context, f audio.Format, frameSize int, onFrame func(samples []float32)) (Stream, error)
}

// Sink receives captured frames in capture order.
type Sink interface {
	WriteFrame(f audio.Frame) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(f audio.Frame) error

func (fn SinkFunc) WriteFrame(f audio.Frame) error { return fn(f) }

// PacketSender is anything that accepts wire packets, typically a live
// transport.
type PacketSender interface {
	SendAudio(p audio.Packet) error
}

type wireSink struct {
	sender PacketSender
}

// WireSink returns a Sink that encodes every frame to its base64 wire form
// and forwards it to sender.
func WireSink(sender PacketSender) Sink {
	return &wireSink{sender: sender}
}

func (w *wireSink) WriteFrame(f audio.Frame) error {
	return w.sender.SendAudio(audio.NewPacket(f))
}

// Config controls the capture format.
type Config struct {
	Format    audio.Format
	FrameSize int
	// QueueSize bounds frames waiting for the sink. The device callback
	// blocks when it is full.
	QueueSize int
}

// DefaultConfig returns 4096-sample frames at 16 kHz mono.
func DefaultConfig() Config {
	return Config{
		Format:    audio.MicFormat,
		FrameSize: 4096,
		QueueSize: 256,
	}
}

// Pipeline owns one microphone and at most one open capture session.
type Pipeline struct {
	mic     Microphone
	cfg     Config
	logger  audio.Logger
	metrics *metrics.Metrics
	level   audio.LevelMeter

	startMu sync.Mutex
	mu      sync.Mutex
	current *Session
}

// NewPipeline creates a capture pipeline over mic.
// If logger is nil, a no-op logger is used
func NewPipeline(mic Microphone, cfg Config, logger audio.Logger) *Pipeline {
	if logger == nil {
		logger = &audio.NoOpLogger{}
	}
	if cfg.FrameSize <= 0 {
		cfg.FrameSize = DefaultConfig().FrameSize
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultConfig().QueueSize
	}
	if cfg.Format.SampleRate == 0 {
		cfg.Format = audio.MicFormat
	}
	return &Pipeline{
		mic:     mic,
		cfg:     cfg,
		logger:  logger,
		metrics: metrics.Discard(),
	}
}

// SetMetrics sets the instruments used by sessions started afterwards.
func (p *Pipeline) SetMetrics(m *metrics.Metrics) {
	p.metrics = metrics.OrDiscard(m)
}

// Format returns the capture format.
func (p *Pipeline) Format() audio.Format {
	return p.cfg.Format
}

// Level returns the RMS of the most recent captured frame.
func (p *Pipeline) Level() float64 {
	return p.level.Level()
}

// Current returns the open session, or nil.
func (p *Pipeline) Current() *Session {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current
}

// Start tears down any open session, acquires the microphone and begins
// delivering frames to sink. The session also stops when ctx is done.
func (p *Pipeline) Start(ctx context.Context, sink Sink) (*Session, error) {
	p.startMu.Lock()
	defer p.startMu.Unlock()

	if prev := p.detachCurrent(); prev != nil {
		p.logger.Debug("stopping previous capture session before start")
		if err := prev.Stop(); err != nil {
			p.logger.Warn("previous capture session stop failed", "error", err)
		}
	}

	s := &Session{
		pipeline: p,
		sink:     sink,
		format:   p.cfg.Format,
		queue:    make(chan audio.Frame, p.cfg.QueueSize),
		done:     make(chan struct{}),
	}

	stream, err := p.mic.Open(ctx, p.cfg.Format, p.cfg.FrameSize, s.onFrame)
	if err != nil {
		p.logger.Warn("microphone open failed", "error", err)
		if !errors.Is(err, audio.ErrPermissionDenied) {
			err = fmt.Errorf("%w: %v", audio.ErrPermissionDenied, err)
		}
		return nil, err
	}
	s.stream = stream

	go s.deliver()

	p.mu.Lock()
	p.current = s
	p.mu.Unlock()

	stopWatch := context.AfterFunc(ctx, func() { _ = s.Stop() })
	s.mu.Lock()
	s.stopWatch = stopWatch
	s.mu.Unlock()

	p.logger.Info("capture started", "format", p.cfg.Format.String(), "frameSize", p.cfg.FrameSize)
	return s, nil
}

// Stop stops the open session, if any.
func (p *Pipeline) Stop() error {
	if s := p.detachCurrent(); s != nil {
		return s.Stop()
	}
	return nil
}

func (p *Pipeline) detachCurrent() *Session {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := p.current
	p.current = nil
	return s
}

func (p *Pipeline) release(s *Session) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current == s {
		p.current = nil
	}
}

// Session is one open microphone acquisition.
type Session struct {
	pipeline  *Pipeline
	sink      Sink
	format    audio.Format
	stream    Stream
	stopWatch func() bool

	mu      sync.Mutex
	stopped bool
	seq     uint64
	queue   chan audio.Frame
	done    chan struct{}

	delivered atomic.Uint64
	stopOnce  sync.Once
	stopErr   error
}

// onFrame runs on the device callback. Frames are queued in capture order;
// a single worker delivers them.
func (s *Session) onFrame(samples []float32) {
	s.pipeline.level.Observe(samples)
	pcm := audio.FloatToPCM16(samples)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	s.seq++
	s.queue <- audio.Frame{Data: pcm, Format: s.format, Seq: s.seq}
}

func (s *Session) deliver() {
	defer close(s.done)
	m := s.pipeline.metrics
	for f := range s.queue {
		if err := s.sink.WriteFrame(f); err != nil {
			s.pipeline.logger.Warn("capture frame rejected by sink", "seq", f.Seq, "error", err)
			m.FrameErrors.Add(context.Background(), 1, metric.WithAttributes(attribute.String("stage", "sink")))
			continue
		}
		s.delivered.Add(1)
		m.FramesCaptured.Add(context.Background(), 1)
	}
}

// Stop releases the device and waits until every frame captured before the
// call has been delivered. Idempotent.
func (s *Session) Stop() error {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		stopWatch := s.stopWatch
		s.mu.Unlock()
		if stopWatch != nil {
			stopWatch()
		}

		// The stream may flush a trailing partial frame while closing, so the
		// session keeps accepting frames until Close returns.
		if err := s.stream.Close(); err != nil {
			s.stopErr = fmt.Errorf("close microphone: %w", err)
		}

		s.mu.Lock()
		s.stopped = true
		close(s.queue)
		s.mu.Unlock()

		<-s.done
		s.pipeline.release(s)
		s.pipeline.level.Reset()
		s.pipeline.logger.Info("capture stopped", "frames", s.delivered.Load())
	})
	return s.stopErr
}

// Delivered returns the number of frames the sink accepted.
func (s *Session) Delivered() uint64 {
	return s.delivered.Load()
}

// Done is closed once the session has stopped and drained.
func (s *Session) Done() <-chan struct{} {
	return s.done
}
