package playback

import (
	"encoding/binary"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/gen2brain/malgo"
	"github.com/pteprep/livevoice/pkg/audio"
)

// MalgoDevice opens mono float32 playback streams on the default output
// device.
type MalgoDevice struct {
	Logger audio.Logger
}

// Open initialises a malgo context and playback device at f.SampleRate.
func (d *MalgoDevice) Open(f audio.Format) (Output, error) {
	logger := d.Logger
	if logger == nil {
		logger = &audio.NoOpLogger{}
	}

	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: init context: %v", audio.ErrDeviceUnavailable, err)
	}

	out := &malgoOutput{
		mctx:   mctx,
		rate:   f.SampleRate,
		logger: logger,
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Playback)
	deviceConfig.Playback.Format = malgo.FormatF32
	deviceConfig.Playback.Channels = 1
	deviceConfig.SampleRate = uint32(f.SampleRate)
	deviceConfig.Alsa.NoMMap = 1

	device, err := malgo.InitDevice(mctx.Context, deviceConfig, malgo.DeviceCallbacks{
		Data: out.render,
	})
	if err != nil {
		_ = mctx.Uninit()
		mctx.Free()
		return nil, fmt.Errorf("%w: init playback device: %v", audio.ErrDeviceUnavailable, err)
	}
	out.device = device

	if err := device.Start(); err != nil {
		device.Uninit()
		_ = mctx.Uninit()
		mctx.Free()
		return nil, fmt.Errorf("%w: start playback device: %v", audio.ErrDeviceUnavailable, err)
	}

	logger.Info("playback device opened", "format", f.String())
	return out, nil
}

// malgoOutput mixes scheduled sources against a clock derived from the
// number of frames the device has rendered.
type malgoOutput struct {
	mctx   *malgo.AllocatedContext
	device *malgo.Device
	rate   int
	logger audio.Logger

	mu       sync.Mutex
	position int64
	sources  []*mixSource
	closed   bool
}

type mixSource struct {
	out        *malgoOutput
	samples    []float32
	startFrame int64
	onEnded    func()
}

func (o *malgoOutput) Now() time.Duration {
	o.mu.Lock()
	defer o.mu.Unlock()
	return time.Duration(o.position) * time.Second / time.Duration(o.rate)
}

func (o *malgoOutput) Start(buf *audio.Buffer, at time.Duration, onEnded func()) (Source, error) {
	if buf.SampleRate != o.rate {
		return nil, fmt.Errorf("playback: buffer at %dHz on %dHz output", buf.SampleRate, o.rate)
	}

	src := &mixSource{
		out:        o,
		samples:    downmix(buf),
		startFrame: int64(at) * int64(o.rate) / int64(time.Second),
		onEnded:    onEnded,
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return nil, audio.ErrDeviceUnavailable
	}
	if src.startFrame < o.position {
		src.startFrame = o.position
	}
	o.sources = append(o.sources, src)
	return src, nil
}

func (o *malgoOutput) Close() error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil
	}
	o.closed = true
	pending := o.sources
	o.sources = nil
	o.mu.Unlock()

	var err error
	if o.device != nil {
		err = o.device.Stop()
		o.device.Uninit()
	}
	if o.mctx != nil {
		_ = o.mctx.Uninit()
		o.mctx.Free()
	}

	for _, src := range pending {
		go src.onEnded()
	}
	return err
}

// render is the malgo data callback. It runs on the audio thread and must not
// block: end callbacks are dispatched on their own goroutines.
func (o *malgoOutput) render(pOutput, _ []byte, frameCount uint32) {
	o.mu.Lock()
	var ended []*mixSource
	n := int(frameCount)
	for i := 0; i < n; i++ {
		p := o.position + int64(i)
		var sum float32
		for _, src := range o.sources {
			off := p - src.startFrame
			if off >= 0 && off < int64(len(src.samples)) {
				sum += src.samples[off]
			}
		}
		if sum > 1 {
			sum = 1
		} else if sum < -1 {
			sum = -1
		}
		binary.LittleEndian.PutUint32(pOutput[i*4:], math.Float32bits(sum))
	}
	o.position += int64(n)

	live := o.sources[:0]
	for _, src := range o.sources {
		if src.startFrame+int64(len(src.samples)) <= o.position {
			ended = append(ended, src)
			continue
		}
		live = append(live, src)
	}
	o.sources = live
	o.mu.Unlock()

	for _, src := range ended {
		go src.onEnded()
	}
}

func (s *mixSource) Stop() {
	o := s.out
	o.mu.Lock()
	found := false
	for i, src := range o.sources {
		if src == s {
			o.sources = append(o.sources[:i], o.sources[i+1:]...)
			found = true
			break
		}
	}
	o.mu.Unlock()

	if found {
		go s.onEnded()
	}
}

func downmix(buf *audio.Buffer) []float32 {
	switch len(buf.Channels) {
	case 0:
		return nil
	case 1:
		return buf.Channels[0]
	}
	out := make([]float32, buf.Len())
	scale := 1 / float32(len(buf.Channels))
	for _, ch := range buf.Channels {
		for i, s := range ch {
			out[i] += s * scale
		}
	}
	return out
}
