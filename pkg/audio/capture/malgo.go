package capture

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"sync"

	"github.com/gen2brain/malgo"
	"github.com/pteprep/livevoice/pkg/audio"
)

// MalgoMicrophone implements Microphone on the default capture device.
type MalgoMicrophone struct {
	Logger audio.Logger
}

// Open initialises a malgo capture device in float32 at the requested rate
// and re-chunks the device periods into frames of exactly frameSize samples.
func (m *MalgoMicrophone) Open(_ context.Context, f audio.Format, frameSize int, onFrame func([]float32)) (Stream, error) {
	logger := m.Logger
	if logger == nil {
		logger = &audio.NoOpLogger{}
	}

	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to initialize malgo context: %v", audio.ErrPermissionDenied, err)
	}

	st := &malgoStream{
		mctx:    mctx,
		chunk:   make([]float32, 0, frameSize*f.Channels),
		size:    frameSize * f.Channels,
		onFrame: onFrame,
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatF32
	deviceConfig.Capture.Channels = uint32(f.Channels)
	deviceConfig.SampleRate = uint32(f.SampleRate)
	deviceConfig.Alsa.NoMMap = 1

	device, err := malgo.InitDevice(mctx.Context, deviceConfig, malgo.DeviceCallbacks{
		Data: st.capture,
	})
	if err != nil {
		_ = mctx.Uninit()
		mctx.Free()
		return nil, fmt.Errorf("%w: failed to initialize device: %v", audio.ErrPermissionDenied, err)
	}
	st.device = device

	if err := device.Start(); err != nil {
		device.Uninit()
		_ = mctx.Uninit()
		mctx.Free()
		return nil, fmt.Errorf("%w: failed to start device: %v", audio.ErrPermissionDenied, err)
	}

	logger.Debug("microphone opened", "format", f.String(), "frameSize", frameSize)
	return st, nil
}

type malgoStream struct {
	mctx   *malgo.AllocatedContext
	device *malgo.Device

	mu      sync.Mutex
	closed  bool
	chunk   []float32
	size    int
	onFrame func([]float32)
}

func (s *malgoStream) capture(_, pInput []byte, _ uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	for i := 0; i+3 < len(pInput); i += 4 {
		s.chunk = append(s.chunk, math.Float32frombits(binary.LittleEndian.Uint32(pInput[i:])))
		if len(s.chunk) == s.size {
			s.onFrame(s.chunk)
			s.chunk = make([]float32, 0, s.size)
		}
	}
}

// Close stops the device, flushes a trailing partial frame and releases the
// malgo context.
func (s *malgoStream) Close() error {
	err := s.device.Stop()
	s.device.Uninit()

	s.mu.Lock()
	s.closed = true
	if len(s.chunk) > 0 {
		s.onFrame(s.chunk)
		s.chunk = nil
	}
	s.mu.Unlock()

	_ = s.mctx.Uninit()
	s.mctx.Free()
	if err != nil {
		return fmt.Errorf("failed to stop device: %w", err)
	}
	return nil
}

// Device is one enumerated capture device.
type Device struct {
	Name      string
	IsDefault bool
}

// ListDevices returns the capture devices malgo can see.
func ListDevices() ([]Device, error) {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize malgo context: %w", err)
	}
	defer func() {
		_ = ctx.Uninit()
		ctx.Free()
	}()

	infos, err := ctx.Devices(malgo.Capture)
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate devices: %w", err)
	}

	devices := make([]Device, 0, len(infos))
	for _, info := range infos {
		devices = append(devices, Device{
			Name:      info.Name(),
			IsDefault: info.IsDefault > 0,
		})
	}
	return devices, nil
}
