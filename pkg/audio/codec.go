// Package audio holds the PCM codec shared by capture, playback and the live
// session: base64 wire text, signed 16-bit little-endian PCM and normalised
// float samples.
package audio

import (
	"encoding/base64"
	"encoding/binary"
	"fmt"
)

// EncodeToWire returns the standard base64 encoding of b.
func EncodeToWire(b []byte) string {
	return base64.StdEncoding.EncodeToString(b)
}

// DecodeFromWire is the inverse of EncodeToWire.
func DecodeFromWire(s string) ([]byte, error) {
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	return b, nil
}

// PCM16ToBuffer reinterprets b as interleaved signed 16-bit little-endian
// samples and splits them per channel, scaling each sample by 1/32768.
func PCM16ToBuffer(b []byte, sampleRate, channels int) (*Buffer, error) {
	if channels <= 0 {
		return nil, fmt.Errorf("%w: %d channels", ErrInvalidFrameLength, channels)
	}
	if len(b)%(2*channels) != 0 {
		return nil, fmt.Errorf("%w: %d bytes for %d channels", ErrInvalidFrameLength, len(b), channels)
	}

	frames := len(b) / (2 * channels)
	out := &Buffer{
		SampleRate: sampleRate,
		Channels:   make([][]float32, channels),
	}
	for ch := range out.Channels {
		out.Channels[ch] = make([]float32, frames)
	}
	for i := 0; i < frames; i++ {
		for ch := 0; ch < channels; ch++ {
			off := (i*channels + ch) * 2
			s := int16(binary.LittleEndian.Uint16(b[off:]))
			out.Channels[ch][i] = float32(s) / 32768.0
		}
	}
	return out, nil
}

// DecodePacket decodes wire text straight into a playable buffer.
func DecodePacket(s string, f Format) (*Buffer, error) {
	raw, err := DecodeFromWire(s)
	if err != nil {
		return nil, err
	}
	return PCM16ToBuffer(raw, f.SampleRate, f.Channels)
}

// FloatToPCM16 scales samples by 32768 and truncates them into the int16
// range. Out-of-range input is clamped.
func FloatToPCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, f := range samples {
		v := float64(f) * 32768.0
		if v > 32767 {
			v = 32767
		} else if v < -32768 {
			v = -32768
		}
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(v)))
	}
	return out
}
