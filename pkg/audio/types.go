package audio

import (
	"fmt"
	"time"
)

type Logger interface {
	Debug(msg string, args ...interface{})

	Info(msg string, args ...interface{})

	Warn(msg string, args ...interface{})

	Error(msg string, args ...interface{})
}

type NoOpLogger struct{}

func (n *NoOpLogger) Debug(msg string, args ...interface{}) {}
func (n *NoOpLogger) Info(msg string, args ...interface{})  {}
func (n *NoOpLogger) Warn(msg string, args ...interface{})  {}
func (n *NoOpLogger) Error(msg string, args ...interface{}) {}

// Format describes the sample rate and channel count of a PCM stream.
type Format struct {
	SampleRate int
	Channels   int
}

// The wire contract is asymmetric: the microphone is sent at 16 kHz and the
// model answers at 24 kHz. Decoding at the wrong rate changes pitch and speed.
var (
	MicFormat   = Format{SampleRate: 16000, Channels: 1}
	ModelFormat = Format{SampleRate: 24000, Channels: 1}
)

// MIMEType returns the Gemini media type for raw PCM16 at this rate.
func (f Format) MIMEType() string {
	return fmt.Sprintf("audio/pcm;rate=%d", f.SampleRate)
}

func (f Format) String() string {
	ch := "mono"
	if f.Channels == 2 {
		ch = "stereo"
	} else if f.Channels > 2 {
		ch = fmt.Sprintf("%dch", f.Channels)
	}
	return fmt.Sprintf("%dHz %s", f.SampleRate, ch)
}

// BytesPerSecond is the PCM16 byte rate of the format.
func (f Format) BytesPerSecond() int {
	return f.SampleRate * f.Channels * 2
}

// Frame is one chunk of captured PCM16 audio. Frames are immutable once
// produced; Seq counts frames within one capture session starting at 1.
type Frame struct {
	Data   []byte
	Format Format
	Seq    uint64
}

// Samples returns the number of samples per channel in the frame.
func (f Frame) Samples() int {
	if f.Format.Channels <= 0 {
		return 0
	}
	return len(f.Data) / (2 * f.Format.Channels)
}

// Duration returns the playback length of the frame.
func (f Frame) Duration() time.Duration {
	if f.Format.SampleRate <= 0 {
		return 0
	}
	return time.Duration(f.Samples()) * time.Second / time.Duration(f.Format.SampleRate)
}

// Buffer holds decoded, de-interleaved float samples in [-1, 1]. It is the
// playable form of a packet.
type Buffer struct {
	SampleRate int
	Channels   [][]float32
}

// Len returns the number of samples per channel.
func (b *Buffer) Len() int {
	if b == nil || len(b.Channels) == 0 {
		return 0
	}
	return len(b.Channels[0])
}

// Duration returns the playback length of the buffer.
func (b *Buffer) Duration() time.Duration {
	if b == nil || b.SampleRate <= 0 {
		return 0
	}
	return time.Duration(b.Len()) * time.Second / time.Duration(b.SampleRate)
}

// Packet is the wire representation of audio: base64 text of a PCM16 buffer.
type Packet struct {
	MIMEType string
	Data     string
}

// NewPacket encodes a PCM16 frame for the wire.
func NewPacket(f Frame) Packet {
	return Packet{MIMEType: f.Format.MIMEType(), Data: EncodeToWire(f.Data)}
}

// Decode returns the raw bytes carried by the packet.
func (p Packet) Decode() ([]byte, error) {
	return DecodeFromWire(p.Data)
}

// Blob is a complete encoded recording ready for upload.
type Blob struct {
	MIMEType string
	Data     []byte
	Duration time.Duration
}
