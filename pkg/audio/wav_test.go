package audio

import (
	"bytes"
	"encoding/binary"
	"testing"
)

func TestEncodeWAV(t *testing.T) {
	pcm := []byte{0x01, 0x02, 0x03, 0x04}
	wav := EncodeWAV(pcm, MicFormat)

	if !bytes.HasPrefix(wav, []byte("RIFF")) {
		t.Errorf("Expected RIFF prefix")
	}

	if !bytes.Contains(wav, []byte("WAVE")) {
		t.Errorf("Expected WAVE format identifier")
	}

	expectedLen := 44 + len(pcm)
	if len(wav) != expectedLen {
		t.Errorf("Expected length %d, got %d", expectedLen, len(wav))
	}

	if rate := binary.LittleEndian.Uint32(wav[24:28]); rate != 16000 {
		t.Errorf("Expected sample rate 16000, got %d", rate)
	}
	if byteRate := binary.LittleEndian.Uint32(wav[28:32]); byteRate != 32000 {
		t.Errorf("Expected byte rate 32000, got %d", byteRate)
	}
	if !bytes.Equal(wav[44:], pcm) {
		t.Errorf("Expected PCM payload after header")
	}
}

func TestEncodeWAV_Stereo(t *testing.T) {
	wav := EncodeWAV(make([]byte, 8), Format{SampleRate: 24000, Channels: 2})
	if ch := binary.LittleEndian.Uint16(wav[22:24]); ch != 2 {
		t.Errorf("Expected 2 channels, got %d", ch)
	}
	if align := binary.LittleEndian.Uint16(wav[32:34]); align != 4 {
		t.Errorf("Expected block align 4, got %d", align)
	}
}
