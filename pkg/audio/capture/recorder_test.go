package capture

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"testing"
	"time"

	"github.com/pteprep/livevoice/pkg/audio"
)

func TestRecorderConcatenatesChunks(t *testing.T) {
	mic := &fakeMic{}
	p := NewPipeline(mic, Config{FrameSize: 2}, nil)
	r := NewRecorder(p)

	rec, err := r.Start(context.Background(), 2*time.Second)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	mic.emit(0, 0.5)
	mic.emit(-0.5, 0.25)

	blob, err := rec.Stop()
	if err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if blob.MIMEType != "audio/wav" {
		t.Errorf("MIMEType = %q", blob.MIMEType)
	}
	if !bytes.HasPrefix(blob.Data, []byte("RIFF")) {
		t.Fatal("blob is not a WAV container")
	}

	pcm := blob.Data[44:]
	if len(pcm) != 8 {
		t.Fatalf("expected 8 PCM bytes, got %d", len(pcm))
	}
	want := []int16{0, 16384, -16384, 8192}
	for i, w := range want {
		if got := int16(binary.LittleEndian.Uint16(pcm[i*2:])); got != w {
			t.Errorf("sample %d = %d, want %d", i, got, w)
		}
	}
	if blob.Duration != 250*time.Microsecond {
		t.Errorf("Duration = %v", blob.Duration)
	}
}

func TestRecorderStopReturnsSameBlob(t *testing.T) {
	mic := &fakeMic{}
	r := NewRecorder(NewPipeline(mic, Config{FrameSize: 1}, nil))

	rec, err := r.Start(context.Background(), 0)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	mic.emit(0.1)

	first, err := rec.Stop()
	if err != nil {
		t.Fatalf("Stop: %v", err)
	}
	second, _ := rec.Stop()
	if first != second {
		t.Error("expected the same blob from repeated Stop")
	}
	if !rec.Stopped() {
		t.Error("Stopped = false after Stop")
	}
}

func TestRecorderPermissionDenied(t *testing.T) {
	mic := &fakeMic{err: audio.ErrPermissionDenied}
	p := NewPipeline(mic, DefaultConfig(), nil)

	rec, err := NewRecorder(p).Start(context.Background(), 0)
	if !errors.Is(err, audio.ErrPermissionDenied) {
		t.Fatalf("expected ErrPermissionDenied, got %v", err)
	}
	if rec != nil {
		t.Error("expected no recording")
	}
	if p.Current() != nil {
		t.Error("expected no capture session")
	}
}

func TestRecordingWait(t *testing.T) {
	mic := &fakeMic{}
	rec, err := NewRecorder(NewPipeline(mic, DefaultConfig(), nil)).Start(context.Background(), 0)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := rec.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected Wait to block until deadline, got %v", err)
	}

	result := make(chan *audio.Blob, 1)
	go func() {
		blob, _ := rec.Wait(context.Background())
		result <- blob
	}()

	blob, _ := rec.Stop()
	select {
	case got := <-result:
		if got != blob {
			t.Error("Wait returned a different blob")
		}
	case <-time.After(time.Second):
		t.Fatal("Wait did not return after Stop")
	}
}
