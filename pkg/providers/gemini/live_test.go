package gemini_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/pteprep/livevoice/pkg/audio"
	"github.com/pteprep/livevoice/pkg/live"
	"github.com/pteprep/livevoice/pkg/providers/gemini"
)

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func startLiveServer(t *testing.T, handler func(conn *websocket.Conn, r *http.Request)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			InsecureSkipVerify: true,
		})
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "done")
		handler(conn, r)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func readJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Errorf("readJSON: %v", err)
		return
	}
	if err := json.Unmarshal(data, v); err != nil {
		t.Errorf("readJSON unmarshal: %v", err)
	}
}

func writeJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	data, _ := json.Marshal(v)
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		t.Logf("writeJSON: %v (may be expected on close)", err)
	}
}

func sendSetupComplete(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	writeJSON(t, conn, map[string]any{"setupComplete": map[string]any{}})
}

type recordingHandler struct {
	opened chan struct{}
	msgs   chan live.Message
	errs   chan error
	closes chan string
}

func newRecordingHandler() *recordingHandler {
	return &recordingHandler{
		opened: make(chan struct{}, 4),
		msgs:   make(chan live.Message, 16),
		errs:   make(chan error, 4),
		closes: make(chan string, 4),
	}
}

func (h *recordingHandler) OnOpen()                  { h.opened <- struct{}{} }
func (h *recordingHandler) OnMessage(m live.Message) { h.msgs <- m }
func (h *recordingHandler) OnError(err error)        { h.errs <- err }
func (h *recordingHandler) OnClose(reason string)    { h.closes <- reason }

func waitFor[T any](t *testing.T, ch <-chan T, what string) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(3 * time.Second):
		t.Fatalf("timeout waiting for %s", what)
	}
	var zero T
	return zero
}

func TestDial_SendsSetup(t *testing.T) {
	type setup struct {
		Setup struct {
			Model            string `json:"model"`
			GenerationConfig struct {
				ResponseModalities []string `json:"responseModalities"`
				SpeechConfig       struct {
					VoiceConfig struct {
						PrebuiltVoiceConfig struct {
							VoiceName string `json:"voiceName"`
						} `json:"prebuiltVoiceConfig"`
					} `json:"voiceConfig"`
				} `json:"speechConfig"`
			} `json:"generationConfig"`
			SystemInstruction struct {
				Parts []struct {
					Text string `json:"text"`
				} `json:"parts"`
			} `json:"systemInstruction"`
			InputAudioTranscription  *json.RawMessage `json:"inputAudioTranscription"`
			OutputAudioTranscription *json.RawMessage `json:"outputAudioTranscription"`
		} `json:"setup"`
	}

	got := make(chan setup, 1)
	keys := make(chan string, 1)
	srv := startLiveServer(t, func(conn *websocket.Conn, r *http.Request) {
		keys <- r.URL.Query().Get("key")
		var msg setup
		readJSON(t, conn, &msg)
		got <- msg
		<-conn.CloseRead(context.Background()).Done()
	})

	c := gemini.New("test-key",
		gemini.WithLiveURL(wsURL(srv)),
		gemini.WithModel("live-model"),
		gemini.WithVoice("Puck"),
		gemini.WithInstructions("You are a PTE examiner."),
	)
	tr, err := c.Dial(context.Background(), newRecordingHandler())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer tr.Close()

	if key := waitFor(t, keys, "request"); key != "test-key" {
		t.Errorf("key = %q", key)
	}
	msg := waitFor(t, got, "setup")
	if msg.Setup.Model != "models/live-model" {
		t.Errorf("model = %q", msg.Setup.Model)
	}
	if m := msg.Setup.GenerationConfig.ResponseModalities; len(m) != 1 || m[0] != "AUDIO" {
		t.Errorf("responseModalities = %v", m)
	}
	if v := msg.Setup.GenerationConfig.SpeechConfig.VoiceConfig.PrebuiltVoiceConfig.VoiceName; v != "Puck" {
		t.Errorf("voice = %q", v)
	}
	if p := msg.Setup.SystemInstruction.Parts; len(p) != 1 || p[0].Text != "You are a PTE examiner." {
		t.Errorf("systemInstruction = %+v", p)
	}
	if msg.Setup.InputAudioTranscription == nil || msg.Setup.OutputAudioTranscription == nil {
		t.Error("audio transcription not requested")
	}
}

func TestTransport_OpenAndSendAudio(t *testing.T) {
	chunks := make(chan map[string]string, 1)
	srv := startLiveServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var setup map[string]any
		readJSON(t, conn, &setup)
		sendSetupComplete(t, conn)

		var msg struct {
			RealtimeInput struct {
				MediaChunks []struct {
					MIMEType string `json:"mimeType"`
					Data     string `json:"data"`
				} `json:"mediaChunks"`
			} `json:"realtimeInput"`
		}
		readJSON(t, conn, &msg)
		if len(msg.RealtimeInput.MediaChunks) == 1 {
			mc := msg.RealtimeInput.MediaChunks[0]
			chunks <- map[string]string{"mime": mc.MIMEType, "data": mc.Data}
		}
		<-conn.CloseRead(context.Background()).Done()
	})

	h := newRecordingHandler()
	tr, err := gemini.New("k", gemini.WithLiveURL(wsURL(srv))).Dial(context.Background(), h)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer tr.Close()

	waitFor(t, h.opened, "OnOpen")

	pkt := audio.NewPacket(audio.Frame{Data: []byte{1, 2, 3, 4}, Format: audio.MicFormat})
	if err := tr.SendAudio(pkt); err != nil {
		t.Fatalf("SendAudio: %v", err)
	}

	got := waitFor(t, chunks, "media chunk")
	if got["mime"] != "audio/pcm;rate=16000" || got["data"] != pkt.Data {
		t.Errorf("media chunk = %v", got)
	}
}

func TestTransport_ServerContent(t *testing.T) {
	srv := startLiveServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var setup map[string]any
		readJSON(t, conn, &setup)
		sendSetupComplete(t, conn)
		writeJSON(t, conn, map[string]any{
			"serverContent": map[string]any{
				"modelTurn": map[string]any{
					"parts": []map[string]any{
						{"inlineData": map[string]any{"mimeType": "audio/pcm;rate=24000", "data": "AAAA"}},
						{"inlineData": map[string]any{"mimeType": "audio/pcm;rate=24000", "data": "AQAB"}},
					},
				},
				"inputTranscription":  map[string]any{"text": "hello "},
				"outputTranscription": map[string]any{"text": "hi"},
			},
		})
		writeJSON(t, conn, map[string]any{"serverContent": map[string]any{"interrupted": true}})
		writeJSON(t, conn, map[string]any{"serverContent": map[string]any{"turnComplete": true}})
		<-conn.CloseRead(context.Background()).Done()
	})

	h := newRecordingHandler()
	tr, err := gemini.New("k", gemini.WithLiveURL(wsURL(srv))).Dial(context.Background(), h)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer tr.Close()

	waitFor(t, h.opened, "OnOpen")
	first := waitFor(t, h.msgs, "first message")
	if len(first.AudioChunks) != 2 || first.AudioChunks[0] != "AAAA" || first.AudioChunks[1] != "AQAB" {
		t.Errorf("audio chunks = %v", first.AudioChunks)
	}
	if first.InputTranscript != "hello " || first.OutputTranscript != "hi" {
		t.Errorf("transcripts = %q / %q", first.InputTranscript, first.OutputTranscript)
	}
	if m := waitFor(t, h.msgs, "interrupt"); !m.Interrupted {
		t.Error("expected interrupted message")
	}
	if m := waitFor(t, h.msgs, "turn complete"); !m.TurnComplete {
		t.Error("expected turnComplete message")
	}
}

func TestTransport_ServerError(t *testing.T) {
	srv := startLiveServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var setup map[string]any
		readJSON(t, conn, &setup)
		writeJSON(t, conn, map[string]any{"error": map[string]any{"code": 400, "message": "bad model"}})
		<-conn.CloseRead(context.Background()).Done()
	})

	h := newRecordingHandler()
	tr, err := gemini.New("k", gemini.WithLiveURL(wsURL(srv))).Dial(context.Background(), h)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer tr.Close()

	err = waitFor(t, h.errs, "OnError")
	if !strings.Contains(err.Error(), "bad model") {
		t.Errorf("error = %v", err)
	}
}

func TestTransport_RemoteClose(t *testing.T) {
	srv := startLiveServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var setup map[string]any
		readJSON(t, conn, &setup)
		sendSetupComplete(t, conn)
		conn.Close(websocket.StatusNormalClosure, "session limit")
	})

	h := newRecordingHandler()
	tr, err := gemini.New("k", gemini.WithLiveURL(wsURL(srv))).Dial(context.Background(), h)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer tr.Close()

	waitFor(t, h.opened, "OnOpen")
	if reason := waitFor(t, h.closes, "OnClose"); reason != "session limit" {
		t.Errorf("reason = %q", reason)
	}
}

func TestTransport_CloseIsIdempotent(t *testing.T) {
	srv := startLiveServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var setup map[string]any
		readJSON(t, conn, &setup)
		<-conn.CloseRead(context.Background()).Done()
	})

	h := newRecordingHandler()
	tr, err := gemini.New("k", gemini.WithLiveURL(wsURL(srv))).Dial(context.Background(), h)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	if err := tr.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := tr.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if err := tr.SendAudio(audio.Packet{}); err == nil {
		t.Error("expected SendAudio to fail after Close")
	}

	select {
	case err := <-h.errs:
		t.Errorf("unexpected OnError after Close: %v", err)
	case reason := <-h.closes:
		t.Errorf("unexpected OnClose after Close: %q", reason)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestDial_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	_, err := gemini.New("k", gemini.WithLiveURL(wsURL(srv))).Dial(context.Background(), newRecordingHandler())
	if err == nil {
		t.Fatal("expected dial error")
	}
}
