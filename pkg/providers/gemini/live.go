package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/pteprep/livevoice/pkg/audio"
	"github.com/pteprep/livevoice/pkg/live"
)

var _ live.Dialer = (*Client)(nil)

const (
	keepaliveInterval = 20 * time.Second
	keepaliveTimeout  = 5 * time.Second
)

type setupMessage struct {
	Setup setupConfig `json:"setup"`
}

type setupConfig struct {
	Model                    string           `json:"model"`
	GenerationConfig         generationConfig `json:"generationConfig"`
	SystemInstruction        *content         `json:"systemInstruction,omitempty"`
	InputAudioTranscription  *struct{}        `json:"inputAudioTranscription,omitempty"`
	OutputAudioTranscription *struct{}        `json:"outputAudioTranscription,omitempty"`
}

type generationConfig struct {
	ResponseModalities []string      `json:"responseModalities"`
	SpeechConfig       *speechConfig `json:"speechConfig,omitempty"`
}

type realtimeInputMessage struct {
	RealtimeInput realtimeInput `json:"realtimeInput"`
}

type realtimeInput struct {
	MediaChunks []inlineData `json:"mediaChunks"`
}

type serverMessage struct {
	SetupComplete *json.RawMessage `json:"setupComplete,omitempty"`
	ServerContent *serverContent   `json:"serverContent,omitempty"`
	Error         *apiError        `json:"error,omitempty"`
}

type apiError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status,omitempty"`
}

type serverContent struct {
	ModelTurn           *content       `json:"modelTurn,omitempty"`
	TurnComplete        bool           `json:"turnComplete,omitempty"`
	Interrupted         bool           `json:"interrupted,omitempty"`
	InputTranscription  *transcription `json:"inputTranscription,omitempty"`
	OutputTranscription *transcription `json:"outputTranscription,omitempty"`
}

type transcription struct {
	Text string `json:"text"`
}

// Dial opens a Live session and sends the setup message. h.OnOpen fires when
// the server acknowledges setup; all callbacks run on one goroutine, and not
// before Dial has returned.
func (c *Client) Dial(ctx context.Context, h live.Handler) (live.Transport, error) {
	wsURL := fmt.Sprintf(
		"%s/google.ai.generativelanguage.v1beta.GenerativeService.BidiGenerateContent?key=%s",
		c.liveURL, c.apiKey,
	)

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: http.Header{
			"Content-Type": []string{"application/json"},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("gemini: dial: %w", err)
	}
	// Model turns carry whole audio chunks; the default 32 KiB limit is too small.
	conn.SetReadLimit(16 << 20)

	tctx, cancel := context.WithCancel(context.Background())
	t := &transport{
		conn:    conn,
		handler: h,
		logger:  c.logger,
		ctx:     tctx,
		cancel:  cancel,
		ready:   make(chan struct{}),
	}

	if err := t.writeJSON(c.setup()); err != nil {
		cancel()
		conn.Close(websocket.StatusInternalError, "setup failed")
		return nil, fmt.Errorf("gemini: setup: %w", err)
	}

	go t.receiveLoop()
	go t.keepaliveLoop()
	close(t.ready)

	c.logger.Debug("gemini live connected", "model", c.model)
	return t, nil
}

func (c *Client) setup() setupMessage {
	msg := setupMessage{
		Setup: setupConfig{
			Model: fmt.Sprintf("models/%s", c.model),
			GenerationConfig: generationConfig{
				ResponseModalities: []string{"AUDIO"},
				SpeechConfig:       c.speechConfig(),
			},
			InputAudioTranscription:  &struct{}{},
			OutputAudioTranscription: &struct{}{},
		},
	}
	if c.instructions != "" {
		msg.Setup.SystemInstruction = &content{Parts: []part{{Text: c.instructions}}}
	}
	return msg
}

type transport struct {
	conn    *websocket.Conn
	handler live.Handler
	logger  audio.Logger

	ctx    context.Context
	cancel context.CancelFunc
	ready  chan struct{}

	mu     sync.Mutex
	closed bool
}

func (t *transport) writeJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("gemini: marshal: %w", err)
	}
	return t.conn.Write(t.ctx, websocket.MessageText, data)
}

// SendAudio streams one microphone packet to the model.
func (t *transport) SendAudio(p audio.Packet) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return fmt.Errorf("gemini: session closed")
	}
	t.mu.Unlock()

	return t.writeJSON(realtimeInputMessage{
		RealtimeInput: realtimeInput{
			MediaChunks: []inlineData{{MIMEType: p.MIMEType, Data: p.Data}},
		},
	})
}

// Close terminates the connection. Idempotent; no callbacks fire afterwards.
func (t *transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.mu.Unlock()

	t.cancel()
	// The peer may already have gone away; there is nothing left to release.
	_ = t.conn.Close(websocket.StatusNormalClosure, "session closed")
	return nil
}

func (t *transport) stopped() bool {
	return t.ctx.Err() != nil
}

func (t *transport) receiveLoop() {
	<-t.ready
	for {
		_, data, err := t.conn.Read(t.ctx)
		if err != nil {
			if t.stopped() {
				return
			}
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				t.handler.OnClose(closeReason(err))
			default:
				t.handler.OnError(fmt.Errorf("gemini: read: %w", err))
			}
			return
		}

		var msg serverMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			t.logger.Warn("gemini: skipping malformed frame", "error", err)
			continue
		}
		if !t.dispatch(&msg) {
			return
		}
	}
}

// dispatch delivers one server message and reports whether the loop should
// keep reading.
func (t *transport) dispatch(msg *serverMessage) bool {
	if msg.Error != nil {
		text := msg.Error.Message
		if text == "" {
			text = "unknown error"
		}
		t.handler.OnError(fmt.Errorf("gemini: %s (code %d)", text, msg.Error.Code))
		return false
	}
	if msg.SetupComplete != nil {
		t.handler.OnOpen()
	}
	if msg.ServerContent != nil {
		t.handler.OnMessage(toMessage(msg.ServerContent))
	}
	return !t.stopped()
}

func toMessage(sc *serverContent) live.Message {
	m := live.Message{
		Interrupted:  sc.Interrupted,
		TurnComplete: sc.TurnComplete,
	}
	if sc.ModelTurn != nil {
		for _, p := range sc.ModelTurn.Parts {
			if p.InlineData != nil && p.InlineData.Data != "" {
				m.AudioChunks = append(m.AudioChunks, p.InlineData.Data)
			}
		}
	}
	if sc.InputTranscription != nil {
		m.InputTranscript = sc.InputTranscription.Text
	}
	if sc.OutputTranscription != nil {
		m.OutputTranscript = sc.OutputTranscription.Text
	}
	return m
}

func closeReason(err error) string {
	var ce websocket.CloseError
	if errors.As(err, &ce) && ce.Reason != "" {
		return ce.Reason
	}
	return websocket.CloseStatus(err).String()
}

func (t *transport) keepaliveLoop() {
	ticker := time.NewTicker(keepaliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-t.ctx.Done():
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(t.ctx, keepaliveTimeout)
			_ = t.conn.Ping(pingCtx)
			cancel()
		}
	}
}
