// Package gemini talks to Google's Gemini APIs: the Live BidiGenerateContent
// websocket used for realtime voice sessions, and generateContent with audio
// output used for one-shot text-to-speech.
package gemini

import (
	"net/http"

	"github.com/pteprep/livevoice/pkg/audio"
	"github.com/pteprep/livevoice/pkg/metrics"
)

const (
	defaultLiveModel = "gemini-2.0-flash-live-001"
	defaultTTSModel  = "gemini-2.5-flash-preview-tts"
	defaultVoice     = "Kore"

	defaultLiveURL = "wss://generativelanguage.googleapis.com/ws"
	defaultAPIURL  = "https://generativelanguage.googleapis.com/v1beta"
)

// Option is a functional option for configuring a Client.
type Option func(*Client)

// WithModel sets the Live model used for sessions.
func WithModel(model string) Option {
	return func(c *Client) { c.model = model }
}

// WithTTSModel sets the model used by Synthesize.
func WithTTSModel(model string) Option {
	return func(c *Client) { c.ttsModel = model }
}

// WithVoice sets the prebuilt voice for both live speech and TTS.
func WithVoice(voice string) Option {
	return func(c *Client) { c.voice = voice }
}

// WithInstructions sets the system instruction sent at session setup.
func WithInstructions(text string) Option {
	return func(c *Client) { c.instructions = text }
}

// WithLiveURL overrides the websocket base URL. Used in tests.
func WithLiveURL(url string) Option {
	return func(c *Client) { c.liveURL = url }
}

// WithAPIURL overrides the REST base URL. Used in tests.
func WithAPIURL(url string) Option {
	return func(c *Client) { c.apiURL = url }
}

// WithHTTPClient sets the client used for REST calls.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithLogger sets the logger.
func WithLogger(l audio.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithMetrics sets the instruments used to record TTS latency.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) { c.metrics = metrics.OrDiscard(m) }
}

// Client is a Gemini API client. It implements live.Dialer.
type Client struct {
	apiKey       string
	model        string
	ttsModel     string
	voice        string
	instructions string
	liveURL      string
	apiURL       string
	http         *http.Client
	logger       audio.Logger
	metrics      *metrics.Metrics
}

// New creates a client with the given API key and options.
func New(apiKey string, opts ...Option) *Client {
	c := &Client{
		apiKey:   apiKey,
		model:    defaultLiveModel,
		ttsModel: defaultTTSModel,
		voice:    defaultVoice,
		liveURL:  defaultLiveURL,
		apiURL:   defaultAPIURL,
		http:     http.DefaultClient,
		logger:   &audio.NoOpLogger{},
		metrics:  metrics.Discard(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *Client) Name() string {
	return "gemini"
}

// ── Protocol message types ────────────────────────────────────────────────────

type part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inlineData,omitempty"`
}

type inlineData struct {
	MIMEType string `json:"mimeType"`
	Data     string `json:"data"` // base64-encoded
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type speechConfig struct {
	VoiceConfig voiceConfig `json:"voiceConfig"`
}

type voiceConfig struct {
	PrebuiltVoiceConfig prebuiltVoiceConfig `json:"prebuiltVoiceConfig"`
}

type prebuiltVoiceConfig struct {
	VoiceName string `json:"voiceName"`
}

func (c *Client) speechConfig() *speechConfig {
	if c.voice == "" {
		return nil
	}
	return &speechConfig{VoiceConfig: voiceConfig{PrebuiltVoiceConfig: prebuiltVoiceConfig{VoiceName: c.voice}}}
}
