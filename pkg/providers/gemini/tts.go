package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/pteprep/livevoice/pkg/audio"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

type ttsRequest struct {
	Contents         []content           `json:"contents"`
	GenerationConfig ttsGenerationConfig `json:"generationConfig"`
}

type ttsGenerationConfig struct {
	ResponseModalities []string      `json:"responseModalities"`
	SpeechConfig       *speechConfig `json:"speechConfig,omitempty"`
}

type ttsResponse struct {
	Candidates []struct {
		Content content `json:"content"`
	} `json:"candidates"`
}

// Synthesize renders text to speech and returns it decoded, ready for
// playback. The API answers with base64 PCM16 mono, normally at 24 kHz.
func (c *Client) Synthesize(ctx context.Context, text string) (*audio.Buffer, error) {
	start := time.Now()
	buf, err := c.synthesize(ctx, text)
	status := "ok"
	if err != nil {
		status = "error"
	}
	c.metrics.TTSDuration.Record(ctx, time.Since(start).Seconds(),
		metric.WithAttributes(attribute.String("status", status)))
	return buf, err
}

func (c *Client) synthesize(ctx context.Context, text string) (*audio.Buffer, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("gemini tts: empty text")
	}

	payload := ttsRequest{
		Contents: []content{{Parts: []part{{Text: text}}}},
		GenerationConfig: ttsGenerationConfig{
			ResponseModalities: []string{"AUDIO"},
			SpeechConfig:       c.speechConfig(),
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s/models/%s:generateContent?key=%s", c.apiURL, c.ttsModel, c.apiKey)
	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var errResp interface{}
		json.NewDecoder(resp.Body).Decode(&errResp)
		return nil, fmt.Errorf("gemini tts error (status %d): %v", resp.StatusCode, errResp)
	}

	var result ttsResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}

	var pcm []byte
	rate := audio.ModelFormat.SampleRate
	for _, cand := range result.Candidates {
		for _, p := range cand.Content.Parts {
			if p.InlineData == nil {
				continue
			}
			raw, err := audio.DecodeFromWire(p.InlineData.Data)
			if err != nil {
				return nil, err
			}
			if r := parseRate(p.InlineData.MIMEType); r > 0 {
				rate = r
			}
			pcm = append(pcm, raw...)
		}
	}
	if len(pcm) == 0 {
		return nil, fmt.Errorf("no audio from gemini tts")
	}

	c.logger.Debug("gemini tts complete", "bytes", len(pcm), "rate", rate)
	return audio.PCM16ToBuffer(pcm, rate, 1)
}

// parseRate extracts rate=N from a media type such as
// "audio/L16;codec=pcm;rate=24000".
func parseRate(mimeType string) int {
	for _, param := range strings.Split(mimeType, ";") {
		k, v, ok := strings.Cut(strings.TrimSpace(param), "=")
		if !ok || k != "rate" {
			continue
		}
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return 0
}
