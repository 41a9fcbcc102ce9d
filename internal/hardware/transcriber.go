package hardware

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/samueltauil/devdash/internal/audio"
)

// Transcriber converts one captured WAV utterance into text.
type Transcriber interface {
	Transcribe(ctx context.Context, wav []byte) (string, error)
}

// MockTranscriber validates the audio and returns canned text. Used for
// desktop development and tests.
type MockTranscriber struct {
	Text string
}

func (t *MockTranscriber) Transcribe(_ context.Context, wav []byte) (string, error) {
	pcm, _, err := audio.DecodeWAVPCM16LE(wav)
	if err != nil {
		return "", fmt.Errorf("transcribe: %w", err)
	}
	if len(pcm) == 0 {
		return "", fmt.Errorf("transcribe: empty recording")
	}
	if t.Text != "" {
		return t.Text, nil
	}
	return "simulated voice input", nil
}

// HTTPTranscriber posts the WAV to a speech-to-text endpoint returning
// {"text": "..."}.
type HTTPTranscriber struct {
	url    string
	client *http.Client
}

func NewHTTPTranscriber(url string) *HTTPTranscriber {
	return &HTTPTranscriber{
		url:    strings.TrimSpace(url),
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

func (t *HTTPTranscriber) Transcribe(ctx context.Context, wav []byte) (string, error) {
	if _, _, err := audio.DecodeWAVPCM16LE(wav); err != nil {
		return "", fmt.Errorf("transcribe: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url, bytes.NewReader(wav))
	if err != nil {
		return "", fmt.Errorf("transcribe request: %w", err)
	}
	req.Header.Set("Content-Type", "audio/wav")

	res, err := t.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("transcribe send: %w", err)
	}
	defer res.Body.Close()

	body, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("transcribe read: %w", err)
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return "", fmt.Errorf("transcribe status %d", res.StatusCode)
	}

	var out struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("transcribe decode: %w", err)
	}
	if strings.TrimSpace(out.Text) == "" {
		return "", fmt.Errorf("transcribe: empty transcript")
	}
	return out.Text, nil
}
