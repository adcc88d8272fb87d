// Package media converts inbound binary payloads (voice, photos) into
// something the pipeline can classify.
package media

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"
	"time"
)

const (
	// defaultSTTTimeout is the default timeout for STT proxy requests.
	defaultSTTTimeout = 30 * time.Second

	// sttTranscribeEndpoint is the path appended to the proxy base URL.
	sttTranscribeEndpoint = "/transcribe_audio"
)

// ErrNoSpeech means the audio was transcribed to nothing.
var ErrNoSpeech = errors.New("stt: empty transcript")

// Transcriber turns audio into text.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, filename string) (string, error)
}

// sttResponse is the expected JSON response from the STT proxy.
type sttResponse struct {
	Transcript string `json:"transcript"`
}

// ProxyTranscriber posts audio to an HTTP speech-to-text proxy
// (multipart field "file", JSON {"transcript": ...} back).
type ProxyTranscriber struct {
	baseURL  string
	apiKey   string
	tenantID string
	timeout  time.Duration
	client   *http.Client
}

// NewProxyTranscriber creates a transcriber. A zero timeout uses 30s.
func NewProxyTranscriber(baseURL, apiKey, tenantID string, timeout time.Duration) *ProxyTranscriber {
	if timeout <= 0 {
		timeout = defaultSTTTimeout
	}
	return &ProxyTranscriber{
		baseURL:  strings.TrimRight(baseURL, "/"),
		apiKey:   apiKey,
		tenantID: tenantID,
		timeout:  timeout,
		client:   &http.Client{},
	}
}

func (p *ProxyTranscriber) Transcribe(ctx context.Context, audio []byte, filename string) (string, error) {
	if len(audio) == 0 {
		return "", ErrNoSpeech
	}
	if filename == "" {
		filename = "voice.ogg"
	}

	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	fw, err := w.CreateFormFile("file", filename)
	if err != nil {
		return "", fmt.Errorf("stt: create form file field: %w", err)
	}
	if _, err := fw.Write(audio); err != nil {
		return "", fmt.Errorf("stt: write audio bytes to form: %w", err)
	}
	if p.tenantID != "" {
		if err := w.WriteField("tenant_id", p.tenantID); err != nil {
			return "", fmt.Errorf("stt: write tenant_id field: %w", err)
		}
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("stt: close multipart writer: %w", err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	url := p.baseURL + sttTranscribeEndpoint
	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, url, &body)
	if err != nil {
		return "", fmt.Errorf("stt: build request to %q: %w", url, err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("stt: request to %q failed: %w", url, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20)) // 1 MB cap
	if err != nil {
		return "", fmt.Errorf("stt: read response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("stt: upstream returned %d: %s", resp.StatusCode, string(respBody))
	}

	var result sttResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return "", fmt.Errorf("stt: parse response JSON: %w", err)
	}
	transcript := strings.TrimSpace(result.Transcript)
	if transcript == "" {
		return "", ErrNoSpeech
	}
	slog.Debug("stt transcript received", "length", len(transcript))
	return transcript, nil
}
