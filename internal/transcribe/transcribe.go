// Package transcribe proxies audio uploads to a Whisper-style
// speech-to-text API. Transcription is neither cached nor quota-gated
// because identical audio bytes are never submitted twice in practice.
package transcribe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/sermonforge/server/internal/ai"
	"github.com/sermonforge/server/internal/config"
)

// Provider converts recorded audio into text.
type Provider interface {
	Transcribe(ctx context.Context, audio []byte, mimeType, language string) (string, error)
}

// WhisperProvider calls an OpenAI-compatible /audio/transcriptions endpoint.
type WhisperProvider struct {
	apiKey  string
	baseURL string
	model   string
	client  *http.Client
}

// NewWhisperProvider builds a provider from config. A missing API key is a
// deployment mistake and is reported immediately rather than on first use.
func NewWhisperProvider(cfg config.TranscribeConfig) (*WhisperProvider, error) {
	if cfg.APIKey == "" {
		return nil, ai.ErrConfiguration
	}

	return &WhisperProvider{
		apiKey:  cfg.APIKey,
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		model:   cfg.Model,
		client:  &http.Client{Timeout: cfg.RequestTimeout},
	}, nil
}

type transcriptionResponse struct {
	Text string `json:"text"`
}

// Transcribe uploads the audio as a multipart form and returns the text.
func (p *WhisperProvider) Transcribe(ctx context.Context, audio []byte, mimeType, language string) (string, error) {
	var body bytes.Buffer
	form := multipart.NewWriter(&body)

	part, err := form.CreateFormFile("file", fileName(mimeType))
	if err != nil {
		return "", fmt.Errorf("failed to build upload form: %w", err)
	}
	if _, err := part.Write(audio); err != nil {
		return "", fmt.Errorf("failed to build upload form: %w", err)
	}
	if err := form.WriteField("model", p.model); err != nil {
		return "", fmt.Errorf("failed to build upload form: %w", err)
	}
	if language != "" {
		if err := form.WriteField("language", language); err != nil {
			return "", fmt.Errorf("failed to build upload form: %w", err)
		}
	}
	if err := form.Close(); err != nil {
		return "", fmt.Errorf("failed to build upload form: %w", err)
	}

	url := p.baseURL + "/audio/transcriptions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &body)
	if err != nil {
		return "", fmt.Errorf("failed to build transcription request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+p.apiKey)
	req.Header.Set("Content-Type", form.FormDataContentType())

	resp, err := p.client.Do(req)
	if err != nil {
		return "", &ai.ProviderError{Kind: ai.ProviderErrTransient, Msg: "transcription request failed", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", classifyHTTPError(resp)
	}

	var parsed transcriptionResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", &ai.ProviderError{Kind: ai.ProviderErrInvalidResponse, Msg: "failed to decode transcription response", Err: err}
	}

	return parsed.Text, nil
}

func classifyHTTPError(resp *http.Response) *ai.ProviderError {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	msg := fmt.Sprintf("transcription API returned %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return &ai.ProviderError{Kind: ai.ProviderErrAuth, Msg: msg}
	case resp.StatusCode == http.StatusTooManyRequests:
		return &ai.ProviderError{Kind: ai.ProviderErrRateLimited, Msg: msg}
	case resp.StatusCode >= 500:
		return &ai.ProviderError{Kind: ai.ProviderErrTransient, Msg: msg}
	default:
		return &ai.ProviderError{Kind: ai.ProviderErrInvalidResponse, Msg: msg}
	}
}

func fileName(mimeType string) string {
	switch mimeType {
	case "audio/wav", "audio/x-wav":
		return "audio.wav"
	case "audio/mpeg", "audio/mp3":
		return "audio.mp3"
	case "audio/mp4", "audio/m4a", "audio/x-m4a":
		return "audio.m4a"
	case "audio/ogg":
		return "audio.ogg"
	case "audio/webm":
		return "audio.webm"
	default:
		return "audio.bin"
	}
}
