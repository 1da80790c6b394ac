package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/sermonforge/server/internal/config"
)

// GenerationParams are the provider-facing knobs for one call.
type GenerationParams struct {
	Temperature     float64
	MaxOutputTokens int
}

// Provider is the external generative-AI collaborator. Implementations may
// fail with *ProviderError; they never touch quota or cache state.
type Provider interface {
	Generate(ctx context.Context, conversation []Message, systemInstruction string, params GenerationParams) (string, error)
}

// GeminiProvider calls the Gemini generateContent HTTP API.
type GeminiProvider struct {
	apiKey  string
	baseURL string
	model   string
	client  *http.Client
}

// NewGeminiProvider creates a provider from configuration. A missing API key
// is a configuration error, reported at construction so the server refuses
// to start rather than failing every request.
func NewGeminiProvider(cfg config.AIConfig) (*GeminiProvider, error) {
	if cfg.APIKey == "" {
		return nil, ErrConfiguration
	}

	return &GeminiProvider{
		apiKey:  cfg.APIKey,
		baseURL: cfg.BaseURL,
		model:   cfg.Model,
		client:  &http.Client{Timeout: cfg.RequestTimeout},
	}, nil
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiRequest struct {
	Contents          []geminiContent `json:"contents"`
	SystemInstruction *geminiContent  `json:"systemInstruction,omitempty"`
	GenerationConfig  struct {
		Temperature     float64 `json:"temperature"`
		MaxOutputTokens int     `json:"maxOutputTokens"`
	} `json:"generationConfig"`
}

type geminiResponse struct {
	Candidates []struct {
		Content struct {
			Parts []geminiPart `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
	Error *struct {
		Code    int    `json:"code"`
		Status  string `json:"status"`
		Message string `json:"message"`
	} `json:"error"`
}

// Generate sends the conversation to the model and returns the first
// candidate's text.
func (p *GeminiProvider) Generate(ctx context.Context, conversation []Message, systemInstruction string, params GenerationParams) (string, error) {
	reqBody := geminiRequest{
		Contents: make([]geminiContent, 0, len(conversation)),
	}
	for _, msg := range conversation {
		reqBody.Contents = append(reqBody.Contents, geminiContent{
			Role:  msg.Role,
			Parts: []geminiPart{{Text: msg.Text}},
		})
	}
	if systemInstruction != "" {
		reqBody.SystemInstruction = &geminiContent{Parts: []geminiPart{{Text: systemInstruction}}}
	}
	reqBody.GenerationConfig.Temperature = params.Temperature
	reqBody.GenerationConfig.MaxOutputTokens = params.MaxOutputTokens

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return "", &ProviderError{Kind: ProviderErrInvalidResponse, Msg: "failed to encode request", Err: err}
	}

	url := fmt.Sprintf("%s/models/%s:generateContent?key=%s", p.baseURL, p.model, p.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return "", &ProviderError{Kind: ProviderErrTransient, Msg: "failed to build request", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return "", &ProviderError{Kind: ProviderErrTransient, Msg: "request failed", Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &ProviderError{Kind: ProviderErrTransient, Msg: "failed to read response", Err: err}
	}

	if resp.StatusCode != http.StatusOK {
		return "", classifyHTTPError(resp.StatusCode, body)
	}

	var parsed geminiResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", &ProviderError{Kind: ProviderErrInvalidResponse, Msg: "failed to parse response", Err: err}
	}

	if parsed.Error != nil {
		return "", classifyHTTPError(parsed.Error.Code, body)
	}

	if len(parsed.Candidates) == 0 || len(parsed.Candidates[0].Content.Parts) == 0 {
		return "", &ProviderError{Kind: ProviderErrInvalidResponse, Msg: "response contained no candidates"}
	}

	return parsed.Candidates[0].Content.Parts[0].Text, nil
}

func classifyHTTPError(status int, body []byte) *ProviderError {
	msg := fmt.Sprintf("provider returned status %d", status)

	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return &ProviderError{Kind: ProviderErrAuth, Msg: msg}
	case status == http.StatusTooManyRequests:
		return &ProviderError{Kind: ProviderErrRateLimited, Msg: msg}
	case status >= 500:
		return &ProviderError{Kind: ProviderErrTransient, Msg: msg}
	default:
		return &ProviderError{Kind: ProviderErrInvalidResponse, Msg: fmt.Sprintf("%s: %s", msg, truncate(body, 256))}
	}
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
