package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/sermonforge/server/internal/ai"
	"github.com/sermonforge/server/internal/quota"
)

// maxAudioUploadBytes caps transcription uploads at 25 MB, matching the
// upstream API's own file limit.
const maxAudioUploadBytes = 25 << 20

var capabilities = map[string]quota.Capability{
	"sermon":     quota.CapabilitySermon,
	"commentary": quota.CapabilityCommentary,
	"expository": quota.CapabilityExpository,
}

type generateRequest struct {
	Prompt      string  `json:"prompt"`
	Temperature float64 `json:"temperature"`
	Language    string  `json:"language,omitempty"`
	History     []struct {
		Role string `json:"role"`
		Text string `json:"text"`
	} `json:"history,omitempty"`
}

func (g *Gateway) handleGenerate(w http.ResponseWriter, r *http.Request) {
	capability, ok := capabilities[chi.URLParam(r, "capability")]
	if !ok {
		g.writeError(w, http.StatusNotFound, "unknown generation capability")
		return
	}

	var req generateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		g.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Prompt == "" {
		g.writeError(w, http.StatusBadRequest, "prompt is required")
		return
	}
	if req.Temperature < 0 || req.Temperature > 2 {
		g.writeError(w, http.StatusBadRequest, "temperature must be between 0 and 2")
		return
	}

	history := make([]ai.Message, 0, len(req.History))
	for _, m := range req.History {
		history = append(history, ai.Message{Role: m.Role, Text: m.Text})
	}

	text, err := g.ai.Generate(r.Context(), userID(r), ai.Request{
		Capability:  capability,
		Prompt:      req.Prompt,
		History:     history,
		Temperature: req.Temperature,
		Language:    req.Language,
	})
	if err != nil {
		g.writeAIError(w, r, err)
		return
	}

	g.writeJSON(w, http.StatusOK, map[string]string{
		"capability": string(capability),
		"text":       text,
	})
}

func (g *Gateway) handleTranscribe(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxAudioUploadBytes)
	if err := r.ParseMultipartForm(maxAudioUploadBytes); err != nil {
		g.writeError(w, http.StatusBadRequest, "expected a multipart upload of at most 25MB")
		return
	}

	file, header, err := r.FormFile("audio")
	if err != nil {
		g.writeError(w, http.StatusBadRequest, "audio file is required")
		return
	}
	defer file.Close()

	audio, err := io.ReadAll(file)
	if err != nil {
		g.writeError(w, http.StatusBadRequest, "failed to read audio upload")
		return
	}
	if len(audio) == 0 {
		g.writeError(w, http.StatusBadRequest, "audio file is empty")
		return
	}

	text, err := g.transcriber.Transcribe(r.Context(), audio, header.Header.Get("Content-Type"), r.FormValue("language"))
	if err != nil {
		g.writeAIError(w, r, err)
		return
	}

	g.writeJSON(w, http.StatusOK, map[string]string{"text": text})
}

func (g *Gateway) handleUsage(w http.ResponseWriter, r *http.Request) {
	tier, report, err := g.gate.Report(r.Context(), userID(r))
	if err != nil {
		g.logger.Error("usage report failed", zap.Error(err))
		g.writeError(w, http.StatusInternalServerError, "failed to load usage")
		return
	}

	g.writeJSON(w, http.StatusOK, map[string]interface{}{
		"tier":         tier,
		"capabilities": report,
	})
}

// writeAIError maps the generation error taxonomy onto HTTP statuses.
// Provider credential problems are an upstream fault from the client's point
// of view, so they surface as 502, never 401.
func (g *Gateway) writeAIError(w http.ResponseWriter, r *http.Request, err error) {
	var quotaErr *ai.QuotaExceededError
	if errors.As(err, &quotaErr) {
		g.writeJSON(w, http.StatusTooManyRequests, map[string]interface{}{
			"error": map[string]interface{}{
				"message":   fmt.Sprintf("monthly %s quota exceeded", quotaErr.Capability),
				"remaining": quotaErr.Remaining,
			},
		})
		return
	}

	var provErr *ai.ProviderError
	if errors.As(err, &provErr) {
		g.logger.Error("provider call failed",
			zap.String("kind", string(provErr.Kind)),
			zap.Error(err),
		)
		switch provErr.Kind {
		case ai.ProviderErrAuth:
			g.writeError(w, http.StatusBadGateway, "the AI provider rejected this deployment's credentials")
		case ai.ProviderErrRateLimited, ai.ProviderErrTransient:
			g.writeError(w, http.StatusServiceUnavailable, "the AI provider is temporarily unavailable, please retry")
		default:
			g.writeError(w, http.StatusBadGateway, "the AI provider returned an unusable response")
		}
		return
	}

	if errors.Is(err, ai.ErrConfiguration) {
		g.logger.Error("ai provider is not configured")
		g.writeError(w, http.StatusInternalServerError, "generation is not configured on this server")
		return
	}

	g.logger.Error("generation failed", zap.Error(err))
	g.writeError(w, http.StatusInternalServerError, "generation failed")
}
