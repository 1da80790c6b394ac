package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sermonforge/server/internal/ai"
	"github.com/sermonforge/server/internal/auth"
	"github.com/sermonforge/server/internal/billing"
	"github.com/sermonforge/server/internal/config"
	"github.com/sermonforge/server/internal/ledger"
	"github.com/sermonforge/server/internal/notes"
	"github.com/sermonforge/server/internal/quota"
	"github.com/sermonforge/server/internal/respcache"
	"github.com/sermonforge/server/internal/subscription"
	"github.com/sermonforge/server/pkg/cache"
)

type stubProvider struct {
	calls int
	text  string
	err   error
}

func (p *stubProvider) Generate(ctx context.Context, conversation []ai.Message, systemInstruction string, params ai.GenerationParams) (string, error) {
	p.calls++
	if p.err != nil {
		return "", p.err
	}
	return p.text, nil
}

type stubTranscriber struct {
	text     string
	err      error
	mimeType string
	language string
}

func (s *stubTranscriber) Transcribe(ctx context.Context, audio []byte, mimeType, language string) (string, error) {
	s.mimeType = mimeType
	s.language = language
	if s.err != nil {
		return "", s.err
	}
	return s.text, nil
}

type fixture struct {
	gateway     *Gateway
	provider    *stubProvider
	transcriber *stubTranscriber
	subs        *subscription.MemoryStore
	authSvc     *auth.Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	c := cache.NewCacheWithClient(client)
	logger := zap.NewNop()

	l := ledger.New(c, logger)
	subs := subscription.NewMemoryStore()
	gate := quota.NewGate(subs, l, logger)
	provider := &stubProvider{text: "Generated sermon text."}
	aiGateway := ai.NewGateway(provider, respcache.New(c, logger), gate, l, nil, logger, 1024)

	authSvc := auth.NewService(auth.NewMemoryStore(), config.SecurityConfig{
		JWTSecret:   "test-secret",
		TokenExpiry: time.Hour,
	})

	transcriber := &stubTranscriber{text: "transcribed text"}
	webhooks := billing.NewWebhookHandler("whsec_test", subs,
		map[string]subscription.Tier{"premium-monthly": subscription.TierPremium}, nil, nil, logger)

	return &fixture{
		gateway:     NewGateway(nil, c, logger, authSvc, notes.NewMemoryStore(), aiGateway, gate, transcriber, webhooks, "/metrics"),
		provider:    provider,
		transcriber: transcriber,
		subs:        subs,
		authSvc:     authSvc,
	}
}

// token registers a fresh user and returns a valid bearer token plus the
// user's ID.
func (f *fixture) token(t *testing.T, email string) (string, string) {
	t.Helper()
	ctx := context.Background()
	user, err := f.authSvc.Register(ctx, email, "Test User", "hunter2hunter2")
	require.NoError(t, err)
	token, err := f.authSvc.Login(ctx, email, "hunter2hunter2")
	require.NoError(t, err)
	return token, user.ID
}

func (f *fixture) do(t *testing.T, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	f.gateway.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestHealth(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "healthy", decode(t, w)["status"])
}

func TestAuthenticatedRoutesRejectMissingToken(t *testing.T) {
	f := newFixture(t)

	paths := []struct {
		method string
		path   string
	}{
		{http.MethodPost, "/api/generate/sermon"},
		{http.MethodGet, "/api/usage"},
		{http.MethodGet, "/api/notes"},
		{http.MethodPost, "/api/transcribe"},
	}

	for _, p := range paths {
		w := f.do(t, p.method, p.path, "", nil)
		assert.Equal(t, http.StatusUnauthorized, w.Code, p.path)
	}

	w := f.do(t, http.MethodGet, "/api/usage", "not-a-real-token", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRegisterAndLoginEndpoints(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodPost, "/api/auth/register", "", map[string]string{
		"email": "pastor@example.com", "name": "Pastor Kim", "password": "hunter2hunter2",
	})
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "pastor@example.com", decode(t, w)["email"])

	// Duplicate registration conflicts.
	w = f.do(t, http.MethodPost, "/api/auth/register", "", map[string]string{
		"email": "pastor@example.com", "name": "Other", "password": "hunter2hunter2",
	})
	assert.Equal(t, http.StatusConflict, w.Code)

	// Short password rejected.
	w = f.do(t, http.MethodPost, "/api/auth/register", "", map[string]string{
		"email": "short@example.com", "name": "X", "password": "abc",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{
		"email": "pastor@example.com", "password": "hunter2hunter2",
	})
	require.Equal(t, http.StatusOK, w.Code)
	token, _ := decode(t, w)["token"].(string)
	require.NotEmpty(t, token)

	w = f.do(t, http.MethodGet, "/api/usage", token, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = f.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{
		"email": "pastor@example.com", "password": "wrong-password",
	})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestGenerate(t *testing.T) {
	f := newFixture(t)
	token, _ := f.token(t, "pastor@example.com")

	w := f.do(t, http.MethodPost, "/api/generate/commentary", token, map[string]interface{}{
		"prompt": "Explain Romans 8:28",
	})
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, "Generated sermon text.", body["text"])
	assert.Equal(t, "commentary", body["capability"])
	assert.Equal(t, 1, f.provider.calls)
}

func TestGenerateValidation(t *testing.T) {
	f := newFixture(t)
	token, _ := f.token(t, "pastor@example.com")

	w := f.do(t, http.MethodPost, "/api/generate/poetry", token, map[string]interface{}{"prompt": "x"})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = f.do(t, http.MethodPost, "/api/generate/sermon", token, map[string]interface{}{"prompt": ""})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(t, http.MethodPost, "/api/generate/sermon", token, map[string]interface{}{
		"prompt": "x", "temperature": 3.5,
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	assert.Equal(t, 0, f.provider.calls)
}

func TestGenerateQuotaExceeded(t *testing.T) {
	f := newFixture(t)
	token, _ := f.token(t, "pastor@example.com")

	// The free tier allows a single sermon per month.
	w := f.do(t, http.MethodPost, "/api/generate/sermon", token, map[string]interface{}{
		"prompt": "Sermon on Psalm 23",
	})
	require.Equal(t, http.StatusOK, w.Code)

	w = f.do(t, http.MethodPost, "/api/generate/sermon", token, map[string]interface{}{
		"prompt": "A different sermon on Psalm 24",
	})
	require.Equal(t, http.StatusTooManyRequests, w.Code)

	errBody, _ := decode(t, w)["error"].(map[string]interface{})
	require.NotNil(t, errBody)
	assert.Equal(t, float64(0), errBody["remaining"])
	assert.Equal(t, 1, f.provider.calls)
}

func TestGenerateRepeatedPromptServedFromCache(t *testing.T) {
	f := newFixture(t)
	token, _ := f.token(t, "pastor@example.com")

	body := map[string]interface{}{"prompt": "Sermon on Psalm 23"}
	w := f.do(t, http.MethodPost, "/api/generate/sermon", token, body)
	require.Equal(t, http.StatusOK, w.Code)

	// The free sermon quota is spent, but the identical request is a cache
	// hit and still succeeds.
	w = f.do(t, http.MethodPost, "/api/generate/sermon", token, body)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, f.provider.calls)
}

func TestGenerateProviderErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{"auth", &ai.ProviderError{Kind: ai.ProviderErrAuth, Msg: "bad key"}, http.StatusBadGateway},
		{"rate limited", &ai.ProviderError{Kind: ai.ProviderErrRateLimited, Msg: "slow down"}, http.StatusServiceUnavailable},
		{"transient", &ai.ProviderError{Kind: ai.ProviderErrTransient, Msg: "upstream 503"}, http.StatusServiceUnavailable},
		{"invalid response", &ai.ProviderError{Kind: ai.ProviderErrInvalidResponse, Msg: "no candidates"}, http.StatusBadGateway},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.provider.err = tt.err
			token, _ := f.token(t, "pastor@example.com")

			w := f.do(t, http.MethodPost, "/api/generate/sermon", token, map[string]interface{}{
				"prompt": "Sermon on Psalm 23",
			})
			assert.Equal(t, tt.wantStatus, w.Code)
		})
	}
}

func TestUsageReportEndpoint(t *testing.T) {
	f := newFixture(t)
	token, _ := f.token(t, "pastor@example.com")

	w := f.do(t, http.MethodPost, "/api/generate/commentary", token, map[string]interface{}{
		"prompt": "Explain Romans 8",
	})
	require.Equal(t, http.StatusOK, w.Code)

	w = f.do(t, http.MethodGet, "/api/usage", token, nil)
	require.Equal(t, http.StatusOK, w.Code)

	body := decode(t, w)
	assert.Equal(t, "free", body["tier"])

	rows, _ := body["capabilities"].([]interface{})
	require.Len(t, rows, 3)

	used := map[string]float64{}
	for _, raw := range rows {
		row := raw.(map[string]interface{})
		used[row["capability"].(string)] = row["used"].(float64)
	}
	assert.Equal(t, float64(1), used["commentary"])
	assert.Equal(t, float64(0), used["sermon"])
}

func TestNotesCRUDOverHTTP(t *testing.T) {
	f := newFixture(t)
	token, _ := f.token(t, "pastor@example.com")
	otherToken, _ := f.token(t, "other@example.com")

	w := f.do(t, http.MethodPost, "/api/notes", token, map[string]string{
		"title": "Prodigal Son", "content": "outline", "scripture_ref": "Luke 15",
	})
	require.Equal(t, http.StatusCreated, w.Code)
	noteID, _ := decode(t, w)["id"].(string)
	require.NotEmpty(t, noteID)

	w = f.do(t, http.MethodGet, "/api/notes/"+noteID, token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Prodigal Son", decode(t, w)["title"])

	// Another user cannot see, update, or delete it.
	w = f.do(t, http.MethodGet, "/api/notes/"+noteID, otherToken, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	w = f.do(t, http.MethodDelete, "/api/notes/"+noteID, otherToken, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = f.do(t, http.MethodPut, "/api/notes/"+noteID, token, map[string]string{
		"title": "Prodigal Son (revised)", "content": "fuller outline",
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Prodigal Son (revised)", decode(t, w)["title"])

	w = f.do(t, http.MethodGet, "/api/notes", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	list, _ := decode(t, w)["notes"].([]interface{})
	assert.Len(t, list, 1)

	w = f.do(t, http.MethodDelete, "/api/notes/"+noteID, token, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = f.do(t, http.MethodGet, "/api/notes/"+noteID, token, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestTranscribeUpload(t *testing.T) {
	f := newFixture(t)
	token, _ := f.token(t, "pastor@example.com")

	var body bytes.Buffer
	form := multipart.NewWriter(&body)
	part, err := form.CreatePart(map[string][]string{
		"Content-Disposition": {`form-data; name="audio"; filename="sermon.mp3"`},
		"Content-Type":        {"audio/mpeg"},
	})
	require.NoError(t, err)
	_, err = part.Write([]byte("fake-audio"))
	require.NoError(t, err)
	require.NoError(t, form.WriteField("language", "en"))
	require.NoError(t, form.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/transcribe", &body)
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", form.FormDataContentType())
	w := httptest.NewRecorder()
	f.gateway.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "transcribed text", decode(t, w)["text"])
	assert.Equal(t, "audio/mpeg", f.transcriber.mimeType)
	assert.Equal(t, "en", f.transcriber.language)
}

func TestTranscribeRequiresAudioFile(t *testing.T) {
	f := newFixture(t)
	token, _ := f.token(t, "pastor@example.com")

	var body bytes.Buffer
	form := multipart.NewWriter(&body)
	require.NoError(t, form.WriteField("language", "en"))
	require.NoError(t, form.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/transcribe", &body)
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", form.FormDataContentType())
	w := httptest.NewRecorder()
	f.gateway.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPremiumUserIsNotQuotaLimitedOverHTTP(t *testing.T) {
	f := newFixture(t)
	token, id := f.token(t, "pastor@example.com")

	_, err := f.subs.Upsert(context.Background(), subscription.Record{
		UserID: id, Tier: subscription.TierPremium,
		Status: subscription.StatusActive, SubscriptionID: "sub-1",
		LastUpdated: time.Now().UTC(),
	})
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		w := f.do(t, http.MethodPost, "/api/generate/sermon", token, map[string]interface{}{
			"prompt": fmt.Sprintf("Sermon draft %d", i),
		})
		require.Equal(t, http.StatusOK, w.Code)
	}
	assert.Equal(t, 3, f.provider.calls)
}
