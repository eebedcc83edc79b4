package router

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wolfman30/greanly/internal/chat"
	"github.com/wolfman30/greanly/internal/http/handlers"
	httpmiddleware "github.com/wolfman30/greanly/internal/http/middleware"
	"github.com/wolfman30/greanly/internal/llm"
	"github.com/wolfman30/greanly/pkg/logging"
)

type echoModel struct{}

func (echoModel) StreamTurn(ctx context.Context, req llm.TurnRequest) (<-chan llm.StreamChunk, error) {
	ch := make(chan llm.StreamChunk, 2)
	ch <- llm.StreamChunk{Text: "Reuse crates."}
	ch <- llm.StreamChunk{Done: true}
	close(ch)
	return ch, nil
}

type nopIngester struct{ calls int }

func (n *nopIngester) Ingest(ctx context.Context, namespace string, docs []string) error {
	n.calls++
	return nil
}

const testSecret = "router-secret"

func newTestRouter(t *testing.T, ingester *nopIngester) http.Handler {
	t.Helper()
	logger := logging.Default()
	orchestrator := chat.NewOrchestrator(nil, nil, chat.NewComposer(0, 0), chat.NewAdapter(echoModel{}, 0, logger, nil), chat.OrchestratorOptions{Timeout: 5 * time.Second, Logger: logger})
	return New(&Config{
		Logger:             logger,
		ChatHandler:        chat.NewHandler(orchestrator, logger),
		KnowledgeHandler:   handlers.NewKnowledgeHandler(ingester, "default", logger),
		MetricsHandler:     http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { _, _ = w.Write([]byte("# metrics")) }),
		AdminAuthSecret:    testSecret,
		CORSAllowedOrigins: []string{"https://greanly.example"},
		RateLimiter:        httpmiddleware.NewRateLimiter(100, 100),
	})
}

func TestRouterHealthEndpoint(t *testing.T) {
	rr := httptest.NewRecorder()
	newTestRouter(t, &nopIngester{}).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusOK, rr.Code)
	var resp map[string]string
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	assert.Equal(t, "ok", resp["status"])
}

func TestRouterChatRoutesStream(t *testing.T) {
	router := newTestRouter(t, &nopIngester{})
	for _, path := range []string{"/api/chat", "/chat"} {
		req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(`{"message":"How do I cut waste?"}`))
		req.Header.Set("Origin", "https://greanly.example")
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)

		assert.Equal(t, http.StatusOK, rr.Code, path)
		assert.Equal(t, "v1", rr.Header().Get(chat.StreamHeader), path)
		assert.Equal(t, "https://greanly.example", rr.Header().Get("Access-Control-Allow-Origin"))
		assert.Contains(t, rr.Body.String(), `"delta":"Reuse crates."`, path)
		assert.True(t, strings.HasSuffix(rr.Body.String(), "data: [DONE]\n\n"), path)
	}
}

func TestRouterReplyAndConfig(t *testing.T) {
	router := newTestRouter(t, &nopIngester{})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/chat/reply", strings.NewReader(`{"message":"hi"}`)))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"reply":"Reuse crates."}`, rr.Body.String())

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/config", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"aiName":"Greanly"`)
}

func TestRouterMetrics(t *testing.T) {
	rr := httptest.NewRecorder()
	newTestRouter(t, &nopIngester{}).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, "# metrics", rr.Body.String())
}

func TestRouterAdminKnowledgeRequiresToken(t *testing.T) {
	ingester := &nopIngester{}
	router := newTestRouter(t, ingester)
	body := `{"documents":["Jute bags are biodegradable."]}`

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/admin/knowledge", strings.NewReader(body)))
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Equal(t, 0, ingester.calls)

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, httpmiddleware.AdminClaims{
		Scopes: []string{httpmiddleware.ScopeKnowledgeWrite},
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "ops",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
		},
	}).SignedString([]byte(testSecret))
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/admin/knowledge", strings.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+token)
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusCreated, rr.Code)
	assert.Equal(t, 1, ingester.calls)
}

func TestRouterUnknownRoute(t *testing.T) {
	rr := httptest.NewRecorder()
	newTestRouter(t, &nopIngester{}).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/leads/web", nil))
	assert.Equal(t, http.StatusNotFound, rr.Code)
}
