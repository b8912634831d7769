package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	gormsqlite "github.com/glebarez/sqlite"
	"github.com/golang-jwt/jwt/v5"
	"github.com/suPer8Hu/chat-gateway/internal/ai"
	"github.com/suPer8Hu/chat-gateway/internal/chat"
	"github.com/suPer8Hu/chat-gateway/internal/conversation"
	"github.com/suPer8Hu/chat-gateway/internal/usage"
	"gorm.io/gorm"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type stubProvider struct {
	name     string
	preamble []ai.Message
	reply    string
	err      error

	mu    sync.Mutex
	calls int
}

func (p *stubProvider) Name() string           { return p.name }
func (p *stubProvider) Model() string          { return p.name + "-model" }
func (p *stubProvider) Preamble() []ai.Message { return p.preamble }
func (p *stubProvider) Params() ai.Params      { return ai.Params{MaxTokens: 1000, Temperature: 0.7} }

func (p *stubProvider) Complete(ctx context.Context, messages []ai.Message, params ai.Params) (*ai.Completion, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.err != nil {
		return nil, p.err
	}
	return &ai.Completion{Text: p.reply, TokensUsed: 7}, nil
}

func (p *stubProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

type failingPinger struct{}

func (failingPinger) Ping(ctx context.Context) error { return errors.New("connection refused") }

func do(r http.Handler, method, path, body string, header ...string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var m map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &m); err != nil {
		t.Fatalf("decode body %q: %v", w.Body.String(), err)
	}
	return m
}

func newTestRouter(openai, gh *stubProvider, d Deps) *gin.Engine {
	if openai != nil {
		d.OpenAI = chat.NewService(conversation.NewMemoryStore(), openai)
	}
	if gh != nil {
		d.GitHubModels = chat.NewService(conversation.NewMemoryStore(), gh)
	}
	return NewRouter(d)
}

func TestSendMessage_Success(t *testing.T) {
	prov := &stubProvider{name: "openai", reply: "Hi there"}
	r := newTestRouter(prov, nil, Deps{})

	w := do(r, http.MethodPost, "/api/chat/message", `{"message":"Hello"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	body := decode(t, w)
	if body["message"] != "Hi there" || body["model"] != "openai-model" {
		t.Fatalf("unexpected body: %v", body)
	}
	id, _ := body["conversationId"].(string)
	if id == "" {
		t.Fatalf("expected conversationId in %v", body)
	}
	if body["tokensUsed"].(float64) != 7 {
		t.Fatalf("expected tokensUsed 7, got %v", body["tokensUsed"])
	}
	if _, err := time.Parse(time.RFC3339Nano, body["timestamp"].(string)); err != nil {
		t.Fatalf("timestamp: %v", err)
	}
	if w.Header().Get("X-Request-ID") == "" {
		t.Fatalf("expected request id header")
	}

	w = do(r, http.MethodPost, "/api/chat/message", fmt.Sprintf(`{"message":"again","conversationId":%q}`, id))
	if got := decode(t, w)["conversationId"]; got != id {
		t.Fatalf("expected conversation %s to continue, got %v", id, got)
	}
}

func TestSendMessage_RejectsBadInputWithoutCallingProvider(t *testing.T) {
	tests := []struct {
		name string
		body string
		code string
	}{
		{"empty message", `{"message":""}`, chat.CodeInvalidMessage},
		{"whitespace message", `{"message":"   \n\t"}`, chat.CodeInvalidMessage},
		{"missing message", `{"conversationId":"abc"}`, chat.CodeInvalidMessage},
		{"malformed json", `{"message":`, chat.CodeInvalidRequest},
		{"empty body", ``, chat.CodeInvalidRequest},
	}

	for _, path := range []string{"/api/chat/message", "/api/githubmodels/message"} {
		for _, tc := range tests {
			t.Run(path+" "+tc.name, func(t *testing.T) {
				openai := &stubProvider{name: "openai", reply: "x"}
				gh := &stubProvider{name: "githubmodels", reply: "x"}
				r := newTestRouter(openai, gh, Deps{})

				w := do(r, http.MethodPost, path, tc.body)
				if w.Code != http.StatusBadRequest {
					t.Fatalf("expected 400, got %d", w.Code)
				}
				if got := decode(t, w)["code"]; got != tc.code {
					t.Fatalf("expected code %s, got %v", tc.code, got)
				}
				if openai.callCount()+gh.callCount() != 0 {
					t.Fatalf("provider must not be called")
				}
			})
		}
	}
}

func TestSendMessage_UpstreamFailureIsGeneric(t *testing.T) {
	prov := &stubProvider{name: "githubmodels", err: errors.New("401 bad credentials token=abc")}
	r := newTestRouter(nil, prov, Deps{})

	w := do(r, http.MethodPost, "/api/githubmodels/message", `{"message":"Hello"}`)
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", w.Code)
	}
	body := decode(t, w)
	if body["code"] != chat.CodeInternal || body["message"] != "Internal server error occurred" {
		t.Fatalf("unexpected body: %v", body)
	}
	if strings.Contains(w.Body.String(), "token=abc") {
		t.Fatalf("upstream cause leaked: %s", w.Body.String())
	}
	if prov.callCount() != 1 {
		t.Fatalf("expected exactly one call, got %d", prov.callCount())
	}
}

func TestSendMessage_ConversationFull(t *testing.T) {
	prov := &stubProvider{name: "openai", reply: "ok"}
	svc := chat.NewService(conversation.NewMemoryStore(conversation.WithMaxMessages(2)), prov)
	r := NewRouter(Deps{OpenAI: svc})

	w := do(r, http.MethodPost, "/api/chat/message", `{"message":"one","conversationId":"c1"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	w = do(r, http.MethodPost, "/api/chat/message", `{"message":"two","conversationId":"c1"}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	if got := decode(t, w)["code"]; got != chat.CodeInvalidRequest {
		t.Fatalf("expected INVALID_REQUEST, got %v", got)
	}
}

func TestProviderHealth(t *testing.T) {
	tests := []struct {
		name    string
		path    string
		reply   string
		err     error
		status  int
		text    string
		service string
	}{
		{"openai healthy", "/api/chat/health", "Hi", nil, http.StatusOK, "healthy", ""},
		{"openai empty reply", "/api/chat/health", "", nil, http.StatusServiceUnavailable, "unhealthy", ""},
		{"github healthy", "/api/githubmodels/health", "Hi", nil, http.StatusOK, "healthy", "GitHub Models"},
		{"github failing", "/api/githubmodels/health", "", errors.New("down"), http.StatusServiceUnavailable, "unhealthy", "GitHub Models"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			openai := &stubProvider{name: "openai", reply: tc.reply, err: tc.err}
			gh := &stubProvider{name: "githubmodels", reply: tc.reply, err: tc.err}
			r := newTestRouter(openai, gh, Deps{})

			w := do(r, http.MethodGet, tc.path, "")
			if w.Code != tc.status {
				t.Fatalf("expected %d, got %d", tc.status, w.Code)
			}
			body := decode(t, w)
			if body["status"] != tc.text {
				t.Fatalf("expected status %s, got %v", tc.text, body["status"])
			}
			if _, ok := body["timestamp"]; !ok {
				t.Fatalf("expected timestamp in %v", body)
			}
			svc, _ := body["service"].(string)
			if svc != tc.service {
				t.Fatalf("expected service %q, got %q", tc.service, svc)
			}
		})
	}
}

func TestUnconfiguredProviderIsDisabled(t *testing.T) {
	gh := &stubProvider{name: "githubmodels", reply: "x"}
	r := newTestRouter(nil, gh, Deps{})

	w := do(r, http.MethodPost, "/api/chat/message", `{"message":"Hello"}`)
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", w.Code)
	}
	if got := decode(t, w)["code"]; got != "PROVIDER_UNAVAILABLE" {
		t.Fatalf("expected PROVIDER_UNAVAILABLE, got %v", got)
	}

	w = do(r, http.MethodGet, "/api/chat/health", "")
	if w.Code != http.StatusServiceUnavailable || decode(t, w)["status"] != "unhealthy" {
		t.Fatalf("expected unhealthy 503, got %d %s", w.Code, w.Body.String())
	}

	w = do(r, http.MethodPost, "/api/githubmodels/message", `{"message":"Hello"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("configured provider should still serve, got %d", w.Code)
	}
}

func token(t *testing.T, secret string) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "ops",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	s, err := tok.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return s
}

func TestTestMessage(t *testing.T) {
	t.Run("not mounted by default", func(t *testing.T) {
		gh := &stubProvider{name: "githubmodels", reply: "x"}
		r := newTestRouter(nil, gh, Deps{})
		w := do(r, http.MethodPost, "/api/githubmodels/testMessage", `{"message":"Hello"}`)
		if w.Code != http.StatusNotFound {
			t.Fatalf("expected 404, got %d", w.Code)
		}
	})

	t.Run("requires bearer token", func(t *testing.T) {
		gh := &stubProvider{name: "githubmodels", reply: "x"}
		r := newTestRouter(nil, gh, Deps{DiagnosticsEnabled: true, DiagnosticsSecret: "s3cret"})
		w := do(r, http.MethodPost, "/api/githubmodels/testMessage", `{"message":"Hello"}`)
		if w.Code != http.StatusUnauthorized {
			t.Fatalf("expected 401, got %d", w.Code)
		}
		if gh.callCount() != 0 {
			t.Fatalf("provider must not be called")
		}
	})

	t.Run("echoes conversation id", func(t *testing.T) {
		gh := &stubProvider{name: "githubmodels", reply: "diag"}
		r := newTestRouter(nil, gh, Deps{DiagnosticsEnabled: true, DiagnosticsSecret: "s3cret"})
		w := do(r, http.MethodPost, "/api/githubmodels/testMessage",
			`{"message":"Hello","conversationId":"caller-chosen"}`,
			"Authorization", "Bearer "+token(t, "s3cret"))
		if w.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
		}
		body := decode(t, w)
		if body["conversationId"] != "caller-chosen" || body["message"] != "diag" {
			t.Fatalf("unexpected body: %v", body)
		}
	})
}

func TestProcessHealth(t *testing.T) {
	r := NewRouter(Deps{Pingers: []conversation.Pinger{failingPinger{}}})
	w := do(r, http.MethodGet, "/health", "")
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", w.Code)
	}

	r = NewRouter(Deps{})
	w = do(r, http.MethodGet, "/health", "")
	if w.Code != http.StatusOK || decode(t, w)["status"] != "healthy" {
		t.Fatalf("expected healthy, got %d %s", w.Code, w.Body.String())
	}
}

func TestUnknownRoutes(t *testing.T) {
	r := NewRouter(Deps{})

	w := do(r, http.MethodGet, "/nope", "")
	if w.Code != http.StatusNotFound || decode(t, w)["code"] != "NOT_FOUND" {
		t.Fatalf("unexpected response: %d %s", w.Code, w.Body.String())
	}

	w = do(r, http.MethodGet, "/api/chat/message", "")
	if w.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", w.Code)
	}
}

func TestUsageTotals(t *testing.T) {
	db, err := gorm.Open(gormsqlite.Open("file:TestUsageTotals?mode=memory&cache=shared"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := usage.Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	repo := usage.NewRepo(db)

	prov := &stubProvider{name: "openai", reply: "Hi"}
	svc := chat.NewService(conversation.NewMemoryStore(), prov, chat.WithUsageRecorder(repo))
	r := NewRouter(Deps{OpenAI: svc, Usage: repo})

	for i := 0; i < 2; i++ {
		if w := do(r, http.MethodPost, "/api/chat/message", `{"message":"Hello"}`); w.Code != http.StatusOK {
			t.Fatalf("send: %d", w.Code)
		}
	}

	w := do(r, http.MethodGet, "/api/usage/openai", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	body := decode(t, w)
	if body["provider"] != "openai" || body["tokensUsed"].(float64) != 14 {
		t.Fatalf("unexpected body: %v", body)
	}
}
