package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/chat-gateway/internal/chat"
	"github.com/suPer8Hu/chat-gateway/internal/conversation"
	"github.com/suPer8Hu/chat-gateway/internal/httpapi/handlers"
	"github.com/suPer8Hu/chat-gateway/internal/httpapi/middleware"
	"github.com/suPer8Hu/chat-gateway/internal/usage"
)

// Deps are the services the router exposes. A nil provider service mounts
// its group in the disabled state.
type Deps struct {
	OpenAI       *chat.Service
	GitHubModels *chat.Service

	// Pingers back GET /health.
	Pingers []conversation.Pinger
	// Usage enables GET /api/usage/:provider when set.
	Usage *usage.Repo

	DiagnosticsEnabled bool
	DiagnosticsSecret  string
}

func NewRouter(d Deps) *gin.Engine {
	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(middleware.RequestID())
	r.Use(middleware.AccessLog())
	r.Use(middleware.Recovery())

	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.CodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.CodeMethodNotAllowed, "method not allowed")
	})

	r.GET("/health", handlers.NewHealth(d.Pingers...).Check)

	// OpenAI
	openai := r.Group("/api/chat")
	if d.OpenAI != nil {
		h := handlers.NewChat(d.OpenAI, "")
		openai.POST("/message", h.SendMessage)
		openai.GET("/health", h.Health)
	} else {
		u := handlers.NewUnavailable("openai", "")
		openai.POST("/message", u.SendMessage)
		openai.GET("/health", u.Health)
	}

	// GitHub Models
	gh := r.Group("/api/githubmodels")
	if d.GitHubModels != nil {
		h := handlers.NewChat(d.GitHubModels, "GitHub Models")
		gh.POST("/message", h.SendMessage)
		gh.GET("/health", h.Health)
		if d.DiagnosticsEnabled && d.DiagnosticsSecret != "" {
			gh.POST("/testMessage", middleware.AuthRequired(d.DiagnosticsSecret), h.TestMessage)
		}
	} else {
		u := handlers.NewUnavailable("githubmodels", "GitHub Models")
		gh.POST("/message", u.SendMessage)
		gh.GET("/health", u.Health)
	}

	if d.Usage != nil {
		r.GET("/api/usage/:provider", handlers.NewUsage(d.Usage).Totals)
	}

	return r
}
