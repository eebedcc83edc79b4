package router

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/wolfman30/greanly/internal/chat"
	"github.com/wolfman30/greanly/internal/http/handlers"
	httpmiddleware "github.com/wolfman30/greanly/internal/http/middleware"
	"github.com/wolfman30/greanly/pkg/logging"
)

// Config holds router configuration
type Config struct {
	Logger             *logging.Logger
	ChatHandler        *chat.Handler
	KnowledgeHandler   *handlers.KnowledgeHandler
	AuditHandler       *handlers.AuditHandler
	MetricsHandler     http.Handler
	AdminAuthSecret    string
	CORSAllowedOrigins []string
	RateLimiter        *httpmiddleware.RateLimiter
}

// New creates the chi router. Streaming routes are never compressed so
// events reach the client as soon as they are flushed.
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(httpmiddleware.RequestLogger(cfg.Logger))
	r.Use(middleware.Recoverer)
	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(httpmiddleware.CORS(cfg.CORSAllowedOrigins))
	}

	r.Get("/health", health)
	if cfg.MetricsHandler != nil {
		r.Handle("/metrics", cfg.MetricsHandler)
	}

	if cfg.ChatHandler != nil {
		r.Get("/api/config", cfg.ChatHandler.Config)
		r.Group(func(chatRoutes chi.Router) {
			if cfg.RateLimiter != nil {
				chatRoutes.Use(httpmiddleware.RateLimit(cfg.RateLimiter))
			}
			chatRoutes.Post("/api/chat", cfg.ChatHandler.Stream)
			chatRoutes.Post("/chat", cfg.ChatHandler.Stream)
			chatRoutes.Post("/api/chat/reply", cfg.ChatHandler.Reply)
		})
	}

	r.Route("/admin", func(admin chi.Router) {
		if cfg.KnowledgeHandler != nil {
			admin.With(httpmiddleware.AdminJWT(cfg.AdminAuthSecret, httpmiddleware.ScopeKnowledgeWrite)).
				Post("/knowledge", cfg.KnowledgeHandler.Ingest)
		}
		if cfg.AuditHandler != nil {
			admin.With(httpmiddleware.AdminJWT(cfg.AdminAuthSecret, "")).
				Get("/audit", cfg.AuditHandler.List)
		}
	})

	return r
}

func health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}
