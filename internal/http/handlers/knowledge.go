package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	httpmiddleware "github.com/wolfman30/greanly/internal/http/middleware"
	"github.com/wolfman30/greanly/pkg/logging"
)

// KnowledgeIngester stores passages so later searches can find them.
type KnowledgeIngester interface {
	Ingest(ctx context.Context, namespace string, docs []string) error
}

// IngestRequest is the body of POST /admin/knowledge.
type IngestRequest struct {
	Namespace string   `json:"namespace" validate:"omitempty,max=64,excludesall=/ "`
	Documents []string `json:"documents" validate:"required,min=1,max=500,dive,required,max=20000"`
}

var knowledgeValidate = validator.New()

// KnowledgeHandler serves operator knowledge ingestion.
type KnowledgeHandler struct {
	ingester         KnowledgeIngester
	defaultNamespace string
	logger           *logging.Logger
}

func NewKnowledgeHandler(ingester KnowledgeIngester, defaultNamespace string, logger *logging.Logger) *KnowledgeHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &KnowledgeHandler{ingester: ingester, defaultNamespace: defaultNamespace, logger: logger}
}

// Ingest adds documents to the knowledge index.
// POST /admin/knowledge
func (h *KnowledgeHandler) Ingest(w http.ResponseWriter, r *http.Request) {
	if h.ingester == nil {
		jsonError(w, "knowledge ingestion not configured", http.StatusServiceUnavailable)
		return
	}

	var req IngestRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 8<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		jsonError(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	for i, doc := range req.Documents {
		req.Documents[i] = strings.TrimSpace(doc)
	}
	if err := knowledgeValidate.Struct(req); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			jsonError(w, "invalid field: "+verrs[0].Namespace(), http.StatusBadRequest)
			return
		}
		jsonError(w, "invalid request", http.StatusBadRequest)
		return
	}

	namespace := strings.TrimSpace(req.Namespace)
	if namespace == "" {
		namespace = h.defaultNamespace
	}

	subject := ""
	if claims, ok := httpmiddleware.AdminClaimsFromContext(r.Context()); ok {
		subject = claims.Subject
	}
	if err := h.ingester.Ingest(r.Context(), namespace, req.Documents); err != nil {
		h.logger.Error("knowledge ingestion failed", "namespace", namespace, "documents", len(req.Documents), "error", err)
		jsonError(w, "failed to ingest documents", http.StatusInternalServerError)
		return
	}

	h.logger.Info("knowledge ingested", "namespace", namespace, "documents", len(req.Documents), "subject", subject)
	writeJSON(w, http.StatusCreated, map[string]any{
		"namespace": namespace,
		"ingested":  len(req.Documents),
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func jsonError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, map[string]string{"error": message})
}
