package retrieval

import (
	"context"
	"sync"

	"github.com/wolfman30/greanly/pkg/logging"
)

// HydratingIndex keeps a MemoryStore in step with a KnowledgeRepository.
// New passages appended to the repository are embedded on the next search;
// a version change (or a shrunk namespace) triggers a full re-embed.
type HydratingIndex struct {
	repo      KnowledgeRepository
	versioner KnowledgeVersioner
	store     *MemoryStore
	namespace string
	logger    *logging.Logger

	// mu serializes embedding work; state guards the bookkeeping so searches
	// over an up-to-date namespace never wait on it.
	mu       sync.Mutex
	state    sync.RWMutex
	hydrated map[string]int
	versions map[string]int64
}

func NewHydratingIndex(repo KnowledgeRepository, store *MemoryStore, namespace string, logger *logging.Logger) *HydratingIndex {
	if repo == nil {
		panic("retrieval: knowledge repo cannot be nil")
	}
	if store == nil {
		panic("retrieval: memory store cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	h := &HydratingIndex{
		repo:      repo,
		store:     store,
		namespace: namespace,
		logger:    logger,
		hydrated:  make(map[string]int),
		versions:  make(map[string]int64),
	}
	if v, ok := repo.(KnowledgeVersioner); ok {
		h.versioner = v
	}
	return h
}

// Search implements Index. Hydration failures are logged and the search
// proceeds over whatever is already embedded.
func (h *HydratingIndex) Search(ctx context.Context, query string, topK int) ([]Candidate, error) {
	if err := h.hydrate(ctx, ""); err != nil {
		h.logger.Warn("failed to hydrate shared knowledge", "error", err)
	}
	if h.namespace != "" {
		if err := h.hydrate(ctx, h.namespace); err != nil {
			h.logger.Warn("failed to hydrate knowledge namespace", "namespace", h.namespace, "error", err)
		}
	}
	return h.store.Query(ctx, h.namespace, query, topK)
}

// Ingest appends passages to the repository and embeds them immediately.
func (h *HydratingIndex) Ingest(ctx context.Context, namespace string, docs []string) error {
	if err := h.repo.AppendDocuments(ctx, namespace, docs); err != nil {
		return err
	}
	return h.hydrate(ctx, namespace)
}

func (h *HydratingIndex) hydrate(ctx context.Context, namespace string) error {
	docs, version, err := h.load(ctx, namespace)
	if err != nil {
		return err
	}
	if h.current(namespace, len(docs), version) {
		return nil
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	// Another caller may have embedded while we waited; reload so a stale
	// snapshot never replaces a newer one.
	docs, version, err = h.load(ctx, namespace)
	if err != nil {
		return err
	}
	if h.current(namespace, len(docs), version) {
		return nil
	}

	h.state.RLock()
	start := h.hydrated[namespace]
	stale := h.versioner != nil && version != h.versions[namespace]
	h.state.RUnlock()

	switch {
	case stale, start > len(docs):
		if err := h.store.ReplaceDocuments(ctx, namespace, docs); err != nil {
			return err
		}
	default:
		if err := h.store.AddDocuments(ctx, namespace, docs[start:]); err != nil {
			return err
		}
	}

	h.state.Lock()
	h.hydrated[namespace] = len(docs)
	h.versions[namespace] = version
	h.state.Unlock()
	return nil
}

func (h *HydratingIndex) load(ctx context.Context, namespace string) ([]string, int64, error) {
	docs, err := h.repo.GetDocuments(ctx, namespace)
	if err != nil {
		return nil, 0, err
	}
	var version int64
	if h.versioner != nil {
		if version, err = h.versioner.GetVersion(ctx, namespace); err != nil {
			return nil, 0, err
		}
	}
	return docs, version, nil
}

// current reports whether the store already holds n passages at version.
func (h *HydratingIndex) current(namespace string, n int, version int64) bool {
	h.state.RLock()
	defer h.state.RUnlock()
	if h.versioner != nil && version != h.versions[namespace] {
		return false
	}
	return h.hydrated[namespace] == n
}
