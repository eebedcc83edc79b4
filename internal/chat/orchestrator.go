package chat

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/wolfman30/greanly/internal/moderation"
	"github.com/wolfman30/greanly/internal/observability/metrics"
	"github.com/wolfman30/greanly/internal/retrieval"
	"github.com/wolfman30/greanly/pkg/logging"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// Outcomes recorded per request.
const (
	OutcomeDenied    = "denied"
	OutcomeGrounded  = "grounded"
	OutcomeGeneral   = "general"
	OutcomeFailed    = "failed"
	OutcomeCancelled = "cancelled"
	OutcomeFaulted   = "faulted"
)

// Moderator screens the latest user text.
type Moderator interface {
	Check(ctx context.Context, text string) moderation.Verdict
}

// Record describes a finished request. It never carries message text.
type Record struct {
	RequestID    string
	Outcome      string
	Categories   []string
	TopScore     float64
	Steps        int
	ToolCalls    int
	InputTokens  int32
	OutputTokens int32
	Duration     time.Duration
	CreatedAt    time.Time
}

// Recorder persists request records.
type Recorder interface {
	Record(ctx context.Context, rec Record) error
}

type OrchestratorOptions struct {
	Timeout  time.Duration
	Recorder Recorder
	Logger   *logging.Logger
	Metrics  *metrics.ChatMetrics
}

// Orchestrator runs one chat request end to end: moderation, retrieval,
// branch selection and generation. It keeps no state between requests.
type Orchestrator struct {
	moderator Moderator
	retriever retrieval.Retriever
	composer  *Composer
	adapter   *Adapter
	timeout   time.Duration
	recorder  Recorder
	logger    *logging.Logger
	metrics   *metrics.ChatMetrics
}

func NewOrchestrator(moderator Moderator, retriever retrieval.Retriever, composer *Composer, adapter *Adapter, opts OrchestratorOptions) *Orchestrator {
	if composer == nil {
		panic("chat: composer cannot be nil")
	}
	if adapter == nil {
		panic("chat: adapter cannot be nil")
	}
	if opts.Logger == nil {
		opts.Logger = logging.Default()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	return &Orchestrator{
		moderator: moderator,
		retriever: retriever,
		composer:  composer,
		adapter:   adapter,
		timeout:   opts.Timeout,
		recorder:  opts.Recorder,
		logger:    opts.Logger,
		metrics:   opts.Metrics,
	}
}

// Serve processes a raw request body. The returned channel always yields a
// well-formed stream ending in finish, whatever goes wrong, and is closed
// afterwards. Callers must drain it.
func (o *Orchestrator) Serve(ctx context.Context, body []byte) <-chan StreamEvent {
	out := make(chan StreamEvent, 16)
	go func() {
		started := time.Now()
		requestID := middleware.GetReqID(ctx)
		logger := o.logger.WithRequest(requestID)

		ctx, cancel := context.WithTimeout(ctx, o.timeout)
		defer cancel()

		em := newEmitter(out)
		rec := o.process(ctx, body, em, logger)
		em.finish()
		close(out)

		rec.RequestID = requestID
		rec.Duration = time.Since(started)
		rec.CreatedAt = started.UTC()
		o.observe(ctx, rec, logger)
	}()
	return out
}

func (o *Orchestrator) process(ctx context.Context, body []byte, em *emitter, logger *logging.Logger) (rec Record) {
	ctx, span := chatTracer.Start(ctx, "chat.serve")
	defer span.End()
	defer func() {
		if r := recover(); r != nil {
			logger.Error("chat request panicked", "panic", fmt.Sprint(r))
			span.SetStatus(codes.Error, "panic")
			em.fail()
			rec.Outcome = OutcomeFaulted
		}
	}()

	em.start()

	messages, err := DecodeRequest(body)
	if err != nil {
		logger.Error("chat request rejected", "error", err)
		span.SetStatus(codes.Error, "malformed request")
		em.fail()
		return Record{Outcome: OutcomeFaulted}
	}

	text := LatestUserText(messages)
	if o.moderator != nil && strings.TrimSpace(text) != "" {
		verdict := o.moderator.Check(ctx, text)
		if verdict.Flagged {
			logger.Info("chat request denied by moderation", "categories", verdict.Categories)
			span.SetAttributes(attribute.Bool("chat.denied", true))
			denial := verdict.DenialMessage
			if denial == "" {
				denial = moderation.DefaultDenialMessage
			}
			em.message(denial)
			return Record{Outcome: OutcomeDenied, Categories: verdict.Categories}
		}
	}

	var candidates []retrieval.Candidate
	if o.retriever != nil {
		candidates = o.retriever.Retrieve(ctx, text)
	}
	if len(candidates) > 0 {
		rec.TopScore = candidates[0].Score
	}

	req := o.composer.Compose(candidates, messages)
	logger.Debug("chat branch selected", "branch", req.Branch, "candidates", len(candidates))

	result := o.adapter.run(ctx, req, em, logger)
	rec.Steps = result.Steps
	rec.ToolCalls = result.ToolCalls
	rec.InputTokens = result.Usage.InputTokens
	rec.OutputTokens = result.Usage.OutputTokens
	switch {
	case result.Cancelled:
		rec.Outcome = OutcomeCancelled
	case result.Failed:
		rec.Outcome = OutcomeFailed
	case req.Branch == BranchGrounded:
		rec.Outcome = OutcomeGrounded
	default:
		rec.Outcome = OutcomeGeneral
	}
	return rec
}

func (o *Orchestrator) observe(ctx context.Context, rec Record, logger *logging.Logger) {
	o.metrics.ObserveRequest(rec.Outcome, rec.Duration.Seconds())
	logger.Info("chat request completed",
		"outcome", rec.Outcome,
		"steps", rec.Steps,
		"tool_calls", rec.ToolCalls,
		"duration_ms", rec.Duration.Milliseconds(),
	)
	if o.recorder == nil {
		return
	}
	recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := o.recorder.Record(recordCtx, rec); err != nil {
		logger.Warn("failed to record chat outcome", "error", err)
	}
}
