package llm

import (
	"context"
	"fmt"
	"log/slog"
)

// FallbackModel wraps a primary model with a secondary provider. The
// fallback is tried when the primary cannot open a stream, or when the
// primary's stream fails before producing any output. Once output has been
// forwarded the primary owns the turn.
type FallbackModel struct {
	primary  Model
	fallback Model
	logger   *slog.Logger
}

// NewFallbackModel returns primary unchanged when fallback is nil.
func NewFallbackModel(primary, fallback Model, logger *slog.Logger) Model {
	if fallback == nil {
		return primary
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &FallbackModel{primary: primary, fallback: fallback, logger: logger}
}

// StreamTurn implements Model.
func (m *FallbackModel) StreamTurn(ctx context.Context, req TurnRequest) (<-chan StreamChunk, error) {
	primary, err := m.primary.StreamTurn(ctx, req)
	if err != nil {
		m.logger.Warn("primary model failed to open stream, attempting fallback", "error", err)
		return m.openFallback(ctx, req, err)
	}

	var first StreamChunk
	var ok bool
	select {
	case first, ok = <-primary:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if !ok {
		m.logger.Warn("primary model closed stream without output, attempting fallback")
		return m.openFallback(ctx, req, fmt.Errorf("llm: primary stream closed early"))
	}
	if first.Error != nil {
		m.logger.Warn("primary model stream failed before output, attempting fallback", "error", first.Error)
		go drain(primary)
		return m.openFallback(ctx, req, first.Error)
	}

	out := make(chan StreamChunk, 32)
	go func() {
		defer close(out)
		if !send(ctx, out, first) {
			go drain(primary)
			return
		}
		for chunk := range primary {
			if !send(ctx, out, chunk) {
				go drain(primary)
				return
			}
		}
	}()
	return out, nil
}

func (m *FallbackModel) openFallback(ctx context.Context, req TurnRequest, primaryErr error) (<-chan StreamChunk, error) {
	stream, err := m.fallback.StreamTurn(ctx, req)
	if err != nil {
		m.logger.Error("fallback model also failed",
			"primary_error", primaryErr.Error(),
			"fallback_error", err.Error(),
		)
		return nil, err
	}
	m.logger.Info("fallback model stream opened after primary failure")
	return stream, nil
}

func drain(ch <-chan StreamChunk) {
	for range ch {
	}
}
