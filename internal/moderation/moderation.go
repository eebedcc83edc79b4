package moderation

import (
	"context"
	"strings"

	"github.com/wolfman30/greanly/internal/observability/metrics"
	"github.com/wolfman30/greanly/pkg/logging"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var moderationTracer = otel.Tracer("greanly.moderation")

// DefaultDenialMessage is shown when a flagged category has no dedicated message.
const DefaultDenialMessage = "Your message violates our guidelines. I can't answer that."

// Verdict is the outcome of screening one block of user text.
type Verdict struct {
	Flagged       bool
	DenialMessage string
	Categories    []string
}

// Classifier screens text. A non-nil error means the classifier could not
// reach a decision; the verdict is ignored in that case.
type Classifier interface {
	Classify(ctx context.Context, text string) (Verdict, error)
}

// ClassifierFunc adapts a function into a Classifier.
type ClassifierFunc func(ctx context.Context, text string) (Verdict, error)

func (f ClassifierFunc) Classify(ctx context.Context, text string) (Verdict, error) {
	return f(ctx, text)
}

var denialMessages = map[string]string{
	"sexual":                 "I can't discuss explicit sexual content. Please ask something else.",
	"sexual/minors":          "I can't discuss content involving minors in a sexual context. Please ask something else.",
	"harassment":             "I can't engage with harassing content. Please be respectful.",
	"harassment/threatening": "I can't engage with threatening or harassing content. Please be respectful.",
	"hate":                   "I can't engage with hateful content. Please be respectful.",
	"hate/threatening":       "I can't engage with threatening hate speech. Please be respectful.",
	"illicit":                "I can't discuss illegal activities. Please ask something else.",
	"illicit/violent":        "I can't discuss violent illegal activities. Please ask something else.",
	"self-harm":              "I can't discuss self-harm. If you're struggling, please reach out to a mental health professional or crisis helpline.",
	"self-harm/intent":       "I can't discuss self-harm intentions. If you're struggling, please reach out to a mental health professional or crisis helpline.",
	"self-harm/instructions": "I can't provide instructions related to self-harm. If you're struggling, please reach out to a mental health professional or crisis helpline.",
	"violence":               "I can't discuss violent content. Please ask something else.",
	"violence/graphic":       "I can't discuss graphic violent content. Please ask something else.",
	"prompt_injection":       "I can't change how I work or share my instructions. Ask me anything about making your business more sustainable.",
}

// categoryPriority orders categories from most to least specific so a
// message flagged for both "violence" and "violence/graphic" gets the
// graphic wording.
var categoryPriority = []string{
	"sexual/minors",
	"self-harm/instructions",
	"self-harm/intent",
	"self-harm",
	"hate/threatening",
	"harassment/threatening",
	"illicit/violent",
	"violence/graphic",
	"sexual",
	"hate",
	"harassment",
	"illicit",
	"violence",
	"prompt_injection",
}

// DenialFor picks the user-facing message for a set of flagged categories.
func DenialFor(categories []string) string {
	flagged := make(map[string]bool, len(categories))
	for _, c := range categories {
		flagged[c] = true
	}
	for _, c := range categoryPriority {
		if flagged[c] {
			return denialMessages[c]
		}
	}
	return DefaultDenialMessage
}

// Gate runs classifiers in order and stops at the first flag. Classifier
// failures are logged and skipped, so the gate never blocks a request
// because a provider is down.
type Gate struct {
	classifiers []Classifier
	logger      *logging.Logger
	metrics     *metrics.ChatMetrics
}

func NewGate(logger *logging.Logger, m *metrics.ChatMetrics, classifiers ...Classifier) *Gate {
	if logger == nil {
		logger = logging.Default()
	}
	var active []Classifier
	for _, c := range classifiers {
		if c != nil {
			active = append(active, c)
		}
	}
	return &Gate{classifiers: active, logger: logger, metrics: m}
}

// Check screens text. Empty text is never flagged.
func (g *Gate) Check(ctx context.Context, text string) Verdict {
	if strings.TrimSpace(text) == "" {
		g.metrics.ObserveModeration("skipped")
		return Verdict{}
	}

	ctx, span := moderationTracer.Start(ctx, "moderation.check")
	defer span.End()

	for _, c := range g.classifiers {
		verdict, err := c.Classify(ctx, text)
		if err != nil {
			g.logger.Warn("moderation classifier failed, continuing without it", "error", err)
			g.metrics.ObserveModeration("error")
			continue
		}
		if verdict.Flagged {
			if strings.TrimSpace(verdict.DenialMessage) == "" {
				verdict.DenialMessage = DenialFor(verdict.Categories)
			}
			span.SetAttributes(attribute.Bool("moderation.flagged", true))
			g.metrics.ObserveModeration("flagged")
			g.logger.Info("message flagged by moderation", "categories", verdict.Categories)
			return verdict
		}
	}

	span.SetAttributes(attribute.Bool("moderation.flagged", false))
	g.metrics.ObserveModeration("clear")
	return Verdict{}
}
