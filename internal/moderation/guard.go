package moderation

import (
	"context"
	"regexp"
	"strings"
)

// GuardResult is the outcome of the local prompt-injection scan.
type GuardResult struct {
	Blocked bool
	// Score is a heuristic risk score (0.0 = safe, 1.0 = certain injection).
	Score   float64
	Reasons []string
}

type guardPattern struct {
	re     *regexp.Regexp
	reason string
	weight float64
}

const guardBlockScore = 0.7

var overridePatterns = []guardPattern{
	{regexp.MustCompile(`(?i)(ignore|disregard|forget)\s+(all\s+)?(previous|prior|above|earlier|your)\s+(instructions?|rules?|prompts?|guidelines?|directives?)`), "override:ignore_instructions", 0.9},
	{regexp.MustCompile(`(?i)you\s+are\s+now\s+(a|an|my)\s+`), "override:role_reassignment", 0.7},
	{regexp.MustCompile(`(?i)new\s+role\s*:|new\s+instructions?\s*:|system\s*prompt\s*:|<<\s*sys(tem)?\s*>>`), "override:new_role", 0.9},
	{regexp.MustCompile(`(?i)(pretend|imagine|assume)\s+(that\s+)?(you\s+)?(have|don'?t\s+have)\s+(no\s+)?(rules?|restrictions?|limits?|guidelines?|filters?)`), "override:pretend_no_rules", 0.9},
	{regexp.MustCompile(`(?i)bypass\s+(your\s+)?(safety|filters?|restrictions?|guidelines?|rules?|content\s+policy)`), "override:bypass", 0.8},
	{regexp.MustCompile(`(?i)jailbreak|DAN\s*mode|developer\s*mode|unrestricted\s*mode`), "override:jailbreak_keyword", 0.9},
}

var disclosurePatterns = []guardPattern{
	{regexp.MustCompile(`(?i)(reveal|show|print|repeat|tell\s+me|what\s+(is|are))\s+(your\s+)?(system\s+prompt|instructions|initial\s+prompt|hidden\s+prompt|system\s+message)`), "disclosure:system_prompt", 0.8},
	{regexp.MustCompile(`(?i)(which|what)\s+(document|database|vector\s+(db|database|store|index)|knowledge\s+base)\s+(did|do)\s+you\s+(use|search|read)`), "disclosure:context_source", 0.7},
	{regexp.MustCompile(`(?i)\b(api|secret|openai|aws|google)\s*(key|token|secret|password)s?\b`), "disclosure:credentials", 0.8},
	{regexp.MustCompile(`(?i)repeat\s+(everything|all|the\s+text)\s+(above|before|from\s+the\s+(start|beginning))`), "disclosure:repeat_above", 0.7},
}

var framingPatterns = []guardPattern{
	{regexp.MustCompile(`(?i)\[/?INST\]|\[/?SYS\]|<\|im_start\|>|<\|im_end\|>|<\|system\|>|<\|assistant\|>`), "framing:special_tokens", 0.9},
	{regexp.MustCompile(`(?i)###\s*(system|instruction|assistant)\s*:`), "framing:role_markers", 0.7},
	{regexp.MustCompile(`(?i)the\s+real\s+(instructions?|task|prompt)\s+(is|starts?|begins?)`), "framing:real_instructions", 0.8},
	{regexp.MustCompile(`<\s*(script|iframe|object|embed)\b`), "framing:html_injection", 0.6},
}

var guardPatterns = func() []guardPattern {
	all := make([]guardPattern, 0, len(overridePatterns)+len(disclosurePatterns)+len(framingPatterns))
	all = append(all, overridePatterns...)
	all = append(all, disclosurePatterns...)
	return append(all, framingPatterns...)
}()

// Scan scores text for prompt-injection signals. The score is the strongest
// single signal plus 0.1 per additional signal, capped at 1.0.
func Scan(text string) GuardResult {
	if strings.TrimSpace(text) == "" {
		return GuardResult{}
	}
	var reasons []string
	maxWeight := 0.0
	for _, p := range guardPatterns {
		if p.re.MatchString(text) {
			reasons = append(reasons, p.reason)
			if p.weight > maxWeight {
				maxWeight = p.weight
			}
		}
	}
	score := maxWeight
	if len(reasons) > 1 {
		score = maxWeight + float64(len(reasons)-1)*0.1
		if score > 1.0 {
			score = 1.0
		}
	}
	return GuardResult{Blocked: score >= guardBlockScore, Score: score, Reasons: reasons}
}

// PromptGuard is a Classifier backed by Scan. It never errors.
type PromptGuard struct{}

func (PromptGuard) Classify(_ context.Context, text string) (Verdict, error) {
	result := Scan(text)
	if !result.Blocked {
		return Verdict{}, nil
	}
	return Verdict{Flagged: true, Categories: []string{"prompt_injection"}}, nil
}
