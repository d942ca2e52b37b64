// Package extract pulls structured workflow data out of free-form email
// text. An LLM does the heavy lifting through one JSON-mode call per
// message; deterministic regex heuristics backfill yes/no answers the
// model leaves null.
package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/caseflowai/caseflow/internal/cases"
	"github.com/caseflowai/caseflow/internal/workflow"
)

// Intent classifies what an inbound email is doing.
type Intent string

const (
	IntentAnswer    Intent = "answer"
	IntentQuestion  Intent = "question"
	IntentGreeting  Intent = "greeting"
	IntentUnrelated Intent = "unrelated"
	IntentUnknown   Intent = "unknown"
)

// Extractor is what the orchestrator consumes.
type Extractor interface {
	// ExtractFields returns values for the given field specs. Fields the
	// message says nothing about are absent from the result, never
	// present-but-unknown.
	ExtractFields(ctx context.Context, specs []workflow.FieldSpec, text string) (map[string]cases.FieldValue, error)
	// ClassifyIntent labels the message. Classification failures degrade
	// to IntentUnknown with the error returned alongside.
	ClassifyIntent(ctx context.Context, text string) (Intent, error)
	// IsInitiation reports whether the message asks to start a new case.
	IsInitiation(ctx context.Context, text string) (bool, error)
}

// LLM implements Extractor over a Completer.
type LLM struct {
	client Completer
	log    *slog.Logger
}

func NewLLM(client Completer, log *slog.Logger) *LLM {
	return &LLM{
		client: client,
		log:    log.With(slog.String("component", "extract")),
	}
}

const extractSystemPrompt = "You extract structured data from emails. " +
	"Only report values the text actually states; never guess. " +
	"Respond with a single JSON object and nothing else."

func (l *LLM) ExtractFields(ctx context.Context, specs []workflow.FieldSpec, text string) (map[string]cases.FieldValue, error) {
	if strings.TrimSpace(text) == "" {
		return map[string]cases.FieldValue{}, nil
	}

	prompt := buildFieldPrompt(specs, text)
	out := map[string]cases.FieldValue{}

	raw, err := l.client.Complete(ctx, extractSystemPrompt, prompt, true)
	if err != nil {
		// Heuristics still apply below, so a model outage degrades
		// rather than losing the whole message.
		l.log.Warn("field extraction call failed", slog.Any("error", err))
	} else {
		var parsed map[string]any
		if uerr := json.Unmarshal([]byte(removeCodeBlocks(raw)), &parsed); uerr != nil {
			l.log.Warn("field extraction returned invalid json", slog.Any("error", uerr))
		} else {
			for _, spec := range specs {
				if v, ok := decodeFieldValue(spec, parsed[spec.Name]); ok {
					out[spec.Name] = v
				}
			}
		}
	}

	// Regex backfill for flag fields the model did not settle.
	for _, spec := range specs {
		if spec.Kind != workflow.KindFlag {
			continue
		}
		if _, done := out[spec.Name]; done {
			continue
		}
		window := contextWindow(text, spec.Keywords)
		if window == "" {
			continue
		}
		if v, ok := yesNoHeuristic(window); ok {
			out[spec.Name] = cases.FlagValue(v)
		}
	}

	if err != nil && len(out) == 0 {
		return nil, fmt.Errorf("extract fields: %w", err)
	}
	return out, nil
}

func buildFieldPrompt(specs []workflow.FieldSpec, text string) string {
	var b strings.Builder
	b.WriteString("Extract the following fields from the email below. Return a JSON object with exactly these keys:\n")
	for _, spec := range specs {
		switch spec.Kind {
		case workflow.KindFlag:
			fmt.Fprintf(&b, "- %q: true, false, or null. The question answered: %s\n", spec.Name, spec.Question)
		case workflow.KindDate:
			fmt.Fprintf(&b, "- %q: the %s as written, or null\n", spec.Name, spec.Description)
		default:
			fmt.Fprintf(&b, "- %q: the %s, or null. Addresses should be complete and include street, city, state, and zip code if available.\n", spec.Name, spec.Description)
		}
	}
	b.WriteString("Use null for anything the email does not state.\n\nEmail:\n")
	b.WriteString(clip(text, 2000))
	return b.String()
}

func decodeFieldValue(spec workflow.FieldSpec, raw any) (cases.FieldValue, bool) {
	if raw == nil {
		return cases.FieldValue{}, false
	}
	if spec.Kind == workflow.KindFlag {
		switch v := raw.(type) {
		case bool:
			return cases.FlagValue(v), true
		case string:
			switch strings.ToLower(strings.TrimSpace(v)) {
			case "true", "yes":
				return cases.FlagValue(true), true
			case "false", "no":
				return cases.FlagValue(false), true
			}
		}
		return cases.FieldValue{}, false
	}
	s, ok := raw.(string)
	if !ok {
		return cases.FieldValue{}, false
	}
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, "null") {
		return cases.FieldValue{}, false
	}
	return cases.TextValue(s), true
}

const intentPrompt = `Classify the intent of this email into one of these categories:
- 'answer': Responding to questions with information
- 'question': Asking a question
- 'unrelated': Not related to the moving service request
- 'greeting': Initial greeting or introduction

Email text: %s

Respond with only the category name.`

func (l *LLM) ClassifyIntent(ctx context.Context, text string) (Intent, error) {
	raw, err := l.client.Complete(ctx, "", fmt.Sprintf(intentPrompt, clip(text, 1000)), false)
	if err != nil {
		return IntentUnknown, fmt.Errorf("classify intent: %w", err)
	}
	lower := strings.ToLower(raw)
	switch {
	case strings.Contains(lower, "answer"):
		return IntentAnswer, nil
	case strings.Contains(lower, "question"):
		return IntentQuestion, nil
	case strings.Contains(lower, "greeting"):
		return IntentGreeting, nil
	default:
		return IntentUnrelated, nil
	}
}

const initiationPrompt = `Determine if this email is a request to initiate a move or relocation for an employee. Look for keywords like: move, relocate, relocation, employee moving, moving request, etc. The email should be from an employer or company requesting moving services for an employee.

Email text: %s

Respond with only 'yes' or 'no'.`

var initiationKeywords = []string{"move", "relocate", "relocation", "moving", "employee move"}

func (l *LLM) IsInitiation(ctx context.Context, text string) (bool, error) {
	raw, err := l.client.Complete(ctx, "", fmt.Sprintf(initiationPrompt, clip(text, 2000)), false)
	if err != nil {
		// Keyword fallback keeps new-case intake alive through outages.
		l.log.Warn("initiation check call failed, using keyword fallback", slog.Any("error", err))
		lower := strings.ToLower(text)
		for _, kw := range initiationKeywords {
			if strings.Contains(lower, kw) {
				return true, nil
			}
		}
		return false, nil
	}
	return strings.Contains(strings.ToLower(raw), "yes"), nil
}

var addressPattern = regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`)

// CounterpartyAddress finds the first email address in the text that is
// not on the exclude list. Exclusions match whole addresses or bare
// domains, case-insensitively.
func CounterpartyAddress(text string, exclude []string) (string, bool) {
	for _, candidate := range addressPattern.FindAllString(text, -1) {
		if excluded(candidate, exclude) {
			continue
		}
		return candidate, true
	}
	return "", false
}

func excluded(addr string, exclude []string) bool {
	lower := strings.ToLower(addr)
	domain := lower
	if at := strings.LastIndex(lower, "@"); at >= 0 {
		domain = lower[at+1:]
	}
	for _, ex := range exclude {
		ex = strings.ToLower(strings.TrimSpace(ex))
		if ex == "" {
			continue
		}
		if lower == ex || domain == ex {
			return true
		}
	}
	return false
}

var yesPatterns = compileAll(
	`\byes\b`, `\byeah\b`, `\byep\b`, `\bsure\b`, `\bok\b`, `\bokay\b`,
	`\bdefinitely\b`, `\babsolutely\b`, `\bof course\b`, `\bi do\b`,
	`\bi need\b`, `\bplease\b`, `\bwould like\b`,
)

var noPatterns = compileAll(
	`\bno\b`, `\bnope\b`, `\bnot\b`, `\bdon'?t\b`, `\bdo not\b`,
	`\bno thanks\b`, `\bno thank you\b`, `\bi don'?t\b`, `\bi do not\b`,
	`\bunnecessary\b`, `\bnot needed\b`,
)

func compileAll(patterns ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(patterns))
	for i, p := range patterns {
		out[i] = regexp.MustCompile(p)
	}
	return out
}

// yesNoHeuristic reads an affirmative or negative answer out of a short
// span of text. Yes patterns win over no patterns, matching how the
// answers are phrased in practice ("yes, but no packing tape").
func yesNoHeuristic(text string) (bool, bool) {
	lower := strings.ToLower(strings.TrimSpace(text))
	for _, p := range yesPatterns {
		if p.MatchString(lower) {
			return true, true
		}
	}
	for _, p := range noPatterns {
		if p.MatchString(lower) {
			return false, true
		}
	}
	return false, false
}

var sentenceSplit = regexp.MustCompile(`[.!?]\s+`)

// contextWindow returns the sentence containing the first keyword hit,
// falling back to a character window around it.
func contextWindow(text string, keywords []string) string {
	lower := strings.ToLower(text)
	for _, kw := range keywords {
		kwLower := strings.ToLower(kw)
		idx := strings.Index(lower, kwLower)
		if idx < 0 {
			continue
		}
		for _, sentence := range sentenceSplit.Split(text, -1) {
			if strings.Contains(strings.ToLower(sentence), kwLower) {
				return sentence
			}
		}
		start := idx - 100
		if start < 0 {
			start = 0
		}
		end := idx + len(kw) + 100
		if end > len(text) {
			end = len(text)
		}
		return text[start:end]
	}
	return ""
}

func clip(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}

var _ Extractor = (*LLM)(nil)
