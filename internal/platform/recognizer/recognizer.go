// Package recognizer adapts entity recognition backends to the span contract
// consumed by the phi package.
package recognizer

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ehr/phivault/internal/platform/phi"
	"github.com/rs/zerolog"
)

// ErrUnavailable is returned when a backend cannot produce a result.
var ErrUnavailable = errors.New("recognizer unavailable")

// Recognizer turns free text into candidate spans. Results are in no
// particular order and may overlap.
type Recognizer interface {
	Analyze(ctx context.Context, text, language string) ([]phi.Span, error)
}

// FailurePolicy decides what a failed recognition means for a write.
type FailurePolicy string

const (
	// FailOpen treats a failed recognition as zero findings.
	FailOpen FailurePolicy = "open"
	// FailClosed rejects the write.
	FailClosed FailurePolicy = "closed"
)

// ParseFailurePolicy maps a config value to a policy. Empty means FailOpen.
func ParseFailurePolicy(s string) (FailurePolicy, error) {
	switch FailurePolicy(strings.ToLower(strings.TrimSpace(s))) {
	case "", FailOpen:
		return FailOpen, nil
	case FailClosed:
		return FailClosed, nil
	default:
		return "", fmt.Errorf("unknown recognizer failure policy %q", s)
	}
}

// Guarded wraps a Recognizer with a failure policy and drops spans that do
// not fit the analyzed text.
type Guarded struct {
	next   Recognizer
	policy FailurePolicy
	logger zerolog.Logger
}

// Guard wraps r with policy.
func Guard(r Recognizer, policy FailurePolicy, logger zerolog.Logger) *Guarded {
	if policy == "" {
		policy = FailOpen
	}
	return &Guarded{next: r, policy: policy, logger: logger}
}

// Policy returns the failure policy in effect.
func (g *Guarded) Policy() FailurePolicy {
	return g.policy
}

// Analyze calls the wrapped recognizer. Under FailOpen any error, including
// a timeout, yields no spans and a warning.
func (g *Guarded) Analyze(ctx context.Context, text, language string) ([]phi.Span, error) {
	spans, err := g.next.Analyze(ctx, text, language)
	if err != nil {
		if g.policy == FailClosed {
			return nil, fmt.Errorf("analyze: %w", err)
		}
		g.logger.Warn().Err(err).
			Int("text_length", len(text)).
			Msg("recognizer unavailable, redaction coverage reduced")
		return nil, nil
	}

	valid := spans[:0:0]
	for _, s := range spans {
		if s.ValidFor(text) {
			valid = append(valid, s)
		}
	}
	if dropped := len(spans) - len(valid); dropped > 0 {
		g.logger.Debug().Int("dropped", dropped).Msg("discarded out of range spans")
	}
	return valid, nil
}

// Noop reports nothing. It backs RECOGNIZER_BACKEND=none.
type Noop struct{}

// Analyze implements Recognizer.
func (Noop) Analyze(context.Context, string, string) ([]phi.Span, error) {
	return nil, nil
}
