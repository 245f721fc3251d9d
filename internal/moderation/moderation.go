// Package moderation gates pipeline input and output against a content
// safety policy.
package moderation

import (
	"context"
	"fmt"
	"strings"

	"github.com/veridoc/veridoc/internal/log"
	"github.com/veridoc/veridoc/internal/provider"
)

// blockedCategories are the policy categories that block a request.
// Other categories the backend may flag are reported but do not block.
var blockedCategories = []string{
	"hate",
	"hate/threatening",
	"violence",
	"harassment",
}

// Decision is the outcome of a moderation check.
type Decision struct {
	Flagged    bool
	Categories []string // blocked categories that matched, in policy order
}

// Config controls the gate.
type Config struct {
	Enabled  bool
	FailOpen bool // pass content through when the backend is unreachable
}

// Gate checks content against the safety policy.
//
// When disabled, or constructed without a backend, every check passes. With
// FailOpen set, backend errors also pass (logged); otherwise they surface as
// errors and the caller decides.
type Gate struct {
	moderator provider.Moderator
	cfg       Config
	logger    log.Logger
}

// NewGate creates a moderation gate. A nil moderator disables checking
// regardless of Config.Enabled.
func NewGate(moderator provider.Moderator, cfg Config, logger log.Logger) *Gate {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Gate{moderator: moderator, cfg: cfg, logger: logger}
}

// Check classifies content. The returned decision flags only categories the
// policy blocks.
func (g *Gate) Check(ctx context.Context, content string) (Decision, error) {
	if !g.cfg.Enabled || g.moderator == nil {
		return Decision{}, nil
	}

	result, err := g.moderator.Moderate(ctx, content)
	if err != nil {
		if g.cfg.FailOpen {
			g.logger.Warn("moderation backend unavailable, passing content through", "error", err)
			return Decision{}, nil
		}
		return Decision{}, fmt.Errorf("moderating content: %w", err)
	}

	if !result.Flagged {
		return Decision{}, nil
	}

	flagged := make(map[string]bool, len(result.Categories))
	for _, c := range result.Categories {
		flagged[c] = true
	}

	var matched []string
	for _, c := range blockedCategories {
		if flagged[c] {
			matched = append(matched, c)
		}
	}

	return Decision{Flagged: len(matched) > 0, Categories: matched}, nil
}

// InputRefusalMessage is the user-facing refusal for a flagged query.
func InputRefusalMessage(categories []string) string {
	return fmt.Sprintf("Your message violates our safety policy (%s). "+
		"Please rephrase your question without hate speech, violence, or harassment.",
		strings.Join(categories, ", "))
}

// OutputRefusalMessage replaces a flagged generated answer.
func OutputRefusalMessage(categories []string) string {
	return fmt.Sprintf("The generated response contained policy violations (%s). "+
		"Please ask a different question or try again.",
		strings.Join(categories, ", "))
}
