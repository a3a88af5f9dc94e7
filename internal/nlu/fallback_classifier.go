// Selection policy: when model-backed is configured and reachable,
// it is preferred; on any failure the classifier falls back to the
// rule-based strategy and records which strategy produced the result.

package nlu

import (
	"context"
	"log/slog"
	"time"
)

// FallbackClassifier wraps a model-backed Classifier with a deadline and
// an always-available rule-based Classifier to fall back to.
type FallbackClassifier struct {
	model Classifier
	rule Classifier
	deadline time.Duration
	logger *slog.Logger
}

// NewFallbackClassifier builds the composite. model may be nil to force
// rule-only operation (nlu.strategy = "rule" in config).
func NewFallbackClassifier(model Classifier, rule Classifier, deadline time.Duration, logger *slog.Logger) *FallbackClassifier {
	if rule == nil {
		rule = NewRuleClassifier()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &FallbackClassifier{model: model, rule: rule, deadline: deadline, logger: logger.With("component", "nlu")}
}

// Classify tries the model-backed strategy first, bounded by deadline; any
// failure (timeout, transport error, malformed JSON, network refusal)
// falls back to the rule-based strategy. The fallback itself never fails.
func (c *FallbackClassifier) Classify(ctx context.Context, text string) (Classification, error) {
	if c.model == nil {
		return c.rule.Classify(ctx, text)
	}

	callCtx, cancel := context.WithTimeout(ctx, c.deadline)
	defer cancel()

	result, err := c.model.Classify(callCtx, text)
	if err == nil {
		return result, nil
	}

	c.logger.Warn("nlu model classifier failed, falling back to rule-based", "err", err)
	return c.rule.Classify(ctx, text)
}
