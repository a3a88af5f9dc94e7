// Rule-based intent classifier: keyword patterns per intent, confidence a
// bounded function of pattern hit count and text coverage.

package nlu

import (
	"context"
	"strings"
)

type intentPattern struct {
	intent string
	keywords []string
}

// defaultPatterns mirrors the domain's keyword taxonomy: each intent is a
// short list of phrases whose presence (substring match, case-insensitive)
// counts as a hit.
var defaultPatterns = []intentPattern{
	{IntentGreeting, []string{"hello", "hi there", "good morning", "good afternoon", "good evening", "hey", "olá", "oi", "bom dia", "boa tarde"}},
	{IntentPurchase, []string{"want to buy", "how much", "price", "quote", "budget", "purchase", "quero comprar", "preço", "orçamento"}},
	{IntentScheduling, []string{"schedule", "book a", "meeting", "appointment", "availability", "agendar", "marcar", "reunião", "disponibilidade"}},
	{IntentLegal, []string{"lawyer", "legal", "contract", "lawsuit", "advogado", "jurídico", "contrato", "processo"}},
	{IntentTechnicalSupport, []string{"error", "bug", "not working", "technical issue", "crashed", "erro", "não funciona", "travou"}},
	{IntentComplaint, []string{"complaint", "unhappy", "terrible", "disappointed", "reclamação", "insatisfeito", "péssimo", "absurdo"}},
	{IntentCancellation, []string{"cancel", "don't want anymore", "remove order", "cancelar", "desistir"}},
	{IntentRequestHuman, []string{"talk to a human", "real person", "speak to someone", "human agent", "falar com humano", "atendente", "humano"}},
}

// RuleClassifier is the always-available fallback strategy.
type RuleClassifier struct {
	patterns []intentPattern
}

// NewRuleClassifier builds a RuleClassifier over the default taxonomy.
func NewRuleClassifier() *RuleClassifier {
	return &RuleClassifier{patterns: defaultPatterns}
}

// Classify never fails: an unmatched text window classifies as IntentGeneral
// with zero confidence.
func (c *RuleClassifier) Classify(_ context.Context, text string) (Classification, error) {
	lower := strings.ToLower(strings.TrimSpace(text))
	wordCount := len(strings.Fields(lower))
	if wordCount == 0 {
		wordCount = 1
	}

	var best intentPattern
	bestHits := 0
	for _, p := range c.patterns {
		hits := 0
		for _, kw := range p.keywords {
			if strings.Contains(lower, kw) {
				hits++
			}
		}
		if hits > bestHits {
			bestHits = hits
			best = p
		}
	}

	if bestHits == 0 {
		return Classification{Intent: IntentGeneral, Confidence: 0, Method: MethodRule, Entities: ExtractEntities(text)}, nil
	}

	confidence := float64(bestHits) / float64(wordCount) * 2
	if confidence > 1 {
		confidence = 1
	}

	return Classification{
		Intent: best.intent,
		Confidence: confidence,
		Method: MethodRule,
		Entities: ExtractEntities(text),
	}, nil
}
