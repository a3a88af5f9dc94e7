// Package nlu implements the NLU Classifier: intent classification
// over a closed taxonomy plus confidence, and independent rule-based
// entity extraction.
package nlu

import "context"

// Intent taxonomy. Extend only by changing this list.
const (
	IntentGreeting = "greeting"
	IntentPurchase = "purchase"
	IntentScheduling = "scheduling"
	IntentLegal = "legal"
	IntentTechnicalSupport = "technical_support"
	IntentComplaint = "complaint"
	IntentCancellation = "cancellation"
	IntentRequestHuman = "request_human"
	IntentGeneral = "general" // no taxonomy label matched with any confidence
)

// Method records which strategy produced a Classification.
const (
	MethodRule = "rule"
	MethodModel = "model"
)

// Classification is the result of classifying one text window.
type Classification struct {
	Intent string
	Confidence float64
	Method string
	Entities map[string]string
}

// Classifier maps a text window to a Classification.
type Classifier interface {
	Classify(ctx context.Context, text string) (Classification, error)
}
