package nlu

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// comparisonFixtures mirrors a handful of representative customer messages
// across the taxonomy, used to sanity-check that the rule strategy and the
// model strategy never disagree on validity, even when they disagree on
// the specific label.
var comparisonFixtures = []string{
	"hi there, good morning!",
	"I want to buy the premium plan",
	"can we schedule a call for tomorrow?",
	"I need to speak to a lawyer about this contract",
	"my internet keeps disconnecting, need tech support",
	"this is unacceptable, I want to complain",
	"please cancel my subscription",
	"let me talk to a real person",
	"what's the weather like",
}

func TestCompareClassifiers_BothStrategiesReportTaxonomyValidIntent(t *testing.T) {
	rule := NewRuleClassifier()
	model := fakeModelClassifier{out: Classification{Intent: IntentGeneral, Confidence: 0.4, Method: MethodModel}}

	for _, text := range comparisonFixtures {
		t.Run(text, func(t *testing.T) {
			ruleResult, err := rule.Classify(context.Background(), text)
			require.NoError(t, err)
			_, ruleValid := validIntents[ruleResult.Intent]
			assert.True(t, ruleValid, "rule classifier returned non-taxonomy intent %q", ruleResult.Intent)
			assert.Equal(t, MethodRule, ruleResult.Method)

			modelResult, err := model.Classify(context.Background(), text)
			require.NoError(t, err)
			_, modelValid := validIntents[modelResult.Intent]
			assert.True(t, modelValid, "model classifier returned non-taxonomy intent %q", modelResult.Intent)
		})
	}
}

// TestCompareClassifiers_FallbackAgreesWithRuleUnderModelOutage exercises
// the same fixtures through FallbackClassifier with a failing model, which
// must degrade to exactly the bare rule classifier's output.
func TestCompareClassifiers_FallbackAgreesWithRuleUnderModelOutage(t *testing.T) {
	rule := NewRuleClassifier()
	broken := fakeModelClassifier{err: assert.AnError}
	fallback := NewFallbackClassifier(broken, rule, time.Second, nil)

	for _, text := range comparisonFixtures {
		ruleResult, err := rule.Classify(context.Background(), text)
		require.NoError(t, err)

		fallbackResult, err := fallback.Classify(context.Background(), text)
		require.NoError(t, err)

		assert.Equal(t, ruleResult.Intent, fallbackResult.Intent, "fallback diverged from rule strategy for %q", text)
	}
}
