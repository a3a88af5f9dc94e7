package nlu

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseModelResponse_PlainJSON(t *testing.T) {
	got, err := parseModelResponse(`{"intent": "greeting", "confidence": 0.8, "entities": {"email": "a@b.com"}}`)
	require.NoError(t, err)
	assert.Equal(t, IntentGreeting, got.Intent)
	assert.Equal(t, 0.8, got.Confidence)
	assert.Equal(t, "a@b.com", got.Entities["email"])
}

func TestParseModelResponse_StripsMarkdownFence(t *testing.T) {
	got, err := parseModelResponse("```json\n{\"intent\": \"purchase\", \"confidence\": 0.5}\n```")
	require.NoError(t, err)
	assert.Equal(t, IntentPurchase, got.Intent)
}

func TestParseModelResponse_MalformedJSONErrors(t *testing.T) {
	_, err := parseModelResponse("not json at all")
	require.Error(t, err)
}
