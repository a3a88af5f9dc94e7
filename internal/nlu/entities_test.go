package nlu

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractEntities_Email(t *testing.T) {
	got := ExtractEntities("reach me at ana.silva@example.com please")
	assert.Equal(t, "ana.silva@example.com", got["email"])
}

func TestExtractEntities_URL(t *testing.T) {
	got := ExtractEntities("see https://example.com/docs for details")
	assert.Equal(t, "https://example.com/docs", got["url"])
}

func TestExtractEntities_Phone(t *testing.T) {
	got := ExtractEntities("call me at +55 11 99999-9999")
	assert.NotEmpty(t, got["phone"])
}

func TestExtractEntities_ISODate(t *testing.T) {
	got := ExtractEntities("schedule for 2026-03-05 please")
	assert.Equal(t, "2026-03-05", got["date"])
}

func TestExtractEntities_RelativeDateFallback(t *testing.T) {
	got := ExtractEntities("can we meet tomorrow?")
	assert.Equal(t, "tomorrow", got["date"])
}

func TestExtractEntities_Money(t *testing.T) {
	got := ExtractEntities("the quote came in at R$ 1500,00")
	assert.NotEmpty(t, got["money"])
}

func TestExtractEntities_ValidCPFShape(t *testing.T) {
	got := ExtractEntities("my cpf is 123.456.789-09")
	assert.Equal(t, "123.456.789-09", got["national_id"])
}

func TestExtractEntities_RejectsAllRepeatedDigitsCPF(t *testing.T) {
	got := ExtractEntities("my cpf is 111.111.111-11")
	_, ok := got["national_id"]
	assert.False(t, ok, "all-repeated-digit CPF shapes must be rejected")
}

func TestExtractEntities_NoMatchesOmitsKeys(t *testing.T) {
	got := ExtractEntities("just a plain sentence with nothing special")
	assert.Empty(t, got)
}
