// Independent rule-based entity extraction: runs regardless of which
// classification strategy produced the intent.

package nlu

import (
	"regexp"
	"strings"
)

var (
	emailPattern = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)
	urlPattern = regexp.MustCompile(`https?://[^\s]+`)
	phonePattern = regexp.MustCompile(`\+?\d[\d\s.\-]{7,}\d`)
	// Brazilian CPF shape: 11 digits, optionally dotted/dashed.
	cpfPattern = regexp.MustCompile(`\b\d{3}\.?\d{3}\.?\d{3}-?\d{2}\b`)
	// Brazilian CEP shape: 5 digits, optional dash, 3 digits.
	postalPattern = regexp.MustCompile(`\b\d{5}-?\d{3}\b`)
	isoDatePattern = regexp.MustCompile(`\b\d{4}-\d{2}-\d{2}\b`)
	slashDatePattern = regexp.MustCompile(`\b\d{1,2}/\d{1,2}(/\d{2,4})?\b`)
	timePattern = regexp.MustCompile(`\b\d{1,2}:\d{2}\s?(am|pm|AM|PM)?\b`)
	moneyPattern = regexp.MustCompile(`(?:R\$|\$|USD|BRL)\s?\d+(?:[.,]\d{2,3})*`)
)

var relativeDateTerms = map[string]struct{}{
	"today": {},
	"tomorrow": {},
	"yesterday": {},
	"hoje": {},
	"amanhã": {},
	"ontem": {},
}

// ExtractEntities runs every extractor independently and returns the first
// match found for each entity kind present. It never fails: absence of a
// kind simply omits its key.
func ExtractEntities(text string) map[string]string {
	entities := make(map[string]string)

	if m := emailPattern.FindString(text); m != "" {
		entities["email"] = m
	}
	if m := urlPattern.FindString(text); m != "" {
		entities["url"] = m
	}
	if m := cpfPattern.FindString(text); m != "" && isValidCPFShape(m) {
		entities["national_id"] = m
	}
	if m := postalPattern.FindString(text); m != "" {
		entities["postal_code"] = m
	}
	if m := phonePattern.FindString(text); m != "" {
		entities["phone"] = strings.TrimSpace(m)
	}
	if m := isoDatePattern.FindString(text); m != "" {
		entities["date"] = m
	} else if m := slashDatePattern.FindString(text); m != "" {
		entities["date"] = m
	} else if d := findRelativeDate(text); d != "" {
		entities["date"] = d
	}
	if m := timePattern.FindString(text); m != "" {
		entities["time"] = strings.TrimSpace(m)
	}
	if m := moneyPattern.FindString(text); m != "" {
		entities["money"] = m
	}

	return entities
}

func findRelativeDate(text string) string {
	lower := strings.ToLower(text)
	for _, word := range strings.Fields(lower) {
		word = strings.Trim(word, ".,!?;:")
		if _, ok := relativeDateTerms[word]; ok {
			return word
		}
	}
	return ""
}

// isValidCPFShape validates the digit count of a Brazilian CPF candidate,
// rejects all-repeated digits, and verifies both modulus-11 check digits.
func isValidCPFShape(candidate string) bool {
	digits := make([]byte, 0, 11)
	for _, r := range candidate {
		if r >= '0' && r <= '9' {
			digits = append(digits, byte(r))
		}
	}
	if len(digits) != 11 {
		return false
	}
	allSame := true
	for _, d := range digits[1:] {
		if d != digits[0] {
			allSame = false
			break
		}
	}
	if allSame {
		return false
	}
	for n := 9; n <= 10; n++ {
		sum := 0
		for i := 0; i < n; i++ {
			sum += int(digits[i]-'0') * (n + 1 - i)
		}
		if sum*10%11%10 != int(digits[n]-'0') {
			return false
		}
	}
	return true
}
