package handover

import (
	"bytes"
	"fmt"

	"github.com/yuin/goldmark"
)

// md renders the free-text resolution notes an operator writes when
// closing a ticket, since they routinely include lists and links
// ("see PR #412, escalate to billing") and the admin UI displays them as
// HTML rather than as raw text.
var md = goldmark.New()

// RenderResolutionNotesHTML converts a ticket's plain-markdown resolution
// notes to HTML for display. Empty input renders to an empty string
// rather than an empty <p></p>, so callers can treat "no notes yet" and
// "notes present" uniformly.
func RenderResolutionNotesHTML(notes string) (string, error) {
	if notes == "" {
		return "", nil
	}
	var buf bytes.Buffer
	if err := md.Convert([]byte(notes), &buf); err != nil {
		return "", fmt.Errorf("handover: rendering resolution notes: %w", err)
	}
	return buf.String(), nil
}
