package channel

import (
	"encoding/json"
	"fmt"
	"time"
)

// metaWebhookPayload is the shared envelope shape across WhatsApp Cloud,
// Instagram, and Facebook Messenger webhooks (all three ride on Meta's
// Graph API webhook format).
type metaWebhookPayload struct {
	Entry []struct {
		Changes []struct {
			Value struct {
				Messages []struct {
					From string `json:"from"`
					ID string `json:"id"`
					Timestamp string `json:"timestamp"`
					Type string `json:"type"`
					Text struct {
						Body string `json:"body"`
					} `json:"text"`
					Image struct {
						ID string `json:"id"`
						MimeType string `json:"mime_type"`
					} `json:"image"`
					Audio struct {
						ID string `json:"id"`
						MimeType string `json:"mime_type"`
					} `json:"audio"`
				} `json:"messages"`
				Contacts []struct {
					WaID string `json:"wa_id"`
					Profile struct {
						Name string `json:"name"`
					} `json:"profile"`
				} `json:"contacts"`
			} `json:"value"`
		} `json:"changes"`
	} `json:"entry"`
}

// ParseMetaWebhook normalizes a WhatsApp Cloud / Instagram / Messenger
// webhook body into zero or more InboundMessage values.
func ParseMetaWebhook(kind Kind, body []byte) ([]InboundMessage, error) {
	var payload metaWebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("channel: parsing %s webhook: %w", kind, err)
	}

	var out []InboundMessage
	for _, entry := range payload.Entry {
		for _, change := range entry.Changes {
			names := make(map[string]string)
			for _, c := range change.Value.Contacts {
				names[c.WaID] = c.Profile.Name
			}
			for _, m := range change.Value.Messages {
				msg := InboundMessage{
					Channel: kind,
					ProviderNativeID: m.ID,
					ContactNativeID: m.From,
					ContactDisplayName: names[m.From],
					AtProvider: parseUnixSeconds(m.Timestamp),
				}
				switch m.Type {
				case "text":
					msg.Kind = "text"
					msg.Text = m.Text.Body
				case "image":
					msg.Kind = "image"
					msg.MimeType = m.Image.MimeType
					msg.MediaURL = m.Image.ID
				case "audio":
					msg.Kind = "audio"
					msg.MimeType = m.Audio.MimeType
					msg.MediaURL = m.Audio.ID
				default:
					msg.Kind = "text"
				}
				out = append(out, msg)
			}
		}
	}
	return out, nil
}

func parseUnixSeconds(s string) time.Time {
	var sec int64
	if _, err := fmt.Sscanf(s, "%d", &sec); err != nil || sec == 0 {
		return time.Now()
	}
	return time.Unix(sec, 0)
}
