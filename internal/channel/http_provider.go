package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// HTTPProvider is a generic send adapter for the Graph-API-style
// providers (WhatsApp Cloud, Instagram, Facebook Messenger): one POST per
// send, bearer-token auth, JSON body, provider message id read back from
// the response.
type HTTPProvider struct {
	kind Kind
	sendEndpoint string
	accessToken string
	client *http.Client
}

// NewHTTPProvider builds a Graph-API-style provider.
func NewHTTPProvider(kind Kind, sendEndpoint, accessToken string) *HTTPProvider {
	return &HTTPProvider{
		kind: kind,
		sendEndpoint: sendEndpoint,
		accessToken: accessToken,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

func (p *HTTPProvider) Kind() Kind { return p.kind }
type graphSendRequest struct {
	MessagingProduct string `json:"messaging_product,omitempty"`
	To string `json:"to"`
	Type string `json:"type"`
	Text *graphText `json:"text,omitempty"`
	MediaURL string `json:"media_url,omitempty"`
}

type graphText struct {
	Body string `json:"body"`
}

type graphSendResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
	MessageID string `json:"message_id"`
}

func (p *HTTPProvider) Send(ctx context.Context, msg OutboundMessage) (string, error) {
	payload := graphSendRequest{
		MessagingProduct: "whatsapp",
		To: msg.RecipientNativeID,
		Type: "text",
	}
	if msg.MediaURL != "" {
		payload.Type = "image"
		payload.MediaURL = msg.MediaURL
	} else {
		payload.Text = &graphText{Body: msg.Text}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshaling send payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.sendEndpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("building send request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.accessToken)

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("calling %s send endpoint: %w", p.kind, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("%s send endpoint returned status %d", p.kind, resp.StatusCode)
	}

	var out graphSendResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decoding send response: %w", err)
	}
	if len(out.Messages) > 0 && out.Messages[0].ID != "" {
		return out.Messages[0].ID, nil
	}
	return out.MessageID, nil
}

// DeviceSessionProvider adapts the WhatsApp device-session variant:
// a QR-paired browser session rather than a Graph API token, talking to a
// session-keyed status/QR/send-text HTTP API.
type DeviceSessionProvider struct {
	baseURL string
	sessionID string
	client *http.Client
}

// NewDeviceSessionProvider builds a provider bound to one device session.
func NewDeviceSessionProvider(baseURL, sessionID string) *DeviceSessionProvider {
	if sessionID == "" {
		sessionID = "default"
	}
	return &DeviceSessionProvider{baseURL: baseURL, sessionID: sessionID, client: &http.Client{Timeout: 10 * time.Second}}
}

func (p *DeviceSessionProvider) Kind() Kind { return KindWhatsAppDeviceSess }

// SessionStatus reports the device session's pairing state.
type SessionStatus struct {
	Status string `json:"status"`
	Description string `json:"description"`
}

// QRCode carries the pairing QR code for a device session awaiting scan.
type QRCode struct {
	QRCode string `json:"qr_code"`
	Status string `json:"status"`
	Description string `json:"description"`
}

// Status fetches the current pairing status for this session.
func (p *DeviceSessionProvider) Status(ctx context.Context) (SessionStatus, error) {
	var out SessionStatus
	if err := p.getJSON(ctx, fmt.Sprintf("%s/wpp/status?session=%s", p.baseURL, p.sessionID), &out); err != nil {
		return SessionStatus{}, err
	}
	return out, nil
}

// QR fetches the current QR code needed to pair a new device session.
func (p *DeviceSessionProvider) QR(ctx context.Context) (QRCode, error) {
	var out QRCode
	if err := p.getJSON(ctx, fmt.Sprintf("%s/wpp/qr?session=%s", p.baseURL, p.sessionID), &out); err != nil {
		return QRCode{}, err
	}
	return out, nil
}

func (p *DeviceSessionProvider) getJSON(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("calling device-session endpoint: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("device-session endpoint returned status %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (p *DeviceSessionProvider) Send(ctx context.Context, msg OutboundMessage) (string, error) {
	payload := map[string]string{
		"session": p.sessionID,
		"phone": msg.RecipientNativeID,
		"text": msg.Text,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshaling send payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/wpp/send-text", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("building send request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrSendFailed, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("%w: status %d", ErrSendFailed, resp.StatusCode)
	}

	var out struct {
		MessageID string `json:"message_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decoding send response: %w", err)
	}
	return out.MessageID, nil
}
