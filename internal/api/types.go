// JSON request/response shapes for the HTTP surface. Kept separate from
// the handlers so the wire contract is visible in one place.
package api

import "time"

type registerRequest struct {
	DisplayName string `json:"displayName"`
	Email string `json:"email"`
	Password string `json:"password"`
}

type loginRequest struct {
	Email string `json:"email"`
	Password string `json:"password"`
}

type credentialResponse struct {
	Token string `json:"token"`
	UserID string `json:"userId"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type attachmentView struct {
	Bucket string `json:"bucket"`
	ObjectKey string `json:"objectKey"`
	OriginalFilename string `json:"originalFilename"`
	MimeType string `json:"mimeType"`
}

type messageView struct {
	ID string `json:"id"`
	Author string `json:"author"`
	ConversationID string `json:"conversationId"`
	Timestamp time.Time `json:"timestamp"`
	Kind string `json:"kind"`
	Text string `json:"text,omitempty"`
	Attachment *attachmentView `json:"attachment,omitempty"`
	DeliveryStatus string `json:"status"`
	AgentKey string `json:"agentKey,omitempty"`
}

type contactView struct {
	PeerUserID string `json:"peerUserId"`
	LastMessage messageView `json:"lastMessage"`
	UnreadCount int `json:"unreadCount"`
}

type sendMessageRequest struct {
	Author string `json:"author"`
	Text string `json:"text,omitempty"`
	Type string `json:"type,omitempty"`
	TempID string `json:"tempId"`
	ContactID string `json:"contactId,omitempty"`
	Attachment *attachmentView `json:"attachment,omitempty"`
}

type markReadRequest struct {
	AsOf *time.Time `json:"asOf,omitempty"`
}

type uploadGrantRequest struct {
	Filename string `json:"filename"`
	MimeType string `json:"mimetype"`
	Size int64 `json:"size"`
}

type uploadGrantResponse struct {
	Key string `json:"key"`
	PutURL string `json:"putUrl"`
}

type uploadConfirmRequest struct {
	Key string `json:"key"`
	Filename string `json:"filename"`
	MimeType string `json:"mimetype"`
	Author string `json:"author"`
	ConversationContext string `json:"conversationContext"`
}

type customBotRequest struct {
	Key string `json:"key"`
	DisplayName string `json:"displayName"`
	Emoji string `json:"emoji"`
	SystemPrompt string `json:"systemPrompt"`
	AllowedTools []string `json:"allowedTools"`
	CredentialHandle string `json:"credentialHandle"`
	ProviderAccountLabel string `json:"providerAccountLabel"`
	AutoCommit bool `json:"autoCommit"`
}

type customBotView struct {
	Key string `json:"key"`
	DisplayName string `json:"displayName"`
	Emoji string `json:"emoji"`
	SystemPrompt string `json:"systemPrompt"`
	AllowedTools []string `json:"allowedTools"`
	ProviderAccountLabel string `json:"providerAccountLabel"`
	AutoCommit bool `json:"autoCommit"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type nluAnalyzeRequest struct {
	Text string `json:"text"`
	Speaker string `json:"speaker"`
}

type nluAnalyzeResponse struct {
	Intent string `json:"intent"`
	Confidence float64 `json:"confidence"`
	Method string `json:"method"`
	Entities map[string]string `json:"entities"`
}

type handoverOpenRequest struct {
	ConversationID string `json:"conversationId"`
	Reasons []string `json:"reasons"`
}

type handoverView struct {
	ID string `json:"id"`
	ConversationID string `json:"conversationId"`
	Customer customerView `json:"customer"`
	TriggerReason string `json:"triggerReason"`
	Priority int `json:"priority"`
	Status string `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
	AcceptedAt *time.Time `json:"acceptedAt,omitempty"`
	ResolvedAt *time.Time `json:"resolvedAt,omitempty"`
	AssignedAgent string `json:"assignedAgent,omitempty"`
	ResolutionNotesHTML string `json:"resolutionNotesHtml,omitempty"`
	Tags []string `json:"tags,omitempty"`
}

type customerView struct {
	Name string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
	Phone string `json:"phone,omitempty"`
}

type resolveHandoverRequest struct {
	ResolutionNotes string `json:"resolutionNotes"`
}

type handoverStatsResponse struct {
	Total int `json:"total"`
	Pending int `json:"pending"`
	Accepted int `json:"accepted"`
	InProgress int `json:"inProgress"`
	Resolved int `json:"resolved"`
	AvgResolutionMinutes float64 `json:"avgResolutionMinutes"`
}

type slotView struct {
	Start time.Time `json:"start"`
	End time.Time `json:"end"`
}

type calendarEventRequest struct {
	ConversationID string `json:"conversationId"`
	AgentKey string `json:"agentKey"`
	CustomerEmail string `json:"customerEmail"`
	Start time.Time `json:"start"`
	DurationMinutes int `json:"durationMinutes"`
	Attendees []string `json:"attendees"`
	Notes string `json:"notes"`
}

type calendarEventView struct {
	ID string `json:"id"`
	ConversationID string `json:"conversationId"`
	AgentKey string `json:"agentKey"`
	CustomerEmail string `json:"customerEmail"`
	Start time.Time `json:"start"`
	End time.Time `json:"end"`
	MeetingURL string `json:"meetingUrl,omitempty"`
	CalendarURL string `json:"calendarUrl,omitempty"`
	Status string `json:"status"`
	Attendees []string `json:"attendees,omitempty"`
	Notes string `json:"notes,omitempty"`
}

type omniSendRequest struct {
	Channel string `json:"channel"`
	Recipient string `json:"recipient"`
	Text string `json:"text"`
	Session string `json:"session,omitempty"`
}

type omniSendResponse struct {
	ProviderMessageID string `json:"providerMessageId"`
}
