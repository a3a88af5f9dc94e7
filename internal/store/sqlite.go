// SQLite implementation of the Store interface using modernc.org/sqlite.
// Schema is created automatically on connect; no separate migration tool.

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore opens (creating if needed) a SQLite database at path and
// ensures its schema exists. Pass ":memory:" for an ephemeral, in-process
// database used by tests.
func NewSQLiteStore(path string, logger *slog.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "store")

	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{db: db, logger: logger}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("sqlite store initialized", "path", path)
	return s, nil
}

func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			display_name TEXT NOT NULL,
			email TEXT NOT NULL UNIQUE,
			password_hash TEXT NOT NULL DEFAULT '',
			channel TEXT NOT NULL DEFAULT '',
			channel_native_id TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL
		);

		CREATE UNIQUE INDEX IF NOT EXISTS idx_users_channel_identity
			ON users(channel, channel_native_id) WHERE channel != '';

		CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			author TEXT NOT NULL,
			conversation_id TEXT NOT NULL,
			ts TEXT NOT NULL,
			kind TEXT NOT NULL,
			text TEXT NOT NULL DEFAULT '',
			attachment_bucket TEXT,
			attachment_object_key TEXT,
			attachment_filename TEXT,
			attachment_mime TEXT,
			delivery_status TEXT NOT NULL,
			agent_key TEXT NOT NULL DEFAULT '',
			contact_id TEXT NOT NULL DEFAULT '',
			client_temp_id TEXT NOT NULL DEFAULT '',
			transcription_of TEXT NOT NULL DEFAULT '',

			CHECK (kind IN ('text', 'image', 'audio', 'file')),
			CHECK (delivery_status IN ('pending', 'sent', 'delivered', 'read'))
		);

		CREATE INDEX IF NOT EXISTS idx_messages_conversation_ts
			ON messages(conversation_id, ts);

		CREATE UNIQUE INDEX IF NOT EXISTS idx_messages_conversation_temp
			ON messages(conversation_id, client_temp_id) WHERE client_temp_id != '';

		CREATE TABLE IF NOT EXISTS handover_tickets (
			id TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL,
			customer_name TEXT NOT NULL DEFAULT '',
			customer_email TEXT NOT NULL DEFAULT '',
			customer_phone TEXT NOT NULL DEFAULT '',
			trigger_reason TEXT NOT NULL,
			priority INTEGER NOT NULL,
			status TEXT NOT NULL,
			created_at TEXT NOT NULL,
			accepted_at TEXT,
			resolved_at TEXT,
			assigned_agent TEXT NOT NULL DEFAULT '',
			context_json TEXT NOT NULL DEFAULT '{}',
			resolution_notes TEXT NOT NULL DEFAULT '',
			tags_json TEXT NOT NULL DEFAULT '[]',

			CHECK (status IN ('pending', 'accepted', 'in_progress', 'resolved', 'cancelled'))
		);

		CREATE INDEX IF NOT EXISTS idx_handover_conversation ON handover_tickets(conversation_id);
		CREATE INDEX IF NOT EXISTS idx_handover_status ON handover_tickets(status, priority DESC);

		CREATE TABLE IF NOT EXISTS calendar_commitments (
			id TEXT PRIMARY KEY,
			provider_event_id TEXT NOT NULL DEFAULT '',
			conversation_id TEXT NOT NULL,
			agent_key TEXT NOT NULL,
			customer_email TEXT NOT NULL,
			start_at TEXT NOT NULL,
			end_at TEXT NOT NULL,
			meeting_url TEXT NOT NULL DEFAULT '',
			calendar_url TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			attendees_json TEXT NOT NULL DEFAULT '[]',
			notes TEXT NOT NULL DEFAULT '',
			dedup_key TEXT NOT NULL UNIQUE,
			created_at TEXT NOT NULL,

			CHECK (status IN ('proposed', 'confirmed', 'cancelled'))
		);

		CREATE INDEX IF NOT EXISTS idx_calendar_conversation ON calendar_commitments(conversation_id);

		CREATE TABLE IF NOT EXISTS custom_agents (
			key TEXT PRIMARY KEY,
			display_name TEXT NOT NULL,
			emoji TEXT NOT NULL DEFAULT '',
			system_prompt TEXT NOT NULL,
			allowed_tools_json TEXT NOT NULL DEFAULT '[]',
			credential_handle TEXT NOT NULL DEFAULT '',
			provider_account_label TEXT NOT NULL DEFAULT '',
			auto_commit INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS pending_uploads (
			object_key TEXT PRIMARY KEY,
			expected_mime_type TEXT NOT NULL,
			expected_max_size INTEGER NOT NULL,
			issuer_user_id TEXT NOT NULL,
			issued_at TEXT NOT NULL,
			expires_at TEXT NOT NULL,
			consumed INTEGER NOT NULL DEFAULT 0
		);

		CREATE TABLE IF NOT EXISTS interaction_log (
			id TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL,
			direction TEXT NOT NULL,
			agent_key TEXT NOT NULL DEFAULT '',
			intent TEXT NOT NULL DEFAULT '',
			confidence REAL NOT NULL DEFAULT 0,
			method TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_interaction_conversation ON interaction_log(conversation_id, created_at);
	`
	for _, stmt := range strings.Split(schema, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("executing schema statement: %w", err)
		}
	}
	return nil
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

const timeLayout = time.RFC3339Nano

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}

func nullableTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseNullableTime(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid {
		return nil, nil
	}
	t, err := parseTime(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// --- Users ---

func (s *SQLiteStore) CreateUser(ctx context.Context, user *User) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, display_name, email, password_hash, channel, channel_native_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		user.ID, user.DisplayName, strings.ToLower(user.Email), user.PasswordHash,
		user.Channel, user.ChannelNativeID, formatTime(user.CreatedAt))
	if err != nil {
		return fmt.Errorf("creating user: %w", err)
	}
	return nil
}

func (s *SQLiteStore) scanUser(row interface{ Scan(...any) error }) (*User, error) {
	var u User
	var createdAt string
	if err := row.Scan(&u.ID, &u.DisplayName, &u.Email, &u.PasswordHash, &u.Channel, &u.ChannelNativeID, &createdAt); err != nil {
		return nil, err
	}
	t, err := parseTime(createdAt)
	if err != nil {
		return nil, err
	}
	u.CreatedAt = t
	return &u, nil
}

func (s *SQLiteStore) GetUser(ctx context.Context, id string) (*User, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, display_name, email, password_hash, channel, channel_native_id, created_at
		FROM users WHERE id = ?`, id)
	u, err := s.scanUser(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting user: %w", err)
	}
	return u, nil
}

func (s *SQLiteStore) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, display_name, email, password_hash, channel, channel_native_id, created_at
		FROM users WHERE email = ?`, strings.ToLower(email))
	u, err := s.scanUser(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting user by email: %w", err)
	}
	return u, nil
}

func (s *SQLiteStore) GetUserByChannelIdentity(ctx context.Context, channel, nativeID string) (*User, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, display_name, email, password_hash, channel, channel_native_id, created_at
		FROM users WHERE channel = ? AND channel_native_id = ?`, channel, nativeID)
	u, err := s.scanUser(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting user by channel identity: %w", err)
	}
	return u, nil
}

func (s *SQLiteStore) UserExists(ctx context.Context, id string) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM users WHERE id = ?`, id).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("checking user existence: %w", err)
	}
	return count > 0, nil
}

// --- Messages ---

func (s *SQLiteStore) AppendMessage(ctx context.Context, msg *Message) (*Message, error) {
	if msg.Kind == MessageKindText && msg.Text == "" {
		return nil, fmt.Errorf("%w: text message requires non-empty text", ErrInvalid)
	}
	if msg.Kind != MessageKindText && msg.Attachment == nil {
		return nil, fmt.Errorf("%w: attachment message requires an attachment reference", ErrInvalid)
	}

	if msg.ClientTempID != "" {
		if existing, err := s.GetMessageByClientTempID(ctx, msg.ConversationID, msg.ClientTempID); err == nil {
			return existing, nil
		} else if err != ErrNotFound {
			return nil, err
		}
	}

	if msg.DeliveryStatus == "" {
		msg.DeliveryStatus = DeliveryPending
	}

	var bucket, objectKey, filename, mime sql.NullString
	if msg.Attachment != nil {
		bucket = sql.NullString{String: msg.Attachment.Bucket, Valid: true}
		objectKey = sql.NullString{String: msg.Attachment.ObjectKey, Valid: true}
		filename = sql.NullString{String: msg.Attachment.OriginalFilename, Valid: true}
		mime = sql.NullString{String: msg.Attachment.MimeType, Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (id, author, conversation_id, ts, kind, text,
			attachment_bucket, attachment_object_key, attachment_filename, attachment_mime,
			delivery_status, agent_key, contact_id, client_temp_id, transcription_of)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.Author, msg.ConversationID, formatTime(msg.Timestamp), msg.Kind, msg.Text,
		bucket, objectKey, filename, mime,
		msg.DeliveryStatus, msg.AgentKey, msg.ContactID, msg.ClientTempID, msg.TranscriptionOf)
	if err != nil {
		return nil, fmt.Errorf("appending message: %w", err)
	}
	return msg, nil
}

func (s *SQLiteStore) scanMessage(row interface{ Scan(...any) error }) (*Message, error) {
	var m Message
	var ts string
	var bucket, objectKey, filename, mime sql.NullString
	err := row.Scan(&m.ID, &m.Author, &m.ConversationID, &ts, &m.Kind, &m.Text,
		&bucket, &objectKey, &filename, &mime,
		&m.DeliveryStatus, &m.AgentKey, &m.ContactID, &m.ClientTempID, &m.TranscriptionOf)
	if err != nil {
		return nil, err
	}
	t, err := parseTime(ts)
	if err != nil {
		return nil, err
	}
	m.Timestamp = t
	if objectKey.Valid {
		m.Attachment = &Attachment{
			Bucket: bucket.String,
			ObjectKey: objectKey.String,
			OriginalFilename: filename.String,
			MimeType: mime.String,
		}
	}
	return &m, nil
}

const messageColumns = `id, author, conversation_id, ts, kind, text,
	attachment_bucket, attachment_object_key, attachment_filename, attachment_mime,
	delivery_status, agent_key, contact_id, client_temp_id, transcription_of`

func (s *SQLiteStore) GetMessageByClientTempID(ctx context.Context, conversationID, clientTempID string) (*Message, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+messageColumns+`
		FROM messages WHERE conversation_id = ? AND client_temp_id = ?`, conversationID, clientTempID)
	m, err := s.scanMessage(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting message by temp id: %w", err)
	}
	return m, nil
}

// GetConversationMessages returns a reverse-chronological page, restartable
// by passing before = oldest.id of the previous page.
func (s *SQLiteStore) GetConversationMessages(ctx context.Context, conversationID string, before string, limit int) ([]Message, error) {
	if limit <= 0 || limit > 200 {
		limit = 200
	}

	var rows *sql.Rows
	var err error
	if before != "" {
		rows, err = s.db.QueryContext(ctx, `SELECT `+messageColumns+`
			FROM messages
			WHERE conversation_id = ? AND ts < (SELECT ts FROM messages WHERE id = ?)
			ORDER BY ts DESC LIMIT ?`, conversationID, before, limit)
	} else {
		rows, err = s.db.QueryContext(ctx, `SELECT `+messageColumns+`
			FROM messages WHERE conversation_id = ? ORDER BY ts DESC LIMIT ?`, conversationID, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("listing conversation messages: %w", err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		m, err := s.scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) GetGlobalRecentMessages(ctx context.Context, limit int) ([]Message, error) {
	if limit <= 0 || limit > 200 {
		limit = 200
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+messageColumns+`
		FROM messages ORDER BY ts DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing global messages: %w", err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		m, err := s.scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}

// TransitionMessageStatus: a downgrade is a no-op, not an error.
// A missing message is silently ignored but logged.
func (s *SQLiteStore) TransitionMessageStatus(ctx context.Context, messageID, newStatus string) error {
	var current string
	err := s.db.QueryRowContext(ctx, `SELECT delivery_status FROM messages WHERE id = ?`, messageID).Scan(&current)
	if err == sql.ErrNoRows {
		s.logger.Warn("transition on missing message", "message_id", messageID, "new_status", newStatus)
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading message status: %w", err)
	}
	if !DeliveryAdvances(current, newStatus) {
		return nil
	}
	_, err = s.db.ExecContext(ctx, `UPDATE messages SET delivery_status = ? WHERE id = ?`, newStatus, messageID)
	if err != nil {
		return fmt.Errorf("updating message status: %w", err)
	}
	return nil
}

// MarkConversationRead transitions every message authored by someone other
// than readerUserID, not yet read, up to asOf, to read, and returns the ids
// of the messages it advanced. Idempotent.
func (s *SQLiteStore) MarkConversationRead(ctx context.Context, conversationID, readerUserID string, asOf time.Time) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id FROM messages
		WHERE conversation_id = ? AND author != ? AND delivery_status != ? AND ts <= ?`,
		conversationID, readerUserID, DeliveryRead, formatTime(asOf))
	if err != nil {
		return nil, fmt.Errorf("selecting unread messages: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scanning unread message id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	rows.Close()
	if len(ids) == 0 {
		return nil, nil
	}

	placeholders := make([]string, len(ids))
	args := make([]any, 0, len(ids)+1)
	args = append(args, DeliveryRead)
	for i, id := range ids {
		placeholders[i] = "?"
		args = append(args, id)
	}
	query := fmt.Sprintf(`UPDATE messages SET delivery_status = ? WHERE id IN (%s)`, strings.Join(placeholders, ", "))
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return nil, fmt.Errorf("marking conversation read: %w", err)
	}
	return ids, nil
}

// RecentPerPeer returns, for each peer the user has exchanged messages
// with, the most recent message and the count of unread peer-authored
// messages.
func (s *SQLiteStore) RecentPerPeer(ctx context.Context, userID string) ([]RecentPeerSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT conversation_id, MAX(ts) AS last_ts
		FROM messages
		WHERE conversation_id LIKE ? OR conversation_id LIKE ?
		GROUP BY conversation_id`,
		userID+":%", "%:"+userID)
	if err != nil {
		return nil, fmt.Errorf("listing conversations for user: %w", err)
	}
	var conversationIDs []string
	for rows.Next() {
		var convID, lastTS string
		if err := rows.Scan(&convID, &lastTS); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scanning conversation row: %w", err)
		}
		conversationIDs = append(conversationIDs, convID)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var out []RecentPeerSummary
	for _, convID := range conversationIDs {
		peer := peerFromConversationID(convID, userID)

		row := s.db.QueryRowContext(ctx, `SELECT `+messageColumns+`
			FROM messages WHERE conversation_id = ? ORDER BY ts DESC LIMIT 1`, convID)
		last, err := s.scanMessage(row)
		if err != nil {
			return nil, fmt.Errorf("scanning last message: %w", err)
		}

		var unread int
		err = s.db.QueryRowContext(ctx, `
			SELECT COUNT(1) FROM messages
			WHERE conversation_id = ? AND author = ? AND delivery_status != ?`,
			convID, peer, DeliveryRead).Scan(&unread)
		if err != nil {
			return nil, fmt.Errorf("counting unread: %w", err)
		}

		out = append(out, RecentPeerSummary{PeerUserID: peer, LastMessage: *last, UnreadCount: unread})
	}
	return out, nil
}

func peerFromConversationID(conversationID, userID string) string {
	parts := strings.SplitN(conversationID, ":", 2)
	if len(parts) != 2 {
		return ""
	}
	if parts[0] == userID {
		return parts[1]
	}
	return parts[0]
}

// --- Handover Queue ---

func (s *SQLiteStore) CreateHandoverTicket(ctx context.Context, ticket *HandoverTicket) error {
	contextJSON, err := json.Marshal(ticket.ConversationContext)
	if err != nil {
		return fmt.Errorf("marshaling conversation context: %w", err)
	}
	tagsJSON, err := json.Marshal(ticket.Tags)
	if err != nil {
		return fmt.Errorf("marshaling tags: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO handover_tickets (id, conversation_id, customer_name, customer_email, customer_phone,
			trigger_reason, priority, status, created_at, accepted_at, resolved_at, assigned_agent,
			context_json, resolution_notes, tags_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ticket.ID, ticket.ConversationID, ticket.Customer.Name, ticket.Customer.Email, ticket.Customer.Phone,
		ticket.TriggerReason, ticket.Priority, ticket.Status, formatTime(ticket.CreatedAt),
		nullableTime(ticket.AcceptedAt), nullableTime(ticket.ResolvedAt), ticket.AssignedAgent,
		string(contextJSON), ticket.ResolutionNotes, string(tagsJSON))
	if err != nil {
		return fmt.Errorf("creating handover ticket: %w", err)
	}
	return nil
}

func (s *SQLiteStore) scanHandoverTicket(row interface{ Scan(...any) error }) (*HandoverTicket, error) {
	var t HandoverTicket
	var createdAt string
	var acceptedAt, resolvedAt sql.NullString
	var contextJSON, tagsJSON string

	err := row.Scan(&t.ID, &t.ConversationID, &t.Customer.Name, &t.Customer.Email, &t.Customer.Phone,
		&t.TriggerReason, &t.Priority, &t.Status, &createdAt, &acceptedAt, &resolvedAt, &t.AssignedAgent,
		&contextJSON, &t.ResolutionNotes, &tagsJSON)
	if err != nil {
		return nil, err
	}

	if t.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if t.AcceptedAt, err = parseNullableTime(acceptedAt); err != nil {
		return nil, err
	}
	if t.ResolvedAt, err = parseNullableTime(resolvedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(contextJSON), &t.ConversationContext); err != nil {
		return nil, fmt.Errorf("unmarshaling conversation context: %w", err)
	}
	if err := json.Unmarshal([]byte(tagsJSON), &t.Tags); err != nil {
		return nil, fmt.Errorf("unmarshaling tags: %w", err)
	}
	return &t, nil
}

const handoverColumns = `id, conversation_id, customer_name, customer_email, customer_phone,
	trigger_reason, priority, status, created_at, accepted_at, resolved_at, assigned_agent,
	context_json, resolution_notes, tags_json`

func (s *SQLiteStore) GetHandoverTicket(ctx context.Context, id string) (*HandoverTicket, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+handoverColumns+` FROM handover_tickets WHERE id = ?`, id)
	t, err := s.scanHandoverTicket(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting handover ticket: %w", err)
	}
	return t, nil
}

// GetOpenHandoverTicketForConversation returns the pending, accepted or
// in-progress ticket for a conversation, if any. Used by the Router to decide whether
// to suppress bot dispatch.
func (s *SQLiteStore) GetOpenHandoverTicketForConversation(ctx context.Context, conversationID string) (*HandoverTicket, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+handoverColumns+`
		FROM handover_tickets
		WHERE conversation_id = ? AND status IN (?, ?, ?)
		ORDER BY created_at DESC LIMIT 1`,
		conversationID, HandoverStatusPending, HandoverStatusAccepted, HandoverStatusInProgress)
	t, err := s.scanHandoverTicket(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting open handover ticket: %w", err)
	}
	return t, nil
}

func (s *SQLiteStore) ListHandoverTickets(ctx context.Context, filter HandoverFilter) ([]HandoverTicket, error) {
	query := `SELECT ` + handoverColumns + ` FROM handover_tickets WHERE 1=1`
	var args []any
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, filter.Status)
	}
	if filter.Priority != 0 {
		query += ` AND priority = ?`
		args = append(args, filter.Priority)
	}
	query += ` ORDER BY priority DESC, created_at ASC`
	limit := filter.Limit
	if limit <= 0 || limit > 500 {
		limit = 500
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing handover tickets: %w", err)
	}
	defer rows.Close()

	var out []HandoverTicket
	for rows.Next() {
		t, err := s.scanHandoverTicket(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning handover ticket: %w", err)
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

// AcceptHandoverTicket is a compare-and-swap: pending -> accepted iff the
// current status is pending, otherwise ErrConflict.
func (s *SQLiteStore) AcceptHandoverTicket(ctx context.Context, id, humanUserID string, now time.Time) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE handover_tickets SET status = ?, accepted_at = ?, assigned_agent = ?
		WHERE id = ? AND status = ?`,
		HandoverStatusAccepted, formatTime(now), humanUserID, id, HandoverStatusPending)
	if err != nil {
		return fmt.Errorf("accepting handover ticket: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("reading affected rows: %w", err)
	}
	if affected == 0 {
		if _, err := s.GetHandoverTicket(ctx, id); err != nil {
			return err
		}
		return ErrConflict
	}
	return nil
}

func (s *SQLiteStore) TransitionHandoverStatus(ctx context.Context, id, newStatus string, now time.Time) error {
	_, err := s.db.ExecContext(ctx, `UPDATE handover_tickets SET status = ? WHERE id = ?`, newStatus, id)
	if err != nil {
		return fmt.Errorf("transitioning handover status: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ResolveHandoverTicket(ctx context.Context, id, resolutionNotes string, now time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE handover_tickets SET status = ?, resolved_at = ?, resolution_notes = ? WHERE id = ?`,
		HandoverStatusResolved, formatTime(now), resolutionNotes, id)
	if err != nil {
		return fmt.Errorf("resolving handover ticket: %w", err)
	}
	return nil
}

// --- Scheduling Sub-Protocol ---

// CreateCalendarCommitment inserts a commitment row. A duplicate dedup_key
// is the crash-recovery collision case and surfaces as ErrConflict.
func (s *SQLiteStore) CreateCalendarCommitment(ctx context.Context, c *CalendarCommitment) error {
	attendeesJSON, err := json.Marshal(c.Attendees)
	if err != nil {
		return fmt.Errorf("marshaling attendees: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO calendar_commitments (id, provider_event_id, conversation_id, agent_key, customer_email,
			start_at, end_at, meeting_url, calendar_url, status, attendees_json, notes, dedup_key, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.ProviderEventID, c.ConversationID, c.AgentKey, c.CustomerEmail,
		formatTime(c.Start), formatTime(c.End), c.MeetingURL, c.CalendarURL, c.Status,
		string(attendeesJSON), c.Notes, c.DedupKey, formatTime(c.CreatedAt))
	if err != nil {
		if isUniqueConstraintErr(err) {
			return ErrConflict
		}
		return fmt.Errorf("creating calendar commitment: %w", err)
	}
	return nil
}

func (s *SQLiteStore) scanCalendarCommitment(row interface{ Scan(...any) error }) (*CalendarCommitment, error) {
	var c CalendarCommitment
	var start, end, createdAt, attendeesJSON string
	err := row.Scan(&c.ID, &c.ProviderEventID, &c.ConversationID, &c.AgentKey, &c.CustomerEmail,
		&start, &end, &c.MeetingURL, &c.CalendarURL, &c.Status, &attendeesJSON, &c.Notes, &c.DedupKey, &createdAt)
	if err != nil {
		return nil, err
	}
	if c.Start, err = parseTime(start); err != nil {
		return nil, err
	}
	if c.End, err = parseTime(end); err != nil {
		return nil, err
	}
	if c.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(attendeesJSON), &c.Attendees); err != nil {
		return nil, fmt.Errorf("unmarshaling attendees: %w", err)
	}
	return &c, nil
}

const calendarColumns = `id, provider_event_id, conversation_id, agent_key, customer_email,
	start_at, end_at, meeting_url, calendar_url, status, attendees_json, notes, dedup_key, created_at`

// GetCalendarCommitment looks up a commitment by its own id.
func (s *SQLiteStore) GetCalendarCommitment(ctx context.Context, id string) (*CalendarCommitment, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+calendarColumns+` FROM calendar_commitments WHERE id = ?`, id)
	c, err := s.scanCalendarCommitment(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting calendar commitment: %w", err)
	}
	return c, nil
}

// GetCalendarCommitmentByDedupKey is the crash-recovery lookup: before
// retrying a commit, check whether a prior attempt already succeeded
// under this dedup key.
func (s *SQLiteStore) GetCalendarCommitmentByDedupKey(ctx context.Context, dedupKey string) (*CalendarCommitment, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+calendarColumns+` FROM calendar_commitments WHERE dedup_key = ?`, dedupKey)
	c, err := s.scanCalendarCommitment(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting calendar commitment: %w", err)
	}
	return c, nil
}

// ListCalendarCommitments returns commitments matching filter, most recent first.
func (s *SQLiteStore) ListCalendarCommitments(ctx context.Context, filter CalendarFilter) ([]CalendarCommitment, error) {
	query := `SELECT ` + calendarColumns + ` FROM calendar_commitments WHERE 1=1`
	var args []any
	if filter.ConversationID != "" {
		query += ` AND conversation_id = ?`
		args = append(args, filter.ConversationID)
	}
	if filter.AgentKey != "" {
		query += ` AND agent_key = ?`
		args = append(args, filter.AgentKey)
	}
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, filter.Status)
	}
	query += ` ORDER BY created_at DESC`
	limit := filter.Limit
	if limit <= 0 || limit > 500 {
		limit = 500
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing calendar commitments: %w", err)
	}
	defer rows.Close()

	var out []CalendarCommitment
	for rows.Next() {
		c, err := s.scanCalendarCommitment(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning calendar commitment: %w", err)
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) UpdateCalendarCommitmentStatus(ctx context.Context, id, status string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE calendar_commitments SET status = ? WHERE id = ?`, status, id)
	if err != nil {
		return fmt.Errorf("updating calendar commitment status: %w", err)
	}
	return nil
}

// --- Custom Agents ---

func (s *SQLiteStore) CreateCustomAgent(ctx context.Context, agent *CustomAgent) error {
	toolsJSON, err := json.Marshal(agent.AllowedTools)
	if err != nil {
		return fmt.Errorf("marshaling allowed tools: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO custom_agents (key, display_name, emoji, system_prompt, allowed_tools_json,
			credential_handle, provider_account_label, auto_commit, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		agent.Key, agent.DisplayName, agent.Emoji, agent.SystemPrompt, string(toolsJSON),
		agent.CredentialHandle, agent.ProviderAccountLabel, agent.AutoCommit,
		formatTime(agent.CreatedAt), formatTime(agent.UpdatedAt))
	if err != nil {
		return fmt.Errorf("creating custom agent: %w", err)
	}
	return nil
}

func (s *SQLiteStore) scanCustomAgent(row interface{ Scan(...any) error }) (*CustomAgent, error) {
	var a CustomAgent
	var toolsJSON, createdAt, updatedAt string
	err := row.Scan(&a.Key, &a.DisplayName, &a.Emoji, &a.SystemPrompt, &toolsJSON,
		&a.CredentialHandle, &a.ProviderAccountLabel, &a.AutoCommit, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(toolsJSON), &a.AllowedTools); err != nil {
		return nil, fmt.Errorf("unmarshaling allowed tools: %w", err)
	}
	if a.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if a.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &a, nil
}

const customAgentColumns = `key, display_name, emoji, system_prompt, allowed_tools_json,
	credential_handle, provider_account_label, auto_commit, created_at, updated_at`

func (s *SQLiteStore) GetCustomAgent(ctx context.Context, key string) (*CustomAgent, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+customAgentColumns+` FROM custom_agents WHERE key = ?`, key)
	a, err := s.scanCustomAgent(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting custom agent: %w", err)
	}
	return a, nil
}

func (s *SQLiteStore) ListCustomAgents(ctx context.Context) ([]CustomAgent, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+customAgentColumns+` FROM custom_agents ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("listing custom agents: %w", err)
	}
	defer rows.Close()

	var out []CustomAgent
	for rows.Next() {
		a, err := s.scanCustomAgent(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning custom agent: %w", err)
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) DeleteCustomAgent(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM custom_agents WHERE key = ?`, key)
	if err != nil {
		return fmt.Errorf("deleting custom agent: %w", err)
	}
	return nil
}

// --- Upload Broker ---

func (s *SQLiteStore) CreatePendingUpload(ctx context.Context, upload *PendingUpload) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO pending_uploads (object_key, expected_mime_type, expected_max_size, issuer_user_id,
			issued_at, expires_at, consumed)
		VALUES (?, ?, ?, ?, ?, ?, 0)`,
		upload.ObjectKey, upload.ExpectedMimeType, upload.ExpectedMaxSize, upload.IssuerUserID,
		formatTime(upload.IssuedAt), formatTime(upload.ExpiresAt))
	if err != nil {
		return fmt.Errorf("creating pending upload: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetPendingUpload(ctx context.Context, objectKey string) (*PendingUpload, error) {
	var u PendingUpload
	var issuedAt, expiresAt string
	err := s.db.QueryRowContext(ctx, `
		SELECT object_key, expected_mime_type, expected_max_size, issuer_user_id, issued_at, expires_at, consumed
		FROM pending_uploads WHERE object_key = ?`, objectKey).
		Scan(&u.ObjectKey, &u.ExpectedMimeType, &u.ExpectedMaxSize, &u.IssuerUserID, &issuedAt, &expiresAt, &u.Consumed)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting pending upload: %w", err)
	}
	if u.IssuedAt, err = parseTime(issuedAt); err != nil {
		return nil, err
	}
	if u.ExpiresAt, err = parseTime(expiresAt); err != nil {
		return nil, err
	}
	return &u, nil
}

// ConsumePendingUpload is the confirm step's commit point: a compare-and-set
// on the consumed flag, ensuring single materialization.
func (s *SQLiteStore) ConsumePendingUpload(ctx context.Context, objectKey string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE pending_uploads SET consumed = 1 WHERE object_key = ? AND consumed = 0`, objectKey)
	if err != nil {
		return fmt.Errorf("consuming pending upload: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("reading affected rows: %w", err)
	}
	if affected == 0 {
		if _, err := s.GetPendingUpload(ctx, objectKey); err != nil {
			return err
		}
		return ErrConflict
	}
	return nil
}

// --- Interaction log ---

func (s *SQLiteStore) AppendInteractionLog(ctx context.Context, entry *InteractionLog) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO interaction_log (id, conversation_id, direction, agent_key, intent, confidence, method, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.ConversationID, entry.Direction, entry.AgentKey, entry.Intent, entry.Confidence,
		entry.Method, formatTime(entry.CreatedAt))
	if err != nil {
		return fmt.Errorf("appending interaction log: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListInteractionLog(ctx context.Context, conversationID string, limit int) ([]InteractionLog, error) {
	if limit <= 0 || limit > 500 {
		limit = 500
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, conversation_id, direction, agent_key, intent, confidence, method, created_at
		FROM interaction_log WHERE conversation_id = ? ORDER BY created_at DESC LIMIT ?`, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("listing interaction log: %w", err)
	}
	defer rows.Close()

	var out []InteractionLog
	for rows.Next() {
		var e InteractionLog
		var createdAt string
		if err := rows.Scan(&e.ID, &e.ConversationID, &e.Direction, &e.AgentKey, &e.Intent, &e.Confidence, &e.Method, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning interaction log: %w", err)
		}
		if e.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func isUniqueConstraintErr(err error) bool {
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
