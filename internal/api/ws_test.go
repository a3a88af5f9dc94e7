package api

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/require"
)

func dialWS(t *testing.T, server *httptest.Server, token string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws?token=" + token
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "test done") })
	return conn
}

func TestWebSocket_RejectsMissingToken(t *testing.T) {
	srv, _ := testServer(t)
	ts := httptest.NewServer(srv.routes())
	t.Cleanup(ts.Close)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, _, err := websocket.Dial(ctx, url, nil)
	require.Error(t, err)
}

func TestWebSocket_ChatSendPersistsAndBroadcastsBack(t *testing.T) {
	srv, st := testServer(t)
	ts := httptest.NewServer(srv.routes())
	t.Cleanup(ts.Close)

	_, token := registerUser(t, srv)
	conn := dialWS(t, ts, token)

	env := map[string]any{
		"event": "chat:send",
		"data": map[string]any{
			"conversationId": "alice:bob",
			"text":           "hello there",
		},
	}
	payload, err := json.Marshal(env)
	require.NoError(t, err)

	writeCtx, writeCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer writeCancel()
	require.NoError(t, conn.Write(writeCtx, websocket.MessageText, payload))

	// The connection joined the conversation room as part of dispatching
	// chat:send, so the Router's own broadcast of the persisted message
	// arrives back on this same socket.
	readCtx, readCancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer readCancel()
	_, data, err := conn.Read(readCtx)
	require.NoError(t, err)

	var received messageView
	require.NoError(t, json.Unmarshal(data, &received))
	require.Equal(t, "hello there", received.Text)

	msgs := waitForAPIMessage(t, st, "alice:bob", 1)
	require.NotEmpty(t, msgs)
}

func TestWebSocket_MarkReadDoesNotErrorOnEmptyConversation(t *testing.T) {
	srv, _ := testServer(t)
	ts := httptest.NewServer(srv.routes())
	t.Cleanup(ts.Close)

	_, token := registerUser(t, srv)
	conn := dialWS(t, ts, token)

	env := map[string]any{
		"event": "chat:mark-read",
		"data": map[string]any{
			"conversationId": "alice:bob",
		},
	}
	payload, err := json.Marshal(env)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, conn.Write(ctx, websocket.MessageText, payload))

	// The connection must still be usable afterward: a second frame on
	// an unrelated event should round-trip without the server closing.
	pingEnv := map[string]any{"event": "user:typing", "data": map[string]any{"conversationId": "alice:bob", "typing": true}}
	pingPayload, err := json.Marshal(pingEnv)
	require.NoError(t, err)
	require.NoError(t, conn.Write(ctx, websocket.MessageText, pingPayload))
}
