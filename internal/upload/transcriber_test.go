package upload

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPTranscriber_PostsReadURLAndReturnsText(t *testing.T) {
	var gotReq transcribeRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		_ = json.NewEncoder(w).Encode(transcribeResponse{Text: "hello there"})
	}))
	t.Cleanup(server.Close)

	tr := NewHTTPTranscriber(server.URL, fakeObjectStore{})
	text, err := tr.Transcribe(context.Background(), "voice.mp3", "audio/mpeg")
	require.NoError(t, err)
	assert.Equal(t, "hello there", text)
	assert.Equal(t, "https://objects.invalid/read/voice.mp3", gotReq.AudioURL)
	assert.Equal(t, "audio/mpeg", gotReq.MimeType)
}

func TestHTTPTranscriber_NonOKStatusErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(server.Close)

	tr := NewHTTPTranscriber(server.URL, fakeObjectStore{})
	_, err := tr.Transcribe(context.Background(), "voice.mp3", "audio/mpeg")
	require.Error(t, err)
}
