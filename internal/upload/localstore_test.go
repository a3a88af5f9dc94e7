package upload

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestLocalStore(t *testing.T) *LocalObjectStore {
	t.Helper()
	dir := t.TempDir()
	s, err := NewLocalObjectStore(dir, "http://localhost/objects", "test-secret")
	require.NoError(t, err)
	return s
}

func TestLocalObjectStore_WriteThenRead(t *testing.T) {
	s := newTestLocalStore(t)
	srv := httptest.NewServer(http.HandlerFunc(s.ServeHTTP))
	defer srv.Close()

	writeURL, err := s.PresignWrite(context.Background(), "messages/2026/01/01/abc.png", "image/png", time.Minute)
	require.NoError(t, err)

	req := requestAgainst(t, srv.URL, writeURL, http.MethodPut, strings.NewReader("hello"))
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	readURL, err := s.PresignRead(context.Background(), "messages/2026/01/01/abc.png", time.Minute)
	require.NoError(t, err)

	req = requestAgainst(t, srv.URL, readURL, http.MethodGet, nil)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestLocalObjectStore_RejectsTamperedSignature(t *testing.T) {
	s := newTestLocalStore(t)
	srv := httptest.NewServer(http.HandlerFunc(s.ServeHTTP))
	defer srv.Close()

	readURL, err := s.PresignRead(context.Background(), "messages/x.png", time.Minute)
	require.NoError(t, err)
	readURL = strings.Replace(readURL, "sig=", "sig=tampered", 1)

	req := requestAgainst(t, srv.URL, readURL, http.MethodGet, nil)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestLocalObjectStore_RejectsExpiredSignature(t *testing.T) {
	s := newTestLocalStore(t)
	srv := httptest.NewServer(http.HandlerFunc(s.ServeHTTP))
	defer srv.Close()

	readURL, err := s.PresignRead(context.Background(), "messages/x.png", -time.Minute)
	require.NoError(t, err)

	req := requestAgainst(t, srv.URL, readURL, http.MethodGet, nil)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func requestAgainst(t *testing.T, serverBase, presigned, method string, body *strings.Reader) *http.Request {
	t.Helper()
	u, err := url.Parse(presigned)
	require.NoError(t, err)

	target := serverBase + u.Path + "?" + u.RawQuery
	var req *http.Request
	if body != nil {
		req, err = http.NewRequest(method, target, body)
	} else {
		req, err = http.NewRequest(method, target, nil)
	}
	require.NoError(t, err)
	return req
}
