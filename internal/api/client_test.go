package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tempLog(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "20251010-222255.zevtc")
	require.NoError(t, os.WriteFile(path, []byte("EVTC-payload"), 0o644))
	return path
}

func TestUploadSendsMultipartForm(t *testing.T) {
	var gotToken, gotSession, gotName, gotBody, gotEndpoint string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotEndpoint = r.URL.Query().Get("endpoint")
		require.NoError(t, r.ParseMultipartForm(1<<20))
		gotToken = r.FormValue("history_token")
		gotSession = r.FormValue("session_id")
		f, hdr, err := r.FormFile("file")
		require.NoError(t, err)
		defer f.Close()
		gotName = hdr.Filename
		b, _ := io.ReadAll(f)
		gotBody = string(b)
		w.Write([]byte(`{"success":true,"id":42,"link":"https://parser.example/r/42"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL + "/api.php")
	res, err := c.Upload(context.Background(), "sess-7", tempLog(t), "tok-123456789")
	require.NoError(t, err)

	assert.Equal(t, "nexus-upload", gotEndpoint)
	assert.Equal(t, "sess-7", gotSession)
	assert.Equal(t, "tok-123456789", gotToken)
	assert.Equal(t, "20251010-222255.zevtc", gotName)
	assert.Equal(t, "EVTC-payload", gotBody)
	assert.Equal(t, "42", res.ID)
	assert.Equal(t, "https://parser.example/r/42", res.Link)
	assert.Equal(t, "sess-7", res.SessionID)
}

func TestUploadAcknowledgementWithoutLink(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"success":true,"message":"Uploaded"}`))
	}))
	defer srv.Close()

	res, err := NewClient(srv.URL).Upload(context.Background(), "sess-1", tempLog(t), "tok")
	require.NoError(t, err)
	assert.Empty(t, res.Link)
	assert.Equal(t, "Uploaded", res.Message)
}

func TestUploadClassifiesFailures(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		wantKind  Kind
		retryable bool
	}{
		{"unauthorized", http.StatusUnauthorized, `{"message":"bad token"}`, KindAuth, false},
		{"forbidden", http.StatusForbidden, ``, KindAuth, false},
		{"too large", http.StatusRequestEntityTooLarge, `too big`, KindRejected, false},
		{"bad request", http.StatusBadRequest, `{"message":"not an evtc file"}`, KindRejected, false},
		{"rate limited", http.StatusTooManyRequests, ``, KindServer, true},
		{"unavailable", http.StatusServiceUnavailable, ``, KindServer, true},
		{"refused in body", http.StatusOK, `{"success":false,"message":"corrupt log"}`, KindRejected, false},
		{"token refused in body", http.StatusOK, `{"success":false,"message":"Invalid token"}`, KindAuth, false},
		{"garbage", http.StatusOK, `<html>`, KindServer, true},
		{"empty object", http.StatusOK, `{}`, KindServer, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := NewClient(srv.URL).Upload(context.Background(), "sess", tempLog(t), "tok")
			require.Error(t, err)

			kind, ok := KindOf(err)
			require.True(t, ok)
			assert.Equal(t, tt.wantKind, kind)
			assert.Equal(t, tt.retryable, IsRetryable(err))
		})
	}
}

func TestUploadTimeoutIsNetworkError(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := NewClient(srv.URL).Upload(ctx, "sess", tempLog(t), "tok")
	require.Error(t, err)
	kind, _ := KindOf(err)
	assert.Equal(t, KindNetwork, kind)
	assert.True(t, IsRetryable(err))
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestUploadMissingFileIsRejected(t *testing.T) {
	_, err := NewClient("http://127.0.0.1:0").Upload(context.Background(), "sess", filepath.Join(t.TempDir(), "nope.zevtc"), "tok")
	require.Error(t, err)
	kind, _ := KindOf(err)
	assert.Equal(t, KindRejected, kind)
	assert.False(t, IsRetryable(err))
}

func TestGenerateToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "generate-token", r.URL.Query().Get("endpoint"))
		assert.Equal(t, http.MethodGet, r.Method)
		w.Write([]byte(`{"success":true,"token":"fresh-token-value"}`))
	}))
	defer srv.Close()

	tok, err := NewClient(srv.URL).GenerateToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "fresh-token-value", tok)
}

func TestValidateToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "nexus-validate-token", r.URL.Query().Get("endpoint"))
		assert.Equal(t, http.MethodPost, r.Method)
		require.NoError(t, r.ParseForm())
		switch r.PostFormValue("history_token") {
		case "good":
			w.Write([]byte(`{"valid":true}`))
		case "revoked":
			w.WriteHeader(http.StatusUnauthorized)
		default:
			w.Write([]byte(`{"valid":false}`))
		}
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	for token, want := range map[string]bool{"good": true, "bad": false, "revoked": false} {
		ok, err := c.ValidateToken(context.Background(), token)
		require.NoError(t, err, token)
		assert.Equal(t, want, ok, token)
	}
}

func TestRateLimitHonoursContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"success":true,"link":"x"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, WithRateLimit(1))
	path := tempLog(t)
	_, err := c.Upload(context.Background(), "sess", path, "tok")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = c.Upload(ctx, "sess", path, "tok")
	require.Error(t, err)
	kind, _ := KindOf(err)
	assert.Equal(t, KindNetwork, kind)
}
