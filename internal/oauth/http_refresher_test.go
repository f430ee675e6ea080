package oauth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/ctrlplane/internal/apitypes"
	"github.com/cuemby/ctrlplane/internal/ctlerr"
)

func TestHTTPTokenRefresherParsesSuccessResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		require.NoError(t, req.ParseForm())
		assert.Equal(t, "refresh_token", req.PostForm.Get("grant_type"))
		assert.Equal(t, "r1", req.PostForm.Get("refresh_token"))
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token":  "new-token",
			"refresh_token": "r2",
			"expires_in":    3600,
		})
	}))
	defer srv.Close()

	h := &HTTPTokenRefresher{TokenURL: srv.URL, ClientID: "cid"}
	out, err := h.Refresh(context.Background(), apitypes.OAuthCredential{Provider: "claude_code", RefreshToken: "r1"})
	require.NoError(t, err)
	assert.Equal(t, "new-token", out.AccessToken)
	assert.Equal(t, "r2", out.RefreshToken)
	assert.True(t, out.ExpiresAt.After(time.Now().UTC().Add(time.Minute)))
}

func TestHTTPTokenRefresherReturnsInvalidGrant(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]any{"error": "invalid_grant", "error_description": "token expired"})
	}))
	defer srv.Close()

	h := &HTTPTokenRefresher{TokenURL: srv.URL}
	_, err := h.Refresh(context.Background(), apitypes.OAuthCredential{Provider: "claude_code", RefreshToken: "stale"})

	var invalidGrant *ctlerr.OAuthInvalidGrant
	require.ErrorAs(t, err, &invalidGrant)
	assert.Equal(t, "claude_code", invalidGrant.Provider)
}
