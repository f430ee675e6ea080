package oauth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/cuemby/ctrlplane/internal/apitypes"
	"github.com/cuemby/ctrlplane/internal/ctlerr"
)

// HTTPTokenRefresher implements TokenRefresher against a standard RFC
// 6749 refresh_token grant token endpoint.
type HTTPTokenRefresher struct {
	TokenURL     string
	ClientID     string
	ClientSecret string
	HTTPClient   *http.Client
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
	Error        string `json:"error"`
	ErrorDesc    string `json:"error_description"`
}

// Refresh implements TokenRefresher.
func (h *HTTPTokenRefresher) Refresh(ctx context.Context, cred apitypes.OAuthCredential) (apitypes.OAuthCredential, error) {
	client := h.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}

	form := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {cred.RefreshToken},
		"client_id":     {h.ClientID},
	}
	if h.ClientSecret != "" {
		form.Set("client_secret", h.ClientSecret)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return apitypes.OAuthCredential{}, &ctlerr.TransientIO{Op: "oauth-refresh-build-request", Err: err}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return apitypes.OAuthCredential{}, &ctlerr.TransientIO{Op: "oauth-refresh", Err: err}
	}
	defer resp.Body.Close()

	var body tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return apitypes.OAuthCredential{}, &ctlerr.TransientIO{Op: "oauth-refresh-decode", Err: err}
	}

	if body.Error == "invalid_grant" {
		return apitypes.OAuthCredential{}, &ctlerr.OAuthInvalidGrant{Provider: cred.Provider, Err: fmt.Errorf("%s", body.ErrorDesc)}
	}
	if resp.StatusCode != http.StatusOK || body.AccessToken == "" {
		return apitypes.OAuthCredential{}, &ctlerr.TransientIO{Op: "oauth-refresh", Err: fmt.Errorf("token endpoint returned status %d: %s", resp.StatusCode, body.ErrorDesc)}
	}

	next := cred
	next.AccessToken = body.AccessToken
	if body.RefreshToken != "" {
		next.RefreshToken = body.RefreshToken
		now := time.Now().UTC()
		next.RefreshTokenIssuedAt = &now
	}
	if body.ExpiresIn > 0 {
		next.ExpiresAt = time.Now().UTC().Add(time.Duration(body.ExpiresIn) * time.Second)
	}
	return next, nil
}

// FileMirror writes a refreshed credential to a JSON file per provider
// under a directory, the shape the harness subprocesses' own config
// loaders read directly (each variant owns the exact field names its
// CLI expects; this mirrors the generic tuple).
type FileMirror struct {
	Dir string
}

// WriteMirror implements MirrorWriter.
func (f *FileMirror) WriteMirror(cred apitypes.OAuthCredential) error {
	path := f.Dir + "/" + sanitizeProvider(cred.Provider) + ".json"
	raw, err := json.MarshalIndent(cred, "", "  ")
	if err != nil {
		return err
	}
	return writeFileAtomic(path, raw)
}

func sanitizeProvider(provider string) string {
	return strings.Map(func(r rune) rune {
		if r == '/' || r == '\\' || r == ' ' {
			return '_'
		}
		return r
	}, provider)
}

// writeFileAtomic writes to a temp file in the same directory and
// renames over the destination, so a reader never observes a partial
// write.
func writeFileAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
