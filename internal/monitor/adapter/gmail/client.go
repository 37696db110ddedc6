// Package gmail implements the Monitor Engine's Gmail adapter: incremental
// sync via the Gmail History API, a full messages.list fallback for the
// first poll (no history token yet), label/from/keyword filtering, and
// auto-response suppression via message headers.
package gmail

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"golang.org/x/oauth2"

	"github.com/opslane/monitor-engine/internal/monitor/adapter"
)

const apiBase = "https://gmail.googleapis.com/gmail/v1/users/me"

// httpClient is the subset of *http.Client the adapter depends on.
type httpClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// newHTTPClient wraps a Gmail OAuth2 access/refresh token pair. Unlike
// Slack's adapter, Gmail tokens expire on a short horizon, so this uses a
// real TokenSource with a refresher instead of StaticTokenSource — the
// adapter is handed both tokens because the connection record stores them
// separately (spec §1 Non-goals: refresh persistence is out of scope, the
// in-memory refreshed token is simply not written back).
func newHTTPClient(accessToken, refreshToken string) *http.Client {
	cfg := &oauth2.Config{
		Endpoint: oauth2.Endpoint{TokenURL: "https://oauth2.googleapis.com/token"},
	}
	token := &oauth2.Token{AccessToken: accessToken, RefreshToken: refreshToken}
	return oauth2.NewClient(context.Background(), cfg.TokenSource(context.Background(), token))
}

// call issues an authenticated Gmail API GET request and decodes the JSON
// response into out.
func call(ctx context.Context, hc httpClient, path string, params url.Values, out any) error {
	u := apiBase + path
	if params != nil {
		u += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("gmail: build request: %w", err)
	}

	resp, err := hc.Do(req)
	if err != nil {
		return adapter.NewTransientError("gmail", path, 0, "transport error", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return adapter.NewTransientError("gmail", path, resp.StatusCode, "reading response body", err)
	}

	switch {
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return adapter.NewTransientError("gmail", path, resp.StatusCode, "server error", fmt.Errorf("status %d", resp.StatusCode))
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return adapter.NewConnectionError("gmail", path, "unauthorized", fmt.Errorf("status %d", resp.StatusCode))
	case resp.StatusCode == http.StatusNotFound && path == "/history":
		// A 404 on history.list means the historyId has aged out of Gmail's
		// retention window; the caller falls back to a full list poll.
		return errHistoryExpired
	case resp.StatusCode >= 400:
		return adapter.NewPermanentError("gmail", path, resp.StatusCode, "client error", fmt.Errorf("status %d", resp.StatusCode))
	}

	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("gmail: decode %s response: %w", path, err)
		}
	}
	return nil
}

var errHistoryExpired = fmt.Errorf("gmail: history token expired")
