// Package outlook implements the Monitor Engine's Outlook/Microsoft 365
// adapter on top of the Microsoft Graph API: delta-query incremental sync,
// a full messages.list fallback for the first poll, folder/from/keyword
// filtering, and auto-response suppression via message headers.
package outlook

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/oauth2"

	"github.com/opslane/monitor-engine/internal/monitor/adapter"
)

const apiBase = "https://graph.microsoft.com/v1.0/me"

// httpClient is the subset of *http.Client the adapter depends on.
type httpClient interface {
	Do(req *http.Request) (*http.Response, error)
}

func newHTTPClient(accessToken, refreshToken string) *http.Client {
	cfg := &oauth2.Config{
		Endpoint: oauth2.Endpoint{TokenURL: "https://login.microsoftonline.com/common/oauth2/v2.0/token"},
	}
	token := &oauth2.Token{AccessToken: accessToken, RefreshToken: refreshToken}
	return oauth2.NewClient(context.Background(), cfg.TokenSource(context.Background(), token))
}

// call issues an authenticated Graph API GET request against an absolute or
// relative (prefixed with apiBase) URL and decodes the JSON response.
func call(ctx context.Context, hc httpClient, path string, params url.Values, out any) error {
	u := path
	if len(u) == 0 || u[0] == '/' {
		u = apiBase + path
	}
	if params != nil {
		sep := "?"
		if strings.Contains(u, "?") {
			sep = "&"
		}
		u += sep + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("outlook: build request: %w", err)
	}

	resp, err := hc.Do(req)
	if err != nil {
		return adapter.NewTransientError("outlook", path, 0, "transport error", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return adapter.NewTransientError("outlook", path, resp.StatusCode, "reading response body", err)
	}

	switch {
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return adapter.NewTransientError("outlook", path, resp.StatusCode, "server error", fmt.Errorf("status %d", resp.StatusCode))
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return adapter.NewConnectionError("outlook", path, "unauthorized", fmt.Errorf("status %d", resp.StatusCode))
	case resp.StatusCode == http.StatusGone:
		// Graph returns 410 with a fresh delta link when a delta token has
		// expired; the caller restarts from a full sync.
		return errDeltaExpired
	case resp.StatusCode >= 400:
		return adapter.NewPermanentError("outlook", path, resp.StatusCode, "client error", fmt.Errorf("status %d", resp.StatusCode))
	}

	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("outlook: decode %s response: %w", path, err)
		}
	}
	return nil
}

var errDeltaExpired = fmt.Errorf("outlook: delta token expired")
