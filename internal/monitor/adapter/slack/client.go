// Package slack implements the Monitor Engine's Slack adapter: message
// polling (both the my_mentions search mode and per-channel history mode),
// webhook handling for the Slack Events API, context/thread capture, and
// permalink resolution.
package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"golang.org/x/oauth2"

	"github.com/opslane/monitor-engine/internal/monitor/adapter"
)

const apiBase = "https://slack.com/api"

// httpClient is the subset of *http.Client the adapter depends on, so tests
// can substitute a fake transport without a real Slack account.
type httpClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// newHTTPClient builds an oauth2-wrapped HTTP client from a bearer access
// token. Slack tokens issued through this stack's Connection are already
// bearer tokens by the time they reach the adapter (decryption happens
// upstream), so StaticTokenSource is the right oauth2 primitive — no
// refresh flow runs here.
func newHTTPClient(accessToken string) *http.Client {
	src := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken})
	return oauth2.NewClient(context.Background(), src)
}

// apiResult is the envelope every Slack Web API method returns.
type apiResult struct {
	OK    bool   `json:"ok"`
	Error string `json:"error"`
}

// call issues a Slack Web API request. When body is non-nil it is sent as a
// JSON POST; otherwise params are sent as a GET query string.
func call(ctx context.Context, hc httpClient, method string, params url.Values, body any, out any) error {
	var req *http.Request
	var err error

	if body != nil {
		buf, merr := json.Marshal(body)
		if merr != nil {
			return fmt.Errorf("slack: encode %s request: %w", method, merr)
		}
		req, err = http.NewRequestWithContext(ctx, http.MethodPost, apiBase+"/"+method, bytes.NewReader(buf))
		if err == nil {
			req.Header.Set("Content-Type", "application/json; charset=utf-8")
		}
	} else {
		u := apiBase + "/" + method
		if params != nil {
			u += "?" + params.Encode()
		}
		req, err = http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	}
	if err != nil {
		return fmt.Errorf("slack: build %s request: %w", method, err)
	}

	resp, err := hc.Do(req)
	if err != nil {
		return adapter.NewTransientError("slack", method, 0, "transport error", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return adapter.NewTransientError("slack", method, resp.StatusCode, "reading response body", err)
	}

	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return adapter.NewTransientError("slack", method, resp.StatusCode, "server error", fmt.Errorf("status %d", resp.StatusCode))
	}
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return adapter.NewConnectionError("slack", method, "unauthorized", fmt.Errorf("status %d", resp.StatusCode))
	}
	if resp.StatusCode >= 400 {
		return adapter.NewPermanentError("slack", method, resp.StatusCode, "client error", fmt.Errorf("status %d", resp.StatusCode))
	}

	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("slack: decode %s response: %w", method, err)
		}
	}

	var env apiResult
	if err := json.Unmarshal(raw, &env); err == nil && !env.OK {
		return adapter.NewPermanentError("slack", method, resp.StatusCode, "api error: "+env.Error, nil)
	}
	return nil
}
