package webrtc

import (
	"context"
	"io"
	"net/http"
	"strings"

	"github.com/enesunal-m/rtvoice"
)

// TokenSource yields a short-lived session token for one connect attempt.
type TokenSource interface {
	FetchToken(ctx context.Context) (string, error)
}

// TokenSourceFunc adapts a function to TokenSource.
type TokenSourceFunc func(ctx context.Context) (string, error)

// FetchToken calls f.
func (f TokenSourceFunc) FetchToken(ctx context.Context) (string, error) { return f(ctx) }

// BrokerTokenSource fetches tokens from a token broker's /api/session endpoint.
type BrokerTokenSource struct {
	// BaseURL is the broker root, e.g. http://localhost:8080.
	BaseURL string
	// Credential optionally authenticates the caller to the broker.
	Credential rtvoice.Credential
	HTTPClient *http.Client
}

// FetchToken performs one GET against the broker. A non-2xx answer becomes a
// *rtvoice.RemoteError with the broker's body. A session without a client
// secret yields rtvoice.ErrNoClientToken.
func (b BrokerTokenSource) FetchToken(ctx context.Context) (string, error) {
	hc := b.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: rtvoice.DefaultRequestTimeout}
	}
	url := strings.TrimRight(b.BaseURL, "/") + "/api/session"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	if b.Credential != nil {
		b.Credential.Apply(req.Header)
	}

	resp, err := hc.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode/100 != 2 {
		return "", rtvoice.NewRemoteError("fetch_token", url, resp.StatusCode, body)
	}
	return ClientToken(body)
}
