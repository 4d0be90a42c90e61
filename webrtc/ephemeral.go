package webrtc

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/enesunal-m/rtvoice"
)

// SessionResult is the remote answer to a session-creation call, kept verbatim.
type SessionResult struct {
	Status int
	Body   []byte
}

// OK reports whether the remote answered with a 2xx status.
func (r SessionResult) OK() bool { return r.Status/100 == 2 }

// CreateSession asks the remote service for a new realtime session on behalf of a
// client. The API key from cfg is sent as a bearer credential. Any HTTP response,
// successful or not, is returned as-is; only transport and read failures are errors.
func CreateSession(ctx context.Context, hc *http.Client, cfg rtvoice.Config, instructions string) (SessionResult, error) {
	if hc == nil {
		hc = &http.Client{Timeout: cfg.RequestTimeout}
	}
	body, err := json.Marshal(rtvoice.SessionRequest{
		Model:        cfg.Model,
		Voice:        cfg.Voice,
		Instructions: instructions,
	})
	if err != nil {
		return SessionResult{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.SessionsURL(), bytes.NewReader(body))
	if err != nil {
		return SessionResult{}, err
	}
	rtvoice.Bearer(cfg.APIKey).Apply(req.Header)
	req.Header.Set("Content-Type", "application/json")

	resp, err := hc.Do(req)
	if err != nil {
		return SessionResult{}, err
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return SessionResult{}, err
	}
	return SessionResult{Status: resp.StatusCode, Body: b}, nil
}

// ClientToken extracts client_secret.value from a session descriptor.
func ClientToken(body []byte) (string, error) {
	var sr rtvoice.SessionResponse
	if err := json.Unmarshal(body, &sr); err != nil {
		return "", rtvoice.NewEventError("session", body, err)
	}
	return sr.Token()
}
