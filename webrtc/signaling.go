package webrtc

import (
	"context"
	"io"
	"net/http"
	"strings"

	"github.com/enesunal-m/rtvoice"
)

// ExchangeSDP posts a local offer to the realtime endpoint and returns the answer SDP.
// The short-lived session token authenticates the call. A non-2xx status is
// returned as a *rtvoice.RemoteError carrying the response body.
func ExchangeSDP(ctx context.Context, hc *http.Client, url, token, offer string) (string, error) {
	if hc == nil {
		hc = &http.Client{Timeout: rtvoice.DefaultRequestTimeout}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader(offer))
	if err != nil {
		return "", err
	}
	rtvoice.Bearer(token).Apply(req.Header)
	req.Header.Set("Content-Type", "application/sdp")

	resp, err := hc.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode/100 != 2 {
		return "", rtvoice.NewRemoteError("sdp_exchange", url, resp.StatusCode, b)
	}
	return string(b), nil
}
