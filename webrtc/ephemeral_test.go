package webrtc

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/enesunal-m/rtvoice"
)

func TestCreateSession(t *testing.T) {
	var gotBody, gotAuth, gotType, gotPath, gotMethod string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		gotBody, gotAuth, gotType = string(b), r.Header.Get("Authorization"), r.Header.Get("Content-Type")
		gotPath, gotMethod = r.URL.Path, r.Method
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"sess_1","client_secret":{"value":"tok_abc"}}`))
	}))
	defer srv.Close()

	cfg := rtvoice.Config{APIKey: "sk-test", BaseURL: srv.URL + "/v1", Model: "m", Voice: "verse"}
	res, err := CreateSession(context.Background(), srv.Client(), cfg, "Be brief.")
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if gotMethod != http.MethodPost || gotPath != "/v1/realtime/sessions" {
		t.Errorf("unexpected request %s %s", gotMethod, gotPath)
	}
	if gotAuth != "Bearer sk-test" {
		t.Errorf("Authorization = %q", gotAuth)
	}
	if gotType != "application/json" {
		t.Errorf("Content-Type = %q", gotType)
	}
	if want := `{"model":"m","voice":"verse","instructions":"Be brief."}`; gotBody != want {
		t.Errorf("body = %s, want %s", gotBody, want)
	}
	if !res.OK() || res.Status != http.StatusOK {
		t.Errorf("unexpected status %d", res.Status)
	}
	tok, err := ClientToken(res.Body)
	if err != nil || tok != "tok_abc" {
		t.Errorf("ClientToken = %q, %v", tok, err)
	}
}

func TestCreateSession_NonSuccessIsNotAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"bad_request"}`))
	}))
	defer srv.Close()

	cfg := rtvoice.Config{APIKey: "sk-test", BaseURL: srv.URL, Model: "m"}
	res, err := CreateSession(context.Background(), nil, cfg, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.OK() || res.Status != http.StatusBadRequest || string(res.Body) != `{"error":"bad_request"}` {
		t.Errorf("unexpected result: %d %s", res.Status, res.Body)
	}
}

func TestCreateSession_TransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	cfg := rtvoice.Config{APIKey: "sk-test", BaseURL: url, Model: "m"}
	if _, err := CreateSession(context.Background(), nil, cfg, ""); err == nil {
		t.Fatal("expected transport error")
	}
}

func TestClientToken(t *testing.T) {
	if _, err := ClientToken([]byte(`{"id":"sess_1"}`)); !errors.Is(err, rtvoice.ErrNoClientToken) {
		t.Errorf("expected ErrNoClientToken, got %v", err)
	}
	if _, err := ClientToken([]byte(`not json`)); !errors.Is(err, rtvoice.ErrInvalidEventData) {
		t.Errorf("expected ErrInvalidEventData, got %v", err)
	}
}

func TestExchangeSDP(t *testing.T) {
	var gotAuth, gotType, gotOffer, gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		gotAuth, gotType, gotOffer = r.Header.Get("Authorization"), r.Header.Get("Content-Type"), string(b)
		gotQuery = r.URL.Query().Get("model")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte("v=0\r\nanswer"))
	}))
	defer srv.Close()

	cfg := rtvoice.Config{BaseURL: srv.URL, Model: "gpt-4o-realtime-preview-2025-06-03"}
	answer, err := ExchangeSDP(context.Background(), nil, cfg.RealtimeURL(), "tok_abc", "v=0\r\noffer")
	if err != nil {
		t.Fatalf("ExchangeSDP: %v", err)
	}
	if answer != "v=0\r\nanswer" {
		t.Errorf("answer = %q", answer)
	}
	if gotAuth != "Bearer tok_abc" || gotType != "application/sdp" || gotOffer != "v=0\r\noffer" {
		t.Errorf("unexpected request: auth=%q type=%q offer=%q", gotAuth, gotType, gotOffer)
	}
	if gotQuery != "gpt-4o-realtime-preview-2025-06-03" {
		t.Errorf("model query = %q", gotQuery)
	}
}

func TestExchangeSDP_NonSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"bad_request"}`))
	}))
	defer srv.Close()

	_, err := ExchangeSDP(context.Background(), nil, srv.URL, "tok_abc", "offer")
	var re *rtvoice.RemoteError
	if !errors.As(err, &re) {
		t.Fatalf("expected RemoteError, got %v", err)
	}
	if re.Op != "sdp_exchange" || re.Status != http.StatusBadRequest || string(re.Body) != `{"error":"bad_request"}` {
		t.Errorf("unexpected error: %+v", re)
	}
}

func TestBrokerTokenSource(t *testing.T) {
	var gotPath, gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath, gotAuth = r.URL.Path, r.Header.Get("Authorization")
		_, _ = w.Write([]byte(`{"id":"sess_1","client_secret":{"value":"tok_abc","expires_at":1}}`))
	}))
	defer srv.Close()

	src := BrokerTokenSource{BaseURL: srv.URL + "/", Credential: rtvoice.Bearer("caller-jwt")}
	tok, err := src.FetchToken(context.Background())
	if err != nil {
		t.Fatalf("FetchToken: %v", err)
	}
	if tok != "tok_abc" {
		t.Errorf("token = %q", tok)
	}
	if gotPath != "/api/session" {
		t.Errorf("path = %q", gotPath)
	}
	if gotAuth != "Bearer caller-jwt" {
		t.Errorf("Authorization = %q", gotAuth)
	}
}

func TestBrokerTokenSource_ServerFault(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("Missing OPENAI_API_KEY"))
	}))
	defer srv.Close()

	_, err := BrokerTokenSource{BaseURL: srv.URL}.FetchToken(context.Background())
	var re *rtvoice.RemoteError
	if !errors.As(err, &re) || re.Op != "fetch_token" || string(re.Body) != "Missing OPENAI_API_KEY" {
		t.Errorf("unexpected error: %v", err)
	}
}
