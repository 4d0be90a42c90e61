package webrtc

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pion/rtp"
	pion "github.com/pion/webrtc/v3"
	"github.com/pion/webrtc/v3/pkg/media"

	"github.com/enesunal-m/rtvoice"
)

// mockRemote simulates the realtime service: session creation and SDP answers.
// Answers come from a real pion peer so the client can apply them.
type mockRemote struct {
	t      *testing.T
	server *httptest.Server

	mu          sync.Mutex
	token       string
	sdpStatus   int
	sdpBody     string
	offers      []string
	authHeaders []string
	peers       []*pion.PeerConnection

	// received carries text the answerer read from the client's data channel.
	received chan string
}

func newMockRemote(t *testing.T, token string) *mockRemote {
	t.Helper()
	m := &mockRemote{t: t, token: token, received: make(chan string, 16)}
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/realtime", m.handleSDP)
	m.server = httptest.NewServer(mux)
	t.Cleanup(m.Close)
	return m
}

func (m *mockRemote) Close() {
	m.server.Close()
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, pc := range m.peers {
		_ = pc.Close()
	}
	m.peers = nil
}

// BaseURL returns the API root to put in rtvoice.Config.
func (m *mockRemote) BaseURL() string { return m.server.URL + "/v1" }

// FailSDP makes the next SDP exchanges answer with status and body.
func (m *mockRemote) FailSDP(status int, body string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sdpStatus, m.sdpBody = status, body
}

func (m *mockRemote) Offers() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.offers...)
}

func (m *mockRemote) AuthHeaders() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.authHeaders...)
}

// Next waits for the next control message the answerer received.
func (m *mockRemote) Next(t *testing.T, timeout time.Duration) string {
	t.Helper()
	select {
	case s := <-m.received:
		return s
	case <-time.After(timeout):
		t.Fatal("timed out waiting for a control message")
		return ""
	}
}

func (m *mockRemote) handleSDP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	body, _ := io.ReadAll(r.Body)

	m.mu.Lock()
	m.offers = append(m.offers, string(body))
	m.authHeaders = append(m.authHeaders, r.Header.Get("Authorization"))
	status, failBody, token := m.sdpStatus, m.sdpBody, m.token
	m.mu.Unlock()

	if r.Header.Get("Content-Type") != "application/sdp" {
		http.Error(w, "expected application/sdp", http.StatusUnsupportedMediaType)
		return
	}
	if r.Header.Get("Authorization") != "Bearer "+token {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	if status != 0 {
		w.WriteHeader(status)
		_, _ = w.Write([]byte(failBody))
		return
	}

	pc, err := pion.NewPeerConnection(pion.Configuration{})
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	m.mu.Lock()
	m.peers = append(m.peers, pc)
	m.mu.Unlock()

	pc.OnDataChannel(func(dc *pion.DataChannel) {
		dc.OnMessage(func(msg pion.DataChannelMessage) {
			select {
			case m.received <- string(msg.Data):
			default:
			}
		})
	})

	if err := pc.SetRemoteDescription(pion.SessionDescription{Type: pion.SDPTypeOffer, SDP: string(body)}); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	gather := pion.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(answer); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	select {
	case <-gather:
	case <-time.After(2 * time.Second):
	}

	w.Header().Set("Content-Type", "application/sdp")
	w.WriteHeader(http.StatusCreated)
	_, _ = w.Write([]byte(pc.LocalDescription().SDP))
}

// fakeMicrophone hands out silent Opus frames.
type fakeMicrophone struct {
	err error

	mu       sync.Mutex
	captured int
}

func (f *fakeMicrophone) Capture(ctx context.Context) (AudioSource, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.captured++
	return &silentSource{done: make(chan struct{})}, nil
}

func (f *fakeMicrophone) Captured() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.captured
}

type silentSource struct {
	once sync.Once
	done chan struct{}
}

func (s *silentSource) ReadSample() (media.Sample, error) {
	select {
	case <-s.done:
		return media.Sample{}, io.EOF
	default:
	}
	return media.Sample{Data: []byte{0xf8, 0xff, 0xfe}, Duration: 20 * time.Millisecond}, nil
}

func (s *silentSource) Close() error {
	s.once.Do(func() { close(s.done) })
	return nil
}

// fakeSpeaker records attached elements and the packets they receive.
type fakeSpeaker struct {
	mu    sync.Mutex
	sinks []*fakeSink
}

func (f *fakeSpeaker) Attach(codec pion.RTPCodecParameters) (AudioSink, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := &fakeSink{got: make(chan *rtp.Packet, 16)}
	f.sinks = append(f.sinks, s)
	return s, nil
}

func (f *fakeSpeaker) Sinks() []*fakeSink {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*fakeSink(nil), f.sinks...)
}

type fakeSink struct {
	got chan *rtp.Packet
}

func (s *fakeSink) WriteRTP(pkt *rtp.Packet) error {
	s.got <- pkt
	return nil
}

func (s *fakeSink) Close() error { return nil }

// fakeChannel stands in for the control data channel.
type fakeChannel struct {
	mu    sync.Mutex
	state pion.DataChannelState
	sent  []string
}

func (f *fakeChannel) ReadyState() pion.DataChannelState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeChannel) SendText(s string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, s)
	return nil
}

func (f *fakeChannel) Sent() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent...)
}

// syncBuffer collects log output written from pion callback goroutines.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func testLogger(buf *syncBuffer) *rtvoice.Logger {
	return rtvoice.NewLoggerWithWriter(rtvoice.LogLevelDebug, buf, "json")
}

func countAudioLines(sdp string) int {
	n := 0
	for _, line := range strings.Split(sdp, "\n") {
		if strings.HasPrefix(line, "m=audio") {
			n++
		}
	}
	return n
}
