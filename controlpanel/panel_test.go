package controlpanel

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/enesunal-m/rtvoice"
	"github.com/enesunal-m/rtvoice/webrtc"
)

// fakeVoice walks through the connect states without any network.
type fakeVoice struct {
	mu         sync.Mutex
	state      webrtc.State
	err        error
	connectErr error
	unlocks    int
	ptt        []bool
	cues       []string
	cueErr     error

	// onState runs once, on the first State call.
	onState func()

	stateHandlers []func(webrtc.State)
	msgHandlers   []func(rtvoice.InboundMessage)
}

func newFakeVoice() *fakeVoice { return &fakeVoice{state: webrtc.StateIdle} }

func (f *fakeVoice) set(s webrtc.State) {
	f.mu.Lock()
	f.state = s
	handlers := append([]func(webrtc.State){}, f.stateHandlers...)
	f.mu.Unlock()
	for _, h := range handlers {
		h(s)
	}
}

func (f *fakeVoice) Connect(ctx context.Context) error {
	f.set(webrtc.StateRequestingToken)
	f.set(webrtc.StateNegotiating)
	if f.connectErr != nil {
		f.mu.Lock()
		f.err = f.connectErr
		f.mu.Unlock()
		f.set(webrtc.StateError)
		return f.connectErr
	}
	f.set(webrtc.StateConnected)
	return nil
}

func (f *fakeVoice) PushToTalk(down bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state != webrtc.StateConnected {
		return rtvoice.ErrNotConnected
	}
	f.ptt = append(f.ptt, down)
	return nil
}

func (f *fakeVoice) cue(text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cueErr != nil {
		return f.cueErr
	}
	f.cues = append(f.cues, text)
	return nil
}

func (f *fakeVoice) CueShort() error { return f.cue(rtvoice.CueShortVersion) }
func (f *fakeVoice) CueStar() error  { return f.cue(rtvoice.CueSTARVersion) }

func (f *fakeVoice) Unlock() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unlocks++
}

func (f *fakeVoice) State() webrtc.State {
	f.mu.Lock()
	s, hook := f.state, f.onState
	f.onState = nil
	f.mu.Unlock()
	if hook != nil {
		hook()
	}
	return s
}

func (f *fakeVoice) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

func (f *fakeVoice) OnStateChange(fn func(webrtc.State)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stateHandlers = append(f.stateHandlers, fn)
}

func (f *fakeVoice) OnMessage(fn func(rtvoice.InboundMessage)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgHandlers = append(f.msgHandlers, fn)
}

func (f *fakeVoice) deliver(raw string) {
	msg, _ := rtvoice.ParseInboundMessage([]byte(raw))
	f.mu.Lock()
	handlers := append([]func(rtvoice.InboundMessage){}, f.msgHandlers...)
	f.mu.Unlock()
	for _, h := range handlers {
		h(msg)
	}
}

func (f *fakeVoice) snapshot() (unlocks int, ptt []bool, cues []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.unlocks, append([]bool(nil), f.ptt...), append([]string(nil), f.cues...)
}

type session struct {
	t    *testing.T
	conn *websocket.Conn
	ctx  context.Context
}

func dialPanel(t *testing.T, v Voice) *session {
	t.Helper()
	log := rtvoice.NewLoggerWithWriter(rtvoice.LogLevelOff, io.Discard, "json")
	p := New(context.Background(), v, log)
	srv := httptest.NewServer(p.Handler())
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	c, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { c.Close(websocket.StatusNormalClosure, "") })
	return &session{t: t, conn: c, ctx: ctx}
}

func (s *session) send(action string) {
	s.t.Helper()
	if err := wsjson.Write(s.ctx, s.conn, Action{Action: action}); err != nil {
		s.t.Fatalf("write %s: %v", action, err)
	}
}

func (s *session) next() Frame {
	s.t.Helper()
	var f Frame
	if err := wsjson.Read(s.ctx, s.conn, &f); err != nil {
		s.t.Fatalf("read: %v", err)
	}
	return f
}

// until reads frames until one matches.
func (s *session) until(match func(Frame) bool) Frame {
	s.t.Helper()
	for {
		f := s.next()
		if match(f) {
			return f
		}
	}
}

func TestStatusText(t *testing.T) {
	tests := []struct {
		state webrtc.State
		err   error
		want  string
	}{
		{webrtc.StateIdle, nil, "ready"},
		{webrtc.StateRequestingToken, nil, "initializing…"},
		{webrtc.StateNegotiating, nil, "negotiating…"},
		{webrtc.StateConnected, nil, "connected — hold Push-to-Talk when you want it to listen"},
		{webrtc.StateError, errors.New("sdp_exchange failed: 400"), "error: sdp_exchange failed: 400"},
	}
	for _, tt := range tests {
		if got := StatusText(tt.state, tt.err); got != tt.want {
			t.Errorf("StatusText(%s) = %q, want %q", tt.state, got, tt.want)
		}
	}
}

func TestControlsFor(t *testing.T) {
	idle := ControlsFor(webrtc.StateIdle, false)
	if !idle.Connect || idle.PushToTalk || idle.Cues {
		t.Errorf("idle controls = %+v", idle)
	}
	for _, s := range []webrtc.State{webrtc.StateRequestingToken, webrtc.StateNegotiating, webrtc.StateError} {
		c := ControlsFor(s, false)
		if c.Connect || c.PushToTalk || c.Cues {
			t.Errorf("%s controls = %+v", s, c)
		}
	}
	connected := ControlsFor(webrtc.StateConnected, true)
	if connected.Connect || !connected.PushToTalk || !connected.Cues || connected.PushToTalkLabel != "Release to stop" {
		t.Errorf("connected controls = %+v", connected)
	}
}

func TestIndexPage(t *testing.T) {
	p := New(context.Background(), newFakeVoice(), rtvoice.NewLoggerWithWriter(rtvoice.LogLevelOff, io.Discard, "json"))
	rec := httptest.NewRecorder()
	p.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `id="ptt"`) {
		t.Errorf("unexpected index: %d", rec.Code)
	}
	rec = httptest.NewRecorder()
	p.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/missing", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestPanel_ConnectFlow(t *testing.T) {
	v := newFakeVoice()
	s := dialPanel(t, v)

	status := s.next()
	if status.Kind != KindStatus || status.Text != "ready" {
		t.Fatalf("first frame = %+v", status)
	}
	controls := s.next()
	if controls.Kind != KindControls || !controls.Controls.Connect || controls.Controls.PushToTalk {
		t.Fatalf("initial controls = %+v", controls.Controls)
	}

	s.send(ActionConnect)

	for _, want := range []string{"initializing…", "negotiating…", "connected — hold Push-to-Talk when you want it to listen"} {
		f := s.until(func(f Frame) bool { return f.Kind == KindStatus })
		if f.Text != want {
			t.Errorf("status = %q, want %q", f.Text, want)
		}
	}
	f := s.until(func(f Frame) bool { return f.Kind == KindControls })
	if f.Controls.Connect || !f.Controls.PushToTalk || !f.Controls.Cues {
		t.Errorf("connected controls = %+v", f.Controls)
	}

	s.send(ActionPTTDown)
	s.until(func(f Frame) bool { return f.Kind == KindControls && f.Controls.PushToTalkLabel == "Release to stop" })
	s.send(ActionPTTUp)
	s.until(func(f Frame) bool { return f.Kind == KindControls && f.Controls.PushToTalkLabel == "Push-to-Talk" })

	s.send(ActionCueShort)
	s.send(ActionCueStar)
	// a round trip through the socket orders the cues before the check
	s.send(ActionPTTDown)
	s.until(func(f Frame) bool { return f.Kind == KindControls && f.Controls.PushToTalkLabel == "Release to stop" })

	unlocks, ptt, cues := v.snapshot()
	if unlocks != 6 {
		t.Errorf("every action should unlock playback, got %d unlocks", unlocks)
	}
	if len(ptt) != 3 || !ptt[0] || ptt[1] || !ptt[2] {
		t.Errorf("ptt = %v", ptt)
	}
	if len(cues) != 2 || cues[0] != "Short version" || cues[1] != "STAR version" {
		t.Errorf("cues = %v", cues)
	}
}

func TestPanel_TransitionDuringFirstSnapshot(t *testing.T) {
	v := newFakeVoice()
	moved := make(chan struct{})
	v.onState = func() {
		go func() {
			defer close(moved)
			v.set(webrtc.StateConnected)
		}()
	}
	s := dialPanel(t, v)

	f := s.until(func(f Frame) bool { return f.Kind == KindControls && f.State == string(webrtc.StateConnected) })
	if !f.Controls.PushToTalk || f.Controls.Connect {
		t.Errorf("connected controls = %+v", f.Controls)
	}
	<-moved
}

func TestPanel_ConnectError(t *testing.T) {
	v := newFakeVoice()
	v.connectErr = errors.New(`sdp_exchange failed: 400: {"error":"bad_request"}`)
	s := dialPanel(t, v)

	s.send(ActionConnect)
	f := s.until(func(f Frame) bool { return f.Kind == KindStatus && f.State == string(webrtc.StateError) })
	if f.Text != `error: sdp_exchange failed: 400: {"error":"bad_request"}` {
		t.Errorf("status = %q", f.Text)
	}
	c := s.until(func(f Frame) bool { return f.Kind == KindControls && f.State == string(webrtc.StateError) })
	if c.Controls.Connect || c.Controls.PushToTalk || c.Controls.Cues {
		t.Errorf("error controls = %+v", c.Controls)
	}
}

func TestPanel_ActionErrorsAreLogged(t *testing.T) {
	v := newFakeVoice()
	v.set(webrtc.StateConnected)
	v.cueErr = rtvoice.ErrChannelNotOpen
	s := dialPanel(t, v)

	s.send(ActionCueShort)
	f := s.until(func(f Frame) bool { return f.Kind == KindLog })
	if f.Text != "cue_short: rtvoice: control channel not open" {
		t.Errorf("log = %q", f.Text)
	}
}

func TestPanel_TranscriptAndRemoteErrors(t *testing.T) {
	v := newFakeVoice()
	s := dialPanel(t, v)
	s.next()
	s.next()

	v.deliver(`{"type":"response.audio_transcript.delta","response_id":"r1","delta":"Hello"}`)
	v.deliver(`{"type":"response.audio_transcript.delta","response_id":"r1","delta":" there"}`)
	v.deliver(`{"type":"response.audio_transcript.done","response_id":"r1"}`)
	v.deliver(`not json`)
	v.deliver(`{"type":"error","error":{"message":"Invalid request format"}}`)

	if f := s.next(); f.Kind != KindLog || f.Text != "assistant: Hello there" {
		t.Errorf("frame = %+v", f)
	}
	if f := s.next(); f.Kind != KindLog || f.Text != "remote error: Invalid request format" {
		t.Errorf("frame = %+v", f)
	}
}
