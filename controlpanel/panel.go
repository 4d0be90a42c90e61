// Package controlpanel is the user-facing surface of the voice client: one HTML
// page and a WebSocket carrying button presses in and status lines out.
package controlpanel

import (
	"context"
	_ "embed"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/enesunal-m/rtvoice"
	"github.com/enesunal-m/rtvoice/webrtc"
)

//go:embed index.html
var indexHTML []byte

// Actions accepted on the socket.
const (
	ActionConnect  = "connect"
	ActionPTTDown  = "ptt_down"
	ActionPTTUp    = "ptt_up"
	ActionCueShort = "cue_short"
	ActionCueStar  = "cue_star"
)

// Frame kinds sent on the socket.
const (
	KindStatus   = "status"
	KindLog      = "log"
	KindControls = "controls"
)

const (
	pttIdleLabel = "Push-to-Talk"
	pttHeldLabel = "Release to stop"
	writeTimeout = 5 * time.Second
	sendBuffer   = 32
)

// Voice is the part of *webrtc.Client the panel drives.
type Voice interface {
	Connect(ctx context.Context) error
	PushToTalk(down bool) error
	CueShort() error
	CueStar() error
	Unlock()
	State() webrtc.State
	Err() error
	OnStateChange(fn func(webrtc.State))
	OnMessage(fn func(rtvoice.InboundMessage))
}

// Action is one user interaction.
type Action struct {
	Action string `json:"action"`
}

// Controls says which buttons are usable.
type Controls struct {
	Connect         bool   `json:"connect"`
	PushToTalk      bool   `json:"ptt"`
	Cues            bool   `json:"cues"`
	PushToTalkLabel string `json:"ptt_label"`
}

// Frame is one message to the page.
type Frame struct {
	Kind     string    `json:"kind"`
	Text     string    `json:"text,omitempty"`
	State    string    `json:"state,omitempty"`
	Controls *Controls `json:"controls,omitempty"`
}

// StatusText is the status line shown for a state.
func StatusText(s webrtc.State, err error) string {
	switch s {
	case webrtc.StateIdle:
		return "ready"
	case webrtc.StateRequestingToken:
		return "initializing…"
	case webrtc.StateNegotiating:
		return "negotiating…"
	case webrtc.StateConnected:
		return "connected — hold Push-to-Talk when you want it to listen"
	case webrtc.StateError:
		if err != nil {
			return "error: " + err.Error()
		}
		return "error"
	default:
		return string(s)
	}
}

// ControlsFor returns the usable buttons for a state.
func ControlsFor(s webrtc.State, pttDown bool) Controls {
	label := pttIdleLabel
	if pttDown {
		label = pttHeldLabel
	}
	return Controls{
		Connect:         s == webrtc.StateIdle,
		PushToTalk:      s == webrtc.StateConnected,
		Cues:            s == webrtc.StateConnected,
		PushToTalkLabel: label,
	}
}

// Panel serves the page and fans client events out to every open socket.
type Panel struct {
	ctx         context.Context
	voice       Voice
	log         *rtvoice.Logger
	transcripts *rtvoice.TranscriptAssembler

	mu      sync.Mutex
	pttDown bool
	conns   map[string]chan Frame
}

// New wires a panel to v. ctx bounds the connect attempt started from the page.
func New(ctx context.Context, v Voice, log *rtvoice.Logger) *Panel {
	if log == nil {
		log = rtvoice.DefaultLogger
	}
	p := &Panel{
		ctx:         ctx,
		voice:       v,
		log:         log,
		transcripts: rtvoice.NewTranscriptAssembler(),
		conns:       make(map[string]chan Frame),
	}
	v.OnStateChange(p.stateChanged)
	v.OnMessage(p.messageReceived)
	return p
}

// Handler returns the page and socket routes.
func (p *Panel) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write(indexHTML)
	})
	mux.HandleFunc("/ws", p.serveWS)
	return mux
}

// snapshotLocked must be called with p.mu held.
func (p *Panel) snapshotLocked() []Frame {
	down := p.pttDown
	s := p.voice.State()
	var err error
	if s == webrtc.StateError {
		err = p.voice.Err()
	}
	controls := ControlsFor(s, down)
	return []Frame{
		{Kind: KindStatus, State: string(s), Text: StatusText(s, err)},
		{Kind: KindControls, State: string(s), Controls: &controls},
	}
}

func (p *Panel) broadcast(frames ...Frame) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.broadcastLocked(frames)
}

func (p *Panel) broadcastLocked(frames []Frame) {
	for id, ch := range p.conns {
		p.queueLocked(id, ch, frames)
	}
}

func (p *Panel) queueLocked(id string, ch chan Frame, frames []Frame) {
	for _, f := range frames {
		select {
		case ch <- f:
		default:
			p.log.Warn("panel_frame_dropped", map[string]interface{}{"conn": id, "kind": f.Kind})
		}
	}
}

func (p *Panel) logLine(text string) {
	p.broadcast(Frame{Kind: KindLog, Text: text})
}

// stateChanged reads the state under p.mu so frames reach every socket in
// transition order.
func (p *Panel) stateChanged(webrtc.State) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.broadcastLocked(p.snapshotLocked())
}

func (p *Panel) messageReceived(msg rtvoice.InboundMessage) {
	if !msg.Parsed {
		return
	}
	switch msg.Type {
	case rtvoice.TypeError:
		var e rtvoice.ErrorEvent
		if err := msg.Decode(&e); err == nil {
			p.logLine("remote error: " + e.Error.Message)
		}
	case rtvoice.TypeResponseAudioTranscriptDelta, rtvoice.TypeResponseAudioTranscriptDone:
		if text, done := p.transcripts.Feed(msg); done && text != "" {
			p.logLine("assistant: " + text)
		}
	}
}

func (p *Panel) serveWS(w http.ResponseWriter, r *http.Request) {
	c, err := websocket.Accept(w, r, nil)
	if err != nil {
		p.log.Warn("panel_accept_failed", map[string]interface{}{"error": err.Error()})
		return
	}
	defer c.Close(websocket.StatusNormalClosure, "")

	id := uuid.NewString()
	out := make(chan Frame, sendBuffer)
	p.mu.Lock()
	p.conns[id] = out
	p.queueLocked(id, out, p.snapshotLocked())
	p.mu.Unlock()
	p.log.Info("panel_connected", map[string]interface{}{"conn": id})

	ctx, cancel := context.WithCancel(r.Context())
	defer func() {
		cancel()
		p.mu.Lock()
		delete(p.conns, id)
		p.mu.Unlock()
		p.log.Info("panel_disconnected", map[string]interface{}{"conn": id})
	}()

	go p.writeLoop(ctx, c, out)

	for {
		var a Action
		if err := wsjson.Read(ctx, c, &a); err != nil {
			if websocket.CloseStatus(err) == -1 && !errors.Is(err, context.Canceled) {
				p.log.Debug("panel_read_failed", map[string]interface{}{"conn": id, "error": err.Error()})
			}
			return
		}
		p.handle(a)
	}
}

func (p *Panel) writeLoop(ctx context.Context, c *websocket.Conn, out <-chan Frame) {
	for {
		select {
		case <-ctx.Done():
			return
		case f := <-out:
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := wsjson.Write(wctx, c, f)
			cancel()
			if err != nil {
				return
			}
		}
	}
}

// handle runs one action. Every action counts as a user interaction.
func (p *Panel) handle(a Action) {
	p.voice.Unlock()
	p.log.Debug("panel_action", map[string]interface{}{"action": a.Action})

	var err error
	switch a.Action {
	case ActionConnect:
		go func() {
			if err := p.voice.Connect(p.ctx); err != nil && !errors.Is(err, rtvoice.ErrAlreadyStarted) {
				p.log.Warn("connect_failed", map[string]interface{}{"error": err.Error()})
			}
		}()
		return
	case ActionPTTDown, ActionPTTUp:
		down := a.Action == ActionPTTDown
		err = p.voice.PushToTalk(down)
		if err == nil || errors.Is(err, rtvoice.ErrChannelNotOpen) {
			p.mu.Lock()
			p.pttDown = down
			p.broadcastLocked(p.snapshotLocked()[1:])
			p.mu.Unlock()
		}
	case ActionCueShort:
		err = p.voice.CueShort()
	case ActionCueStar:
		err = p.voice.CueStar()
	default:
		p.log.Warn("panel_unknown_action", map[string]interface{}{"action": a.Action})
		return
	}
	if err != nil {
		p.logLine(a.Action + ": " + err.Error())
	}
}
