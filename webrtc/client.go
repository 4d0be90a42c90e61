package webrtc

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/looplab/fsm"
	"github.com/pion/rtp"
	pion "github.com/pion/webrtc/v3"

	"github.com/enesunal-m/rtvoice"
)

// State is a connection phase of the voice client.
type State string

const (
	StateIdle            State = "idle"
	StateRequestingToken State = "requesting-token"
	StateNegotiating     State = "negotiating"
	StateConnected       State = "connected"
	StateError           State = "error"
)

const (
	eventRequestToken = "request_token"
	eventNegotiate    = "negotiate"
	eventEstablish    = "establish"
	eventFail         = "fail"
)

// ControlChannelLabel is the label of the data channel carrying control messages.
const ControlChannelLabel = "oai-events"

// Swapped in tests.
var gatheringCompletePromise = pion.GatheringCompletePromise

// controlChannel is the part of *pion.DataChannel the client writes to.
type controlChannel interface {
	ReadyState() pion.DataChannelState
	SendText(s string) error
}

// Options configures a Client.
type Options struct {
	// Config supplies BaseURL, Model, RequestTimeout and ICEGatheringTimeout.
	Config rtvoice.Config

	// TokenSource yields the short-lived session token. Required.
	TokenSource TokenSource

	// Microphone is asked for audio once per connect attempt. Required.
	Microphone Microphone

	// Speaker receives the first remote audio track. Nil discards remote audio.
	Speaker Speaker

	// AutoplayAllowed starts playback as soon as remote audio arrives.
	// Otherwise playback waits for the first Unlock.
	AutoplayAllowed bool

	HTTPClient *http.Client
	API        *pion.API
	ICEServers []pion.ICEServer
	Logger     *rtvoice.Logger
}

// Client is a single-use voice session with the realtime service. It requests a
// session token, negotiates a peer connection carrying microphone audio and a
// control channel, and then serves push-to-talk and cue actions.
type Client struct {
	cfg  rtvoice.Config
	opts Options
	log  *rtvoice.Logger
	fsm  *fsm.FSM

	started atomic.Bool

	mu        sync.Mutex
	err       error
	closed    bool
	pc        *pion.PeerConnection
	dc        controlChannel
	mic       *micTrack
	src       AudioSource
	stopPump  context.CancelFunc
	pttDown   bool
	trackSeen bool
	element   *playback
	unlocked  bool

	stateHandlers   []func(State)
	messageHandlers []func(rtvoice.InboundMessage)
}

// NewClient validates opts and returns an idle client.
func NewClient(opts Options) (*Client, error) {
	if opts.TokenSource == nil {
		return nil, rtvoice.NewConfigError("TokenSource", "", "cannot be nil")
	}
	if opts.Microphone == nil {
		return nil, rtvoice.NewConfigError("Microphone", "", "cannot be nil")
	}
	cfg := opts.Config
	if cfg.BaseURL == "" {
		cfg.BaseURL = rtvoice.DefaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = rtvoice.DefaultModel
	}
	if cfg.ICEGatheringTimeout <= 0 {
		cfg.ICEGatheringTimeout = rtvoice.DefaultICEGatheringTimeout
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = rtvoice.DefaultRequestTimeout
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: cfg.RequestTimeout}
	}
	log := opts.Logger
	if log == nil {
		log = rtvoice.DefaultLogger
	}

	c := &Client{cfg: cfg, opts: opts, log: log}
	c.fsm = fsm.NewFSM(
		string(StateIdle),
		fsm.Events{
			{Name: eventRequestToken, Src: []string{string(StateIdle)}, Dst: string(StateRequestingToken)},
			{Name: eventNegotiate, Src: []string{string(StateRequestingToken)}, Dst: string(StateNegotiating)},
			{Name: eventEstablish, Src: []string{string(StateNegotiating)}, Dst: string(StateConnected)},
			{Name: eventFail, Src: []string{string(StateRequestingToken), string(StateNegotiating)}, Dst: string(StateError)},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				c.stateChanged(State(e.Src), State(e.Dst))
			},
		},
	)
	return c, nil
}

// State returns the current connection phase.
func (c *Client) State() State { return State(c.fsm.Current()) }

// Err returns the error that moved the client to StateError, if any.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// OnStateChange registers a handler called after every state transition.
func (c *Client) OnStateChange(fn func(State)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stateHandlers = append(c.stateHandlers, fn)
}

// OnMessage registers a handler for inbound control channel messages.
func (c *Client) OnMessage(fn func(rtvoice.InboundMessage)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messageHandlers = append(c.messageHandlers, fn)
}

func (c *Client) stateChanged(from, to State) {
	c.log.Info("state_changed", map[string]interface{}{"from": string(from), "to": string(to)})
	c.mu.Lock()
	handlers := append([]func(State){}, c.stateHandlers...)
	c.mu.Unlock()
	for _, h := range handlers {
		h(to)
	}
}

func (c *Client) transition(event string) error {
	return c.fsm.Event(context.Background(), event)
}

// Connect runs the whole connect sequence: token, peer connection, microphone,
// offer, bounded ICE gathering, SDP exchange. It is legal once, from StateIdle.
// Any failure leaves the client in StateError.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return rtvoice.ErrClosed
	}
	if !c.started.CompareAndSwap(false, true) {
		return rtvoice.ErrAlreadyStarted
	}
	if err := c.transition(eventRequestToken); err != nil {
		return err
	}

	token, err := c.opts.TokenSource.FetchToken(ctx)
	if err != nil {
		return c.fail("token_fetch_failed", err)
	}
	// The token itself is never logged.
	c.log.Info("token_received", nil)

	if err := c.transition(eventNegotiate); err != nil {
		return c.fail("transition_failed", err)
	}
	offer, err := c.negotiate(ctx)
	if err != nil {
		return c.fail("negotiation_failed", err)
	}

	url := c.cfg.RealtimeURL()
	c.log.Debug("sdp_offer_sent", map[string]interface{}{"url": url, "bytes": len(offer)})
	answer, err := ExchangeSDP(ctx, c.opts.HTTPClient, url, token, offer)
	if err != nil {
		return c.fail("sdp_exchange_failed", err)
	}

	c.mu.Lock()
	pc := c.pc
	c.mu.Unlock()
	if pc == nil {
		return c.fail("negotiation_failed", rtvoice.ErrClosed)
	}
	if err := pc.SetRemoteDescription(pion.SessionDescription{Type: pion.SDPTypeAnswer, SDP: answer}); err != nil {
		return c.fail("set_remote_description_failed", err)
	}
	if err := c.transition(eventEstablish); err != nil {
		return c.fail("transition_failed", err)
	}
	c.log.Info("connected", nil)
	return nil
}

func (c *Client) fail(event string, err error) error {
	c.mu.Lock()
	c.err = err
	c.mu.Unlock()
	fields := map[string]interface{}{"error": err.Error()}
	if errors.Is(err, rtvoice.ErrPermissionDenied) {
		fields["permission_denied"] = true
	}
	c.log.Error(event, fields)
	c.release()
	if terr := c.transition(eventFail); terr != nil {
		c.log.Warn("transition_failed", map[string]interface{}{"error": terr.Error()})
	}
	return err
}

func (c *Client) newPeerConnection() (*pion.PeerConnection, error) {
	pcfg := pion.Configuration{ICEServers: c.opts.ICEServers}
	if c.opts.API != nil {
		return c.opts.API.NewPeerConnection(pcfg)
	}
	return pion.NewPeerConnection(pcfg)
}

// negotiate builds the peer connection and returns the local offer SDP once
// gathering completes or the gathering timeout elapses.
func (c *Client) negotiate(ctx context.Context) (string, error) {
	pc, err := c.newPeerConnection()
	if err != nil {
		return "", err
	}
	c.mu.Lock()
	c.pc = pc
	c.mu.Unlock()

	pc.OnConnectionStateChange(func(s pion.PeerConnectionState) {
		c.log.Debug("peer_connection_state", map[string]interface{}{"state": s.String()})
	})
	pc.OnTrack(c.handleTrack)
	pc.OnDataChannel(func(dc *pion.DataChannel) {
		c.log.Info("remote_data_channel", map[string]interface{}{"label": dc.Label()})
		c.bindInbound(dc)
	})

	if _, err := pc.AddTransceiverFromKind(pion.RTPCodecTypeAudio, pion.RTPTransceiverInit{
		Direction: pion.RTPTransceiverDirectionRecvonly,
	}); err != nil {
		return "", err
	}

	dc, err := pc.CreateDataChannel(ControlChannelLabel, nil)
	if err != nil {
		return "", err
	}
	dc.OnOpen(func() { c.log.Info("control_channel_open", map[string]interface{}{"label": dc.Label()}) })
	dc.OnClose(func() { c.log.Info("control_channel_closed", map[string]interface{}{"label": dc.Label()}) })
	c.bindInbound(dc)
	c.mu.Lock()
	c.dc = dc
	c.mu.Unlock()

	src, err := c.opts.Microphone.Capture(ctx)
	if err != nil {
		return "", err
	}
	mic, err := newMicTrack()
	if err != nil {
		src.Close()
		return "", err
	}
	// Reuses the receive-only audio transceiver, which becomes send/receive.
	if _, err := pc.AddTrack(mic.track); err != nil {
		src.Close()
		return "", err
	}
	pumpCtx, stop := context.WithCancel(context.Background())
	c.mu.Lock()
	c.mic, c.src, c.stopPump = mic, src, stop
	c.mu.Unlock()
	go mic.pump(pumpCtx, src, c.log)
	c.log.Info("mic_captured", nil)

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		return "", err
	}
	gatherComplete := gatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(offer); err != nil {
		return "", err
	}

	waitCtx, cancel := context.WithTimeout(ctx, c.cfg.ICEGatheringTimeout)
	defer cancel()
	select {
	case <-gatherComplete:
		c.log.Debug("ice_gathering_complete", nil)
	case <-waitCtx.Done():
		if err := ctx.Err(); err != nil {
			return "", err
		}
		c.log.Warn("ice_gathering_timeout", map[string]interface{}{"timeout": c.cfg.ICEGatheringTimeout.String()})
	}

	local := pc.LocalDescription()
	if local == nil {
		return "", errors.New("missing local description")
	}
	return local.SDP, nil
}

func (c *Client) bindInbound(dc *pion.DataChannel) {
	dc.OnMessage(func(m pion.DataChannelMessage) {
		c.handleInbound(m.Data)
	})
}

func (c *Client) handleInbound(data []byte) {
	msg, _ := rtvoice.ParseInboundMessage(data)
	key := "event"
	if !msg.Parsed {
		key = "raw"
	}
	fields := map[string]interface{}{key: msg.LogValue()}
	if msg.Type != "" {
		fields["type"] = msg.Type
	}
	c.log.Info("model_event", fields)
	c.mu.Lock()
	handlers := append([]func(rtvoice.InboundMessage){}, c.messageHandlers...)
	c.mu.Unlock()
	for _, h := range handlers {
		h(msg)
	}
}

func (c *Client) handleTrack(track *pion.TrackRemote, _ *pion.RTPReceiver) {
	if track.Kind() != pion.RTPCodecTypeAudio {
		return
	}
	c.attachPlayback(track.ID(), track.Codec(), func() (*rtp.Packet, error) {
		pkt, _, err := track.ReadRTP()
		return pkt, err
	})
}

// attachPlayback gives the first remote audio stream a playback element.
// Later streams are ignored.
func (c *Client) attachPlayback(id string, codec pion.RTPCodecParameters, read func() (*rtp.Packet, error)) {
	c.mu.Lock()
	if c.trackSeen {
		c.mu.Unlock()
		c.log.Debug("remote_track_ignored", map[string]interface{}{"track": id})
		return
	}
	c.trackSeen = true
	speaker := c.opts.Speaker
	c.mu.Unlock()
	if speaker == nil {
		return
	}

	sink, err := speaker.Attach(codec)
	if err != nil {
		c.log.Error("playback_attach_failed", map[string]interface{}{"error": err.Error()})
		return
	}
	el := &playback{id: id, read: read, sink: sink}
	c.mu.Lock()
	c.element = el
	play := c.opts.AutoplayAllowed || c.unlocked
	c.mu.Unlock()
	if play {
		el.start(c.log)
		return
	}
	c.log.Info("playback_deferred", map[string]interface{}{"track": id})
}

// Unlock records a user interaction. Playback deferred for lack of autoplay
// permission starts now.
func (c *Client) Unlock() {
	c.mu.Lock()
	c.unlocked = true
	el := c.element
	c.mu.Unlock()
	if el != nil {
		el.start(c.log)
	}
}

// PushToTalk enables the microphone while down is true. Releasing it asks the
// model to respond to what it heard. Repeating the current value does nothing.
func (c *Client) PushToTalk(down bool) error {
	if c.State() != StateConnected {
		return rtvoice.ErrNotConnected
	}
	c.mu.Lock()
	prev := c.pttDown
	c.pttDown = down
	mic := c.mic
	c.mu.Unlock()

	if mic != nil {
		mic.enabled.Store(down)
	}
	if prev == down {
		return nil
	}
	c.log.Debug("ptt", map[string]interface{}{"down": down})
	if prev && !down {
		return c.send(rtvoice.NewSpokenResponse())
	}
	return nil
}

// SendCue sends a user.cue with text. It fails with rtvoice.ErrChannelNotOpen
// without writing anything when the control channel is not open.
func (c *Client) SendCue(text string) error {
	if c.State() != StateConnected {
		return rtvoice.ErrNotConnected
	}
	return c.send(rtvoice.NewUserCue(text))
}

// CueShort asks for a shorter version of the answer.
func (c *Client) CueShort() error { return c.SendCue(rtvoice.CueShortVersion) }

// CueStar asks for the answer restructured in STAR form.
func (c *Client) CueStar() error { return c.SendCue(rtvoice.CueSTARVersion) }

func (c *Client) send(msg rtvoice.ControlMessage) error {
	c.mu.Lock()
	dc := c.dc
	c.mu.Unlock()
	if dc == nil || dc.ReadyState() != pion.DataChannelStateOpen {
		c.log.Warn("control_channel_not_open", map[string]interface{}{"type": msg.MessageType()})
		return rtvoice.ErrChannelNotOpen
	}
	b, err := rtvoice.MarshalControlMessage(msg)
	if err != nil {
		return err
	}
	if err := dc.SendText(string(b)); err != nil {
		return rtvoice.NewSendError(msg.MessageType(), err)
	}
	c.log.Debug("control_message_sent", map[string]interface{}{"type": msg.MessageType()})
	return nil
}

// Close releases the peer connection, microphone and playback element. It is
// meant for process shutdown and does not change State.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()
	return c.release()
}

func (c *Client) release() error {
	c.mu.Lock()
	pc, src, stop, el := c.pc, c.src, c.stopPump, c.element
	c.pc, c.src, c.stopPump, c.element = nil, nil, nil, nil
	c.mu.Unlock()

	if stop != nil {
		stop()
	}
	var errs []error
	if src != nil {
		errs = append(errs, src.Close())
	}
	if el != nil {
		errs = append(errs, el.sink.Close())
	}
	if pc != nil {
		errs = append(errs, pc.Close())
	}
	return errors.Join(errs...)
}
