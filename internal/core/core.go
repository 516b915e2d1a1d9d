package core

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/autodev/remote-drive/internal/config"
	"github.com/autodev/remote-drive/internal/signaling"
	"github.com/autodev/remote-drive/internal/util"
	"github.com/autodev/remote-drive/internal/wire"
)

// heartbeatPing and heartbeatPong are the literal payloads the heartbeat
// channel carries (spec.md §3, §4.5): a ping is answered with a pong on the
// same channel, and either one counts as traffic for liveness purposes.
var (
	heartbeatPing = []byte("ping")
	heartbeatPong = []byte("pong")
)

// Handlers is the application's observer wiring (spec.md §6.2). It is
// supplied once at New and never mutated afterward — every handler runs on
// the Dispatcher worker goroutine, so implementations must not block or
// call back into Core synchronously.
type Handlers struct {
	OnLinkUp       func()
	OnLinkDown     func(reason string)
	OnLinkError    func(msg string)
	OnPeerUp       func(peer PeerId)
	OnPeerDown     func(peer PeerId, reason string)
	OnMessage      func(peer PeerId, label string, payload []byte)
	OnPeerError    func(peer PeerId, msg string)
	OnLivenessLost func(peer PeerId)
}

// Core is the façade over the Signaling Link, the Session Registry, the
// Dispatcher, and the Liveness Monitor (spec.md §4, §6.2). It is the only
// exported type applications construct directly.
type Core struct {
	cfg      config.Config
	handlers Handlers

	link *signaling.Link
	disp *dispatcher
	reg  *registry
	tick uint64

	stopping atomic.Bool
	failed   atomic.Bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New validates cfg and wires the Signaling Link's callbacks to post
// Dispatcher events. It does not connect or start any goroutines; call
// Start for that.
func New(cfg config.Config, handlers Handlers) (*Core, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfigInvalid, err)
	}

	c := &Core{cfg: cfg, handlers: handlers, reg: newRegistry()}
	c.disp = newDispatcher(c.onSaturated)
	c.link = signaling.New(cfg.SignalingURI, cfg.SignalingToken, cfg.Backoff, cfg.LinkQueueDepth, cfg.CABundlePath, signaling.Handlers{
		OnOpened:   func() { c.disp.post(linkOpenedEvent{}) },
		OnClosed:   func(reason string) { c.disp.post(linkClosedEvent{reason: reason}) },
		OnError:    func(msg string) { c.disp.post(linkErrorEvent{msg: msg}) },
		OnEnvelope: func(e *wire.Envelope) { c.disp.post(linkEnvelopeEvent{envelope: e}) },
	})
	return c, nil
}

// Start connects the Signaling Link, starts the Dispatcher worker and the
// Liveness Monitor ticker, and announces local presence.
func (c *Core) Start(ctx context.Context) {
	c.ctx, c.cancel = context.WithCancel(ctx)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.disp.run(c.handle)
	}()

	c.link.Connect(c.ctx)
	startLivenessTicker(c.ctx, c.cfg.Heartbeat, c.disp.post)
	c.link.Send(&wire.Envelope{Kind: wire.KindJoin, From: PeerId(c.cfg.LocalID)})
}

// Stop closes every session, shuts down the Signaling Link, and waits for
// the Dispatcher to drain. If sessions do not close within
// cfg.ShutdownDeadline it proceeds anyway (spec.md §7, ShutdownTimeout).
func (c *Core) Stop() {
	if !c.stopping.CompareAndSwap(false, true) {
		return
	}

	done := make(chan struct{})
	c.disp.postControl(cmdStop{done: done})

	select {
	case <-done:
	case <-time.After(c.cfg.ShutdownDeadline):
		util.LogWarning("shutdown deadline exceeded, force-closing outstanding sessions")
		timeoutDone := make(chan struct{})
		c.disp.postControl(cmdShutdownTimeout{done: timeoutDone})
		select {
		case <-timeoutDone:
		case <-time.After(c.cfg.ShutdownDeadline):
			util.LogError("dispatcher unresponsive during shutdown timeout, closing link anyway")
		}
	}

	c.link.Close(ReasonLocalClose)
	if c.cancel != nil {
		c.cancel()
	}
	c.disp.stop()
	c.wg.Wait()
}

// ConnectTo initiates an offerer-side handshake to peer, blocking until the
// offer has been created and queued on the Signaling Link (not until the
// handshake completes; watch OnPeerUp for that).
func (c *Core) ConnectTo(peer PeerId) error {
	if c.stopping.Load() {
		return ErrShuttingDown
	}
	if c.failed.Load() {
		return ErrCoreFailed
	}
	result := make(chan error, 1)
	c.disp.postControl(cmdConnectTo{peer: peer, result: result})
	return <-result
}

// Disconnect closes peer's session, if any, and notifies it with reason.
func (c *Core) Disconnect(peer PeerId, reason string) {
	if c.stopping.Load() || c.failed.Load() {
		return
	}
	done := make(chan struct{})
	c.disp.postControl(cmdDisconnect{peer: peer, reason: reason, done: done})
	<-done
}

// Send writes payload to peer's channel named label. It never blocks on
// network I/O; backpressure and a missing peer/channel both return
// immediately as errors.
func (c *Core) Send(peer PeerId, label string, payload []byte) error {
	if c.stopping.Load() {
		return ErrShuttingDown
	}
	if c.failed.Load() {
		return ErrCoreFailed
	}
	result := make(chan error, 1)
	c.disp.postControl(cmdSend{peer: peer, label: label, data: payload, result: result})
	return <-result
}

// BroadcastResult reports one peer's outcome from a Broadcast call.
type BroadcastResult = cmdBroadcastResult

// Broadcast writes payload to every connected peer's channel named label,
// returning a per-peer result rather than failing the whole call when one
// peer's channel is backpressured or absent.
func (c *Core) Broadcast(label string, payload []byte) []BroadcastResult {
	if c.stopping.Load() || c.failed.Load() {
		return nil
	}
	result := make(chan []cmdBroadcastResult, 1)
	c.disp.postControl(cmdBroadcast{label: label, data: payload, result: result})
	return <-result
}

// onSaturated fires once, from whichever goroutine first observes a full
// Dispatcher event queue (spec.md §7, DispatcherSaturated). It does not run
// on the Dispatcher worker itself, since the worker is backlogged, so it
// cannot touch session/registry state directly; it only posts
// dispatcherFailedEvent on the separate control channel, which the worker
// drains ahead of the backlog (spec.md §4.6, §7: "core enters Failed, all
// sessions force-closed").
func (c *Core) onSaturated() {
	util.LogError("dispatcher saturated, forcing core into failed state")
	c.failed.Store(true)
	c.disp.postControl(dispatcherFailedEvent{})
}

// handle is the Dispatcher worker's sole event consumer. It is the only
// function in this package allowed to read or write session/registry
// state without synchronization.
func (c *Core) handle(e dispatchEvent) {
	switch ev := e.(type) {
	case linkOpenedEvent:
		util.LogInfo("signaling link up")
		if c.handlers.OnLinkUp != nil {
			c.handlers.OnLinkUp()
		}
	case linkClosedEvent:
		if c.handlers.OnLinkDown != nil {
			c.handlers.OnLinkDown(ev.reason)
		}
	case linkErrorEvent:
		if c.handlers.OnLinkError != nil {
			c.handlers.OnLinkError(ev.msg)
		}
	case linkEnvelopeEvent:
		c.handleEnvelope(ev.envelope)
	case sessionLocalCandidateEvent:
		c.handleLocalCandidate(ev)
	case sessionTransportStateEvent:
		c.handleTransportState(ev)
	case sessionChannelAnnouncedEvent:
		c.handleChannelAnnounced(ev)
	case sessionChannelOpenEvent:
		c.handleChannelOpen(ev)
	case sessionChannelCloseEvent:
		c.handleChannelClose(ev)
	case sessionMessageEvent:
		c.handleMessage(ev)
	case sessionCreateFailedEvent:
		if c.handlers.OnPeerError != nil {
			c.handlers.OnPeerError(ev.peer, ev.err.Error())
		}
	case sessionProtocolErrorEvent:
		if c.handlers.OnPeerError != nil {
			c.handlers.OnPeerError(ev.peer, ev.msg)
		}
	case sessionDisconnectGraceExpiredEvent:
		c.handleDisconnectGraceExpired(ev)
	case dispatcherFailedEvent:
		c.handleDispatcherFailed()
	case tickEvent:
		c.handleTick()
	case cmdConnectTo:
		c.handleConnectTo(ev)
	case cmdDisconnect:
		c.handleDisconnect(ev)
	case cmdSend:
		c.handleSend(ev)
	case cmdBroadcast:
		c.handleBroadcast(ev)
	case cmdStop:
		c.handleStop(ev)
	case cmdShutdownTimeout:
		c.handleShutdownTimeout(ev)
	default:
		util.LogWarning("dispatcher: unhandled event type %T", e)
	}
}

func (c *Core) handleEnvelope(env *wire.Envelope) {
	// An envelope addressed to a different local ID is dropped (spec.md
	// §4.4) — the signaling service fans out to every peer, so this is the
	// only thing that keeps us from processing offers/answers/candidates
	// meant for a bystander. A bare Join has no To.
	if env.To != "" && env.To != PeerId(c.cfg.LocalID) {
		return
	}

	switch env.Kind {
	case wire.KindJoin:
		// A fresh Join from a peer we already hold an offerer-side session
		// for means the Link reconnected on their end; the original offer
		// may never have arrived, so re-send it (spec.md §3, Session.attempts).
		if s, ok := c.reg.get(env.From); ok && s.role == RoleOfferer && s.lastOfferSDP != "" {
			s.attempts++
			c.link.Send(&wire.Envelope{Kind: wire.KindOffer, From: PeerId(c.cfg.LocalID), To: env.From, SDP: s.lastOfferSDP})
		}
		return
	case wire.KindLeave:
		if s, ok := c.reg.get(env.From); ok {
			c.reg.remove(env.From)
			s.close()
			if c.handlers.OnPeerDown != nil {
				c.handlers.OnPeerDown(env.From, env.Reason)
			}
		}
		return
	case wire.KindError:
		if c.handlers.OnPeerError != nil {
			c.handlers.OnPeerError(env.From, env.Reason)
		}
		return
	}

	s := c.reg.routeEnvelope(env, c.cfg, c.disp.post)
	if s == nil {
		return
	}

	switch env.Kind {
	case wire.KindOffer:
		answerSDP, err := s.applyRemoteOffer(env.SDP)
		if err != nil {
			// Leave the session in its prior state rather than destroying it
			// (spec.md §4.3.5) — a bad SDP here doesn't mean the peer is
			// gone, and removing it here would also leak the PeerConnection
			// since s.close() is never called.
			util.LogError("apply remote offer from %s: %v", env.From, err)
			if c.handlers.OnPeerError != nil {
				c.handlers.OnPeerError(env.From, "bad_sdp")
			}
			return
		}
		c.link.Send(&wire.Envelope{Kind: wire.KindAnswer, From: PeerId(c.cfg.LocalID), To: env.From, SDP: answerSDP})
	case wire.KindAnswer:
		if err := s.applyRemoteAnswer(env.SDP); err != nil {
			util.LogError("apply remote answer from %s: %v", env.From, err)
			if c.handlers.OnPeerError != nil {
				c.handlers.OnPeerError(env.From, "bad_sdp")
			}
		}
	case wire.KindCandidate:
		if env.Candidate == nil {
			return
		}
		if err := s.addRemoteCandidate(*env.Candidate); err != nil {
			util.LogWarning("add remote candidate from %s: %v", env.From, err)
			if c.handlers.OnPeerError != nil {
				c.handlers.OnPeerError(env.From, "bad_candidate")
			}
		}
	default:
		util.LogWarning("unhandled envelope kind %q from %s", env.Kind, env.From)
	}
}

func (c *Core) handleLocalCandidate(ev sessionLocalCandidateEvent) {
	if ev.candidate == nil {
		return
	}
	init := ev.candidate.ToJSON()
	var mlineIndex int32
	if init.SDPMLineIndex != nil {
		mlineIndex = int32(*init.SDPMLineIndex)
	}
	var mid string
	if init.SDPMid != nil {
		mid = *init.SDPMid
	}
	c.link.Send(&wire.Envelope{
		Kind:      wire.KindCandidate,
		From:      PeerId(c.cfg.LocalID),
		To:        ev.peer,
		Candidate: &wire.Candidate{Mid: mid, MLineIndex: mlineIndex, SDP: init.Candidate},
	})
}

func (c *Core) handleTransportState(ev sessionTransportStateEvent) {
	s, ok := c.reg.get(ev.peer)
	if !ok {
		return
	}
	switch ev.state {
	case webrtc.PeerConnectionStateConnecting:
		s.transport = TransportConnecting
		s.disconnectEpoch++
	case webrtc.PeerConnectionStateConnected:
		s.transport = TransportConnected
		s.disconnectEpoch++
	case webrtc.PeerConnectionStateDisconnected:
		// Closing only once Disconnected persists beyond a grace period
		// (spec.md §4.3.5, default 5s) tolerates a momentary ICE blip
		// instead of killing the session on the first missed keepalive.
		s.transport = TransportDisconnected
		s.disconnectEpoch++
		peer, epoch := ev.peer, s.disconnectEpoch
		time.AfterFunc(c.cfg.TransportDisconnectGrace, func() {
			c.disp.post(sessionDisconnectGraceExpiredEvent{peer: peer, epoch: epoch})
		})
	case webrtc.PeerConnectionStateFailed:
		s.transport = TransportFailed
		c.closeSession(s, ReasonTransportFailed)
	case webrtc.PeerConnectionStateClosed:
		s.transport = TransportClosed
	}
}

// handleDisconnectGraceExpired closes a session whose transport has sat in
// Disconnected for the full grace period. epoch guards against a session
// that reconnected (or disconnected again) since the timer was armed.
func (c *Core) handleDisconnectGraceExpired(ev sessionDisconnectGraceExpiredEvent) {
	s, ok := c.reg.get(ev.peer)
	if !ok {
		return
	}
	if s.transport != TransportDisconnected || s.disconnectEpoch != ev.epoch {
		return
	}
	c.closeSession(s, ReasonTransportDisconnected)
}

// handleDispatcherFailed force-closes every outstanding session and marks
// Core permanently failed (spec.md §7, "DispatcherSaturated"). It runs on
// the Dispatcher worker like every other handler, reached via the control
// channel so a backlog on the main event queue cannot block it.
func (c *Core) handleDispatcherFailed() {
	for _, s := range c.reg.all() {
		c.closeSession(s, ReasonDispatcherSaturated)
	}
	if c.handlers.OnLinkError != nil {
		c.handlers.OnLinkError("dispatcher saturated")
	}
}

// handleShutdownTimeout runs when Stop's cfg.ShutdownDeadline elapses
// before the ordinary cmdStop finished: every session still in the
// registry is force-closed with ReasonShutdownTimeout instead of
// ReasonLocalClose (spec.md §5, §7, testable property #8).
func (c *Core) handleShutdownTimeout(cmd cmdShutdownTimeout) {
	for _, s := range c.reg.all() {
		c.closeSession(s, ReasonShutdownTimeout)
	}
	close(cmd.done)
}

func (c *Core) handleChannelAnnounced(ev sessionChannelAnnouncedEvent) {
	s, ok := c.reg.get(ev.peer)
	if !ok {
		return
	}
	s.adoptAnnouncedChannel(ev.dc, c.cfg.Channels, c.cfg.ChannelBufferBytes, c.disp.post)
}

func (c *Core) handleChannelOpen(ev sessionChannelOpenEvent) {
	s, ok := c.reg.get(ev.peer)
	if !ok {
		return
	}
	s.lastRx = c.tick
	if s.markChannelOpen(ev.label, c.cfg.Channels) {
		s.handshake = HandshakeStable
		s.counted = true
		util.Stats.AddConn()
		if c.handlers.OnPeerUp != nil {
			c.handlers.OnPeerUp(ev.peer)
		}
	}
}

func (c *Core) handleChannelClose(ev sessionChannelCloseEvent) {
	s, ok := c.reg.get(ev.peer)
	if !ok {
		return
	}
	s.markChannelClosed(ev.label, c.cfg.Channels)
}

func (c *Core) handleMessage(ev sessionMessageEvent) {
	s, ok := c.reg.get(ev.peer)
	if !ok {
		return
	}
	s.lastRx = c.tick
	util.Stats.AddRecv(len(ev.data))
	if ev.label == c.cfg.Channels.Heartbeat {
		// Answer an inbound ping with a pong on the same channel; a pong
		// needs no reply, or the two sides would ping-pong forever
		// (spec.md §3, §4.5).
		if bytes.Equal(ev.data, heartbeatPing) && s.heartbeat != nil {
			_ = s.heartbeat.send(heartbeatPong)
		}
		return
	}
	if c.handlers.OnMessage != nil {
		c.handlers.OnMessage(ev.peer, ev.label, ev.data)
	}
}

func (c *Core) handleTick() {
	c.tick++
	deadline := heartbeatDeadlineTicks(c.cfg.Heartbeat)
	for _, s := range c.reg.all() {
		if s.handshake != HandshakeStable {
			continue
		}
		if s.heartbeat != nil && s.heartbeat.state == ChannelOpen {
			_ = s.heartbeat.send(heartbeatPing)
		}
		if c.tick-s.lastRx >= deadline {
			if c.handlers.OnLivenessLost != nil {
				c.handlers.OnLivenessLost(s.peer)
			}
			c.closeSession(s, ReasonHeartbeatLost)
		}
	}
}

func (c *Core) handleConnectTo(cmd cmdConnectTo) {
	if _, ok := c.reg.get(cmd.peer); ok {
		cmd.result <- nil
		return
	}

	s := newSession(cmd.peer, RoleOfferer)
	pc, err := newPeerConnection(cmd.peer, c.cfg, c.disp.post)
	if err != nil {
		cmd.result <- err
		return
	}
	s.pc = pc

	control, telemetry, heartbeat, err := createLocalChannels(cmd.peer, pc, c.cfg.Channels, c.cfg.ChannelBufferBytes, c.disp.post)
	if err != nil {
		pc.Close()
		cmd.result <- err
		return
	}
	s.control, s.telemetry, s.heartbeat = control, telemetry, heartbeat

	sdp, err := s.applyLocalOffer()
	if err != nil {
		pc.Close()
		cmd.result <- err
		return
	}

	c.reg.put(s)
	c.link.Send(&wire.Envelope{Kind: wire.KindOffer, From: PeerId(c.cfg.LocalID), To: cmd.peer, SDP: sdp})
	cmd.result <- nil
}

func (c *Core) handleDisconnect(cmd cmdDisconnect) {
	if s, ok := c.reg.get(cmd.peer); ok {
		c.closeSession(s, cmd.reason)
	}
	close(cmd.done)
}

func (c *Core) handleSend(cmd cmdSend) {
	s, ok := c.reg.get(cmd.peer)
	if !ok {
		cmd.result <- ErrPeerGone
		return
	}
	ch := s.channelByLabel(cmd.label, c.cfg.Channels)
	if ch == nil {
		cmd.result <- ErrChannelNotReady
		return
	}
	cmd.result <- ch.send(cmd.data)
}

func (c *Core) handleBroadcast(cmd cmdBroadcast) {
	sessions := c.reg.all()
	results := make([]cmdBroadcastResult, 0, len(sessions))
	for _, s := range sessions {
		if s.transport != TransportConnected {
			continue
		}
		ch := s.channelByLabel(cmd.label, c.cfg.Channels)
		var err error
		if ch == nil {
			err = ErrChannelNotReady
		} else {
			err = ch.send(cmd.data)
		}
		results = append(results, cmdBroadcastResult{Peer: s.peer, Err: err})
	}
	cmd.result <- results
}

func (c *Core) handleStop(cmd cmdStop) {
	for _, s := range c.reg.all() {
		c.closeSession(s, ReasonLocalClose)
	}
	close(cmd.done)
}

// closeSession tears down s, notifies the remote peer via Leave, removes it
// from the registry, and fires OnPeerDown. Callers must already be running
// on the Dispatcher worker.
func (c *Core) closeSession(s *session, reason string) {
	_ = s.close()
	c.reg.remove(s.peer)
	if s.counted {
		util.Stats.RemoveConn()
	}
	c.link.Send(&wire.Envelope{Kind: wire.KindLeave, From: PeerId(c.cfg.LocalID), To: s.peer, Reason: reason})
	if c.handlers.OnPeerDown != nil {
		c.handlers.OnPeerDown(s.peer, reason)
	}
}
