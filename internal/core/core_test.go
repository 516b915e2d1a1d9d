package core

import (
	"testing"

	"github.com/autodev/remote-drive/internal/wire"
)

func newBareCore() *Core {
	return &Core{cfg: testConfig(), reg: newRegistry(), disp: newDispatcher(nil)}
}

func TestHeartbeatPingPongPayloads(t *testing.T) {
	if string(heartbeatPing) != "ping" {
		t.Fatalf("heartbeatPing = %q, want %q", heartbeatPing, "ping")
	}
	if string(heartbeatPong) != "pong" {
		t.Fatalf("heartbeatPong = %q, want %q", heartbeatPong, "pong")
	}
}

// TestHandleMessageHeartbeatDoesNotInvokeOnMessage exercises the
// heartbeat-channel branch of handleMessage without a real DataChannel: a
// session with no heartbeat channel wired must not panic on a ping, and
// heartbeat traffic must never reach the application's OnMessage handler.
func TestHandleMessageHeartbeatDoesNotInvokeOnMessage(t *testing.T) {
	c := newBareCore()
	var onMessageCalled bool
	c.handlers.OnMessage = func(PeerId, string, []byte) { onMessageCalled = true }

	s := newSession("vehicle-1", RoleOfferer)
	c.reg.put(s)

	c.handleMessage(sessionMessageEvent{peer: "vehicle-1", label: c.cfg.Channels.Heartbeat, data: heartbeatPing})

	if s.lastRx != c.tick {
		t.Fatalf("expected lastRx updated to current tick")
	}
	if onMessageCalled {
		t.Fatalf("heartbeat traffic must not reach OnMessage")
	}
}

func TestHandleMessageNonHeartbeatInvokesOnMessage(t *testing.T) {
	c := newBareCore()
	var gotLabel string
	var gotPayload []byte
	c.handlers.OnMessage = func(_ PeerId, label string, payload []byte) {
		gotLabel, gotPayload = label, payload
	}

	s := newSession("vehicle-1", RoleOfferer)
	c.reg.put(s)

	c.handleMessage(sessionMessageEvent{peer: "vehicle-1", label: c.cfg.Channels.Control, data: []byte("hi")})

	if gotLabel != c.cfg.Channels.Control || string(gotPayload) != "hi" {
		t.Fatalf("expected OnMessage(control, \"hi\"), got (%s, %q)", gotLabel, gotPayload)
	}
}

// TestHandleEnvelopeDropsMisaddressed covers spec.md §4.4: an envelope
// addressed to a different local ID never reaches routing, so no session is
// created for it.
func TestHandleEnvelopeDropsMisaddressed(t *testing.T) {
	c := newBareCore()
	env := &wire.Envelope{Kind: wire.KindOffer, From: "someone", To: "not-me", SDP: "v=0"}

	c.handleEnvelope(env)

	if _, ok := c.reg.get("someone"); ok {
		t.Fatalf("an envelope addressed to a different local ID must not create a session")
	}
}

// TestHandleEnvelopeAllowsBareJoin ensures a Join with an empty To (a
// broadcast presence announcement) is not caught by the misaddressed-drop
// check, and that handling it never touches the Signaling Link when no
// session is outstanding.
func TestHandleEnvelopeAllowsBareJoin(t *testing.T) {
	c := newBareCore()
	env := &wire.Envelope{Kind: wire.KindJoin, From: "newcomer"}

	c.handleEnvelope(env)

	if _, ok := c.reg.get("newcomer"); ok {
		t.Fatalf("a bare Join must not create a registry entry")
	}
}

func TestHandleDisconnectGraceExpiredIgnoresStaleEpoch(t *testing.T) {
	c := newBareCore()
	s := newSession("vehicle-1", RoleOfferer)
	s.transport = TransportDisconnected
	s.disconnectEpoch = 2
	c.reg.put(s)

	c.handleDisconnectGraceExpired(sessionDisconnectGraceExpiredEvent{peer: "vehicle-1", epoch: 1})

	if _, ok := c.reg.get("vehicle-1"); !ok {
		t.Fatalf("a grace timer from a superseded disconnect must not close the session")
	}
}

func TestHandleDisconnectGraceExpiredIgnoresReconnectedSession(t *testing.T) {
	c := newBareCore()
	s := newSession("vehicle-1", RoleOfferer)
	s.transport = TransportConnected
	s.disconnectEpoch = 1
	c.reg.put(s)

	c.handleDisconnectGraceExpired(sessionDisconnectGraceExpiredEvent{peer: "vehicle-1", epoch: 1})

	if _, ok := c.reg.get("vehicle-1"); !ok {
		t.Fatalf("a session that reconnected before its grace timer fired must not be closed")
	}
}
