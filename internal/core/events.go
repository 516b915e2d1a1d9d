package core

import (
	"github.com/pion/webrtc/v4"

	"github.com/autodev/remote-drive/internal/wire"
)

// dispatchEvent is the Dispatcher's event union (spec.md §4.6). Producers —
// the Signaling Link, each Session's pion callbacks, the Liveness Monitor,
// and application-thread commands — post one of the concrete types below.
// The Dispatcher worker is the only reader; it type-switches on the value.
type dispatchEvent any

// --- Link events --------------------------------------------------------

type linkOpenedEvent struct{}
type linkClosedEvent struct{ reason string }
type linkErrorEvent struct{ msg string }
type linkEnvelopeEvent struct{ envelope *wire.Envelope }

// --- Session events (posted by a Session's pion callbacks) -------------

type sessionLocalCandidateEvent struct {
	peer      PeerId
	candidate *webrtc.ICECandidate // nil marks end-of-gathering
}

type sessionTransportStateEvent struct {
	peer  PeerId
	state webrtc.PeerConnectionState
}

// sessionChannelAnnouncedEvent fires when an Answerer observes an incoming
// channel via pion's OnDataChannel callback (spec.md §4.3.2).
type sessionChannelAnnouncedEvent struct {
	peer PeerId
	dc   *webrtc.DataChannel
}

type sessionChannelOpenEvent struct {
	peer  PeerId
	label string
}

type sessionChannelCloseEvent struct {
	peer  PeerId
	label string
}

type sessionMessageEvent struct {
	peer  PeerId
	label string
	data  []byte
}

type sessionCreateFailedEvent struct {
	peer PeerId
	err  error
}

// sessionProtocolErrorEvent reports a non-fatal signaling-protocol problem
// tied to peer — an envelope from a peer with no session — surfaced via
// OnPeerError without closing any session (spec.md §4.4). A malformed ICE
// candidate is reported by handleEnvelope calling OnPeerError directly.
type sessionProtocolErrorEvent struct {
	peer PeerId
	msg  string
}

// sessionDisconnectGraceExpiredEvent fires from a timer armed when a
// session's transport goes Disconnected (spec.md §4.3.5). epoch pins it to
// the specific disconnection it was armed for, so a session that
// reconnects and disconnects again before the timer fires does not get
// closed for the wrong reason.
type sessionDisconnectGraceExpiredEvent struct {
	peer  PeerId
	epoch uint32
}

// dispatcherFailedEvent is posted on the control channel by onSaturated
// (spec.md §7, "DispatcherSaturated": core enters Failed, all sessions
// force-closed).
type dispatcherFailedEvent struct{}

// --- Liveness Monitor tick ----------------------------------------------

type tickEvent struct{}

// --- Application commands (spec.md §6.2) -------------------------------

type cmdConnectTo struct {
	peer   PeerId
	result chan<- error
}

type cmdDisconnect struct {
	peer   PeerId
	reason string
	done   chan<- struct{}
}

type cmdSend struct {
	peer   PeerId
	label  string
	data   []byte
	result chan<- error
}

type cmdBroadcastResult struct {
	Peer PeerId
	Err  error
}

type cmdBroadcast struct {
	label  string
	data   []byte
	result chan<- []cmdBroadcastResult
}

type cmdStop struct {
	done chan<- struct{}
}

// cmdShutdownTimeout is posted on the control channel when Stop's
// cfg.ShutdownDeadline elapses before cmdStop's done channel closes
// (spec.md §5, §7, testable property #8: on_peer_down(..., "shutdown_timeout")
// for every session still outstanding).
type cmdShutdownTimeout struct {
	done chan<- struct{}
}
