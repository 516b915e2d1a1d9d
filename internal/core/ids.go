// Package core implements the peer-session runtime: the Peer Session state
// machine, the Session Registry, the Liveness Monitor, the Dispatcher, and
// the Core façade that ties them together (spec.md §4).
package core

import "github.com/autodev/remote-drive/internal/wire"

// PeerId is re-exported from wire so callers of this package never need to
// import wire directly for identity purposes.
type PeerId = wire.PeerId

// Role records which side of the handshake a Session took (spec.md §3).
type Role int

const (
	RoleOfferer Role = iota
	RoleAnswerer
)

func (r Role) String() string {
	if r == RoleOfferer {
		return "offerer"
	}
	return "answerer"
}

// HandshakeState is the Peer Session's SDP/ICE negotiation state
// (spec.md §4.3.1).
type HandshakeState int

const (
	HandshakeNew HandshakeState = iota
	HandshakeLocalOffered
	HandshakeRemoteOffered
	HandshakeLocalAnswered
	HandshakeRemoteAnswered
	HandshakeStable
	HandshakeClosed
)

func (s HandshakeState) String() string {
	switch s {
	case HandshakeNew:
		return "new"
	case HandshakeLocalOffered:
		return "local_offered"
	case HandshakeRemoteOffered:
		return "remote_offered"
	case HandshakeLocalAnswered:
		return "local_answered"
	case HandshakeRemoteAnswered:
		return "remote_answered"
	case HandshakeStable:
		return "stable"
	case HandshakeClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// TransportState mirrors the underlying PeerConnection's lifecycle
// (spec.md §3).
type TransportState int

const (
	TransportNew TransportState = iota
	TransportConnecting
	TransportConnected
	TransportDisconnected
	TransportFailed
	TransportClosed
)

func (s TransportState) String() string {
	switch s {
	case TransportNew:
		return "new"
	case TransportConnecting:
		return "connecting"
	case TransportConnected:
		return "connected"
	case TransportDisconnected:
		return "disconnected"
	case TransportFailed:
		return "failed"
	case TransportClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// ChannelState is a labeled data channel's lifecycle (spec.md §3).
type ChannelState int

const (
	ChannelOpening ChannelState = iota
	ChannelOpen
	ChannelClosed
)

func (s ChannelState) String() string {
	switch s {
	case ChannelOpening:
		return "opening"
	case ChannelOpen:
		return "open"
	case ChannelClosed:
		return "closed"
	default:
		return "unknown"
	}
}
