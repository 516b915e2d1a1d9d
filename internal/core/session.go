package core

import (
	"fmt"

	"github.com/pion/webrtc/v4"

	"github.com/autodev/remote-drive/internal/config"
	"github.com/autodev/remote-drive/internal/wire"
)

// session is one Peer Session (spec.md §3, §4.3): a single pion
// PeerConnection plus its three labeled data channels and handshake
// bookkeeping. Every field below is owned by the Dispatcher worker.
//
// pion invokes OnICECandidate, OnConnectionStateChange, OnDataChannel, and
// each DataChannel's OnOpen/OnClose/OnMessage on pion's own internal
// goroutines. None of those callbacks may touch a session's fields
// directly; they only post a dispatchEvent to postEvent and return. This
// mirrors spec.md §9's "shared mutable state" rule and generalizes the
// original C++ webrtc_manager.h mutex-guarded map into a single-writer model
// with no locking at all.
type session struct {
	peer PeerId
	role Role

	pc *webrtc.PeerConnection

	handshake HandshakeState
	transport TransportState

	// attempts counts Offer (re-)sends: 1 for the initial offer, plus one
	// more each time the Link reconnects and the peer re-announces with a
	// fresh Join while this session is still outstanding (spec.md §3).
	attempts     uint32
	lastOfferSDP string

	control   *dataChannel
	telemetry *dataChannel
	heartbeat *dataChannel

	pendingRemoteCandidates []webrtc.ICECandidateInit
	remoteDescriptionSet    bool

	lastRx uint64 // monotonic tick count at which traffic was last observed

	// disconnectEpoch is bumped every time transport leaves or re-enters
	// Disconnected, so a grace timer armed for an earlier disconnection can
	// tell it is stale once it fires (spec.md §4.3.5).
	disconnectEpoch uint32

	// counted tracks whether util.Stats.AddConn has fired for this session,
	// so closeSession calls RemoveConn exactly once and only for sessions
	// that reached Stable.
	counted bool
}

func newSession(peer PeerId, role Role) *session {
	return &session{
		peer:      peer,
		role:      role,
		handshake: HandshakeNew,
		transport: TransportNew,
	}
}

// newPeerConnection builds the pion PeerConnection for a session and wires
// every callback to post events through postEvent. It does not start ICE
// gathering; callers trigger that via CreateOffer/SetLocalDescription or by
// accepting a remote offer.
func newPeerConnection(peer PeerId, cfg config.Config, postEvent func(dispatchEvent)) (*webrtc.PeerConnection, error) {
	iceServers := make([]webrtc.ICEServer, 0, len(cfg.ICEServers))
	for _, s := range cfg.ICEServers {
		srv := webrtc.ICEServer{URLs: []string{s.URI}}
		if s.Username != "" {
			srv.Username = s.Username
			srv.Credential = s.Credential
		}
		iceServers = append(iceServers, srv)
	}

	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{ICEServers: iceServers})
	if err != nil {
		return nil, fmt.Errorf("create peer connection: %w", err)
	}

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		postEvent(sessionLocalCandidateEvent{peer: peer, candidate: c})
	})

	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		postEvent(sessionTransportStateEvent{peer: peer, state: s})
	})

	pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		postEvent(sessionChannelAnnouncedEvent{peer: peer, dc: dc})
	})

	return pc, nil
}

// wireDataChannel attaches OnOpen/OnClose/OnMessage handlers that post
// events for a channel already created locally (offerer side) or received
// via OnDataChannel (answerer side). label identifies which of the three
// contract channels this is.
func wireDataChannel(peer PeerId, label string, dc *webrtc.DataChannel, postEvent func(dispatchEvent)) {
	dc.OnOpen(func() {
		postEvent(sessionChannelOpenEvent{peer: peer, label: label})
	})
	dc.OnClose(func() {
		postEvent(sessionChannelCloseEvent{peer: peer, label: label})
	})
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		postEvent(sessionMessageEvent{peer: peer, label: label, data: msg.Data})
	})
}

// createLocalChannels opens the three contract channels on the offerer
// side (spec.md §4.3.2). pion requires at least one locally-created channel
// to trigger ICE/SDP negotiation; the offerer creates all three up front so
// negotiation carries every label in a single offer.
func createLocalChannels(peer PeerId, pc *webrtc.PeerConnection, labels config.ChannelLabels, bufferCap uint64, postEvent func(dispatchEvent)) (control, telemetry, heartbeat *dataChannel, err error) {
	ordered := true
	control, err = openLocalChannel(peer, pc, labels.Control, &ordered, bufferCap, postEvent)
	if err != nil {
		return nil, nil, nil, err
	}
	telemetry, err = openLocalChannel(peer, pc, labels.Telemetry, &ordered, bufferCap, postEvent)
	if err != nil {
		return nil, nil, nil, err
	}
	heartbeat, err = openLocalChannel(peer, pc, labels.Heartbeat, &ordered, bufferCap, postEvent)
	if err != nil {
		return nil, nil, nil, err
	}
	return control, telemetry, heartbeat, nil
}

func openLocalChannel(peer PeerId, pc *webrtc.PeerConnection, label string, ordered *bool, bufferCap uint64, postEvent func(dispatchEvent)) (*dataChannel, error) {
	raw, err := pc.CreateDataChannel(label, &webrtc.DataChannelInit{Ordered: ordered})
	if err != nil {
		return nil, fmt.Errorf("create data channel %q: %w", label, err)
	}
	wireDataChannel(peer, label, raw, postEvent)
	return newDataChannel(raw, label, bufferCap), nil
}

// channelByLabel resolves one of the session's three contract channels, or
// nil if label names none of them.
func (s *session) channelByLabel(label string, labels config.ChannelLabels) *dataChannel {
	switch label {
	case labels.Control:
		return s.control
	case labels.Telemetry:
		return s.telemetry
	case labels.Heartbeat:
		return s.heartbeat
	default:
		return nil
	}
}

// adoptAnnouncedChannel binds a pion-delivered channel (OnDataChannel, the
// answerer side) to the session's slot matching its label.
func (s *session) adoptAnnouncedChannel(dc *webrtc.DataChannel, labels config.ChannelLabels, bufferCap uint64, postEvent func(dispatchEvent)) {
	label := dc.Label()
	wireDataChannel(s.peer, label, dc, postEvent)
	wrapped := newDataChannel(dc, label, bufferCap)
	switch label {
	case labels.Control:
		s.control = wrapped
	case labels.Telemetry:
		s.telemetry = wrapped
	case labels.Heartbeat:
		s.heartbeat = wrapped
	}
}

// markChannelOpen flips the matching channel wrapper to ChannelOpen and
// reports whether all three contract channels are now open, which is the
// condition that advances handshake to Stable (spec.md §4.3.1).
func (s *session) markChannelOpen(label string, labels config.ChannelLabels) bool {
	if c := s.channelByLabel(label, labels); c != nil {
		c.state = ChannelOpen
	}
	return s.allChannelsOpen()
}

func (s *session) markChannelClosed(label string, labels config.ChannelLabels) {
	if c := s.channelByLabel(label, labels); c != nil {
		c.state = ChannelClosed
	}
}

func (s *session) allChannelsOpen() bool {
	return s.control != nil && s.control.state == ChannelOpen &&
		s.telemetry != nil && s.telemetry.state == ChannelOpen &&
		s.heartbeat != nil && s.heartbeat.state == ChannelOpen
}

// applyLocalOffer creates and sets the local offer, returning the SDP to
// send over the Signaling Link.
func (s *session) applyLocalOffer() (string, error) {
	offer, err := s.pc.CreateOffer(nil)
	if err != nil {
		return "", fmt.Errorf("create offer: %w", err)
	}
	if err := s.pc.SetLocalDescription(offer); err != nil {
		return "", fmt.Errorf("set local description: %w", err)
	}
	s.handshake = HandshakeLocalOffered
	s.attempts++
	s.lastOfferSDP = offer.SDP
	return offer.SDP, nil
}

// applyRemoteOffer sets a received offer and produces the local answer.
func (s *session) applyRemoteOffer(sdp string) (string, error) {
	if err := s.pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: sdp}); err != nil {
		return "", fmt.Errorf("set remote description: %w", err)
	}
	s.remoteDescriptionSet = true
	s.handshake = HandshakeRemoteOffered
	answer, err := s.pc.CreateAnswer(nil)
	if err != nil {
		return "", fmt.Errorf("create answer: %w", err)
	}
	if err := s.pc.SetLocalDescription(answer); err != nil {
		return "", fmt.Errorf("set local description: %w", err)
	}
	s.handshake = HandshakeLocalAnswered
	if err := s.drainPendingCandidates(); err != nil {
		return "", err
	}
	return answer.SDP, nil
}

// applyRemoteAnswer completes the offerer side of the handshake.
func (s *session) applyRemoteAnswer(sdp string) error {
	if err := s.pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: sdp}); err != nil {
		return fmt.Errorf("set remote description: %w", err)
	}
	s.remoteDescriptionSet = true
	s.handshake = HandshakeRemoteAnswered
	return s.drainPendingCandidates()
}

// addRemoteCandidate applies a trickled ICE candidate, or queues it if the
// remote description has not been set yet (spec.md §4.3.1 edge case:
// candidates may arrive before the answer).
func (s *session) addRemoteCandidate(c wire.Candidate) error {
	init := webrtc.ICECandidateInit{
		Candidate:     c.SDP,
		SDPMid:        strPtr(c.Mid),
		SDPMLineIndex: uint16Ptr(uint16(c.MLineIndex)),
	}
	if !s.remoteDescriptionSet {
		s.pendingRemoteCandidates = append(s.pendingRemoteCandidates, init)
		return nil
	}
	return s.pc.AddICECandidate(init)
}

func (s *session) drainPendingCandidates() error {
	pending := s.pendingRemoteCandidates
	s.pendingRemoteCandidates = nil
	for _, c := range pending {
		if err := s.pc.AddICECandidate(c); err != nil {
			return fmt.Errorf("add queued ice candidate: %w", err)
		}
	}
	return nil
}

func (s *session) close() error {
	s.handshake = HandshakeClosed
	s.transport = TransportClosed
	if s.pc == nil {
		return nil
	}
	return s.pc.Close()
}

func strPtr(s string) *string { return &s }
func uint16Ptr(v uint16) *uint16 { return &v }
