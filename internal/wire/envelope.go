// Package wire implements the Signal Codec: the pure encode/decode pair for
// signaling envelopes exchanged with the signaling service (spec.md §3, §4.1).
package wire

// PeerId is an opaque string, unique within a signaling realm (spec.md §3).
type PeerId string

// Kind identifies the signaling envelope variant.
type Kind string

const (
	KindJoin      Kind = "join"
	KindLeave     Kind = "leave"
	KindOffer     Kind = "offer"
	KindAnswer    Kind = "answer"
	KindCandidate Kind = "candidate"
	KindHeartbeat Kind = "heartbeat"
	KindError     Kind = "error"

	// KindUnknown is never produced on the wire; Decode returns it for any
	// kind string it does not recognize, so the Registry can drop the
	// envelope with a warning instead of crashing (spec.md §4.1).
	KindUnknown Kind = ""
)

// Candidate is the ICE candidate payload carried by a Candidate envelope.
type Candidate struct {
	Mid        string `json:"sdpMid"`
	MLineIndex int32  `json:"sdpMlineIndex"`
	SDP        string `json:"candidate"`
}

// Envelope is a decoded signaling wire record (spec.md §3, §6.1).
//
// Field order here is the canonical encode order: type, from, to, sdp,
// candidate, reason, nonce. encoding/json emits struct fields in
// declaration order, which is what makes Encode byte-stable.
type Envelope struct {
	Kind      Kind       `json:"type"`
	From      PeerId     `json:"from"`
	To        PeerId     `json:"to,omitempty"`
	SDP       string     `json:"sdp,omitempty"`
	Candidate *Candidate `json:"candidate,omitempty"`
	Reason    string     `json:"reason,omitempty"`
	Nonce     uint64     `json:"nonce,omitempty"`
}

// fieldsAllowed reports which optional fields are legal for a given kind,
// enforcing the spec.md §3 invariant that kind determines which optional
// fields are present.
func fieldsAllowed(k Kind) (sdp, candidate, reason, nonce bool) {
	switch k {
	case KindOffer, KindAnswer:
		return true, false, false, false
	case KindCandidate:
		return false, true, false, false
	case KindLeave, KindError:
		return false, false, true, false
	case KindHeartbeat:
		return false, false, false, true
	default: // Join, Unknown
		return false, false, false, false
	}
}
