package wire

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// knownKinds maps the wire "type" string to a Kind constant.
var knownKinds = map[string]Kind{
	"join":      KindJoin,
	"leave":     KindLeave,
	"offer":     KindOffer,
	"answer":    KindAnswer,
	"candidate": KindCandidate,
	"heartbeat": KindHeartbeat,
	"error":     KindError,
}

// Encode serializes an Envelope into its canonical JSON form. Encoding is
// deterministic: encoding/json emits struct fields in declaration order, so
// two calls with equal Envelopes always produce byte-identical output
// (spec.md §8, round-trip laws).
func Encode(e *Envelope) []byte {
	data, _ := json.Marshal(e)
	return data
}

// rawEnvelope mirrors Envelope but keeps Candidate as raw JSON so
// mline_index's legacy int-or-string encoding can be resolved by hand.
type rawEnvelope struct {
	Type      string          `json:"type"`
	From      string          `json:"from"`
	To        string          `json:"to,omitempty"`
	SDP       string          `json:"sdp,omitempty"`
	Candidate json.RawMessage `json:"candidate,omitempty"`
	Reason    string          `json:"reason,omitempty"`
	Nonce     uint64          `json:"nonce,omitempty"`
}

type rawCandidate struct {
	Mid        string          `json:"sdpMid"`
	MLineIndex json.RawMessage `json:"sdpMlineIndex"`
	SDP        string          `json:"candidate"`
}

// DecodeError reports a Signal Codec decode failure (spec.md §7,
// BadEnvelope).
type DecodeError struct {
	Reason string
}

func (e *DecodeError) Error() string { return "bad envelope: " + e.Reason }

// Decode parses bytes into an Envelope. An unrecognized "type" string
// decodes successfully to KindUnknown rather than failing, so the caller
// (the Session Registry) can drop it with a warning instead of treating it
// as a hard decode error (spec.md §4.1).
func Decode(data []byte) (*Envelope, error) {
	var raw rawEnvelope
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, &DecodeError{Reason: err.Error()}
	}

	if raw.From == "" {
		return nil, &DecodeError{Reason: "missing required field: from"}
	}

	kind, known := knownKinds[raw.Type]
	if !known {
		kind = KindUnknown
	}

	if kind != KindJoin && kind != KindUnknown && raw.To == "" {
		return nil, &DecodeError{Reason: "missing required field: to"}
	}

	env := &Envelope{
		Kind:   kind,
		From:   PeerId(raw.From),
		To:     PeerId(raw.To),
		SDP:    raw.SDP,
		Reason: raw.Reason,
		Nonce:  raw.Nonce,
	}

	if len(raw.Candidate) > 0 && string(raw.Candidate) != "null" {
		cand, err := decodeCandidate(raw.Candidate)
		if err != nil {
			return nil, err
		}
		env.Candidate = cand
	}

	if kind == KindUnknown {
		return env, nil
	}

	if err := validateFields(kind, raw, env); err != nil {
		return nil, err
	}

	return env, nil
}

// decodeCandidate resolves the candidate object, accepting mline_index as
// either a JSON integer or a decimal string (legacy producers, spec.md
// §4.1).
func decodeCandidate(data json.RawMessage) (*Candidate, error) {
	var raw rawCandidate
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, &DecodeError{Reason: "malformed candidate: " + err.Error()}
	}

	var mline int32
	trimmed := string(raw.MLineIndex)
	switch {
	case len(trimmed) == 0 || trimmed == "null":
		mline = 0
	case trimmed[0] == '"':
		var s string
		if err := json.Unmarshal(raw.MLineIndex, &s); err != nil {
			return nil, &DecodeError{Reason: "malformed sdpMlineIndex string: " + err.Error()}
		}
		n, err := strconv.ParseInt(s, 10, 32)
		if err != nil {
			return nil, &DecodeError{Reason: "malformed sdpMlineIndex string: " + err.Error()}
		}
		mline = int32(n)
	default:
		var n int32
		if err := json.Unmarshal(raw.MLineIndex, &n); err != nil {
			return nil, &DecodeError{Reason: "malformed sdpMlineIndex: " + err.Error()}
		}
		mline = n
	}

	return &Candidate{Mid: raw.Mid, MLineIndex: mline, SDP: raw.SDP}, nil
}

// validateFields enforces the spec.md §3 invariant: kind determines which
// optional fields are present, and an envelope carrying fields that belong
// to a different kind is rejected.
func validateFields(kind Kind, raw rawEnvelope, env *Envelope) error {
	wantSDP, wantCandidate, wantReason, wantNonce := fieldsAllowed(kind)

	if !wantSDP && raw.SDP != "" {
		return conflictErr(kind, "sdp")
	}
	if !wantCandidate && env.Candidate != nil {
		return conflictErr(kind, "candidate")
	}
	if !wantReason && raw.Reason != "" {
		return conflictErr(kind, "reason")
	}
	if !wantNonce && raw.Nonce != 0 {
		return conflictErr(kind, "nonce")
	}

	if wantSDP && raw.SDP == "" {
		return &DecodeError{Reason: fmt.Sprintf("%s envelope missing required field: sdp", kind)}
	}
	if wantCandidate && env.Candidate == nil {
		return &DecodeError{Reason: fmt.Sprintf("%s envelope missing required field: candidate", kind)}
	}

	return nil
}

func conflictErr(kind Kind, field string) error {
	return &DecodeError{Reason: fmt.Sprintf("%s envelope carries disallowed field: %s", kind, field)}
}
