package wire

import (
	"bytes"
	"reflect"
	"testing"
)

// TestEncodeDecodeRoundTrip verifies decode(encode(e)) == e for every
// legal envelope kind (spec.md §8, round-trip laws).
func TestEncodeDecodeRoundTrip(t *testing.T) {
	testCases := []struct {
		name string
		env  *Envelope
	}{
		{
			name: "offer",
			env:  &Envelope{Kind: KindOffer, From: "C1", To: "V1", SDP: "v=0..."},
		},
		{
			name: "answer",
			env:  &Envelope{Kind: KindAnswer, From: "V1", To: "C1", SDP: "v=0..."},
		},
		{
			name: "candidate",
			env: &Envelope{
				Kind: KindCandidate, From: "C1", To: "V1",
				Candidate: &Candidate{Mid: "0", MLineIndex: 1, SDP: "candidate:1 1 UDP ..."},
			},
		},
		{
			name: "leave with reason",
			env:  &Envelope{Kind: KindLeave, From: "C1", To: "V1", Reason: "shutdown"},
		},
		{
			name: "error with reason",
			env:  &Envelope{Kind: KindError, From: "V1", To: "C1", Reason: "bad_sdp"},
		},
		{
			name: "heartbeat with nonce",
			env:  &Envelope{Kind: KindHeartbeat, From: "C1", To: "V1", Nonce: 42},
		},
		{
			name: "broadcast join (no to)",
			env:  &Envelope{Kind: KindJoin, From: "C1"},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			encoded := Encode(tc.env)

			decoded, err := Decode(encoded)
			if err != nil {
				t.Fatalf("Decode failed: %v", err)
			}

			if !reflect.DeepEqual(decoded, tc.env) {
				t.Errorf("round trip mismatch: got %+v, want %+v", decoded, tc.env)
			}
		})
	}
}

// TestEncodeDeterministic verifies Encode is byte-stable across calls.
func TestEncodeDeterministic(t *testing.T) {
	env := &Envelope{Kind: KindOffer, From: "C1", To: "V1", SDP: "v=0..."}
	a := Encode(env)
	b := Encode(env)
	if !bytes.Equal(a, b) {
		t.Errorf("Encode is not deterministic: %s != %s", a, b)
	}
}

// TestDecodeUnknownKind verifies an unrecognized type string decodes to
// KindUnknown instead of erroring (spec.md §4.1).
func TestDecodeUnknownKind(t *testing.T) {
	data := []byte(`{"type":"wat","from":"C1","to":"V1"}`)
	env, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode returned error for unknown kind: %v", err)
	}
	if env.Kind != KindUnknown {
		t.Errorf("expected KindUnknown, got %q", env.Kind)
	}
}

// TestDecodeUnknownFieldsIgnored verifies forward compatibility: extra
// unrecognized top-level fields are accepted and discarded.
func TestDecodeUnknownFieldsIgnored(t *testing.T) {
	data := []byte(`{"type":"offer","from":"C1","to":"V1","sdp":"v=0...","extra":"ignored"}`)
	env, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if env.Kind != KindOffer || env.SDP != "v=0..." {
		t.Errorf("unexpected decode result: %+v", env)
	}
}

// TestDecodeConflictingFields verifies an envelope whose kind does not
// permit a present optional field is rejected.
func TestDecodeConflictingFields(t *testing.T) {
	testCases := []struct {
		name string
		data string
	}{
		{"offer with reason", `{"type":"offer","from":"C1","to":"V1","sdp":"v=0...","reason":"x"}`},
		{"leave with sdp", `{"type":"leave","from":"C1","to":"V1","sdp":"v=0..."}`},
		{"join with candidate", `{"type":"join","from":"C1","candidate":{"sdpMid":"0","sdpMlineIndex":0,"candidate":"x"}}`},
		{"heartbeat with reason", `{"type":"heartbeat","from":"C1","to":"V1","nonce":1,"reason":"x"}`},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Decode([]byte(tc.data)); err == nil {
				t.Fatal("expected decode error, got nil")
			}
		})
	}
}

// TestDecodeMissingRequiredFields verifies required fields absent for a
// known kind are rejected.
func TestDecodeMissingRequiredFields(t *testing.T) {
	testCases := []struct {
		name string
		data string
	}{
		{"missing from", `{"type":"offer","to":"V1","sdp":"v=0..."}`},
		{"missing to (non-join)", `{"type":"offer","from":"C1","sdp":"v=0..."}`},
		{"offer missing sdp", `{"type":"offer","from":"C1","to":"V1"}`},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Decode([]byte(tc.data)); err == nil {
				t.Fatal("expected decode error, got nil")
			}
		})
	}
}

// TestDecodeMLineIndexLegacyString verifies mline_index is accepted as a
// decimal string as well as a JSON integer (spec.md §4.1).
func TestDecodeMLineIndexLegacyString(t *testing.T) {
	data := []byte(`{"type":"candidate","from":"C1","to":"V1",
		"candidate":{"sdpMid":"0","sdpMlineIndex":"2","candidate":"candidate:1 1 UDP ..."}}`)

	env, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if env.Candidate == nil || env.Candidate.MLineIndex != 2 {
		t.Errorf("expected MLineIndex 2, got %+v", env.Candidate)
	}
}

// TestDecodeBroadcastJoinWithoutTo verifies a Join may omit "to" (the
// broadcast form).
func TestDecodeBroadcastJoinWithoutTo(t *testing.T) {
	env, err := Decode([]byte(`{"type":"join","from":"C1"}`))
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if env.To != "" {
		t.Errorf("expected empty To, got %q", env.To)
	}
}

// TestDecodeMalformed verifies non-JSON input is rejected without panic.
func TestDecodeMalformed(t *testing.T) {
	if _, err := Decode([]byte(`not json`)); err == nil {
		t.Fatal("expected decode error for malformed input")
	}
}
