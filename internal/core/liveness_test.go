package core

import (
	"testing"

	"github.com/autodev/remote-drive/internal/config"
)

func TestHeartbeatDeadlineTicks(t *testing.T) {
	cases := []struct {
		multiplier uint32
		want       uint64
	}{
		{multiplier: 3, want: 3},
		{multiplier: 0, want: 1},
		{multiplier: 1, want: 1},
	}
	for _, tc := range cases {
		got := heartbeatDeadlineTicks(config.Heartbeat{LossMultiplier: tc.multiplier})
		if got != tc.want {
			t.Errorf("LossMultiplier=%d: got %d, want %d", tc.multiplier, got, tc.want)
		}
	}
}

// TestLivenessLossDetection exercises the tick-vs-lastRx arithmetic that
// Core.handleTick uses to declare a peer lost, against a session built the
// same way the registry builds one (no real transport needed).
func TestLivenessLossDetection(t *testing.T) {
	cfg := testConfig()
	cfg.Heartbeat.LossMultiplier = 2
	deadline := heartbeatDeadlineTicks(cfg.Heartbeat)

	s := newSession("vehicle-1", RoleOfferer)
	s.handshake = HandshakeStable
	s.lastRx = 0

	tick := uint64(1)
	if tick-s.lastRx >= deadline {
		t.Fatalf("session should not be considered lost after 1 tick with deadline %d", deadline)
	}

	tick += deadline
	if tick-s.lastRx < deadline {
		t.Fatalf("session should be considered lost after %d ticks", tick)
	}
}
