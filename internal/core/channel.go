package core

import (
	"github.com/pion/webrtc/v4"

	"github.com/autodev/remote-drive/internal/util"
)

// dataChannel wraps a pion DataChannel with the labeled-channel lifecycle
// and backpressure check from spec.md §4.3.2. It is mutated only by the
// Dispatcher worker; the pion callbacks wired in wireDataChannel only ever
// post events, never touch these fields directly (spec.md §9, "Shared
// mutable state").
//
// Generalized from a single blocking sender with a HighWaterMark/
// LowWaterMark gate to a non-blocking, per-label send that returns
// Backpressure instead of waiting for the buffer to drain — required by
// spec.md §8 invariant 6 ("send is non-blocking").
type dataChannel struct {
	raw       *webrtc.DataChannel
	label     string
	state     ChannelState
	bufferCap uint64
}

func newDataChannel(raw *webrtc.DataChannel, label string, bufferCap uint64) *dataChannel {
	return &dataChannel{raw: raw, label: label, state: ChannelOpening, bufferCap: bufferCap}
}

// send enforces channel-ready and backpressure checks before handing the
// payload to pion. It never blocks.
func (c *dataChannel) send(payload []byte) error {
	if c.state != ChannelOpen {
		return ErrChannelNotReady
	}
	if c.raw.BufferedAmount() > c.bufferCap {
		return ErrBackpressure
	}
	if err := c.raw.Send(payload); err != nil {
		return ErrPeerGone
	}
	util.Stats.AddSent(len(payload))
	return nil
}
