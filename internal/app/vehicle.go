// Package app contains the top-level orchestration for the vehicle and
// cockpit roles: wiring a Core, the ambient logging handlers, and the
// external collaborators (synthetic telemetry/command producers and
// sinks) that stand in for the real chassis and input-capture layers
// spec.md places out of scope.
package app

import (
	"context"
	"encoding/json"
	"time"

	"github.com/autodev/remote-drive/internal/config"
	"github.com/autodev/remote-drive/internal/core"
	"github.com/autodev/remote-drive/internal/util"
)

// ChassisTelemetry is the synthetic chassis frame the vehicle role
// broadcasts on the telemetry channel, standing in for the real
// chassis/CAN polling layer.
type ChassisTelemetry struct {
	SpeedKmh   float64 `json:"speed_kmh"`
	HeadingDeg float64 `json:"heading_deg"`
	BatteryPct float64 `json:"battery_pct"`
	Tick       uint64  `json:"tick"`
}

// ControlFrame is the control-channel command the cockpit role sends and
// the vehicle role decodes, standing in for the real physical input
// capture and actuator driver layers.
type ControlFrame struct {
	Throttle float64 `json:"throttle"`
	Steering float64 `json:"steering"`
	Brake    bool    `json:"brake"`
}

// vehicleTelemetryPeriod is the synthetic chassis telemetry producer's
// broadcast cadence.
const vehicleTelemetryPeriod = 250 * time.Millisecond

// RunVehicle wires a Core in the vehicle role and blocks until ctx is
// cancelled: it logs peer lifecycle and decoded control frames, and
// broadcasts a synthetic chassis frame on a fixed cadence.
func RunVehicle(ctx context.Context, cfg config.Config) error {
	c, err := core.New(cfg, vehicleHandlers(cfg))
	if err != nil {
		return err
	}

	c.Start(ctx)
	defer c.Stop()
	util.StartStatsReporter(ctx)

	ticker := time.NewTicker(vehicleTelemetryPeriod)
	defer ticker.Stop()

	var tick uint64
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			tick++
			payload, err := json.Marshal(ChassisTelemetry{BatteryPct: 100, Tick: tick})
			if err != nil {
				util.LogError("encode chassis telemetry: %v", err)
				continue
			}
			c.Broadcast(cfg.Channels.Telemetry, payload)
		}
	}
}

func vehicleHandlers(cfg config.Config) core.Handlers {
	return core.Handlers{
		OnLinkUp:    func() { util.LogInfo("signaling link up") },
		OnLinkDown:  func(reason string) { util.LogWarning("signaling link down: %s", reason) },
		OnLinkError: func(msg string) { util.LogError("signaling link error: %s", msg) },
		OnPeerUp:    func(peer core.PeerId) { util.LogSuccess("cockpit %s connected", peer) },
		OnPeerDown: func(peer core.PeerId, reason string) {
			util.LogWarning("cockpit %s disconnected: %s", peer, reason)
		},
		OnPeerError: func(peer core.PeerId, msg string) { util.LogError("cockpit %s error: %s", peer, msg) },
		OnLivenessLost: func(peer core.PeerId) {
			util.LogError("cockpit %s liveness lost, cutting actuators", peer)
		},
		OnMessage: func(peer core.PeerId, label string, payload []byte) {
			if label != cfg.Channels.Control {
				return
			}
			var frame ControlFrame
			if err := json.Unmarshal(payload, &frame); err != nil {
				util.LogWarning("malformed control frame from %s: %v", peer, err)
				return
			}
			util.LogInfo("control from %s: throttle=%.2f steering=%.2f brake=%v",
				peer, frame.Throttle, frame.Steering, frame.Brake)
		},
	}
}
