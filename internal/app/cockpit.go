package app

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/autodev/remote-drive/internal/config"
	"github.com/autodev/remote-drive/internal/core"
	"github.com/autodev/remote-drive/internal/util"
)

// RunCockpit wires a Core in the cockpit role, connects to target, and
// blocks reading stdin lines until ctx is cancelled or stdin closes. Each
// stdin line is a control command; decoded telemetry is logged as it
// arrives.
func RunCockpit(ctx context.Context, cfg config.Config, target core.PeerId) error {
	c, err := core.New(cfg, cockpitHandlers(cfg))
	if err != nil {
		return err
	}

	c.Start(ctx)
	defer c.Stop()
	util.StartStatsReporter(ctx)

	if err := c.ConnectTo(target); err != nil {
		return fmt.Errorf("connect to %s: %w", target, err)
	}

	util.LogInfo(`type "throttle steering brake" lines to drive, e.g. "0.5 -0.2 false"`)

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			sendControlLine(c, cfg, target, line)
		}
	}
}

func sendControlLine(c *core.Core, cfg config.Config, target core.PeerId, line string) {
	frame, err := parseControlLine(line)
	if err != nil {
		util.LogWarning("invalid control line %q: %v", line, err)
		return
	}
	payload, err := json.Marshal(frame)
	if err != nil {
		util.LogError("encode control frame: %v", err)
		return
	}
	if err := c.Send(target, cfg.Channels.Control, payload); err != nil {
		util.LogWarning("send control frame: %v", err)
	}
}

func parseControlLine(line string) (ControlFrame, error) {
	fields := strings.Fields(line)
	if len(fields) != 3 {
		return ControlFrame{}, fmt.Errorf("expected 3 fields (throttle steering brake), got %d", len(fields))
	}
	throttle, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return ControlFrame{}, fmt.Errorf("throttle: %w", err)
	}
	steering, err := strconv.ParseFloat(fields[1], 64)
	if err != nil {
		return ControlFrame{}, fmt.Errorf("steering: %w", err)
	}
	brake, err := strconv.ParseBool(fields[2])
	if err != nil {
		return ControlFrame{}, fmt.Errorf("brake: %w", err)
	}
	return ControlFrame{Throttle: throttle, Steering: steering, Brake: brake}, nil
}

func cockpitHandlers(cfg config.Config) core.Handlers {
	return core.Handlers{
		OnLinkUp:    func() { util.LogInfo("signaling link up") },
		OnLinkDown:  func(reason string) { util.LogWarning("signaling link down: %s", reason) },
		OnLinkError: func(msg string) { util.LogError("signaling link error: %s", msg) },
		OnPeerUp:    func(peer core.PeerId) { util.LogSuccess("vehicle %s connected", peer) },
		OnPeerDown: func(peer core.PeerId, reason string) {
			util.LogWarning("vehicle %s disconnected: %s", peer, reason)
		},
		OnPeerError: func(peer core.PeerId, msg string) { util.LogError("vehicle %s error: %s", peer, msg) },
		OnLivenessLost: func(peer core.PeerId) {
			util.LogError("vehicle %s liveness lost", peer)
		},
		OnMessage: func(peer core.PeerId, label string, payload []byte) {
			if label != cfg.Channels.Telemetry {
				return
			}
			var frame ChassisTelemetry
			if err := json.Unmarshal(payload, &frame); err != nil {
				util.LogWarning("malformed telemetry from %s: %v", peer, err)
				return
			}
			util.LogInfo("telemetry from %s: speed=%.1fkm/h heading=%.1fdeg battery=%.0f%%",
				peer, frame.SpeedKmh, frame.HeadingDeg, frame.BatteryPct)
		},
	}
}
