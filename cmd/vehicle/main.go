// Vehicle — the remote-driving runtime's vehicle-side entry point.
//
// It joins the signaling service under a local ID, accepts offers from any
// cockpit that connects, and bridges control/telemetry/heartbeat traffic
// between them and a synthetic chassis (the real chassis/CAN/actuator
// layer is out of scope for this repo).
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"

	"github.com/google/uuid"
	"github.com/pterm/pterm"

	"github.com/autodev/remote-drive/internal/app"
	"github.com/autodev/remote-drive/internal/config"
	"github.com/autodev/remote-drive/internal/util"
)

var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	wsURL := flag.String("signaling-uri", "", "Signaling service WebSocket URL (ws:// or wss://)")
	token := flag.String("signaling-token", "", "Signaling service auth token")
	localID := flag.String("local-id", "", "This vehicle's peer ID (random if omitted)")
	caBundle := flag.String("ca-bundle", "", "PEM CA bundle path for wss:// verification (optional)")
	debugMode := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	if *debugMode {
		util.EnableDebug()
	}

	pterm.Info.Println(fmt.Sprintf("Vehicle — v%s", version))
	pterm.Println()

	if *wsURL == "" {
		*wsURL = askSignalingURL()
	}
	if *localID == "" {
		*localID = uuid.NewString()
	}

	cfg := config.Default()
	cfg.SignalingURI = *wsURL
	cfg.SignalingToken = *token
	cfg.LocalID = *localID
	cfg.CABundlePath = *caBundle

	util.LogInfo("vehicle peer id: %s", cfg.LocalID)

	if err := app.RunVehicle(ctx, cfg); err != nil {
		util.LogError("%v", err)
		os.Exit(1)
	}

	util.LogInfo("vehicle shut down")
}

func askSignalingURL() string {
	for {
		raw, _ := pterm.DefaultInteractiveTextInput.
			WithDefaultText("Signaling service URL (e.g. wss://example.com/ws)").
			Show()
		if raw != "" {
			pterm.Println()
			return raw
		}
		util.LogWarning("signaling URL is required")
		pterm.Println()
	}
}
