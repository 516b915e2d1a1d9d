// Cockpit — the remote-driving runtime's operator-side entry point.
//
// It joins the signaling service, connects to a named vehicle peer, and
// bridges stdin-driven control commands and logged telemetry between the
// operator and the vehicle (real input capture and UI are out of scope
// for this repo).
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
	"github.com/autodev/remote-drive/internal/core"
	"github.com/autodev/remote-drive/internal/util"
)

var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	wsURL := flag.String("signaling-uri", "", "Signaling service WebSocket URL (ws:// or wss://)")
	token := flag.String("signaling-token", "", "Signaling service auth token")
	localID := flag.String("local-id", "", "This cockpit's peer ID (random if omitted)")
	peer := flag.String("peer", "", "Vehicle peer ID to connect to")
	caBundle := flag.String("ca-bundle", "", "PEM CA bundle path for wss:// verification (optional)")
	debugMode := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	if *debugMode {
		util.EnableDebug()
	}

	pterm.Info.Println(fmt.Sprintf("Cockpit — v%s", version))
	pterm.Println()

	if *wsURL == "" {
		*wsURL = askText("Signaling service URL (e.g. wss://example.com/ws)")
	}
	if *peer == "" {
		*peer = askText("Vehicle peer ID to connect to")
	}
	if *localID == "" {
		*localID = uuid.NewString()
	}

	cfg := config.Default()
	cfg.SignalingURI = *wsURL
	cfg.SignalingToken = *token
	cfg.LocalID = *localID
	cfg.CABundlePath = *caBundle

	util.LogInfo("cockpit peer id: %s", cfg.LocalID)

	if err := app.RunCockpit(ctx, cfg, core.PeerId(*peer)); err != nil {
		util.LogError("%v", err)
		os.Exit(1)
	}

	util.LogInfo("cockpit shut down")
}

func askText(prompt string) string {
	for {
		raw, _ := pterm.DefaultInteractiveTextInput.WithDefaultText(prompt).Show()
		if raw != "" {
			pterm.Println()
			return raw
		}
		util.LogWarning("a value is required")
		pterm.Println()
	}
}
