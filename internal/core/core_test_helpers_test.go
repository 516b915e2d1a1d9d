package core

import "github.com/autodev/remote-drive/internal/config"

// testConfig returns a minimal valid Config for unit tests that don't need
// a real Signaling Link or ICE servers.
func testConfig() config.Config {
	cfg := config.Default()
	cfg.SignalingURI = "ws://127.0.0.1:1/unused"
	cfg.LocalID = "test-local"
	return cfg
}
