package signaling

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/autodev/remote-drive/internal/config"
	"github.com/autodev/remote-drive/internal/wire"
)

var testUpgrader = websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}

// echoServer accepts one WebSocket connection and echoes every frame back.
func echoServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			mt, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if conn.WriteMessage(mt, data) != nil {
				return
			}
		}
	}))
	return srv
}

func wsURL(t *testing.T, srv *httptest.Server) string {
	t.Helper()
	return "ws" + srv.URL[len("http"):]
}

// TestLinkOpenSendReceive verifies a connected Link can send an envelope
// and observe it echoed back through OnEnvelope.
func TestLinkOpenSendReceive(t *testing.T) {
	srv := echoServer(t)
	defer srv.Close()

	var mu sync.Mutex
	opened := make(chan struct{}, 1)
	received := make(chan *wire.Envelope, 1)

	l := New(wsURL(t, srv), "tok", config.DefaultBackoff(), 256, "", Handlers{
		OnOpened: func() { opened <- struct{}{} },
		OnClosed: func(string) {},
		OnError:  func(string) {},
		OnEnvelope: func(e *wire.Envelope) {
			mu.Lock()
			defer mu.Unlock()
			received <- e
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	l.Connect(ctx)

	select {
	case <-opened:
	case <-time.After(2 * time.Second):
		t.Fatal("link did not open")
	}

	l.Send(&wire.Envelope{Kind: wire.KindHeartbeat, From: "C1", To: "V1", Nonce: 7})

	select {
	case env := <-received:
		if env.Kind != wire.KindHeartbeat || env.Nonce != 7 {
			t.Errorf("unexpected echoed envelope: %+v", env)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("did not receive echoed envelope")
	}

	l.Close("test done")
}

// TestLinkQueuesBeforeOpen verifies Send queues envelopes before the
// connection opens and flushes them in order once it does.
func TestLinkQueuesBeforeOpen(t *testing.T) {
	srv := echoServer(t)
	defer srv.Close()

	received := make(chan *wire.Envelope, 8)
	l := New(wsURL(t, srv), "tok", config.DefaultBackoff(), 256, "", Handlers{
		OnOpened:   func() {},
		OnClosed:   func(string) {},
		OnError:    func(string) {},
		OnEnvelope: func(e *wire.Envelope) { received <- e },
	})

	// Queue before Connect is even called.
	l.Send(&wire.Envelope{Kind: wire.KindHeartbeat, From: "C1", To: "V1", Nonce: 1})
	l.Send(&wire.Envelope{Kind: wire.KindHeartbeat, From: "C1", To: "V1", Nonce: 2})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	l.Connect(ctx)

	var got []uint64
	for i := 0; i < 2; i++ {
		select {
		case env := <-received:
			got = append(got, env.Nonce)
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for queued envelope %d", i)
		}
	}

	if len(got) != 2 || got[0] != 1 || got[1] != 2 {
		t.Errorf("queued envelopes not flushed in FIFO order: %v", got)
	}

	l.Close("test done")
}

// TestLinkBacklogOverflow verifies a full queue drops the oldest entry and
// raises an error event.
func TestLinkBacklogOverflow(t *testing.T) {
	errs := make(chan string, 8)
	l := New("ws://127.0.0.1:1/unreachable", "tok", config.DefaultBackoff(), 2, "", Handlers{
		OnOpened:   func() {},
		OnClosed:   func(string) {},
		OnError:    func(msg string) { errs <- msg },
		OnEnvelope: func(*wire.Envelope) {},
	})

	l.Send(&wire.Envelope{Kind: wire.KindHeartbeat, From: "C1", To: "V1", Nonce: 1})
	l.Send(&wire.Envelope{Kind: wire.KindHeartbeat, From: "C1", To: "V1", Nonce: 2})
	l.Send(&wire.Envelope{Kind: wire.KindHeartbeat, From: "C1", To: "V1", Nonce: 3})

	select {
	case msg := <-errs:
		if msg == "" {
			t.Error("expected non-empty backlog overflow message")
		}
	case <-time.After(time.Second):
		t.Fatal("expected a backlog_overflow error event")
	}

	if len(l.queue) != 2 {
		t.Errorf("expected queue depth 2 after overflow, got %d", len(l.queue))
	}
	if l.queue[0].Nonce != 2 || l.queue[1].Nonce != 3 {
		t.Errorf("expected oldest entry dropped, got nonces %d,%d", l.queue[0].Nonce, l.queue[1].Nonce)
	}
}

// TestLinkCloseIdempotent verifies repeated Close calls are safe no-ops.
func TestLinkCloseIdempotent(t *testing.T) {
	srv := echoServer(t)
	defer srv.Close()

	closedCount := 0
	var mu sync.Mutex
	l := New(wsURL(t, srv), "tok", config.DefaultBackoff(), 256, "", Handlers{
		OnOpened: func() {},
		OnClosed: func(string) {
			mu.Lock()
			closedCount++
			mu.Unlock()
		},
		OnError:    func(string) {},
		OnEnvelope: func(*wire.Envelope) {},
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	l.Connect(ctx)
	time.Sleep(100 * time.Millisecond)

	l.Close("first")
	l.Close("second")

	mu.Lock()
	defer mu.Unlock()
	if closedCount != 1 {
		t.Errorf("expected exactly one OnClosed call, got %d", closedCount)
	}
}
