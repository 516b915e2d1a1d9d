// Package signaling implements the Signaling Link (spec.md §4.2): a
// persistent duplex text-frame stream to the signaling service, with
// bounded outbound queuing and automatic reconnection.
package signaling

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net/url"
	"os"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/autodev/remote-drive/internal/config"
	"github.com/autodev/remote-drive/internal/util"
	"github.com/autodev/remote-drive/internal/wire"
)

// Handlers is the Link's subscriber list. Per the no-mutation-after-start
// design (spec.md §9), handlers are supplied at construction and never
// changed afterward.
type Handlers struct {
	OnOpened   func()
	OnClosed   func(reason string)
	OnError    func(msg string)
	OnEnvelope func(*wire.Envelope)
}

// Link is the Signaling Link described in spec.md §4.2.
type Link struct {
	uri          string
	token        string
	backoffCfg   config.Backoff
	queueDepth   int
	caBundlePath string

	handlers Handlers

	mu       sync.Mutex
	conn     *websocket.Conn
	queue    []*wire.Envelope
	closing  bool
	closeOne sync.Once

	// writeMu serializes WriteMessage calls: gorilla/websocket permits
	// only one concurrent writer, but both the run loop (flushing queued
	// envelopes right after connecting) and Send (writing directly once
	// open) can reach write() on different goroutines.
	writeMu sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// New constructs a Link. Call Connect to begin the asynchronous duplex
// stream.
func New(uri, token string, backoffCfg config.Backoff, queueDepth int, caBundlePath string, handlers Handlers) *Link {
	if queueDepth <= 0 {
		queueDepth = 256
	}
	return &Link{
		uri:          uri,
		token:        token,
		backoffCfg:   backoffCfg,
		queueDepth:   queueDepth,
		caBundlePath: caBundlePath,
		handlers:     handlers,
		done:         make(chan struct{}),
	}
}

// Connect initiates the asynchronous duplex stream. It returns immediately;
// connection and reconnection happen on a background goroutine until Close
// is called.
func (l *Link) Connect(ctx context.Context) {
	l.ctx, l.cancel = context.WithCancel(ctx)
	go l.run()
}

// Send enqueues an envelope for transmission. If the stream is open the
// envelope is written directly on the caller's goroutine, serialized with
// other writers by writeMu, so the call returns only once that WebSocket
// write has finished; if not yet open, it is queued FIFO up to queueDepth
// without blocking, and overflow drops the oldest queued envelope and
// raises a BacklogOverflow error event (spec.md §4.2).
func (l *Link) Send(env *wire.Envelope) {
	l.mu.Lock()
	conn := l.conn
	if conn == nil {
		if len(l.queue) >= l.queueDepth {
			l.queue = l.queue[1:]
			l.mu.Unlock()
			l.emitError("backlog_overflow: dropped oldest queued envelope")
			l.mu.Lock()
		}
		l.queue = append(l.queue, env)
		l.mu.Unlock()
		return
	}
	l.mu.Unlock()

	l.write(conn, env)
}

// Close issues a graceful shutdown frame and releases resources. Repeated
// calls are no-ops after the first (spec.md §4.3.4 idempotency applies
// equally here).
func (l *Link) Close(reason string) {
	l.closeOne.Do(func() {
		l.mu.Lock()
		l.closing = true
		conn := l.conn
		l.mu.Unlock()

		if conn != nil {
			l.writeMu.Lock()
			_ = conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason))
			l.writeMu.Unlock()
			_ = conn.Close()
		}

		if l.cancel != nil {
			l.cancel()
		}
		<-l.done

		l.handlers.OnClosed(reason)
	})
}

// ---------------------------------------------------------------------------
// Connection loop
// ---------------------------------------------------------------------------

func (l *Link) run() {
	defer close(l.done)

	backoff := newBackoffSequence(l.backoffCfg)

	for {
		conn, fatal, err := l.dial(l.ctx)
		if err != nil {
			if fatal {
				return // SignalingAuth: fatal for the Link, no reconnect (spec.md §7).
			}

			l.emitError(fmt.Sprintf("link_unavailable: %v", err))

			select {
			case <-time.After(backoff.next()):
				continue
			case <-l.ctx.Done():
				return
			}
		}

		backoff.reset()

		l.mu.Lock()
		if l.closing {
			l.mu.Unlock()
			_ = conn.Close()
			return
		}
		l.conn = conn
		queued := l.queue
		l.queue = nil
		l.mu.Unlock()

		l.handlers.OnOpened()
		for _, env := range queued {
			l.write(conn, env)
		}

		l.readLoop(conn)

		l.mu.Lock()
		l.conn = nil
		closing := l.closing
		l.mu.Unlock()

		if closing {
			return
		}
		// Unexpected close: enter Backoff and keep reconnecting
		// (spec.md §4.2). Existing peer sessions are unaffected.
		select {
		case <-time.After(backoff.next()):
		case <-l.ctx.Done():
			return
		}
	}
}

// dial performs the WebSocket handshake, URI-encoding the auth token as the
// "token" query parameter and negotiating TLS when the scheme is secure
// (spec.md §4.2, §6.1). The bool return reports whether the failure is
// fatal (SignalingAuth) rather than transient (LinkUnavailable).
func (l *Link) dial(ctx context.Context) (*websocket.Conn, bool, error) {
	u, err := url.Parse(l.uri)
	if err != nil {
		return nil, true, fmt.Errorf("invalid signaling uri: %w", err)
	}

	q := u.Query()
	q.Set("token", l.token)
	u.RawQuery = q.Encode()

	dialer := *websocket.DefaultDialer
	if u.Scheme == "wss" || u.Scheme == "https" {
		tlsConfig, err := buildTLSConfig(l.caBundlePath)
		if err != nil {
			return nil, true, fmt.Errorf("tls config: %w", err)
		}
		dialer.TLSClientConfig = tlsConfig
	}

	conn, resp, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		if resp != nil && (resp.StatusCode == 401 || resp.StatusCode == 403) {
			return nil, true, fmt.Errorf("signaling auth rejected: %s", resp.Status)
		}
		return nil, false, err
	}
	return conn, false, nil
}

// buildTLSConfig negotiates TLS >= 1.2 with peer verification against the
// configured trust store; hostname verification is always enabled.
// InsecureSkipVerify is never set here — see spec.md §9's verify_none
// defect note.
func buildTLSConfig(caBundlePath string) (*tls.Config, error) {
	cfg := &tls.Config{MinVersion: tls.VersionTLS12}

	if caBundlePath == "" {
		return cfg, nil
	}

	pem, err := os.ReadFile(caBundlePath)
	if err != nil {
		return nil, fmt.Errorf("read ca bundle: %w", err)
	}

	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("ca bundle %s contains no usable certificates", caBundlePath)
	}
	cfg.RootCAs = pool
	return cfg, nil
}

// readLoop decodes inbound text frames until the connection closes.
// Decode failures are BadEnvelope: logged and dropped, never closing the
// Link (spec.md §7).
func (l *Link) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}

		env, err := wire.Decode(data)
		if err != nil {
			util.LogWarning("signaling: dropping malformed envelope: %v", err)
			continue
		}

		l.handlers.OnEnvelope(env)
	}
}

// write serializes one envelope to the connection, guarded by writeMu
// since gorilla/websocket allows only one concurrent writer.
func (l *Link) write(conn *websocket.Conn, env *wire.Envelope) {
	l.writeMu.Lock()
	defer l.writeMu.Unlock()
	if err := conn.WriteMessage(websocket.TextMessage, wire.Encode(env)); err != nil {
		l.emitError(fmt.Sprintf("write failed: %v", err))
	}
}

func (l *Link) emitError(msg string) {
	if l.handlers.OnError != nil {
		l.handlers.OnError(msg)
	}
}
