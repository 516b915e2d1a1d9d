package core

import (
	"github.com/autodev/remote-drive/internal/config"
	"github.com/autodev/remote-drive/internal/util"
	"github.com/autodev/remote-drive/internal/wire"
)

// registry is the PeerId-keyed session table (spec.md §4.4). It is read
// and written only by the Dispatcher worker — a single-writer map with no
// locking at all, generalized from a mutex-guarded socketID route table.
type registry struct {
	sessions map[PeerId]*session
}

func newRegistry() *registry {
	return &registry{sessions: make(map[PeerId]*session)}
}

func (r *registry) get(peer PeerId) (*session, bool) {
	s, ok := r.sessions[peer]
	return s, ok
}

func (r *registry) put(s *session) {
	r.sessions[s.peer] = s
}

func (r *registry) remove(peer PeerId) {
	delete(r.sessions, peer)
}

func (r *registry) all() []*session {
	out := make([]*session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}

// routeEnvelope dispatches an inbound signaling envelope to the session
// named by its From field, creating a new answerer-side session on an
// Offer from an unknown peer (spec.md §4.4, §3 "Session creation"). It
// returns the session the envelope was routed to, or nil if the envelope
// was dropped. A Join from an unknown peer is dropped silently; a
// Leave/Error/Answer/Candidate for an unknown peer, or a failed session
// creation, is surfaced through postEvent rather than returned as an
// error, since the caller has nothing useful to do with one.
func (r *registry) routeEnvelope(env *wire.Envelope, cfg config.Config, postEvent func(dispatchEvent)) *session {
	s, ok := r.get(env.From)
	if !ok {
		if env.Kind != wire.KindOffer && env.Kind != wire.KindJoin {
			util.LogWarning("dropping %s from unknown peer %s", env.Kind, env.From)
			postEvent(sessionProtocolErrorEvent{peer: env.From, msg: "unknown_peer"})
			return nil
		}
		if env.Kind == wire.KindJoin {
			// A bare Join announces presence; no session is created until an
			// Offer arrives (spec.md §3).
			return nil
		}
		s = newSession(env.From, RoleAnswerer)
		pc, err := newPeerConnection(env.From, cfg, postEvent)
		if err != nil {
			postEvent(sessionCreateFailedEvent{peer: env.From, err: err})
			return nil
		}
		s.pc = pc
		r.put(s)
	}
	return s
}
