// Package session implements the per-instance Session Registry
// (spec.md §4.1): the live Session type and the session_id <-> identity
// map owned exclusively by this process. Grounded on the teacher's
// server/session.go (Session struct, buffered send/stop channels, the
// 50µs best-effort send timeout) and server/hub.go's use of sync.Map for
// a lock-free concurrent registry.
package session

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// NewID generates a fresh, globally-unique session id.
func NewID() string {
	return uuid.NewString()
}

// Session is a live bidirectional channel bound to at most one identity.
// One identity may own many sessions across any number of instances
// (spec.md §3).
type Session struct {
	ID         string
	InstanceID string
	CreatedAt  time.Time

	UserAgent string
	DeviceID  string
	Lang      string

	// Send is the outbound queue for this session; the transport layer
	// drains it and writes frames to the wire. Buffered, mirroring the
	// teacher's Session.send.
	Send chan interface{}
	// Stop signals the transport to tear the connection down.
	Stop chan struct{}

	mu       sync.RWMutex
	identity string
}

// New creates a Session in the unbound state (no identity yet).
func New(id, instanceID string) *Session {
	return &Session{
		ID:         id,
		InstanceID: instanceID,
		CreatedAt:  time.Now().UTC(),
		Send:       make(chan interface{}, 256),
		Stop:       make(chan struct{}),
	}
}

// Identity returns the identity bound to this session, or "" if unbound.
func (s *Session) Identity() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.identity
}

func (s *Session) setIdentity(identity string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.identity = identity
}

// QueueOut attempts to enqueue msg for delivery to this session. Best
// effort: a full buffer after a short timeout drops the message rather
// than blocking the caller, matching the teacher's queueOut semantics
// exactly (50µs timeout on an unresponsive session).
func (s *Session) QueueOut(msg interface{}) bool {
	if s == nil {
		return true
	}
	select {
	case s.Send <- msg:
		return true
	case <-time.After(50 * time.Microsecond):
		return false
	}
}

// Close signals the session's transport loop to terminate.
func (s *Session) Close() {
	select {
	case <-s.Stop:
		// already closed
	default:
		close(s.Stop)
	}
}

// Registry is the per-instance session_id -> *Session map plus its
// identity -> session-id-set inverse, used to enumerate a device group's
// local sessions (for echo fan-out and device-group pairing). The
// registry never crosses instances; cross-instance lookup is the
// Presence Store's job (spec.md §4.1).
type Registry struct {
	log zerolog.Logger

	mu       sync.RWMutex
	sessions map[string]*Session
	byIdent  map[string]map[string]struct{} // identity -> set of session ids
}

// NewRegistry constructs an empty, ready-to-use Registry.
func NewRegistry(log zerolog.Logger) *Registry {
	return &Registry{
		log:      log.With().Str("component", "session_registry").Logger(),
		sessions: make(map[string]*Session),
		byIdent:  make(map[string]map[string]struct{}),
	}
}

// Track registers a newly-created, still-unbound session.
func (r *Registry) Track(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[s.ID] = s
}

// Bind associates session with identity. A session may be rebound (e.g.
// re-registering mid-connection is not expected, but Bind is idempotent
// either way).
func (r *Registry) Bind(sessionID, identity string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[sessionID]
	if !ok {
		return
	}

	if prev := s.Identity(); prev != "" && prev != identity {
		r.removeFromIndex(prev, sessionID)
	}
	s.setIdentity(identity)

	set, ok := r.byIdent[identity]
	if !ok {
		set = make(map[string]struct{})
		r.byIdent[identity] = set
	}
	set[sessionID] = struct{}{}
}

// Unbind removes a session from the registry entirely. Always invoked on
// disconnect (spec.md §4.1).
func (r *Registry) Unbind(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[sessionID]
	if !ok {
		return
	}
	if identity := s.Identity(); identity != "" {
		r.removeFromIndex(identity, sessionID)
	}
	delete(r.sessions, sessionID)
}

func (r *Registry) removeFromIndex(identity, sessionID string) {
	set, ok := r.byIdent[identity]
	if !ok {
		return
	}
	delete(set, sessionID)
	if len(set) == 0 {
		delete(r.byIdent, identity)
	}
}

// IdentityOf returns the identity bound to sessionID, if any.
func (r *Registry) IdentityOf(sessionID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[sessionID]
	if !ok {
		return "", false
	}
	identity := s.Identity()
	return identity, identity != ""
}

// Get returns the *Session for sessionID, if locally tracked.
func (r *Registry) Get(sessionID string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[sessionID]
	return s, ok
}

// LocalSessionsFor returns the live local sessions bound to identity,
// excluding excludeID (used to exclude the sender's own session from
// echo fan-out per spec.md §9's "exclude" policy decision).
func (r *Registry) LocalSessionsFor(identity, excludeID string) []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	set, ok := r.byIdent[identity]
	if !ok {
		return nil
	}
	out := make([]*Session, 0, len(set))
	for sid := range set {
		if sid == excludeID {
			continue
		}
		if s, ok := r.sessions[sid]; ok {
			out = append(out, s)
		}
	}
	return out
}

// HasLocalSession reports whether identity has at least one local,
// still-bound session on this instance.
func (r *Registry) HasLocalSession(identity string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	set, ok := r.byIdent[identity]
	return ok && len(set) > 0
}

// EnumerateLocalSessions returns every session id currently tracked on
// this instance (spec.md §4.1).
func (r *Registry) EnumerateLocalSessions() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		out = append(out, id)
	}
	return out
}
