// Package session holds per-conversation chat history for the interactive
// chat mode. The store is the only process-wide mutable resource in the
// system: the session map is guarded against concurrent insertion, and turns
// within one session are strictly ordered by serializing exchanges on a
// per-session lock.
package session

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Turn is a single entry in a conversation history.
type Turn struct {
	Role string    `json:"role"` // user, agent
	Text string    `json:"text"`
	At   time.Time `json:"at"`
}

// Session is an append-only ordered conversation history.
type Session struct {
	id string

	mu    sync.Mutex
	turns []Turn
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// History returns a copy of the ordered turns.
func (s *Session) History() []Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Turn, len(s.turns))
	copy(out, s.turns)
	return out
}

// Exchange appends the user turn, invokes reply with the updated history, and
// appends the agent reply when the call succeeds. A failed call leaves the
// user turn in place (the user did say it) but never fabricates a reply.
// Exchanges on the same session are serialized, so concurrent chat calls
// cannot interleave history.
func (s *Session) Exchange(userText string, reply func(history []Turn) (string, error)) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.turns = append(s.turns, Turn{Role: "user", Text: userText, At: time.Now()})
	history := make([]Turn, len(s.turns))
	copy(history, s.turns)

	resp, err := reply(history)
	if err != nil {
		return "", err
	}
	s.turns = append(s.turns, Turn{Role: "agent", Text: resp, At: time.Now()})
	return resp, nil
}

// Store is the process-wide session registry. Sessions expire after the TTL
// and the registry is capped: when full, the least recently used session is
// evicted. Recency is tracked per Ensure call, which every chat exchange goes
// through first.
type Store struct {
	ttl time.Duration
	cap int

	mu       sync.RWMutex
	sessions map[string]*Session
	lastSeen map[string]time.Time
}

// NewStore creates a session store with the given TTL and capacity. A zero
// TTL disables expiry; a zero cap disables the LRU bound.
func NewStore(ttl time.Duration, maxSessions int) *Store {
	return &Store{
		ttl:      ttl,
		cap:      maxSessions,
		sessions: make(map[string]*Session),
		lastSeen: make(map[string]time.Time),
	}
}

// Ensure returns the session for id, creating it when absent. An empty id
// gets a generated one.
func (st *Store) Ensure(id string) *Session {
	st.mu.Lock()
	defer st.mu.Unlock()

	now := time.Now()
	st.sweep(now)

	if id != "" {
		if sess, ok := st.sessions[id]; ok {
			st.lastSeen[id] = now
			return sess
		}
	} else {
		id = uuid.NewString()
	}

	if st.cap > 0 && len(st.sessions) >= st.cap {
		st.evictOldest()
	}

	sess := &Session{id: id}
	st.sessions[id] = sess
	st.lastSeen[id] = now
	return sess
}

// Get returns the session for id, or nil when unknown or expired.
func (st *Store) Get(id string) *Session {
	st.mu.RLock()
	defer st.mu.RUnlock()
	if st.ttl > 0 {
		if seen, ok := st.lastSeen[id]; ok && time.Since(seen) > st.ttl {
			return nil
		}
	}
	return st.sessions[id]
}

// Len returns the number of live sessions.
func (st *Store) Len() int {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return len(st.sessions)
}

// sweep drops expired sessions. Caller holds the write lock.
func (st *Store) sweep(now time.Time) {
	if st.ttl <= 0 {
		return
	}
	for id, seen := range st.lastSeen {
		if now.Sub(seen) > st.ttl {
			delete(st.sessions, id)
			delete(st.lastSeen, id)
		}
	}
}

// evictOldest removes the least recently used session. Caller holds the write
// lock.
func (st *Store) evictOldest() {
	type entry struct {
		id   string
		seen time.Time
	}
	entries := make([]entry, 0, len(st.lastSeen))
	for id, seen := range st.lastSeen {
		entries = append(entries, entry{id, seen})
	}
	if len(entries) == 0 {
		return
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].seen.Before(entries[j].seen) })
	delete(st.sessions, entries[0].id)
	delete(st.lastSeen, entries[0].id)
}
