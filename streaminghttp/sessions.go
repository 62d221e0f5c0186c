package streaminghttp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/quendoo/mcp-broker/broker"
)

// SentinelTenant is the tenant id assigned to connections synthesized for
// stream-mode sessions. Stream clients authenticate per request with an API
// key rather than a tenant identity, so every stream connection shares this
// value and it is exempt from the per-tenant cap.
const SentinelTenant = "sse-session"

var errSessionNotFound = errors.New("session not found")

// session pairs a pending credential with a lazily bound connection. Both
// lifetimes collapse into one cleanup step when the stream closes.
type session struct {
	id string

	mu           sync.Mutex
	apiKey       string
	connectionID string

	cleanup sync.Once
	done    chan struct{}
}

func newSessionID() string {
	return "session_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
}

// setAPIKey records the most recent credential supplied for this session.
func (s *session) setAPIKey(key string) {
	s.mu.Lock()
	s.apiKey = key
	s.mu.Unlock()
}

func (s *session) pendingKey() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.apiKey
}

// sessionTable owns the process-wide session map.
type sessionTable struct {
	mu       sync.RWMutex
	sessions map[string]*session
}

func newSessionTable() *sessionTable {
	return &sessionTable{sessions: make(map[string]*session)}
}

func (t *sessionTable) open() *session {
	s := &session{id: newSessionID(), done: make(chan struct{})}
	t.mu.Lock()
	t.sessions[s.id] = s
	t.mu.Unlock()
	return s
}

func (t *sessionTable) lookup(id string) (*session, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s, ok := t.sessions[id]
	return s, ok
}

func (t *sessionTable) all() []*session {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]*session, 0, len(t.sessions))
	for _, s := range t.sessions {
		out = append(out, s)
	}
	return out
}

// close tears a session down: the entry leaves the table, the bound
// connection is removed, and the done channel closes. Safe to call from the
// stream goroutine and a server shutdown concurrently; only the first call
// does the work.
func (t *sessionTable) close(ctx context.Context, s *session, b *broker.Broker, log *slog.Logger) {
	s.cleanup.Do(func() {
		t.mu.Lock()
		delete(t.sessions, s.id)
		t.mu.Unlock()

		s.mu.Lock()
		connID := s.connectionID
		s.connectionID = ""
		s.apiKey = ""
		s.mu.Unlock()

		if connID != "" {
			b.Disconnect(ctx, connID)
		}
		log.InfoContext(ctx, "session.closed", slog.String("session_id", s.id))
		close(s.done)
	})
}

// ensureConnection returns the session's bound connection id, creating one on
// first use. A bound connection that the registry has since swept is replaced
// transparently.
func (t *sessionTable) ensureConnection(ctx context.Context, s *session, b *broker.Broker) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.connectionID != "" {
		if _, err := b.Lookup(s.connectionID); err == nil {
			return s.connectionID, nil
		}
		s.connectionID = ""
	}

	conn, err := b.Connect(ctx, SentinelTenant, s.id, nil)
	if err != nil {
		return "", fmt.Errorf("bind connection for session %s: %w", s.id, err)
	}
	s.connectionID = conn.ID
	return conn.ID, nil
}
