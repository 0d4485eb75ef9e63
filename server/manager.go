package server

import (
	"context"
	"log/slog"
	"sync"
)

type trackedSession struct {
	debateID string
	cancel   context.CancelFunc
}

// ClientManager tracks live streaming sessions so shutdown can end them.
// Sessions never look at each other through it.
type ClientManager struct {
	mu       sync.Mutex
	sessions map[string]trackedSession
	wg       sync.WaitGroup
	closing  bool
	logger   *slog.Logger
}

func NewClientManager(logger *slog.Logger) *ClientManager {
	return &ClientManager{
		sessions: make(map[string]trackedSession),
		logger:   logger,
	}
}

// AddClient registers a session and returns the context it must run under.
// The returned release func must be called when the session ends. Once
// shutdown has begun, the returned context is already cancelled.
func (m *ClientManager) AddClient(parent context.Context, sessionID, debateID string) (context.Context, func()) {
	ctx, cancel := context.WithCancel(parent)

	m.mu.Lock()
	m.sessions[sessionID] = trackedSession{debateID: debateID, cancel: cancel}
	m.wg.Add(1)
	if m.closing {
		cancel()
	}
	m.mu.Unlock()

	var once sync.Once
	return ctx, func() {
		once.Do(func() {
			cancel()
			m.RemoveClient(sessionID)
			m.wg.Done()
		})
	}
}

func (m *ClientManager) RemoveClient(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, sessionID)
}

func (m *ClientManager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// CountFor reports the number of live sessions watching debateID.
func (m *ClientManager) CountFor(debateID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, s := range m.sessions {
		if s.debateID == debateID {
			n++
		}
	}
	return n
}

func (m *ClientManager) WaitForCompletion() {
	m.wg.Wait()
}

func (m *ClientManager) CloseAllConnections(reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closing = true
	for id, s := range m.sessions {
		m.logger.Info("closing session", "session_id", id, "debate_id", s.debateID, "reason", reason)
		s.cancel()
	}
}
