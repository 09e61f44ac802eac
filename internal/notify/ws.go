package notify

import (
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"
)

// WSSession is one connected user socket.
type WSSession struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (s *WSSession) send(ev Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteJSON(ev)
}

// WSRegistry holds live user sessions and pushes events to any recipient who
// is currently connected. Users without a session simply miss the push; the
// notifier's inbox covers them.
type WSRegistry struct {
	mu       sync.RWMutex
	sessions map[string]*WSSession
	logger   *slog.Logger
}

func NewWSRegistry(logger *slog.Logger) *WSRegistry {
	return &WSRegistry{sessions: make(map[string]*WSSession), logger: logger}
}

func (r *WSRegistry) Add(userID string, conn *websocket.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if old, ok := r.sessions[userID]; ok {
		_ = old.conn.Close()
	}
	r.sessions[userID] = &WSSession{conn: conn}
}

func (r *WSRegistry) Remove(userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[userID]; ok {
		_ = s.conn.Close()
		delete(r.sessions, userID)
	}
}

func (r *WSRegistry) Publish(ev Event) error {
	for _, userID := range ev.Recipients {
		r.mu.RLock()
		s, ok := r.sessions[userID]
		r.mu.RUnlock()
		if !ok {
			continue
		}
		if err := s.send(ev); err != nil && r.logger != nil {
			r.logger.Warn("ws push failed", "user_id", userID, "error", err)
		}
	}
	return nil
}
