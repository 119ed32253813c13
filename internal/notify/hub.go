package notify

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/soulline/lifeline/pkg/logger"

	"github.com/soulline/lifeline/internal/roles"
)

const (
	writeWait     = 10 * time.Second
	pongWait      = 60 * time.Second
	pingPeriod    = (pongWait * 9) / 10
	sendQueueSize = 32
)

// Hub fans alerts out to WebSocket subscribers keyed by role. Readers,
// monitors and admins connect once and receive every ring or escalation
// directed at their role. It implements Notifier.
type Hub struct {
	mu          sync.RWMutex
	subscribers map[roles.Role]map[*subscriber]struct{}
	upgrader    websocket.Upgrader
	log         *zap.Logger
}

type subscriber struct {
	hub    *Hub
	socket *websocket.Conn
	role   roles.Role
	send   chan Alert
	once   sync.Once
}

// NewHub constructs an alert hub.
func NewHub() *Hub {
	return &Hub{
		subscribers: make(map[roles.Role]map[*subscriber]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		log: logger.WithModule("notify"),
	}
}

// Serve upgrades the HTTP connection and subscribes it to the actor's role.
func (h *Hub) Serve(role roles.Role, w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("upgrade failed", zap.Error(err))
		return
	}

	sub := &subscriber{
		hub:    h,
		socket: conn,
		role:   role,
		send:   make(chan Alert, sendQueueSize),
	}

	h.mu.Lock()
	if h.subscribers[role] == nil {
		h.subscribers[role] = make(map[*subscriber]struct{})
	}
	h.subscribers[role][sub] = struct{}{}
	h.mu.Unlock()

	go sub.writeLoop()
	sub.readLoop()
}

// SessionRinging implements Notifier.
func (h *Hub) SessionRinging(sessionID string, targetRole roles.Role, isEmergency bool) {
	h.broadcast(Alert{
		Event:       EventRinging,
		SessionID:   sessionID,
		TargetRole:  targetRole,
		IsEmergency: isEmergency,
	})
}

// SessionEscalated implements Notifier.
func (h *Hub) SessionEscalated(sessionID string, targetRole roles.Role, level int, isEmergency bool) {
	h.broadcast(Alert{
		Event:       EventEscalated,
		SessionID:   sessionID,
		TargetRole:  targetRole,
		Level:       level,
		IsEmergency: isEmergency,
	})
}

// SubscriberCount reports how many sockets are subscribed for the role.
func (h *Hub) SubscriberCount(role roles.Role) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers[role])
}

func (h *Hub) broadcast(alert Alert) {
	targets := []roles.Role{alert.TargetRole}
	// Admin-tier roles also see emergencies rung at other levels, including
	// super admins when the admin level itself is rung.
	if alert.IsEmergency {
		for _, role := range []roles.Role{roles.RoleAdmin, roles.RoleSuperAdmin} {
			if role != alert.TargetRole {
				targets = append(targets, role)
			}
		}
	}

	var stalled []*subscriber

	h.mu.RLock()
	for _, role := range targets {
		for sub := range h.subscribers[role] {
			select {
			case sub.send <- alert:
			default:
				stalled = append(stalled, sub)
			}
		}
	}
	h.mu.RUnlock()

	// Slow consumers are dropped outside the lock rather than blocking the call path.
	for _, sub := range stalled {
		h.log.Warn("dropping backpressure subscriber", zap.String("role", string(sub.role)))
		sub.close()
	}
}

func (h *Hub) unregister(sub *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if set, ok := h.subscribers[sub.role]; ok {
		delete(set, sub)
		if len(set) == 0 {
			delete(h.subscribers, sub.role)
		}
	}
}

func (s *subscriber) readLoop() {
	defer s.close()

	s.socket.SetReadLimit(1 << 16)
	_ = s.socket.SetReadDeadline(time.Now().Add(pongWait))
	s.socket.SetPongHandler(func(string) error {
		_ = s.socket.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		// Subscribers are receive-only; inbound frames are drained for pong handling.
		if _, _, err := s.socket.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *subscriber) writeLoop() {
	defer s.close()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case alert, ok := <-s.send:
			_ = s.socket.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = s.socket.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := s.socket.WriteJSON(alert); err != nil {
				return
			}
		case <-ticker.C:
			_ = s.socket.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.socket.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *subscriber) close() {
	s.once.Do(func() {
		s.hub.unregister(s)
		close(s.send)
		_ = s.socket.Close()
	})
}
