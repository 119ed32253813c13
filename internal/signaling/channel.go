package signaling

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/soulline/lifeline/pkg/logger"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1 << 20 // 1 MiB; SDP offers with many candidates stay well under this
	sendQueueSize  = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// channel is one participant's open WebSocket. Inbound frames are treated as
// relay payloads from this actor; outbound frames are envelopes from the peer.
type channel struct {
	relay     *Relay
	socket    *websocket.Conn
	sessionID string
	actorID   string
	send      chan Envelope
	done      chan struct{}
	once      sync.Once
}

// Serve upgrades the HTTP connection and attaches the actor's signaling
// channel. Calling it again for the same actor is the Reconnect operation:
// the stale channel is replaced and session state is left untouched.
func (r *Relay) Serve(sessionID, actorID string, w http.ResponseWriter, req *http.Request) {
	conn, err := upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.log.Warn("upgrade failed",
			zap.String("session_id", sessionID),
			zap.Error(err),
		)
		return
	}

	ch := &channel{
		relay:     r,
		socket:    conn,
		sessionID: sessionID,
		actorID:   actorID,
		send:      make(chan Envelope, sendQueueSize),
		done:      make(chan struct{}),
	}
	r.attach(sessionID, actorID, ch)

	go ch.writeLoop()
	ch.readLoop()
}

// deliver enqueues an envelope for the peer, reporting false when the
// channel's queue is full or already shut down.
func (c *channel) deliver(env Envelope) bool {
	select {
	case <-c.done:
		return false
	case c.send <- env:
		return true
	default:
		return false
	}
}

func (c *channel) readLoop() {
	defer c.shutdown()

	c.socket.SetReadLimit(maxMessageSize)
	_ = c.socket.SetReadDeadline(time.Now().Add(pongWait))
	c.socket.SetPongHandler(func(string) error {
		_ = c.socket.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	log := logger.WithSession("signaling", c.sessionID)
	for {
		_, payload, err := c.socket.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Debug("unexpected close", zap.String("actor_id", c.actorID), zap.Error(err))
			}
			return
		}

		if len(payload) == 0 {
			continue
		}

		if err := c.relay.Send(c.sessionID, c.actorID, payload); err != nil {
			// Transient: surface to the sender so it can back off and retry.
			log.Debug("relay failed", zap.String("actor_id", c.actorID), zap.Error(err))
		}
	}
}

func (c *channel) writeLoop() {
	defer c.shutdown()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			_ = c.socket.WriteMessage(websocket.CloseMessage, []byte{})
			return
		case env := <-c.send:
			_ = c.socket.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.socket.WriteJSON(env); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.socket.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.socket.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *channel) shutdown() {
	c.once.Do(func() {
		c.relay.detach(c.sessionID, c.actorID, c)
		close(c.done)
		_ = c.socket.Close()
	})
}
