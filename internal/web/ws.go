package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/sweeney/volume-knob/internal/status"
)

// Message types on the /ws feed. Frames are JSON text with an envelope
// {type, ts, data}.
const (
	MsgStateInit     = "state_init"
	MsgVolumeChanged = "volume_changed"
	MsgSleepChanged  = "sleep_changed"
)

const (
	writeWait  = 5 * time.Second
	pongWait   = 30 * time.Second
	pingPeriod = 20 * time.Second

	defaultSendBuf      = 16
	defaultBroadcastBuf = 64
)

// Envelope is the wire format for websocket messages.
type Envelope struct {
	Type string          `json:"type"`
	Ts   time.Time       `json:"ts"`
	Data json.RawMessage `json:"data,omitempty"`
}

// StateData is the payload of state_init.
type StateData struct {
	Volume int  `json:"volume"`
	Min    int  `json:"min"`
	Max    int  `json:"max"`
	Asleep bool `json:"asleep"`
}

// VolumeData is the payload of volume_changed.
type VolumeData struct {
	Volume int `json:"volume"`
}

// SleepData is the payload of sleep_changed.
type SleepData struct {
	Asleep bool `json:"asleep"`
}

func encode(typ string, at time.Time, data any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Type: typ, Ts: at.UTC(), Data: raw})
}

// Hub tracks connected websocket clients and fans out broadcasts.
// Each client has its own write pump; a client whose queue fills is dropped.
type Hub struct {
	log logrus.FieldLogger

	broadcast  chan []byte
	register   chan *client
	unregister chan *client
	done       chan struct{}

	mu      sync.Mutex
	clients map[*client]struct{}

	sendBuf int
}

// NewHub constructs a hub. Call Run to start it.
func NewHub(log logrus.FieldLogger) *Hub {
	return &Hub{
		log:        log,
		broadcast:  make(chan []byte, defaultBroadcastBuf),
		register:   make(chan *client, 16),
		unregister: make(chan *client, 16),
		done:       make(chan struct{}),
		clients:    make(map[*client]struct{}),
		sendBuf:    defaultSendBuf,
	}
}

// Run processes hub events until ctx is cancelled, then disconnects all
// clients. Only Run closes client send queues.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = struct{}{}
			n := len(h.clients)
			h.mu.Unlock()
			h.log.WithFields(logrus.Fields{"remote_addr": c.remoteAddr, "clients": n}).Debug("ws client connected")

		case c := <-h.unregister:
			h.remove(c, "unregister")

		case msg := <-h.broadcast:
			var slow []*client
			h.mu.Lock()
			for c := range h.clients {
				select {
				case c.send <- msg:
				default:
					slow = append(slow, c)
				}
			}
			h.mu.Unlock()

			for _, c := range slow {
				h.remove(c, "slow client")
			}
		}
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		if c.conn != nil {
			c.conn.Close()
		}
		close(c.send)
		delete(h.clients, c)
	}
}

func (h *Hub) remove(c *client, reason string) {
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	n := len(h.clients)
	h.mu.Unlock()

	if !ok {
		return
	}
	if c.conn != nil {
		c.conn.Close()
	}
	close(c.send)
	h.log.WithFields(logrus.Fields{"remote_addr": c.remoteAddr, "reason": reason, "clients": n}).Debug("ws client disconnected")
}

// Clients returns the number of registered clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// broadcastBytes never blocks; a full queue drops the message.
func (h *Hub) broadcastBytes(msg []byte) {
	select {
	case h.broadcast <- msg:
	default:
		h.log.WithField("bytes", len(msg)).Warn("ws broadcast queue full, dropping message")
	}
}

// BroadcastVolume sends a volume_changed message to every client.
func (h *Hub) BroadcastVolume(volume int, at time.Time) {
	msg, err := encode(MsgVolumeChanged, at, VolumeData{Volume: volume})
	if err != nil {
		h.log.WithError(err).Warn("ws marshal failed")
		return
	}
	h.broadcastBytes(msg)
}

// BroadcastSleep sends a sleep_changed message to every client.
func (h *Hub) BroadcastSleep(asleep bool, at time.Time) {
	msg, err := encode(MsgSleepChanged, at, SleepData{Asleep: asleep})
	if err != nil {
		h.log.WithError(err).Warn("ws marshal failed")
		return
	}
	h.broadcastBytes(msg)
}

type client struct {
	hub        *Hub
	conn       *websocket.Conn
	send       chan []byte
	remoteAddr string
}

func closeStatus(err error) (int, string, bool) {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return ce.Code, ce.Text, true
	}
	return 0, "", false
}

func (c *client) logExit(pump string, err error) {
	if errors.Is(err, websocket.ErrCloseSent) {
		return
	}
	entry := c.hub.log.WithFields(logrus.Fields{"remote_addr": c.remoteAddr, "pump": pump})
	if code, text, ok := closeStatus(err); ok {
		entry.WithFields(logrus.Fields{"code": code, "reason": text}).Debug("ws closed")
		return
	}
	entry.WithError(err).Debug("ws pump exiting")
}

// writePump exits on write error or when the hub closes send.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.logExit("write", err)
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.logExit("ping", err)
				return
			}
		}
	}
}

// readPump discards inbound frames to detect disconnects and handle pongs.
func (c *client) readPump() {
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			c.logExit("read", err)
			select {
			case c.hub.unregister <- c:
			case <-c.hub.done:
			}
			return
		}
	}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleWS upgrades the connection, queues a state_init snapshot and
// registers the client with the hub.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.WithError(err).Warn("ws upgrade failed")
		return
	}

	c := &client{
		hub:        s.hub,
		conn:       conn,
		send:       make(chan []byte, s.hub.sendBuf),
		remoteAddr: r.RemoteAddr,
	}

	snap := s.tracker.Snapshot()
	if first, err := encode(MsgStateInit, snap.Now, snapshotState(snap)); err == nil {
		c.send <- first
	}

	select {
	case s.hub.register <- c:
	case <-s.hub.done:
		conn.Close()
		return
	}

	// Pumps outlive the request; the hub and socket errors end them.
	go c.writePump()
	go c.readPump()
}

func snapshotState(snap status.Snapshot) StateData {
	return StateData{Volume: snap.Volume, Min: snap.Min, Max: snap.Max, Asleep: snap.Asleep}
}
