package realtime

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"visualbatch/internal/infra"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	roomBuffer     = 64
)

// RoomMessage is what WebSocket clients send to join or leave a room.
type RoomMessage struct {
	Action       string `json:"action"`
	GenerationID string `json:"generation_id"`
}

// roomReply acknowledges a client message.
type roomReply struct {
	Type         string `json:"type"`
	Action       string `json:"action,omitempty"`
	GenerationID string `json:"generation_id,omitempty"`
	Error        string `json:"error,omitempty"`
}

// Authorizer decides whether the connection may join a generation's room.
type Authorizer func(r *http.Request, generationID string) error

// Rooms is a WebSocket hub with one room per generation id.
type Rooms struct {
	mu       sync.RWMutex
	logger   infra.Logger
	rooms    map[string]map[*roomClient]struct{}
	upgrader websocket.Upgrader
}

type roomClient struct {
	conn  *websocket.Conn
	send  chan []byte
	rooms map[string]struct{}
	done  chan struct{}
	once  sync.Once
}

func (c *roomClient) close() {
	c.once.Do(func() { close(c.done) })
}

// NewRooms creates a hub. checkOrigin may be nil to accept any origin.
func NewRooms(logger infra.Logger, checkOrigin func(r *http.Request) bool) *Rooms {
	if checkOrigin == nil {
		checkOrigin = func(*http.Request) bool { return true }
	}
	return &Rooms{
		logger: infra.Component(logger, "rooms"),
		rooms:  make(map[string]map[*roomClient]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     checkOrigin,
		},
	}
}

// Members reports how many connections joined a room.
func (h *Rooms) Members(generationID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[generationID])
}

// Publish delivers ev to every member of its room.
func (h *Rooms) Publish(ev Event) {
	h.mu.RLock()
	members := h.rooms[ev.GenerationID]
	if len(members) == 0 {
		h.mu.RUnlock()
		return
	}
	raw, err := json.Marshal(ev)
	if err != nil {
		h.mu.RUnlock()
		h.logger.Warn().Err(err).Msg("encode room event")
		return
	}
	for c := range members {
		select {
		case c.send <- raw:
		default:
			h.logger.Warn().
				Str("generation_id", ev.GenerationID).
				Str("event", string(ev.Type)).
				Msg("dropping room event; buffer full")
		}
	}
	h.mu.RUnlock()
}

// ServeWS upgrades the request and serves subscribe/unsubscribe messages
// until the connection closes.
func (h *Rooms) ServeWS(w http.ResponseWriter, r *http.Request, authorize Authorizer) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}
	c := &roomClient{
		conn:  conn,
		send:  make(chan []byte, roomBuffer),
		rooms: make(map[string]struct{}),
		done:  make(chan struct{}),
	}
	go h.writeLoop(c)
	h.readLoop(r, c, authorize)
}

func (h *Rooms) readLoop(r *http.Request, c *roomClient, authorize Authorizer) {
	defer func() {
		h.leaveAll(c)
		c.close()
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug().Err(err).Msg("websocket closed")
			}
			return
		}
		var msg RoomMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			h.reply(c, roomReply{Type: "error", Error: "invalid message"})
			continue
		}
		genID := strings.TrimSpace(msg.GenerationID)
		if genID == "" {
			h.reply(c, roomReply{Type: "error", Action: msg.Action, Error: "generation_id is required"})
			continue
		}
		switch msg.Action {
		case "subscribe":
			if authorize != nil {
				if err := authorize(r, genID); err != nil {
					h.reply(c, roomReply{Type: "error", Action: msg.Action, GenerationID: genID, Error: "not allowed"})
					continue
				}
			}
			h.join(c, genID)
			h.reply(c, roomReply{Type: "ack", Action: msg.Action, GenerationID: genID})
		case "unsubscribe":
			h.leave(c, genID)
			h.reply(c, roomReply{Type: "ack", Action: msg.Action, GenerationID: genID})
		default:
			h.reply(c, roomReply{Type: "error", Action: msg.Action, Error: "unknown action"})
		}
	}
}

func (h *Rooms) writeLoop(c *roomClient) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case <-c.done:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.close()
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.close()
				return
			}
		}
	}
}

func (h *Rooms) reply(c *roomClient, msg roomReply) {
	raw, err := json.Marshal(msg)
	if err != nil {
		return
	}
	select {
	case c.send <- raw:
	default:
	}
}

func (h *Rooms) join(c *roomClient, genID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	members, ok := h.rooms[genID]
	if !ok {
		members = make(map[*roomClient]struct{})
		h.rooms[genID] = members
	}
	members[c] = struct{}{}
	c.rooms[genID] = struct{}{}
}

func (h *Rooms) leave(c *roomClient, genID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaveLocked(c, genID)
}

func (h *Rooms) leaveLocked(c *roomClient, genID string) {
	delete(c.rooms, genID)
	if members, ok := h.rooms[genID]; ok {
		delete(members, c)
		if len(members) == 0 {
			delete(h.rooms, genID)
		}
	}
}

func (h *Rooms) leaveAll(c *roomClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for genID := range c.rooms {
		h.leaveLocked(c, genID)
	}
}
