package service

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/CzarSimon/httputil/id"
	"github.com/gorilla/websocket"
	"github.com/opentracing/opentracing-go"
	tracelog "github.com/opentracing/opentracing-go/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/talentsync/session-manager/internal/models"
	"go.uber.org/zap"
)

// Prometheus metrics.
var (
	messagesRelayedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "room_messages_relayed_total",
			Help: "The total number of relayed room messages",
		},
	)
)

const sendBufferSize = 256

// RoomMember is one live connection tracked by the hub.
type RoomMember struct {
	id   string
	room string
	send chan []byte
}

// RoomHub tracks which live connections belong to which room and relays
// payloads between members of the same room. Rooms are keyed by session
// call id but the hub never checks keys against stored sessions, room
// membership and durable session membership are deliberately separate
// concerns. Everything here is in-memory and lost on restart, peers
// reconnect by joining again.
type RoomHub struct {
	upgrader *websocket.Upgrader
	mu       sync.RWMutex
	rooms    map[string]map[string]*RoomMember
}

// NewRoomHub creates a new RoomHub.
func NewRoomHub() *RoomHub {
	return &RoomHub{
		upgrader: &websocket.Upgrader{},
		mu:       sync.RWMutex{},
		rooms:    make(map[string]map[string]*RoomMember),
	}
}

// Register tracks a new connection. The connection belongs to no room
// until it joins one.
func (h *RoomHub) Register() *RoomMember {
	return &RoomMember{
		id:   id.New(),
		send: make(chan []byte, sendBufferSize),
	}
}

// Join adds the member to a room, creating the room if needed. Joining
// the same room again is a no-op. A member is in at most one room, so
// joining a different room leaves the previous one.
func (h *RoomHub) Join(m *RoomMember, roomID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if m.room == roomID {
		return
	}
	if m.room != "" {
		h.removeLocked(m)
	}

	members, ok := h.rooms[roomID]
	if !ok {
		members = make(map[string]*RoomMember)
		h.rooms[roomID] = members
	}

	members[m.id] = m
	m.room = roomID
}

// Relay delivers a payload to every member of the room except the
// sender. Only a current member of the room may relay into it, anything
// else is a silent no-op, as is an empty room. Members that cannot keep
// up are skipped rather than blocked on, delivery is best effort.
func (h *RoomHub) Relay(m *RoomMember, roomID string, payload []byte) {
	event := models.RoomEvent{
		Type:    models.TypeReceiveMessage,
		Payload: payload,
	}
	data, err := json.Marshal(event)
	if err != nil {
		log.Warn("failed to serialize room event", zap.Error(err))
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	if m.room != roomID {
		return
	}

	for _, member := range h.rooms[roomID] {
		if member.id == m.id {
			continue
		}

		select {
		case member.send <- data:
			messagesRelayedTotal.Inc()
		default:
		}
	}
}

// Disconnect removes the member from its room and stops its write pump.
// Empty rooms are dropped.
func (h *RoomHub) Disconnect(m *RoomMember) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.removeLocked(m)
	close(m.send)
}

func (h *RoomHub) removeLocked(m *RoomMember) {
	members, ok := h.rooms[m.room]
	if ok {
		delete(members, m.id)
		if len(members) == 0 {
			delete(h.rooms, m.room)
		}
	}

	m.room = ""
}

// Connect upgrades the request to a websocket and serves the connection
// until the transport closes it.
func (h *RoomHub) Connect(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	span, _ := opentracing.StartSpanFromContext(ctx, "service.RoomHub.Connect")
	defer span.Finish()

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		err = fmt.Errorf("failed to upgrade connection to a websocket %w", err)
		span.LogFields(tracelog.Error(err))
		return err
	}

	m := h.Register()
	go writePump(m, ws)
	go h.readPump(m, ws)
	return nil
}

// readPump translates inbound wire events into hub operations. A read
// error is the disconnect signal.
func (h *RoomHub) readPump(m *RoomMember, ws *websocket.Conn) {
	defer h.Disconnect(m)

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return
		}

		var event models.RoomEvent
		err = json.Unmarshal(data, &event)
		if err != nil {
			log.Warn("discarding malformed room event", zap.Error(err))
			continue
		}

		switch event.Type {
		case models.TypeJoinRoom:
			if event.RoomID != "" {
				h.Join(m, event.RoomID)
			}
		case models.TypeSendMessage:
			h.Relay(m, event.RoomID, event.Payload)
		default:
			log.Warn("discarding room event of unknown type " + event.Type)
		}
	}
}

func writePump(m *RoomMember, ws *websocket.Conn) {
	for data := range m.send {
		writeMessage(ws, websocket.TextMessage, data)
	}

	closeSocket(ws)
}

func closeSocket(ws *websocket.Conn) {
	writeMessage(ws, websocket.CloseMessage, []byte{})
	err := ws.Close()
	if err != nil {
		log.Warn("failed to close websocket connection", zap.Error(err))
	}
}

func writeMessage(ws *websocket.Conn, messageType int, data []byte) {
	err := ws.WriteMessage(messageType, data)
	if err != nil {
		log.Warn("failed to send message", zap.Error(err))
	}
}
