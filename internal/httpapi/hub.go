package httpapi

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/yaxxsin/taskhub/internal/taskhub"
)

// wsMessage is the live-channel frame. Event selects the shape: join_room
// carries Room, realtime_update and shared_update carry Type/Data/SpaceID.
type wsMessage struct {
	Event   string          `json:"event"`
	Room    string          `json:"room,omitempty"`
	Type    string          `json:"type,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
	SpaceID string          `json:"spaceId,omitempty"`
}

type wsClient struct {
	conn   *websocket.Conn
	userID string

	writeMu sync.Mutex
}

// Hub is the owner end of the live channel. Collaborators join rooms
// (user:<id>, space:<id>); their realtime_update frames are applied to the
// local store and relayed as shared_update to every other member of the
// space room. Hub implements taskhub.Broadcaster for locally originated
// events.
type Hub struct {
	store *taskhub.Store

	mu      sync.Mutex
	rooms   map[string]map[*wsClient]struct{}
	clients map[*wsClient]struct{}
}

func NewHub(store *taskhub.Store) *Hub {
	return &Hub{
		store:   store,
		rooms:   map[string]map[*wsClient]struct{}{},
		clients: map[*wsClient]struct{}{},
	}
}

func (h *Hub) Handle(w http.ResponseWriter, r *http.Request, claims tokenClaims) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		log.Printf("httpapi: websocket accept failed: %v", err)
		return
	}
	cl := &wsClient{conn: conn, userID: claims.UserID}
	h.addClient(cl)
	defer func() {
		h.removeClient(cl)
		_ = conn.CloseNow()
	}()

	ctx := r.Context()
	for {
		var msg wsMessage
		if err := wsjson.Read(ctx, conn, &msg); err != nil {
			return
		}
		switch msg.Event {
		case "join_room":
			if msg.Room != "" {
				h.join(msg.Room, cl)
			}
		case "realtime_update":
			h.store.ApplyRemoteUpdate(taskhub.ChannelEvent{
				Type:    msg.Type,
				Data:    msg.Data,
				SpaceID: msg.SpaceID,
			})
			h.fanOut(cl, taskhub.ChannelEvent{Type: msg.Type, Data: msg.Data, SpaceID: msg.SpaceID})
		}
	}
}

// Broadcast relays a locally originated event to connected collaborators.
func (h *Hub) Broadcast(_ context.Context, ev taskhub.ChannelEvent) error {
	h.fanOut(nil, ev)
	return nil
}

// fanOut sends ev as shared_update to the space room's members, or to every
// connected client when the event has no space. The sender is skipped.
func (h *Hub) fanOut(from *wsClient, ev taskhub.ChannelEvent) {
	h.mu.Lock()
	var targets []*wsClient
	if ev.SpaceID != "" {
		for cl := range h.rooms["space:"+ev.SpaceID] {
			if cl != from {
				targets = append(targets, cl)
			}
		}
	} else {
		for cl := range h.clients {
			if cl != from {
				targets = append(targets, cl)
			}
		}
	}
	h.mu.Unlock()

	msg := wsMessage{
		Event:   "shared_update",
		Type:    ev.Type,
		Data:    ev.Data,
		SpaceID: ev.SpaceID,
	}
	for _, cl := range targets {
		if err := cl.send(msg); err != nil {
			log.Printf("httpapi: live channel send to %s failed: %v", cl.userID, err)
		}
	}
}

func (c *wsClient) send(msg wsMessage) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return wsjson.Write(ctx, c.conn, msg)
}

func (h *Hub) addClient(cl *wsClient) {
	h.mu.Lock()
	h.clients[cl] = struct{}{}
	h.mu.Unlock()
}

func (h *Hub) join(room string, cl *wsClient) {
	h.mu.Lock()
	members, ok := h.rooms[room]
	if !ok {
		members = map[*wsClient]struct{}{}
		h.rooms[room] = members
	}
	members[cl] = struct{}{}
	h.mu.Unlock()
}

func (h *Hub) removeClient(cl *wsClient) {
	h.mu.Lock()
	delete(h.clients, cl)
	for room, members := range h.rooms {
		delete(members, cl)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
	h.mu.Unlock()
}
