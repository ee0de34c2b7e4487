package collab

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/yaxxsin/taskhub/internal/taskhub"
)

// channelMessage is the frame exchanged over the live channel. Event selects
// the shape: join_room carries Room, realtime_update and shared_update carry
// Type/Data/SpaceID.
type channelMessage struct {
	Event   string          `json:"event"`
	Room    string          `json:"room,omitempty"`
	Type    string          `json:"type,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
	SpaceID string          `json:"spaceId,omitempty"`
}

type ChannelOptions struct {
	URL         string
	Token       string
	UserID      string
	MaxAttempts int
	Backoff     time.Duration
	DialTimeout time.Duration
}

// Channel is the collaborator end of the websocket live channel. It joins
// its user room and a room per known space on every connect, relays local
// events out as realtime_update and applies inbound shared_update frames to
// the store. Channel implements taskhub.Broadcaster.
type Channel struct {
	store *taskhub.Store
	opts  ChannelOptions

	mu   sync.Mutex
	conn *websocket.Conn
}

func NewChannel(store *taskhub.Store, opts ChannelOptions) *Channel {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 5
	}
	if opts.Backoff <= 0 {
		opts.Backoff = 3 * time.Second
	}
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = 10 * time.Second
	}
	return &Channel{store: store, opts: opts}
}

// Run keeps the channel connected until ctx is canceled or the reconnect
// budget is spent. Each successful connect resets the budget.
func (c *Channel) Run(ctx context.Context) error {
	attempts := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		conn, err := c.connect(ctx)
		if err != nil {
			attempts++
			if attempts >= c.opts.MaxAttempts {
				return fmt.Errorf("live channel: giving up after %d attempts: %w", attempts, err)
			}
			log.Printf("collab: live channel connect failed (attempt %d): %v", attempts, err)
			if err := waitWithContext(ctx, c.opts.Backoff); err != nil {
				return err
			}
			continue
		}
		attempts = 0
		readErr := c.readLoop(ctx, conn)
		c.setConn(nil)
		_ = conn.CloseNow()
		if err := ctx.Err(); err != nil {
			return err
		}
		log.Printf("collab: live channel disconnected: %v", readErr)
		if err := waitWithContext(ctx, c.opts.Backoff); err != nil {
			return err
		}
	}
}

func (c *Channel) connect(ctx context.Context) (*websocket.Conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, c.opts.DialTimeout)
	defer cancel()
	header := http.Header{}
	if c.opts.Token != "" {
		header.Set("Authorization", "Bearer "+c.opts.Token)
	}
	conn, _, err := websocket.Dial(dialCtx, c.opts.URL, &websocket.DialOptions{HTTPHeader: header})
	if err != nil {
		return nil, err
	}
	for _, room := range c.rooms() {
		if err := wsjson.Write(ctx, conn, channelMessage{Event: "join_room", Room: room}); err != nil {
			_ = conn.CloseNow()
			return nil, err
		}
	}
	c.setConn(conn)
	return conn, nil
}

// rooms returns the user room plus one room per known space. Spaces created
// after connect are picked up on the next reconnect.
func (c *Channel) rooms() []string {
	rooms := []string{"user:" + c.opts.UserID}
	for _, sp := range c.store.Spaces() {
		rooms = append(rooms, "space:"+sp.ID)
	}
	return rooms
}

func (c *Channel) readLoop(ctx context.Context, conn *websocket.Conn) error {
	for {
		var msg channelMessage
		if err := wsjson.Read(ctx, conn, &msg); err != nil {
			return err
		}
		if msg.Event != "shared_update" {
			continue
		}
		c.store.ApplyRemoteUpdate(taskhub.ChannelEvent{
			Type:    msg.Type,
			Data:    msg.Data,
			SpaceID: msg.SpaceID,
		})
	}
}

// Broadcast sends a local mutation out as realtime_update. Events emitted
// while disconnected are dropped; the periodic shared pull reconciles.
func (c *Channel) Broadcast(ctx context.Context, ev taskhub.ChannelEvent) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("live channel not connected")
	}
	return wsjson.Write(ctx, conn, channelMessage{
		Event:   "realtime_update",
		Type:    ev.Type,
		Data:    ev.Data,
		SpaceID: ev.SpaceID,
	})
}

func (c *Channel) setConn(conn *websocket.Conn) {
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
}

func waitWithContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
