package hub

import (
	"sync"

	"project-canvas/internal/domain"

	"github.com/rs/zerolog/log"
)

// Client is one live connection. It remembers the rooms it joined so a
// disconnect can leave them all.
type Client struct {
	ID   string
	User *domain.User

	mu     sync.Mutex
	rooms  map[uint64]struct{}
	closed bool

	send chan []byte
	done chan struct{}
}

// Send is drained by the connection writer.
func (c *Client) Send() <-chan []byte {
	return c.send
}

// Done is closed once the connection has been disconnected.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

func (c *Client) Rooms() []uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]uint64, 0, len(c.rooms))
	for id := range c.rooms {
		out = append(out, id)
	}
	return out
}

func (c *Client) member() Member {
	return Member{UserID: c.User.ID, UserName: c.User.FullName()}
}

func (c *Client) track(canvasID uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.rooms[canvasID] = struct{}{}
	return true
}

func (c *Client) untrack(canvasID uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.rooms[canvasID]; !ok {
		return false
	}
	delete(c.rooms, canvasID)
	return true
}

// close marks the client closed and hands back the rooms it was in.
func (c *Client) close() []uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	close(c.done)

	out := make([]uint64, 0, len(c.rooms))
	for id := range c.rooms {
		out = append(out, id)
	}
	c.rooms = make(map[uint64]struct{})
	return out
}

// enqueue never blocks; a slow consumer loses frames instead of
// stalling the room.
func (c *Client) enqueue(frame []byte) {
	select {
	case <-c.done:
		return
	default:
	}
	select {
	case c.send <- frame:
	default:
		log.Warn().Str("conn", c.ID).Uint64("user_id", c.User.ID).Msg("send buffer full, dropping frame")
	}
}

func (c *Client) sendEvent(event string, payload interface{}) {
	frame, err := encodeFrame(event, payload)
	if err != nil {
		log.Error().Err(err).Str("conn", c.ID).Msg("dropping frame")
		return
	}
	c.enqueue(frame)
}
