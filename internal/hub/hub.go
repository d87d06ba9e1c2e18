package hub

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"project-canvas/internal/domain"
	"project-canvas/internal/permission"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

var (
	ErrForbidden = errors.New("hub: access denied")
	ErrClosed    = errors.New("hub: connection closed")
)

// Authorizer decides what a user may do on a canvas at join time.
type Authorizer interface {
	Authorize(ctx context.Context, canvasID uint64, user *domain.User) (permission.Set, error)
}

type Member struct {
	UserID   uint64 `json:"user_id"`
	UserName string `json:"user_name"`
}

type membership struct {
	client *Client
	perms  permission.Set
}

type room struct {
	name    string
	mu      sync.Mutex
	members map[string]*membership
	// set once the room has been dropped from the registry; joiners
	// that raced with the removal must look it up again
	closed bool
}

type Hub struct {
	mu      sync.RWMutex
	rooms   map[string]*room
	clients map[string]*Client

	auth       Authorizer
	bus        Bus
	// true while this instance's bus subscription is live
	relaying   atomic.Bool
	sendBuffer int
	now        func() time.Time
}

const relayTimeout = 2 * time.Second

type Option func(*Hub)

func WithBus(b Bus) Option {
	return func(h *Hub) { h.bus = b }
}

func WithSendBuffer(n int) Option {
	return func(h *Hub) {
		if n > 0 {
			h.sendBuffer = n
		}
	}
}

func New(auth Authorizer, opts ...Option) *Hub {
	h := &Hub{
		rooms:      make(map[string]*room),
		clients:    make(map[string]*Client),
		auth:       auth,
		sendBuffer: 256,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func RoomName(canvasID uint64) string {
	return fmt.Sprintf("canvas_%d", canvasID)
}

// Run consumes relayed frames from the bus until ctx is done. Without a
// bus it returns immediately. While no subscription is live, broadcasts
// are delivered to local members directly.
func (h *Hub) Run(ctx context.Context) error {
	if h.bus == nil {
		return nil
	}
	defer h.relaying.Store(false)
	return h.bus.Subscribe(ctx, func() {
		h.relaying.Store(true)
	}, func(env Envelope) {
		h.deliver(env.Room, env.Frame, env.Exclude)
	})
}

// Register creates the connection state for an authenticated user.
func (h *Hub) Register(user *domain.User) *Client {
	c := &Client{
		ID:    uuid.NewString(),
		User:  user,
		rooms: make(map[uint64]struct{}),
		send:  make(chan []byte, h.sendBuffer),
		done:  make(chan struct{}),
	}
	h.mu.Lock()
	h.clients[c.ID] = c
	h.mu.Unlock()
	return c
}

func (h *Hub) lookup(name string, create bool) *room {
	h.mu.RLock()
	r := h.rooms[name]
	h.mu.RUnlock()
	if r != nil || !create {
		return r
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if r = h.rooms[name]; r == nil {
		r = &room{name: name, members: make(map[string]*membership)}
		h.rooms[name] = r
	}
	return r
}

func (h *Hub) addMember(name string, m *membership) bool {
	for {
		r := h.lookup(name, true)
		r.mu.Lock()
		if r.closed {
			r.mu.Unlock()
			continue
		}
		if _, ok := r.members[m.client.ID]; ok {
			r.mu.Unlock()
			return false
		}
		r.members[m.client.ID] = m
		r.mu.Unlock()
		return true
	}
}

// removeMember drops the connection and deletes the room once empty.
// Lock order is room, then registry.
func (h *Hub) removeMember(name, connID string) bool {
	r := h.lookup(name, false)
	if r == nil {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.members[connID]
	delete(r.members, connID)
	if len(r.members) == 0 && !r.closed {
		r.closed = true
		h.mu.Lock()
		if h.rooms[name] == r {
			delete(h.rooms, name)
		}
		h.mu.Unlock()
	}
	return ok
}

func (h *Hub) membershipOf(name, connID string) (*membership, bool) {
	r := h.lookup(name, false)
	if r == nil {
		return nil, false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.members[connID]
	return m, ok
}

// Join authorizes the connection for read and adds it to the canvas
// room. Joining a room twice is a no-op.
func (h *Hub) Join(ctx context.Context, c *Client, canvasID uint64) error {
	perms := permission.All
	if h.auth != nil {
		var err error
		perms, err = h.auth.Authorize(ctx, canvasID, c.User)
		if err != nil {
			return err
		}
	}
	if !permission.CanRead(perms) {
		return ErrForbidden
	}

	name := RoomName(canvasID)
	if !h.addMember(name, &membership{client: c, perms: perms}) {
		return nil
	}
	if !c.track(canvasID) {
		h.removeMember(name, c.ID)
		return ErrClosed
	}

	if h.bus != nil {
		if err := h.bus.Track(ctx, name, c.ID, c.member()); err != nil {
			log.Warn().Err(err).Str("room", name).Msg("presence track failed")
		}
	}

	log.Debug().Str("conn", c.ID).Uint64("user_id", c.User.ID).Str("room", name).Msg("joined")
	h.broadcast(name, EventUserJoined, PresenceEvent{
		UserID:   c.User.ID,
		UserName: c.User.FullName(),
		CanvasID: canvasID,
	}, c.ID)
	return nil
}

// Leave removes the connection from one room and notifies the rest.
func (h *Hub) Leave(c *Client, canvasID uint64) {
	if !c.untrack(canvasID) {
		return
	}
	h.leave(c, canvasID)
}

func (h *Hub) leave(c *Client, canvasID uint64) {
	name := RoomName(canvasID)
	if !h.removeMember(name, c.ID) {
		return
	}
	if h.bus != nil {
		ctx, cancel := context.WithTimeout(context.Background(), relayTimeout)
		err := h.bus.Untrack(ctx, name, c.ID)
		cancel()
		if err != nil {
			log.Warn().Err(err).Str("room", name).Msg("presence untrack failed")
		}
	}

	log.Debug().Str("conn", c.ID).Uint64("user_id", c.User.ID).Str("room", name).Msg("left")
	h.broadcast(name, EventUserLeft, PresenceEvent{
		UserID:   c.User.ID,
		UserName: c.User.FullName(),
		CanvasID: canvasID,
	}, c.ID)
}

// Disconnect leaves every joined room and stops the connection.
func (h *Hub) Disconnect(c *Client) {
	for _, canvasID := range c.close() {
		h.leave(c, canvasID)
	}
	h.mu.Lock()
	delete(h.clients, c.ID)
	h.mu.Unlock()
}

// Update relays an element mutation to the other members. Connections
// that joined without write capability are ignored.
func (h *Hub) Update(c *Client, in CanvasUpdateIn) {
	canvasID := uint64(in.CanvasID)
	name := RoomName(canvasID)
	m, ok := h.membershipOf(name, c.ID)
	if !ok {
		return
	}
	if !permission.CanWrite(m.perms) {
		log.Debug().Str("conn", c.ID).Str("room", name).Msg("dropping update from read-only member")
		c.sendEvent(EventError, ErrorEvent{Message: "Write permission required"})
		return
	}

	h.broadcast(name, EventCanvasUpdate, CanvasUpdateEvent{
		CanvasID:    canvasID,
		UserID:      c.User.ID,
		UserName:    c.User.FullName(),
		Action:      in.Action,
		ElementData: in.ElementData,
		Update:      in.Update,
		Timestamp:   h.now().UTC().Format(time.RFC3339Nano),
	}, c.ID)
}

func (h *Hub) CursorMove(c *Client, in CursorMoveIn) {
	canvasID := uint64(in.CanvasID)
	name := RoomName(canvasID)
	if _, ok := h.membershipOf(name, c.ID); !ok {
		return
	}
	h.broadcast(name, EventCursorUpdate, CursorEvent{
		CanvasID: canvasID,
		UserID:   c.User.ID,
		UserName: c.User.FullName(),
		X:        in.X,
		Y:        in.Y,
	}, c.ID)
}

func (h *Hub) ElementSelect(c *Client, in ElementSelectIn) {
	canvasID := uint64(in.CanvasID)
	name := RoomName(canvasID)
	if _, ok := h.membershipOf(name, c.ID); !ok {
		return
	}
	h.broadcast(name, EventElementSelected, SelectionEvent{
		CanvasID:  canvasID,
		UserID:    c.User.ID,
		UserName:  c.User.FullName(),
		ElementID: in.ElementID,
	}, c.ID)
}

// Chat fans a message out to every member, the sender included.
func (h *Hub) Chat(c *Client, in ChatMessageIn) {
	canvasID := uint64(in.CanvasID)
	name := RoomName(canvasID)
	if _, ok := h.membershipOf(name, c.ID); !ok {
		return
	}
	ts := in.Timestamp
	if len(ts) == 0 {
		ts = []byte(`"` + h.now().UTC().Format(time.RFC3339Nano) + `"`)
	}
	h.broadcast(name, EventNewChatMessage, ChatEvent{
		CanvasID:  canvasID,
		UserID:    c.User.ID,
		UserName:  c.User.FullName(),
		Message:   in.Message,
		Timestamp: ts,
	}, "")
}

// Publish sends an event to every member of the canvas room.
func (h *Hub) Publish(canvasID uint64, event string, payload interface{}) {
	h.broadcast(RoomName(canvasID), event, payload, "")
}

// Members lists the distinct users present on a canvas. With a bus the
// list spans every instance.
func (h *Hub) Members(ctx context.Context, canvasID uint64) ([]Member, error) {
	name := RoomName(canvasID)
	if h.bus != nil {
		members, err := h.bus.Members(ctx, name)
		if err == nil {
			return members, nil
		}
		log.Warn().Err(err).Str("room", name).Msg("presence lookup failed, using local members")
	}

	out := []Member{}
	r := h.lookup(name, false)
	if r == nil {
		return out, nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	seen := make(map[uint64]bool, len(r.members))
	for _, m := range r.members {
		if seen[m.client.User.ID] {
			continue
		}
		seen[m.client.User.ID] = true
		out = append(out, m.client.member())
	}
	return out, nil
}

// Close disconnects every registered connection.
func (h *Hub) Close() {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		h.Disconnect(c)
	}
}

func (h *Hub) broadcast(name, event string, payload interface{}, exclude string) {
	frame, err := encodeFrame(event, payload)
	if err != nil {
		log.Error().Err(err).Str("room", name).Msg("dropping frame")
		return
	}

	if h.bus != nil {
		subscribed := h.relaying.Load()
		ctx, cancel := context.WithTimeout(context.Background(), relayTimeout)
		receivers, err := h.bus.Publish(ctx, Envelope{Room: name, Exclude: exclude, Frame: frame})
		cancel()
		switch {
		case err != nil:
			log.Warn().Err(err).Str("room", name).Msg("relay publish failed, delivering locally")
		case subscribed && receivers > 0:
			// our own subscription delivers to local members
			return
		}
	}
	h.deliver(name, frame, exclude)
}

func (h *Hub) deliver(name string, frame []byte, exclude string) {
	r := h.lookup(name, false)
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, m := range r.members {
		if id == exclude {
			continue
		}
		m.client.enqueue(frame)
	}
}
