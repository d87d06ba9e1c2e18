package hub

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"project-canvas/internal/domain"
	apierr "project-canvas/internal/errors"

	"github.com/fasthttp/websocket"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1 << 20
	joinTimeout    = 5 * time.Second
)

type Handler struct {
	hub      *Hub
	upgrader websocket.Upgrader
}

// NewHandler accepts upgrades from origin, or from anywhere when origin
// is empty.
func NewHandler(h *Hub, origin string) *Handler {
	return &Handler{
		hub: h,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				return origin == "" || r.Header.Get("Origin") == origin
			},
		},
	}
}

// Serve upgrades an authenticated request and runs the connection until
// either side closes it.
func (h *Handler) Serve(c *gin.Context) {
	value, ok := c.Get("user")
	user, _ := value.(*domain.User)
	if !ok || user == nil {
		c.Error(apierr.Unauthorized("Authentication required", nil))
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// the upgrader already wrote the error response
		log.Warn().Err(err).Uint64("user_id", user.ID).Msg("websocket upgrade failed")
		return
	}

	client := h.hub.Register(user)
	log.Info().Str("conn", client.ID).Uint64("user_id", user.ID).Msg("socket connected")

	go h.writePump(conn, client)
	h.readPump(c.Request.Context(), conn, client)
}

func (h *Handler) readPump(ctx context.Context, conn *websocket.Conn, client *Client) {
	defer func() {
		h.hub.Disconnect(client)
		conn.Close()
		log.Info().Str("conn", client.ID).Uint64("user_id", client.User.ID).Msg("socket disconnected")
	}()

	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn().Err(err).Str("conn", client.ID).Msg("socket read failed")
			}
			return
		}
		h.dispatch(ctx, client, raw)
	}
}

func (h *Handler) writePump(conn *websocket.Conn, client *Client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case frame := <-client.Send():
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-client.Done():
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

func (h *Handler) dispatch(ctx context.Context, client *Client, raw []byte) {
	var f Frame
	if err := json.Unmarshal(raw, &f); err != nil {
		client.sendEvent(EventError, ErrorEvent{Message: "Malformed frame"})
		return
	}

	switch f.Event {
	case EventJoinCanvas:
		var in CanvasRef
		if !decode(client, f.Data, &in) {
			return
		}
		joinCtx, cancel := context.WithTimeout(ctx, joinTimeout)
		defer cancel()
		if err := h.hub.Join(joinCtx, client, uint64(in.CanvasID)); err != nil {
			if !errors.Is(err, ErrForbidden) {
				log.Error().Err(err).Str("conn", client.ID).Uint64("canvas_id", uint64(in.CanvasID)).Msg("join failed")
			}
			client.sendEvent(EventError, ErrorEvent{Message: joinErrorMessage(err)})
		}
	case EventLeaveCanvas:
		var in CanvasRef
		if decode(client, f.Data, &in) {
			h.hub.Leave(client, uint64(in.CanvasID))
		}
	case EventCanvasUpdate:
		var in CanvasUpdateIn
		if decode(client, f.Data, &in) {
			h.hub.Update(client, in)
		}
	case EventCursorMove:
		var in CursorMoveIn
		if decode(client, f.Data, &in) {
			h.hub.CursorMove(client, in)
		}
	case EventElementSelect:
		var in ElementSelectIn
		if decode(client, f.Data, &in) {
			h.hub.ElementSelect(client, in)
		}
	case EventChatMessage:
		var in ChatMessageIn
		if decode(client, f.Data, &in) {
			h.hub.Chat(client, in)
		}
	default:
		client.sendEvent(EventError, ErrorEvent{Message: "Unknown event " + f.Event})
	}
}

func decode(client *Client, data json.RawMessage, v interface{}) bool {
	if len(data) == 0 {
		client.sendEvent(EventError, ErrorEvent{Message: "Missing event data"})
		return false
	}
	if err := json.Unmarshal(data, v); err != nil {
		client.sendEvent(EventError, ErrorEvent{Message: "Invalid event data"})
		return false
	}
	return true
}

func joinErrorMessage(err error) string {
	var apiErr *apierr.APIError
	switch {
	case errors.Is(err, ErrForbidden):
		return "Access denied"
	case errors.As(err, &apiErr) && apiErr.Status < http.StatusInternalServerError:
		return apiErr.Message
	default:
		return "Unable to join canvas"
	}
}
