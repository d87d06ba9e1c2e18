package hub

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// inbound
const (
	EventJoinCanvas    = "join_canvas"
	EventLeaveCanvas   = "leave_canvas"
	EventCanvasUpdate  = "canvas_update"
	EventCursorMove    = "cursor_move"
	EventElementSelect = "element_select"
	EventChatMessage   = "chat_message"
)

// outbound
const (
	EventUserJoined      = "user_joined"
	EventUserLeft        = "user_left"
	EventCursorUpdate    = "cursor_update"
	EventElementSelected = "element_selected"
	EventNewChatMessage  = "new_chat_message"
	EventError           = "error"
)

// Frame is the wire envelope in both directions.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

func encodeFrame(event string, payload interface{}) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", event, err)
	}
	return json.Marshal(Frame{Event: event, Data: data})
}

// CanvasID accepts both 7 and "7" from clients.
type CanvasID uint64

func (id *CanvasID) UnmarshalJSON(b []byte) error {
	b = bytes.Trim(b, `"`)
	v, err := strconv.ParseUint(string(b), 10, 64)
	if err != nil {
		return fmt.Errorf("invalid canvas_id %q", string(b))
	}
	*id = CanvasID(v)
	return nil
}

type CanvasRef struct {
	CanvasID CanvasID `json:"canvas_id"`
}

type CanvasUpdateIn struct {
	CanvasID    CanvasID        `json:"canvas_id"`
	Action      string          `json:"action"`
	ElementData json.RawMessage `json:"element_data,omitempty"`
	Update      json.RawMessage `json:"update,omitempty"`
}

type CursorMoveIn struct {
	CanvasID CanvasID `json:"canvas_id"`
	X        float64  `json:"x"`
	Y        float64  `json:"y"`
}

type ElementSelectIn struct {
	CanvasID  CanvasID        `json:"canvas_id"`
	ElementID json.RawMessage `json:"element_id"`
}

type ChatMessageIn struct {
	CanvasID  CanvasID        `json:"canvas_id"`
	Message   string          `json:"message"`
	Timestamp json.RawMessage `json:"timestamp,omitempty"`
}

type PresenceEvent struct {
	UserID   uint64 `json:"user_id"`
	UserName string `json:"user_name"`
	CanvasID uint64 `json:"canvas_id"`
}

type CanvasUpdateEvent struct {
	CanvasID    uint64          `json:"canvas_id"`
	UserID      uint64          `json:"user_id"`
	UserName    string          `json:"user_name"`
	Action      string          `json:"action"`
	ElementData json.RawMessage `json:"element_data"`
	Update      json.RawMessage `json:"update,omitempty"`
	Timestamp   string          `json:"timestamp"`
}

type CursorEvent struct {
	CanvasID uint64  `json:"canvas_id"`
	UserID   uint64  `json:"user_id"`
	UserName string  `json:"user_name"`
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
}

type SelectionEvent struct {
	CanvasID  uint64          `json:"canvas_id"`
	UserID    uint64          `json:"user_id"`
	UserName  string          `json:"user_name"`
	ElementID json.RawMessage `json:"element_id"`
}

type ChatEvent struct {
	CanvasID  uint64          `json:"canvas_id"`
	UserID    uint64          `json:"user_id"`
	UserName  string          `json:"user_name"`
	Message   string          `json:"message"`
	Timestamp json.RawMessage `json:"timestamp"`
}

type ErrorEvent struct {
	Message string `json:"message"`
}
