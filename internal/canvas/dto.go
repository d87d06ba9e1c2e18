package canvas

import (
	"encoding/json"
	"io"
	"time"

	"project-canvas/internal/domain"
)

type CanvasResponse struct {
	ID        uint64          `json:"id"`
	ProjectID *uint64         `json:"project_id"`
	Title     string          `json:"title"`
	Content   json.RawMessage `json:"content"`
	CreatedBy uint64          `json:"created_by"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
	LastSaved time.Time       `json:"last_saved"`
}

func toCanvasResponse(c *domain.Canvas) CanvasResponse {
	return CanvasResponse{
		ID:        c.ID,
		ProjectID: c.ProjectID,
		Title:     c.Title,
		Content:   json.RawMessage(c.Document()),
		CreatedBy: c.CreatedBy,
		CreatedAt: c.CreatedAt,
		UpdatedAt: c.UpdatedAt,
		LastSaved: c.LastSaved,
	}
}

type ProjectCanvasResponse struct {
	Canvas      CanvasResponse `json:"canvas"`
	Role        string         `json:"user_role"`
	Permissions []string       `json:"user_permissions"`
}

type DocumentResponse struct {
	Content   json.RawMessage `json:"content"`
	Title     string          `json:"title"`
	LastSaved time.Time       `json:"last_saved"`
}

type ElementResponse struct {
	ID          uint64          `json:"id"`
	CanvasID    uint64          `json:"canvas_id"`
	ElementType string          `json:"element_type"`
	PositionX   float64         `json:"position_x"`
	PositionY   float64         `json:"position_y"`
	Width       float64         `json:"width"`
	Height      float64         `json:"height"`
	Content     json.RawMessage `json:"content"`
	Style       json.RawMessage `json:"style"`
	ZIndex      int             `json:"z_index"`
	CreatedBy   uint64          `json:"created_by"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

func rawOrEmpty(b []byte) json.RawMessage {
	if len(b) == 0 {
		return json.RawMessage(`{}`)
	}
	return json.RawMessage(b)
}

func toElementResponse(e *domain.CanvasElement) ElementResponse {
	return ElementResponse{
		ID:          e.ID,
		CanvasID:    e.CanvasID,
		ElementType: e.ElementType,
		PositionX:   e.PositionX,
		PositionY:   e.PositionY,
		Width:       e.Width,
		Height:      e.Height,
		Content:     rawOrEmpty(e.Content),
		Style:       rawOrEmpty(e.Style),
		ZIndex:      e.ZIndex,
		CreatedBy:   e.CreatedBy,
		CreatedAt:   e.CreatedAt,
		UpdatedAt:   e.UpdatedAt,
	}
}

type ChatMessageResponse struct {
	ID          uint64    `json:"id"`
	CanvasID    uint64    `json:"canvas_id"`
	UserID      uint64    `json:"user_id"`
	UserName    string    `json:"user_name"`
	Message     string    `json:"message"`
	MessageType string    `json:"message_type"`
	FilePath    *string   `json:"file_path"`
	CreatedAt   time.Time `json:"created_at"`
}

func toChatMessageResponse(m *domain.CanvasChatMessage) ChatMessageResponse {
	name := "Unknown User"
	if m.User != nil {
		name = m.User.FullName()
	}
	return ChatMessageResponse{
		ID:          m.ID,
		CanvasID:    m.CanvasID,
		UserID:      m.UserID,
		UserName:    name,
		Message:     m.Message,
		MessageType: m.MessageType,
		FilePath:    m.FilePath,
		CreatedAt:   m.CreatedAt,
	}
}

type FileResponse struct {
	ID               uint64    `json:"id"`
	CanvasID         uint64    `json:"canvas_id"`
	Filename         string    `json:"filename"`
	OriginalFilename string    `json:"original_filename"`
	FilePath         string    `json:"file_path"`
	FileType         string    `json:"file_type"`
	FileSize         int64     `json:"file_size"`
	UploadedBy       uint64    `json:"uploaded_by"`
	UploaderName     string    `json:"uploader_name"`
	UploadedAt       time.Time `json:"uploaded_at"`
}

func toFileResponse(f *domain.CanvasFile) FileResponse {
	name := "Unknown User"
	if f.Uploader != nil {
		name = f.Uploader.FullName()
	}
	return FileResponse{
		ID:               f.ID,
		CanvasID:         f.CanvasID,
		Filename:         f.Filename,
		OriginalFilename: f.OriginalFilename,
		FilePath:         f.FilePath,
		FileType:         f.FileType,
		FileSize:         f.FileSize,
		UploadedBy:       f.UploadedBy,
		UploaderName:     name,
		UploadedAt:       f.UploadedAt,
	}
}

type UploadResponse struct {
	File             FileResponse `json:"file"`
	URL              string       `json:"url"`
	Filename         string       `json:"filename"`
	OriginalFilename string       `json:"original_filename"`
	FileType         string       `json:"file_type"`
	FileSize         int64        `json:"file_size"`
}

type GenerateImageResponse struct {
	ImageURL    string    `json:"image_url"`
	Prompt      string    `json:"prompt"`
	Width       int       `json:"width"`
	Height      int       `json:"height"`
	Model       string    `json:"model"`
	GeneratedAt time.Time `json:"generated_at"`
	GeneratedBy string    `json:"generated_by"`
}

// request bodies

type SaveRequest struct {
	Content json.RawMessage `json:"content"`
}

// ElementRequest is used for create and update. Absent fields take the
// defaults on create and keep the stored value on update.
type ElementRequest struct {
	ElementType *string         `json:"element_type" binding:"omitempty,min=1,max=50"`
	PositionX   *float64        `json:"position_x"`
	PositionY   *float64        `json:"position_y"`
	Width       *float64        `json:"width"`
	Height      *float64        `json:"height"`
	Content     json.RawMessage `json:"content"`
	Style       json.RawMessage `json:"style"`
	ZIndex      *int            `json:"z_index"`
}

type ChatMessageRequest struct {
	Message     string  `json:"message" binding:"required"`
	MessageType string  `json:"message_type" binding:"omitempty,oneof=text file image"`
	FilePath    *string `json:"file_path" binding:"omitempty,max=500"`
}

type GenerateImageRequest struct {
	Prompt string `json:"prompt" validate:"required"`
	Width  int    `json:"width" validate:"oneof=256 512 768 1024"`
	Height int    `json:"height" validate:"oneof=256 512 768 1024"`
	Model  string `json:"model" validate:"max=50"`
}

type BroadcastRequest struct {
	Action      string          `json:"action" binding:"required"`
	ElementData json.RawMessage `json:"element_data"`
}

// UploadInput is an opened multipart file.
type UploadInput struct {
	Filename string
	Size     int64
	Body     io.ReadSeeker
}
