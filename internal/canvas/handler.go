package canvas

import (
	"errors"
	"net/http"

	"project-canvas/internal/domain"
	apierr "project-canvas/internal/errors"
	"project-canvas/internal/middleware"
	"project-canvas/internal/utils"

	"github.com/gin-gonic/gin"
)

type Handler struct {
	service        Service
	maxUploadBytes int64
}

func NewHandler(service Service, maxUploadBytes int64) *Handler {
	return &Handler{service: service, maxUploadBytes: maxUploadBytes}
}

// RegisterRoutes mounts the canvas API; r must already be behind auth.
func (h *Handler) RegisterRoutes(r gin.IRouter) {
	api := r.Group("/canvas/api")

	api.GET("/project/:projectId/canvas", h.ShowProjectCanvas)
	api.GET("/project/:projectId/chat/messages", h.ListProjectChat)
	api.POST("/project/:projectId/chat/messages", h.SendProjectChat)

	api.GET("/chat/global/messages", h.ListRoomChat(domain.ScopeGlobal))
	api.POST("/chat/global/messages", h.SendRoomChat(domain.ScopeGlobal))
	api.GET("/chat/admin/messages", h.ListRoomChat(domain.ScopeAdmin))
	api.POST("/chat/admin/messages", h.SendRoomChat(domain.ScopeAdmin))

	api.GET("/canvas/:id/load", h.Load)
	api.POST("/canvas/:id/save", h.Save)
	api.GET("/canvas/:id/elements", h.ListElements)
	api.POST("/canvas/:id/elements", h.CreateElement)
	api.PUT("/canvas/elements/:elementId", h.UpdateElement)
	api.DELETE("/canvas/elements/:elementId", h.DeleteElement)
	api.GET("/canvas/:id/chat/messages", h.ListChat)
	api.POST("/canvas/:id/chat/messages", h.SendChat)
	api.POST("/canvas/:id/upload", h.Upload)
	api.GET("/canvas/:id/files", h.ListFiles)
	api.POST("/canvas/:id/generate_image", h.GenerateImage)
	api.POST("/canvas/:id/broadcast", h.Broadcast)
	api.GET("/canvas/:id/presence", h.Presence)
}

// request reads the caller and the named id parameter.
func request(c *gin.Context, param string) (*domain.User, uint64, bool) {
	user, ok := middleware.CurrentUser(c)
	if !ok {
		c.Error(apierr.Unauthorized("Authentication required", nil))
		return nil, 0, false
	}
	if param == "" {
		return user, 0, true
	}
	id, err := utils.ParseIDParam(c, param)
	if err != nil {
		c.Error(err)
		return nil, 0, false
	}
	return user, id, true
}

func (h *Handler) ShowProjectCanvas(c *gin.Context) {
	user, projectID, ok := request(c, "projectId")
	if !ok {
		return
	}

	resp, err := h.service.ProjectCanvas(c.Request.Context(), projectID, user)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":          true,
		"canvas":           resp.Canvas,
		"user_role":        resp.Role,
		"user_permissions": resp.Permissions,
	})
}

func (h *Handler) ListProjectChat(c *gin.Context) {
	user, projectID, ok := request(c, "projectId")
	if !ok {
		return
	}

	resp, err := h.service.ProjectCanvas(c.Request.Context(), projectID, user)
	if err != nil {
		c.Error(err)
		return
	}
	h.listChat(c, resp.Canvas.ID, user)
}

func (h *Handler) SendProjectChat(c *gin.Context) {
	user, projectID, ok := request(c, "projectId")
	if !ok {
		return
	}

	var form ChatMessageRequest
	if err := c.ShouldBindJSON(&form); err != nil {
		c.Error(apierr.NewValidationError(err))
		return
	}

	resp, err := h.service.ProjectCanvas(c.Request.Context(), projectID, user)
	if err != nil {
		c.Error(err)
		return
	}
	h.sendChat(c, resp.Canvas.ID, user, form)
}

func (h *Handler) ListRoomChat(scope string) gin.HandlerFunc {
	return func(c *gin.Context) {
		user, _, ok := request(c, "")
		if !ok {
			return
		}

		room, err := h.service.RoomCanvas(c.Request.Context(), scope, user)
		if err != nil {
			c.Error(err)
			return
		}
		h.listChat(c, room.ID, user)
	}
}

func (h *Handler) SendRoomChat(scope string) gin.HandlerFunc {
	return func(c *gin.Context) {
		user, _, ok := request(c, "")
		if !ok {
			return
		}

		var form ChatMessageRequest
		if err := c.ShouldBindJSON(&form); err != nil {
			c.Error(apierr.NewValidationError(err))
			return
		}

		room, err := h.service.RoomCanvas(c.Request.Context(), scope, user)
		if err != nil {
			c.Error(err)
			return
		}
		h.sendChat(c, room.ID, user, form)
	}
}

func (h *Handler) Load(c *gin.Context) {
	user, canvasID, ok := request(c, "id")
	if !ok {
		return
	}

	doc, err := h.service.LoadDocument(c.Request.Context(), canvasID, user)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":    true,
		"content":    doc.Content,
		"title":      doc.Title,
		"last_saved": doc.LastSaved,
	})
}

func (h *Handler) Save(c *gin.Context) {
	user, canvasID, ok := request(c, "id")
	if !ok {
		return
	}

	var form SaveRequest
	if err := c.ShouldBindJSON(&form); err != nil {
		c.Error(apierr.NewValidationError(err))
		return
	}

	saved, err := h.service.SaveDocument(c.Request.Context(), canvasID, user, form)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":    true,
		"message":    "Canvas saved successfully",
		"last_saved": saved,
	})
}

func (h *Handler) ListElements(c *gin.Context) {
	user, canvasID, ok := request(c, "id")
	if !ok {
		return
	}

	elements, err := h.service.ListElements(c.Request.Context(), canvasID, user)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "elements": elements})
}

func (h *Handler) CreateElement(c *gin.Context) {
	user, canvasID, ok := request(c, "id")
	if !ok {
		return
	}

	var form ElementRequest
	if err := c.ShouldBindJSON(&form); err != nil {
		c.Error(apierr.NewValidationError(err))
		return
	}

	element, err := h.service.CreateElement(c.Request.Context(), canvasID, user, form)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"success": true, "element": element})
}

func (h *Handler) UpdateElement(c *gin.Context) {
	user, elementID, ok := request(c, "elementId")
	if !ok {
		return
	}

	var form ElementRequest
	if err := c.ShouldBindJSON(&form); err != nil {
		c.Error(apierr.NewValidationError(err))
		return
	}

	element, err := h.service.UpdateElement(c.Request.Context(), elementID, user, form)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "element": element})
}

func (h *Handler) DeleteElement(c *gin.Context) {
	user, elementID, ok := request(c, "elementId")
	if !ok {
		return
	}

	if err := h.service.DeleteElement(c.Request.Context(), elementID, user); err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Element deleted successfully"})
}

func (h *Handler) ListChat(c *gin.Context) {
	user, canvasID, ok := request(c, "id")
	if !ok {
		return
	}
	h.listChat(c, canvasID, user)
}

func (h *Handler) SendChat(c *gin.Context) {
	user, canvasID, ok := request(c, "id")
	if !ok {
		return
	}

	var form ChatMessageRequest
	if err := c.ShouldBindJSON(&form); err != nil {
		c.Error(apierr.NewValidationError(err))
		return
	}
	h.sendChat(c, canvasID, user, form)
}

func (h *Handler) listChat(c *gin.Context, canvasID uint64, user *domain.User) {
	messages, err := h.service.ListChatMessages(c.Request.Context(), canvasID, user)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "canvas_id": canvasID, "messages": messages})
}

func (h *Handler) sendChat(c *gin.Context, canvasID uint64, user *domain.User, form ChatMessageRequest) {
	msg, err := h.service.AppendChatMessage(c.Request.Context(), canvasID, user, form)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"success": true, "message": msg})
}

func (h *Handler) Upload(c *gin.Context) {
	user, canvasID, ok := request(c, "id")
	if !ok {
		return
	}

	if h.maxUploadBytes > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUploadBytes)
	}
	header, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.Error(apierr.BadRequest("File too large", err))
			return
		}
		c.Error(apierr.BadRequest("No file provided", err))
		return
	}

	file, err := header.Open()
	if err != nil {
		c.Error(apierr.InternalWithMessage("Upload failed", err))
		return
	}
	defer file.Close()

	resp, err := h.service.UploadFile(c.Request.Context(), canvasID, user, UploadInput{
		Filename: header.Filename,
		Size:     header.Size,
		Body:     file,
	})
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":           true,
		"file":              resp.File,
		"url":               resp.URL,
		"filename":          resp.Filename,
		"original_filename": resp.OriginalFilename,
		"file_type":         resp.FileType,
		"file_size":         resp.FileSize,
	})
}

func (h *Handler) ListFiles(c *gin.Context) {
	user, canvasID, ok := request(c, "id")
	if !ok {
		return
	}

	files, err := h.service.ListFiles(c.Request.Context(), canvasID, user)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "files": files})
}

func (h *Handler) GenerateImage(c *gin.Context) {
	user, canvasID, ok := request(c, "id")
	if !ok {
		return
	}

	var form GenerateImageRequest
	if err := c.ShouldBindJSON(&form); err != nil {
		c.Error(apierr.NewValidationError(err))
		return
	}

	img, err := h.service.GenerateImage(c.Request.Context(), canvasID, user, form)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":      true,
		"image_url":    img.ImageURL,
		"prompt":       img.Prompt,
		"width":        img.Width,
		"height":       img.Height,
		"model":        img.Model,
		"generated_at": img.GeneratedAt,
		"generated_by": img.GeneratedBy,
	})
}

func (h *Handler) Broadcast(c *gin.Context) {
	user, canvasID, ok := request(c, "id")
	if !ok {
		return
	}

	var form BroadcastRequest
	if err := c.ShouldBindJSON(&form); err != nil {
		c.Error(apierr.NewValidationError(err))
		return
	}

	if err := h.service.Broadcast(c.Request.Context(), canvasID, user, form); err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *Handler) Presence(c *gin.Context) {
	user, canvasID, ok := request(c, "id")
	if !ok {
		return
	}

	members, err := h.service.Presence(c.Request.Context(), canvasID, user)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "canvas_id": canvasID, "users": members})
}
