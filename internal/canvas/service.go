package canvas

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"time"

	"project-canvas/internal/blob"
	"project-canvas/internal/domain"
	apierr "project-canvas/internal/errors"
	"project-canvas/internal/hub"
	"project-canvas/internal/imagegen"
	"project-canvas/internal/permission"
	"project-canvas/internal/worker"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"
	"gorm.io/datatypes"
)

const (
	defaultImageSize  = 512
	defaultImageModel = "flux"
	defaultElement    = "text"

	// upper bound for a single blob write
	blobTimeout = time.Minute
)

var validate = validator.New()

// Broadcaster is the part of the session hub the API layer talks to.
type Broadcaster interface {
	Publish(canvasID uint64, event string, payload interface{})
	Members(ctx context.Context, canvasID uint64) ([]hub.Member, error)
}

type TaskSubmitter interface {
	Submit(t worker.Task) bool
}

type Service interface {
	ProjectCanvas(ctx context.Context, projectID uint64, user *domain.User) (*ProjectCanvasResponse, error)
	RoomCanvas(ctx context.Context, scope string, user *domain.User) (*CanvasResponse, error)

	LoadDocument(ctx context.Context, canvasID uint64, user *domain.User) (*DocumentResponse, error)
	SaveDocument(ctx context.Context, canvasID uint64, user *domain.User, req SaveRequest) (time.Time, error)

	ListElements(ctx context.Context, canvasID uint64, user *domain.User) ([]ElementResponse, error)
	CreateElement(ctx context.Context, canvasID uint64, user *domain.User, req ElementRequest) (*ElementResponse, error)
	UpdateElement(ctx context.Context, elementID uint64, user *domain.User, req ElementRequest) (*ElementResponse, error)
	DeleteElement(ctx context.Context, elementID uint64, user *domain.User) error

	ListChatMessages(ctx context.Context, canvasID uint64, user *domain.User) ([]ChatMessageResponse, error)
	AppendChatMessage(ctx context.Context, canvasID uint64, user *domain.User, req ChatMessageRequest) (*ChatMessageResponse, error)

	UploadFile(ctx context.Context, canvasID uint64, user *domain.User, in UploadInput) (*UploadResponse, error)
	ListFiles(ctx context.Context, canvasID uint64, user *domain.User) ([]FileResponse, error)

	GenerateImage(ctx context.Context, canvasID uint64, user *domain.User, req GenerateImageRequest) (*GenerateImageResponse, error)
	Broadcast(ctx context.Context, canvasID uint64, user *domain.User, req BroadcastRequest) error
	Presence(ctx context.Context, canvasID uint64, user *domain.User) ([]hub.Member, error)
}

type DefaultService struct {
	repo   Repository
	access *Access
	blobs  blob.Store
	images imagegen.Client
	hub    Broadcaster
	tasks  TaskSubmitter
	now    func() time.Time
}

func NewService(repo Repository, access *Access, blobs blob.Store, images imagegen.Client, broadcaster Broadcaster, tasks TaskSubmitter) Service {
	return &DefaultService{
		repo:   repo,
		access: access,
		blobs:  blobs,
		images: images,
		hub:    broadcaster,
		tasks:  tasks,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// openCanvas loads the canvas and checks the caller holds what check
// demands.
func (s *DefaultService) openCanvas(ctx context.Context, canvasID uint64, user *domain.User, check func(permission.Set) bool, denied string) (*domain.Canvas, error) {
	canvas, err := s.repo.FindCanvas(ctx, canvasID)
	if err != nil {
		return nil, storeError(err, "Canvas not found", "Failed to load canvas")
	}
	perms, err := s.access.forCanvas(ctx, canvas, user)
	if err != nil {
		return nil, err
	}
	if !check(perms) {
		return nil, apierr.Forbidden(denied, nil)
	}
	return canvas, nil
}

func (s *DefaultService) ProjectCanvas(ctx context.Context, projectID uint64, user *domain.User) (*ProjectCanvasResponse, error) {
	ctx, cancel := s.access.bound(ctx)
	defer cancel()

	project, err := s.repo.FindProject(ctx, projectID)
	if err != nil {
		return nil, storeError(err, "Project not found", "Failed to load project")
	}
	perms, err := s.access.forProject(ctx, project, user)
	if err != nil {
		return nil, err
	}
	if !permission.CanRead(perms) {
		return nil, apierr.Forbidden("Access denied", nil)
	}

	canvas, err := s.repo.GetOrCreateCanvas(ctx, domain.ProjectScope(project.ID), project.Title+" - Canvas", &project.ID, user.ID)
	if err != nil {
		return nil, storeError(err, "Canvas not found", "Failed to load canvas")
	}

	role := "member"
	switch {
	case user.IsAdmin():
		role = "admin"
	case project.CreatedBy == user.ID:
		role = "owner"
	}
	return &ProjectCanvasResponse{
		Canvas:      toCanvasResponse(canvas),
		Role:        role,
		Permissions: perms.Strings(),
	}, nil
}

// RoomCanvas returns one of the singleton chat canvases.
func (s *DefaultService) RoomCanvas(ctx context.Context, scope string, user *domain.User) (*CanvasResponse, error) {
	var (
		perms permission.Set
		title string
	)
	switch scope {
	case domain.ScopeGlobal:
		perms, title = permission.GlobalRoom(user.Subject()), domain.GlobalChatTitle
	case domain.ScopeAdmin:
		perms, title = permission.AdminRoom(user.Subject()), domain.AdminChatTitle
	default:
		return nil, apierr.BadRequest("Unknown chat room", nil)
	}
	if !permission.CanRead(perms) {
		return nil, apierr.Forbidden("Admin access required", nil)
	}

	ctx, cancel := s.access.bound(ctx)
	defer cancel()
	canvas, err := s.repo.GetOrCreateCanvas(ctx, scope, title, nil, user.ID)
	if err != nil {
		return nil, storeError(err, "Chat not found", "Failed to load chat")
	}
	resp := toCanvasResponse(canvas)
	return &resp, nil
}

func (s *DefaultService) LoadDocument(ctx context.Context, canvasID uint64, user *domain.User) (*DocumentResponse, error) {
	ctx, cancel := s.access.bound(ctx)
	defer cancel()

	canvas, err := s.openCanvas(ctx, canvasID, user, permission.CanRead, "Access denied")
	if err != nil {
		return nil, err
	}
	return &DocumentResponse{
		Content:   json.RawMessage(canvas.Document()),
		Title:     canvas.Title,
		LastSaved: canvas.LastSaved,
	}, nil
}

func (s *DefaultService) SaveDocument(ctx context.Context, canvasID uint64, user *domain.User, req SaveRequest) (time.Time, error) {
	ctx, cancel := s.access.bound(ctx)
	defer cancel()

	if _, err := s.openCanvas(ctx, canvasID, user, permission.CanWrite, "Access denied - you do not have write permission"); err != nil {
		return time.Time{}, err
	}

	content := bytes.TrimSpace(req.Content)
	if len(content) == 0 || bytes.Equal(content, []byte("null")) {
		content = []byte(`{}`)
	}
	if !json.Valid(content) {
		return time.Time{}, apierr.BadRequest("Content must be valid JSON", nil)
	}

	saved, err := s.repo.SaveDocument(ctx, canvasID, string(content))
	if err != nil {
		return time.Time{}, storeError(err, "Canvas not found", "Error saving canvas")
	}
	return saved, nil
}

func (s *DefaultService) ListElements(ctx context.Context, canvasID uint64, user *domain.User) ([]ElementResponse, error) {
	ctx, cancel := s.access.bound(ctx)
	defer cancel()

	if _, err := s.openCanvas(ctx, canvasID, user, permission.CanRead, "Access denied"); err != nil {
		return nil, err
	}
	elements, err := s.repo.ListElements(ctx, canvasID)
	if err != nil {
		return nil, storeError(err, "Canvas not found", "Error loading elements")
	}

	out := make([]ElementResponse, 0, len(elements))
	for i := range elements {
		out = append(out, toElementResponse(&elements[i]))
	}
	return out, nil
}

// jsonColumn turns an optional request field into a column value; nil
// means the field was absent.
func jsonColumn(raw json.RawMessage) datatypes.JSON {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil
	}
	if bytes.Equal(raw, []byte("null")) {
		return datatypes.JSON(`{}`)
	}
	return datatypes.JSON(raw)
}

func valueOr[T any](p *T, fallback T) T {
	if p == nil {
		return fallback
	}
	return *p
}

func (s *DefaultService) CreateElement(ctx context.Context, canvasID uint64, user *domain.User, req ElementRequest) (*ElementResponse, error) {
	ctx, cancel := s.access.bound(ctx)
	defer cancel()

	if _, err := s.openCanvas(ctx, canvasID, user, permission.CanWrite, "Permission denied"); err != nil {
		return nil, err
	}

	element := &domain.CanvasElement{
		CanvasID:    canvasID,
		ElementType: valueOr(req.ElementType, defaultElement),
		PositionX:   valueOr(req.PositionX, 0),
		PositionY:   valueOr(req.PositionY, 0),
		Width:       valueOr(req.Width, 200),
		Height:      valueOr(req.Height, 100),
		Content:     jsonColumn(req.Content),
		Style:       jsonColumn(req.Style),
		ZIndex:      valueOr(req.ZIndex, 1),
		CreatedBy:   user.ID,
	}
	if element.Content == nil {
		element.Content = datatypes.JSON(`{}`)
	}
	if element.Style == nil {
		element.Style = datatypes.JSON(`{}`)
	}

	if err := s.repo.CreateElement(ctx, element); err != nil {
		return nil, storeError(err, "Canvas not found", "Error creating element")
	}
	resp := toElementResponse(element)
	return &resp, nil
}

func (s *DefaultService) openElement(ctx context.Context, elementID uint64, user *domain.User) (*domain.CanvasElement, error) {
	element, err := s.repo.FindElement(ctx, elementID)
	if err != nil {
		return nil, storeError(err, "Element not found", "Error loading element")
	}
	if _, err := s.openCanvas(ctx, element.CanvasID, user, permission.CanWrite, "Permission denied"); err != nil {
		return nil, err
	}
	return element, nil
}

func (s *DefaultService) UpdateElement(ctx context.Context, elementID uint64, user *domain.User, req ElementRequest) (*ElementResponse, error) {
	ctx, cancel := s.access.bound(ctx)
	defer cancel()

	if _, err := s.openElement(ctx, elementID, user); err != nil {
		return nil, err
	}

	element, err := s.repo.UpdateElement(ctx, elementID, ElementPatch{
		ElementType: req.ElementType,
		PositionX:   req.PositionX,
		PositionY:   req.PositionY,
		Width:       req.Width,
		Height:      req.Height,
		Content:     jsonColumn(req.Content),
		Style:       jsonColumn(req.Style),
		ZIndex:      req.ZIndex,
	})
	if err != nil {
		return nil, storeError(err, "Element not found", "Error updating element")
	}
	resp := toElementResponse(element)
	return &resp, nil
}

func (s *DefaultService) DeleteElement(ctx context.Context, elementID uint64, user *domain.User) error {
	ctx, cancel := s.access.bound(ctx)
	defer cancel()

	if _, err := s.openElement(ctx, elementID, user); err != nil {
		return err
	}
	if err := s.repo.DeleteElement(ctx, elementID); err != nil {
		return storeError(err, "Element not found", "Error deleting element")
	}
	return nil
}

func (s *DefaultService) ListChatMessages(ctx context.Context, canvasID uint64, user *domain.User) ([]ChatMessageResponse, error) {
	ctx, cancel := s.access.bound(ctx)
	defer cancel()

	if _, err := s.openCanvas(ctx, canvasID, user, permission.CanRead, "Access denied"); err != nil {
		return nil, err
	}
	messages, err := s.repo.ListChatMessages(ctx, canvasID)
	if err != nil {
		return nil, storeError(err, "Canvas not found", "Error loading messages")
	}

	out := make([]ChatMessageResponse, 0, len(messages))
	for i := range messages {
		out = append(out, toChatMessageResponse(&messages[i]))
	}
	return out, nil
}

// AppendChatMessage only needs read: every member may chat.
func (s *DefaultService) AppendChatMessage(ctx context.Context, canvasID uint64, user *domain.User, req ChatMessageRequest) (*ChatMessageResponse, error) {
	ctx, cancel := s.access.bound(ctx)
	defer cancel()

	if _, err := s.openCanvas(ctx, canvasID, user, permission.CanRead, "Access denied"); err != nil {
		return nil, err
	}

	text := strings.TrimSpace(req.Message)
	if text == "" {
		return nil, apierr.BadRequest("Message cannot be empty", nil)
	}
	msgType := req.MessageType
	if msgType == "" {
		msgType = domain.MessageText
	}

	msg := &domain.CanvasChatMessage{
		CanvasID:    canvasID,
		UserID:      user.ID,
		Message:     text,
		MessageType: msgType,
		FilePath:    req.FilePath,
	}
	if err := s.repo.AppendChatMessage(ctx, msg); err != nil {
		return nil, storeError(err, "Canvas not found", "Error sending message")
	}
	if msg.User == nil {
		msg.User = user
	}
	resp := toChatMessageResponse(msg)
	return &resp, nil
}

func (s *DefaultService) UploadFile(ctx context.Context, canvasID uint64, user *domain.User, in UploadInput) (*UploadResponse, error) {
	checkCtx, cancel := s.access.bound(ctx)
	_, err := s.openCanvas(checkCtx, canvasID, user, permission.CanWrite, "Access denied - you do not have write permission")
	cancel()
	if err != nil {
		return nil, err
	}

	if strings.TrimSpace(in.Filename) == "" {
		return nil, apierr.BadRequest("No file selected", nil)
	}
	fileType := fileExtension(in.Filename)
	if fileType == "" {
		return nil, apierr.BadRequest("File type not allowed", nil)
	}
	if in.Size <= 0 || in.Body == nil {
		return nil, apierr.BadRequest("File is empty", nil)
	}
	if secureFilename(in.Filename) == "" {
		return nil, apierr.BadRequest("Invalid file name", nil)
	}

	contentType := "application/octet-stream"
	if mt, err := mimetype.DetectReader(in.Body); err == nil {
		contentType = mt.String()
	}
	if _, err := in.Body.Seek(0, io.SeekStart); err != nil {
		return nil, apierr.InternalWithMessage("Upload failed", err)
	}

	key := storedFilename(s.now(), in.Filename)
	putCtx, cancelPut := context.WithTimeout(ctx, blobTimeout)
	obj, err := s.blobs.Put(putCtx, key, in.Body, in.Size, contentType)
	cancelPut()
	if err != nil {
		return nil, apierr.InternalWithMessage("Upload failed", err)
	}

	file := &domain.CanvasFile{
		CanvasID:         canvasID,
		Filename:         key,
		OriginalFilename: in.Filename,
		FilePath:         obj.URL,
		FileType:         fileType,
		FileSize:         obj.Size,
		UploadedBy:       user.ID,
		UploadedAt:       s.now(),
	}

	recordCtx, cancel := s.access.bound(ctx)
	defer cancel()
	if err := s.repo.RecordFile(recordCtx, file); err != nil {
		s.tasks.Submit(func(ctx context.Context) error {
			log.Warn().Str("key", key).Msg("removing orphaned upload")
			return s.blobs.Delete(ctx, key)
		})
		return nil, storeError(err, "Canvas not found", "Upload failed")
	}
	if file.Uploader == nil {
		file.Uploader = user
	}

	return &UploadResponse{
		File:             toFileResponse(file),
		URL:              obj.URL,
		Filename:         key,
		OriginalFilename: in.Filename,
		FileType:         fileType,
		FileSize:         obj.Size,
	}, nil
}

func (s *DefaultService) ListFiles(ctx context.Context, canvasID uint64, user *domain.User) ([]FileResponse, error) {
	ctx, cancel := s.access.bound(ctx)
	defer cancel()

	if _, err := s.openCanvas(ctx, canvasID, user, permission.CanRead, "Access denied"); err != nil {
		return nil, err
	}
	files, err := s.repo.ListFiles(ctx, canvasID)
	if err != nil {
		return nil, storeError(err, "Canvas not found", "Error loading files")
	}

	out := make([]FileResponse, 0, len(files))
	for i := range files {
		out = append(out, toFileResponse(&files[i]))
	}
	return out, nil
}

func (s *DefaultService) GenerateImage(ctx context.Context, canvasID uint64, user *domain.User, req GenerateImageRequest) (*GenerateImageResponse, error) {
	checkCtx, cancel := s.access.bound(ctx)
	_, err := s.openCanvas(checkCtx, canvasID, user, permission.CanWrite, "Access denied - you do not have write permission")
	cancel()
	if err != nil {
		return nil, err
	}

	req.Prompt = strings.TrimSpace(req.Prompt)
	if req.Prompt == "" {
		return nil, apierr.BadRequest("Prompt is required", nil)
	}
	if req.Width == 0 {
		req.Width = defaultImageSize
	}
	if req.Height == 0 {
		req.Height = defaultImageSize
	}
	req.Model = strings.TrimSpace(req.Model)
	if req.Model == "" {
		req.Model = defaultImageModel
	}
	if err := validate.Struct(req); err != nil {
		return nil, apierr.NewValidationError(err)
	}

	result, err := s.images.Generate(ctx, imagegen.Request{
		Prompt: req.Prompt,
		Width:  req.Width,
		Height: req.Height,
		Model:  req.Model,
	})
	if errors.Is(err, imagegen.ErrUnavailable) {
		return nil, apierr.Unavailable("Image generation service is currently unavailable", err)
	}
	if err != nil {
		return nil, apierr.InternalWithMessage("Error generating image", err)
	}

	return &GenerateImageResponse{
		ImageURL:    result.URL,
		Prompt:      result.Prompt,
		Width:       result.Width,
		Height:      result.Height,
		Model:       result.Model,
		GeneratedAt: s.now(),
		GeneratedBy: user.FullName(),
	}, nil
}

// Broadcast pushes a REST-originated update to every socket in the room.
func (s *DefaultService) Broadcast(ctx context.Context, canvasID uint64, user *domain.User, req BroadcastRequest) error {
	ctx, cancel := s.access.bound(ctx)
	defer cancel()

	if _, err := s.openCanvas(ctx, canvasID, user, permission.CanWrite, "Access denied - you do not have write permission"); err != nil {
		return err
	}

	elementData := req.ElementData
	if len(elementData) == 0 {
		elementData = json.RawMessage(`{}`)
	}
	s.hub.Publish(canvasID, hub.EventCanvasUpdate, hub.CanvasUpdateEvent{
		CanvasID:    canvasID,
		UserID:      user.ID,
		UserName:    user.FullName(),
		Action:      req.Action,
		ElementData: elementData,
		Timestamp:   s.now().Format(time.RFC3339Nano),
	})
	return nil
}

func (s *DefaultService) Presence(ctx context.Context, canvasID uint64, user *domain.User) ([]hub.Member, error) {
	ctx, cancel := s.access.bound(ctx)
	defer cancel()

	if _, err := s.openCanvas(ctx, canvasID, user, permission.CanRead, "Access denied"); err != nil {
		return nil, err
	}
	members, err := s.hub.Members(ctx, canvasID)
	if err != nil {
		return nil, apierr.InternalWithMessage("Error loading presence", err)
	}
	return members, nil
}
