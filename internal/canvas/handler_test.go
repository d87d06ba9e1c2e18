package canvas

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"project-canvas/internal/domain"
	apierr "project-canvas/internal/errors"
	"project-canvas/internal/hub"
	"project-canvas/internal/middleware"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// mock implementation of the Service interface
type MockService struct {
	mock.Mock
}

func (m *MockService) ProjectCanvas(ctx context.Context, projectID uint64, user *domain.User) (*ProjectCanvasResponse, error) {
	args := m.Called(ctx, projectID, user)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ProjectCanvasResponse), args.Error(1)
}

func (m *MockService) RoomCanvas(ctx context.Context, scope string, user *domain.User) (*CanvasResponse, error) {
	args := m.Called(ctx, scope, user)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*CanvasResponse), args.Error(1)
}

func (m *MockService) LoadDocument(ctx context.Context, canvasID uint64, user *domain.User) (*DocumentResponse, error) {
	args := m.Called(ctx, canvasID, user)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*DocumentResponse), args.Error(1)
}

func (m *MockService) SaveDocument(ctx context.Context, canvasID uint64, user *domain.User, req SaveRequest) (time.Time, error) {
	args := m.Called(ctx, canvasID, user, req)
	return args.Get(0).(time.Time), args.Error(1)
}

func (m *MockService) ListElements(ctx context.Context, canvasID uint64, user *domain.User) ([]ElementResponse, error) {
	args := m.Called(ctx, canvasID, user)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]ElementResponse), args.Error(1)
}

func (m *MockService) CreateElement(ctx context.Context, canvasID uint64, user *domain.User, req ElementRequest) (*ElementResponse, error) {
	args := m.Called(ctx, canvasID, user, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ElementResponse), args.Error(1)
}

func (m *MockService) UpdateElement(ctx context.Context, elementID uint64, user *domain.User, req ElementRequest) (*ElementResponse, error) {
	args := m.Called(ctx, elementID, user, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ElementResponse), args.Error(1)
}

func (m *MockService) DeleteElement(ctx context.Context, elementID uint64, user *domain.User) error {
	args := m.Called(ctx, elementID, user)
	return args.Error(0)
}

func (m *MockService) ListChatMessages(ctx context.Context, canvasID uint64, user *domain.User) ([]ChatMessageResponse, error) {
	args := m.Called(ctx, canvasID, user)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]ChatMessageResponse), args.Error(1)
}

func (m *MockService) AppendChatMessage(ctx context.Context, canvasID uint64, user *domain.User, req ChatMessageRequest) (*ChatMessageResponse, error) {
	args := m.Called(ctx, canvasID, user, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ChatMessageResponse), args.Error(1)
}

func (m *MockService) UploadFile(ctx context.Context, canvasID uint64, user *domain.User, in UploadInput) (*UploadResponse, error) {
	args := m.Called(ctx, canvasID, user, in)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*UploadResponse), args.Error(1)
}

func (m *MockService) ListFiles(ctx context.Context, canvasID uint64, user *domain.User) ([]FileResponse, error) {
	args := m.Called(ctx, canvasID, user)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]FileResponse), args.Error(1)
}

func (m *MockService) GenerateImage(ctx context.Context, canvasID uint64, user *domain.User, req GenerateImageRequest) (*GenerateImageResponse, error) {
	args := m.Called(ctx, canvasID, user, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*GenerateImageResponse), args.Error(1)
}

func (m *MockService) Broadcast(ctx context.Context, canvasID uint64, user *domain.User, req BroadcastRequest) error {
	args := m.Called(ctx, canvasID, user, req)
	return args.Error(0)
}

func (m *MockService) Presence(ctx context.Context, canvasID uint64, user *domain.User) ([]hub.Member, error) {
	args := m.Called(ctx, canvasID, user)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]hub.Member), args.Error(1)
}

func setupRouter(service Service, user *domain.User) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(middleware.ErrorHandler())
	r.Use(func(c *gin.Context) {
		if user != nil {
			c.Set("user_id", user.ID)
			c.Set("user", user)
		}
		c.Next()
	})
	NewHandler(service, 1<<20).RegisterRoutes(r)
	return r
}

func doJSON(r http.Handler, method, url string, body interface{}) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		reader = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, url, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func TestHandler_Load(t *testing.T) {
	svc := new(MockService)
	saved := time.Date(2024, 5, 1, 9, 30, 0, 0, time.UTC)
	svc.On("LoadDocument", mock.Anything, uint64(7), alice).Return(&DocumentResponse{
		Content:   json.RawMessage(domain.DefaultCanvasContent),
		Title:     "Launch - Canvas",
		LastSaved: saved,
	}, nil)
	r := setupRouter(svc, alice)

	w := doJSON(r, http.MethodGet, "/canvas/api/canvas/7/load", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "Launch - Canvas", body["title"])
	assert.Equal(t, "2024-05-01T09:30:00Z", body["last_saved"])
	assert.Equal(t, map[string]interface{}{"theme": "light"}, body["content"].(map[string]interface{})["settings"])
}

func TestHandler_RequiresUserAndValidID(t *testing.T) {
	svc := new(MockService)

	w := doJSON(setupRouter(svc, nil), http.MethodGet, "/canvas/api/canvas/7/load", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = doJSON(setupRouter(svc, alice), http.MethodGet, "/canvas/api/canvas/abc/load", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, false, decodeBody(t, w)["success"])

	svc.AssertNotCalled(t, "LoadDocument", mock.Anything, mock.Anything, mock.Anything)
}

func TestHandler_Save(t *testing.T) {
	svc := new(MockService)
	saved := time.Date(2024, 5, 1, 9, 30, 0, 0, time.UTC)
	svc.On("SaveDocument", mock.Anything, uint64(7), alice, SaveRequest{Content: json.RawMessage(`{"elements":[]}`)}).Return(saved, nil)
	svc.On("SaveDocument", mock.Anything, uint64(7), bob, mock.Anything).
		Return(time.Time{}, apierr.Forbidden("Access denied - you do not have write permission", nil))

	w := doJSON(setupRouter(svc, alice), http.MethodPost, "/canvas/api/canvas/7/save", map[string]interface{}{"content": map[string]interface{}{"elements": []interface{}{}}})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Canvas saved successfully", decodeBody(t, w)["message"])

	w = doJSON(setupRouter(svc, bob), http.MethodPost, "/canvas/api/canvas/7/save", map[string]interface{}{"content": map[string]interface{}{}})
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "Access denied - you do not have write permission", decodeBody(t, w)["message"])
}

func TestHandler_UpdateElement(t *testing.T) {
	svc := new(MockService)
	width := 50.0
	svc.On("UpdateElement", mock.Anything, uint64(3), alice, ElementRequest{Width: &width}).
		Return(&ElementResponse{ID: 3, CanvasID: 7, Width: 50, Content: json.RawMessage(`{}`), Style: json.RawMessage(`{}`)}, nil)

	w := doJSON(setupRouter(svc, alice), http.MethodPut, "/canvas/api/canvas/elements/3", map[string]interface{}{"width": 50})
	require.Equal(t, http.StatusOK, w.Code)
	element := decodeBody(t, w)["element"].(map[string]interface{})
	assert.Equal(t, 50.0, element["width"])
	assert.Equal(t, 7.0, element["canvas_id"])
}

func TestHandler_CreateAndDeleteElement(t *testing.T) {
	svc := new(MockService)
	svc.On("CreateElement", mock.Anything, uint64(7), alice, mock.AnythingOfType("canvas.ElementRequest")).
		Return(&ElementResponse{ID: 9, CanvasID: 7, ElementType: "shape"}, nil)
	svc.On("DeleteElement", mock.Anything, uint64(9), alice).Return(nil)
	svc.On("DeleteElement", mock.Anything, uint64(10), alice).Return(apierr.NotFound("Element not found", nil))
	r := setupRouter(svc, alice)

	w := doJSON(r, http.MethodPost, "/canvas/api/canvas/7/elements", map[string]interface{}{"element_type": "shape"})
	assert.Equal(t, http.StatusCreated, w.Code)

	w = doJSON(r, http.MethodDelete, "/canvas/api/canvas/elements/9", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = doJSON(r, http.MethodDelete, "/canvas/api/canvas/elements/10", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandler_Chat(t *testing.T) {
	svc := new(MockService)
	svc.On("ListChatMessages", mock.Anything, uint64(7), bob).Return([]ChatMessageResponse{{ID: 1, Message: "hi", UserName: "Bob Reader"}}, nil)
	svc.On("AppendChatMessage", mock.Anything, uint64(7), bob, ChatMessageRequest{Message: "hello"}).
		Return(&ChatMessageResponse{ID: 2, Message: "hello"}, nil)
	r := setupRouter(svc, bob)

	w := doJSON(r, http.MethodGet, "/canvas/api/canvas/7/chat/messages", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decodeBody(t, w)["messages"], 1)

	w = doJSON(r, http.MethodPost, "/canvas/api/canvas/7/chat/messages", map[string]interface{}{"message": "hello"})
	assert.Equal(t, http.StatusCreated, w.Code)

	w = doJSON(r, http.MethodPost, "/canvas/api/canvas/7/chat/messages", map[string]interface{}{"message_type": "video"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	fields := decodeBody(t, w)["errors"].(map[string]interface{})
	assert.Contains(t, fields, "message")
	assert.Contains(t, fields, "messagetype")
}

func TestHandler_ProjectAndRoomChat(t *testing.T) {
	svc := new(MockService)
	svc.On("ProjectCanvas", mock.Anything, uint64(1), alice).Return(&ProjectCanvasResponse{
		Canvas: CanvasResponse{ID: 7}, Role: "member", Permissions: []string{"read", "write"},
	}, nil)
	svc.On("RoomCanvas", mock.Anything, domain.ScopeGlobal, alice).Return(&CanvasResponse{ID: 100}, nil)
	svc.On("RoomCanvas", mock.Anything, domain.ScopeAdmin, alice).Return(nil, apierr.Forbidden("Admin access required", nil))
	svc.On("ListChatMessages", mock.Anything, uint64(7), alice).Return([]ChatMessageResponse{}, nil)
	svc.On("ListChatMessages", mock.Anything, uint64(100), alice).Return([]ChatMessageResponse{}, nil)
	r := setupRouter(svc, alice)

	w := doJSON(r, http.MethodGet, "/canvas/api/project/1/canvas", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, "member", body["user_role"])
	assert.Equal(t, []interface{}{"read", "write"}, body["user_permissions"])

	w = doJSON(r, http.MethodGet, "/canvas/api/project/1/chat/messages", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 7.0, decodeBody(t, w)["canvas_id"])

	w = doJSON(r, http.MethodGet, "/canvas/api/chat/global/messages", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 100.0, decodeBody(t, w)["canvas_id"])

	w = doJSON(r, http.MethodGet, "/canvas/api/chat/admin/messages", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestHandler_Upload(t *testing.T) {
	svc := new(MockService)
	svc.On("UploadFile", mock.Anything, uint64(7), alice, mock.MatchedBy(func(in UploadInput) bool {
		return in.Filename == "diagram.png" && in.Size == 4
	})).Return(&UploadResponse{
		URL: "/static/uploads/canvas/x_diagram.png", Filename: "x_diagram.png", OriginalFilename: "diagram.png", FileType: "png", FileSize: 4,
	}, nil)
	r := setupRouter(svc, alice)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", "diagram.png")
	require.NoError(t, err)
	_, err = part.Write([]byte("\x89PNG"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/canvas/api/canvas/7/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, "png", body["file_type"])
	assert.Equal(t, "diagram.png", body["original_filename"])

	// no file part at all
	w = doJSON(r, http.MethodPost, "/canvas/api/canvas/7/upload", map[string]interface{}{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandler_GenerateImage(t *testing.T) {
	svc := new(MockService)
	svc.On("GenerateImage", mock.Anything, uint64(7), alice, GenerateImageRequest{Prompt: "a fox", Width: 300}).
		Return(nil, &apierr.APIError{Status: http.StatusBadRequest, Message: "Validation failed", Fields: map[string]string{"width": "must be one of: 256, 512, 768, 1024"}})
	svc.On("GenerateImage", mock.Anything, uint64(7), alice, GenerateImageRequest{Prompt: "a cat"}).
		Return(nil, apierr.Unavailable("Image generation service is currently unavailable", nil))
	r := setupRouter(svc, alice)

	w := doJSON(r, http.MethodPost, "/canvas/api/canvas/7/generate_image", map[string]interface{}{"prompt": "a fox", "width": 300})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(r, http.MethodPost, "/canvas/api/canvas/7/generate_image", map[string]interface{}{"prompt": "a cat"})
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestHandler_BroadcastAndPresence(t *testing.T) {
	svc := new(MockService)
	svc.On("Broadcast", mock.Anything, uint64(7), alice, mock.MatchedBy(func(req BroadcastRequest) bool {
		return req.Action == "add"
	})).Return(nil)
	svc.On("Presence", mock.Anything, uint64(7), alice).Return([]hub.Member{{UserID: 10, UserName: "Alice Writer"}}, nil)
	r := setupRouter(svc, alice)

	w := doJSON(r, http.MethodPost, "/canvas/api/canvas/7/broadcast", map[string]interface{}{"action": "add", "element_data": map[string]interface{}{"id": 3}})
	assert.Equal(t, http.StatusOK, w.Code)

	w = doJSON(r, http.MethodPost, "/canvas/api/canvas/7/broadcast", map[string]interface{}{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(r, http.MethodGet, "/canvas/api/canvas/7/presence", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decodeBody(t, w)["users"], 1)
}
