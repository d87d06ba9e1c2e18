package canvas

import (
	"context"
	"encoding/json"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"project-canvas/internal/db"
	"project-canvas/internal/domain"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "canvas.db") +
		"?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	gdb, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.Migrate(gdb))
	t.Cleanup(func() {
		if sqlDB, err := gdb.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return gdb
}

type fixture struct {
	db      *gorm.DB
	repo    Repository
	owner   domain.User
	member  domain.User
	project domain.Project
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gdb := newTestDB(t)
	f := &fixture{
		db:     gdb,
		repo:   NewRepository(gdb),
		owner:  domain.User{FirstName: "Ada", LastName: "Owner", Email: "ada@example.com", IsActive: true},
		member: domain.User{FirstName: "Bo", LastName: "Member", Email: "bo@example.com", IsActive: true},
	}
	require.NoError(t, gdb.Create(&f.owner).Error)
	require.NoError(t, gdb.Create(&f.member).Error)
	f.project = domain.Project{Title: "Launch", CreatedBy: f.owner.ID}
	require.NoError(t, gdb.Create(&f.project).Error)
	return f
}

func (f *fixture) projectCanvas(t *testing.T) *domain.Canvas {
	t.Helper()
	c, err := f.repo.GetOrCreateCanvas(context.Background(), domain.ProjectScope(f.project.ID), "Launch - Canvas", &f.project.ID, f.owner.ID)
	require.NoError(t, err)
	return c
}

func TestGetOrCreateCanvas_Idempotent(t *testing.T) {
	f := newFixture(t)

	first := f.projectCanvas(t)
	second := f.projectCanvas(t)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "Launch - Canvas", first.Title)
	assert.JSONEq(t, domain.DefaultCanvasContent, first.Document())

	var count int64
	require.NoError(t, f.db.Model(&domain.Canvas{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestGetOrCreateCanvas_ConcurrentFirstAccess(t *testing.T) {
	f := newFixture(t)

	const callers = 8
	ids := make([]uint64, callers)
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c, err := f.repo.GetOrCreateCanvas(context.Background(), domain.ScopeGlobal, domain.GlobalChatTitle, nil, f.owner.ID)
			errs[i] = err
			if err == nil {
				ids[i] = c.ID
			}
		}(i)
	}
	wg.Wait()

	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, ids[0], ids[i])
	}
	var count int64
	require.NoError(t, f.db.Model(&domain.Canvas{}).Where("scope = ?", domain.ScopeGlobal).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestSaveDocument_RoundTrip(t *testing.T) {
	f := newFixture(t)
	c := f.projectCanvas(t)

	doc := `{"elements":[{"id":1,"type":"text"}],"settings":{"theme":"dark"}}`
	saved, err := f.repo.SaveDocument(context.Background(), c.ID, doc)
	require.NoError(t, err)

	loaded, err := f.repo.FindCanvas(context.Background(), c.ID)
	require.NoError(t, err)
	assert.JSONEq(t, doc, loaded.Document())
	assert.WithinDuration(t, saved, loaded.LastSaved, time.Second)

	_, err = f.repo.SaveDocument(context.Background(), 9999, doc)
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

func newElement(canvasID, userID uint64) *domain.CanvasElement {
	return &domain.CanvasElement{
		CanvasID:    canvasID,
		ElementType: "shape",
		PositionX:   10,
		PositionY:   20,
		Width:       200,
		Height:      100,
		Content:     datatypes.JSON(`{"text":"hello"}`),
		Style:       datatypes.JSON(`{"fill":"#fff"}`),
		ZIndex:      1,
		CreatedBy:   userID,
	}
}

func TestUpdateElement_OnlyPatchedFields(t *testing.T) {
	f := newFixture(t)
	c := f.projectCanvas(t)
	el := newElement(c.ID, f.owner.ID)
	require.NoError(t, f.repo.CreateElement(context.Background(), el))

	before, err := f.repo.FindElement(context.Background(), el.ID)
	require.NoError(t, err)

	width := 50.0
	after, err := f.repo.UpdateElement(context.Background(), el.ID, ElementPatch{Width: &width})
	require.NoError(t, err)

	assert.Equal(t, 50.0, after.Width)
	assert.Equal(t, before.ElementType, after.ElementType)
	assert.Equal(t, before.PositionX, after.PositionX)
	assert.Equal(t, before.PositionY, after.PositionY)
	assert.Equal(t, before.Height, after.Height)
	assert.Equal(t, before.ZIndex, after.ZIndex)
	assert.JSONEq(t, string(before.Content), string(after.Content))
	assert.JSONEq(t, string(before.Style), string(after.Style))
	assert.False(t, after.UpdatedAt.Before(before.UpdatedAt))

	reloaded, err := f.repo.FindElement(context.Background(), el.ID)
	require.NoError(t, err)
	assert.Equal(t, 50.0, reloaded.Width)
	assert.Equal(t, 100.0, reloaded.Height)

	_, err = f.repo.UpdateElement(context.Background(), 9999, ElementPatch{Width: &width})
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

func TestRepository_DeleteElement(t *testing.T) {
	f := newFixture(t)
	c := f.projectCanvas(t)
	el := newElement(c.ID, f.owner.ID)
	require.NoError(t, f.repo.CreateElement(context.Background(), el))

	require.NoError(t, f.repo.DeleteElement(context.Background(), el.ID))
	assert.ErrorIs(t, f.repo.DeleteElement(context.Background(), el.ID), gorm.ErrRecordNotFound)

	elements, err := f.repo.ListElements(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Empty(t, elements)
}

func TestChatMessages_OldestFirstWithAuthor(t *testing.T) {
	f := newFixture(t)
	c := f.projectCanvas(t)

	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	for i, text := range []string{"first", "second", "third"} {
		msg := &domain.CanvasChatMessage{
			CanvasID:    c.ID,
			UserID:      f.member.ID,
			Message:     text,
			MessageType: domain.MessageText,
			CreatedAt:   base.Add(time.Duration(2-i) * -time.Minute),
		}
		require.NoError(t, f.repo.AppendChatMessage(context.Background(), msg))
		require.NotNil(t, msg.User)
		assert.Equal(t, "Bo Member", msg.User.FullName())
	}

	messages, err := f.repo.ListChatMessages(context.Background(), c.ID)
	require.NoError(t, err)
	require.Len(t, messages, 3)
	assert.Equal(t, "first", messages[0].Message)
	assert.Equal(t, "third", messages[2].Message)
	assert.Equal(t, "Bo Member", toChatMessageResponse(&messages[0]).UserName)
}

func TestFiles_NewestFirst(t *testing.T) {
	f := newFixture(t)
	c := f.projectCanvas(t)

	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	for i, name := range []string{"old.png", "new.png"} {
		file := &domain.CanvasFile{
			CanvasID:         c.ID,
			Filename:         name,
			OriginalFilename: name,
			FilePath:         "/static/uploads/canvas/" + name,
			FileType:         "png",
			FileSize:         3,
			UploadedBy:       f.owner.ID,
			UploadedAt:       base.Add(time.Duration(i) * time.Hour),
		}
		require.NoError(t, f.repo.RecordFile(context.Background(), file))
	}

	files, err := f.repo.ListFiles(context.Background(), c.ID)
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Equal(t, "new.png", files[0].Filename)
	assert.Equal(t, "Ada Owner", toFileResponse(&files[0]).UploaderName)
}

func TestProjectDelete_CascadesToCanvas(t *testing.T) {
	f := newFixture(t)
	c := f.projectCanvas(t)
	require.NoError(t, f.repo.CreateElement(context.Background(), newElement(c.ID, f.owner.ID)))
	require.NoError(t, f.repo.AppendChatMessage(context.Background(), &domain.CanvasChatMessage{
		CanvasID: c.ID, UserID: f.owner.ID, Message: "bye", MessageType: domain.MessageText,
	}))

	require.NoError(t, f.db.Delete(&domain.Project{}, f.project.ID).Error)

	_, err := f.repo.FindCanvas(context.Background(), c.ID)
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)

	var elements, messages int64
	require.NoError(t, f.db.Model(&domain.CanvasElement{}).Count(&elements).Error)
	require.NoError(t, f.db.Model(&domain.CanvasChatMessage{}).Count(&messages).Error)
	assert.Zero(t, elements)
	assert.Zero(t, messages)
}

func TestElementResponse_Fields(t *testing.T) {
	el := newElement(1, 2)
	raw, err := json.Marshal(toElementResponse(el))
	require.NoError(t, err)

	var fields map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &fields))
	for _, key := range []string{"id", "canvas_id", "element_type", "position_x", "position_y", "width", "height", "content", "style", "z_index", "created_by", "created_at", "updated_at"} {
		assert.Contains(t, fields, key)
	}
	assert.Len(t, fields, 13)
}
