package canvas

import (
	"context"
	"errors"
	"time"

	"project-canvas/internal/domain"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Repository interface {
	GetOrCreateCanvas(ctx context.Context, scope, title string, projectID *uint64, userID uint64) (*domain.Canvas, error)
	FindCanvas(ctx context.Context, id uint64) (*domain.Canvas, error)
	FindProject(ctx context.Context, id uint64) (*domain.Project, error)
	SaveDocument(ctx context.Context, canvasID uint64, content string) (time.Time, error)

	ListElements(ctx context.Context, canvasID uint64) ([]domain.CanvasElement, error)
	CreateElement(ctx context.Context, element *domain.CanvasElement) error
	FindElement(ctx context.Context, id uint64) (*domain.CanvasElement, error)
	UpdateElement(ctx context.Context, id uint64, patch ElementPatch) (*domain.CanvasElement, error)
	DeleteElement(ctx context.Context, id uint64) error

	ListChatMessages(ctx context.Context, canvasID uint64) ([]domain.CanvasChatMessage, error)
	AppendChatMessage(ctx context.Context, msg *domain.CanvasChatMessage) error

	ListFiles(ctx context.Context, canvasID uint64) ([]domain.CanvasFile, error)
	RecordFile(ctx context.Context, file *domain.CanvasFile) error
}

// ElementPatch holds the fields of a partial element update; nil means
// keep the stored value.
type ElementPatch struct {
	ElementType *string
	PositionX   *float64
	PositionY   *float64
	Width       *float64
	Height      *float64
	Content     datatypes.JSON
	Style       datatypes.JSON
	ZIndex      *int
}

func (p ElementPatch) apply(e *domain.CanvasElement) {
	if p.ElementType != nil {
		e.ElementType = *p.ElementType
	}
	if p.PositionX != nil {
		e.PositionX = *p.PositionX
	}
	if p.PositionY != nil {
		e.PositionY = *p.PositionY
	}
	if p.Width != nil {
		e.Width = *p.Width
	}
	if p.Height != nil {
		e.Height = *p.Height
	}
	if p.Content != nil {
		e.Content = p.Content
	}
	if p.Style != nil {
		e.Style = p.Style
	}
	if p.ZIndex != nil {
		e.ZIndex = *p.ZIndex
	}
}

type RepositoryImpl struct {
	db  *gorm.DB
	now func() time.Time
}

func NewRepository(db *gorm.DB) Repository {
	return &RepositoryImpl{db: db, now: func() time.Time { return time.Now().UTC() }}
}

// GetOrCreateCanvas returns the canvas for scope, creating it on first
// use. Concurrent first calls insert at most one row: the loser's insert
// is a no-op on the scope index and both read back the winner.
func (r *RepositoryImpl) GetOrCreateCanvas(ctx context.Context, scope, title string, projectID *uint64, userID uint64) (*domain.Canvas, error) {
	var existing domain.Canvas
	err := r.db.WithContext(ctx).Where("scope = ?", scope).Take(&existing).Error
	if err == nil {
		return &existing, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	now := r.now()
	candidate := domain.Canvas{
		Scope:     scope,
		ProjectID: projectID,
		Title:     title,
		Content:   domain.DefaultCanvasContent,
		CreatedBy: userID,
		CreatedAt: now,
		UpdatedAt: now,
		LastSaved: now,
	}

	var canvas domain.Canvas
	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "scope"}},
			DoNothing: true,
		}).Create(&candidate).Error; err != nil {
			return err
		}
		return tx.Where("scope = ?", scope).Take(&canvas).Error
	})
	if err != nil {
		return nil, err
	}
	return &canvas, nil
}

func (r *RepositoryImpl) FindCanvas(ctx context.Context, id uint64) (*domain.Canvas, error) {
	var canvas domain.Canvas
	if err := r.db.WithContext(ctx).First(&canvas, id).Error; err != nil {
		return nil, err
	}
	return &canvas, nil
}

func (r *RepositoryImpl) FindProject(ctx context.Context, id uint64) (*domain.Project, error) {
	var project domain.Project
	if err := r.db.WithContext(ctx).First(&project, id).Error; err != nil {
		return nil, err
	}
	return &project, nil
}

// SaveDocument overwrites the stored document. Last write wins.
func (r *RepositoryImpl) SaveDocument(ctx context.Context, canvasID uint64, content string) (time.Time, error) {
	now := r.now()
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&domain.Canvas{}).
			Where("id = ?", canvasID).
			Updates(map[string]interface{}{
				"content":    content,
				"last_saved": now,
				"updated_at": now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		return nil
	})
	return now, err
}

func (r *RepositoryImpl) ListElements(ctx context.Context, canvasID uint64) ([]domain.CanvasElement, error) {
	var elements []domain.CanvasElement
	err := r.db.WithContext(ctx).
		Where("canvas_id = ?", canvasID).
		Order("z_index ASC, id ASC").
		Find(&elements).Error
	return elements, err
}

func (r *RepositoryImpl) CreateElement(ctx context.Context, element *domain.CanvasElement) error {
	now := r.now()
	element.CreatedAt = now
	element.UpdatedAt = now
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Create(element).Error
	})
}

func (r *RepositoryImpl) FindElement(ctx context.Context, id uint64) (*domain.CanvasElement, error) {
	var element domain.CanvasElement
	if err := r.db.WithContext(ctx).First(&element, id).Error; err != nil {
		return nil, err
	}
	return &element, nil
}

func (r *RepositoryImpl) UpdateElement(ctx context.Context, id uint64, patch ElementPatch) (*domain.CanvasElement, error) {
	var element domain.CanvasElement
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&element, id).Error; err != nil {
			return err
		}
		patch.apply(&element)
		element.UpdatedAt = r.now()
		return tx.Save(&element).Error
	})
	if err != nil {
		return nil, err
	}
	return &element, nil
}

func (r *RepositoryImpl) DeleteElement(ctx context.Context, id uint64) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Delete(&domain.CanvasElement{}, id)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		return nil
	})
}

// ListChatMessages returns the history oldest first.
func (r *RepositoryImpl) ListChatMessages(ctx context.Context, canvasID uint64) ([]domain.CanvasChatMessage, error) {
	var messages []domain.CanvasChatMessage
	err := r.db.WithContext(ctx).
		Preload("User").
		Where("canvas_id = ?", canvasID).
		Order("created_at ASC, id ASC").
		Find(&messages).Error
	return messages, err
}

func (r *RepositoryImpl) AppendChatMessage(ctx context.Context, msg *domain.CanvasChatMessage) error {
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = r.now()
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit(clause.Associations).Create(msg).Error; err != nil {
			return err
		}
		return tx.Preload("User").First(msg, msg.ID).Error
	})
}

// ListFiles returns uploads newest first.
func (r *RepositoryImpl) ListFiles(ctx context.Context, canvasID uint64) ([]domain.CanvasFile, error) {
	var files []domain.CanvasFile
	err := r.db.WithContext(ctx).
		Preload("Uploader").
		Where("canvas_id = ?", canvasID).
		Order("uploaded_at DESC, id DESC").
		Find(&files).Error
	return files, err
}

func (r *RepositoryImpl) RecordFile(ctx context.Context, file *domain.CanvasFile) error {
	if file.UploadedAt.IsZero() {
		file.UploadedAt = r.now()
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit(clause.Associations).Create(file).Error; err != nil {
			return err
		}
		return tx.Preload("Uploader").First(file, file.ID).Error
	})
}
