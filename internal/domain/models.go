package domain

import (
	"fmt"
	"strings"
	"time"

	"project-canvas/internal/permission"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	RoleAdmin = "admin"
	RoleUser  = "user"
)

// User is owned by the account side of the application; the canvas
// service only reads it.
type User struct {
	ID        uint64    `gorm:"primaryKey"`
	FirstName string    `gorm:"size:100"`
	LastName  string    `gorm:"size:100"`
	Email     string    `gorm:"size:255;uniqueIndex"`
	Role      string    `gorm:"size:20;not null;default:user"`
	IsActive  bool      `gorm:"not null;default:true"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (u *User) IsAdmin() bool {
	return u.Role == RoleAdmin
}

func (u *User) FullName() string {
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if name == "" {
		return u.Email
	}
	return name
}

func (u *User) Subject() permission.Subject {
	return permission.Subject{ID: u.ID, IsAdmin: u.IsAdmin()}
}

type Project struct {
	ID          uint64 `gorm:"primaryKey"`
	Title       string `gorm:"size:200;not null"`
	Description string
	CreatedBy   uint64 `gorm:"not null"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (p *Project) Owner() permission.Project {
	return permission.Project{ID: p.ID, CreatedBy: p.CreatedBy}
}

type ProjectMember struct {
	ID          uint64         `gorm:"primaryKey"`
	ProjectID   uint64         `gorm:"not null;uniqueIndex:unique_project_member"`
	Project     *Project       `gorm:"constraint:OnDelete:CASCADE"`
	UserID      uint64         `gorm:"not null;uniqueIndex:unique_project_member"`
	Role        string         `gorm:"size:20;not null;default:member"`
	Permissions permission.Set `gorm:"size:100"`
	JoinedAt    time.Time      `gorm:"autoCreateTime"`
}

// BeforeCreate applies the default member permissions.
func (m *ProjectMember) BeforeCreate(*gorm.DB) error {
	if m.Permissions.IsEmpty() {
		m.Permissions = permission.Of(permission.Read, permission.Write, permission.Create)
	}
	return nil
}

// Canvas scopes. Project canvases are keyed by project; the two chat
// rooms have fixed scopes instead of being looked up by title.
const (
	ScopeGlobal = "global"
	ScopeAdmin  = "admin"

	GlobalChatTitle = "Global Chat"
	AdminChatTitle  = "Admin Chat"
)

func ProjectScope(projectID uint64) string {
	return fmt.Sprintf("project:%d", projectID)
}

const DefaultCanvasContent = `{"elements":[],"settings":{"theme":"light"}}`

type Canvas struct {
	ID        uint64   `gorm:"primaryKey"`
	Scope     string   `gorm:"size:64;not null;uniqueIndex"`
	ProjectID *uint64  `gorm:"index"`
	Project   *Project `gorm:"constraint:OnDelete:CASCADE"`
	Title     string   `gorm:"size:200;not null;default:Untitled Canvas"`
	Content   string   `gorm:"type:text"`
	CreatedBy uint64   `gorm:"not null"`
	CreatedAt time.Time
	UpdatedAt time.Time
	LastSaved time.Time

	Elements     []CanvasElement     `gorm:"constraint:OnDelete:CASCADE"`
	ChatMessages []CanvasChatMessage `gorm:"constraint:OnDelete:CASCADE"`
	Files        []CanvasFile        `gorm:"constraint:OnDelete:CASCADE"`
}

func (Canvas) TableName() string {
	return "canvas"
}

// Document returns the stored blob, or the empty document for a canvas
// that has never been saved.
func (c *Canvas) Document() string {
	if strings.TrimSpace(c.Content) == "" {
		return DefaultCanvasContent
	}
	return c.Content
}

type CanvasElement struct {
	ID          uint64         `gorm:"primaryKey"`
	CanvasID    uint64         `gorm:"not null;index"`
	ElementType string         `gorm:"size:50;not null"`
	PositionX   float64        `gorm:"not null"`
	PositionY   float64        `gorm:"not null"`
	Width       float64        `gorm:"not null"`
	Height      float64        `gorm:"not null"`
	Content     datatypes.JSON `gorm:"not null"`
	Style       datatypes.JSON `gorm:"not null"`
	ZIndex      int            `gorm:"not null"`
	CreatedBy   uint64         `gorm:"not null"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

const (
	MessageText  = "text"
	MessageFile  = "file"
	MessageImage = "image"
)

type CanvasChatMessage struct {
	ID          uint64  `gorm:"primaryKey"`
	CanvasID    uint64  `gorm:"not null;index"`
	UserID      uint64  `gorm:"not null"`
	User        *User   `gorm:"foreignKey:UserID"`
	Message     string  `gorm:"type:text;not null"`
	MessageType string  `gorm:"size:20;not null;default:text"`
	FilePath    *string `gorm:"size:500"`
	CreatedAt   time.Time
}

type CanvasFile struct {
	ID               uint64 `gorm:"primaryKey"`
	CanvasID         uint64 `gorm:"not null;index"`
	Filename         string `gorm:"size:255;not null"`
	OriginalFilename string `gorm:"size:255;not null"`
	FilePath         string `gorm:"size:500;not null"`
	FileType         string `gorm:"size:50;not null"`
	FileSize         int64  `gorm:"not null"`
	UploadedBy       uint64 `gorm:"not null"`
	Uploader         *User  `gorm:"foreignKey:UploadedBy"`
	UploadedAt       time.Time
}
