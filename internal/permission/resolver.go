package permission

import (
	"context"
	"errors"

	"gorm.io/gorm"
)

// Subject is the authenticated user as the resolver sees it.
type Subject struct {
	ID      uint64
	IsAdmin bool
}

// Project carries the ownership facts needed for a decision.
type Project struct {
	ID        uint64
	CreatedBy uint64
}

// MemberRepository looks up a (project, user) membership record.
// found is false when no record exists.
type MemberRepository interface {
	FindPermissions(ctx context.Context, projectID, userID uint64) (perms Set, found bool, err error)
}

type Resolver struct {
	members MemberRepository
}

func NewResolver(members MemberRepository) *Resolver {
	return &Resolver{members: members}
}

// Resolve returns the effective capability set. Admins and the project
// creator hold everything; any membership grants read on top of the
// member's declared permissions.
func (r *Resolver) Resolve(ctx context.Context, project Project, user Subject) (Set, error) {
	if user.IsAdmin || project.CreatedBy == user.ID {
		return All, nil
	}

	perms, found, err := r.members.FindPermissions(ctx, project.ID, user.ID)
	if err != nil {
		return 0, err
	}
	if !found {
		return 0, nil
	}
	return perms.Add(Read), nil
}

func CanRead(s Set) bool {
	return s.Has(Read)
}

func CanWrite(s Set) bool {
	return s.Has(Write) || s.Has(Create)
}

func (r *Resolver) CanRead(ctx context.Context, project Project, user Subject) bool {
	s, err := r.Resolve(ctx, project, user)
	return err == nil && CanRead(s)
}

func (r *Resolver) CanWrite(ctx context.Context, project Project, user Subject) bool {
	s, err := r.Resolve(ctx, project, user)
	return err == nil && CanWrite(s)
}

// GlobalRoom is open to every authenticated user.
func GlobalRoom(Subject) Set {
	return Of(Read, Write, Create)
}

// AdminRoom is reserved for administrators.
func AdminRoom(user Subject) Set {
	if user.IsAdmin {
		return All
	}
	return 0
}

// GormMemberRepository reads the project_members table owned by the
// project management side of the application.
type GormMemberRepository struct {
	db *gorm.DB
}

func NewGormMemberRepository(db *gorm.DB) *GormMemberRepository {
	return &GormMemberRepository{db: db}
}

func (r *GormMemberRepository) FindPermissions(ctx context.Context, projectID, userID uint64) (Set, bool, error) {
	var row struct {
		Permissions Set
	}
	err := r.db.WithContext(ctx).
		Table("project_members").
		Select("permissions").
		Where("project_id = ? AND user_id = ?", projectID, userID).
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return row.Permissions, true, nil
}
