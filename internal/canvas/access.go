package canvas

import (
	"context"
	"errors"
	"time"

	"project-canvas/internal/domain"
	apierr "project-canvas/internal/errors"
	"project-canvas/internal/permission"

	"gorm.io/gorm"
)

type PermissionResolver interface {
	Resolve(ctx context.Context, project permission.Project, user permission.Subject) (permission.Set, error)
}

// Access computes a user's capability set on a canvas from its scope.
// The hub uses it to authorize joins.
type Access struct {
	repo     Repository
	resolver PermissionResolver
	timeout  time.Duration
}

func NewAccess(repo Repository, resolver PermissionResolver, timeout time.Duration) *Access {
	return &Access{repo: repo, resolver: resolver, timeout: timeout}
}

func (a *Access) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if a.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, a.timeout)
}

func (a *Access) Authorize(ctx context.Context, canvasID uint64, user *domain.User) (permission.Set, error) {
	ctx, cancel := a.bound(ctx)
	defer cancel()

	canvas, err := a.repo.FindCanvas(ctx, canvasID)
	if err != nil {
		return 0, storeError(err, "Canvas not found", "Failed to load canvas")
	}
	return a.forCanvas(ctx, canvas, user)
}

func (a *Access) forCanvas(ctx context.Context, canvas *domain.Canvas, user *domain.User) (permission.Set, error) {
	switch canvas.Scope {
	case domain.ScopeGlobal:
		return permission.GlobalRoom(user.Subject()), nil
	case domain.ScopeAdmin:
		return permission.AdminRoom(user.Subject()), nil
	}
	if canvas.ProjectID == nil {
		return 0, nil
	}

	project, err := a.repo.FindProject(ctx, *canvas.ProjectID)
	if err != nil {
		return 0, storeError(err, "Project not found", "Failed to load project")
	}
	return a.forProject(ctx, project, user)
}

func (a *Access) forProject(ctx context.Context, project *domain.Project, user *domain.User) (permission.Set, error) {
	perms, err := a.resolver.Resolve(ctx, project.Owner(), user.Subject())
	if err != nil {
		return 0, apierr.InternalWithMessage("Failed to check permissions", err)
	}
	return perms, nil
}

// storeError maps repository failures onto API errors.
func storeError(err error, notFound, failed string) error {
	var apiErr *apierr.APIError
	if errors.As(err, &apiErr) {
		return err
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return apierr.NotFound(notFound, err)
	}
	return apierr.InternalWithMessage(failed, err)
}
