package user

import (
	"context"
	"errors"

	"project-canvas/internal/domain"
	apiError "project-canvas/internal/errors"

	"gorm.io/gorm"
)

// Service exposes the read side of the account data the canvas needs.
// Registration and login live in the account service.
type Service interface {
	GetUserByID(ctx context.Context, id uint64) (*domain.User, error)
}

// DefaultService implements Service
type DefaultService struct {
	repository UserRepository
}

// NewService creates a new user service
func NewService(repository UserRepository) Service {
	return &DefaultService{repository: repository}
}

// GetUserByID gets a user by ID
func (s *DefaultService) GetUserByID(ctx context.Context, id uint64) (*domain.User, error) {
	user, err := s.repository.FindByID(ctx, id)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apiError.NotFound("User not found", err)
	}
	if err != nil {
		return nil, apiError.Internal(err)
	}
	return user, nil
}
