package db

import (
	"errors"
	"fmt"

	"project-canvas/internal/domain"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

// Migrate creates the canvas tables plus the user/project tables the
// canvas service reads from.
func Migrate(db *gorm.DB) error {
	err := db.AutoMigrate(
		&domain.User{},
		&domain.Project{},
		&domain.ProjectMember{},
		&domain.Canvas{},
		&domain.CanvasElement{},
		&domain.CanvasChatMessage{},
		&domain.CanvasFile{},
	)
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	log.Info().Msg("database schema migrated successfully")
	return nil
}

// SeedData seeds the database with initial data (for development only)
func SeedData(db *gorm.DB) error {
	admin := domain.User{
		FirstName: "Dev",
		LastName:  "Admin",
		Email:     "admin@example.com",
		Role:      domain.RoleAdmin,
		IsActive:  true,
	}

	err := db.Where("email = ?", admin.Email).First(&admin).Error
	if err == nil {
		log.Info().Str("email", admin.Email).Msg("dev admin already exists")
		return nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}

	return db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&admin).Error; err != nil {
			return err
		}
		project := domain.Project{Title: "Sample Project", CreatedBy: admin.ID}
		if err := tx.Create(&project).Error; err != nil {
			return err
		}
		log.Info().Str("email", admin.Email).Uint64("project_id", project.ID).Msg("seeded dev admin and project")
		return nil
	})
}
