package repository

import (
	"fmt"

	"github.com/sandeepkv93/session-guard/internal/domain"

	"gorm.io/gorm"
)

func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&domain.User{},
		&domain.TokenFamily{},
		&domain.RefreshToken{},
		&domain.SecurityEvent{},
		&domain.TrustedDevice{},
	); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}
