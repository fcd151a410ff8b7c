package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sandeepkv93/session-guard/internal/domain"
	"github.com/sandeepkv93/session-guard/internal/observability"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrFamilyNotFound  = errors.New("token family not found")
	ErrTokenNotFound   = errors.New("refresh token not found")
	ErrTokenNotCurrent = errors.New("refresh token is not current")
	ErrFamilyRevoked   = errors.New("token family revoked")
)

type FamilyRepository interface {
	CreateFamily(ctx context.Context, f *domain.TokenFamily) error
	CreateToken(ctx context.Context, t *domain.RefreshToken) error
	FindTokenByHash(ctx context.Context, hash string) (*domain.RefreshToken, error)
	FindFamilyByID(ctx context.Context, familyID string) (*domain.TokenFamily, error)
	LockFamily(ctx context.Context, familyID string) (*domain.TokenFamily, error)
	ListActiveByUser(ctx context.Context, userID string) ([]domain.TokenFamily, error)
	ListTokensByFamily(ctx context.Context, familyID string) ([]domain.RefreshToken, error)
	MarkTokenConsumed(ctx context.Context, tokenID string, at time.Time) error
	AdvanceCurrentToken(ctx context.Context, familyID, expectedTokenID, newTokenID string, latestExpiresAt, lastActiveAt time.Time) error
	RevokeFamily(ctx context.Context, familyID string, reason domain.RevokeReason, at time.Time) (bool, error)
}

type GormFamilyRepository struct{ db *gorm.DB }

func NewFamilyRepository(db *gorm.DB) *GormFamilyRepository { return &GormFamilyRepository{db: db} }

func (r *GormFamilyRepository) CreateFamily(ctx context.Context, f *domain.TokenFamily) error {
	if err := conn(ctx, r.db).Create(f).Error; err != nil {
		observability.RecordRepositoryOperation(ctx, "token_family", "create", "error")
		return fmt.Errorf("create token family: %w", err)
	}
	observability.RecordRepositoryOperation(ctx, "token_family", "create", "success")
	return nil
}

func (r *GormFamilyRepository) CreateToken(ctx context.Context, t *domain.RefreshToken) error {
	if err := conn(ctx, r.db).Create(t).Error; err != nil {
		observability.RecordRepositoryOperation(ctx, "refresh_token", "create", "error")
		return fmt.Errorf("create refresh token: %w", err)
	}
	observability.RecordRepositoryOperation(ctx, "refresh_token", "create", "success")
	return nil
}

func (r *GormFamilyRepository) FindTokenByHash(ctx context.Context, hash string) (*domain.RefreshToken, error) {
	var t domain.RefreshToken
	err := conn(ctx, r.db).Where("token_hash = ?", hash).First(&t).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(ctx, "refresh_token", "find_by_hash", "not_found")
			return nil, ErrTokenNotFound
		}
		observability.RecordRepositoryOperation(ctx, "refresh_token", "find_by_hash", "error")
		return nil, fmt.Errorf("find refresh token: %w", err)
	}
	observability.RecordRepositoryOperation(ctx, "refresh_token", "find_by_hash", "success")
	return &t, nil
}

func (r *GormFamilyRepository) FindFamilyByID(ctx context.Context, familyID string) (*domain.TokenFamily, error) {
	var f domain.TokenFamily
	err := conn(ctx, r.db).Where("id = ?", familyID).First(&f).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(ctx, "token_family", "find_by_id", "not_found")
			return nil, ErrFamilyNotFound
		}
		observability.RecordRepositoryOperation(ctx, "token_family", "find_by_id", "error")
		return nil, fmt.Errorf("find token family: %w", err)
	}
	observability.RecordRepositoryOperation(ctx, "token_family", "find_by_id", "success")
	return &f, nil
}

// LockFamily reads the family row with SELECT ... FOR UPDATE. It must be
// called inside RunInTx; SQLite has no row locks and relies on its
// database-level write lock instead.
func (r *GormFamilyRepository) LockFamily(ctx context.Context, familyID string) (*domain.TokenFamily, error) {
	q := conn(ctx, r.db)
	if q.Dialector.Name() != "sqlite" {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var f domain.TokenFamily
	err := q.Where("id = ?", familyID).First(&f).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(ctx, "token_family", "lock", "not_found")
			return nil, ErrFamilyNotFound
		}
		observability.RecordRepositoryOperation(ctx, "token_family", "lock", "error")
		return nil, fmt.Errorf("lock token family: %w", err)
	}
	observability.RecordRepositoryOperation(ctx, "token_family", "lock", "success")
	return &f, nil
}

// ListActiveByUser returns unrevoked families oldest first. A family whose
// tokens have all expired is still active until it is revoked.
func (r *GormFamilyRepository) ListActiveByUser(ctx context.Context, userID string) ([]domain.TokenFamily, error) {
	var families []domain.TokenFamily
	err := conn(ctx, r.db).
		Where("user_id = ? AND revoked_at IS NULL", userID).
		Order("created_at ASC").
		Order("id ASC").
		Find(&families).Error
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "token_family", "list_active_by_user", "error")
		return nil, fmt.Errorf("list active token families: %w", err)
	}
	observability.RecordRepositoryOperation(ctx, "token_family", "list_active_by_user", "success")
	return families, nil
}

func (r *GormFamilyRepository) ListTokensByFamily(ctx context.Context, familyID string) ([]domain.RefreshToken, error) {
	var tokens []domain.RefreshToken
	err := conn(ctx, r.db).Where("family_id = ?", familyID).Order("created_at ASC").Find(&tokens).Error
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "refresh_token", "list_by_family", "error")
		return nil, fmt.Errorf("list refresh tokens: %w", err)
	}
	observability.RecordRepositoryOperation(ctx, "refresh_token", "list_by_family", "success")
	return tokens, nil
}

// MarkTokenConsumed only succeeds for a token that has not been consumed yet.
func (r *GormFamilyRepository) MarkTokenConsumed(ctx context.Context, tokenID string, at time.Time) error {
	res := conn(ctx, r.db).Model(&domain.RefreshToken{}).
		Where("id = ? AND consumed_at IS NULL", tokenID).
		Update("consumed_at", at)
	if res.Error != nil {
		observability.RecordRepositoryOperation(ctx, "refresh_token", "mark_consumed", "error")
		return fmt.Errorf("mark refresh token consumed: %w", res.Error)
	}
	if res.RowsAffected != 1 {
		observability.RecordRepositoryOperation(ctx, "refresh_token", "mark_consumed", "conflict")
		return ErrTokenNotCurrent
	}
	observability.RecordRepositoryOperation(ctx, "refresh_token", "mark_consumed", "success")
	return nil
}

// AdvanceCurrentToken swaps the family's current token pointer only when it
// still names expectedTokenID and the family is active.
func (r *GormFamilyRepository) AdvanceCurrentToken(ctx context.Context, familyID, expectedTokenID, newTokenID string, latestExpiresAt, lastActiveAt time.Time) error {
	res := conn(ctx, r.db).Model(&domain.TokenFamily{}).
		Where("id = ? AND current_token_id = ? AND revoked_at IS NULL", familyID, expectedTokenID).
		Updates(map[string]any{
			"current_token_id":  newTokenID,
			"latest_expires_at": latestExpiresAt,
			"last_active_at":    lastActiveAt,
			"updated_at":        lastActiveAt,
		})
	if res.Error != nil {
		observability.RecordRepositoryOperation(ctx, "token_family", "advance_current_token", "error")
		return fmt.Errorf("advance current token: %w", res.Error)
	}
	if res.RowsAffected != 1 {
		observability.RecordRepositoryOperation(ctx, "token_family", "advance_current_token", "conflict")
		return ErrTokenNotCurrent
	}
	observability.RecordRepositoryOperation(ctx, "token_family", "advance_current_token", "success")
	return nil
}

// RevokeFamily reports whether this call moved the family to revoked.
// Revoking an already revoked family is a no-op.
func (r *GormFamilyRepository) RevokeFamily(ctx context.Context, familyID string, reason domain.RevokeReason, at time.Time) (bool, error) {
	res := conn(ctx, r.db).Model(&domain.TokenFamily{}).
		Where("id = ? AND revoked_at IS NULL", familyID).
		Updates(map[string]any{"revoked_at": at, "revoke_reason": reason, "updated_at": at})
	if res.Error != nil {
		observability.RecordRepositoryOperation(ctx, "token_family", "revoke", "error")
		return false, fmt.Errorf("revoke token family: %w", res.Error)
	}
	observability.RecordRepositoryOperation(ctx, "token_family", "revoke", "success")
	return res.RowsAffected > 0, nil
}
