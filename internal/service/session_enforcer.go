package service

import (
	"context"
	"sort"
	"time"

	"github.com/sandeepkv93/session-guard/internal/clock"
	"github.com/sandeepkv93/session-guard/internal/domain"
	"github.com/sandeepkv93/session-guard/internal/observability"
	"github.com/sandeepkv93/session-guard/internal/repository"
)

const day = 24 * time.Hour

// IsIdle reports whether more than idleTimeoutDays have passed since
// lastActiveAt. A session exactly at the boundary is not idle.
func IsIdle(now, lastActiveAt time.Time, idleTimeoutDays int) bool {
	return now.Sub(lastActiveAt) > time.Duration(idleTimeoutDays)*day
}

// IdleRemaining is the time left before a session turns idle, never negative.
func IdleRemaining(now, lastActiveAt time.Time, idleTimeoutDays int) time.Duration {
	remaining := time.Duration(idleTimeoutDays)*day - now.Sub(lastActiveAt)
	if remaining < 0 {
		return 0
	}
	return remaining
}

type familyRevoker interface {
	RevokeFamily(ctx context.Context, familyID string, reason domain.RevokeReason) (bool, error)
}

type SessionEnforcer struct {
	families repository.FamilyRepository
	revoker  familyRevoker
	clock    clock.Clock
}

func NewSessionEnforcer(families repository.FamilyRepository, revoker familyRevoker, clk clock.Clock) *SessionEnforcer {
	return &SessionEnforcer{families: families, revoker: revoker, clock: clk}
}

func (s *SessionEnforcer) IsIdle(lastActiveAt time.Time, idleTimeoutDays int) bool {
	return IsIdle(s.clock.Now(), lastActiveAt, idleTimeoutDays)
}

func (s *SessionEnforcer) IdleRemaining(lastActiveAt time.Time, idleTimeoutDays int) time.Duration {
	return IdleRemaining(s.clock.Now(), lastActiveAt, idleTimeoutDays)
}

// EnforceMaxConcurrentSessions revokes the user's oldest active families
// until at most maxSessions remain, and returns how many it revoked.
// A non-positive cap disables enforcement without touching storage.
func (s *SessionEnforcer) EnforceMaxConcurrentSessions(ctx context.Context, userID string, maxSessions int) (int, error) {
	if maxSessions <= 0 {
		return 0, nil
	}
	families, err := s.families.ListActiveByUser(ctx, userID)
	if err != nil {
		return 0, internalError("list active families", err)
	}
	if len(families) <= maxSessions {
		return 0, nil
	}
	sort.SliceStable(families, func(i, j int) bool {
		if !families[i].CreatedAt.Equal(families[j].CreatedAt) {
			return families[i].CreatedAt.Before(families[j].CreatedAt)
		}
		return families[i].ID < families[j].ID
	})

	revoked := 0
	for _, f := range families[:len(families)-maxSessions] {
		changed, err := s.revoker.RevokeFamily(ctx, f.ID, domain.RevokeReasonSessionLimit)
		if err != nil {
			observability.RecordSessionEvictions(ctx, revoked)
			return revoked, err
		}
		if changed {
			revoked++
		}
	}
	observability.RecordSessionEvictions(ctx, revoked)
	return revoked, nil
}
