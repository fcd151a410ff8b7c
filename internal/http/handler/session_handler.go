package handler

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/sandeepkv93/session-guard/internal/domain"
	"github.com/sandeepkv93/session-guard/internal/http/middleware"
	"github.com/sandeepkv93/session-guard/internal/http/response"
	"github.com/sandeepkv93/session-guard/internal/observability"
	"github.com/sandeepkv93/session-guard/internal/repository"
)

type SessionManager interface {
	ActiveFamilies(ctx context.Context, userID string) ([]domain.TokenFamily, error)
	RevokeAllExcept(ctx context.Context, userID, keepFamilyID string) (int, error)
	RevokeForUser(ctx context.Context, userID, familyID string, reason domain.RevokeReason) error
}

type IdlePolicy interface {
	IdleRemaining(lastActiveAt time.Time, idleTimeoutDays int) time.Duration
}

type EventLister interface {
	List(ctx context.Context, q repository.SecurityEventQuery) (repository.PageResult[domain.SecurityEvent], error)
}

type SessionHandler struct {
	sessions SessionManager
	idle     IdlePolicy
	idleDays int
	events   EventLister
}

func NewSessionHandler(sessions SessionManager, idle IdlePolicy, idleDays int, events EventLister) *SessionHandler {
	return &SessionHandler{sessions: sessions, idle: idle, idleDays: idleDays, events: events}
}

type sessionView struct {
	ID                string    `json:"id"`
	IsCurrent         bool      `json:"is_current"`
	IP                string    `json:"ip"`
	UserAgent         string    `json:"user_agent"`
	CreatedAt         time.Time `json:"created_at"`
	LastActiveAt      time.Time `json:"last_active_at"`
	ExpiresAt         time.Time `json:"expires_at"`
	IdleExpiresInSecs *int64    `json:"idle_expires_in_seconds,omitempty"`
}

func (h *SessionHandler) List(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "missing access token", nil)
		return
	}
	families, err := h.sessions.ActiveFamilies(r.Context(), claims.Subject)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	views := make([]sessionView, 0, len(families))
	for _, f := range families {
		v := sessionView{
			ID:           f.ID,
			IsCurrent:    f.ID == claims.FamilyID,
			IP:           f.IPAddress,
			UserAgent:    f.UserAgent,
			CreatedAt:    f.CreatedAt,
			LastActiveAt: f.LastActiveAt,
			ExpiresAt:    f.LatestExpiresAt,
		}
		if h.idleDays > 0 && h.idle != nil {
			secs := int64(h.idle.IdleRemaining(f.LastActiveAt, h.idleDays).Seconds())
			v.IdleExpiresInSecs = &secs
		}
		views = append(views, v)
	}
	response.JSON(w, r, http.StatusOK, views)
}

func (h *SessionHandler) RevokeOthers(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "missing access token", nil)
		return
	}
	n, err := h.sessions.RevokeAllExcept(r.Context(), claims.Subject, claims.FamilyID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	observability.Audit(r, "session.revoke_others", "user_id", claims.Subject, "revoked", n)
	response.JSON(w, r, http.StatusOK, map[string]int{"revoked": n})
}

func (h *SessionHandler) Revoke(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "missing access token", nil)
		return
	}
	familyID := strings.TrimSpace(chi.URLParam(r, "family_id"))
	if familyID == "" {
		response.Error(w, r, http.StatusBadRequest, "BAD_REQUEST", "family id is required", nil)
		return
	}
	if err := h.sessions.RevokeForUser(r.Context(), claims.Subject, familyID, domain.RevokeReasonUserLogout); err != nil {
		writeServiceError(w, r, err)
		return
	}
	observability.Audit(r, "session.revoke", "user_id", claims.Subject, "family_id", familyID)
	response.JSON(w, r, http.StatusOK, map[string]string{"status": "revoked", "family_id": familyID})
}

// SecurityEvents lists the caller's own security events, newest first.
func (h *SessionHandler) SecurityEvents(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "missing access token", nil)
		return
	}
	q := r.URL.Query()
	page, err := parsePositiveInt(q.Get("page"))
	if err != nil {
		response.Error(w, r, http.StatusBadRequest, "BAD_REQUEST", "page must be a positive integer", nil)
		return
	}
	pageSize, err := parsePositiveInt(q.Get("page_size"))
	if err != nil {
		response.Error(w, r, http.StatusBadRequest, "BAD_REQUEST", "page_size must be a positive integer", nil)
		return
	}
	res, err := h.events.List(r.Context(), repository.SecurityEventQuery{
		PageRequest: repository.PageRequest{Page: page, PageSize: pageSize},
		UserID:      claims.Subject,
		EventType:   domain.SecurityEventType(strings.TrimSpace(q.Get("event_type"))),
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	response.Paged(w, r, res.Items, response.Pagination{
		Page:       res.Page,
		PageSize:   res.PageSize,
		Total:      res.Total,
		TotalPages: res.TotalPages,
	})
}

func parsePositiveInt(raw string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, strconv.ErrSyntax
	}
	return n, nil
}
