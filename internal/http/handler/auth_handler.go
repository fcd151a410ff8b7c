package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/sandeepkv93/session-guard/internal/domain"
	"github.com/sandeepkv93/session-guard/internal/http/middleware"
	"github.com/sandeepkv93/session-guard/internal/http/response"
	"github.com/sandeepkv93/session-guard/internal/observability"
	"github.com/sandeepkv93/session-guard/internal/service"
)

type PasswordLogin interface {
	Login(ctx context.Context, email, password string, meta service.RequestMeta) (*service.LoginResult, error)
}

type ChallengeVerifier interface {
	VerifyChallenge(ctx context.Context, challengeToken, code string, meta service.RequestMeta) (*service.AuthResult, error)
}

type SessionRefresher interface {
	Refresh(ctx context.Context, presented string, meta service.RequestMeta) (*service.AuthResult, error)
}

type FamilyRevoker interface {
	RevokeForUser(ctx context.Context, userID, familyID string, reason domain.RevokeReason) error
}

type AuthHandler struct {
	login      PasswordLogin
	challenges ChallengeVerifier
	sessions   SessionRefresher
	families   FamilyRevoker
}

func NewAuthHandler(login PasswordLogin, challenges ChallengeVerifier, sessions SessionRefresher, families FamilyRevoker) *AuthHandler {
	return &AuthHandler{login: login, challenges: challenges, sessions: sessions, families: families}
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type totpVerifyRequest struct {
	ChallengeToken string `json:"challenge_token"`
	Code           string `json:"code"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	res, err := h.login.Login(r.Context(), req.Email, req.Password, requestMeta(r))
	if err != nil {
		observability.Audit(r, "auth.login.failed", "kind", service.KindOf(err).String())
		writeServiceError(w, r, err)
		return
	}
	if res.ChallengeRequired {
		observability.Audit(r, "auth.login.challenge_issued")
	} else {
		observability.Audit(r, "auth.login.succeeded", "user_id", res.Session.UserID, "family_id", res.Session.FamilyID)
	}
	response.JSON(w, r, http.StatusOK, res)
}

func (h *AuthHandler) VerifyTOTP(w http.ResponseWriter, r *http.Request) {
	var req totpVerifyRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.ChallengeToken) == "" {
		writeServiceError(w, r, service.ErrInvalidToken)
		return
	}
	res, err := h.challenges.VerifyChallenge(r.Context(), req.ChallengeToken, strings.TrimSpace(req.Code), requestMeta(r))
	if err != nil {
		observability.Audit(r, "auth.totp.failed", "kind", service.KindOf(err).String())
		writeServiceError(w, r, err)
		return
	}
	observability.Audit(r, "auth.totp.succeeded", "user_id", res.UserID, "family_id", res.FamilyID)
	response.JSON(w, r, http.StatusOK, res)
}

func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	res, err := h.sessions.Refresh(r.Context(), req.RefreshToken, requestMeta(r))
	if err != nil {
		observability.Audit(r, "auth.refresh.failed", "kind", service.KindOf(err).String())
		writeServiceError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, res)
}

// Logout revokes the family bound to the caller's access token.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "missing access token", nil)
		return
	}
	if err := h.families.RevokeForUser(r.Context(), claims.Subject, claims.FamilyID, domain.RevokeReasonUserLogout); err != nil {
		writeServiceError(w, r, err)
		return
	}
	observability.Audit(r, "auth.logout", "user_id", claims.Subject, "family_id", claims.FamilyID)
	response.JSON(w, r, http.StatusOK, map[string]string{"status": "logged_out"})
}
