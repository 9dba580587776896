package httpapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"unityplan.org/internal/audit"
	"unityplan.org/internal/invite"
	"unityplan.org/internal/tenant"
)

type invitationCreateRequest struct {
	TokenType     string `json:"token_type"`
	Email         string `json:"email,omitempty"`
	MaxUses       int    `json:"max_uses"`
	ExpiresInDays int    `json:"expires_in_days,omitempty"`
}

type invitationView struct {
	ID            string     `json:"id"`
	Token         string     `json:"token"`
	TokenType     string     `json:"token_type"`
	InvitedEmail  string     `json:"invited_email,omitempty"`
	MaxUses       int        `json:"max_uses"`
	CurrentUses   int        `json:"current_uses"`
	RemainingUses int        `json:"remaining_uses"`
	Active        bool       `json:"is_active"`
	ExpiresAt     time.Time  `json:"expires_at"`
	RevokedAt     *time.Time `json:"revoked_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

type invitationUseView struct {
	ID        string    `json:"id"`
	UsedBy    string    `json:"used_by_user_id"`
	UsedAt    time.Time `json:"used_at"`
	IPAddress string    `json:"ip_address,omitempty"`
	UserAgent string    `json:"user_agent,omitempty"`
}

func viewInvitation(t *invite.Token) invitationView {
	return invitationView{
		ID:            t.ID,
		Token:         t.Token,
		TokenType:     string(t.Type),
		InvitedEmail:  t.InvitedEmail,
		MaxUses:       t.MaxUses,
		CurrentUses:   t.CurrentUses,
		RemainingUses: t.RemainingUses(),
		Active:        t.Active,
		ExpiresAt:     t.ExpiresAt,
		RevokedAt:     t.RevokedAt,
		CreatedAt:     t.CreatedAt,
	}
}

func (a *API) handleInvitationCreate(w http.ResponseWriter, r *http.Request) {
	id, ok := callerIdentity(w, r)
	if !ok {
		return
	}

	var req invitationCreateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	tok, err := a.svc.Invitations().Create(r.Context(), id.TerritoryCode, invite.CreateInput{
		Type:          invite.TokenType(req.TokenType),
		Email:         req.Email,
		MaxUses:       req.MaxUses,
		ExpiresInDays: req.ExpiresInDays,
		CreatedBy:     id.UserID,
	})
	if err != nil {
		handleInvitationError(w, r, err)
		return
	}

	_ = audit.LogEvent(r.Context(), "invite.created", map[string]any{
		"token_id":   tok.ID,
		"token_type": string(tok.Type),
		"max_uses":   tok.MaxUses,
	})

	writeJSON(w, http.StatusCreated, viewInvitation(tok))
}

func (a *API) handleInvitationList(w http.ResponseWriter, r *http.Request) {
	id, ok := callerIdentity(w, r)
	if !ok {
		return
	}

	tokens, err := a.svc.Invitations().List(r.Context(), id.TerritoryCode, id.UserID)
	if err != nil {
		handleInvitationError(w, r, err)
		return
	}

	views := make([]invitationView, 0, len(tokens))
	for _, t := range tokens {
		views = append(views, viewInvitation(t))
	}
	writeJSON(w, http.StatusOK, map[string]any{"invitations": views})
}

func (a *API) handleInvitationRevoke(w http.ResponseWriter, r *http.Request) {
	id, ok := callerIdentity(w, r)
	if !ok {
		return
	}
	tokenID := r.PathValue("id")
	if tokenID == "" {
		writeError(w, r, http.StatusBadRequest, "invitation id is required")
		return
	}

	if err := a.svc.Invitations().Revoke(r.Context(), id.TerritoryCode, tokenID, id.UserID); err != nil {
		handleInvitationError(w, r, err)
		return
	}

	_ = audit.LogEvent(r.Context(), "invite.revoked", map[string]any{"token_id": tokenID})
	writeJSON(w, http.StatusOK, map[string]any{"status": "revoked"})
}

func (a *API) handleInvitationUses(w http.ResponseWriter, r *http.Request) {
	id, ok := callerIdentity(w, r)
	if !ok {
		return
	}
	tokenID := r.PathValue("id")
	if tokenID == "" {
		writeError(w, r, http.StatusBadRequest, "invitation id is required")
		return
	}

	uses, err := a.svc.Invitations().Usage(r.Context(), id.TerritoryCode, tokenID)
	if err != nil {
		handleInvitationError(w, r, err)
		return
	}

	views := make([]invitationUseView, 0, len(uses))
	for _, u := range uses {
		views = append(views, invitationUseView{
			ID:        u.ID,
			UsedBy:    u.UsedBy,
			UsedAt:    u.UsedAt,
			IPAddress: u.IPAddress,
			UserAgent: u.UserAgent,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"uses": views})
}

// handleInvitationValidate is the unauthenticated pre-registration check.
// It never mutates the token: callers can check as often as they like.
func (a *API) handleInvitationValidate(w http.ResponseWriter, r *http.Request) {
	token := strings.TrimSpace(r.URL.Query().Get("token"))
	territoryCode := r.URL.Query().Get("territory_code")
	email := r.URL.Query().Get("email")
	if token == "" {
		writeError(w, r, http.StatusBadRequest, "token is required")
		return
	}

	territory, err := a.svc.ResolveTerritory(r.Context(), territoryCode)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "unknown territory")
		return
	}

	tok, err := a.svc.Invitations().Validate(r.Context(), territory, token, email)
	if err != nil {
		if invite.IsRejection(err) {
			writeJSON(w, http.StatusOK, map[string]any{
				"valid":  false,
				"reason": err.Error(),
			})
			return
		}
		handleInvitationError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"valid":          true,
		"token_type":     string(tok.Type),
		"email":          tok.InvitedEmail,
		"expires_at":     tok.ExpiresAt,
		"remaining_uses": tok.RemainingUses(),
	})
}

func handleInvitationError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, invite.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case invite.IsRejection(err):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, tenant.ErrUnknownTerritory):
		writeError(w, r, http.StatusBadRequest, "unknown territory")
	case errors.Is(err, invite.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "not found")
	default:
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}
