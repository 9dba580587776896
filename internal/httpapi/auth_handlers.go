package httpapi

import (
	"errors"
	"net/http"
	"time"

	"unityplan.org/internal/audit"
	"unityplan.org/internal/auth"
	"unityplan.org/internal/invite"
	"unityplan.org/internal/obs"
	"unityplan.org/internal/tenant"
)

type registerRequest struct {
	TerritoryCode   string `json:"territory_code"`
	Username        string `json:"username"`
	Email           string `json:"email"`
	Password        string `json:"password"`
	FullName        string `json:"full_name"`
	DisplayName     string `json:"display_name"`
	InvitationToken string `json:"invitation_token"`
}

type loginRequest struct {
	TerritoryCode string `json:"territory_code"`
	Username      string `json:"username"`
	Password      string `json:"password"`
}

type refreshRequest struct {
	TerritoryCode string `json:"territory_code"`
	RefreshToken  string `json:"refresh_token"`
}

type logoutRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type userView struct {
	ID          string     `json:"id"`
	Username    string     `json:"username"`
	Email       string     `json:"email,omitempty"`
	FullName    string     `json:"full_name,omitempty"`
	DisplayName string     `json:"display_name,omitempty"`
	Verified    bool       `json:"is_verified"`
	Active      bool       `json:"is_active"`
	LastLoginAt *time.Time `json:"last_login_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

type sessionResponse struct {
	User         *userView `json:"user,omitempty"`
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresIn    int64     `json:"expires_in"`
}

func viewUser(u *auth.User) *userView {
	return &userView{
		ID:          u.ID,
		Username:    u.Username,
		Email:       u.Email,
		FullName:    u.FullName,
		DisplayName: u.DisplayName,
		Verified:    u.Verified,
		Active:      u.Active,
		LastLoginAt: u.LastLoginAt,
		CreatedAt:   u.CreatedAt,
	}
}

func (a *API) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	u, pair, err := a.svc.Register(r.Context(), auth.RegisterInput{
		Territory:       req.TerritoryCode,
		Username:        req.Username,
		Email:           req.Email,
		Password:        req.Password,
		FullName:        req.FullName,
		DisplayName:     req.DisplayName,
		InvitationToken: req.InvitationToken,
		Meta: invite.UseMetadata{
			IPAddress: clientIP(r),
			UserAgent: r.Header.Get("User-Agent"),
		},
	})
	obs.ObserveAuth("register", err == nil)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}

	_ = audit.LogEvent(r.Context(), "auth.register", map[string]any{
		"territory_code": req.TerritoryCode,
		"username":       u.Username,
		"user_id":        u.ID,
	})

	writeJSON(w, http.StatusCreated, sessionResponse{
		User:         viewUser(u),
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		ExpiresIn:    pair.ExpiresIn,
	})
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	u, pair, err := a.svc.Login(r.Context(), req.TerritoryCode, req.Username, req.Password)
	obs.ObserveAuth("login", err == nil)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}

	_ = audit.LogEvent(r.Context(), "auth.login", map[string]any{
		"territory_code": req.TerritoryCode,
		"username":       u.Username,
	})

	writeJSON(w, http.StatusOK, sessionResponse{
		User:         viewUser(u),
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		ExpiresIn:    pair.ExpiresIn,
	})
}

func (a *API) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	pair, err := a.svc.Refresh(r.Context(), req.TerritoryCode, req.RefreshToken)
	obs.ObserveAuth("refresh", err == nil)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, sessionResponse{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		ExpiresIn:    pair.ExpiresIn,
	})
}

func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	var req logoutRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	err := a.svc.Logout(r.Context(), req.RefreshToken)
	obs.ObserveAuth("logout", err == nil)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}

	_ = audit.LogEvent(r.Context(), "auth.logout", nil)
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (a *API) handleMe(w http.ResponseWriter, r *http.Request) {
	id, ok := callerIdentity(w, r)
	if !ok {
		return
	}
	u, err := a.svc.Profile(r.Context(), id)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"user":           viewUser(u),
		"territory_code": id.TerritoryCode,
		"fingerprint":    id.Fingerprint,
	})
}

// handleAuthError maps the service error taxonomy onto HTTP status codes.
func handleAuthError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, auth.ErrInvalidInput), errors.Is(err, invite.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case invite.IsRejection(err):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, tenant.ErrUnknownTerritory):
		writeError(w, r, http.StatusBadRequest, "unknown territory")
	case errors.Is(err, auth.ErrUnauthorized), errors.Is(err, auth.ErrInvalidToken):
		writeError(w, r, http.StatusUnauthorized, "unauthorized")
	case errors.Is(err, auth.ErrUsernameTaken), errors.Is(err, auth.ErrEmailTaken):
		writeError(w, r, http.StatusConflict, err.Error())
	case errors.Is(err, auth.ErrNotFound), errors.Is(err, invite.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "not found")
	default:
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}
