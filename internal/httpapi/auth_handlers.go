package httpapi

import (
	"errors"
	"net/http"
	"time"

	"volunteersync.org/internal/audit"
	"volunteersync.org/internal/auth"
	"volunteersync.org/internal/registry"
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	Message           string `json:"message"`
	Email             string `json:"email"`
	RequiresTwoFactor bool   `json:"requiresTwoFactor"`
}

type verifyTwoFactorRequest struct {
	Email string `json:"email"`
	Code  string `json:"code"`
}

type sessionResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type forgotPasswordRequest struct {
	Email string `json:"email"`
}

type resetPasswordRequest struct {
	Token       string `json:"token"`
	NewPassword string `json:"newPassword"`
}

type registerRequest struct {
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Email     string `json:"email"`
	Phone     string `json:"phone"`
	Password  string `json:"password"`
	VillageID int64  `json:"villageId"`
}

type messageResponse struct {
	Message string `json:"message"`
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	challenge, err := a.auth.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			a.record(r, audit.LoginRejected, map[string]any{"email": auth.NormalizeEmail(req.Email)})
		}
		a.writeServiceError(w, r, err)
		return
	}
	a.record(r, audit.LoginChallenged, map[string]any{"email": challenge.Email})
	writeJSON(w, http.StatusOK, loginResponse{
		Message:           "2FA code sent to your email",
		Email:             challenge.Email,
		RequiresTwoFactor: challenge.RequiresTwoFactor,
	})
}

func (a *API) handleVerifyTwoFactor(w http.ResponseWriter, r *http.Request) {
	var req verifyTwoFactorRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	session, err := a.auth.VerifyTwoFactor(r.Context(), req.Email, req.Code)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidOrExpiredCode) {
			a.record(r, audit.SecondFactorFailed, map[string]any{"email": auth.NormalizeEmail(req.Email)})
		}
		a.writeServiceError(w, r, err)
		return
	}
	a.record(r, audit.SessionIssued, map[string]any{
		"email":      auth.NormalizeEmail(req.Email),
		"expires_at": session.ExpiresAt.UTC().Format(time.RFC3339),
	})
	writeJSON(w, http.StatusOK, sessionResponse{Token: session.Token, ExpiresAt: session.ExpiresAt.UTC()})
}

func (a *API) handleForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req forgotPasswordRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := a.auth.ForgotPassword(r.Context(), req.Email); err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	a.record(r, audit.ResetRequested, map[string]any{"email": auth.NormalizeEmail(req.Email)})
	writeJSON(w, http.StatusOK, messageResponse{Message: "Password reset email sent"})
}

func (a *API) handleResetPassword(w http.ResponseWriter, r *http.Request) {
	var req resetPasswordRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := a.auth.ResetPassword(r.Context(), req.Token, req.NewPassword); err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	a.record(r, audit.PasswordReset, nil)
	writeJSON(w, http.StatusOK, messageResponse{Message: "Password reset successful"})
}

func (a *API) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	v, err := a.registry.RegisterVolunteer(r.Context(), registry.Registration{
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Email:     req.Email,
		Phone:     req.Phone,
		Password:  req.Password,
		VillageID: req.VillageID,
	})
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	a.record(r, audit.VolunteerRegistered, map[string]any{"volunteer_id": v.ID, "village_id": v.VillageID})
	w.Header().Set("Location", volunteerPath(v.ID))
	writeJSON(w, http.StatusCreated, v)
}

func (a *API) handleMe(w http.ResponseWriter, r *http.Request) {
	principal, _ := auth.PrincipalFromContext(r.Context())
	identity, err := a.auth.Me(r.Context(), principal.Email)
	if errors.Is(err, auth.ErrNotFound) {
		writeError(w, r, http.StatusNotFound, "account no longer exists")
		return
	}
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	v, err := a.registry.Volunteer(r.Context(), identity.ID)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

// handleLogout is stateless: tokens are not tracked server side, the client
// discards its copy.
func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	a.record(r, audit.Logout, nil)
	writeJSON(w, http.StatusOK, messageResponse{Message: "Logged out successfully"})
}
