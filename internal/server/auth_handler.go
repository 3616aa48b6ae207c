package server

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/jonathan/publication-pipeline/internal/config"
)

// TokenRequest is the body of POST /api/auth/token.
type TokenRequest struct {
	Password string `json:"password" validate:"required,max=256"`
}

// TokenResponse is returned for a valid admin password.
type TokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// AuthHandler exchanges the admin password for a bearer token.
type AuthHandler struct {
	passwords    *config.PasswordConfig
	passwordHash string
	jwtService   *JWTService
	validator    *validator.Validate
}

// NewAuthHandler creates a new AuthHandler. A nil jwtService or an empty
// passwordHash disables token issuing.
func NewAuthHandler(passwords *config.PasswordConfig, passwordHash string, jwtService *JWTService) *AuthHandler {
	return &AuthHandler{
		passwords:    passwords,
		passwordHash: passwordHash,
		jwtService:   jwtService,
		validator:    validator.New(),
	}
}

// Enabled reports whether admin tokens can be issued.
func (h *AuthHandler) Enabled() error {
	switch {
	case h.jwtService == nil:
		return &ErrAdminDisabled{Reason: "no JWT secret configured"}
	case h.passwordHash == "" || h.passwords == nil:
		return &ErrAdminDisabled{Reason: "no admin password hash configured"}
	}
	return nil
}

// Token handles admin login requests.
func (h *AuthHandler) Token(w http.ResponseWriter, r *http.Request) {
	if err := h.Enabled(); err != nil {
		writeError(w, HTTPStatus(err), err.Error())
		return
	}

	var req TokenRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4096)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, extractValidationErrors(err))
		return
	}

	if !h.passwords.VerifyPassword(req.Password, h.passwordHash) {
		slog.Warn("admin login rejected", "remote", r.RemoteAddr)
		err := &ErrInvalidCredentials{}
		writeError(w, HTTPStatus(err), err.Error())
		return
	}

	token, expiresAt, err := h.jwtService.GenerateToken(AdminSubject)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to generate token")
		return
	}

	slog.Info("admin token issued", "remote", r.RemoteAddr, "expires_at", expiresAt)
	writeJSON(w, http.StatusOK, TokenResponse{Token: token, ExpiresAt: expiresAt})
}

// extractValidationErrors extracts validation error messages from validator errors.
func extractValidationErrors(err error) string {
	if validationErrors, ok := err.(validator.ValidationErrors); ok {
		if len(validationErrors) > 0 {
			// Return first validation error for simplicity
			ve := validationErrors[0]
			return fmt.Sprintf("validation error: %s - %s", ve.Field(), ve.Tag())
		}
	}
	return "validation error: invalid request"
}
