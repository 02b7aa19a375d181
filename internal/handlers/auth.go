package handlers

import (
	"log"
	"net/http"

	"github.com/deskbridge/deskbridge/internal/api"
	"github.com/deskbridge/deskbridge/internal/middleware"
)

// AuthHandler handles authentication endpoints
type AuthHandler struct {
	auth *middleware.JWTAuthMiddleware
}

// NewAuthHandler creates a new AuthHandler
func NewAuthHandler(auth *middleware.JWTAuthMiddleware) *AuthHandler {
	return &AuthHandler{auth: auth}
}

// LoginRequest is the login request payload
type LoginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

// LoginResponse is the login response payload
type LoginResponse struct {
	Token    string `json:"token"`
	Username string `json:"username"`
}

// HandleLogin handles POST /auth/login
func (h *AuthHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		api.RespondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	var req LoginRequest
	if err := api.DecodeJSON(r, &req); err != nil {
		api.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	if fieldErrors := api.Validate(req); fieldErrors != nil {
		api.RespondValidationError(w, fieldErrors)
		return
	}

	if !h.auth.ValidateCredentials(req.Username, req.Password) {
		log.Printf("AuthHandler: failed login attempt for user %q from %s", req.Username, r.RemoteAddr)
		api.RespondError(w, http.StatusUnauthorized, "Invalid username or password")
		return
	}

	token, err := h.auth.GenerateToken(req.Username)
	if err != nil {
		log.Printf("AuthHandler: token generation failed: %v", err)
		api.RespondError(w, http.StatusInternalServerError, "Failed to generate token")
		return
	}

	api.RespondJSON(w, http.StatusOK, LoginResponse{
		Token:    token,
		Username: req.Username,
	})
}

// HandleVerify handles GET /auth/verify
func (h *AuthHandler) HandleVerify(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		api.RespondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	username := middleware.GetUserFromContext(r.Context())
	if username == "" {
		api.RespondError(w, http.StatusUnauthorized, "Not authenticated")
		return
	}

	api.RespondJSON(w, http.StatusOK, map[string]string{
		"username": username,
		"status":   "valid",
	})
}
