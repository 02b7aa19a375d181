package handlers

import (
	"net/http"
	"testing"

	"github.com/deskbridge/deskbridge/internal/middleware"
	"github.com/deskbridge/deskbridge/internal/testhelpers"
)

func newTestAuth(t *testing.T) (*AuthHandler, *middleware.JWTAuthMiddleware) {
	t.Helper()
	hash, err := middleware.HashPassword("correct-horse")
	if err != nil {
		t.Fatalf("hash failed: %v", err)
	}
	jwtAuth := middleware.NewJWTAuthMiddleware(&middleware.JWTAuthConfig{
		Enabled:           true,
		AdminUsername:     "admin",
		AdminPasswordHash: hash,
		JWTSecret:         "test-secret",
		JWTExpiryHours:    1,
	})
	return NewAuthHandler(jwtAuth), jwtAuth
}

func TestHandleLogin(t *testing.T) {
	handler, jwtAuth := newTestAuth(t)

	var resp LoginResponse
	testhelpers.NewHTTPTestContext(t, http.MethodPost, "/auth/login", nil).
		WithJSONBody(LoginRequest{Username: "admin", Password: "correct-horse"}).
		ExecuteFunc(handler.HandleLogin).
		AssertStatus(http.StatusOK).
		DecodeJSON(&resp)

	if resp.Token == "" || resp.Username != "admin" {
		t.Errorf("response = %+v", resp)
	}

	claims, err := jwtAuth.ValidateToken(resp.Token)
	if err != nil {
		t.Fatalf("issued token did not validate: %v", err)
	}
	if claims.Username != "admin" {
		t.Errorf("claims = %+v", claims)
	}
}

func TestHandleLogin_WrongPassword(t *testing.T) {
	handler, _ := newTestAuth(t)

	testhelpers.NewHTTPTestContext(t, http.MethodPost, "/auth/login", nil).
		WithJSONBody(LoginRequest{Username: "admin", Password: "wrong"}).
		ExecuteFunc(handler.HandleLogin).
		AssertStatus(http.StatusUnauthorized)
}

func TestHandleLogin_MissingFields(t *testing.T) {
	handler, _ := newTestAuth(t)

	testhelpers.NewHTTPTestContext(t, http.MethodPost, "/auth/login", nil).
		WithJSONBody(LoginRequest{Username: "admin"}).
		ExecuteFunc(handler.HandleLogin).
		AssertStatus(http.StatusUnprocessableEntity)
}

func TestHandleVerify_WithoutContext(t *testing.T) {
	handler, _ := newTestAuth(t)

	testhelpers.NewHTTPTestContext(t, http.MethodGet, "/auth/verify", nil).
		ExecuteFunc(handler.HandleVerify).
		AssertStatus(http.StatusUnauthorized)
}
