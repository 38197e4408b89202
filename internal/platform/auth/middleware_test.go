package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

func okHandler(c echo.Context) error {
	return c.String(http.StatusOK, "ok")
}

func runMiddleware(t *testing.T, mw echo.MiddlewareFunc, header string) (echo.Context, error) {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/availability", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetPath("/api/v1/availability")
	var seen echo.Context
	err := mw(func(c echo.Context) error {
		seen = c
		return okHandler(c)
	})(c)
	return seen, err
}

func expectStatus(t *testing.T, err error, code int) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected error with status %d", code)
	}
	httpErr, ok := err.(*echo.HTTPError)
	if !ok {
		t.Fatalf("expected echo.HTTPError, got %T", err)
	}
	if httpErr.Code != code {
		t.Errorf("expected %d, got %d", code, httpErr.Code)
	}
}

func TestMiddleware_MissingHeader(t *testing.T) {
	v := newHMACVerifier(t, JWTConfig{})
	_, err := runMiddleware(t, Middleware(v, nil), "")
	expectStatus(t, err, http.StatusUnauthorized)
}

func TestMiddleware_InvalidFormat(t *testing.T) {
	v := newHMACVerifier(t, JWTConfig{})
	for _, header := range []string{"Token abc123", "Bearer", "Bearer ", "Basic dXNlcjpwYXNz"} {
		t.Run(header, func(t *testing.T) {
			_, err := runMiddleware(t, Middleware(v, nil), header)
			expectStatus(t, err, http.StatusUnauthorized)
		})
	}
}

func TestMiddleware_ValidTokenSetsIdentity(t *testing.T) {
	v := newHMACVerifier(t, JWTConfig{})
	token := createTestToken(t, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "c7d7e8a4-0c55-4f6c-a1f4-1f7b2a9d4e01",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Role: RoleProvider,
	}, testSigningKey)

	c, err := runMiddleware(t, Middleware(v, nil), "Bearer "+token)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	id, ok := IdentityFromContext(c.Request().Context())
	if !ok {
		t.Fatal("identity not set on request context")
	}
	if id.UserID != "c7d7e8a4-0c55-4f6c-a1f4-1f7b2a9d4e01" || id.Role != RoleProvider {
		t.Errorf("unexpected identity %+v", id)
	}
	if c.Get("user_id") != id.UserID {
		t.Errorf("expected user_id on echo context, got %v", c.Get("user_id"))
	}
}

func TestMiddleware_InvalidToken(t *testing.T) {
	v := newHMACVerifier(t, JWTConfig{})
	_, err := runMiddleware(t, Middleware(v, nil), "Bearer not.a.token")
	expectStatus(t, err, http.StatusUnauthorized)
}

func TestMiddleware_DevVerifierAllowsAnonymous(t *testing.T) {
	c, err := runMiddleware(t, Middleware(NewDevVerifier(), nil), "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	id, _ := IdentityFromContext(c.Request().Context())
	if id.Role != RoleAdmin {
		t.Errorf("expected admin, got %s", id.Role)
	}
}

func TestIdentityFromContext_Empty(t *testing.T) {
	if _, ok := IdentityFromContext(context.Background()); ok {
		t.Error("expected no identity on empty context")
	}
}
