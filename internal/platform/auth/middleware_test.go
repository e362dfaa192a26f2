package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"

	"github.com/habms/habms/internal/platform/session"
)

var testSigningKey = []byte("test-secret-key-for-unit-tests-only")

func newTestIssuer() *TokenIssuer {
	return NewTokenIssuer(testSigningKey, time.Hour)
}

func runMiddleware(t *testing.T, issuer *TokenIssuer, header string) (*httptest.ResponseRecorder, echo.Context, error) {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	var seen echo.Context
	handler := func(c echo.Context) error {
		seen = c
		return c.String(http.StatusOK, "ok")
	}
	err := JWTMiddleware(issuer)(handler)(c)
	return rec, seen, err
}

func expectStatus(t *testing.T, err error, code int) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected HTTP %d, got nil error", code)
	}
	httpErr, ok := err.(*echo.HTTPError)
	if !ok {
		t.Fatalf("expected echo.HTTPError, got %T", err)
	}
	if httpErr.Code != code {
		t.Errorf("expected %d, got %d", code, httpErr.Code)
	}
}

func TestJWTMiddleware_MissingHeader(t *testing.T) {
	_, _, err := runMiddleware(t, newTestIssuer(), "")
	expectStatus(t, err, http.StatusUnauthorized)
}

func TestJWTMiddleware_InvalidFormat(t *testing.T) {
	tests := []struct {
		name   string
		header string
	}{
		{"no bearer prefix", "Token abc123"},
		{"missing token", "Bearer"},
		{"empty value", "Bearer "},
		{"basic auth", "Basic dXNlcjpwYXNz"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := runMiddleware(t, newTestIssuer(), tt.header)
			expectStatus(t, err, http.StatusUnauthorized)
		})
	}
}

func TestJWTMiddleware_ValidToken(t *testing.T) {
	issuer := newTestIssuer()
	token, _, err := issuer.Issue("root", session.RoleAdmin)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	rec, c, err := runMiddleware(t, issuer, "Bearer "+token)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	ctx := c.Request().Context()
	if UserIDFromContext(ctx) != "root" {
		t.Errorf("expected user root, got %q", UserIDFromContext(ctx))
	}
	if RoleFromContext(ctx) != session.RoleAdmin {
		t.Errorf("expected ADMIN, got %q", RoleFromContext(ctx))
	}
}

func TestJWTMiddleware_WrongKey(t *testing.T) {
	other := NewTokenIssuer([]byte("a-completely-different-signing-key"), time.Hour)
	token, _, err := other.Issue("mallory", session.RoleAdmin)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	_, _, err = runMiddleware(t, newTestIssuer(), "Bearer "+token)
	expectStatus(t, err, http.StatusUnauthorized)
}

func TestTokenIssuer_Expired(t *testing.T) {
	issuer := newTestIssuer()
	issuer.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	token, _, err := issuer.Issue("alice", session.RolePatient)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	issuer.now = time.Now
	if _, err := issuer.Parse(token); err != ErrInvalidToken {
		t.Errorf("expected ErrInvalidToken for expired token, got %v", err)
	}
}

func TestTokenIssuer_RejectsForeignClaims(t *testing.T) {
	tests := []struct {
		name   string
		claims Claims
		method jwt.SigningMethod
	}{
		{"wrong issuer", Claims{RegisteredClaims: jwt.RegisteredClaims{Issuer: "other", Subject: "x", ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))}, Role: session.RolePatient}, jwt.SigningMethodHS256},
		{"unknown role", Claims{RegisteredClaims: jwt.RegisteredClaims{Issuer: tokenIssuer, Subject: "x", ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))}, Role: "DOCTOR"}, jwt.SigningMethodHS256},
		{"no subject", Claims{RegisteredClaims: jwt.RegisteredClaims{Issuer: tokenIssuer, ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))}, Role: session.RoleAdmin}, jwt.SigningMethodHS256},
		{"hs512", Claims{RegisteredClaims: jwt.RegisteredClaims{Issuer: tokenIssuer, Subject: "x", ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))}, Role: session.RoleAdmin}, jwt.SigningMethodHS512},
	}

	issuer := newTestIssuer()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			signed, err := jwt.NewWithClaims(tt.method, tt.claims).SignedString(testSigningKey)
			if err != nil {
				t.Fatalf("sign: %v", err)
			}
			if _, err := issuer.Parse(signed); err != ErrInvalidToken {
				t.Errorf("expected ErrInvalidToken, got %v", err)
			}
		})
	}
}

func TestSigningKey(t *testing.T) {
	random, err := SigningKey("")
	if err != nil || len(random) != 32 {
		t.Fatalf("expected random 32-byte key, got %d bytes, err %v", len(random), err)
	}

	key, err := SigningKey("00ff")
	if err != nil || len(key) != 2 || key[1] != 0xff {
		t.Fatalf("unexpected decode result %x, %v", key, err)
	}

	if _, err := SigningKey("zz"); err == nil {
		t.Error("expected error for non-hex key")
	}
}
