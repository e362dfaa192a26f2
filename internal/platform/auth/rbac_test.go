package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/habms/habms/internal/platform/session"
)

func TestRequireRole(t *testing.T) {
	tests := []struct {
		name    string
		role    session.Role
		allowed bool
	}{
		{"admin allowed", session.RoleAdmin, true},
		{"patient denied", session.RolePatient, false},
		{"anonymous denied", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := echo.New()
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			ctx := context.Background()
			if tt.role != "" {
				ctx = WithUser(ctx, "someone", tt.role)
			}
			req = req.WithContext(ctx)
			rec := httptest.NewRecorder()
			c := e.NewContext(req, rec)

			err := RequireRole(session.RoleAdmin)(func(c echo.Context) error {
				return c.NoContent(http.StatusOK)
			})(c)

			if tt.allowed {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			httpErr, ok := err.(*echo.HTTPError)
			if !ok || httpErr.Code != http.StatusForbidden {
				t.Fatalf("expected 403, got %v", err)
			}
		})
	}
}
