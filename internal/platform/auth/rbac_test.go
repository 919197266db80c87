package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func runRequireRole(t *testing.T, have []string, required ...string) error {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req = req.WithContext(WithIdentity(context.Background(), "u1", have))
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	return RequireRole(required...)(okHandler)(c)
}

func TestRequireRole_Allowed(t *testing.T) {
	if err := runRequireRole(t, []string{RoleSafetyOfficer}, RoleSafetyOfficer); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestRequireRole_AdminGrantsAll(t *testing.T) {
	if err := runRequireRole(t, []string{RoleAdmin}, RoleSafetyOfficer); err != nil {
		t.Fatalf("admin should pass: %v", err)
	}
}

func TestRequireRole_Forbidden(t *testing.T) {
	err := runRequireRole(t, []string{RoleRuleAuthor}, RoleSafetyOfficer)
	expectStatus(t, err, http.StatusForbidden)
}

func TestRequireRole_NoRoles(t *testing.T) {
	err := runRequireRole(t, nil, RoleClinician, RoleSafetyOfficer)
	expectStatus(t, err, http.StatusForbidden)
}
