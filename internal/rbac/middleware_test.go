package rbac

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"callswitch/internal/auth"

	"github.com/gin-gonic/gin"
)

func doRequest(t *testing.T, role string, mw gin.HandlerFunc) int {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		if role != "" {
			c.Request = c.Request.WithContext(auth.WithIdentity(c.Request.Context(), "2001", role))
		}
		c.Next()
	})
	r.Use(mw)
	r.GET("/x", func(c *gin.Context) { c.JSON(200, gin.H{"ok": true}) })

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	r.ServeHTTP(w, req)
	return w.Code
}

func TestRequireAnyRoleAllowsListedRole(t *testing.T) {
	if code := doRequest(t, RoleOperator, RequireAnyRole(RoleOperator, RoleSupervisor)); code != 200 {
		t.Fatalf("status = %d, want 200", code)
	}
}

func TestRequireAnyRoleAdminBypasses(t *testing.T) {
	if code := doRequest(t, RoleAdmin, RequireAnyRole(RoleSupervisor)); code != 200 {
		t.Fatalf("status = %d, want 200", code)
	}
}

func TestRequireAnyRoleRejectsUnlistedRole(t *testing.T) {
	if code := doRequest(t, RoleOperator, RequireAnyRole(RoleSupervisor)); code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", code)
	}
}

func TestRequireAnyRoleRejectsMissingRole(t *testing.T) {
	if code := doRequest(t, "", RequireAnyRole(RoleOperator)); code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", code)
	}
}
