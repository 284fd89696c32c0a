package authz

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stanstork/formvault-api/internal/models"
	"github.com/stretchr/testify/assert"
)

func TestRequireRole(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	h := RequireRole(models.RoleAdmin)(ok)

	cases := []struct {
		name  string
		roles []models.UserRole
		want  int
	}{
		{"admin", []models.UserRole{models.RoleAdmin}, http.StatusNoContent},
		{"mixed case admin", []models.UserRole{" Admin "}, http.StatusNoContent},
		{"editor", []models.UserRole{models.RoleEditor}, http.StatusForbidden},
		{"unknown", []models.UserRole{"root"}, http.StatusForbidden},
		{"none", nil, http.StatusForbidden},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/exports", nil)
			req = req.WithContext(WithIdentity(req.Context(), "u1", tc.roles))
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, tc.want, rec.Code)
		})
	}
}
