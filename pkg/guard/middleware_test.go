package guard

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/platinummonkey/gatekeeper/pkg/contextkeys"
	"github.com/platinummonkey/gatekeeper/pkg/quota"
	"github.com/platinummonkey/gatekeeper/pkg/rbac"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("reports"))
	})
}

func TestRequireModule(t *testing.T) {
	f := setup(t)
	handler := f.guard.RequireModule(rbac.ModuleReporting, "/home")(okHandler())

	tests := []struct {
		name     string
		actor    *rbac.Actor
		wantCode int
	}{
		{"owner", &rbac.Actor{UserID: "o", TenantID: "salon", Role: rbac.RoleOwner}, http.StatusOK},
		{"granted", &rbac.Actor{UserID: "m", TenantID: "salon", Role: rbac.RoleManager, Permissions: rbac.Permissions{rbac.ModuleReporting}}, http.StatusOK},
		{"not granted", &rbac.Actor{UserID: "s", TenantID: "salon", Role: rbac.RoleStaff, Permissions: rbac.Permissions{rbac.ModuleScheduling}}, http.StatusSeeOther},
		{"anonymous", nil, http.StatusSeeOther},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/reports", nil)
			if tt.actor != nil {
				req = req.WithContext(contextkeys.WithActor(req.Context(), tt.actor))
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			assert.Equal(t, tt.wantCode, rec.Code)
			if tt.wantCode == http.StatusSeeOther {
				assert.Equal(t, "/home", rec.Header().Get("Location"))
			}
		})
	}
}

func TestRequireModule_DefaultLanding(t *testing.T) {
	f := setup(t)
	handler := f.guard.RequireModule(rbac.ModuleFinancial, "")(okHandler())

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/finance", nil))
	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, DefaultLandingPath, rec.Header().Get("Location"))
}

func TestActorFromContext(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	assert.Nil(t, ActorFromContext(req.Context()))

	actor := &rbac.Actor{UserID: "u"}
	ctx := contextkeys.WithActor(req.Context(), actor)
	assert.Same(t, actor, ActorFromContext(ctx))

	// A wrongly typed value is ignored.
	ctx = contextkeys.WithActor(req.Context(), quota.KindAppointment)
	assert.Nil(t, ActorFromContext(ctx))
}
