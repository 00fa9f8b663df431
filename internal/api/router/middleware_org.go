package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/wolfman30/clinic-reminders/internal/tenancy"
)

// scopeOrg validates the {orgID} path parameter and stores it in the request context.
func scopeOrg(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		orgID := chi.URLParam(r, "orgID")
		if !tenancy.ValidOrgID(orgID) {
			http.Error(w, "invalid organization id", http.StatusBadRequest)
			return
		}
		next.ServeHTTP(w, r.WithContext(tenancy.WithOrgID(r.Context(), orgID)))
	})
}
