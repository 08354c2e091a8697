package handler

import (
	"net/http"

	"github.com/dandantas/studyrunner/internal/service"
)

// AdminHandler exposes operator actions
type AdminHandler struct {
	sweep *service.RecoverySweep
	auth  Authenticator
}

// NewAdminHandler creates a new admin handler
func NewAdminHandler(sweep *service.RecoverySweep, auth Authenticator) *AdminHandler {
	return &AdminHandler{sweep: sweep, auth: auth}
}

// Recover handles POST /api/v1/admin/recover?dry_run=true
func (h *AdminHandler) Recover(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	caller, ok := h.auth.callerOrReject(w, r)
	if !ok {
		return
	}
	if !caller.Admin {
		writeError(w, http.StatusForbidden, "recovery requires admin")
		return
	}

	report, err := h.sweep.Run(r.Context(), parseQueryBool(r, "dry_run"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}
