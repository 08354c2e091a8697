package handler

import (
	"encoding/json"
	"net/http"

	"github.com/dandantas/studyrunner/internal/model"
	"github.com/dandantas/studyrunner/internal/service"
)

const usersPrefix = "/api/v1/users"

// UserHandler handles user registration and settings
type UserHandler struct {
	users *service.UserService
	auth  Authenticator
}

// NewUserHandler creates a new user handler
func NewUserHandler(users *service.UserService, auth Authenticator) *UserHandler {
	return &UserHandler{users: users, auth: auth}
}

// UserListResponse represents the list response
type UserListResponse struct {
	Total   int64        `json:"total"`
	Page    int          `json:"page"`
	Limit   int          `json:"limit"`
	Results []model.User `json:"results"`
}

// Create handles POST /api/v1/users (admin)
func (h *UserHandler) Create(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.auth.callerOrReject(w, r)
	if !ok {
		return
	}
	if !caller.Admin {
		writeError(w, http.StatusForbidden, "creating users requires admin")
		return
	}

	var req service.CreateUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	user, err := h.users.Create(r.Context(), req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, user)
}

// List handles GET /api/v1/users (admin)
func (h *UserHandler) List(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.auth.callerOrReject(w, r)
	if !ok {
		return
	}

	page := parseQueryInt(r, "page", 1)
	limit := parseQueryInt(r, "limit", 20)
	users, total, err := h.users.List(r.Context(), caller, page, limit)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, UserListResponse{
		Total:   total,
		Page:    page,
		Limit:   limit,
		Results: users,
	})
}

// route dispatches /api/v1/users/{id}[/deactivate]
func (h *UserHandler) route(w http.ResponseWriter, r *http.Request) {
	segments := pathSegments(r, usersPrefix)
	if len(segments) == 0 || len(segments) > 2 {
		writeError(w, http.StatusNotFound, "Endpoint not found")
		return
	}

	id, err := parseID(segments[0])
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	caller, ok := h.auth.callerOrReject(w, r)
	if !ok {
		return
	}

	if len(segments) == 2 {
		if segments[1] != "deactivate" {
			writeError(w, http.StatusNotFound, "Endpoint not found")
			return
		}
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
			return
		}
		user, err := h.users.Deactivate(r.Context(), caller, id)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, user)
		return
	}

	switch r.Method {
	case http.MethodGet:
		user, err := h.users.Get(r.Context(), caller, id)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, user)
	case http.MethodPut:
		var req service.UpdateUserRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
			return
		}
		user, err := h.users.Update(r.Context(), caller, id, req)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, user)
	default:
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}
