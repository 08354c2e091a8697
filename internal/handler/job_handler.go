package handler

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/dandantas/studyrunner/internal/model"
	"github.com/dandantas/studyrunner/internal/progress"
	"github.com/dandantas/studyrunner/internal/service"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

const jobsPrefix = "/api/v1/jobs"

// JobHandler handles job CRUD, lifecycle actions, logs and the progress stream
type JobHandler struct {
	jobs *service.JobService
	hub  *progress.Hub
	auth Authenticator
}

// NewJobHandler creates a new job handler
func NewJobHandler(jobs *service.JobService, hub *progress.Hub, auth Authenticator) *JobHandler {
	return &JobHandler{
		jobs: jobs,
		hub:  hub,
		auth: auth,
	}
}

// CreateJobRequest is the body of POST /api/v1/jobs. OwnerID is honored for admins only.
type CreateJobRequest struct {
	OwnerID string `json:"owner_id,omitempty"`
	model.JobScope
}

// JobListResponse represents the list response
type JobListResponse struct {
	Total   int64               `json:"total"`
	Page    int                 `json:"page"`
	Limit   int                 `json:"limit"`
	Results []model.JobListItem `json:"results"`
}

// LogsResponse represents the job log response
type LogsResponse struct {
	JobID   string              `json:"job_id"`
	Count   int                 `json:"count"`
	Entries []model.JobLogEntry `json:"entries"`
}

// Create handles POST /api/v1/jobs
func (h *JobHandler) Create(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.auth.callerOrReject(w, r)
	if !ok {
		return
	}

	var req CreateJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	owner := caller.UserID
	if req.OwnerID != "" {
		id, err := parseID(req.OwnerID)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if id != caller.UserID && !caller.Admin {
			writeError(w, http.StatusForbidden, "cannot create jobs for another user")
			return
		}
		owner = id
	}
	if owner.IsZero() {
		writeError(w, http.StatusBadRequest, "owner_id is required")
		return
	}

	job, err := h.jobs.Create(r.Context(), owner, req.JobScope)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, job)
}

// List handles GET /api/v1/jobs
func (h *JobHandler) List(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.auth.callerOrReject(w, r)
	if !ok {
		return
	}

	var statuses []model.JobStatus
	if raw := r.URL.Query().Get("status"); raw != "" {
		for _, s := range strings.Split(raw, ",") {
			statuses = append(statuses, model.JobStatus(strings.TrimSpace(s)))
		}
	}
	page := parseQueryInt(r, "page", 1)
	limit := parseQueryInt(r, "limit", 20)
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 20
	}

	items, total, err := h.jobs.List(r.Context(), caller, statuses, page, limit)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, JobListResponse{
		Total:   total,
		Page:    page,
		Limit:   limit,
		Results: items,
	})
}

// Get handles GET /api/v1/jobs/{id}
func (h *JobHandler) Get(w http.ResponseWriter, r *http.Request, caller service.Caller, id primitive.ObjectID) {
	job, err := h.jobs.Get(r.Context(), caller, id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// Update handles PUT /api/v1/jobs/{id}
func (h *JobHandler) Update(w http.ResponseWriter, r *http.Request, caller service.Caller, id primitive.ObjectID) {
	var scope model.JobScope
	if err := json.NewDecoder(r.Body).Decode(&scope); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	job, err := h.jobs.Update(r.Context(), caller, id, scope)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// Delete handles DELETE /api/v1/jobs/{id}
func (h *JobHandler) Delete(w http.ResponseWriter, r *http.Request, caller service.Caller, id primitive.ObjectID) {
	if err := h.jobs.Delete(r.Context(), caller, id); err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, MessageResponse{Message: "Job deleted successfully"})
}

// Action handles POST /api/v1/jobs/{id}/{start|pause|resume|cancel|retry}
func (h *JobHandler) Action(w http.ResponseWriter, r *http.Request, caller service.Caller, id primitive.ObjectID, action string) {
	var (
		job *model.Job
		err error
	)

	ctx := r.Context()
	switch action {
	case "start":
		job, err = h.jobs.Start(ctx, caller, id)
	case "pause":
		job, err = h.jobs.Pause(ctx, caller, id)
	case "resume":
		job, err = h.jobs.Resume(ctx, caller, id)
	case "cancel":
		job, err = h.jobs.Cancel(ctx, caller, id)
	case "retry":
		job, err = h.jobs.Retry(ctx, caller, id)
	default:
		writeError(w, http.StatusNotFound, "Endpoint not found")
		return
	}
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, job)
}

// Logs handles GET /api/v1/jobs/{id}/logs
func (h *JobHandler) Logs(w http.ResponseWriter, r *http.Request, caller service.Caller, id primitive.ObjectID) {
	entries, err := h.jobs.Logs(r.Context(), caller, id, parseQueryInt(r, "limit", model.DefaultLogLimit))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, LogsResponse{
		JobID:   id.Hex(),
		Count:   len(entries),
		Entries: entries,
	})
}

// Stream handles GET /api/v1/jobs/{id}/stream as server-sent events
func (h *JobHandler) Stream(w http.ResponseWriter, r *http.Request, caller service.Caller, id primitive.ObjectID) {
	if _, err := h.jobs.Get(r.Context(), caller, id); err != nil {
		writeServiceError(w, r, err)
		return
	}

	sub := h.hub.Subscribe(id.Hex())
	h.hub.ServeSSE(w, r, sub)
}

// route dispatches /api/v1/jobs/{id}[/{action}]
func (h *JobHandler) route(w http.ResponseWriter, r *http.Request) {
	segments := pathSegments(r, jobsPrefix)
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

	if len(segments) == 1 {
		switch r.Method {
		case http.MethodGet:
			h.Get(w, r, caller, id)
		case http.MethodPut:
			h.Update(w, r, caller, id)
		case http.MethodDelete:
			h.Delete(w, r, caller, id)
		default:
			writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
		return
	}

	switch sub := segments[1]; sub {
	case "logs":
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
			return
		}
		h.Logs(w, r, caller, id)
	case "stream":
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
			return
		}
		h.Stream(w, r, caller, id)
	default:
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
			return
		}
		h.Action(w, r, caller, id, sub)
	}
}
