package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/yourorg/identsync/internal/domain"
	"github.com/yourorg/identsync/internal/response"
	"github.com/yourorg/identsync/internal/service"
)

// FormHandler handles form schema endpoints
type FormHandler struct {
	forms  *service.FormService
	logger *slog.Logger
}

// NewFormHandler creates a new form handler
func NewFormHandler(forms *service.FormService, logger *slog.Logger) *FormHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &FormHandler{
		forms:  forms,
		logger: logger,
	}
}

// CreateFormRequest carries the fields for form creation.
type CreateFormRequest struct {
	Type    string          `json:"type"`
	SubType string          `json:"sub_type"`
	OrgID   int64           `json:"org_id"`
	Data    json.RawMessage `json:"data"`
}

// Create handles POST /api/forms
func (h *FormHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateFormRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, h.logger, response.ClientError(http.StatusBadRequest, "INVALID_REQUEST"))
		return
	}
	if req.Type == "" || req.OrgID == 0 {
		writeError(w, h.logger, response.ClientError(http.StatusBadRequest, "INVALID_REQUEST"))
		return
	}

	form, err := h.forms.Create(r.Context(), &domain.Form{
		Type:    req.Type,
		SubType: req.SubType,
		OrgID:   req.OrgID,
		Data:    req.Data,
	})
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	writeSuccess(w, http.StatusCreated, "FORM_CREATED", form)
}

// UpdateFormRequest carries the replacement form data.
type UpdateFormRequest struct {
	Data json.RawMessage `json:"data"`
}

// Update handles PUT /api/forms/{formID}
func (h *FormHandler) Update(w http.ResponseWriter, r *http.Request) {
	formID := pathID(r, "formID")
	orgID := queryID(r, "org_id")
	if formID == 0 || orgID == 0 {
		writeError(w, h.logger, response.ClientError(http.StatusBadRequest, "INVALID_REQUEST"))
		return
	}

	var req UpdateFormRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, h.logger, response.ClientError(http.StatusBadRequest, "INVALID_REQUEST"))
		return
	}

	form, err := h.forms.Update(r.Context(), domain.FormFilter{ID: formID, OrgID: orgID}, req.Data)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	writeSuccess(w, http.StatusOK, "FORM_UPDATED", form)
}

// Read handles GET /api/forms?org_id=&id= or ?org_id=&type=&sub_type=
func (h *FormHandler) Read(w http.ResponseWriter, r *http.Request) {
	filter := domain.FormFilter{
		ID:      queryID(r, "id"),
		Type:    r.URL.Query().Get("type"),
		SubType: r.URL.Query().Get("sub_type"),
		OrgID:   queryID(r, "org_id"),
	}
	if filter.OrgID == 0 || (filter.ID == 0 && filter.Type == "") {
		writeError(w, h.logger, response.ClientError(http.StatusBadRequest, "INVALID_REQUEST"))
		return
	}

	form, err := h.forms.Read(r.Context(), filter)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	writeSuccess(w, http.StatusOK, "FORM_FOUND", form)
}

// Versions handles GET /api/forms/versions?org_id=
func (h *FormHandler) Versions(w http.ResponseWriter, r *http.Request) {
	orgID := queryID(r, "org_id")
	if orgID == 0 {
		writeError(w, h.logger, response.ClientError(http.StatusBadRequest, "INVALID_REQUEST"))
		return
	}

	versions, err := h.forms.Versions(r.Context(), orgID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	writeSuccess(w, http.StatusOK, "FORM_VERSIONS_FOUND", versions)
}

func queryID(r *http.Request, name string) int64 {
	id, _ := strconv.ParseInt(r.URL.Query().Get(name), 10, 64)
	return id
}
