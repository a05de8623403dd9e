package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/yourorg/identsync/internal/response"
	"github.com/yourorg/identsync/internal/service"
)

// OrganizationHandler handles organization CRUD endpoints
type OrganizationHandler struct {
	organizations *service.OrganizationService
	logger        *slog.Logger
}

// NewOrganizationHandler creates a new organization handler
func NewOrganizationHandler(organizations *service.OrganizationService, logger *slog.Logger) *OrganizationHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &OrganizationHandler{
		organizations: organizations,
		logger:        logger,
	}
}

// Create handles POST /api/organizations
func (h *OrganizationHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req service.CreateOrganizationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, h.logger, response.ClientError(http.StatusBadRequest, "INVALID_REQUEST"))
		return
	}
	if req.Name == "" || req.Code == "" {
		writeError(w, h.logger, response.ClientError(http.StatusBadRequest, "INVALID_REQUEST"))
		return
	}

	org, err := h.organizations.Create(r.Context(), req, actorID(r))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	writeSuccess(w, http.StatusCreated, "ORGANIZATION_CREATED", org)
}

// Update handles PUT /api/organizations/{orgID}
func (h *OrganizationHandler) Update(w http.ResponseWriter, r *http.Request) {
	orgID := pathID(r, "orgID")
	if orgID == 0 {
		writeError(w, h.logger, response.ClientError(http.StatusBadRequest, "INVALID_REQUEST"))
		return
	}

	var req service.UpdateOrganizationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, h.logger, response.ClientError(http.StatusBadRequest, "INVALID_REQUEST"))
		return
	}

	org, err := h.organizations.Update(r.Context(), orgID, req, actorID(r))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	writeSuccess(w, http.StatusOK, "ORGANIZATION_UPDATED", org)
}

// Read handles GET /api/organizations/{orgID}
func (h *OrganizationHandler) Read(w http.ResponseWriter, r *http.Request) {
	orgID := pathID(r, "orgID")
	if orgID == 0 {
		writeError(w, h.logger, response.ClientError(http.StatusBadRequest, "INVALID_REQUEST"))
		return
	}

	org, err := h.organizations.Read(r.Context(), orgID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	writeSuccess(w, http.StatusOK, "ORGANIZATION_FOUND", org)
}

// ReadByCode handles GET /api/organizations/code/{code}
func (h *OrganizationHandler) ReadByCode(w http.ResponseWriter, r *http.Request) {
	code := r.PathValue("code")
	if code == "" {
		writeError(w, h.logger, response.ClientError(http.StatusBadRequest, "INVALID_REQUEST"))
		return
	}

	org, err := h.organizations.ReadByCode(r.Context(), code)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	writeSuccess(w, http.StatusOK, "ORGANIZATION_FOUND", org)
}

// Batch handles GET /api/organizations/batch?ids=1,2,3
func (h *OrganizationHandler) Batch(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("ids")
	if raw == "" {
		writeError(w, h.logger, response.ClientError(http.StatusBadRequest, "INVALID_REQUEST"))
		return
	}

	var ids []int64
	for _, part := range strings.Split(raw, ",") {
		id, err := strconv.ParseInt(strings.TrimSpace(part), 10, 64)
		if err != nil || id <= 0 {
			writeError(w, h.logger, response.ClientError(http.StatusBadRequest, "INVALID_REQUEST"))
			return
		}
		ids = append(ids, id)
	}

	orgs, err := h.organizations.ListByIDs(r.Context(), ids)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	writeSuccess(w, http.StatusOK, "ORGANIZATIONS_FOUND", orgs)
}

// List handles GET /api/organizations?page=&pageSize=&search=
func (h *OrganizationHandler) List(w http.ResponseWriter, r *http.Request) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	pageSize, _ := strconv.Atoi(r.URL.Query().Get("pageSize"))
	search := r.URL.Query().Get("search")

	orgs, err := h.organizations.List(r.Context(), page, pageSize, search)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	writeSuccess(w, http.StatusOK, "ORGANIZATIONS_FOUND", orgs)
}

// RequestRoleRequest carries a user's role elevation request.
type RequestRoleRequest struct {
	Role string          `json:"role"`
	Meta json.RawMessage `json:"meta,omitempty"`
}

// RequestRole handles POST /api/organizations/{orgID}/role-requests
func (h *OrganizationHandler) RequestRole(w http.ResponseWriter, r *http.Request) {
	orgID := pathID(r, "orgID")
	if orgID == 0 {
		writeError(w, h.logger, response.ClientError(http.StatusBadRequest, "INVALID_REQUEST"))
		return
	}

	var req RequestRoleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Role == "" {
		writeError(w, h.logger, response.ClientError(http.StatusBadRequest, "INVALID_REQUEST"))
		return
	}

	roleReq, err := h.organizations.RequestOrgRole(r.Context(), actorID(r), orgID, req.Role, req.Meta)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	writeSuccess(w, http.StatusOK, "ROLE_REQUEST_RECORDED", roleReq)
}
