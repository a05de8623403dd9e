package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/yourorg/identsync/internal/domain"
	"github.com/yourorg/identsync/internal/response"
	"github.com/yourorg/identsync/internal/service"
)

// AdminHandler handles the administrative reconciliation endpoints
type AdminHandler struct {
	reconciliation *service.ReconciliationService
	logger         *slog.Logger
}

// NewAdminHandler creates a new admin handler
func NewAdminHandler(reconciliation *service.ReconciliationService, logger *slog.Logger) *AdminHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &AdminHandler{
		reconciliation: reconciliation,
		logger:         logger,
	}
}

// AssignOrgAdmin handles POST /api/admin/organizations/{orgID}/admins/{userID}
func (h *AdminHandler) AssignOrgAdmin(w http.ResponseWriter, r *http.Request) {
	orgID := pathID(r, "orgID")
	userID := pathID(r, "userID")
	if orgID == 0 || userID == 0 {
		writeError(w, h.logger, response.ClientError(http.StatusBadRequest, "INVALID_REQUEST"))
		return
	}

	result, err := h.reconciliation.AssignOrgAdmin(r.Context(), userID, orgID, actorID(r))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	writeSuccess(w, http.StatusOK, "ORG_ADMIN_ASSIGNED", result)
}

// DeactivateOrganization handles POST /api/admin/organizations/{orgID}/deactivate
func (h *AdminHandler) DeactivateOrganization(w http.ResponseWriter, r *http.Request) {
	orgID := pathID(r, "orgID")
	if orgID == 0 {
		writeError(w, h.logger, response.ClientError(http.StatusBadRequest, "INVALID_REQUEST"))
		return
	}

	result, err := h.reconciliation.DeactivateOrganization(r.Context(), orgID, actorID(r))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	writeSuccess(w, http.StatusOK, "ORGANIZATION_DEACTIVATED", result)
}

// DeactivateUsersRequest selects users by id or by email, never both.
type DeactivateUsersRequest struct {
	UserIDs []int64  `json:"user_ids,omitempty"`
	Emails  []string `json:"emails,omitempty"`
}

// DeactivateUsers handles POST /api/admin/users/deactivate
func (h *AdminHandler) DeactivateUsers(w http.ResponseWriter, r *http.Request) {
	var req DeactivateUsersRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, h.logger, response.ClientError(http.StatusBadRequest, "INVALID_REQUEST"))
		return
	}

	filter := domain.UserFilter{IDs: req.UserIDs, Emails: req.Emails}
	result, err := h.reconciliation.DeactivateUsers(r.Context(), filter, actorID(r))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	writeSuccess(w, http.StatusOK, "USERS_DEACTIVATED", result)
}

// DeleteUser handles DELETE /api/admin/users/{userID}
func (h *AdminHandler) DeleteUser(w http.ResponseWriter, r *http.Request) {
	userID := pathID(r, "userID")
	if userID == 0 {
		writeError(w, h.logger, response.ClientError(http.StatusBadRequest, "INVALID_REQUEST"))
		return
	}

	if err := h.reconciliation.DeleteUser(r.Context(), userID, actorID(r)); err != nil {
		writeError(w, h.logger, err)
		return
	}

	writeSuccess(w, http.StatusOK, "USER_DELETED", nil)
}

// CreateAdminRequest carries the fields for platform admin creation.
type CreateAdminRequest struct {
	Name           string `json:"name"`
	Email          string `json:"email"`
	Password       string `json:"password"`
	OrganizationID int64  `json:"organization_id,omitempty"`
}

// CreateAdmin handles POST /api/admin/users
func (h *AdminHandler) CreateAdmin(w http.ResponseWriter, r *http.Request) {
	var req CreateAdminRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, h.logger, response.ClientError(http.StatusBadRequest, "INVALID_REQUEST"))
		return
	}
	if req.Email == "" || req.Password == "" {
		writeError(w, h.logger, response.ClientError(http.StatusBadRequest, "INVALID_REQUEST"))
		return
	}

	user, err := h.reconciliation.CreateAdminUser(r.Context(), service.CreateAdminRequest{
		Name:           req.Name,
		Email:          req.Email,
		Password:       req.Password,
		OrganizationID: req.OrganizationID,
	})
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	writeSuccess(w, http.StatusCreated, "ADMIN_CREATED", user)
}
