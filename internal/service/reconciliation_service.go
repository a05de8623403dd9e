package service

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/yourorg/identsync/internal/audit"
	"github.com/yourorg/identsync/internal/domain"
	"github.com/yourorg/identsync/internal/observability/metrics"
	"github.com/yourorg/identsync/internal/response"
)

// ReconciliationService orchestrates the multi-aggregate state transitions
// between users and organizations. There is no cross-aggregate transaction:
// every step is an idempotent merge (set union, monotone status write), so
// a crashed or concurrently repeated sequence converges to the same final
// state when retried from the top.
type ReconciliationService struct {
	users          domain.UserRepository
	orgs           domain.OrganizationRepository
	roles          domain.RoleRepository
	cache          domain.Cache
	events         domain.EventSink
	auditor        *audit.Logger
	logger         *slog.Logger
	defaultOrgCode string
}

// NewReconciliationService creates a new reconciliation service
func NewReconciliationService(
	users domain.UserRepository,
	orgs domain.OrganizationRepository,
	roles domain.RoleRepository,
	cache domain.Cache,
	events domain.EventSink,
	auditor *audit.Logger,
	logger *slog.Logger,
	defaultOrgCode string,
) *ReconciliationService {
	if logger == nil {
		logger = slog.Default()
	}
	return &ReconciliationService{
		users:          users,
		orgs:           orgs,
		roles:          roles,
		cache:          cache,
		events:         events,
		auditor:        auditor,
		logger:         logger,
		defaultOrgCode: defaultOrgCode,
	}
}

// OrgAdminAssignment is the result of a successful org-admin assignment.
type OrgAdminAssignment struct {
	UserID         int64          `json:"user_id"`
	OrganizationID int64          `json:"organization_id"`
	UserRoles      []*domain.Role `json:"user_roles"`
}

type updateOrganizationPayload struct {
	UserID int64    `json:"user_id"`
	OrgID  int64    `json:"org_id"`
	Roles  []string `json:"roles"`
}

type deactivateSessionPayload struct {
	UserID int64 `json:"user_id"`
}

// AssignOrgAdmin makes a user an admin of an organization.
//
// Preconditions, checked in order before any write: the user exists, the
// target organization exists, the user's current organization exists, and
// the user either already belongs to the target organization or is being
// promoted out of the default organization.
//
// The mutation sequence then merges the user into the organization's
// admin set, merges the org-admin role into the user's role set, and
// moves the user to the target organization. A failure between the two
// writes leaves the admin-set merge committed; that state is documented
// as safe, and retrying the whole operation converges because both merges
// are set unions.
func (s *ReconciliationService) AssignOrgAdmin(ctx context.Context, userID, orgID, actorID int64) (*OrgAdminAssignment, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			metrics.ObserveReconciliation("assign_org_admin", "rejected")
			return nil, response.ClientError(http.StatusBadRequest, "USER_NOT_FOUND")
		}
		return nil, fmt.Errorf("assign org admin: %w", err)
	}

	if _, err := s.orgs.GetByID(ctx, orgID); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			metrics.ObserveReconciliation("assign_org_admin", "rejected")
			return nil, response.ClientError(http.StatusBadRequest, "ORGANIZATION_NOT_FOUND")
		}
		return nil, fmt.Errorf("assign org admin: %w", err)
	}

	userOrg, err := s.orgs.GetByID(ctx, user.OrganizationID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			metrics.ObserveReconciliation("assign_org_admin", "rejected")
			return nil, response.ClientError(http.StatusBadRequest, "ORGANIZATION_NOT_FOUND")
		}
		return nil, fmt.Errorf("assign org admin: %w", err)
	}

	// A user may only become admin of the organization they already belong
	// to, or be promoted out of the default organization.
	if userOrg.Code != s.defaultOrgCode && userOrg.ID != orgID {
		s.auditor.LogAdminAssignment(ctx, actorID, userID, "denied", "cross-org transfer policy")
		metrics.ObserveReconciliation("assign_org_admin", "rejected")
		return nil, response.ClientError(http.StatusNotAcceptable, "FAILED_TO_ASSIGN_AS_ADMIN")
	}

	// Mutation sequence starts here. Once the first write commits, caller
	// cancellation must not strand the aggregates half-reconciled, so the
	// remaining steps run detached from the caller's deadline.
	dctx := context.WithoutCancel(ctx)

	// The repository unions the id into the current row value atomically;
	// merging a set computed from the read above would let a concurrent
	// assignment's commit be overwritten.
	if _, err := s.orgs.MergeOrgAdmin(dctx, orgID, userID, actorID); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			// Organization vanished between read and write: a conflict, not
			// a crash.
			metrics.ObserveReconciliation("assign_org_admin", "rejected")
			return nil, response.ClientError(http.StatusBadRequest, "ORG_ADMIN_MAPPING_FAILED")
		}
		metrics.ObserveReconciliation("assign_org_admin", "error")
		return nil, fmt.Errorf("assign org admin: %w", err)
	}

	role, err := s.roles.GetByTitle(dctx, domain.RoleOrgAdmin)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			// The admin-set merge stays committed. Retrying the whole
			// operation is safe: the merge is idempotent.
			s.logger.Warn("org-admin role missing, organization merge left in place",
				slog.Int64("user_id", userID),
				slog.Int64("organization_id", orgID),
			)
			metrics.ObserveReconciliation("assign_org_admin", "rejected")
			return nil, response.ClientError(http.StatusNotAcceptable, "ROLE_NOT_FOUND")
		}
		metrics.ObserveReconciliation("assign_org_admin", "error")
		return nil, fmt.Errorf("assign org admin: %w", err)
	}

	mergedRoles := user.Roles.Union(role.ID)
	updatedAt, err := s.users.UpdateRoles(dctx, userID, mergedRoles, orgID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			metrics.ObserveReconciliation("assign_org_admin", "rejected")
			return nil, response.ClientError(http.StatusBadRequest, "USER_NOT_FOUND")
		}
		metrics.ObserveReconciliation("assign_org_admin", "error")
		return nil, fmt.Errorf("assign org admin: %w", err)
	}

	roleData, err := s.roles.ListByIDs(dctx, mergedRoles)
	if err != nil {
		metrics.ObserveReconciliation("assign_org_admin", "error")
		return nil, fmt.Errorf("assign org admin: %w", err)
	}

	// Invalidate before emitting: the next read must repopulate from the
	// system of record, never serve the pre-mutation snapshot.
	s.cache.Delete(dctx,
		domain.UserCacheKey(userID),
		domain.OrgCacheKey(orgID),
		domain.OrgCacheKey(userOrg.ID),
	)

	titles := make([]string, 0, len(roleData))
	for _, r := range roleData {
		titles = append(titles, r.Title)
	}

	// One consolidated event for the whole sequence; consumers never see
	// the intermediate per-step states.
	s.events.Publish(dctx, domain.TopicUpdateOrganization, domain.EntityUser, userID, updatedAt.UnixMilli(), updateOrganizationPayload{
		UserID: userID,
		OrgID:  orgID,
		Roles:  titles,
	})

	s.auditor.LogAdminAssignment(ctx, actorID, userID, "success", fmt.Sprintf("organization %d", orgID))
	metrics.ObserveReconciliation("assign_org_admin", "success")

	return &OrgAdminAssignment{
		UserID:         userID,
		OrganizationID: orgID,
		UserRoles:      roleData,
	}, nil
}

// DeactivationResult reports how many users a cascade touched.
type DeactivationResult struct {
	DeactivatedUsers int `json:"deactivated_users"`
}

// DeactivateOrganization sets the organization INACTIVE, bulk-deactivates
// its users, and emits one deactivateUpcomingSession event per affected
// user. If the bulk update fails after the organization write committed,
// the organization stays INACTIVE; the operation is safe to retry because
// setting INACTIVE twice is a no-op.
func (s *ReconciliationService) DeactivateOrganization(ctx context.Context, orgID, actorID int64) (*DeactivationResult, error) {
	rows, err := s.orgs.SetStatus(ctx, orgID, domain.StatusInactive, actorID)
	if err != nil {
		metrics.ObserveReconciliation("deactivate_org", "error")
		return nil, fmt.Errorf("deactivate organization: %w", err)
	}
	if rows == 0 {
		metrics.ObserveReconciliation("deactivate_org", "rejected")
		return nil, response.ClientError(http.StatusBadRequest, "STATUS_UPDATE_FAILED")
	}

	// Organization write is committed; finish the cascade even if the
	// caller goes away.
	dctx := context.WithoutCancel(ctx)

	userIDs, err := s.users.DeactivateByOrganization(dctx, orgID, actorID)
	if err != nil {
		s.logger.Error("user cascade failed after organization deactivated, retry the operation",
			slog.Int64("organization_id", orgID),
			slog.String("error", err.Error()),
		)
		metrics.ObserveReconciliation("deactivate_org", "error")
		return nil, fmt.Errorf("deactivate organization users: %w", err)
	}

	keys := make([]string, 0, len(userIDs)+1)
	keys = append(keys, domain.OrgCacheKey(orgID))
	for _, id := range userIDs {
		keys = append(keys, domain.UserCacheKey(id))
	}
	s.cache.Delete(dctx, keys...)

	for _, id := range userIDs {
		s.events.Publish(dctx, domain.TopicDeactivateUpcomingSession, domain.EntityUser, id, 0, deactivateSessionPayload{UserID: id})
	}

	s.auditor.LogDeactivation(ctx, actorID, "organization", orgID, "success", fmt.Sprintf("%d users deactivated", len(userIDs)))
	metrics.ObserveReconciliation("deactivate_org", "success")

	return &DeactivationResult{DeactivatedUsers: len(userIDs)}, nil
}

// DeactivateUsers bulk-deactivates users selected by id or email. Exactly
// one selector must be provided. The affected ids come from the update
// itself, so one session-deactivation event is emitted per touched row.
func (s *ReconciliationService) DeactivateUsers(ctx context.Context, filter domain.UserFilter, actorID int64) (*DeactivationResult, error) {
	if filter.Empty() || (len(filter.IDs) > 0 && len(filter.Emails) > 0) {
		return nil, response.ClientError(http.StatusBadRequest, "INVALID_DEACTIVATION_FILTER")
	}

	userIDs, err := s.users.DeactivateByFilter(ctx, filter, actorID)
	if err != nil {
		metrics.ObserveReconciliation("deactivate_users", "error")
		return nil, fmt.Errorf("deactivate users: %w", err)
	}
	if len(userIDs) == 0 {
		metrics.ObserveReconciliation("deactivate_users", "rejected")
		return nil, response.ClientError(http.StatusBadRequest, "STATUS_UPDATE_FAILED")
	}

	dctx := context.WithoutCancel(ctx)

	keys := make([]string, 0, len(userIDs))
	for _, id := range userIDs {
		keys = append(keys, domain.UserCacheKey(id))
	}
	s.cache.Delete(dctx, keys...)

	for _, id := range userIDs {
		s.events.Publish(dctx, domain.TopicDeactivateUpcomingSession, domain.EntityUser, id, 0, deactivateSessionPayload{UserID: id})
	}

	for _, id := range userIDs {
		s.auditor.LogDeactivation(ctx, actorID, "user", id, "success", "")
	}
	metrics.ObserveReconciliation("deactivate_users", "success")

	return &DeactivationResult{DeactivatedUsers: len(userIDs)}, nil
}

// DeleteUser anonymizes a user: DELETED status, scrubbed identity fields.
// Deleting an already-deleted user succeeds without touching the row;
// status never moves back from DELETED.
func (s *ReconciliationService) DeleteUser(ctx context.Context, userID, actorID int64) error {
	if _, err := s.users.GetByID(ctx, userID); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			metrics.ObserveReconciliation("delete_user", "rejected")
			return response.ClientError(http.StatusBadRequest, "USER_NOT_FOUND")
		}
		return fmt.Errorf("delete user: %w", err)
	}

	dctx := context.WithoutCancel(ctx)

	if _, err := s.users.Anonymize(dctx, userID, scrubbedEmail(userID)); err != nil {
		metrics.ObserveReconciliation("delete_user", "error")
		return fmt.Errorf("delete user: %w", err)
	}

	s.cache.Delete(dctx, domain.UserCacheKey(userID))

	s.auditor.LogDeletion(ctx, actorID, userID, "success", "")
	metrics.ObserveReconciliation("delete_user", "success")
	return nil
}

// CreateAdminRequest carries the fields for platform admin creation.
type CreateAdminRequest struct {
	Name           string
	Email          string
	Password       string
	OrganizationID int64
}

// CreateAdminUser creates a platform admin. When no organization is given
// the admin lands in the default organization.
func (s *ReconciliationService) CreateAdminUser(ctx context.Context, req CreateAdminRequest) (*domain.User, error) {
	email := strings.ToLower(req.Email)

	if _, err := s.users.GetByEmail(ctx, email); err == nil {
		return nil, response.ClientError(http.StatusNotAcceptable, "ADMIN_USER_ALREADY_EXISTS")
	} else if !errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("create admin: %w", err)
	}

	role, err := s.roles.GetByTitle(ctx, domain.RoleAdmin)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, response.ClientError(http.StatusNotAcceptable, "ROLE_NOT_FOUND")
		}
		return nil, fmt.Errorf("create admin: %w", err)
	}

	orgID := req.OrganizationID
	if orgID == 0 {
		org, err := s.orgs.GetByCode(ctx, s.defaultOrgCode)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return nil, response.ClientError(http.StatusBadRequest, "ORGANIZATION_NOT_FOUND")
			}
			return nil, fmt.Errorf("create admin: %w", err)
		}
		orgID = org.ID
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("create admin: %w", err)
	}

	user := &domain.User{
		Name:           req.Name,
		Email:          email,
		PasswordHash:   string(hash),
		OrganizationID: orgID,
		Roles:          domain.NewIDSet(role.ID),
		Status:         domain.StatusActive,
	}
	if err := s.users.Create(ctx, user); err != nil {
		return nil, fmt.Errorf("create admin: %w", err)
	}

	user.PasswordHash = ""
	return user, nil
}

// scrubbedEmail produces a stable anonymized address so repeated deletes
// of the same user write the same value.
func scrubbedEmail(userID int64) string {
	sum := md5.Sum([]byte(fmt.Sprintf("%d", userID)))
	return hex.EncodeToString(sum[:]) + "@deletedUser"
}
