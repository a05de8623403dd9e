package service

import (
	"context"
	"errors"
	"net/http"
	"slices"
	"sync"
	"testing"

	"github.com/yourorg/identsync/internal/audit"
	"github.com/yourorg/identsync/internal/domain"
	"github.com/yourorg/identsync/internal/response"
)

const defaultOrgCode = "DEFAULT"

func newReconciliationFixture() (*ReconciliationService, *fakeUserRepo, *fakeOrgRepo, *fakeCache, *fakeSink) {
	users := newFakeUserRepo(
		&domain.User{ID: 1, Name: "alice", Email: "alice@example.com", OrganizationID: 10, Roles: domain.NewIDSet(3), Status: domain.StatusActive},
		&domain.User{ID: 2, Name: "bob", Email: "bob@example.com", OrganizationID: 30, Roles: domain.NewIDSet(3), Status: domain.StatusActive},
	)
	orgs := newFakeOrgRepo(
		&domain.Organization{ID: 10, Name: "Default", Code: defaultOrgCode, Status: domain.StatusActive},
		&domain.Organization{ID: 20, Name: "Acme", Code: "ACME", OrgAdmin: domain.NewIDSet(5), Status: domain.StatusActive},
		&domain.Organization{ID: 30, Name: "Globex", Code: "GLOBEX", Status: domain.StatusActive},
	)
	roles := newFakeRoleRepo(
		&domain.Role{ID: 1, Title: domain.RoleAdmin, Status: domain.StatusActive},
		&domain.Role{ID: 2, Title: domain.RoleOrgAdmin, Status: domain.StatusActive},
		&domain.Role{ID: 3, Title: domain.RoleUser, Status: domain.StatusActive},
	)
	cache := newFakeCache()
	sink := &fakeSink{}
	svc := NewReconciliationService(users, orgs, roles, cache, sink, audit.NewLogger(testLogger()), testLogger(), defaultOrgCode)
	return svc, users, orgs, cache, sink
}

func assertClientError(t *testing.T, err error, status int, message string) {
	t.Helper()
	var respErr *response.Error
	if !errors.As(err, &respErr) {
		t.Fatalf("expected *response.Error, got %v", err)
	}
	if respErr.StatusCode != status {
		t.Errorf("expected status %d, got %d", status, respErr.StatusCode)
	}
	if respErr.Message != message {
		t.Errorf("expected message %q, got %q", message, respErr.Message)
	}
}

func TestAssignOrgAdminHappyPath(t *testing.T) {
	svc, users, orgs, cache, sink := newReconciliationFixture()

	result, err := svc.AssignOrgAdmin(context.Background(), 1, 20, 99)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.UserID != 1 || result.OrganizationID != 20 {
		t.Errorf("unexpected result: %+v", result)
	}

	org := orgs.orgs[20]
	if !org.OrgAdmin.Equal(domain.NewIDSet(1, 5)) {
		t.Errorf("expected admin set [1 5], got %v", org.OrgAdmin)
	}

	user := users.users[1]
	if !user.Roles.Contains(2) {
		t.Errorf("expected org_admin role merged, got %v", user.Roles)
	}
	if !user.Roles.Contains(3) {
		t.Errorf("expected existing roles kept, got %v", user.Roles)
	}
	if user.OrganizationID != 20 {
		t.Errorf("expected user moved to org 20, got %d", user.OrganizationID)
	}

	deleted := cache.deletedKeys()
	for _, key := range []string{"user_1", "org_20", "org_10"} {
		if !slices.Contains(deleted, key) {
			t.Errorf("expected invalidation of %s, got %v", key, deleted)
		}
	}

	events := sink.published()
	if len(events) != 1 {
		t.Fatalf("expected exactly one event, got %d", len(events))
	}
	if events[0].topic != domain.TopicUpdateOrganization || events[0].entityID != 1 {
		t.Errorf("unexpected event: %+v", events[0])
	}
	if events[0].version == 0 {
		t.Error("expected event version from the committed write")
	}
}

func TestAssignOrgAdminIdempotent(t *testing.T) {
	svc, users, orgs, _, sink := newReconciliationFixture()
	ctx := context.Background()

	if _, err := svc.AssignOrgAdmin(ctx, 1, 20, 99); err != nil {
		t.Fatalf("first call: %v", err)
	}
	if _, err := svc.AssignOrgAdmin(ctx, 1, 20, 99); err != nil {
		t.Fatalf("second call: %v", err)
	}

	if got := orgs.orgs[20].OrgAdmin; !got.Equal(domain.NewIDSet(1, 5)) {
		t.Errorf("repeat produced different admin set: %v", got)
	}
	if got := users.users[1].Roles; !got.Equal(domain.NewIDSet(2, 3)) {
		t.Errorf("repeat produced different role set: %v", got)
	}
	if len(sink.published()) != 2 {
		t.Errorf("each run emits one event, got %d", len(sink.published()))
	}
}

func TestAssignOrgAdminConcurrentAssignmentsConverge(t *testing.T) {
	users := newFakeUserRepo(
		&domain.User{ID: 1, Email: "alice@example.com", OrganizationID: 10, Roles: domain.NewIDSet(3), Status: domain.StatusActive},
		&domain.User{ID: 2, Email: "bob@example.com", OrganizationID: 10, Roles: domain.NewIDSet(3), Status: domain.StatusActive},
	)
	orgs := newFakeOrgRepo(
		&domain.Organization{ID: 10, Code: defaultOrgCode, Status: domain.StatusActive},
		&domain.Organization{ID: 20, Code: "ACME", Status: domain.StatusActive},
	)
	roles := newFakeRoleRepo(
		&domain.Role{ID: 2, Title: domain.RoleOrgAdmin, Status: domain.StatusActive},
	)
	svc := NewReconciliationService(users, orgs, roles, newFakeCache(), &fakeSink{}, audit.NewLogger(testLogger()), testLogger(), defaultOrgCode)

	// Hold both merges until each caller has read the pre-mutation admin
	// set, the worst interleaving: whichever write lands second must still
	// keep the first caller's admin.
	var ready sync.WaitGroup
	ready.Add(2)
	orgs.beforeMerge = func() {
		ready.Done()
		ready.Wait()
	}

	var done sync.WaitGroup
	for _, id := range []int64{1, 2} {
		done.Add(1)
		go func(userID int64) {
			defer done.Done()
			if _, err := svc.AssignOrgAdmin(context.Background(), userID, 20, 99); err != nil {
				t.Errorf("assign user %d: %v", userID, err)
			}
		}(id)
	}
	done.Wait()

	if got := orgs.orgs[20].OrgAdmin; !got.Equal(domain.NewIDSet(1, 2)) {
		t.Errorf("expected the admin set to converge to the union [1 2], got %v", got)
	}
}

func TestAssignOrgAdminUserNotFound(t *testing.T) {
	svc, _, _, _, sink := newReconciliationFixture()

	_, err := svc.AssignOrgAdmin(context.Background(), 404, 20, 99)

	assertClientError(t, err, http.StatusBadRequest, "USER_NOT_FOUND")
	if len(sink.published()) != 0 {
		t.Error("no event on precondition failure")
	}
}

func TestAssignOrgAdminTargetOrgNotFound(t *testing.T) {
	svc, _, _, _, _ := newReconciliationFixture()

	_, err := svc.AssignOrgAdmin(context.Background(), 1, 404, 99)

	assertClientError(t, err, http.StatusBadRequest, "ORGANIZATION_NOT_FOUND")
}

func TestAssignOrgAdminVanishedOrganization(t *testing.T) {
	svc, _, orgs, _, sink := newReconciliationFixture()
	orgs.mergeErr = domain.ErrNotFound

	_, err := svc.AssignOrgAdmin(context.Background(), 1, 20, 99)

	assertClientError(t, err, http.StatusBadRequest, "ORG_ADMIN_MAPPING_FAILED")
	if len(sink.published()) != 0 {
		t.Error("no event for a conflicted merge")
	}
}

func TestAssignOrgAdminCrossOrgRejected(t *testing.T) {
	svc, users, orgs, cache, sink := newReconciliationFixture()

	// bob belongs to GLOBEX, not the default org and not the target
	_, err := svc.AssignOrgAdmin(context.Background(), 2, 20, 99)

	assertClientError(t, err, http.StatusNotAcceptable, "FAILED_TO_ASSIGN_AS_ADMIN")

	if got := orgs.orgs[20].OrgAdmin; !got.Equal(domain.NewIDSet(5)) {
		t.Errorf("rejection must not mutate the admin set, got %v", got)
	}
	if got := users.users[2].Roles; !got.Equal(domain.NewIDSet(3)) {
		t.Errorf("rejection must not mutate roles, got %v", got)
	}
	if len(cache.deletedKeys()) != 0 {
		t.Error("rejection must not invalidate cache")
	}
	if len(sink.published()) != 0 {
		t.Error("rejection must not emit events")
	}
}

func TestAssignOrgAdminSameOrgAllowed(t *testing.T) {
	svc, _, _, _, _ := newReconciliationFixture()

	// bob becoming admin of his own org is fine
	if _, err := svc.AssignOrgAdmin(context.Background(), 2, 30, 99); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestAssignOrgAdminRoleMissingKeepsMerge(t *testing.T) {
	users := newFakeUserRepo(
		&domain.User{ID: 1, Email: "alice@example.com", OrganizationID: 10, Roles: domain.NewIDSet(3), Status: domain.StatusActive},
	)
	orgs := newFakeOrgRepo(
		&domain.Organization{ID: 10, Code: defaultOrgCode, Status: domain.StatusActive},
		&domain.Organization{ID: 20, Code: "ACME", Status: domain.StatusActive},
	)
	roles := newFakeRoleRepo() // org_admin role not seeded
	sink := &fakeSink{}
	svc := NewReconciliationService(users, orgs, roles, newFakeCache(), sink, audit.NewLogger(testLogger()), testLogger(), defaultOrgCode)

	_, err := svc.AssignOrgAdmin(context.Background(), 1, 20, 99)

	assertClientError(t, err, http.StatusNotAcceptable, "ROLE_NOT_FOUND")

	// the admin-set merge stays committed; retrying converges
	if !orgs.orgs[20].OrgAdmin.Contains(1) {
		t.Error("expected admin merge to remain after role lookup failure")
	}
	if len(sink.published()) != 0 {
		t.Error("no event for an incomplete sequence")
	}
}

func TestDeactivateOrganizationCascades(t *testing.T) {
	users := newFakeUserRepo(
		&domain.User{ID: 1, OrganizationID: 20, Status: domain.StatusActive},
		&domain.User{ID: 2, OrganizationID: 20, Status: domain.StatusActive},
		&domain.User{ID: 3, OrganizationID: 20, Status: domain.StatusDeleted},
		&domain.User{ID: 4, OrganizationID: 30, Status: domain.StatusActive},
	)
	orgs := newFakeOrgRepo(&domain.Organization{ID: 20, Code: "ACME", Status: domain.StatusActive})
	cache := newFakeCache()
	sink := &fakeSink{}
	svc := NewReconciliationService(users, orgs, newFakeRoleRepo(), cache, sink, audit.NewLogger(testLogger()), testLogger(), defaultOrgCode)

	result, err := svc.DeactivateOrganization(context.Background(), 20, 99)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.DeactivatedUsers != 2 {
		t.Errorf("expected 2 deactivated users, got %d", result.DeactivatedUsers)
	}

	if orgs.orgs[20].Status != domain.StatusInactive {
		t.Error("organization must be INACTIVE")
	}
	if users.users[4].Status != domain.StatusActive {
		t.Error("users of other organizations must be untouched")
	}
	if users.users[3].Status != domain.StatusDeleted {
		t.Error("deleted users must stay DELETED")
	}

	events := sink.published()
	if len(events) != 2 {
		t.Fatalf("expected one session event per affected user, got %d", len(events))
	}
	for _, e := range events {
		if e.topic != domain.TopicDeactivateUpcomingSession {
			t.Errorf("unexpected topic %q", e.topic)
		}
	}
}

func TestDeactivateOrganizationNotFound(t *testing.T) {
	svc, _, _, _, _ := newReconciliationFixture()

	_, err := svc.DeactivateOrganization(context.Background(), 404, 99)

	assertClientError(t, err, http.StatusBadRequest, "STATUS_UPDATE_FAILED")
}

func TestDeactivateUsersByEmail(t *testing.T) {
	svc, users, _, _, sink := newReconciliationFixture()

	result, err := svc.DeactivateUsers(context.Background(), domain.UserFilter{Emails: []string{"Alice@Example.com"}}, 99)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.DeactivatedUsers != 1 {
		t.Errorf("expected 1, got %d", result.DeactivatedUsers)
	}
	if users.users[1].Status != domain.StatusInactive {
		t.Error("expected alice deactivated")
	}
	if len(sink.published()) != 1 {
		t.Errorf("expected 1 session event, got %d", len(sink.published()))
	}
}

func TestDeactivateUsersRejectsBadFilter(t *testing.T) {
	svc, _, _, _, _ := newReconciliationFixture()
	ctx := context.Background()

	_, err := svc.DeactivateUsers(ctx, domain.UserFilter{}, 99)
	assertClientError(t, err, http.StatusBadRequest, "INVALID_DEACTIVATION_FILTER")

	_, err = svc.DeactivateUsers(ctx, domain.UserFilter{IDs: []int64{1}, Emails: []string{"a@b.c"}}, 99)
	assertClientError(t, err, http.StatusBadRequest, "INVALID_DEACTIVATION_FILTER")
}

func TestDeactivateUsersNoMatches(t *testing.T) {
	svc, _, _, _, _ := newReconciliationFixture()

	_, err := svc.DeactivateUsers(context.Background(), domain.UserFilter{IDs: []int64{404}}, 99)

	assertClientError(t, err, http.StatusBadRequest, "STATUS_UPDATE_FAILED")
}

func TestDeleteUserAnonymizes(t *testing.T) {
	svc, users, _, cache, _ := newReconciliationFixture()

	if err := svc.DeleteUser(context.Background(), 1, 99); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	u := users.users[1]
	if u.Status != domain.StatusDeleted {
		t.Error("expected DELETED status")
	}
	if u.Email == "alice@example.com" {
		t.Error("expected email scrubbed")
	}
	if u.DeletedAt == nil {
		t.Error("expected deleted_at stamped")
	}
	if !slices.Contains(cache.deletedKeys(), "user_1") {
		t.Error("expected user cache entry invalidated")
	}
}

func TestDeleteUserIdempotent(t *testing.T) {
	svc, users, _, _, _ := newReconciliationFixture()
	ctx := context.Background()

	if err := svc.DeleteUser(ctx, 1, 99); err != nil {
		t.Fatalf("first delete: %v", err)
	}
	scrubbed := users.users[1].Email

	if err := svc.DeleteUser(ctx, 1, 99); err != nil {
		t.Fatalf("second delete must succeed: %v", err)
	}
	if users.users[1].Email != scrubbed {
		t.Error("second delete must not change the row")
	}
}

func TestDeleteUserNotFound(t *testing.T) {
	svc, _, _, _, _ := newReconciliationFixture()

	err := svc.DeleteUser(context.Background(), 404, 99)

	assertClientError(t, err, http.StatusBadRequest, "USER_NOT_FOUND")
}

func TestCreateAdminUserDuplicateEmail(t *testing.T) {
	svc, _, _, _, _ := newReconciliationFixture()

	_, err := svc.CreateAdminUser(context.Background(), CreateAdminRequest{
		Name:     "Alice Again",
		Email:    "ALICE@example.com",
		Password: "secret",
	})

	assertClientError(t, err, http.StatusNotAcceptable, "ADMIN_USER_ALREADY_EXISTS")
}

func TestCreateAdminUserDefaultOrgFallback(t *testing.T) {
	svc, users, _, _, _ := newReconciliationFixture()

	user, err := svc.CreateAdminUser(context.Background(), CreateAdminRequest{
		Name:     "Carol",
		Email:    "carol@example.com",
		Password: "secret",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if user.OrganizationID != 10 {
		t.Errorf("expected default org 10, got %d", user.OrganizationID)
	}
	if !user.Roles.Contains(1) {
		t.Errorf("expected admin role, got %v", user.Roles)
	}
	if user.PasswordHash != "" {
		t.Error("password hash must not be returned")
	}
	if users.users[user.ID].PasswordHash == "" || users.users[user.ID].PasswordHash == "secret" {
		t.Error("stored password must be hashed")
	}
}
