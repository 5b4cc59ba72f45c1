package healthauth

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ppulimamidy/PersonalHealthAssistant-sub005/audit"
	"github.com/ppulimamidy/PersonalHealthAssistant-sub005/store"
)

// Authorized reports whether principalID may perform action on
// resourceType. Assignment and grant expiry are evaluated at call time, so
// an expired assignment denies even while its active flag is still set.
func (e *Engine) Authorized(ctx context.Context, principalID, resourceType, action string) (bool, error) {
	ok, err := e.rbac.Authorized(ctx, principalID, resourceType, action)
	if err != nil {
		return false, e.unavailable("evaluate permissions", err)
	}
	if ok {
		e.metrics.Inc(MetricAuthzAllowed)
	} else {
		e.metrics.Inc(MetricAuthzDenied)
	}
	return ok, nil
}

// Require is Authorized for call sites that want an error. A deny returns
// ErrPermissionDenied and is audited.
func (e *Engine) Require(ctx context.Context, principalID, resourceType, action string) error {
	ok, err := e.Authorized(ctx, principalID, resourceType, action)
	if err != nil {
		return err
	}
	if !ok {
		e.emit(ctx, auditRecord{
			kind:        AuditAuthorizationDenied,
			principalID: principalID,
			outcome:     audit.OutcomeFailure,
			reason:      "no_matching_permission",
			metadata:    map[string]string{"resource_type": resourceType, "action": action},
		})
		return ErrPermissionDenied
	}
	return nil
}

// EffectivePermissions lists the permissions principalID holds right now.
func (e *Engine) EffectivePermissions(ctx context.Context, principalID string) ([]store.Permission, error) {
	perms, err := e.rbac.Permissions(ctx, principalID)
	if err != nil {
		return nil, e.unavailable("evaluate permissions", err)
	}
	return perms, nil
}

// CreateRole stores r and returns it with its id filled in.
func (e *Engine) CreateRole(ctx context.Context, r store.Role) (store.Role, error) {
	if r.Name == "" {
		return store.Role{}, errors.New("healthauth: role name is required")
	}
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if err := e.backend.RBAC.CreateRole(ctx, r); err != nil {
		return store.Role{}, e.storeErr("create role", err)
	}
	return r, nil
}

// CreatePermission stores p and returns it with its id filled in.
func (e *Engine) CreatePermission(ctx context.Context, p store.Permission) (store.Permission, error) {
	if p.ResourceType == "" || p.Action == "" {
		return store.Permission{}, errors.New("healthauth: permission needs a resource type and an action")
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if err := e.backend.RBAC.CreatePermission(ctx, p); err != nil {
		return store.Permission{}, e.storeErr("create permission", err)
	}
	return p, nil
}

// AssignRole gives principalID the role until expiresAt (zero means no
// expiry).
func (e *Engine) AssignRole(ctx context.Context, principalID, roleID string, expiresAt time.Time) error {
	err := e.backend.RBAC.AssignRole(ctx, store.RoleAssignment{
		PrincipalID: principalID,
		RoleID:      roleID,
		IsActive:    true,
		ExpiresAt:   expiresAt,
		AssignedAt:  e.now(),
	})
	if err != nil {
		return e.storeErr("assign role", err)
	}
	e.rbac.Invalidate(principalID)

	md := map[string]string{"role_id": roleID}
	if !expiresAt.IsZero() {
		md["expires_at"] = expiresAt.UTC().Format(time.RFC3339)
	}
	e.emit(ctx, auditRecord{kind: AuditRoleAssigned, principalID: principalID, outcome: audit.OutcomeSuccess, metadata: md})
	return nil
}

// RevokeRole removes the assignment. The principal's cached permission
// set is dropped before RevokeRole returns.
func (e *Engine) RevokeRole(ctx context.Context, principalID, roleID string) error {
	if err := e.backend.RBAC.RevokeRole(ctx, principalID, roleID); err != nil {
		return e.storeErr("revoke role", err)
	}
	e.rbac.Invalidate(principalID)
	e.emit(ctx, auditRecord{
		kind:        AuditRoleRevoked,
		principalID: principalID,
		outcome:     audit.OutcomeSuccess,
		metadata:    map[string]string{"role_id": roleID},
	})
	return nil
}

// GrantPermission adds a permission to a role. Every holder of the role is
// affected, so the whole cache is dropped.
func (e *Engine) GrantPermission(ctx context.Context, roleID, permissionID string, expiresAt time.Time) error {
	err := e.backend.RBAC.GrantPermission(ctx, store.PermissionGrant{
		RoleID:       roleID,
		PermissionID: permissionID,
		IsActive:     true,
		ExpiresAt:    expiresAt,
		GrantedAt:    e.now(),
	})
	if err != nil {
		return e.storeErr("grant permission", err)
	}
	e.rbac.InvalidateAll()
	e.emit(ctx, auditRecord{
		kind:     AuditPermissionGranted,
		outcome:  audit.OutcomeSuccess,
		metadata: map[string]string{"role_id": roleID, "permission_id": permissionID},
	})
	return nil
}

func (e *Engine) RevokePermission(ctx context.Context, roleID, permissionID string) error {
	if err := e.backend.RBAC.RevokePermission(ctx, roleID, permissionID); err != nil {
		return e.storeErr("revoke permission", err)
	}
	e.rbac.InvalidateAll()
	e.logger.Info("permission revoked from role",
		zap.String("role_id", roleID),
		zap.String("permission_id", permissionID),
	)
	e.emit(ctx, auditRecord{
		kind:     AuditPermissionRevoked,
		outcome:  audit.OutcomeSuccess,
		metadata: map[string]string{"role_id": roleID, "permission_id": permissionID},
	})
	return nil
}
