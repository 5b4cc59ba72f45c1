package pgstore

import (
	"context"

	"github.com/ppulimamidy/PersonalHealthAssistant-sub005/store"
)

func (s *Store) CreateRole(ctx context.Context, r store.Role) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO roles (id, name, description, is_active) VALUES ($1, $2, $3, $4)`,
		r.ID, r.Name, r.Description, r.IsActive)
	return mapErr("create role", err)
}

func (s *Store) CreatePermission(ctx context.Context, p store.Permission) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO permissions (id, resource_type, action, scope) VALUES ($1, $2, $3, $4)`,
		p.ID, p.ResourceType, p.Action, p.Scope)
	return mapErr("create permission", err)
}

// AssignRole upserts; a missing role surfaces as a foreign key violation.
func (s *Store) AssignRole(ctx context.Context, a store.RoleAssignment) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO role_assignments (principal_id, role_id, is_active, expires_at, assigned_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (principal_id, role_id) DO UPDATE
		SET is_active = EXCLUDED.is_active, expires_at = EXCLUDED.expires_at, assigned_at = EXCLUDED.assigned_at`,
		a.PrincipalID, a.RoleID, a.IsActive, nullTime(a.ExpiresAt), a.AssignedAt)
	return mapErr("assign role", err)
}

func (s *Store) RevokeRole(ctx context.Context, principalID, roleID string) error {
	return s.deleteOne(ctx, "revoke role",
		`DELETE FROM role_assignments WHERE principal_id = $1 AND role_id = $2`, principalID, roleID)
}

func (s *Store) GrantPermission(ctx context.Context, g store.PermissionGrant) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO permission_grants (role_id, permission_id, is_active, expires_at, granted_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (role_id, permission_id) DO UPDATE
		SET is_active = EXCLUDED.is_active, expires_at = EXCLUDED.expires_at, granted_at = EXCLUDED.granted_at`,
		g.RoleID, g.PermissionID, g.IsActive, nullTime(g.ExpiresAt), g.GrantedAt)
	return mapErr("grant permission", err)
}

func (s *Store) RevokePermission(ctx context.Context, roleID, permissionID string) error {
	return s.deleteOne(ctx, "revoke permission",
		`DELETE FROM permission_grants WHERE role_id = $1 AND permission_id = $2`, roleID, permissionID)
}

func (s *Store) deleteOne(ctx context.Context, op, query string, args ...interface{}) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return mapErr(op, err)
	}
	n, err := affected(op, res)
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

const grantsSQL = `
SELECT p.id AS permission_id, p.resource_type, p.action, p.scope,
	r.id AS role_id, r.is_active AS role_active,
	ra.is_active AS assignment_active, ra.expires_at AS assignment_expires_at,
	pg.is_active AS grant_active, pg.expires_at AS grant_expires_at
FROM role_assignments ra
JOIN roles r ON r.id = ra.role_id
JOIN permission_grants pg ON pg.role_id = ra.role_id
JOIN permissions p ON p.id = pg.permission_id
WHERE ra.principal_id = $1`

// Grants returns raw rows; activity and expiry are judged by the caller.
func (s *Store) Grants(ctx context.Context, principalID string) ([]store.Grant, error) {
	var rows []grantRow
	if err := s.db.SelectContext(ctx, &rows, grantsSQL, principalID); err != nil {
		return nil, mapErr("grants", err)
	}
	out := make([]store.Grant, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.grant())
	}
	return out, nil
}
