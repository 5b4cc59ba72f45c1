// Package memstore is an in-process implementation of every store contract,
// guarded by a single mutex. It is used by tests, the CLI dry-run mode and
// single-node deployments that accept losing state on restart.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ppulimamidy/PersonalHealthAssistant-sub005/lockout"
	"github.com/ppulimamidy/PersonalHealthAssistant-sub005/store"
)

// Store holds all entities in maps.
type Store struct {
	mu sync.Mutex

	principals map[string]*store.Principal
	byEmail    map[string]string
	byExternal map[string]string

	sessions map[string]*store.Session
	refresh  map[string]*store.RefreshRecord

	devices     map[string]*store.MFADevice
	backupCodes map[string][]store.BackupCode

	roles       map[string]store.Role
	permissions map[string]store.Permission
	assignments map[string]map[string]store.RoleAssignment
	grants      map[string]map[string]store.PermissionGrant

	blacklist map[string]store.BlacklistEntry
	secrets   map[string]store.VerificationSecret
}

// New returns an empty store.
func New() *Store {
	return &Store{
		principals:  make(map[string]*store.Principal),
		byEmail:     make(map[string]string),
		byExternal:  make(map[string]string),
		sessions:    make(map[string]*store.Session),
		refresh:     make(map[string]*store.RefreshRecord),
		devices:     make(map[string]*store.MFADevice),
		backupCodes: make(map[string][]store.BackupCode),
		roles:       make(map[string]store.Role),
		permissions: make(map[string]store.Permission),
		assignments: make(map[string]map[string]store.RoleAssignment),
		grants:      make(map[string]map[string]store.PermissionGrant),
		blacklist:   make(map[string]store.BlacklistEntry),
		secrets:     make(map[string]store.VerificationSecret),
	}
}

// Backend exposes s through every store interface.
func (s *Store) Backend() store.Backend {
	return store.Backend{
		Principals:  s,
		Sessions:    s,
		Devices:     s,
		BackupCodes: s,
		RBAC:        s,
		Blacklist:   s,
		Secrets:     s,
	}
}

// Principals

func (s *Store) CreatePrincipal(_ context.Context, p *store.Principal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createPrincipalLocked(p)
}

func (s *Store) createPrincipalLocked(p *store.Principal) error {
	if _, ok := s.principals[p.ID]; ok {
		return store.ErrConflict
	}
	if p.Email != "" {
		if _, ok := s.byEmail[p.Email]; ok {
			return store.ErrConflict
		}
	}
	if p.ExternalID != "" {
		if _, ok := s.byExternal[p.ExternalID]; ok {
			return store.ErrConflict
		}
	}
	stored := p.Clone()
	if stored.Version == 0 {
		stored.Version = 1
	}
	p.Version = stored.Version
	s.principals[p.ID] = stored
	if p.Email != "" {
		s.byEmail[p.Email] = p.ID
	}
	if p.ExternalID != "" {
		s.byExternal[p.ExternalID] = p.ID
	}
	return nil
}

func (s *Store) GetPrincipal(_ context.Context, id string) (*store.Principal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.principals[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return p.Clone(), nil
}

func (s *Store) GetPrincipalByEmail(ctx context.Context, email string) (*store.Principal, error) {
	s.mu.Lock()
	id, ok := s.byEmail[email]
	s.mu.Unlock()
	if !ok {
		return nil, store.ErrNotFound
	}
	return s.GetPrincipal(ctx, id)
}

func (s *Store) GetPrincipalByExternalID(ctx context.Context, externalID string) (*store.Principal, error) {
	s.mu.Lock()
	id, ok := s.byExternal[externalID]
	s.mu.Unlock()
	if !ok {
		return nil, store.ErrNotFound
	}
	return s.GetPrincipal(ctx, id)
}

func (s *Store) GetOrCreateByExternalID(_ context.Context, externalID string, template *store.Principal) (*store.Principal, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.byExternal[externalID]; ok {
		return s.principals[id].Clone(), false, nil
	}
	p := template.Clone()
	p.ExternalID = externalID
	if err := s.createPrincipalLocked(p); err != nil {
		return nil, false, err
	}
	return p, true, nil
}

func (s *Store) UpdatePrincipal(_ context.Context, p *store.Principal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.principals[p.ID]
	if !ok {
		return store.ErrNotFound
	}
	if cur.Version != p.Version {
		return store.ErrConflict
	}
	if p.Email != cur.Email && p.Email != "" {
		if _, taken := s.byEmail[p.Email]; taken {
			return store.ErrConflict
		}
		delete(s.byEmail, cur.Email)
		s.byEmail[p.Email] = p.ID
	}
	next := p.Clone()
	next.Lockout = cur.Lockout
	next.Version = cur.Version + 1
	s.principals[p.ID] = next
	p.Version = next.Version
	return nil
}

func (s *Store) UpdateLockout(_ context.Context, id string, fn func(lockout.State) lockout.State) (lockout.State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.principals[id]
	if !ok {
		return lockout.State{}, store.ErrNotFound
	}
	p.Lockout = fn(p.Lockout)
	return p.Lockout, nil
}

// Sessions

func (s *Store) CreateSession(_ context.Context, sess *store.Session, first *store.RefreshRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[sess.ID]; ok {
		return store.ErrConflict
	}
	if _, ok := s.refresh[first.Hash]; ok {
		return store.ErrConflict
	}
	s.sessions[sess.ID] = sess.Clone()
	rec := *first
	s.refresh[first.Hash] = &rec
	return nil
}

func (s *Store) GetSession(_ context.Context, id string) (*store.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return sess.Clone(), nil
}

func (s *Store) ListSessions(_ context.Context, principalID string) ([]*store.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*store.Session
	for _, sess := range s.sessions {
		if sess.PrincipalID == principalID {
			out = append(out, sess.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) GetRefresh(_ context.Context, hash string) (*store.RefreshRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.refresh[hash]
	if !ok {
		return nil, store.ErrNotFound
	}
	out := *rec
	return &out, nil
}

func (s *Store) RotateRefresh(_ context.Context, req store.RotateRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	old, ok := s.refresh[req.OldHash]
	if !ok {
		return store.ErrNotFound
	}
	if old.ReplacedBy != "" || old.Revoked {
		return store.ErrRefreshSuperseded
	}
	sess, ok := s.sessions[req.SessionID]
	if !ok || old.SessionID != req.SessionID {
		return store.ErrNotFound
	}
	if sess.Status != store.SessionActive || sess.RefreshHash != req.OldHash {
		return store.ErrRefreshSuperseded
	}

	old.ReplacedBy = req.Next.Hash
	old.Revoked = true
	old.RevokedReason = "rotated"

	next := req.Next
	next.Replaces = req.OldHash
	s.refresh[next.Hash] = &next

	sess.RefreshHash = next.Hash
	sess.AccessHash = req.AccessHash
	sess.AccessExpiresAt = req.AccessExpiresAt
	sess.RefreshExpiresAt = req.RefreshExpiresAt
	sess.LastActivityAt = req.Now
	return nil
}

func (s *Store) RevokeSession(_ context.Context, id string, status store.SessionStatus, reason string, _ time.Time) (*store.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	before := sess.Clone()
	if sess.Status == store.SessionActive || sess.Status == store.SessionSuspicious {
		sess.Status = status
		sess.RevokedReason = reason
	}
	if rec, ok := s.refresh[sess.RefreshHash]; ok && !rec.Revoked {
		rec.Revoked = true
		rec.RevokedReason = reason
	}
	return before, nil
}

func (s *Store) ExpireSessions(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, sess := range s.sessions {
		if sess.Status == store.SessionActive && !now.Before(sess.RefreshExpiresAt) {
			sess.Status = store.SessionExpired
			n++
		}
	}
	return n, nil
}

// Devices

func (s *Store) CreateDevice(_ context.Context, d *store.MFADevice) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.devices[d.ID]; ok {
		return store.ErrConflict
	}
	s.devices[d.ID] = d.Clone()
	return nil
}

func (s *Store) GetDevice(_ context.Context, id string) (*store.MFADevice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.devices[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return d.Clone(), nil
}

func (s *Store) ListDevices(_ context.Context, principalID string) ([]*store.MFADevice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*store.MFADevice
	for _, d := range s.devices {
		if d.PrincipalID == principalID {
			out = append(out, d.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) UpdateDevice(_ context.Context, d *store.MFADevice) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.devices[d.ID]
	if !ok {
		return store.ErrNotFound
	}
	next := d.Clone()
	// counters are owned by the conditional operations
	next.Lockout = cur.Lockout
	next.LastUsedStep = cur.LastUsedStep
	next.LastUsedAt = cur.LastUsedAt
	s.devices[d.ID] = next
	return nil
}

func (s *Store) UpdateDeviceLockout(_ context.Context, id string, fn func(lockout.State) lockout.State) (lockout.State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.devices[id]
	if !ok {
		return lockout.State{}, store.ErrNotFound
	}
	d.Lockout = fn(d.Lockout)
	return d.Lockout, nil
}

func (s *Store) RecordDeviceUse(_ context.Context, id string, step int64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.devices[id]
	if !ok {
		return store.ErrNotFound
	}
	if step <= d.LastUsedStep {
		return store.ErrConflict
	}
	d.LastUsedStep = step
	d.LastUsedAt = at
	d.Lockout = lockout.State{}
	return nil
}

// Backup codes

func (s *Store) ReplaceBackupCodes(_ context.Context, principalID string, codes []store.BackupCode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := make([]store.BackupCode, len(codes))
	copy(next, codes)
	s.backupCodes[principalID] = next
	return nil
}

func (s *Store) ListBackupCodes(_ context.Context, principalID string) ([]store.BackupCode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	codes := s.backupCodes[principalID]
	out := make([]store.BackupCode, len(codes))
	copy(out, codes)
	return out, nil
}

func (s *Store) ConsumeBackupCode(_ context.Context, principalID, hash string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	codes := s.backupCodes[principalID]
	for i := range codes {
		if codes[i].Hash != hash || !codes[i].Usable(at) {
			continue
		}
		codes[i].Used = true
		codes[i].UsedAt = at
		return nil
	}
	return store.ErrNotFound
}

func (s *Store) PruneBackupCodes(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for pid, codes := range s.backupCodes {
		kept := codes[:0]
		for _, c := range codes {
			if c.Usable(now) {
				kept = append(kept, c)
				continue
			}
			n++
		}
		s.backupCodes[pid] = kept
	}
	return n, nil
}

// RBAC

func (s *Store) CreateRole(_ context.Context, r store.Role) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.roles[r.ID]; ok {
		return store.ErrConflict
	}
	s.roles[r.ID] = r
	return nil
}

func (s *Store) CreatePermission(_ context.Context, p store.Permission) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.permissions[p.ID]; ok {
		return store.ErrConflict
	}
	s.permissions[p.ID] = p
	return nil
}

func (s *Store) AssignRole(_ context.Context, a store.RoleAssignment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.roles[a.RoleID]; !ok {
		return store.ErrNotFound
	}
	m := s.assignments[a.PrincipalID]
	if m == nil {
		m = make(map[string]store.RoleAssignment)
		s.assignments[a.PrincipalID] = m
	}
	m[a.RoleID] = a
	return nil
}

func (s *Store) RevokeRole(_ context.Context, principalID, roleID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := s.assignments[principalID]
	if _, ok := m[roleID]; !ok {
		return store.ErrNotFound
	}
	delete(m, roleID)
	return nil
}

func (s *Store) GrantPermission(_ context.Context, g store.PermissionGrant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.roles[g.RoleID]; !ok {
		return store.ErrNotFound
	}
	if _, ok := s.permissions[g.PermissionID]; !ok {
		return store.ErrNotFound
	}
	m := s.grants[g.RoleID]
	if m == nil {
		m = make(map[string]store.PermissionGrant)
		s.grants[g.RoleID] = m
	}
	m[g.PermissionID] = g
	return nil
}

func (s *Store) RevokePermission(_ context.Context, roleID, permissionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := s.grants[roleID]
	if _, ok := m[permissionID]; !ok {
		return store.ErrNotFound
	}
	delete(m, permissionID)
	return nil
}

func (s *Store) Grants(_ context.Context, principalID string) ([]store.Grant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []store.Grant
	for roleID, a := range s.assignments[principalID] {
		role := s.roles[roleID]
		for permID, g := range s.grants[roleID] {
			out = append(out, store.Grant{
				Permission:          s.permissions[permID],
				RoleID:              roleID,
				RoleActive:          role.IsActive,
				AssignmentActive:    a.IsActive,
				AssignmentExpiresAt: a.ExpiresAt,
				GrantActive:         g.IsActive,
				GrantExpiresAt:      g.ExpiresAt,
			})
		}
	}
	return out, nil
}

// Blacklist

func (s *Store) Blacklist(_ context.Context, entries ...store.BlacklistEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range entries {
		if e.TokenHash == "" {
			continue
		}
		s.blacklist[e.TokenHash] = e
	}
	return nil
}

func (s *Store) BlacklistOnce(_ context.Context, e store.BlacklistEntry, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.blacklist[e.TokenHash]; ok && now.Before(prev.ExpiresAt) {
		return store.ErrConflict
	}
	s.blacklist[e.TokenHash] = e
	return nil
}

func (s *Store) IsBlacklisted(_ context.Context, tokenHash string, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.blacklist[tokenHash]
	if !ok {
		return false, nil
	}
	return now.Before(e.ExpiresAt), nil
}

func (s *Store) PruneBlacklist(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for h, e := range s.blacklist {
		if !now.Before(e.ExpiresAt) {
			delete(s.blacklist, h)
			n++
		}
	}
	return n, nil
}

// Secrets

func secretKey(purpose store.SecretPurpose, hash string) string {
	return string(purpose) + ":" + hash
}

func (s *Store) PutSecret(_ context.Context, v store.VerificationSecret) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := secretKey(v.Purpose, v.Hash)
	if _, ok := s.secrets[key]; ok {
		return store.ErrConflict
	}
	s.secrets[key] = v
	return nil
}

func (s *Store) ConsumeSecret(_ context.Context, purpose store.SecretPurpose, hash string, at time.Time) (*store.VerificationSecret, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := secretKey(purpose, hash)
	v, ok := s.secrets[key]
	if !ok || v.Used || !at.Before(v.ExpiresAt) {
		return nil, store.ErrNotFound
	}
	v.Used = true
	v.UsedAt = at
	s.secrets[key] = v
	return &v, nil
}

func (s *Store) PruneSecrets(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for k, v := range s.secrets {
		if v.Used || !now.Before(v.ExpiresAt) {
			delete(s.secrets, k)
			n++
		}
	}
	return n, nil
}
