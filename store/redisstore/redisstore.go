package redisstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/ppulimamidy/PersonalHealthAssistant-sub005/store"
	"github.com/redis/go-redis/v9"
)

const (
	defaultPrefix    = "{healthauth}"
	defaultRetention = 24 * time.Hour
)

// Options tunes key naming and how long records outlive their expiry.
type Options struct {
	// Prefix starts every key. Keep a {hash tag} in it on Redis Cluster.
	Prefix string
	// Retention keeps revoked sessions and superseded refresh links
	// readable past their expiry so reuse is still recognised.
	Retention time.Duration
	// Clock computes key TTLs. Defaults to time.Now.
	Clock func() time.Time
}

// Store serves store.SessionStore, store.BlacklistStore and
// store.SecretStore from Redis.
type Store struct {
	rdb       redis.UniversalClient
	prefix    string
	retention time.Duration
	now       func() time.Time
}

var (
	_ store.SessionStore   = (*Store)(nil)
	_ store.BlacklistStore = (*Store)(nil)
	_ store.SecretStore    = (*Store)(nil)
)

func New(rdb redis.UniversalClient, opts Options) *Store {
	s := &Store{
		rdb:       rdb,
		prefix:    opts.Prefix,
		retention: opts.Retention,
		now:       opts.Clock,
	}
	if s.prefix == "" {
		s.prefix = defaultPrefix
	}
	if s.retention <= 0 {
		s.retention = defaultRetention
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// Backend returns base with sessions, the revocation list and secrets
// served by s.
func (s *Store) Backend(base store.Backend) store.Backend {
	base.Sessions = s
	base.Blacklist = s
	base.Secrets = s
	return base
}

func (s *Store) sessionKey(id string) string          { return s.prefix + ":sess:" + id }
func (s *Store) principalSessionsKey(id string) string { return s.prefix + ":psess:" + id }
func (s *Store) sessionExpiryKey() string              { return s.prefix + ":sess_exp" }
func (s *Store) refreshPrefix() string                 { return s.prefix + ":rt:" }
func (s *Store) refreshKey(hash string) string         { return s.refreshPrefix() + hash }
func (s *Store) blacklistKey(hash string) string       { return s.prefix + ":bl:" + hash }
func (s *Store) blacklistExpiryKey() string            { return s.prefix + ":bl_exp" }
func (s *Store) secretExpiryKey() string               { return s.prefix + ":secret_exp" }

func secretMember(purpose store.SecretPurpose, hash string) string {
	return string(purpose) + ":" + hash
}

func (s *Store) secretKey(member string) string { return s.prefix + ":secret:" + member }

// ttlMillis is the time left until exp plus retention, never below 1ms.
func (s *Store) ttlMillis(exp time.Time, retention time.Duration) int64 {
	left := exp.Sub(s.now())
	if left < 0 {
		left = 0
	}
	ms := (left + retention).Milliseconds()
	if ms < 1 {
		ms = 1
	}
	return ms
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", store.ErrUnavailable, op, err)
}

// Sessions

func (s *Store) CreateSession(ctx context.Context, sess *store.Session, first *store.RefreshRecord) error {
	sf := sessionFields(sess)
	rf := refreshFields(first)
	args := make([]interface{}, 0, 5+len(sf)+len(rf))
	args = append(args,
		sess.ID,
		s.ttlMillis(sess.RefreshExpiresAt, s.retention),
		s.ttlMillis(first.ExpiresAt, s.retention),
		sess.RefreshExpiresAt.UnixMilli(),
		len(sf),
	)
	args = append(args, sf...)
	args = append(args, rf...)

	keys := []string{
		s.sessionKey(sess.ID),
		s.refreshKey(first.Hash),
		s.principalSessionsKey(sess.PrincipalID),
		s.sessionExpiryKey(),
	}
	created, err := createSessionLua.Run(ctx, s.rdb, keys, args...).Int64()
	if err != nil {
		return unavailable("create session", err)
	}
	if created == 0 {
		return store.ErrConflict
	}
	return nil
}

func (s *Store) GetSession(ctx context.Context, id string) (*store.Session, error) {
	fields, err := s.rdb.HGetAll(ctx, s.sessionKey(id)).Result()
	if err != nil {
		return nil, unavailable("get session", err)
	}
	if len(fields) == 0 {
		return nil, store.ErrNotFound
	}
	return decodeSession(fields)
}

// ListSessions drops ids whose hash already aged out of Redis.
func (s *Store) ListSessions(ctx context.Context, principalID string) ([]*store.Session, error) {
	setKey := s.principalSessionsKey(principalID)
	ids, err := s.rdb.SMembers(ctx, setKey).Result()
	if err != nil {
		return nil, unavailable("list sessions", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	cmds := make([]*redis.MapStringStringCmd, len(ids))
	_, err = s.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, id := range ids {
			cmds[i] = pipe.HGetAll(ctx, s.sessionKey(id))
		}
		return nil
	})
	if err != nil {
		return nil, unavailable("list sessions", err)
	}

	out := make([]*store.Session, 0, len(ids))
	var stale []interface{}
	for i, cmd := range cmds {
		fields := cmd.Val()
		if len(fields) == 0 {
			stale = append(stale, ids[i])
			continue
		}
		sess, err := decodeSession(fields)
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	if len(stale) > 0 {
		if err := s.rdb.SRem(ctx, setKey, stale...).Err(); err != nil {
			return nil, unavailable("list sessions", err)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) GetRefresh(ctx context.Context, hash string) (*store.RefreshRecord, error) {
	fields, err := s.rdb.HGetAll(ctx, s.refreshKey(hash)).Result()
	if err != nil {
		return nil, unavailable("get refresh", err)
	}
	if len(fields) == 0 {
		return nil, store.ErrNotFound
	}
	return decodeRefresh(fields)
}

func (s *Store) RotateRefresh(ctx context.Context, req store.RotateRequest) error {
	next := req.Next
	next.Replaces = req.OldHash
	rf := refreshFields(&next)

	args := make([]interface{}, 0, 10+len(rf))
	args = append(args,
		req.OldHash,
		req.SessionID,
		next.Hash,
		req.AccessHash,
		encodeTime(req.AccessExpiresAt),
		encodeTime(req.RefreshExpiresAt),
		encodeTime(req.Now),
		s.ttlMillis(next.ExpiresAt, s.retention),
		s.ttlMillis(req.RefreshExpiresAt, s.retention),
		req.RefreshExpiresAt.UnixMilli(),
	)
	args = append(args, rf...)

	keys := []string{
		s.refreshKey(req.OldHash),
		s.refreshKey(next.Hash),
		s.sessionKey(req.SessionID),
		s.sessionExpiryKey(),
	}
	status, err := rotateRefreshLua.Run(ctx, s.rdb, keys, args...).Int64()
	if err != nil {
		return unavailable("rotate refresh", err)
	}
	switch status {
	case rotateOK:
		return nil
	case rotateNotFound:
		return store.ErrNotFound
	case rotateSuperseded:
		return store.ErrRefreshSuperseded
	case rotateConflict:
		return store.ErrConflict
	default:
		return fmt.Errorf("%w: unexpected rotate status %d", errCorruptRecord, status)
	}
}

func (s *Store) RevokeSession(ctx context.Context, id string, status store.SessionStatus, reason string, _ time.Time) (*store.Session, error) {
	keys := []string{s.sessionKey(id), s.sessionExpiryKey()}
	reply, err := revokeSessionLua.Run(ctx, s.rdb, keys, string(status), reason, s.refreshPrefix(), id).Slice()
	if err != nil {
		return nil, unavailable("revoke session", err)
	}
	if len(reply) == 0 {
		return nil, store.ErrNotFound
	}
	return decodeSession(pairsToMap(reply))
}

func (s *Store) ExpireSessions(ctx context.Context, now time.Time) (int, error) {
	ids, err := s.rdb.ZRangeByScore(ctx, s.sessionExpiryKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(now.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return 0, unavailable("expire sessions", err)
	}

	n := 0
	for _, id := range ids {
		expiresAt, err := s.rdb.HGet(ctx, s.sessionKey(id), "refresh_expires_at").Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return n, unavailable("expire sessions", err)
		}
		if expiresAt != "" {
			t, err := decodeTime(expiresAt)
			if err != nil {
				return n, err
			}
			if now.Before(t) {
				continue
			}
		}
		keys := []string{s.sessionKey(id), s.sessionExpiryKey()}
		changed, err := expireSessionLua.Run(ctx, s.rdb, keys, id, expiresAt).Int64()
		if err != nil {
			return n, unavailable("expire sessions", err)
		}
		n += int(changed)
	}
	return n, nil
}

// Revocation list

func (s *Store) Blacklist(ctx context.Context, entries ...store.BlacklistEntry) error {
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, e := range entries {
			if e.TokenHash == "" {
				continue
			}
			ttl := time.Duration(s.ttlMillis(e.ExpiresAt, 0)) * time.Millisecond
			pipe.Set(ctx, s.blacklistKey(e.TokenHash), encodeTime(e.ExpiresAt), ttl)
			pipe.ZAdd(ctx, s.blacklistExpiryKey(), redis.Z{
				Score:  float64(e.ExpiresAt.UnixMilli()),
				Member: e.TokenHash,
			})
		}
		return nil
	})
	if err != nil {
		return unavailable("blacklist", err)
	}
	return nil
}

// BlacklistOnce relies on the key TTL: an entry past its expiry is gone, so
// SETNX only fails while the earlier entry is still live.
func (s *Store) BlacklistOnce(ctx context.Context, e store.BlacklistEntry, _ time.Time) error {
	ttl := time.Duration(s.ttlMillis(e.ExpiresAt, 0)) * time.Millisecond
	set, err := s.rdb.SetNX(ctx, s.blacklistKey(e.TokenHash), encodeTime(e.ExpiresAt), ttl).Result()
	if err != nil {
		return unavailable("blacklist once", err)
	}
	if !set {
		return store.ErrConflict
	}
	err = s.rdb.ZAdd(ctx, s.blacklistExpiryKey(), redis.Z{
		Score:  float64(e.ExpiresAt.UnixMilli()),
		Member: e.TokenHash,
	}).Err()
	if err != nil {
		return unavailable("blacklist once", err)
	}
	return nil
}

func (s *Store) IsBlacklisted(ctx context.Context, tokenHash string, now time.Time) (bool, error) {
	raw, err := s.rdb.Get(ctx, s.blacklistKey(tokenHash)).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, unavailable("blacklist lookup", err)
	}
	expiresAt, err := decodeTime(raw)
	if err != nil {
		return false, err
	}
	return now.Before(expiresAt), nil
}

func (s *Store) PruneBlacklist(ctx context.Context, now time.Time) (int, error) {
	return s.pruneIndex(ctx, "prune blacklist", s.blacklistExpiryKey(), now, s.blacklistKey)
}

// pruneIndex deletes every record whose index score is at or before now.
func (s *Store) pruneIndex(ctx context.Context, op, index string, now time.Time, key func(string) string) (int, error) {
	members, err := s.rdb.ZRangeByScore(ctx, index, &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(now.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return 0, unavailable(op, err)
	}
	if len(members) == 0 {
		return 0, nil
	}

	keys := make([]string, len(members))
	zmembers := make([]interface{}, len(members))
	for i, m := range members {
		keys[i] = key(m)
		zmembers[i] = m
	}
	var removed *redis.IntCmd
	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, keys...)
		removed = pipe.ZRem(ctx, index, zmembers...)
		return nil
	})
	if err != nil {
		return 0, unavailable(op, err)
	}
	return int(removed.Val()), nil
}

// Secrets

func (s *Store) PutSecret(ctx context.Context, v store.VerificationSecret) error {
	member := secretMember(v.Purpose, v.Hash)
	fields := secretFields(v)
	args := make([]interface{}, 0, 3+len(fields))
	args = append(args, s.ttlMillis(v.ExpiresAt, s.retention), v.ExpiresAt.UnixMilli(), member)
	args = append(args, fields...)

	keys := []string{s.secretKey(member), s.secretExpiryKey()}
	stored, err := putIfAbsentLua.Run(ctx, s.rdb, keys, args...).Int64()
	if err != nil {
		return unavailable("put secret", err)
	}
	if stored == 0 {
		return store.ErrConflict
	}
	return nil
}

func (s *Store) ConsumeSecret(ctx context.Context, purpose store.SecretPurpose, hash string, at time.Time) (*store.VerificationSecret, error) {
	member := secretMember(purpose, hash)
	key := s.secretKey(member)
	fields, err := s.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, unavailable("consume secret", err)
	}
	if len(fields) == 0 {
		return nil, store.ErrNotFound
	}
	v, err := decodeSecret(fields)
	if err != nil {
		return nil, err
	}
	if v.Used || !at.Before(v.ExpiresAt) {
		return nil, store.ErrNotFound
	}

	keys := []string{key, s.secretExpiryKey()}
	won, err := consumeSecretLua.Run(ctx, s.rdb, keys, encodeTime(at), at.UnixMilli(), member).Int64()
	if err != nil {
		return nil, unavailable("consume secret", err)
	}
	if won == 0 {
		return nil, store.ErrNotFound
	}
	v.Used = true
	v.UsedAt = at
	return v, nil
}

// PruneSecrets drops expired secrets and those consumed at or before now.
func (s *Store) PruneSecrets(ctx context.Context, now time.Time) (int, error) {
	return s.pruneIndex(ctx, "prune secrets", s.secretExpiryKey(), now, s.secretKey)
}
