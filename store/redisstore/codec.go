package redisstore

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/ppulimamidy/PersonalHealthAssistant-sub005/store"
)

// recordFormatVersion is written to every hash; decoders reject others so a
// rolling deploy never misreads a layout it does not know.
const recordFormatVersion = "1"

var errCorruptRecord = errors.New("redisstore: corrupt record")

func encodeTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return strconv.FormatInt(t.UnixNano(), 10)
}

func decodeTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: time %q", errCorruptRecord, s)
	}
	return time.Unix(0, n).UTC(), nil
}

func encodeBool(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

// fieldReader decodes a hash, remembering the first error.
type fieldReader struct {
	fields map[string]string
	err    error
}

func newFieldReader(fields map[string]string) *fieldReader {
	r := &fieldReader{fields: fields}
	if v := fields["v"]; v != recordFormatVersion {
		r.err = fmt.Errorf("%w: format version %q", errCorruptRecord, v)
	}
	return r
}

func (r *fieldReader) str(name string) string {
	return r.fields[name]
}

func (r *fieldReader) bool(name string) bool {
	return r.fields[name] == "1"
}

func (r *fieldReader) time(name string) time.Time {
	if r.err != nil {
		return time.Time{}
	}
	t, err := decodeTime(r.fields[name])
	if err != nil {
		r.err = err
	}
	return t
}

func sessionFields(s *store.Session) []interface{} {
	return []interface{}{
		"v", recordFormatVersion,
		"id", s.ID,
		"principal_id", s.PrincipalID,
		"access_hash", s.AccessHash,
		"refresh_hash", s.RefreshHash,
		"access_expires_at", encodeTime(s.AccessExpiresAt),
		"refresh_expires_at", encodeTime(s.RefreshExpiresAt),
		"mfa_verified", encodeBool(s.MFAVerified),
		"mfa_required", encodeBool(s.MFARequired),
		"status", string(s.Status),
		"revoked_reason", s.RevokedReason,
		"ip", s.IP,
		"user_agent", s.UserAgent,
		"last_activity_at", encodeTime(s.LastActivityAt),
		"created_at", encodeTime(s.CreatedAt),
	}
}

func decodeSession(fields map[string]string) (*store.Session, error) {
	r := newFieldReader(fields)
	s := &store.Session{
		ID:               r.str("id"),
		PrincipalID:      r.str("principal_id"),
		AccessHash:       r.str("access_hash"),
		RefreshHash:      r.str("refresh_hash"),
		AccessExpiresAt:  r.time("access_expires_at"),
		RefreshExpiresAt: r.time("refresh_expires_at"),
		MFAVerified:      r.bool("mfa_verified"),
		MFARequired:      r.bool("mfa_required"),
		Status:           store.SessionStatus(r.str("status")),
		RevokedReason:    r.str("revoked_reason"),
		IP:               r.str("ip"),
		UserAgent:        r.str("user_agent"),
		LastActivityAt:   r.time("last_activity_at"),
		CreatedAt:        r.time("created_at"),
	}
	if r.err != nil {
		return nil, r.err
	}
	if s.ID == "" {
		return nil, fmt.Errorf("%w: session without id", errCorruptRecord)
	}
	return s, nil
}

func refreshFields(rec *store.RefreshRecord) []interface{} {
	return []interface{}{
		"v", recordFormatVersion,
		"hash", rec.Hash,
		"session_id", rec.SessionID,
		"principal_id", rec.PrincipalID,
		"issued_at", encodeTime(rec.IssuedAt),
		"expires_at", encodeTime(rec.ExpiresAt),
		"revoked", encodeBool(rec.Revoked),
		"revoked_reason", rec.RevokedReason,
		"replaces", rec.Replaces,
		"replaced_by", rec.ReplacedBy,
	}
}

func decodeRefresh(fields map[string]string) (*store.RefreshRecord, error) {
	r := newFieldReader(fields)
	rec := &store.RefreshRecord{
		Hash:          r.str("hash"),
		SessionID:     r.str("session_id"),
		PrincipalID:   r.str("principal_id"),
		IssuedAt:      r.time("issued_at"),
		ExpiresAt:     r.time("expires_at"),
		Revoked:       r.bool("revoked"),
		RevokedReason: r.str("revoked_reason"),
		Replaces:      r.str("replaces"),
		ReplacedBy:    r.str("replaced_by"),
	}
	if r.err != nil {
		return nil, r.err
	}
	return rec, nil
}

// secretFields omits used_at; its presence is the single-use marker.
func secretFields(v store.VerificationSecret) []interface{} {
	return []interface{}{
		"v", recordFormatVersion,
		"hash", v.Hash,
		"principal_id", v.PrincipalID,
		"purpose", string(v.Purpose),
		"expires_at", encodeTime(v.ExpiresAt),
		"created_at", encodeTime(v.CreatedAt),
	}
}

func decodeSecret(fields map[string]string) (*store.VerificationSecret, error) {
	r := newFieldReader(fields)
	v := &store.VerificationSecret{
		Hash:        r.str("hash"),
		PrincipalID: r.str("principal_id"),
		Purpose:     store.SecretPurpose(r.str("purpose")),
		ExpiresAt:   r.time("expires_at"),
		CreatedAt:   r.time("created_at"),
	}
	if _, used := fields["used_at"]; used {
		v.Used = true
		v.UsedAt = r.time("used_at")
	}
	if r.err != nil {
		return nil, r.err
	}
	return v, nil
}

// pairsToMap turns a flat HGETALL reply from a script into a map.
func pairsToMap(reply []interface{}) map[string]string {
	out := make(map[string]string, len(reply)/2)
	for i := 0; i+1 < len(reply); i += 2 {
		k, _ := reply[i].(string)
		v, _ := reply[i+1].(string)
		out[k] = v
	}
	return out
}
