package jwt

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"testing"
	"time"

	gjwt "github.com/golang-jwt/jwt/v5"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time { return c.t }

func newEdManager(t *testing.T, clock *fakeClock) *Manager {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate ed25519 key: %v", err)
	}
	m, err := NewManager(Config{
		AccessTTL:     15 * time.Minute,
		SigningMethod: MethodEd25519,
		PrivateKey:    priv,
		Issuer:        "healthauth",
		Audience:      "api",
		Now:           clock.Now,
	})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	return m
}

func TestAccessRoundTrip(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	m := newEdManager(t, clock)

	issued, err := m.CreateAccess("p1", "s1", true)
	if err != nil {
		t.Fatalf("create access: %v", err)
	}
	if issued.ID == "" || !issued.ExpiresAt.Equal(clock.t.Add(15*time.Minute)) {
		t.Fatalf("unexpected issued metadata: %+v", issued)
	}

	claims, err := m.ParseAccess(issued.Token)
	if err != nil {
		t.Fatalf("parse access: %v", err)
	}
	if claims.PrincipalID != "p1" || claims.SessionID != "s1" || !claims.MFAVerified || claims.ID != issued.ID {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestAccessExpires(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	m := newEdManager(t, clock)

	issued, err := m.CreateAccess("p1", "s1", false)
	if err != nil {
		t.Fatalf("create access: %v", err)
	}
	clock.t = clock.t.Add(16 * time.Minute)
	if _, err := m.ParseAccess(issued.Token); !errors.Is(err, ErrExpired) {
		t.Fatalf("expected ErrExpired, got %v", err)
	}
}

func TestChallengeIsNotAccess(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	m := newEdManager(t, clock)

	ch, err := m.CreateChallenge("p1")
	if err != nil {
		t.Fatalf("create challenge: %v", err)
	}
	if _, err := m.ParseAccess(ch.Token); !errors.Is(err, ErrInvalid) {
		t.Fatalf("challenge accepted as access token: %v", err)
	}
	claims, err := m.ParseChallenge(ch.Token)
	if err != nil || claims.PrincipalID != "p1" {
		t.Fatalf("parse challenge: %+v %v", claims, err)
	}

	access, err := m.CreateAccess("p1", "s1", false)
	if err != nil {
		t.Fatalf("create access: %v", err)
	}
	if _, err := m.ParseChallenge(access.Token); !errors.Is(err, ErrInvalid) {
		t.Fatalf("access accepted as challenge: %v", err)
	}
}

func TestParseAccessRejectsWrongAlgorithm(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	m := newEdManager(t, clock)

	claims := AccessClaims{
		Type:        typeAccess,
		PrincipalID: "p1",
		SessionID:   "s1",
		RegisteredClaims: gjwt.RegisteredClaims{
			ExpiresAt: gjwt.NewNumericDate(clock.t.Add(time.Minute)),
			IssuedAt:  gjwt.NewNumericDate(clock.t),
		},
	}
	token, err := gjwt.NewWithClaims(gjwt.SigningMethodHS256, claims).SignedString([]byte("secret-secret-secret-secret-secret"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	if _, err := m.ParseAccess(token); !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected wrong algorithm to be rejected, got %v", err)
	}
}

func TestParseAccessRejectsForeignAudience(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	key := []byte("0123456789abcdef0123456789abcdef")
	issuer, err := NewManager(Config{AccessTTL: time.Minute, SigningMethod: MethodHS256, PrivateKey: key, Audience: "other", Now: clock.Now})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	verifier, err := NewManager(Config{AccessTTL: time.Minute, SigningMethod: MethodHS256, PrivateKey: key, Audience: "api", Now: clock.Now})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	issued, err := issuer.CreateAccess("p1", "s1", false)
	if err != nil {
		t.Fatalf("create access: %v", err)
	}
	if _, err := verifier.ParseAccess(issued.Token); !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected audience mismatch, got %v", err)
	}
}

func TestKeyRotationWithVerifyKeys(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	oldPub, oldPriv, _ := ed25519.GenerateKey(rand.Reader)
	newPub, newPriv, _ := ed25519.GenerateKey(rand.Reader)

	oldM, err := NewManager(Config{AccessTTL: time.Minute, SigningMethod: MethodEd25519, PrivateKey: oldPriv, KeyID: "k1", Now: clock.Now})
	if err != nil {
		t.Fatalf("old manager: %v", err)
	}
	rotated, err := NewManager(Config{
		AccessTTL:     time.Minute,
		SigningMethod: MethodEd25519,
		PrivateKey:    newPriv,
		KeyID:         "k2",
		VerifyKeys:    map[string][]byte{"k1": oldPub, "k2": newPub},
		Now:           clock.Now,
	})
	if err != nil {
		t.Fatalf("rotated manager: %v", err)
	}

	oldToken, err := oldM.CreateAccess("p1", "s1", false)
	if err != nil {
		t.Fatalf("create access: %v", err)
	}
	if _, err := rotated.ParseAccess(oldToken.Token); err != nil {
		t.Fatalf("token signed with previous key should verify: %v", err)
	}
}

func TestNewManagerRejectsBadConfig(t *testing.T) {
	if _, err := NewManager(Config{SigningMethod: MethodHS256, PrivateKey: make([]byte, 32)}); err == nil {
		t.Fatal("expected TTL error")
	}
	if _, err := NewManager(Config{AccessTTL: time.Minute, SigningMethod: MethodHS256, PrivateKey: []byte("short")}); err == nil {
		t.Fatal("expected key length error")
	}
	if _, err := NewManager(Config{AccessTTL: time.Minute, SigningMethod: "rs512"}); err == nil {
		t.Fatal("expected unsupported method error")
	}
}
