// Package federated verifies identity assertions issued by external
// providers and maps them to ExternalIdentity values the engine can bind to
// principals.
package federated

import (
	"context"
	"crypto/ed25519"
	"crypto/rsa"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrRejected is returned for any assertion that fails verification.
var ErrRejected = errors.New("external token rejected")

// ExternalIdentity is the verified subject of an external assertion.
type ExternalIdentity struct {
	Provider      string
	Subject       string
	Email         string
	EmailVerified bool
}

// ExternalID is the stable key stored on the principal.
func (id ExternalIdentity) ExternalID() string {
	return id.Provider + ":" + id.Subject
}

// Verifier validates one token type.
type Verifier interface {
	TokenType() string
	VerifyExternalToken(ctx context.Context, token string) (*ExternalIdentity, error)
}

// JWTConfig configures a verifier for OIDC ID tokens or similar signed JWTs.
type JWTConfig struct {
	Provider  string
	TokenType string
	Issuer    string
	Audience  string
	Leeway    time.Duration
	// Keys maps kid to an *rsa.PublicKey, ed25519.PublicKey or HMAC []byte.
	// The empty kid matches tokens without a kid header.
	Keys map[string]interface{}
	Now  func() time.Time
}

// JWTVerifier validates signed JWT assertions with golang-jwt.
type JWTVerifier struct {
	cfg     JWTConfig
	methods []string
}

type idClaims struct {
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	jwt.RegisteredClaims
}

// NewJWTVerifier checks cfg and derives the accepted algorithms from the keys.
func NewJWTVerifier(cfg JWTConfig) (*JWTVerifier, error) {
	if strings.TrimSpace(cfg.Provider) == "" {
		return nil, errors.New("federated: provider is required")
	}
	if cfg.TokenType == "" {
		cfg.TokenType = "id_token:" + cfg.Provider
	}
	if cfg.Issuer == "" || cfg.Audience == "" {
		return nil, errors.New("federated: issuer and audience are required")
	}
	if len(cfg.Keys) == 0 {
		return nil, errors.New("federated: at least one key is required")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	seen := map[string]bool{}
	var methods []string
	add := func(algs ...string) {
		for _, a := range algs {
			if !seen[a] {
				seen[a] = true
				methods = append(methods, a)
			}
		}
	}
	for kid, k := range cfg.Keys {
		switch k.(type) {
		case *rsa.PublicKey:
			add("RS256", "RS384", "RS512")
		case ed25519.PublicKey:
			add("EdDSA")
		case []byte:
			add("HS256")
		default:
			return nil, fmt.Errorf("federated: unsupported key type for kid %q", kid)
		}
	}
	return &JWTVerifier{cfg: cfg, methods: methods}, nil
}

func (v *JWTVerifier) TokenType() string { return v.cfg.TokenType }

// VerifyExternalToken validates signature, issuer, audience and lifetime.
func (v *JWTVerifier) VerifyExternalToken(_ context.Context, token string) (*ExternalIdentity, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods(v.methods),
		jwt.WithIssuer(v.cfg.Issuer),
		jwt.WithAudience(v.cfg.Audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(v.cfg.Now),
	}
	if v.cfg.Leeway > 0 {
		opts = append(opts, jwt.WithLeeway(v.cfg.Leeway))
	}

	claims := &idClaims{}
	parsed, err := jwt.NewParser(opts...).ParseWithClaims(token, claims, v.key)
	if err != nil || !parsed.Valid {
		return nil, fmt.Errorf("%w: %v", ErrRejected, err)
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrRejected)
	}
	return &ExternalIdentity{
		Provider:      v.cfg.Provider,
		Subject:       claims.Subject,
		Email:         strings.ToLower(strings.TrimSpace(claims.Email)),
		EmailVerified: claims.EmailVerified,
	}, nil
}

func (v *JWTVerifier) key(t *jwt.Token) (interface{}, error) {
	kid, _ := t.Header["kid"].(string)
	k, ok := v.cfg.Keys[kid]
	if !ok {
		return nil, fmt.Errorf("unknown kid %q", kid)
	}
	switch k.(type) {
	case *rsa.PublicKey:
		if _, ok := t.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, errors.New("algorithm does not match key")
		}
	case ed25519.PublicKey:
		if _, ok := t.Method.(*jwt.SigningMethodEd25519); !ok {
			return nil, errors.New("algorithm does not match key")
		}
	case []byte:
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("algorithm does not match key")
		}
	}
	return k, nil
}
