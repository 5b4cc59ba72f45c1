package federated

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

func signRS(t *testing.T, key *rsa.PrivateKey, kid string, claims jwt.MapClaims) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	tok.Header["kid"] = kid
	s, err := tok.SignedString(key)
	require.NoError(t, err)
	return s
}

func TestJWTVerifierAcceptsValidIDToken(t *testing.T) {
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	now := time.Now()

	v, err := NewJWTVerifier(JWTConfig{
		Provider: "google",
		Issuer:   "https://accounts.google.com",
		Audience: "client-123",
		Keys:     map[string]interface{}{"k1": &priv.PublicKey},
		Now:      func() time.Time { return now },
	})
	require.NoError(t, err)
	require.Equal(t, "id_token:google", v.TokenType())

	token := signRS(t, priv, "k1", jwt.MapClaims{
		"iss":            "https://accounts.google.com",
		"aud":            "client-123",
		"sub":            "10769150350006150715113082367",
		"email":          "Jane@Example.com",
		"email_verified": true,
		"exp":            now.Add(time.Hour).Unix(),
		"iat":            now.Unix(),
	})

	id, err := v.VerifyExternalToken(context.Background(), token)
	require.NoError(t, err)
	require.Equal(t, "google:10769150350006150715113082367", id.ExternalID())
	require.Equal(t, "jane@example.com", id.Email)
	require.True(t, id.EmailVerified)
}

func TestJWTVerifierRejects(t *testing.T) {
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	other, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	now := time.Now()

	v, err := NewJWTVerifier(JWTConfig{
		Provider: "google",
		Issuer:   "iss",
		Audience: "aud",
		Keys:     map[string]interface{}{"k1": &priv.PublicKey},
		Now:      func() time.Time { return now },
	})
	require.NoError(t, err)

	base := func() jwt.MapClaims {
		return jwt.MapClaims{"iss": "iss", "aud": "aud", "sub": "s", "exp": now.Add(time.Minute).Unix()}
	}
	wrongAud := base()
	wrongAud["aud"] = "someone-else"
	expired := base()
	expired["exp"] = now.Add(-time.Minute).Unix()
	noSub := base()
	delete(noSub, "sub")

	cases := map[string]string{
		"audience":  signRS(t, priv, "k1", wrongAud),
		"expired":   signRS(t, priv, "k1", expired),
		"subject":   signRS(t, priv, "k1", noSub),
		"wrong key": signRS(t, other, "k1", base()),
		"kid":       signRS(t, priv, "k9", base()),
	}
	for name, tok := range cases {
		_, err := v.VerifyExternalToken(context.Background(), tok)
		require.ErrorIs(t, err, ErrRejected, name)
	}
}

func TestNewJWTVerifierValidates(t *testing.T) {
	_, err := NewJWTVerifier(JWTConfig{Issuer: "i", Audience: "a", Keys: map[string]interface{}{"": []byte("k")}})
	require.Error(t, err)
	_, err = NewJWTVerifier(JWTConfig{Provider: "p", Issuer: "i", Audience: "a", Keys: map[string]interface{}{"": 42}})
	require.Error(t, err)
}
