package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	healthauth "github.com/ppulimamidy/PersonalHealthAssistant-sub005"
)

// Mode selects how a guard validates access tokens.
type Mode int

const (
	// ModeConfigured follows Config.Hardening.StrictValidation.
	ModeConfigured Mode = iota
	// ModeStrict loads the session and consults the revocation list.
	ModeStrict
)

type accessInfoContextKey struct{}

// guarded is what a guard leaves on the request context. strict records
// whether the session and revocation list were consulted.
type guarded struct {
	info   *healthauth.AccessInfo
	strict bool
}

func guardedFromContext(ctx context.Context) (guarded, bool) {
	g, ok := ctx.Value(accessInfoContextKey{}).(guarded)
	return g, ok && g.info != nil
}

// AccessInfoFromContext returns the access info stored by a guard.
func AccessInfoFromContext(ctx context.Context) (*healthauth.AccessInfo, bool) {
	g, ok := guardedFromContext(ctx)
	return g.info, ok
}

// Guard rejects requests without a valid bearer access token.
func Guard(engine *healthauth.Engine, mode Mode) func(http.Handler) http.Handler {
	strict := mode == ModeStrict
	if engine != nil && engine.Config().Hardening.StrictValidation {
		strict = true
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if engine == nil {
				unauthorized(w)
				return
			}

			token, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok {
				unauthorized(w)
				return
			}

			var (
				info *healthauth.AccessInfo
				err  error
			)
			if strict {
				info, err = engine.ValidateAccessStrict(r.Context(), token)
			} else {
				info, err = engine.ValidateAccess(r.Context(), token)
			}
			if err != nil {
				writeAuthError(w, err)
				return
			}

			ctx := context.WithValue(r.Context(), accessInfoContextKey{}, guarded{info: info, strict: strict})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(value string) (string, bool) {
	const bearer = "bearer "
	if len(value) < len(bearer) || !strings.EqualFold(value[:len(bearer)], bearer) {
		return "", false
	}

	token := strings.TrimSpace(value[len(bearer):])
	if token == "" {
		return "", false
	}

	return token, true
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="healthauth"`)
	http.Error(w, "unauthorized", http.StatusUnauthorized)
}

func writeAuthError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, healthauth.ErrUnavailable):
		http.Error(w, "service unavailable", http.StatusServiceUnavailable)
	case errors.Is(err, healthauth.ErrPermissionDenied):
		http.Error(w, "forbidden", http.StatusForbidden)
	default:
		unauthorized(w)
	}
}
