package middleware

import (
	"net/http"

	healthauth "github.com/ppulimamidy/PersonalHealthAssistant-sub005"
)

// RequirePermission allows the request only when the guarded principal holds
// action on resourceType. Requests that did not pass a guard are rejected
// as unauthorized. When the guard only checked the signature, the token is
// validated again in strict mode first, so a revoked session never reaches
// a privileged handler.
func RequirePermission(engine *healthauth.Engine, resourceType, action string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			g, ok := guardedFromContext(r.Context())
			if !ok || engine == nil {
				unauthorized(w)
				return
			}
			if !g.strict {
				token, ok := bearerToken(r.Header.Get("Authorization"))
				if !ok {
					unauthorized(w)
					return
				}
				info, err := engine.ValidateAccessStrict(r.Context(), token)
				if err != nil {
					writeAuthError(w, err)
					return
				}
				if info.SessionID != g.info.SessionID {
					unauthorized(w)
					return
				}
			}
			if err := engine.Require(r.Context(), g.info.PrincipalID, resourceType, action); err != nil {
				writeAuthError(w, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
