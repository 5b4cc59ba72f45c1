package middleware

import (
	"net/http"

	healthauth "github.com/ppulimamidy/PersonalHealthAssistant-sub005"
)

// RequireStrict is Guard with ModeStrict. Revoked sessions are rejected
// before their access tokens expire.
func RequireStrict(engine *healthauth.Engine) func(http.Handler) http.Handler {
	return Guard(engine, ModeStrict)
}
