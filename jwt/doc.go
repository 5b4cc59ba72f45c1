// Package jwt issues and verifies the signed tokens of the authentication
// core: short-lived access tokens bound to a session, and MFA challenge
// tokens handed out between the credential step and the second factor.
//
// Verification is stateless. Session status and revocation are checked by
// the engine, not here.
package jwt
