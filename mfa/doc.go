// Package mfa holds the second-factor primitives: TOTP codes (RFC 6238 via
// github.com/pquerna/otp), single-use backup codes and sealing of TOTP
// secrets at rest.
//
// Nothing here touches storage. The engine combines these primitives with
// the device and backup-code stores, the lockout policy and audit.
package mfa
