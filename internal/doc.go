// Package internal holds helpers private to the module: token encoding and
// hashing, secure random secrets.
//
// # Sub-packages
//
//   - ids: sortable ULID identifiers for audit events
//   - rate: login and refresh throttles (in-process and Redis)
//   - security: posture report behind Engine.SecurityReport
package internal
