// Package security derives a posture report from engine settings. It is
// consumed by Engine.SecurityReport and the healthauthctl "config report"
// command and never changes behaviour.
package security
