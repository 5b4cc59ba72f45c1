// Package redisstore keeps the hot-path state of the authentication core in
// Redis: sessions with their refresh rotation chains, the token revocation
// list and password-reset/email-verification secrets.
//
// Principals, devices, backup codes and RBAC data stay in a durable store;
// [Store.Backend] overlays the Redis-served contracts onto one.
//
// Conditional operations (session creation, refresh rotation, revocation,
// expiry and secret consumption) run as Lua scripts so a single Redis
// round-trip decides the winner. Every key shares the hash tag of the prefix,
// which keeps the scripts valid on Redis Cluster.
//
// # Key layout
//
//	<prefix>:sess:<id>              hash    session fields
//	<prefix>:psess:<principal>      set     session ids of a principal
//	<prefix>:sess_exp               zset    active session ids by refresh expiry (ms)
//	<prefix>:rt:<hash>              hash    refresh chain link
//	<prefix>:bl:<hash>              string  revocation expiry (unix ns)
//	<prefix>:bl_exp                 zset    revoked hashes by expiry (ms)
//	<prefix>:secret:<purpose>:<h>   hash    verification secret
//	<prefix>:secret_exp             zset    secrets by prune time (ms)
package redisstore
