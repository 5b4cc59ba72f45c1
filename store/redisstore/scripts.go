package redisstore

import "github.com/redis/go-redis/v9"

// KEYS: session, first refresh link, principal set, expiry index.
// ARGV: session id, session ttl ms, refresh ttl ms, expiry score, session
// field count, session fields..., refresh fields...
const createSessionScript = `
if redis.call("EXISTS", KEYS[1]) == 1 or redis.call("EXISTS", KEYS[2]) == 1 then
  return 0
end
local sess_n = tonumber(ARGV[5])
local sess = {}
for i = 6, 5 + sess_n do
  sess[#sess + 1] = ARGV[i]
end
local rt = {}
for i = 6 + sess_n, #ARGV do
  rt[#rt + 1] = ARGV[i]
end
redis.call("HSET", KEYS[1], unpack(sess))
redis.call("PEXPIRE", KEYS[1], ARGV[2])
redis.call("HSET", KEYS[2], unpack(rt))
redis.call("PEXPIRE", KEYS[2], ARGV[3])
redis.call("SADD", KEYS[3], ARGV[1])
redis.call("ZADD", KEYS[4], ARGV[4], ARGV[1])
return 1
`

const (
	rotateNotFound   int64 = 0
	rotateOK         int64 = 1
	rotateSuperseded int64 = 2
	rotateConflict   int64 = 3
)

// KEYS: old link, next link, session, expiry index.
// ARGV: old hash, session id, next hash, access hash, access expiry,
// refresh expiry, now, next link ttl ms, session ttl ms, expiry score,
// next link fields...
const rotateRefreshScript = `
if redis.call("EXISTS", KEYS[1]) == 0 then
  return 0
end
local old = redis.call("HMGET", KEYS[1], "session_id", "revoked", "replaced_by")
if (old[3] and old[3] ~= "") or old[2] == "1" then
  return 2
end
if old[1] ~= ARGV[2] or redis.call("EXISTS", KEYS[3]) == 0 then
  return 0
end
local sess = redis.call("HMGET", KEYS[3], "status", "refresh_hash")
if sess[1] ~= "active" or sess[2] ~= ARGV[1] then
  return 2
end
if redis.call("EXISTS", KEYS[2]) == 1 then
  return 3
end
redis.call("HSET", KEYS[1], "replaced_by", ARGV[3], "revoked", "1", "revoked_reason", "rotated")
local rt = {}
for i = 11, #ARGV do
  rt[#rt + 1] = ARGV[i]
end
redis.call("HSET", KEYS[2], unpack(rt))
redis.call("HSET", KEYS[2], "replaces", ARGV[1])
redis.call("PEXPIRE", KEYS[2], ARGV[8])
redis.call("HSET", KEYS[3],
  "refresh_hash", ARGV[3],
  "access_hash", ARGV[4],
  "access_expires_at", ARGV[5],
  "refresh_expires_at", ARGV[6],
  "last_activity_at", ARGV[7])
redis.call("PEXPIRE", KEYS[3], ARGV[9])
redis.call("ZADD", KEYS[4], ARGV[10], ARGV[2])
return 1
`

// KEYS: session, expiry index.
// ARGV: status, reason, refresh key prefix, session id.
// Returns the session as it was before revocation, or an empty reply.
const revokeSessionScript = `
local before = redis.call("HGETALL", KEYS[1])
if #before == 0 then
  return {}
end
local st = redis.call("HGET", KEYS[1], "status")
if st == "active" or st == "suspicious" then
  redis.call("HSET", KEYS[1], "status", ARGV[1], "revoked_reason", ARGV[2])
end
local rh = redis.call("HGET", KEYS[1], "refresh_hash")
if rh and rh ~= "" then
  local rk = ARGV[3] .. rh
  if redis.call("EXISTS", rk) == 1 and redis.call("HGET", rk, "revoked") ~= "1" then
    redis.call("HSET", rk, "revoked", "1", "revoked_reason", ARGV[2])
  end
end
redis.call("ZREM", KEYS[2], ARGV[4])
return before
`

// KEYS: session, expiry index.
// ARGV: session id, refresh expiry the caller judged stale.
// A rotation in between changes refresh_expires_at and wins.
const expireSessionScript = `
local sess = redis.call("HMGET", KEYS[1], "status", "refresh_expires_at")
if not sess[1] then
  redis.call("ZREM", KEYS[2], ARGV[1])
  return 0
end
if sess[1] ~= "active" then
  redis.call("ZREM", KEYS[2], ARGV[1])
  return 0
end
if sess[2] ~= ARGV[2] then
  return 0
end
redis.call("HSET", KEYS[1], "status", "expired")
redis.call("ZREM", KEYS[2], ARGV[1])
return 1
`

// KEYS: record, index. ARGV: ttl ms, score, member, fields...
const putIfAbsentScript = `
if redis.call("EXISTS", KEYS[1]) == 1 then
  return 0
end
local fields = {}
for i = 4, #ARGV do
  fields[#fields + 1] = ARGV[i]
end
redis.call("HSET", KEYS[1], unpack(fields))
redis.call("PEXPIRE", KEYS[1], ARGV[1])
redis.call("ZADD", KEYS[2], ARGV[2], ARGV[3])
return 1
`

// KEYS: secret, index. ARGV: used_at, prune score, member.
const consumeSecretScript = `
if redis.call("EXISTS", KEYS[1]) == 0 then
  return 0
end
if redis.call("HSETNX", KEYS[1], "used_at", ARGV[1]) == 0 then
  return 0
end
redis.call("ZADD", KEYS[2], ARGV[2], ARGV[3])
return 1
`

var (
	createSessionLua = redis.NewScript(createSessionScript)
	rotateRefreshLua = redis.NewScript(rotateRefreshScript)
	revokeSessionLua = redis.NewScript(revokeSessionScript)
	expireSessionLua = redis.NewScript(expireSessionScript)
	putIfAbsentLua   = redis.NewScript(putIfAbsentScript)
	consumeSecretLua = redis.NewScript(consumeSecretScript)
)
