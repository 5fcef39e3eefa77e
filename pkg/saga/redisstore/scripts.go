package redisstore

import "github.com/redis/go-redis/v9"

// createScript inserts an instance unless the hash already exists.
// KEYS[1] = instance hash
// KEYS[2] = stalled index of the new state
// KEYS[3] = timed index of the new state
// ARGV[1] = state, ARGV[2] = token or "", ARGV[3] = timestamp,
// ARGV[4] = index score, ARGV[5] = correlation id, ARGV[6] = "1" if the state is timed
var createScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 1 then
    return 0
end
redis.call("HSET", KEYS[1],
    "state", ARGV[1],
    "version", 1,
    "token", ARGV[2],
    "created_at", ARGV[3],
    "updated_at", ARGV[3])
if ARGV[6] == "1" then
    redis.call("ZADD", KEYS[3], ARGV[4], ARGV[5])
    if ARGV[2] == "" then
        redis.call("ZADD", KEYS[2], ARGV[4], ARGV[5])
    end
end
return 1
`)

// updateScript writes an instance if its stored version matches.
// KEYS[1] = instance hash
// KEYS[2] = stalled index of the new state
// KEYS[3] = timed index of the new state
// ARGV[1] = expected version, ARGV[2] = state, ARGV[3] = token or "",
// ARGV[4] = timestamp, ARGV[5] = index score, ARGV[6] = correlation id,
// ARGV[7] = stalled index key prefix, ARGV[8] = timed index key prefix,
// ARGV[9] = "1" if the new state is timed
// Returns {"missing"}, {"conflict", stored version} or {"ok", new version, created_at}.
var updateScript = redis.NewScript(`
local cur = redis.call("HGET", KEYS[1], "version")
if not cur then
    return {"missing"}
end
if cur ~= ARGV[1] then
    return {"conflict", cur}
end
local old = redis.call("HGET", KEYS[1], "state")
local nv = tostring(tonumber(cur) + 1)
redis.call("HSET", KEYS[1],
    "state", ARGV[2],
    "version", nv,
    "token", ARGV[3],
    "updated_at", ARGV[4])
redis.call("ZREM", ARGV[7] .. old, ARGV[6])
redis.call("ZREM", ARGV[8] .. old, ARGV[6])
if ARGV[9] == "1" then
    redis.call("ZADD", KEYS[3], ARGV[5], ARGV[6])
    if ARGV[3] == "" then
        redis.call("ZADD", KEYS[2], ARGV[5], ARGV[6])
    end
end
return {"ok", nv, redis.call("HGET", KEYS[1], "created_at")}
`)
