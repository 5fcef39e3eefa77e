// Package redisstore persists saga instances in Redis.
//
// Every instance is a hash under <prefix>:saga:<correlation id>. Create and
// Update run as Lua scripts, so the version check and the write happen
// atomically on the server. Instances in a timed state (see WithTimedStates)
// are also indexed in two sorted sets per state, both scored by update time:
// one holds every instance in the state, the other only those without a
// pending timeout. ListStalled reads both. Other states are not indexed.
package redisstore
