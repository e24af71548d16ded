package redisstore

import "github.com/redis/go-redis/v9"

// Job hashes are addressed from inside the scripts by prefixing the ticket key, so the store
// only works against a single redis node (not a cluster).

// KEYS: job, pending
// ARGV: ticket key, now
var enqueueScript = redis.NewScript(`
local status = redis.call('HGET', KEYS[1], 'status')
if status == 'pending' or status == 'assigned' then
	return 0
end
redis.call('DEL', KEYS[1])
redis.call('HSET', KEYS[1], 'status', 'pending', 'enqueuedAt', ARGV[2])
redis.call('RPUSH', KEYS[2], ARGV[1])
return 1
`)

// KEYS: pending, assigned, busy, workers
// ARGV: worker id, now, job key prefix
var claimScript = redis.NewScript(`
redis.call('HSET', KEYS[4], ARGV[1], ARGV[2])
if redis.call('HEXISTS', KEYS[3], ARGV[1]) == 1 then
	return {'busy'}
end
while true do
	local key = redis.call('LPOP', KEYS[1])
	if not key then
		return {'none'}
	end
	local job = ARGV[3] .. key
	if redis.call('HGET', job, 'status') == 'pending' then
		redis.call('HSET', job, 'status', 'assigned', 'assignedTo', ARGV[1], 'lastSeen', ARGV[2])
		redis.call('ZADD', KEYS[2], ARGV[2], key)
		redis.call('HSET', KEYS[3], ARGV[1], key)
		return {'assigned', key}
	end
end
`)

const checkAssigned = `
if redis.call('HGET', KEYS[1], 'status') ~= 'assigned'
	or redis.call('HGET', KEYS[1], 'assignedTo') ~= ARGV[1]
	or redis.call('HGET', KEYS[3], ARGV[1]) ~= ARGV[2] then
	return 0
end
`

// KEYS: job, assigned, busy, workers
// ARGV: worker id, ticket key, now
var heartbeatScript = redis.NewScript(checkAssigned + `
redis.call('HSET', KEYS[1], 'lastSeen', ARGV[3])
redis.call('ZADD', KEYS[2], ARGV[3], ARGV[2])
redis.call('HSET', KEYS[4], ARGV[1], ARGV[3])
return 1
`)

// KEYS: job, assigned, busy
// ARGV: worker id, ticket key, response, ttl in seconds
var completeScript = redis.NewScript(checkAssigned + `
redis.call('HSET', KEYS[1], 'status', 'completed', 'response', ARGV[3])
redis.call('HDEL', KEYS[1], 'assignedTo', 'lastSeen')
redis.call('ZREM', KEYS[2], ARGV[2])
redis.call('HDEL', KEYS[3], ARGV[1])
if tonumber(ARGV[4]) > 0 then
	redis.call('EXPIRE', KEYS[1], ARGV[4])
end
return 1
`)

// KEYS: assigned, pending, busy
// ARGV: stale before, job key prefix
var requeueScript = redis.NewScript(`
local stale = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', '(' .. ARGV[1])
for _, key in ipairs(stale) do
	local job = ARGV[2] .. key
	local worker = redis.call('HGET', job, 'assignedTo')
	if worker and redis.call('HGET', KEYS[3], worker) == key then
		redis.call('HDEL', KEYS[3], worker)
	end
	redis.call('ZREM', KEYS[1], key)
	if redis.call('HGET', job, 'status') == 'assigned' then
		redis.call('HSET', job, 'status', 'pending')
		redis.call('HDEL', job, 'assignedTo', 'lastSeen')
		redis.call('RPUSH', KEYS[2], key)
	end
end
return stale
`)

// KEYS: job
var evictScript = redis.NewScript(`
if redis.call('HGET', KEYS[1], 'status') == 'completed' then
	return redis.call('DEL', KEYS[1])
end
return 0
`)
