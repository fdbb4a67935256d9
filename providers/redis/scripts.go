package redis

import "github.com/go-redis/redis/v8"

// Each script reads the live generation and updates the mapping and the term index
// of that generation in one atomic step.
//
// KEYS[1] = generation key
// ARGV[1] = namespace base, ARGV[2] = term, ARGV[3] = product id, ARGV[4] = terminator

var addScript = redis.NewScript(`
local gen = redis.call('GET', KEYS[1]) or '0'
local base = ARGV[1] .. gen .. ':'
redis.call('ZADD', base .. 'ids:' .. ARGV[2], 0, ARGV[3])
redis.call('ZADD', base .. 'terms', 0, ARGV[2] .. ARGV[4])
return 1
`)

var removeScript = redis.NewScript(`
local gen = redis.call('GET', KEYS[1]) or '0'
local base = ARGV[1] .. gen .. ':'
local ids = base .. 'ids:' .. ARGV[2]
if redis.call('ZREM', ids, ARGV[3]) == 0 then
  return 0
end
if redis.call('ZCARD', ids) == 0 then
  redis.call('ZREM', base .. 'terms', ARGV[2] .. ARGV[4])
end
return 1
`)
