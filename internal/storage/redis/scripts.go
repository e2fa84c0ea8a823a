package redis

const (
	// replaceSnapshotScript atomically replaces the three snapshot hashes.
	// ARGV carries three counts followed by that many field/value pairs for
	// each hash, in sessions, daily, lifetime order.
	replaceSnapshotScript = `
local sessions_key = KEYS[1]  -- {prefix}:snapshot:sessions
local daily_key = KEYS[2]     -- {prefix}:snapshot:daily
local lifetime_key = KEYS[3]  -- {prefix}:snapshot:lifetime
local meta_key = KEYS[4]      -- {prefix}:snapshot:meta

local counts = {tonumber(ARGV[1]), tonumber(ARGV[2]), tonumber(ARGV[3])}
local saved_at = ARGV[4]
local targets = {sessions_key, daily_key, lifetime_key}

redis.call('DEL', sessions_key, daily_key, lifetime_key)

local idx = 5
for i = 1, 3 do
  for _ = 1, counts[i] do
    redis.call('HSET', targets[i], ARGV[idx], ARGV[idx + 1])
    idx = idx + 2
  end
end

-- The meta key marks that a snapshot exists even if every hash is empty
redis.call('HSET', meta_key, 'saved_at', saved_at)

return 'OK'
`

	// appendReportScript atomically stores a period report and indexes it.
	appendReportScript = `
local report_key = KEYS[1]  -- {prefix}:report:{period}
local index_key = KEYS[2]   -- {prefix}:reports

local period = ARGV[1]
local closed_at = ARGV[2]
local score = tonumber(ARGV[3])

redis.call('DEL', report_key)
redis.call('HSET', report_key, 'period', period, 'closed_at', closed_at)

local idx = 4
while idx < #ARGV do
  redis.call('HSET', report_key, 'm:' .. ARGV[idx], ARGV[idx + 1])
  idx = idx + 2
end

redis.call('ZADD', index_key, score, period)

return 'OK'
`
)
