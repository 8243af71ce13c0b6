package redisbook

import "github.com/redis/go-redis/v9"

// Every read-then-write sequence on the book runs as one server-side
// script, so no two processor iterations can consume the same entry.
//
// Parity contract: internal/adapter/in_memory mirrors these scripts
// operation for operation behind the same port, and its tests are the
// executable description of their semantics. Any behavioral change
// here must land in both adapters. Known representational differences:
// scores travel as Lua numbers here and float64 there, and
// fillableScript reports its sum normalized to 8 decimal places (the
// precision quantities are stored with) where the in-memory adapter
// sums exact decimals.

// KEYS: queue, entry, price, qty, ioc, anchor
// ARGV: id, member, score, price, qty, iocFlag, anchor, queueName
var insertScript = redis.NewScript(`
if redis.call('HEXISTS', KEYS[2], ARGV[1]) == 1 then
  return 0
end
redis.call('ZADD', KEYS[1], ARGV[3], ARGV[2])
redis.call('HSET', KEYS[2], ARGV[1], ARGV[8] .. '|' .. ARGV[2])
redis.call('HSET', KEYS[3], ARGV[1], ARGV[4])
redis.call('HSET', KEYS[4], ARGV[1], ARGV[5])
if ARGV[6] == '1' then
  redis.call('HSET', KEYS[5], ARGV[1], '1')
end
if ARGV[7] ~= '' then
  redis.call('HSET', KEYS[6], ARGV[1], ARGV[7])
end
return 1
`)

// KEYS: entry, price, qty, ioc, anchor
// ARGV: id, queueKeyPrefix
var removeScript = redis.NewScript(`
local ent = redis.call('HGET', KEYS[1], ARGV[1])
if not ent then
  return 0
end
local sep = string.find(ent, '|', 1, true)
local queue = string.sub(ent, 1, sep - 1)
local member = string.sub(ent, sep + 1)
redis.call('ZREM', ARGV[2] .. queue, member)
redis.call('HDEL', KEYS[1], ARGV[1])
redis.call('HDEL', KEYS[2], ARGV[1])
redis.call('HDEL', KEYS[3], ARGV[1])
redis.call('HDEL', KEYS[4], ARGV[1])
redis.call('HDEL', KEYS[5], ARGV[1])
return 1
`)

// KEYS: buyQueue, sellQueue, entry, price, qty, ioc, anchor
// ARGV: buyIsMarket, sellIsMarket, priceCeiling, finalBuy, finalSell
//
// Returns {'empty'}, {'cancel', side, id, member, score} or
// {'match', bMember, bScore, bIoc, bAnchor, sMember, sScore, sIoc, sAnchor}.
// A spent IOC top is only sentenced on the final probe for its side
// (ARGV[4]/ARGV[5]); earlier probes leave it for a combination that
// could still fill it.
var popMatchedPairScript = redis.NewScript(`
local function top(key)
  local r = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
  if #r == 0 then return nil end
  return { member = r[1], score = tonumber(r[2]) }
end
local function atScore(key, score)
  local r = redis.call('ZRANGEBYSCORE', key, score, score, 'LIMIT', 0, 1)
  if #r == 0 then return nil end
  return { member = r[1], score = score }
end
local function oid(member)
  local i = string.find(member, ':', 1, true)
  return string.sub(member, i + 1)
end
local function meta(member)
  local id = oid(member)
  return id, redis.call('HGET', KEYS[6], id), redis.call('HGET', KEYS[7], id)
end
local function purge(member)
  local id = oid(member)
  redis.call('HDEL', KEYS[3], id)
  redis.call('HDEL', KEYS[4], id)
  redis.call('HDEL', KEYS[5], id)
  redis.call('HDEL', KEYS[6], id)
  redis.call('HDEL', KEYS[7], id)
end

local b = top(KEYS[1])
local s = top(KEYS[2])
local bid, bioc, banchor
local sid, sioc, sanchor
if b then bid, bioc, banchor = meta(b.member) end
if s then sid, sioc, sanchor = meta(s.member) end

-- an anchored IOC market leg may only see the counter-level it first touched
if b and ARGV[1] == '1' and banchor then
  s = atScore(KEYS[2], tonumber(banchor))
  if not s then
    return {'cancel', 'BUY', bid, b.member, tostring(b.score)}
  end
  sid, sioc, sanchor = meta(s.member)
end
if s and ARGV[2] == '1' and sanchor then
  b = atScore(KEYS[1], tonumber(sanchor))
  if not b then
    return {'cancel', 'SELL', sid, s.member, tostring(s.score)}
  end
  bid, bioc, banchor = meta(b.member)
end

if not b or not s then
  -- a lone IOC top has had its attempt and must not rest, but only the
  -- side's final probe may pronounce that
  if b and bioc and ARGV[4] == '1' then
    return {'cancel', 'BUY', bid, b.member, tostring(b.score)}
  end
  if s and sioc and ARGV[5] == '1' then
    return {'cancel', 'SELL', sid, s.member, tostring(s.score)}
  end
  return {'empty'}
end

local crossed = true
if ARGV[1] ~= '1' and ARGV[2] ~= '1' then
  crossed = (tonumber(ARGV[3]) - b.score) >= s.score
end
if not crossed then
  if bioc and ARGV[4] == '1' then
    return {'cancel', 'BUY', bid, b.member, tostring(b.score)}
  end
  if sioc and ARGV[5] == '1' then
    return {'cancel', 'SELL', sid, s.member, tostring(s.score)}
  end
  return {'empty'}
end

redis.call('ZREM', KEYS[1], b.member)
redis.call('ZREM', KEYS[2], s.member)
local res = {'match',
  b.member, tostring(b.score), bioc and '1' or '0', banchor or '',
  s.member, tostring(s.score), sioc and '1' or '0', sanchor or ''}
purge(b.member)
purge(s.member)
return res
`)

// KEYS: oppositeLimitQueue, oppositeMarketQueue, qty
// ARGV: maxScore
var fillableScript = redis.NewScript(`
local total = 0
local function add(member)
  local i = string.find(member, ':', 1, true)
  local q = redis.call('HGET', KEYS[3], string.sub(member, i + 1))
  if q then total = total + tonumber(q) end
end
for _, m in ipairs(redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1])) do
  add(m)
end
for _, m in ipairs(redis.call('ZRANGE', KEYS[2], 0, -1)) do
  add(m)
end
return string.format('%.8f', total)
`)
