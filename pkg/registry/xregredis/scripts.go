package xregredis

import "github.com/redis/go-redis/v9"

// 脚本错误标记
const (
	errMismatch = "XREG_MISMATCH"
	errExpired  = "XREG_SESSION_EXPIRED"
)

// dropSessionLua 删除会话及其全部临时节点，每个节点产生一条 REMOVE 变更。
// 需要调用方定义 P（键前缀）、IDX、REV、EV、MAXLEN。
const dropSessionLua = `
local function drop(sid)
  local owned = P .. ':sn:' .. sid
  for _, path in ipairs(redis.call('SMEMBERS', owned)) do
    local node = P .. ':n:' .. path
    local f = redis.call('HMGET', node, 'o', 'ver')
    if f[1] == sid then
      redis.call('DEL', node)
      redis.call('ZREM', IDX, path)
      local rev = redis.call('INCR', REV)
      redis.call('XADD', EV, 'MAXLEN', MAXLEN, tostring(rev) .. '-0',
        't', '3', 'p', path, 'v', '', 'ver', f[2])
    end
  end
  redis.call('DEL', owned, P .. ':s:' .. sid)
  redis.call('ZREM', P .. ':sx', sid)
end
`

// putScript 创建或更新节点
//
// KEYS: node, idx, rev, ev, session, session-nodes
// ARGV: path, value, ephemeral(0|1), session, maxlen
// 返回 {type, version, revision, createRevision}
var putScript = redis.NewScript(`
local eph = ARGV[3]
if redis.call('EXISTS', KEYS[1]) == 1 then
  if redis.call('HGET', KEYS[1], 'e') ~= eph then
    return redis.error_reply('` + errMismatch + `')
  end
  local ver = redis.call('HINCRBY', KEYS[1], 'ver', 1)
  redis.call('HSET', KEYS[1], 'v', ARGV[2])
  local rev = redis.call('INCR', KEYS[3])
  redis.call('XADD', KEYS[4], 'MAXLEN', ARGV[5], tostring(rev) .. '-0',
    't', '2', 'p', ARGV[1], 'v', ARGV[2], 'ver', tostring(ver))
  return {2, ver, rev, tonumber(redis.call('HGET', KEYS[1], 'cr'))}
end
local owner = ''
if eph == '1' then
  if redis.call('EXISTS', KEYS[5]) == 0 then
    return redis.error_reply('` + errExpired + `')
  end
  redis.call('SADD', KEYS[6], ARGV[1])
  owner = ARGV[4]
end
local rev = redis.call('INCR', KEYS[3])
redis.call('HSET', KEYS[1], 'v', ARGV[2], 'e', eph, 'o', owner, 'ver', '0', 'cr', tostring(rev))
redis.call('ZADD', KEYS[2], 0, ARGV[1])
redis.call('XADD', KEYS[4], 'MAXLEN', ARGV[5], tostring(rev) .. '-0',
  't', '1', 'p', ARGV[1], 'v', ARGV[2], 'ver', '0')
return {1, 0, rev, rev}
`)

// deleteScript 删除节点
//
// KEYS: node, idx, rev, ev
// ARGV: path, maxlen, prefix
// 返回 {existed, version, revision}
var deleteScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return {0, 0, 0}
end
local f = redis.call('HMGET', KEYS[1], 'o', 'ver')
if f[1] and f[1] ~= '' then
  redis.call('SREM', ARGV[3] .. ':sn:' .. f[1], ARGV[1])
end
redis.call('DEL', KEYS[1])
redis.call('ZREM', KEYS[2], ARGV[1])
local rev = redis.call('INCR', KEYS[3])
redis.call('XADD', KEYS[4], 'MAXLEN', ARGV[2], tostring(rev) .. '-0',
  't', '3', 'p', ARGV[1], 'v', '', 'ver', f[2])
return {1, tonumber(f[2]), rev}
`)

// keepAliveScript 回收过期会话后续约当前会话
//
// KEYS: sessions-index, idx, rev, ev
// ARGV: prefix, session, now-ms, maxlen
var keepAliveScript = redis.NewScript(`
local P, IDX, REV, EV, MAXLEN = ARGV[1], KEYS[2], KEYS[3], KEYS[4], ARGV[4]
` + dropSessionLua + `
for _, sid in ipairs(redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[3])) do
  if redis.call('EXISTS', P .. ':s:' .. sid) == 0 then
    drop(sid)
  end
end
local skey = P .. ':s:' .. ARGV[2]
local ttl = redis.call('GET', skey)
if not ttl then
  drop(ARGV[2])
  return redis.error_reply('` + errExpired + `')
end
redis.call('PEXPIRE', skey, ttl)
redis.call('ZADD', KEYS[1], tonumber(ARGV[3]) + tonumber(ttl), ARGV[2])
return 1
`)

// closeSessionScript 关闭会话
//
// KEYS: sessions-index, idx, rev, ev
// ARGV: prefix, session, maxlen
var closeSessionScript = redis.NewScript(`
local P, IDX, REV, EV, MAXLEN = ARGV[1], KEYS[2], KEYS[3], KEYS[4], ARGV[3]
` + dropSessionLua + `
local alive = redis.call('EXISTS', P .. ':s:' .. ARGV[2])
drop(ARGV[2])
if alive == 0 then
  return redis.error_reply('` + errExpired + `')
end
return 1
`)
