package third_party

// 分布式锁脚本: KEYS[1] 为锁的 key, ARGV[1] 为持有者 token.
// 锁不存在或不属于该 token 时返回 0

// LuaReleaseLock 释放持有者的锁
const LuaReleaseLock = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`

// LuaRenewLock 续期持有者的锁, ARGV[2] 为新的过期秒数
const LuaRenewLock = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("EXPIRE", KEYS[1], ARGV[2])
end
return 0
`
