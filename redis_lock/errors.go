package redis_lock

import "errors"

var (
	ErrLockInUse   = errors.New("lock already acquired by other")
	ErrLockNotHeld = errors.New("lock is not held by this token")
)
