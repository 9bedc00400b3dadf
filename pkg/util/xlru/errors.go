package xlru

import "errors"

var (
	// ErrInvalidSize 缓存容量不大于 0 或超过上限。
	ErrInvalidSize = errors.New("xlru: size must be in (0, 16777216]")

	// ErrInvalidTTL TTL 为负。
	ErrInvalidTTL = errors.New("xlru: TTL must not be negative")
)
