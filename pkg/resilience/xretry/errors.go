package xretry

import (
	"errors"

	retry "github.com/avast/retry-go/v5"
)

var (
	// ErrNilFunc 表示传入的函数为 nil。
	ErrNilFunc = errors.New("xretry: nil function")
)

// RetryableError 可自行声明是否可重试的错误。
type RetryableError interface {
	error
	Retryable() bool
}

// IsRetryable 判断 err 是否可重试。
// nil 不重试；实现 RetryableError 的按其声明；其余默认可重试。
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var re RetryableError
	if errors.As(err, &re) {
		return re.Retryable()
	}
	return true
}

// Unrecoverable 包装一个错误，使 Retryer 立即停止。
func Unrecoverable(err error) error {
	return retry.Unrecoverable(err)
}
