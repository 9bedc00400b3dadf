//go:build !unix

package xqueue

import "errors"

var errFDUnsupported = errors.New("xqueue: fd io event unsupported on this platform")

// fdWriter 在非 unix 平台上不可用，写入总是失败并计入 IOErrors。
type fdWriter int

func (fdWriter) Write([]byte) (int, error) {
	return 0, errFDUnsupported
}
