//go:build unix

package xqueue

import "golang.org/x/sys/unix"

// fdWriter 将原始文件描述符适配为 io.Writer。
type fdWriter int

func (fd fdWriter) Write(p []byte) (int, error) {
	return unix.Write(int(fd), p)
}
