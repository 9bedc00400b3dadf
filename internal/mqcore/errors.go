package mqcore

import "errors"

// 客户端族共享的哨兵错误，由各客户端包重导出。
// 前缀使用 "mq:"，不暴露 internal 包名。
var (
	// ErrNilMessage 传入的消息为空。
	ErrNilMessage = errors.New("mq: nil message")

	// ErrNilHandler 传入的处理函数为空。
	ErrNilHandler = errors.New("mq: nil handler")

	// ErrClosed 客户端已关闭。各客户端的关闭错误以它为 cause。
	ErrClosed = errors.New("mq: client closed")

	// ErrFatal 客户端进入不可恢复状态，例如幂等生产者的序号错乱，只能重建客户端。
	// 各客户端的致命错误以它为 cause。
	ErrFatal = errors.New("mq: client in fatal state")
)

// Terminal 报告 err 是否意味着客户端已不可用：已关闭或进入致命状态。
// 消费循环与重试遇到这类错误时应当退出而不是退避。
func Terminal(err error) bool {
	return errors.Is(err, ErrClosed) || errors.Is(err, ErrFatal)
}
