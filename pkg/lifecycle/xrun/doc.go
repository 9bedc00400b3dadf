// Package xrun 管理客户端进程内多个长期任务的并发运行与协调关闭。
//
// 典型场景是命令行工具同时运行消费循环、指标 HTTP 服务与周期性积压报告：
// 任一任务返回错误、父 context 取消或收到终止信号时，其余任务都会收到取消。
//
//	err := xrun.Run(ctx, []xrun.Option{xrun.WithLogger(logger)},
//	    xrun.HTTPServer(srv, 5*time.Second),
//	    xrun.Ticker(10*time.Second, false, reportLag),
//	    consume,
//	)
//	if errors.Is(err, xrun.ErrSignal) {
//	    // 正常退出
//	}
//
// # 错误语义
//
// Wait 返回第一个非取消错误。Group 被 Cancel(cause) 或信号终止时返回该原因
// （信号为 *SignalError）；没有显式原因的取消返回 nil。
// 任务内部自行产生的 context.Canceled 不会被过滤。
//
// 直接使用 [NewGroup] 时不监听信号。
package xrun
