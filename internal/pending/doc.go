// Package pending 提供"一次性解析"的待定句柄及其登记表。
//
// Handle 只会从待定状态转换到完成状态一次；后续的 Resolve 调用被忽略。
// Wait 超时不会改变句柄状态，之后的 Wait 仍可能成功。
//
// Registry 以内部序号关联句柄，引擎只持有序号，解析时按序号查表，
// 而不是按消息内容匹配，因此重试或重复的载荷不会产生歧义。
//
// Operation 在 Handle 之上增加结果解码器，是管理操作的通用待定对象：
// 新增一种管理操作只需提供解码器，等待、超时与错误传播逻辑全部复用。
package pending
