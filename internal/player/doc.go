// Package player 实现 worker 端的代理程序 (player)。
//
// player 只监听命令端口。每个连接由独立的 goroutine 处理，消息先经
// parseCommand 解析校验为封闭的命令类型，再交给执行逻辑：
//   - PHASE: 用载荷新建一个 Phase 替换当前持有的阶段，并立即回复确认
//   - RUN:   取出当前阶段 (同一阶段不会执行两次)，依次执行后把结果回传到阶段自带的地址
//
// 其他消息或解析失败只记录日志并尽力回复 ERROR，连接继续处理后续消息。
package player
