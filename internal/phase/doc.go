// Package phase 实现步骤 (Step) 与阶段 (Phase) 的执行模型。
//
// Step 是一条 shell 命令加上执行方式 (同步带超时或后台派生)；
// Phase 是一组有序的 Step 以及结果回传地址。Phase.Run 依次执行全部步骤，
// 单个步骤失败不会中断后续步骤；Phase.ReturnResults 通过 Transport
// 为每个结果建立一次连接回传，最后总是发送一个 DONE 哨兵结果。
package phase
