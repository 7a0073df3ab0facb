// Package reporter 把 conductor 运行过程中的事件输出到控制台、文件或 webhook。
//
// # 架构
//
//   - Reporter: 所有报告器实现的接口
//   - Registry: 按类型注册报告器工厂
//   - Manager: 把事件分发给多个报告器，实现 conductor.EventSink
//
// # 用法
//
//	registry, _ := reporter.NewDefaultRegistry()
//	manager := reporter.NewManager(registry)
//	manager.AddReporterFromConfig(ctx, &reporter.ReporterConfig{
//	    Type:    reporter.ReporterTypeConsole,
//	    Enabled: true,
//	})
//
//	c, _ := conductor.New(workers, opts, manager)
//	c.Run(ctx)
//	manager.Close(ctx)
package reporter
