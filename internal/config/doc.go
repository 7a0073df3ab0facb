// Package config 提供 conductor 与 player 的配置管理功能。
//
// 引擎设置从 YAML 文件、环境变量和命令行参数加载，
// 优先级顺序为：默认值 < YAML 文件 < 环境变量 (CD_ 前缀) < 命令行参数。
// 测试定义 (主控文件、worker 文件、player 文件) 使用 INI 格式，由 LoadTest、
// LoadWorker 和 LoadPlayer 读取。
package config
