// conductor 是分布式系统测试编排工具的入口
package main

import (
	"os"

	"yqhp/conductor/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
