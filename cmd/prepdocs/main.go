// Package main 是 prepdocs 批处理命令行的入口。
package main

import (
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
