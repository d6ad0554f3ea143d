package main

import (
	"fmt"

	"github.com/any-hub/any-cache/internal/version"
)

// printVersion 输出注入的版本 + 提交信息，以及可用的角色。
func printVersion() {
	fmt.Fprintln(stdOut, version.Full())
	fmt.Fprintln(stdOut, "roles: proxy, server")
}
