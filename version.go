package main

import (
	"fmt"

	"github.com/any-hub/imagehub/internal/version"
)

// printVersion 输出版本、提交信息以及下载请求默认使用的 User-Agent。
func printVersion() {
	fmt.Fprintln(stdOut, version.Full())
	fmt.Fprintf(stdOut, "user-agent: %s\n", version.UserAgent())
}
