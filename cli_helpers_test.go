package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// cliOutput 收集一次 run 调用写入 stdOut/stdErr 的内容。
type cliOutput struct {
	stdout *bytes.Buffer
	stderr *bytes.Buffer
}

// captureCLI 在测试期间把 CLI 输出重定向到内存缓冲区，结束时恢复。
func captureCLI(t *testing.T) *cliOutput {
	t.Helper()

	out := &cliOutput{stdout: &bytes.Buffer{}, stderr: &bytes.Buffer{}}
	prevOut, prevErr := stdOut, stdErr
	stdOut, stdErr = out.stdout, out.stderr
	t.Cleanup(func() {
		stdOut, stdErr = prevOut, prevErr
	})
	return out
}

// configFixture 返回 internal/config/testdata 下的配置样例路径；go test 以包目录为工作目录。
func configFixture(t *testing.T, name string) string {
	t.Helper()
	path, err := filepath.Abs(filepath.Join("internal", "config", "testdata", name))
	if err != nil {
		t.Fatalf("解析配置样例路径失败: %v", err)
	}
	return path
}

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	file := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(file, []byte(strings.TrimSpace(content)), 0o600); err != nil {
		t.Fatalf("写入配置失败: %v", err)
	}
	return file
}
