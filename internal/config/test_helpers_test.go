package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func fixturePath(t *testing.T, name string) string {
	t.Helper()
	path := filepath.Join("testdata", name)
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("配置样例不存在: %v", err)
	}
	return path
}

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("写入临时配置失败: %v", err)
	}
	return path
}

// validConfig 返回一份能通过 Validate 的最小配置，供各校验用例在其上修改单个字段。
func validConfig() *Config {
	return &Config{
		Global: GlobalConfig{
			ListenPort:             5000,
			StoragePath:            "./data",
			Namespace:              "default",
			MaxCacheAge:            Duration(time.Hour),
			MaxConcurrentDownloads: 2,
			ExecutionOrder:         "fifo",
			DownloadTimeout:        Duration(time.Second),
		},
	}
}
