package config

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/any-hub/imagehub/internal/download"
	"github.com/any-hub/imagehub/internal/imagecache"
)

// Duration 提供更灵活的反序列化能力，同时兼容纯秒整数与 Go Duration 字符串。
type Duration time.Duration

// UnmarshalText 使 Viper 可以识别诸如 "30s"、"5m" 或纯数字秒值等配置写法。
func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		*d = Duration(0)
		return nil
	}

	if seconds, err := time.ParseDuration(raw); err == nil {
		*d = Duration(seconds)
		return nil
	}

	if intVal, err := parseInt(raw); err == nil {
		*d = Duration(time.Duration(intVal) * time.Second)
		return nil
	}

	return fmt.Errorf("invalid duration value: %s", raw)
}

// DurationValue 返回真实的 time.Duration，便于调用方计算。
func (d Duration) DurationValue() time.Duration {
	return time.Duration(d)
}

// parseInt 支持十进制或 0x 前缀的十六进制字符串解析。
func parseInt(value string) (int64, error) {
	if strings.HasPrefix(value, "0x") || strings.HasPrefix(value, "0X") {
		return strconv.ParseInt(value, 0, 64)
	}
	return strconv.ParseInt(value, 10, 64)
}

// GlobalConfig 描述全局运行时行为：日志、HTTP 端口、两级缓存与下载器参数。
type GlobalConfig struct {
	ListenPort    int    `mapstructure:"ListenPort"`
	LogLevel      string `mapstructure:"LogLevel"`
	LogFilePath   string `mapstructure:"LogFilePath"`
	LogMaxSize    int    `mapstructure:"LogMaxSize"`
	LogMaxBackups int    `mapstructure:"LogMaxBackups"`
	LogCompress   bool   `mapstructure:"LogCompress"`

	StoragePath               string   `mapstructure:"StoragePath"`
	Namespace                 string   `mapstructure:"Namespace"`
	ReadOnlyPaths             []string `mapstructure:"ReadOnlyPaths"`
	ShouldCacheImagesInMemory bool     `mapstructure:"ShouldCacheImagesInMemory"`
	MaxCacheAge               Duration `mapstructure:"MaxCacheAge"`
	MaxCacheSize              int64    `mapstructure:"MaxCacheSize"`
	MemoryCostLimit           int64    `mapstructure:"MemoryCostLimit"`
	MemoryCountLimit          int      `mapstructure:"MemoryCountLimit"`
	DeleteCorruptEntries      bool     `mapstructure:"DeleteCorruptEntries"`
	SweepInterval             Duration `mapstructure:"SweepInterval"`

	MaxConcurrentDownloads int               `mapstructure:"MaxConcurrentDownloads"`
	ExecutionOrder         string            `mapstructure:"ExecutionOrder"`
	DownloadTimeout        Duration          `mapstructure:"DownloadTimeout"`
	Username               string            `mapstructure:"Username"`
	Password               string            `mapstructure:"Password"`
	UserAgent              string            `mapstructure:"UserAgent"`
	Headers                map[string]string `mapstructure:"Headers"`
}

// Config 是 TOML 文件映射的整体结构。
type Config struct {
	Global GlobalConfig `mapstructure:",squash"`
}

// HasCredentials 表示是否配置了完整的上游凭证。
func (g GlobalConfig) HasCredentials() bool {
	return g.Username != "" && g.Password != ""
}

// AuthMode 输出 `credentialed` 或 `anonymous`，供日志字段使用。
func (g GlobalConfig) AuthMode() string {
	if g.HasCredentials() {
		return "credentialed"
	}
	return "anonymous"
}

// CacheConfig 生成两级缓存的不可变配置。
func (c *Config) CacheConfig() imagecache.Config {
	g := c.Global
	return imagecache.Config{
		CacheInMemory:        g.ShouldCacheImagesInMemory,
		MaxAge:               g.MaxCacheAge.DurationValue(),
		MaxSize:              g.MaxCacheSize,
		MemoryCostLimit:      g.MemoryCostLimit,
		MemoryCountLimit:     g.MemoryCountLimit,
		DeleteCorruptEntries: g.DeleteCorruptEntries,
	}
}

// DownloaderOptions 生成下载器配置；ExecutionOrder 需已通过 Validate。
func (c *Config) DownloaderOptions() download.Config {
	g := c.Global
	order, _ := download.ParseExecutionOrder(g.ExecutionOrder)

	header := make(http.Header, len(g.Headers)+1)
	for name, value := range g.Headers {
		header.Set(name, value)
	}
	if g.UserAgent != "" {
		header.Set("User-Agent", g.UserAgent)
	}

	return download.Config{
		MaxConcurrentDownloads: g.MaxConcurrentDownloads,
		ExecutionOrder:         order,
		Timeout:                g.DownloadTimeout.DurationValue(),
		Header:                 header,
		Username:               g.Username,
		Password:               g.Password,
	}
}
