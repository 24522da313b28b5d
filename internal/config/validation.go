package config

import (
	"errors"
	"strings"

	"github.com/any-hub/imagehub/internal/download"
)

// Validate 针对语义级别做进一步校验，防止非法配置启动服务。
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("配置为空")
	}

	g := c.Global
	if g.ListenPort <= 0 || g.ListenPort > 65535 {
		return invalidField("ListenPort", "必须在 1-65535")
	}
	if strings.TrimSpace(g.StoragePath) == "" {
		return invalidField("StoragePath", "不能为空")
	}
	if err := validateNamespace(g.Namespace); err != nil {
		return err
	}
	for _, p := range g.ReadOnlyPaths {
		if strings.TrimSpace(p) == "" {
			return invalidField("ReadOnlyPaths", "不能包含空路径")
		}
	}
	if g.MaxCacheAge.DurationValue() < 0 {
		return invalidField("MaxCacheAge", "不能为负数")
	}
	if g.MaxCacheSize < 0 {
		return invalidField("MaxCacheSize", "不能为负数")
	}
	if g.MemoryCostLimit < 0 {
		return invalidField("MemoryCostLimit", "不能为负数")
	}
	if g.MemoryCountLimit < 0 {
		return invalidField("MemoryCountLimit", "不能为负数")
	}
	if g.SweepInterval.DurationValue() < 0 {
		return invalidField("SweepInterval", "不能为负数")
	}
	if g.MaxConcurrentDownloads <= 0 {
		return invalidField("MaxConcurrentDownloads", "必须大于 0")
	}
	if _, err := download.ParseExecutionOrder(g.ExecutionOrder); err != nil {
		return invalidField("ExecutionOrder", "仅支持 fifo/lifo")
	}
	if g.DownloadTimeout.DurationValue() <= 0 {
		return invalidField("DownloadTimeout", "必须大于 0")
	}
	if (g.Username == "") != (g.Password == "") {
		return invalidField("Username/Password", "必须同时提供或同时留空")
	}
	for name := range g.Headers {
		if strings.TrimSpace(name) == "" || strings.ContainsAny(name, " :\r\n") {
			return invalidField("Headers", "非法的请求头名称: "+name)
		}
	}

	return nil
}

func validateNamespace(ns string) error {
	if strings.TrimSpace(ns) == "" {
		return invalidField("Namespace", "不能为空")
	}
	if strings.ContainsAny(ns, `/\`) || ns == "." || ns == ".." {
		return invalidField("Namespace", "不允许包含路径分隔符")
	}
	return nil
}
