package config

import (
	"fmt"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"

	"github.com/any-hub/imagehub/internal/version"
)

// Load 读取并解析 TOML 配置文件，同时注入默认值与校验逻辑。
func Load(path string) (*Config, error) {
	if path == "" {
		path = "config.toml"
	}

	v := viper.New()
	v.SetConfigFile(path)
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置失败: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(durationDecodeHook())); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	applyGlobalDefaults(&cfg.Global)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	absStorage, err := filepath.Abs(cfg.Global.StoragePath)
	if err != nil {
		return nil, fmt.Errorf("无法解析缓存目录: %w", err)
	}
	cfg.Global.StoragePath = absStorage

	for i, p := range cfg.Global.ReadOnlyPaths {
		abs, err := filepath.Abs(p)
		if err != nil {
			return nil, fmt.Errorf("无法解析只读缓存目录 %s: %w", p, err)
		}
		cfg.Global.ReadOnlyPaths[i] = abs
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ListenPort", 5000)
	v.SetDefault("LogLevel", "info")
	v.SetDefault("LogFilePath", "")
	v.SetDefault("LogMaxSize", 100)
	v.SetDefault("LogMaxBackups", 10)
	v.SetDefault("LogCompress", true)
	v.SetDefault("StoragePath", "./storage")
	v.SetDefault("Namespace", "default")
	v.SetDefault("ShouldCacheImagesInMemory", true)
	v.SetDefault("MaxCacheAge", "168h")
	v.SetDefault("MaxCacheSize", 0)
	v.SetDefault("MemoryCostLimit", 256*1024*1024)
	v.SetDefault("MemoryCountLimit", 0)
	v.SetDefault("DeleteCorruptEntries", false)
	v.SetDefault("SweepInterval", "1h")
	v.SetDefault("MaxConcurrentDownloads", 6)
	v.SetDefault("ExecutionOrder", "fifo")
	v.SetDefault("DownloadTimeout", "15s")
	v.SetDefault("UserAgent", version.UserAgent())
}

func applyGlobalDefaults(g *GlobalConfig) {
	if g.ListenPort == 0 {
		g.ListenPort = 5000
	}
	g.Namespace = strings.TrimSpace(g.Namespace)
	g.ExecutionOrder = strings.ToLower(strings.TrimSpace(g.ExecutionOrder))
	if g.ExecutionOrder == "" {
		g.ExecutionOrder = "fifo"
	}
	if g.MaxConcurrentDownloads == 0 {
		g.MaxConcurrentDownloads = 6
	}
	if g.DownloadTimeout.DurationValue() == 0 {
		g.DownloadTimeout = Duration(15 * time.Second)
	}
}

func durationDecodeHook() mapstructure.DecodeHookFunc {
	targetType := reflect.TypeOf(Duration(0))

	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != targetType {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			if v == "" {
				return Duration(0), nil
			}
			if parsed, err := time.ParseDuration(v); err == nil {
				return Duration(parsed), nil
			}
			if seconds, err := strconv.ParseFloat(v, 64); err == nil {
				return Duration(time.Duration(seconds * float64(time.Second))), nil
			}
			return nil, fmt.Errorf("无法解析 Duration 字段: %s", v)
		case int:
			return Duration(time.Duration(v) * time.Second), nil
		case int64:
			return Duration(time.Duration(v) * time.Second), nil
		case float64:
			return Duration(time.Duration(v * float64(time.Second))), nil
		case time.Duration:
			return Duration(v), nil
		case Duration:
			return v, nil
		default:
			return nil, fmt.Errorf("不支持的 Duration 类型: %T", v)
		}
	}
}
