package logging

import "github.com/sirupsen/logrus"

// BaseFields 构建 action + 配置路径等基础字段，便于不同入口复用。
func BaseFields(action, configPath string) logrus.Fields {
	return logrus.Fields{
		"action":     action,
		"configPath": configPath,
	}
}

// CacheFields 提供 key/命中层字段，供图片请求日志复用。
func CacheFields(key, origin string) logrus.Fields {
	return logrus.Fields{
		"key":       key,
		"origin":    origin,
		"cache_hit": origin != "" && origin != "none",
	}
}

// DownloadFields 提供 url/任务状态字段，供下载生命周期日志复用。
func DownloadFields(url, state string) logrus.Fields {
	return logrus.Fields{
		"url":   url,
		"state": state,
	}
}
