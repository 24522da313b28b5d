package logging

import (
	"github.com/sirupsen/logrus"

	"github.com/any-hub/imagehub/internal/download"
)

// DownloadObserver 把下载生命周期事件写入结构化日志：开始/响应为 debug，结束为 info，失败为 warn。
type DownloadObserver struct {
	Logger logrus.FieldLogger
}

// NewDownloadObserver 构建日志观察者，logger 为空时使用标准 logger。
func NewDownloadObserver(logger logrus.FieldLogger) *DownloadObserver {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &DownloadObserver{Logger: logger}
}

func (o *DownloadObserver) OnEvent(e download.Event) {
	fields := DownloadFields(e.URL, e.State.String())
	fields["action"] = "download_" + e.Kind.String()
	entry := o.Logger.WithFields(fields)

	switch e.Kind {
	case download.EventStarted:
		entry.Debug("download started")
	case download.EventReceivedResponse:
		entry.WithField("expected_bytes", e.Expected).Debug("download response received")
	case download.EventStopped:
		entry = entry.WithFields(logrus.Fields{
			"bytes":       e.Bytes,
			"duration_ms": e.Duration.Milliseconds(),
		})
		if e.Err != nil {
			entry.WithError(e.Err).Warn("download stopped with error")
			return
		}
		entry.Debug("download stopped")
	case download.EventFinished:
		entry = entry.WithFields(logrus.Fields{
			"bytes":       e.Bytes,
			"duration_ms": e.Duration.Milliseconds(),
		})
		if e.Err != nil {
			entry.WithError(e.Err).Debug("download finished without image")
			return
		}
		entry.Info("download finished")
	}
}
