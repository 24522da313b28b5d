package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/imagehub/internal/cache"
	"github.com/any-hub/imagehub/internal/config"
	"github.com/any-hub/imagehub/internal/download"
	"github.com/any-hub/imagehub/internal/imagecache"
	"github.com/any-hub/imagehub/internal/loader"
	"github.com/any-hub/imagehub/internal/logging"
	"github.com/any-hub/imagehub/internal/metrics"
	"github.com/any-hub/imagehub/internal/prefetch"
	"github.com/any-hub/imagehub/internal/server"
)

// services 是一次进程生命周期内共享的缓存与下载组件。
type services struct {
	images      *imagecache.Cache
	coordinator *download.Coordinator
	loader      *loader.Loader
}

func buildServices(cfg *config.Config, logger *logrus.Logger) (*services, error) {
	g := cfg.Global
	store, err := cache.NewStore(g.StoragePath, g.Namespace, g.ReadOnlyPaths, cache.WithLogger(logger))
	if err != nil {
		return nil, err
	}

	images, err := imagecache.New(cfg.CacheConfig(), store, imagecache.WithLogger(logger))
	if err != nil {
		return nil, err
	}

	dlCfg := cfg.DownloaderOptions()
	fetcher := server.NewUpstreamFetcher(server.NewUpstreamClient(cfg))
	coordinator, err := download.New(dlCfg, fetcher,
		download.WithSink(images),
		download.WithLogger(logger),
		download.WithObservers(logging.NewDownloadObserver(logger), metrics.NewDownloadObserver()),
	)
	if err != nil {
		images.Close()
		return nil, err
	}

	l, err := loader.New(images, coordinator,
		loader.WithCacheKeyFunc(dlCfg.CacheKeyFunc),
		loader.WithLogger(logger),
	)
	if err != nil {
		coordinator.Close()
		images.Close()
		return nil, err
	}

	return &services{images: images, coordinator: coordinator, loader: l}, nil
}

// Close 先停止下载，再等待排队的磁盘写入完成。
func (s *services) Close() {
	s.coordinator.Close()
	s.images.Close()
}

// runSweeper 启动时清理一次，之后按 interval 周期清理磁盘；interval<=0 时只做启动清理。
func runSweeper(ctx context.Context, images *imagecache.Cache, interval time.Duration, logger logrus.FieldLogger) {
	images.DeleteOldFiles(nil)
	if interval <= 0 {
		logger.WithField("action", "disk_sweep").Debug("periodic sweep disabled")
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			images.DeleteOldFiles(nil)
		}
	}
}

func runPrefetch(ctx context.Context, cfg *config.Config, svc *services, path string, logger *logrus.Logger) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	urls, err := prefetch.ReadURLs(file)
	if err != nil {
		return err
	}

	p, err := prefetch.New(svc.loader,
		prefetch.WithParallelism(cfg.Global.MaxConcurrentDownloads),
		prefetch.WithLogger(logger),
	)
	if err != nil {
		return err
	}

	report, err := p.Prefetch(ctx, urls)
	fmt.Fprintf(stdOut, "prefetch total=%d finished=%d skipped=%d cached=%d\n",
		report.Total, report.Finished, report.Skipped, report.Cached)
	return err
}
