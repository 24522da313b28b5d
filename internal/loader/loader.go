// Package loader chains the two-tier cache and the download coordinator:
// a lookup first consults the cache and only falls back to the network on a
// full miss. Downloaded bytes reach the cache through the coordinator's sink.
package loader

import (
	"context"
	"errors"
	"io"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/imagehub/internal/download"
	"github.com/any-hub/imagehub/internal/imagecache"
	"github.com/any-hub/imagehub/internal/imaging"
)

// Result 描述一次加载的结果；Origin 为 none 表示来自网络。
type Result struct {
	Key    string
	Image  *imaging.Image
	Data   []byte
	Origin imagecache.Origin
}

// Loader 串联缓存与下载器。
type Loader struct {
	cache      *imagecache.Cache
	downloader *download.Coordinator
	keyFunc    func(url string) string
	logger     logrus.FieldLogger
}

// Option 调整 Loader。
type Option func(*Loader)

// WithCacheKeyFunc 设置 URL 到缓存 key 的映射，需要与下载器的 CacheKeyFunc 保持一致。
func WithCacheKeyFunc(fn func(url string) string) Option {
	return func(l *Loader) {
		if fn != nil {
			l.keyFunc = fn
		}
	}
}

// WithLogger 注入日志记录器。
func WithLogger(logger logrus.FieldLogger) Option {
	return func(l *Loader) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// New 构建 Loader；cache 与 downloader 均必须非空。
func New(cache *imagecache.Cache, downloader *download.Coordinator, opts ...Option) (*Loader, error) {
	if cache == nil {
		return nil, errors.New("image cache required")
	}
	if downloader == nil {
		return nil, errors.New("downloader required")
	}
	discard := logrus.New()
	discard.SetOutput(io.Discard)

	l := &Loader{
		cache:      cache,
		downloader: downloader,
		keyFunc:    func(url string) string { return url },
		logger:     discard,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Key 返回 url 对应的缓存 key。
func (l *Loader) Key(url string) string {
	return l.keyFunc(url)
}

// Load 先查缓存，全部未命中时下载。ctx 结束时返回 imagecache.ErrCancelled 或 download.ErrCancelled。
func (l *Loader) Load(ctx context.Context, url string, opts download.Options) (Result, error) {
	if url == "" {
		return Result{}, download.ErrInvalidURL
	}
	key := l.keyFunc(url)

	cached, err := l.cache.Get(ctx, key)
	if err != nil {
		return Result{Key: key}, err
	}
	if cached.Hit() {
		return Result{Key: key, Image: cached.Image, Data: cached.Data, Origin: cached.Origin}, nil
	}

	l.logger.WithFields(logrus.Fields{
		"action": "cache_miss",
		"key":    key,
		"url":    url,
	}).Debug("cache_miss")

	downloaded, err := l.downloader.Download(ctx, url, opts)
	if err != nil {
		return Result{Key: key}, err
	}
	return Result{
		Key:    key,
		Image:  downloaded.Image,
		Data:   downloaded.Data,
		Origin: imagecache.OriginNone,
	}, nil
}
