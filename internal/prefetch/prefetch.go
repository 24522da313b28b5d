// Package prefetch warms the image cache for a list of URLs with bounded
// parallelism. A URL that is already cached counts as finished without a
// download; a URL that fails to load counts as skipped.
package prefetch

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/any-hub/imagehub/internal/download"
	"github.com/any-hub/imagehub/internal/imagecache"
	"github.com/any-hub/imagehub/internal/loader"
)

// DefaultParallelism 与下载器默认并发数一致。
const DefaultParallelism = download.DefaultMaxConcurrentDownloads

// Loader 是预取依赖的加载能力，*loader.Loader 满足该接口。
type Loader interface {
	Load(ctx context.Context, url string, opts download.Options) (loader.Result, error)
}

// ProgressFunc 在每个 URL 结束后调用，可能在多个 goroutine 上并发执行。
type ProgressFunc func(finished, skipped, total int)

// Report 汇总一次预取的结果。
type Report struct {
	Total    int `json:"total"`
	Finished int `json:"finished"`
	Skipped  int `json:"skipped"`
	Cached   int `json:"cached"` // Finished 中直接命中缓存的数量
}

// Prefetcher 按有限并发预取图片。
type Prefetcher struct {
	loader      Loader
	parallelism int
	priority    download.Priority
	progress    ProgressFunc
	logger      logrus.FieldLogger
}

// Option 调整 Prefetcher。
type Option func(*Prefetcher)

// WithParallelism 设置同时加载的 URL 数量，<=0 时使用默认值。
func WithParallelism(n int) Option {
	return func(p *Prefetcher) {
		if n > 0 {
			p.parallelism = n
		}
	}
}

// WithPriority 设置预取下载的优先级，默认 low，避免挤占在线请求。
func WithPriority(priority download.Priority) Option {
	return func(p *Prefetcher) {
		p.priority = priority
	}
}

// WithProgress 注册进度回调。
func WithProgress(fn ProgressFunc) Option {
	return func(p *Prefetcher) {
		p.progress = fn
	}
}

// WithLogger 注入日志记录器。
func WithLogger(logger logrus.FieldLogger) Option {
	return func(p *Prefetcher) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// New 构建 Prefetcher。
func New(l Loader, opts ...Option) (*Prefetcher, error) {
	if l == nil {
		return nil, errors.New("loader required")
	}
	discard := logrus.New()
	discard.SetOutput(io.Discard)

	p := &Prefetcher{
		loader:      l,
		parallelism: DefaultParallelism,
		priority:    download.PriorityLow,
		logger:      discard,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Prefetch 加载全部 URL 并等待结束。单个 URL 失败不会中断其它 URL；
// ctx 取消时停止派发并返回已统计的结果和 ctx 错误。
func (p *Prefetcher) Prefetch(ctx context.Context, urls []string) (Report, error) {
	report := Report{Total: len(urls)}
	if len(urls) == 0 {
		return report, nil
	}

	var mu sync.Mutex
	record := func(ok, cached bool) {
		mu.Lock()
		if ok {
			report.Finished++
			if cached {
				report.Cached++
			}
		} else {
			report.Skipped++
		}
		finished, skipped := report.Finished, report.Skipped
		mu.Unlock()
		if p.progress != nil {
			p.progress(finished, skipped, len(urls))
		}
	}

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(p.parallelism)

	for _, url := range urls {
		if egCtx.Err() != nil {
			break
		}
		eg.Go(func() error {
			result, err := p.loader.Load(egCtx, url, download.Options{Priority: p.priority})
			if err != nil {
				if egCtx.Err() != nil {
					return egCtx.Err()
				}
				p.logger.WithFields(logrus.Fields{
					"action": "prefetch_skip",
					"url":    url,
				}).WithError(err).Warn("prefetch_skip")
				record(false, false)
				return nil
			}
			record(true, result.Origin != imagecache.OriginNone)
			return nil
		})
	}

	err := eg.Wait()
	mu.Lock()
	defer mu.Unlock()
	p.logger.WithFields(logrus.Fields{
		"action":   "prefetch",
		"total":    report.Total,
		"finished": report.Finished,
		"skipped":  report.Skipped,
		"cached":   report.Cached,
	}).Info("prefetch_completed")
	if err != nil {
		return report, fmt.Errorf("prefetch interrupted: %w", err)
	}
	if ctx.Err() != nil {
		return report, fmt.Errorf("prefetch interrupted: %w", ctx.Err())
	}
	return report, nil
}

// ReadURLs 从每行一个 URL 的列表读取待预取地址，忽略空行与 # 注释并去重。
func ReadURLs(r io.Reader) ([]string, error) {
	scanner := bufio.NewScanner(r)
	seen := make(map[string]struct{})
	var urls []string
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if _, ok := seen[line]; ok {
			continue
		}
		seen[line] = struct{}{}
		urls = append(urls, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read url list: %w", err)
	}
	return urls, nil
}
