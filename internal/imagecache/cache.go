package imagecache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/imagehub/internal/cache"
	"github.com/any-hub/imagehub/internal/imaging"
	"github.com/any-hub/imagehub/internal/memcache"
)

// Config 在构造后不可变。
type Config struct {
	CacheInMemory        bool          // 是否启用内存层
	MaxAge               time.Duration // 磁盘文件最长保留时间，0 表示永不过期
	MaxSize              int64         // 磁盘总量上限（字节），0 表示不限
	MemoryCostLimit      int64         // 内存层总开销上限（字节），0 表示不限
	MemoryCountLimit     int           // 内存层条目上限，0 表示不限
	DeleteCorruptEntries bool          // 磁盘内容解码失败时是否删除该文件
}

// DefaultConfig 返回与常见移动端图片缓存一致的默认值：启用内存层，磁盘保留一周。
func DefaultConfig() Config {
	return Config{
		CacheInMemory: true,
		MaxAge:        7 * 24 * time.Hour,
	}
}

// Option 调整 Cache 的协作组件。
type Option func(*Cache)

// WithCodec 替换默认的标准库编解码器。
func WithCodec(codec imaging.Codec) Option {
	return func(c *Cache) {
		if codec != nil {
			c.codec = codec
		}
	}
}

// WithLogger 注入日志记录器。
func WithLogger(logger logrus.FieldLogger) Option {
	return func(c *Cache) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithMemoryLayer 替换内存层实现，主要用于测试。
func WithMemoryLayer(layer memcache.Layer) Option {
	return func(c *Cache) {
		if layer != nil {
			c.memory = layer
		}
	}
}

// Cache 组合内存层与磁盘层。
type Cache struct {
	cfg    Config
	memory memcache.Layer
	disk   *cache.Store
	codec  imaging.Codec
	logger logrus.FieldLogger
	queue  *ioQueue
}

// New 构建两级缓存；disk 必须非空。CacheInMemory=false 时内存层为 NoOp。
func New(cfg Config, disk *cache.Store, opts ...Option) (*Cache, error) {
	if disk == nil {
		return nil, errors.New("disk store required")
	}

	discard := logrus.New()
	discard.SetOutput(io.Discard)

	c := &Cache{
		cfg:    cfg,
		disk:   disk,
		codec:  imaging.NewStdCodec(),
		logger: discard,
	}
	if cfg.CacheInMemory {
		c.memory = memcache.NewLRU(memcache.Options{
			CostLimit:  cfg.MemoryCostLimit,
			CountLimit: cfg.MemoryCountLimit,
		})
	} else {
		c.memory = memcache.NoOp{}
	}
	for _, opt := range opts {
		opt(c)
	}
	c.queue = newIOQueue()
	return c, nil
}

// Config 返回构造时的配置。
func (c *Cache) Config() Config {
	return c.cfg
}

// Disk 暴露磁盘层，供诊断接口读取路径等信息。
func (c *Cache) Disk() *cache.Store {
	return c.disk
}

// Close 拒绝新的磁盘任务并等待排队任务完成。
func (c *Cache) Close() {
	c.queue.close()
}

// Store 同步写入内存层（若启用），并在 toDisk 时异步写入磁盘。
// data 为空但 img 非空时，会先用 codec 编码再落盘。返回的 channel 在磁盘写入结束后关闭，
// 失败时先发送错误。
func (c *Cache) Store(key string, img *imaging.Image, data []byte, toDisk bool) <-chan error {
	errCh := make(chan error, 1)
	if key == "" {
		errCh <- ErrEmptyKey
		close(errCh)
		return errCh
	}
	if img != nil && c.cfg.CacheInMemory {
		c.memory.Put(key, img, img.Cost())
	}
	if !toDisk || (len(data) == 0 && img == nil) {
		close(errCh)
		return errCh
	}

	c.enqueue(errCh, func() error {
		payload := data
		if len(payload) == 0 {
			encoded, err := c.codec.Encode(img)
			if err != nil {
				return fmt.Errorf("encode %s: %w", key, err)
			}
			payload = encoded
		}
		return c.disk.Write(context.Background(), key, payload)
	})
	return errCh
}

// StoreData 只把原始字节写入磁盘层。
func (c *Cache) StoreData(key string, data []byte) <-chan error {
	errCh := make(chan error, 1)
	if key == "" {
		errCh <- ErrEmptyKey
		close(errCh)
		return errCh
	}
	if len(data) == 0 {
		close(errCh)
		return errCh
	}
	c.enqueue(errCh, func() error {
		return c.disk.Write(context.Background(), key, data)
	})
	return errCh
}

// Query 异步查询：内存命中时在调用方 goroutine 上立即回调；否则在磁盘队列上读取、解码并回填内存层。
// 取消成功后 done 一定不会被调用；已经发生的回填不会回滚。
func (c *Cache) Query(key string, done func(Result)) *Operation {
	op := newOperation()
	if key == "" {
		op.deliver(func() { call(done, Result{}) })
		return op
	}
	if img, ok := c.memory.Get(key); ok {
		op.deliver(func() { call(done, Result{Image: img, Origin: OriginMemory}) })
		return op
	}

	submitted := c.queue.submit(func() {
		if op.Cancelled() {
			return
		}
		result := c.lookupDisk(key)
		go op.deliver(func() { call(done, result) })
	})
	if !submitted {
		op.deliver(func() { call(done, Result{}) })
	}
	return op
}

// Get 是 Query 的阻塞版本；ctx 结束时取消查询并返回 ErrCancelled。
func (c *Cache) Get(ctx context.Context, key string) (Result, error) {
	resultCh := make(chan Result, 1)
	op := c.Query(key, func(r Result) { resultCh <- r })
	select {
	case r := <-resultCh:
		return r, nil
	case <-ctx.Done():
		if op.Cancel() {
			return Result{}, fmt.Errorf("%w: %v", ErrCancelled, ctx.Err())
		}
		return <-resultCh, nil
	}
}

// QueryMemory 只查询内存层，不触发任何磁盘 I/O。
func (c *Cache) QueryMemory(key string) (*imaging.Image, bool) {
	if key == "" {
		return nil, false
	}
	return c.memory.Get(key)
}

// QueryDisk 在调用方 goroutine 上同步读取磁盘层，命中后回填内存层。
func (c *Cache) QueryDisk(key string) (*imaging.Image, bool) {
	if key == "" {
		return nil, false
	}
	result := c.lookupDisk(key)
	return result.Image, result.Hit()
}

// QueryDiskData 同步读取磁盘层的原始字节，不解码。
func (c *Cache) QueryDiskData(key string) ([]byte, bool) {
	if key == "" {
		return nil, false
	}
	data, err := c.disk.Read(context.Background(), key)
	if err != nil {
		c.logReadError(key, err)
		return nil, false
	}
	return data, true
}

// ImageFromCache 同步地依次查询内存层与磁盘层。
func (c *Cache) ImageFromCache(key string) Result {
	if key == "" {
		return Result{}
	}
	if img, ok := c.memory.Get(key); ok {
		return Result{Image: img, Origin: OriginMemory}
	}
	return c.lookupDisk(key)
}

// Remove 从内存层删除 key；fromDisk 为 true 时再异步删除磁盘文件。
func (c *Cache) Remove(key string, fromDisk bool) <-chan error {
	errCh := make(chan error, 1)
	c.memory.Remove(key)
	if !fromDisk || key == "" {
		close(errCh)
		return errCh
	}
	c.enqueue(errCh, func() error {
		return c.disk.Remove(key)
	})
	return errCh
}

// ClearMemory 清空内存层。
func (c *Cache) ClearMemory() {
	c.memory.Purge()
}

// ClearDisk 异步清空磁盘主目录。
func (c *Cache) ClearDisk() <-chan error {
	errCh := make(chan error, 1)
	c.enqueue(errCh, c.disk.ClearAll)
	return errCh
}

// HandleMemoryWarning 响应外部内存告警，整体清空内存层。
func (c *Cache) HandleMemoryWarning() {
	if p, ok := c.memory.(interface{ HandlePressure() }); ok {
		p.HandlePressure()
	} else {
		c.memory.Purge()
	}
	c.logger.WithField("action", "memory_warning").Info("memory cache purged")
}

// WatchPressure 持续消费内存告警信号，直到 ctx 结束或 signals 关闭。
func (c *Cache) WatchPressure(ctx context.Context, signals <-chan struct{}) {
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-signals:
			if !ok {
				return
			}
			c.HandleMemoryWarning()
		}
	}
}

// MemoryStats 返回内存层的条目数与总开销。
func (c *Cache) MemoryStats() (int, int64) {
	return c.memory.Len(), c.memory.Cost()
}

// DeleteOldFiles 在磁盘队列上执行过期与容量清理，完成后异步回调（done 可为 nil）。
func (c *Cache) DeleteOldFiles(done func(cache.SweepResult, error)) {
	submitted := c.queue.submit(func() {
		result, err := c.disk.SweepExpired(context.Background(), c.cfg.MaxAge, c.cfg.MaxSize)
		fields := logrus.Fields{
			"action":      "disk_sweep",
			"removed":     result.Removed,
			"freed_bytes": result.FreedBytes,
		}
		if err != nil {
			c.logger.WithFields(fields).WithError(err).Warn("disk_sweep_failed")
		} else {
			c.logger.WithFields(fields).Info("disk_sweep_completed")
		}
		if done != nil {
			go done(result, err)
		}
	})
	if !submitted && done != nil {
		go done(cache.SweepResult{}, ErrClosed)
	}
}

// CalculateSize 同步遍历磁盘主目录统计文件数量与字节数。
func (c *Cache) CalculateSize() (cache.Size, error) {
	return c.disk.CalculateSize(context.Background())
}

// CalculateSizeAsync 在磁盘队列上统计大小并异步回调。
func (c *Cache) CalculateSizeAsync(done func(cache.Size, error)) {
	submitted := c.queue.submit(func() {
		size, err := c.disk.CalculateSize(context.Background())
		go call2(done, size, err)
	})
	if !submitted {
		go call2(done, cache.Size{}, ErrClosed)
	}
}

// DiskSize 返回磁盘主目录总字节数，统计失败时返回 0。
func (c *Cache) DiskSize() int64 {
	size, err := c.CalculateSize()
	if err != nil {
		c.logger.WithField("action", "disk_size_failed").WithError(err).Warn("disk_size_failed")
	}
	return size.TotalBytes
}

// DiskCount 返回磁盘主目录文件数，统计失败时返回 0。
func (c *Cache) DiskCount() int {
	size, err := c.CalculateSize()
	if err != nil {
		c.logger.WithField("action", "disk_count_failed").WithError(err).Warn("disk_count_failed")
	}
	return size.FileCount
}

// DiskExists 同步判断 key 是否存在于磁盘层（含只读目录）。
func (c *Cache) DiskExists(key string) bool {
	return key != "" && c.disk.Exists(key)
}

// DiskExistsAsync 在磁盘队列上判断 key 是否存在并异步回调。
func (c *Cache) DiskExistsAsync(key string, done func(bool)) {
	submitted := c.queue.submit(func() {
		exists := c.DiskExists(key)
		if done != nil {
			go done(exists)
		}
	})
	if !submitted && done != nil {
		go done(false)
	}
}

// lookupDisk 读取并解码磁盘内容；命中时回填内存层。读失败与解码失败都按未命中处理。
func (c *Cache) lookupDisk(key string) Result {
	data, err := c.disk.Read(context.Background(), key)
	if err != nil {
		c.logReadError(key, err)
		return Result{}
	}

	img, err := c.codec.Decode(data)
	if err != nil {
		fields := logrus.Fields{
			"action": "disk_decode_failed",
			"key":    key,
			"size":   len(data),
		}
		if c.cfg.DeleteCorruptEntries {
			if rmErr := c.disk.Remove(key); rmErr != nil {
				fields["remove_error"] = rmErr.Error()
			} else {
				fields["removed"] = true
			}
		}
		c.logger.WithFields(fields).WithError(err).Warn("disk_decode_failed")
		return Result{}
	}

	if c.cfg.CacheInMemory {
		c.memory.Put(key, img, img.Cost())
	}
	return Result{Image: img, Data: data, Origin: OriginDisk}
}

func (c *Cache) logReadError(key string, err error) {
	if errors.Is(err, cache.ErrNotFound) {
		return
	}
	c.logger.WithFields(logrus.Fields{
		"action": "disk_read_failed",
		"key":    key,
	}).WithError(err).Warn("disk_read_failed")
}

// enqueue 在磁盘队列上执行 job，并把结果写入 errCh 后关闭。
func (c *Cache) enqueue(errCh chan error, job func() error) {
	submitted := c.queue.submit(func() {
		if err := job(); err != nil {
			errCh <- err
		}
		close(errCh)
	})
	if !submitted {
		errCh <- ErrClosed
		close(errCh)
	}
}

func call(done func(Result), r Result) {
	if done != nil {
		done(r)
	}
}

func call2(done func(cache.Size, error), size cache.Size, err error) {
	if done != nil {
		done(size, err)
	}
}
