package cache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/sirupsen/logrus"
)

const (
	rootDir    = "/"
	tempPrefix = ".cache-"
)

// Option 调整 Store 的可选行为。
type Option func(*Store)

// WithReadOnlyRoots 追加只读查找根目录（例如随程序分发的预置图片），按注册顺序在主目录之后查询。
func WithReadOnlyRoots(roots ...billy.Filesystem) Option {
	return func(s *Store) {
		s.readOnly = append(s.readOnly, roots...)
	}
}

// WithClock 替换过期判断使用的时钟，测试中用来模拟时间流逝。
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLogger 注入日志记录器，默认丢弃输出。
func WithLogger(logger logrus.FieldLogger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// Store 是磁盘缓存层。写入只落在主目录，读取依次查询主目录与只读目录。
// 同一文件名的写入、删除与清理通过 entryLock 串行化。
type Store struct {
	root     billy.Filesystem
	readOnly []billy.Filesystem
	now      func() time.Time
	logger   logrus.FieldLogger

	mu    sync.Mutex
	locks map[string]*entryLock
}

type entryLock struct {
	mu   sync.Mutex
	refs int
}

// New 以任意 billy 文件系统为主目录构建磁盘缓存。
func New(root billy.Filesystem, opts ...Option) (*Store, error) {
	if root == nil {
		return nil, errors.New("cache root filesystem required")
	}
	if err := root.MkdirAll(rootDir, 0o755); err != nil {
		return nil, ioError("mkdir", root.Root(), err)
	}

	discard := logrus.New()
	discard.SetOutput(io.Discard)
	s := &Store{
		root:   root,
		now:    time.Now,
		logger: discard,
		locks:  make(map[string]*entryLock),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// NewStore 以 basePath/namespace 为主目录构建基于操作系统文件系统的磁盘缓存，整站复用一份实例。
func NewStore(basePath, namespace string, readOnlyPaths []string, opts ...Option) (*Store, error) {
	if basePath == "" {
		return nil, errors.New("storage path required")
	}
	if namespace == "" {
		return nil, errors.New("cache namespace required")
	}

	abs, err := filepath.Abs(filepath.Join(basePath, namespace))
	if err != nil {
		return nil, fmt.Errorf("resolve storage path: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create storage path: %w", err)
	}

	roots := make([]billy.Filesystem, 0, len(readOnlyPaths))
	for _, p := range readOnlyPaths {
		if p == "" {
			continue
		}
		roAbs, err := filepath.Abs(p)
		if err != nil {
			return nil, fmt.Errorf("resolve read-only path %q: %w", p, err)
		}
		roots = append(roots, osfs.New(roAbs))
	}

	opts = append([]Option{WithReadOnlyRoots(roots...)}, opts...)
	return New(osfs.New(abs), opts...)
}

// Root 返回主目录在底层文件系统中的位置。
func (s *Store) Root() string {
	return s.root.Root()
}

// DefaultCachePathForKey 返回 key 在主目录下的缓存文件路径。
func (s *Store) DefaultCachePathForKey(key string) string {
	return CachePathForKey(s.root.Root(), key)
}

// Read 读取 key 对应的全部字节。主目录未命中时依次查询只读目录；全部缺失返回 ErrNotFound。
func (s *Store) Read(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	name := FileNameForKey(key)
	for _, fsys := range s.lookupRoots() {
		data, err := readRegular(fsys, name)
		if err == nil {
			return data, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return nil, ioError("read", s.describe(fsys, name), err)
		}
	}
	return nil, ErrNotFound
}

// Stat 返回 key 对应文件的元信息，查询顺序与 Read 相同。
func (s *Store) Stat(key string) (Entry, error) {
	name := FileNameForKey(key)
	for i, fsys := range s.lookupRoots() {
		info, err := fsys.Stat(name)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return Entry{}, ioError("stat", s.describe(fsys, name), err)
		}
		if info.IsDir() {
			continue
		}
		return Entry{
			Name:      name,
			Key:       key,
			SizeBytes: info.Size(),
			ModTime:   info.ModTime(),
			ReadOnly:  i > 0,
		}, nil
	}
	return Entry{}, ErrNotFound
}

// Exists 判断 key 是否存在于任一查找目录。I/O 失败视为不存在。
func (s *Store) Exists(key string) bool {
	_, err := s.Stat(key)
	return err == nil
}

// Write 通过临时文件 + rename 原子写入 key，失败时清理临时文件。
func (s *Store) Write(ctx context.Context, key string, data []byte) error {
	name := FileNameForKey(key)
	unlock := s.lockEntry(name)
	defer unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	tempFile, err := s.root.TempFile(rootDir, tempPrefix)
	if err != nil {
		return ioError("create", s.describe(s.root, name), err)
	}
	tempName := tempFile.Name()

	_, err = tempFile.Write(data)
	closeErr := tempFile.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		s.root.Remove(tempName)
		return ioError("write", s.describe(s.root, name), err)
	}

	if err := s.root.Rename(tempName, name); err != nil {
		s.root.Remove(tempName)
		return ioError("rename", s.describe(s.root, name), err)
	}
	return nil
}

// Remove 删除主目录中的 key，文件不存在时视为成功。
func (s *Store) Remove(key string) error {
	name := FileNameForKey(key)
	unlock := s.lockEntry(name)
	defer unlock()

	if err := s.root.Remove(name); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return ioError("remove", s.describe(s.root, name), err)
	}
	return nil
}

// ClearAll 删除主目录下的所有内容并重建空目录，只读目录不受影响。
func (s *Store) ClearAll() error {
	infos, err := s.root.ReadDir(rootDir)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return ioError("readdir", s.root.Root(), err)
	}
	for _, info := range infos {
		name := info.Name()
		if err := util.RemoveAll(s.root, name); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return ioError("remove", s.describe(s.root, name), err)
		}
	}
	if err := s.root.MkdirAll(rootDir, 0o755); err != nil {
		return ioError("mkdir", s.root.Root(), err)
	}
	return nil
}

// CalculateSize 完整遍历主目录统计文件数量与总字节数；遍历期间消失的文件会被忽略。
func (s *Store) CalculateSize(ctx context.Context) (Size, error) {
	entries, err := s.listEntries(ctx)
	if err != nil {
		return Size{}, err
	}
	var size Size
	for _, entry := range entries {
		if isTempName(entry.Name) {
			continue
		}
		size.FileCount++
		size.TotalBytes += entry.SizeBytes
	}
	return size, nil
}

// Count 返回主目录中的缓存文件数量。
func (s *Store) Count(ctx context.Context) (int, error) {
	size, err := s.CalculateSize(ctx)
	return size.FileCount, err
}

// SweepExpired 删除修改时间早于 now-maxAge 的文件（maxAge<=0 表示永不过期）。
// 若 maxSize>0 且剩余总量仍超过 maxSize，则按修改时间从旧到新继续删除，直到不超过 maxSize/2。
// 删除前会在条目锁内重新读取修改时间，清理期间被重写的文件不会被误删。
func (s *Store) SweepExpired(ctx context.Context, maxAge time.Duration, maxSize int64) (SweepResult, error) {
	var result SweepResult
	entries, err := s.listEntries(ctx)
	if err != nil {
		return result, err
	}

	var remaining []Entry
	var total int64
	if maxAge > 0 {
		cutoff := s.now().Add(-maxAge)
		for _, entry := range entries {
			if !entry.ModTime.Before(cutoff) {
				if !isTempName(entry.Name) {
					remaining = append(remaining, entry)
					total += entry.SizeBytes
				}
				continue
			}
			if err := ctx.Err(); err != nil {
				return result, err
			}
			freed, removed, err := s.removeIf(entry.Name, func(info fs.FileInfo) bool {
				return info.ModTime().Before(s.now().Add(-maxAge))
			})
			if err != nil {
				return result, err
			}
			if removed {
				result.Removed++
				result.FreedBytes += freed
			} else if !isTempName(entry.Name) {
				remaining = append(remaining, entry)
				total += entry.SizeBytes
			}
		}
	} else {
		for _, entry := range entries {
			if isTempName(entry.Name) {
				continue
			}
			remaining = append(remaining, entry)
			total += entry.SizeBytes
		}
	}

	if maxSize <= 0 || total <= maxSize {
		return result, nil
	}

	target := maxSize / 2
	sort.Slice(remaining, func(i, j int) bool {
		return remaining[i].ModTime.Before(remaining[j].ModTime)
	})
	for _, entry := range remaining {
		if total <= target {
			break
		}
		if err := ctx.Err(); err != nil {
			return result, err
		}
		listed := entry.ModTime
		freed, removed, err := s.removeIf(entry.Name, func(info fs.FileInfo) bool {
			return !info.ModTime().After(listed)
		})
		if err != nil {
			return result, err
		}
		if removed {
			result.Removed++
			result.FreedBytes += freed
			total -= freed
		}
	}
	return result, nil
}

// removeIf 在条目锁内重新 stat 文件，仅当 stale 判断仍成立时删除。
func (s *Store) removeIf(name string, stale func(fs.FileInfo) bool) (int64, bool, error) {
	unlock := s.lockEntry(path.Base(name))
	defer unlock()

	info, err := s.root.Stat(name)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, false, nil
		}
		return 0, false, ioError("stat", s.describe(s.root, name), err)
	}
	if !stale(info) {
		return 0, false, nil
	}
	if err := s.root.Remove(name); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, false, nil
		}
		return 0, false, ioError("remove", s.describe(s.root, name), err)
	}
	s.logger.WithFields(logrus.Fields{
		"action": "disk_entry_removed",
		"file":   name,
		"size":   info.Size(),
	}).Debug("disk_entry_removed")
	return info.Size(), true, nil
}

// listEntries 遍历主目录下的所有普通文件，不缓存目录快照。
func (s *Store) listEntries(ctx context.Context) ([]Entry, error) {
	var entries []Entry
	err := util.Walk(s.root, rootDir, func(p string, info fs.FileInfo, err error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return ioError("walk", s.describe(s.root, p), err)
		}
		if info == nil || info.IsDir() || !info.Mode().IsRegular() {
			return nil
		}
		entries = append(entries, Entry{
			Name:      p,
			SizeBytes: info.Size(),
			ModTime:   info.ModTime(),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

func (s *Store) lookupRoots() []billy.Filesystem {
	roots := make([]billy.Filesystem, 0, 1+len(s.readOnly))
	roots = append(roots, s.root)
	return append(roots, s.readOnly...)
}

func (s *Store) lockEntry(name string) func() {
	s.mu.Lock()
	lock := s.locks[name]
	if lock == nil {
		lock = &entryLock{}
		s.locks[name] = lock
	}
	lock.refs++
	s.mu.Unlock()

	lock.mu.Lock()
	return func() {
		lock.mu.Unlock()
		s.mu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(s.locks, name)
		}
		s.mu.Unlock()
	}
}

func (s *Store) describe(fsys billy.Filesystem, name string) string {
	return filepath.Join(fsys.Root(), filepath.FromSlash(name))
}

func readRegular(fsys billy.Filesystem, name string) ([]byte, error) {
	info, err := fsys.Stat(name)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if info.IsDir() {
		return nil, ErrNotFound
	}
	data, err := util.ReadFile(fsys, name)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return data, nil
}

func isTempName(name string) bool {
	return strings.HasPrefix(path.Base(filepath.ToSlash(name)), tempPrefix)
}
