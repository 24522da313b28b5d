package cache

import (
	"errors"
	"fmt"
	"time"
)

// Entry 描述磁盘上的一个缓存文件，大小与修改时间均由文件系统提供。
type Entry struct {
	Name      string    `json:"name"`
	Key       string    `json:"key,omitempty"`
	SizeBytes int64     `json:"size_bytes"`
	ModTime   time.Time `json:"mod_time"`
	ReadOnly  bool      `json:"read_only,omitempty"`
}

// Size 为 CalculateSize 的结果，每个文件只按其哈希文件名计数一次。
type Size struct {
	FileCount  int   `json:"file_count"`
	TotalBytes int64 `json:"total_bytes"`
}

// SweepResult 汇总一次清理删除的文件数量与释放的字节数。
type SweepResult struct {
	Removed    int   `json:"removed"`
	FreedBytes int64 `json:"freed_bytes"`
}

// ErrNotFound 表示缓存不存在。
var ErrNotFound = errors.New("cache entry not found")

// ErrIO 匹配所有磁盘读写失败（权限、磁盘已满等），用于 errors.Is 判断。
var ErrIO = errors.New("cache io failure")

// IOError 记录失败的操作与路径，errors.Is(err, ErrIO) 恒为 true。
type IOError struct {
	Op   string
	Path string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("cache %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *IOError) Unwrap() error {
	return e.Err
}

func (e *IOError) Is(target error) bool {
	return target == ErrIO
}

func ioError(op, path string, err error) error {
	if err == nil {
		return nil
	}
	return &IOError{Op: op, Path: path, Err: err}
}
