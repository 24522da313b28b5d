package imagecache

import (
	"errors"

	"github.com/any-hub/imagehub/internal/imaging"
)

// Origin 标识满足查询的缓存层。
type Origin int

const (
	OriginNone Origin = iota
	OriginDisk
	OriginMemory
)

func (o Origin) String() string {
	switch o {
	case OriginDisk:
		return "disk"
	case OriginMemory:
		return "memory"
	default:
		return "none"
	}
}

// Result 是每次查询的返回值。Data 仅在磁盘命中时携带原始字节。
type Result struct {
	Image  *imaging.Image
	Data   []byte
	Origin Origin
}

// Hit 报告是否命中任一缓存层。
func (r Result) Hit() bool {
	return r.Origin != OriginNone && r.Image != nil
}

var (
	// ErrCancelled 表示操作被调用方取消。
	ErrCancelled = errors.New("cache operation cancelled")
	// ErrClosed 表示 Cache 已关闭，磁盘任务不再接受。
	ErrClosed = errors.New("image cache closed")
	// ErrEmptyKey 表示传入了空 key。
	ErrEmptyKey = errors.New("cache key required")
)
