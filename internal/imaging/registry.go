package imaging

import (
	"fmt"
	"image"
	"io"
	"sort"
	"strings"
	"sync"
)

// EncodeFunc 把图片写入 w，未注册编码器的格式只能解码。
type EncodeFunc func(w io.Writer, img image.Image) error

// Format 描述一种图片格式的静态信息，供编码、Content-Type 与缓存文件扩展名使用。
type Format struct {
	Key        string
	MIMEType   string
	Extensions []string
	Encode     EncodeFunc
}

// CanEncode 表示该格式是否可以被重新编码。
func (f Format) CanEncode() bool {
	return f.Encode != nil
}

var globalRegistry = newRegistry()

type registry struct {
	mu      sync.RWMutex
	formats map[string]Format
	exts    map[string]string
}

func newRegistry() *registry {
	return &registry{
		formats: make(map[string]Format),
		exts:    make(map[string]string),
	}
}

// Register 将格式加入全局注册表，重复键会返回错误。
func Register(format Format) error {
	return globalRegistry.register(format)
}

// MustRegister 在注册失败时 panic，适合 init() 中调用。
func MustRegister(format Format) {
	if err := Register(format); err != nil {
		panic(err)
	}
}

// Resolve 返回指定键的格式信息，键大小写不敏感。
func Resolve(key string) (Format, bool) {
	return globalRegistry.resolve(key)
}

// ResolveExtension 根据文件扩展名（可带点）查找格式。
func ResolveExtension(ext string) (Format, bool) {
	return globalRegistry.resolveExtension(ext)
}

// List 返回按键排序的格式列表。
func List() []Format {
	return globalRegistry.list()
}

// Keys 返回所有已注册格式的键值，供诊断使用。
func Keys() []string {
	items := List()
	result := make([]string, len(items))
	for i, format := range items {
		result[i] = format.Key
	}
	return result
}

// ContentType 返回格式对应的 MIME 类型，未知格式退回 application/octet-stream。
func ContentType(key string) string {
	if format, ok := Resolve(key); ok && format.MIMEType != "" {
		return format.MIMEType
	}
	return "application/octet-stream"
}

func normalizeKey(key string) string {
	return strings.ToLower(strings.TrimSpace(key))
}

func normalizeExt(ext string) string {
	return strings.TrimPrefix(normalizeKey(ext), ".")
}

func (r *registry) register(format Format) error {
	key := normalizeKey(format.Key)
	if key == "" {
		return fmt.Errorf("format key is required")
	}
	format.Key = key

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.formats[key]; exists {
		return fmt.Errorf("format %s already registered", key)
	}
	r.formats[key] = format
	for _, ext := range format.Extensions {
		if normalized := normalizeExt(ext); normalized != "" {
			r.exts[normalized] = key
		}
	}
	return nil
}

func (r *registry) resolve(key string) (Format, bool) {
	normalized := normalizeKey(key)
	if normalized == "" {
		return Format{}, false
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	format, ok := r.formats[normalized]
	return format, ok
}

func (r *registry) resolveExtension(ext string) (Format, bool) {
	normalized := normalizeExt(ext)
	if normalized == "" {
		return Format{}, false
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	key, ok := r.exts[normalized]
	if !ok {
		return Format{}, false
	}
	format, ok := r.formats[key]
	return format, ok
}

func (r *registry) list() []Format {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.formats) == 0 {
		return nil
	}

	keys := make([]string, 0, len(r.formats))
	for key := range r.formats {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	result := make([]Format, 0, len(keys))
	for _, key := range keys {
		result = append(result, r.formats[key])
	}
	return result
}
