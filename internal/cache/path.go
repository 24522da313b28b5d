package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"path"
	"path/filepath"
	"strings"
)

// maxExtensionLength 限制文件名后缀长度，超长或带查询参数的伪后缀会被丢弃。
const maxExtensionLength = 8

// FileNameForKey 把任意 key 映射为确定性的文件名：hex(sha256(key)) + 原 URL 后缀。
// 同一 key 永远得到同一文件名，不同 key 的碰撞概率可以忽略。
func FileNameForKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	name := hex.EncodeToString(sum[:])
	if ext := keyExtension(key); ext != "" {
		name += ext
	}
	return name
}

func keyExtension(key string) string {
	p := key
	if u, err := url.Parse(key); err == nil && u.Path != "" {
		p = u.Path
	}
	ext := strings.ToLower(path.Ext(p))
	if len(ext) <= 1 || len(ext) > maxExtensionLength {
		return ""
	}
	for _, r := range ext[1:] {
		if !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9') {
			return ""
		}
	}
	return ext
}

// CachePathForKey 返回 key 在指定目录下的缓存文件路径。
func CachePathForKey(dir, key string) string {
	return filepath.Join(dir, FileNameForKey(key))
}
