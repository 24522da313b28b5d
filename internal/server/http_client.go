package server

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/textproto"
	"time"

	"github.com/any-hub/imagehub/internal/config"
	"github.com/any-hub/imagehub/internal/download"
)

// maxRedirects 是单次图片下载允许跟随的重定向次数。
const maxRedirects = 5

// ErrRedirectPolicy 表示上游重定向被拒绝（次数过多或跳转到非 http(s) 地址）。
var ErrRedirectPolicy = errors.New("server: redirect rejected")

// newTransport 按下载并发度设置每主机空闲连接数，其余参数沿用统一的长连接配置。
func newTransport(maxConcurrent int) *http.Transport {
	if maxConcurrent <= 0 {
		maxConcurrent = download.DefaultMaxConcurrentDownloads
	}
	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		MaxIdleConns:          maxConcurrent * 4,
		MaxIdleConnsPerHost:   maxConcurrent * 2,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 20 * time.Second,
		ForceAttemptHTTP2:     true,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
	}
}

// NewUpstreamClient 返回图片下载使用的 http.Client。
// 单任务超时由下载器通过 context 控制，这里的 Timeout 只是兜底。
func NewUpstreamClient(cfg *config.Config) *http.Client {
	timeout := download.DefaultTimeout
	maxConcurrent := 0
	if cfg != nil {
		if d := cfg.Global.DownloadTimeout.DurationValue(); d > 0 {
			timeout = d
		}
		maxConcurrent = cfg.Global.MaxConcurrentDownloads
	}

	return &http.Client{
		Timeout:       timeout + 5*time.Second,
		Transport:     newTransport(maxConcurrent),
		CheckRedirect: checkRedirect,
	}
}

func checkRedirect(req *http.Request, via []*http.Request) error {
	if len(via) >= maxRedirects {
		return fmt.Errorf("%w: stopped after %d redirects", ErrRedirectPolicy, len(via))
	}
	if req.URL.Scheme != "http" && req.URL.Scheme != "https" {
		return fmt.Errorf("%w: scheme %q", ErrRedirectPolicy, req.URL.Scheme)
	}
	return nil
}

// skippedRequestHeaders 是不会随下载请求发出的头：RFC 7230 的 hop-by-hop 字段，
// 以及由 net/http 自行决定的 Host/Content-Length。
var skippedRequestHeaders = map[string]struct{}{
	"Connection":          {},
	"Keep-Alive":          {},
	"Proxy-Authenticate":  {},
	"Proxy-Authorization": {},
	"Proxy-Connection":    {},
	"Te":                  {},
	"Trailer":             {},
	"Transfer-Encoding":   {},
	"Upgrade":             {},
	"Host":                {},
	"Content-Length":      {},
}

// CopyHeaders 将下载器整理好的请求头复制到 dst，忽略 skippedRequestHeaders 中的字段。
func CopyHeaders(dst, src http.Header) {
	for key, values := range src {
		if skipRequestHeader(key) {
			continue
		}
		for _, value := range values {
			dst.Add(key, value)
		}
	}
}

func skipRequestHeader(key string) bool {
	_, ok := skippedRequestHeaders[textproto.CanonicalMIMEHeaderKey(key)]
	return ok
}
