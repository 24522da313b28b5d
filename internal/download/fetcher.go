package download

import (
	"context"
	"io"
	"net/http"

	"github.com/any-hub/imagehub/internal/imaging"
)

// Request 是交给 Fetcher 的请求描述。
type Request struct {
	URL    string
	Header http.Header
}

// Response 携带响应体流；ExpectedSize 未知时为 -1。调用方负责关闭 Body。
type Response struct {
	Body         io.ReadCloser
	ExpectedSize int64
}

// Fetcher 是网络抓取能力。ctx 取消时实现必须尽快返回。
type Fetcher interface {
	Fetch(ctx context.Context, req Request) (*Response, error)
}

// FetcherFunc 让普通函数满足 Fetcher。
type FetcherFunc func(ctx context.Context, req Request) (*Response, error)

func (f FetcherFunc) Fetch(ctx context.Context, req Request) (*Response, error) {
	return f(ctx, req)
}

// Sink 接收下载并解码成功的图片，通常是两级缓存。
type Sink interface {
	Store(key string, img *imaging.Image, data []byte, toDisk bool) <-chan error
}
