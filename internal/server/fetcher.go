package server

import (
	"context"
	"io"
	"net/http"

	"github.com/any-hub/imagehub/internal/download"
)

// UpstreamFetcher 基于共享 http.Client 实现 download.Fetcher。
type UpstreamFetcher struct {
	client *http.Client
}

// NewUpstreamFetcher 包装给定 client；nil 时使用默认配置的共享 client。
func NewUpstreamFetcher(client *http.Client) *UpstreamFetcher {
	if client == nil {
		client = NewUpstreamClient(nil)
	}
	return &UpstreamFetcher{client: client}
}

// Fetch 发起 GET 请求。非 2xx 响应会关闭响应体并返回带状态码的 FetchError。
func (f *UpstreamFetcher) Fetch(ctx context.Context, req download.Request) (*download.Response, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, req.URL, http.NoBody)
	if err != nil {
		return nil, &download.FetchError{URL: req.URL, Err: err}
	}
	CopyHeaders(httpReq.Header, req.Header)
	if httpReq.Header.Get("Accept") == "" {
		httpReq.Header.Set("Accept", "image/*,*/*;q=0.8")
	}

	resp, err := f.client.Do(httpReq)
	if err != nil {
		return nil, &download.FetchError{URL: req.URL, Err: err}
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
		resp.Body.Close()
		return nil, &download.FetchError{URL: req.URL, StatusCode: resp.StatusCode}
	}

	expected := resp.ContentLength
	if expected <= 0 {
		expected = -1
	}
	return &download.Response{Body: resp.Body, ExpectedSize: expected}, nil
}
