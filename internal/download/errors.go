package download

import (
	"errors"
	"fmt"
)

var (
	// ErrCancelled 表示任务在得到结果前被取消。
	ErrCancelled = errors.New("download cancelled")
	// ErrFetchFailed 匹配所有网络/传输失败。
	ErrFetchFailed = errors.New("download fetch failed")
	// ErrInvalidURL 表示订阅时传入了空 URL。
	ErrInvalidURL = errors.New("download url required")
	// ErrClosed 表示 Coordinator 已关闭。
	ErrClosed = errors.New("download coordinator closed")
)

// FetchError 描述一次失败的抓取；StatusCode 为 0 表示没有拿到响应。
type FetchError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s: status %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

func (e *FetchError) Is(target error) bool {
	return target == ErrFetchFailed
}
