package download

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/any-hub/imagehub/internal/imaging"
)

// State 是 Task 的生命周期状态。
type State int32

const (
	StatePending State = iota
	StateRunning
	StateSucceeded
	StateFailed
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateRunning:
		return "running"
	case StateSucceeded:
		return "succeeded"
	case StateFailed:
		return "failed"
	case StateCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Terminal 报告状态是否为终态。
func (s State) Terminal() bool {
	return s >= StateSucceeded
}

// Priority 决定新任务在等待队列中的位置。
type Priority int

const (
	PriorityNormal Priority = iota
	PriorityLow
	PriorityHigh
)

// ExecutionOrder 决定等待队列的出队顺序。
type ExecutionOrder int

const (
	FIFO ExecutionOrder = iota
	LIFO
)

func (o ExecutionOrder) String() string {
	if o == LIFO {
		return "lifo"
	}
	return "fifo"
}

// ParseExecutionOrder 解析配置中的 fifo/lifo（大小写不敏感，空串为 fifo）。
func ParseExecutionOrder(value string) (ExecutionOrder, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", "fifo":
		return FIFO, nil
	case "lifo":
		return LIFO, nil
	default:
		return FIFO, fmt.Errorf("unknown execution order %q", value)
	}
}

// Token 标识一次订阅，只用于取消该订阅自身。
type Token struct {
	URL string `json:"url"`
	ID  string `json:"id"`
}

// Result 是任务的终态结果，同一任务的所有 handler 收到同一份 Result。
type Result struct {
	URL   string
	Key   string
	Image *imaging.Image
	Data  []byte
	Err   error
}

// ProgressFunc 在下载过程中被调用零次或多次；expected 未知时为 -1。
type ProgressFunc func(received, expected int64, url string)

// DoneFunc 对每个 handler 至多调用一次。
type DoneFunc func(Result)

// Options 是单次订阅的请求参数。去重时以创建任务的第一次订阅为准。
type Options struct {
	Priority Priority
	Header   http.Header
	Timeout  time.Duration
}

// Config 在构造 Coordinator 时确定；并发数与执行顺序可在运行期调整。
type Config struct {
	MaxConcurrentDownloads int
	ExecutionOrder         ExecutionOrder
	Timeout                time.Duration // 单任务超时，0 使用 DefaultTimeout
	Header                 http.Header   // 每个请求附带的默认请求头
	Username               string
	Password               string
	// HeadersFilter 在请求发出前最后一次改写请求头。
	HeadersFilter func(url string, header http.Header) http.Header
	// CacheKeyFunc 把 URL 映射为交给 Sink 的缓存 key，默认直接使用 URL。
	CacheKeyFunc func(url string) string
}

const (
	DefaultMaxConcurrentDownloads = 6
	DefaultTimeout                = 15 * time.Second
)

// DefaultConfig 返回默认的下载配置。
func DefaultConfig() Config {
	return Config{
		MaxConcurrentDownloads: DefaultMaxConcurrentDownloads,
		ExecutionOrder:         FIFO,
		Timeout:                DefaultTimeout,
	}
}

// Stats 是调度器的即时快照。
type Stats struct {
	Pending       int    `json:"pending"`
	Running       int    `json:"running"`
	MaxConcurrent int    `json:"max_concurrent"`
	Order         string `json:"order"`
	Suspended     bool   `json:"suspended"`
}
