package server

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/imagehub/internal/download"
	"github.com/any-hub/imagehub/internal/imaging"
	"github.com/any-hub/imagehub/internal/loader"
)

// ImageLoader describes the component resolving a URL through the cache
// tiers and the downloader. It allows injecting fakes during tests.
type ImageLoader interface {
	Load(ctx context.Context, url string, opts download.Options) (loader.Result, error)
}

// ImageLoaderFunc adapts a function to the ImageLoader interface.
type ImageLoaderFunc func(ctx context.Context, url string, opts download.Options) (loader.Result, error)

// Load makes ImageLoaderFunc satisfy ImageLoader.
func (f ImageLoaderFunc) Load(ctx context.Context, url string, opts download.Options) (loader.Result, error) {
	return f(ctx, url, opts)
}

// AppOptions controls how the Fiber application should behave.
type AppOptions struct {
	Logger     *logrus.Logger
	Loader     ImageLoader
	Codec      imaging.Codec // 内存命中没有原始字节时用于重新编码，默认 StdCodec
	ListenPort int
}

const contextKeyRequestID = "_imagehub_request_id"

// NewApp builds a Fiber application serving GET /image with request ids and
// structured error handling. Diagnostics routes are registered by the caller.
func NewApp(opts AppOptions) (*fiber.App, error) {
	if opts.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if opts.Loader == nil {
		return nil, errors.New("image loader is required")
	}
	if opts.ListenPort <= 0 {
		return nil, fmt.Errorf("invalid listen port: %d", opts.ListenPort)
	}
	if opts.Codec == nil {
		opts.Codec = imaging.NewStdCodec()
	}

	app := fiber.New(fiber.Config{
		CaseSensitive: true,
	})

	app.Use(recover.New())
	app.Use(requestContextMiddleware())

	handler := newImageHandler(opts)
	app.Get("/image", handler.Handle)

	return app, nil
}

// requestContextMiddleware 负责生成请求 ID 并写回响应头，诊断接口禁止缓存。
func requestContextMiddleware() fiber.Handler {
	return func(c fiber.Ctx) error {
		reqID := uuid.NewString()
		c.Locals(contextKeyRequestID, reqID)
		c.Set("X-Request-ID", reqID)
		if isDiagnosticsPath(string(c.Request().URI().Path())) {
			c.Set(fiber.HeaderCacheControl, "no-store")
		}
		return c.Next()
	}
}

// RequestID returns the request identifier stored by the router middleware.
func RequestID(c fiber.Ctx) string {
	if value := c.Locals(contextKeyRequestID); value != nil {
		if reqID, ok := value.(string); ok {
			return reqID
		}
	}
	return ""
}

func isDiagnosticsPath(path string) bool {
	return strings.HasPrefix(path, "/-/")
}
