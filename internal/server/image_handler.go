package server

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/imagehub/internal/download"
	"github.com/any-hub/imagehub/internal/imagecache"
	"github.com/any-hub/imagehub/internal/imaging"
	"github.com/any-hub/imagehub/internal/logging"
	"github.com/any-hub/imagehub/internal/loader"
)

// HeaderCacheOrigin 标识响应来自哪一层缓存：memory、disk 或 none（网络）。
const HeaderCacheOrigin = "X-Imagehub-Cache"

type imageHandler struct {
	logger *logrus.Logger
	loader ImageLoader
	codec  imaging.Codec
}

func newImageHandler(opts AppOptions) *imageHandler {
	return &imageHandler{
		logger: opts.Logger,
		loader: opts.Loader,
		codec:  opts.Codec,
	}
}

// Handle 处理 GET /image?url=&priority=，缓存未命中时阻塞等待下载完成。
func (h *imageHandler) Handle(c fiber.Ctx) error {
	started := time.Now()
	target := strings.TrimSpace(c.Query("url"))
	if target == "" {
		return writeError(c, fiber.StatusBadRequest, "url_required")
	}
	if !isFetchableURL(target) {
		return writeError(c, fiber.StatusBadRequest, "url_invalid")
	}
	priority, ok := parsePriority(c.Query("priority"))
	if !ok {
		return writeError(c, fiber.StatusBadRequest, "priority_invalid")
	}

	result, err := h.loader.Load(c.Context(), target, download.Options{Priority: priority})
	if err != nil {
		status, code := classifyLoadError(err)
		h.logResult(c, target, result, status, started, err)
		return writeError(c, status, code)
	}

	data := result.Data
	if len(data) == 0 {
		data, err = h.codec.Encode(result.Image)
		if err != nil {
			h.logResult(c, target, result, fiber.StatusInternalServerError, started, err)
			return writeError(c, fiber.StatusInternalServerError, "encode_failed")
		}
	}

	format := imaging.DetectFormat(data)
	if format == "" && result.Image != nil {
		format = result.Image.Format
	}
	c.Set(fiber.HeaderContentType, imaging.ContentType(format))
	c.Set(HeaderCacheOrigin, result.Origin.String())
	h.logResult(c, target, result, fiber.StatusOK, started, nil)
	return c.Status(fiber.StatusOK).Send(data)
}

func (h *imageHandler) logResult(c fiber.Ctx, target string, result loader.Result, status int, started time.Time, err error) {
	fields := logging.CacheFields(result.Key, result.Origin.String())
	fields["action"] = "image"
	fields["url"] = target
	fields["status"] = status
	fields["elapsed_ms"] = time.Since(started).Milliseconds()
	if reqID := RequestID(c); reqID != "" {
		fields["request_id"] = reqID
	}
	if err != nil {
		fields["error"] = err.Error()
		h.logger.WithFields(fields).Warn("image_failed")
		return
	}
	h.logger.WithFields(fields).Info("image_served")
}

// classifyLoadError 把加载错误映射为 HTTP 状态码与错误码。
func classifyLoadError(err error) (int, string) {
	switch {
	case errors.Is(err, download.ErrInvalidURL):
		return fiber.StatusBadRequest, "url_required"
	case errors.Is(err, imaging.ErrDecodeFailed):
		return fiber.StatusUnprocessableEntity, "decode_failed"
	case errors.Is(err, context.DeadlineExceeded):
		return fiber.StatusGatewayTimeout, "upstream_timeout"
	case errors.Is(err, download.ErrFetchFailed):
		return fiber.StatusBadGateway, "fetch_failed"
	case errors.Is(err, download.ErrCancelled),
		errors.Is(err, imagecache.ErrCancelled),
		errors.Is(err, context.Canceled):
		return fiber.StatusServiceUnavailable, "cancelled"
	case errors.Is(err, download.ErrClosed), errors.Is(err, imagecache.ErrClosed):
		return fiber.StatusServiceUnavailable, "shutting_down"
	default:
		return fiber.StatusInternalServerError, "internal_error"
	}
}

func parsePriority(raw string) (download.Priority, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "normal":
		return download.PriorityNormal, true
	case "low":
		return download.PriorityLow, true
	case "high":
		return download.PriorityHigh, true
	default:
		return download.PriorityNormal, false
	}
}

func isFetchableURL(raw string) bool {
	parsed, err := url.Parse(raw)
	if err != nil || parsed.Host == "" {
		return false
	}
	return parsed.Scheme == "http" || parsed.Scheme == "https"
}

func writeError(c fiber.Ctx, status int, code string) error {
	return c.Status(status).JSON(fiber.Map{"error": code})
}
