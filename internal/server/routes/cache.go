package routes

import (
	"strings"

	"github.com/gofiber/fiber/v3"

	"github.com/any-hub/imagehub/internal/cache"
	"github.com/any-hub/imagehub/internal/imagecache"
)

// RegisterCacheRoutes 暴露 /-/cache 诊断接口，供运维查询和清理两级缓存。
func RegisterCacheRoutes(app *fiber.App, c *imagecache.Cache) {
	if app == nil || c == nil {
		return
	}

	app.Get("/-/cache", func(ctx fiber.Ctx) error {
		count, cost := c.MemoryStats()
		size, err := c.CalculateSize()
		if err != nil {
			return ctx.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "disk_size_failed"})
		}
		cfg := c.Config()
		return ctx.JSON(cacheStatusPayload{
			Memory: memoryPayload{
				Enabled:    cfg.CacheInMemory,
				Count:      count,
				Cost:       cost,
				CostLimit:  cfg.MemoryCostLimit,
				CountLimit: cfg.MemoryCountLimit,
			},
			Disk: diskPayload{
				Root:          c.Disk().Root(),
				Size:          size,
				MaxAgeSeconds: int64(cfg.MaxAge.Seconds()),
				MaxSize:       cfg.MaxSize,
			},
		})
	})

	app.Delete("/-/cache", func(ctx fiber.Ctx) error {
		scope := strings.ToLower(strings.TrimSpace(ctx.Query("scope", "all")))
		switch scope {
		case "memory":
			c.ClearMemory()
		case "disk":
			if err := <-c.ClearDisk(); err != nil {
				return ctx.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "disk_clear_failed"})
			}
		case "all":
			c.ClearMemory()
			if err := <-c.ClearDisk(); err != nil {
				return ctx.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "disk_clear_failed"})
			}
		default:
			return ctx.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "scope_invalid"})
		}
		return ctx.JSON(fiber.Map{"cleared": scope})
	})

	app.Get("/-/cache/entry", func(ctx fiber.Ctx) error {
		key := ctx.Query("key")
		if key == "" {
			return ctx.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "key_required"})
		}
		_, inMemory := c.QueryMemory(key)
		return ctx.JSON(fiber.Map{
			"key":    key,
			"file":   cache.FileNameForKey(key),
			"memory": inMemory,
			"disk":   c.DiskExists(key),
		})
	})

	app.Delete("/-/cache/entry", func(ctx fiber.Ctx) error {
		key := ctx.Query("key")
		if key == "" {
			return ctx.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "key_required"})
		}
		if err := <-c.Remove(key, true); err != nil {
			return ctx.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "remove_failed"})
		}
		return ctx.JSON(fiber.Map{"removed": key})
	})

	app.Post("/-/cache/sweep", func(ctx fiber.Ctx) error {
		type outcome struct {
			result cache.SweepResult
			err    error
		}
		done := make(chan outcome, 1)
		c.DeleteOldFiles(func(result cache.SweepResult, err error) {
			done <- outcome{result: result, err: err}
		})
		res := <-done
		if res.err != nil {
			return ctx.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "sweep_failed"})
		}
		return ctx.JSON(res.result)
	})
}

type cacheStatusPayload struct {
	Memory memoryPayload `json:"memory"`
	Disk   diskPayload   `json:"disk"`
}

type memoryPayload struct {
	Enabled    bool  `json:"enabled"`
	Count      int   `json:"count"`
	Cost       int64 `json:"cost"`
	CostLimit  int64 `json:"cost_limit"`
	CountLimit int   `json:"count_limit"`
}

type diskPayload struct {
	Root          string     `json:"root"`
	Size          cache.Size `json:"size"`
	MaxAgeSeconds int64      `json:"max_age_seconds"`
	MaxSize       int64      `json:"max_size"`
}
