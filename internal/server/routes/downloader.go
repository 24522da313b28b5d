package routes

import (
	"strconv"

	"github.com/gofiber/fiber/v3"

	"github.com/any-hub/imagehub/internal/download"
)

// RegisterDownloaderRoutes 暴露 /-/downloader 诊断接口：查看队列并暂停、恢复或取消下载。
func RegisterDownloaderRoutes(app *fiber.App, d *download.Coordinator) {
	if app == nil || d == nil {
		return
	}

	app.Get("/-/downloader", func(c fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"stats": d.Stats(),
			"tasks": d.Tasks(),
		})
	})

	app.Post("/-/downloader/suspend", func(c fiber.Ctx) error {
		d.Suspend()
		return c.JSON(d.Stats())
	})

	app.Post("/-/downloader/resume", func(c fiber.Ctx) error {
		d.Resume()
		return c.JSON(d.Stats())
	})

	app.Post("/-/downloader/cancel", func(c fiber.Ctx) error {
		d.CancelAll()
		return c.JSON(d.Stats())
	})

	// 运行期调整并发数与执行顺序，参数均可省略。
	app.Post("/-/downloader/config", func(c fiber.Ctx) error {
		if raw := c.Query("max_concurrent"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n <= 0 {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "max_concurrent_invalid"})
			}
			d.SetMaxConcurrency(n)
		}
		if raw := c.Query("order"); raw != "" {
			order, err := download.ParseExecutionOrder(raw)
			if err != nil {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "order_invalid"})
			}
			d.SetExecutionOrder(order)
		}
		return c.JSON(d.Stats())
	})
}
