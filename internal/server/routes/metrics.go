package routes

import (
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RegisterMetricsRoute 以 Prometheus 文本格式暴露 /-/metrics；gatherer 为 nil 时使用默认注册表。
func RegisterMetricsRoute(app *fiber.App, gatherer prometheus.Gatherer) {
	if app == nil {
		return
	}
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	handler := promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
	app.Get("/-/metrics", adaptor.HTTPHandler(handler))
}
