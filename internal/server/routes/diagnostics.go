package routes

import (
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"

	"github.com/any-hub/any-cache/internal/filesrv"
	"github.com/any-hub/any-cache/internal/metrics"
	"github.com/any-hub/any-cache/internal/proxy"
	"github.com/any-hub/any-cache/internal/version"
)

// RegisterProxyDiagnostics 暴露 /-/status（缓存与句柄快照，?path= 时做新鲜度探测）与 /-/metrics。
func RegisterProxyDiagnostics(app *fiber.App, handler *proxy.Handler) {
	if app == nil || handler == nil {
		return
	}

	app.Get("/-/status", func(c fiber.Ctx) error {
		if filePath := c.Query("path"); filePath != "" {
			freshness, err := handler.Freshness(requestContext(c), filePath)
			if err != nil {
				return err
			}
			return c.JSON(freshness)
		}
		status := handler.Status()
		metrics.SetCacheUsedBytes(status.Cache.UsedBytes)
		return c.JSON(fiber.Map{
			"role":    "proxy",
			"version": version.Full(),
			"cache":   status.Cache,
			"clients": status.Clients,
		})
	})
	registerMetrics(app)
}

// RegisterServerDiagnostics 暴露服务端的会话锁表、后端信息与 /-/metrics。
func RegisterServerDiagnostics(app *fiber.App, mgr *filesrv.Manager) {
	if app == nil || mgr == nil {
		return
	}

	app.Get("/-/status", func(c fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"role":           "server",
			"version":        version.Full(),
			"backend":        mgr.Backend().Name(),
			"max_block_size": mgr.MaxBlockSize(),
			"sessions":       mgr.Sessions(),
		})
	})
	registerMetrics(app)
}

func registerMetrics(app *fiber.App) {
	app.Get("/-/metrics", adaptor.HTTPHandler(metrics.Handler()))
}
