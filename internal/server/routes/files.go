package routes

import (
	"fmt"
	"strconv"

	"github.com/gofiber/fiber/v3"

	"github.com/any-hub/any-cache/internal/protocol"
	"github.com/any-hub/any-cache/internal/proxy"
	"github.com/any-hub/any-cache/internal/server"
)

const (
	defaultReadSize = 64 * 1024
	maxReadSize     = 16 * 1024 * 1024
)

// RegisterFileRoutes 暴露代理面向客户端的 /v1 文件接口，X-Client-ID 选择句柄表。
func RegisterFileRoutes(app *fiber.App, handler *proxy.Handler) {
	if app == nil || handler == nil {
		return
	}
	v1 := app.Group("/v1")
	v1.Use(requireClientID)

	v1.Post("/open", func(c fiber.Ctx) error {
		var req protocol.OpenRequest
		if err := bindJSON(c, &req); err != nil {
			return err
		}
		mode, err := protocol.ParseOpenMode(req.Mode)
		if err != nil {
			return err
		}
		fd, err := handler.Open(requestContext(c), server.ClientID(c), req.Path, mode)
		if err != nil {
			return err
		}
		return c.JSON(protocol.OpenResponse{FD: fd})
	})

	v1.Post("/fd/:fd/close", func(c fiber.Ctx) error {
		fd, err := paramFD(c)
		if err != nil {
			return err
		}
		if err := handler.Close(requestContext(c), server.ClientID(c), fd); err != nil {
			return err
		}
		return c.JSON(protocol.ResultResponse{})
	})

	v1.Get("/fd/:fd/read", func(c fiber.Ctx) error {
		fd, err := paramFD(c)
		if err != nil {
			return err
		}
		size, err := readSize(c.Query("size"))
		if err != nil {
			return err
		}
		buf := make([]byte, size)
		n, err := handler.Read(server.ClientID(c), fd, buf)
		if err != nil {
			return err
		}
		return sendBinary(c, buf[:n])
	})

	v1.Post("/fd/:fd/write", func(c fiber.Ctx) error {
		fd, err := paramFD(c)
		if err != nil {
			return err
		}
		n, err := handler.Write(server.ClientID(c), fd, c.Body())
		if err != nil {
			return err
		}
		return c.JSON(protocol.WriteResponse{Written: n})
	})

	v1.Post("/fd/:fd/seek", func(c fiber.Ctx) error {
		fd, err := paramFD(c)
		if err != nil {
			return err
		}
		var req protocol.SeekRequest
		if err := bindJSON(c, &req); err != nil {
			return err
		}
		whence, err := protocol.ParseWhence(req.Whence)
		if err != nil {
			return err
		}
		pos, err := handler.Lseek(server.ClientID(c), fd, req.Offset, whence)
		if err != nil {
			return err
		}
		return c.JSON(protocol.SeekResponse{Position: pos})
	})

	v1.Post("/unlink", func(c fiber.Ctx) error {
		req, err := pathRequest(c)
		if err != nil {
			return err
		}
		if err := handler.Unlink(requestContext(c), req.Path); err != nil {
			return err
		}
		return c.JSON(protocol.ResultResponse{})
	})

	v1.Delete("/client", func(c fiber.Ctx) error {
		if err := handler.ClientDone(requestContext(c), server.ClientID(c)); err != nil {
			return err
		}
		return c.JSON(protocol.ResultResponse{})
	})
}

func requireClientID(c fiber.Ctx) error {
	if server.ClientID(c) == "" {
		return fmt.Errorf("missing %s header: %w", server.HeaderClientID, protocol.ErrInvalidArgument)
	}
	return c.Next()
}

func readSize(raw string) (int, error) {
	if raw == "" {
		return defaultReadSize, nil
	}
	size, err := strconv.Atoi(raw)
	if err != nil || size < 0 || size > maxReadSize {
		return 0, fmt.Errorf("read size %q: %w", raw, protocol.ErrInvalidArgument)
	}
	return size, nil
}
