package routes

import (
	"fmt"

	"github.com/gofiber/fiber/v3"

	"github.com/any-hub/any-cache/internal/filesrv"
	"github.com/any-hub/any-cache/internal/protocol"
)

// RegisterRPCRoutes 挂载文件服务端的 /rpc 接口，guard 在所有 RPC 之前执行（鉴权）。
func RegisterRPCRoutes(app *fiber.App, mgr *filesrv.Manager, guard fiber.Handler) {
	if app == nil || mgr == nil {
		return
	}
	rpc := app.Group("/rpc")
	if guard != nil {
		rpc.Use(guard)
	}

	rpc.Post("/session/open", func(c fiber.Ctx) error {
		var req protocol.Descriptor
		if err := bindJSON(c, &req); err != nil {
			return err
		}
		desc, err := mgr.OpenSession(requestContext(c), req)
		if err != nil {
			return err
		}
		return c.JSON(desc)
	})

	rpc.Post("/session/close", func(c fiber.Ctx) error {
		req, err := pathRequest(c)
		if err != nil {
			return err
		}
		if err := mgr.CloseSession(requestContext(c), req.Path); err != nil {
			return err
		}
		return c.JSON(protocol.ResultResponse{})
	})

	rpc.Post("/block", func(c fiber.Ctx) error {
		var req protocol.BlockRequest
		if err := bindJSON(c, &req); err != nil {
			return err
		}
		data, err := mgr.ReadBlock(requestContext(c), req.Block, req.Descriptor)
		if err != nil {
			return err
		}
		return sendBinary(c, data)
	})

	rpc.Post("/write/open", func(c fiber.Ctx) error {
		req, err := pathRequest(c)
		if err != nil {
			return err
		}
		if err := mgr.OpenWrite(requestContext(c), req.Path); err != nil {
			return err
		}
		return c.JSON(protocol.ResultResponse{})
	})

	rpc.Post("/write/chunk", func(c fiber.Ctx) error {
		filePath := c.Query("path")
		if filePath == "" {
			return fmt.Errorf("write chunk without path: %w", protocol.ErrInvalidArgument)
		}
		if err := mgr.WriteChunk(requestContext(c), filePath, c.Body()); err != nil {
			return err
		}
		return c.JSON(protocol.ResultResponse{})
	})

	rpc.Post("/write/close", func(c fiber.Ctx) error {
		req, err := pathRequest(c)
		if err != nil {
			return err
		}
		stamp, err := mgr.CloseWrite(requestContext(c), req.Path)
		if err != nil {
			return err
		}
		return c.JSON(protocol.LastModifiedResponse{Path: req.Path, LastModified: stamp})
	})

	rpc.Post("/write/abort", func(c fiber.Ctx) error {
		req, err := pathRequest(c)
		if err != nil {
			return err
		}
		if err := mgr.AbortWrite(requestContext(c), req.Path); err != nil {
			return err
		}
		return c.JSON(protocol.ResultResponse{})
	})

	rpc.Post("/unlink", func(c fiber.Ctx) error {
		req, err := pathRequest(c)
		if err != nil {
			return err
		}
		if err := mgr.Unlink(requestContext(c), req.Path); err != nil {
			return err
		}
		return c.JSON(protocol.UnlinkResponse{Result: protocol.CodeOK})
	})

	rpc.Get("/mtime", func(c fiber.Ctx) error {
		filePath := c.Query("path")
		stamp, err := mgr.LastModified(requestContext(c), filePath)
		if err != nil {
			return err
		}
		return c.JSON(protocol.LastModifiedResponse{Path: filePath, LastModified: stamp})
	})
}

func pathRequest(c fiber.Ctx) (protocol.PathRequest, error) {
	var req protocol.PathRequest
	if err := bindJSON(c, &req); err != nil {
		return req, err
	}
	return req, nil
}
