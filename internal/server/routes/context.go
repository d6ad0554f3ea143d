package routes

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/gofiber/fiber/v3"

	"github.com/any-hub/any-cache/internal/protocol"
)

func requestContext(c fiber.Ctx) context.Context {
	ctx := c.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return ctx
}

// bindJSON 解析 JSON 请求体，格式错误返回 INVALID_ARGUMENT。
func bindJSON(c fiber.Ctx, out any) error {
	if err := json.Unmarshal(c.Body(), out); err != nil {
		return fmt.Errorf("decode %s body: %v: %w", c.Path(), err, protocol.ErrInvalidArgument)
	}
	return nil
}

func sendBinary(c fiber.Ctx, data []byte) error {
	c.Set(fiber.HeaderContentType, fiber.MIMEOctetStream)
	return c.Send(data)
}

func paramFD(c fiber.Ctx) (int, error) {
	fd, err := strconv.Atoi(c.Params("fd"))
	if err != nil || fd <= 0 {
		return 0, fmt.Errorf("fd %q: %w", c.Params("fd"), protocol.ErrBadHandle)
	}
	return fd, nil
}
