package server

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/any-cache/internal/auth"
	"github.com/any-hub/any-cache/internal/protocol"
)

// HeaderClientID 标识发起调用的客户端，代理按它选择句柄表。
const HeaderClientID = "X-Client-ID"

const defaultBodyLimit = 4 * 1024 * 1024

// AppOptions controls how the Fiber application should behave for one role.
type AppOptions struct {
	Logger    *logrus.Logger
	Role      string
	BodyLimit int
}

const (
	contextKeyRequestID = "_anycache_request_id"
	contextKeyNode      = "_anycache_node"
)

// NewApp builds a Fiber application with request-id middleware, panic
// recovery and protocol-aware error rendering. Routes are attached by the
// caller.
func NewApp(opts AppOptions) (*fiber.App, error) {
	if opts.Logger == nil {
		return nil, errors.New("logger is required")
	}
	limit := opts.BodyLimit
	if limit < defaultBodyLimit {
		limit = defaultBodyLimit
	}

	app := fiber.New(fiber.Config{
		CaseSensitive: true,
		BodyLimit:     limit,
		ErrorHandler:  errorHandler(opts.Logger, opts.Role),
	})

	app.Use(recover.New())
	app.Use(requestContextMiddleware())

	return app, nil
}

// requestContextMiddleware 为每个请求生成请求 ID 并回写到响应头。
func requestContextMiddleware() fiber.Handler {
	return func(c fiber.Ctx) error {
		reqID := uuid.NewString()
		c.Locals(contextKeyRequestID, reqID)
		c.Set("X-Request-ID", reqID)
		return c.Next()
	}
}

// errorHandler 把处理函数返回的错误渲染为 {"error","code"}，HTTP 状态码由错误码决定。
func errorHandler(logger *logrus.Logger, role string) fiber.ErrorHandler {
	return func(c fiber.Ctx, err error) error {
		var fiberErr *fiber.Error
		if errors.As(err, &fiberErr) {
			code := protocol.CodeInvalidArgument
			switch fiberErr.Code {
			case fiber.StatusNotFound, fiber.StatusMethodNotAllowed:
				code = protocol.CodeNotFound
			case fiber.StatusRequestEntityTooLarge:
				code = protocol.CodeNoSpace
			}
			return c.Status(fiberErr.Code).JSON(protocol.ErrorResponse{Error: code.String(), Code: code})
		}

		code := protocol.CodeOf(err)
		status := StatusFor(code)
		fields := logrus.Fields{
			"action":     "http_error",
			"role":       role,
			"method":     c.Method(),
			"path":       c.Path(),
			"request_id": RequestID(c),
			"result":     code.String(),
		}
		entry := logger.WithFields(fields).WithError(err)
		if status >= fiber.StatusInternalServerError {
			entry.Warn("request_failed")
		} else {
			entry.Debug("request_failed")
		}
		return c.Status(status).JSON(protocol.ErrorResponse{Error: code.String(), Code: code})
	}
}

// StatusFor 返回错误码对应的 HTTP 状态码。
func StatusFor(code protocol.Code) int {
	switch code {
	case protocol.CodeOK:
		return fiber.StatusOK
	case protocol.CodeNotFound:
		return fiber.StatusNotFound
	case protocol.CodeAlreadyExists, protocol.CodeIsADirectory:
		return fiber.StatusConflict
	case protocol.CodePermissionDenied:
		return fiber.StatusForbidden
	case protocol.CodeBadHandle, protocol.CodeInvalidArgument:
		return fiber.StatusBadRequest
	case protocol.CodeNoSpace:
		return fiber.StatusInsufficientStorage
	case protocol.CodeServerUnavailable:
		return fiber.StatusServiceUnavailable
	default:
		return fiber.StatusInternalServerError
	}
}

// RequireToken 校验 Authorization: Bearer 头。verifier 为 nil 时放行所有请求。
func RequireToken(verifier *auth.Verifier, logger *logrus.Logger) fiber.Handler {
	return func(c fiber.Ctx) error {
		if verifier == nil {
			return c.Next()
		}
		claims, err := verifier.Verify(auth.BearerToken(c.Get(fiber.HeaderAuthorization)))
		if err != nil {
			logger.WithFields(logrus.Fields{
				"action":     "auth",
				"path":       c.Path(),
				"request_id": RequestID(c),
			}).WithError(err).Warn("token_rejected")
			return c.Status(fiber.StatusUnauthorized).JSON(protocol.ErrorResponse{
				Error: protocol.CodePermissionDenied.String(),
				Code:  protocol.CodePermissionDenied,
			})
		}
		c.Locals(contextKeyNode, claims.Node)
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

// Node 返回通过鉴权的调用方节点名，未启用鉴权时为空。
func Node(c fiber.Ctx) string {
	if value := c.Locals(contextKeyNode); value != nil {
		if node, ok := value.(string); ok {
			return node
		}
	}
	return ""
}

// ClientID 读取 X-Client-ID 头。
func ClientID(c fiber.Ctx) string {
	return strings.TrimSpace(c.Get(HeaderClientID))
}
