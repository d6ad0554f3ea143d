package server

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/any-cache/internal/auth"
	"github.com/any-hub/any-cache/internal/protocol"
)

func TestRouterRendersProtocolErrors(t *testing.T) {
	app := newTestApp(t)
	app.Get("/missing", func(c fiber.Ctx) error {
		return fmt.Errorf("open a.txt: %w", protocol.ErrNotFound)
	})
	app.Get("/full", func(c fiber.Ctx) error {
		return protocol.ErrNoSpace
	})

	cases := []struct {
		path   string
		status int
		code   protocol.Code
	}{
		{"/missing", fiber.StatusNotFound, protocol.CodeNotFound},
		{"/full", fiber.StatusInsufficientStorage, protocol.CodeNoSpace},
		{"/no-such-route", fiber.StatusNotFound, protocol.CodeNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.path, func(t *testing.T) {
			resp, err := app.Test(httptest.NewRequest("GET", tc.path, nil))
			if err != nil {
				t.Fatalf("app.Test failed: %v", err)
			}
			if resp.StatusCode != tc.status {
				t.Fatalf("expected %d status, got %d", tc.status, resp.StatusCode)
			}
			body := decodeError(t, resp.Body)
			if body.Code != tc.code || body.Error != tc.code.String() {
				t.Fatalf("错误体不符: %+v", body)
			}
			if reqID := resp.Header.Get("X-Request-ID"); reqID == "" {
				t.Fatalf("expected X-Request-ID header to be set")
			}
		})
	}
}

func TestRouterRecoversPanics(t *testing.T) {
	app := newTestApp(t)
	app.Get("/boom", func(c fiber.Ctx) error {
		panic("boom")
	})

	resp, err := app.Test(httptest.NewRequest("GET", "/boom", nil))
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusInternalServerError {
		t.Fatalf("expected 500 status, got %d", resp.StatusCode)
	}
	if body := decodeError(t, resp.Body); body.Code != protocol.CodeIOError {
		t.Fatalf("panic 应渲染为 IO_ERROR: %+v", body)
	}
}

func TestRequireToken(t *testing.T) {
	app := newTestApp(t)
	verifier := auth.NewVerifier("secret")
	app.Get("/rpc/ping", RequireToken(verifier, logrus.New()), func(c fiber.Ctx) error {
		return c.SendString(Node(c))
	})

	resp, err := app.Test(httptest.NewRequest("GET", "/rpc/ping", nil))
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusUnauthorized {
		t.Fatalf("缺少 token 应返回 401，实际 %d", resp.StatusCode)
	}
	if body := decodeError(t, resp.Body); body.Code != protocol.CodePermissionDenied {
		t.Fatalf("错误码不符: %+v", body)
	}

	token, err := auth.NewSigner("secret", "proxy-1", time.Minute).Token()
	if err != nil {
		t.Fatalf("签发 token 失败: %v", err)
	}
	req := httptest.NewRequest("GET", "/rpc/ping", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err = app.Test(req)
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("合法 token 应放行，实际 %d", resp.StatusCode)
	}
	if body, _ := io.ReadAll(resp.Body); string(body) != "proxy-1" {
		t.Fatalf("应记录调用方节点，实际 %q", body)
	}
}

func TestRequireTokenDisabled(t *testing.T) {
	app := newTestApp(t)
	app.Get("/open", RequireToken(nil, logrus.New()), func(c fiber.Ctx) error {
		return c.SendStatus(fiber.StatusNoContent)
	})
	resp, err := app.Test(httptest.NewRequest("GET", "/open", nil))
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusNoContent {
		t.Fatalf("未配置密钥时应放行，实际 %d", resp.StatusCode)
	}
}

func TestStatusFor(t *testing.T) {
	cases := map[protocol.Code]int{
		protocol.CodeOK:                fiber.StatusOK,
		protocol.CodeAlreadyExists:     fiber.StatusConflict,
		protocol.CodePermissionDenied:  fiber.StatusForbidden,
		protocol.CodeBadHandle:         fiber.StatusBadRequest,
		protocol.CodeServerUnavailable: fiber.StatusServiceUnavailable,
		protocol.CodeIOError:           fiber.StatusInternalServerError,
	}
	for code, want := range cases {
		if got := StatusFor(code); got != want {
			t.Fatalf("%s: expected %d, got %d", code, want, got)
		}
	}
}

func TestNewAppRequiresLogger(t *testing.T) {
	if _, err := NewApp(AppOptions{}); err == nil {
		t.Fatalf("缺少 logger 时应返回错误")
	}
}

func newTestApp(t *testing.T) *fiber.App {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	app, err := NewApp(AppOptions{Logger: logger, Role: "proxy"})
	if err != nil {
		t.Fatalf("failed to create app: %v", err)
	}
	return app
}

func decodeError(t *testing.T, body io.Reader) protocol.ErrorResponse {
	t.Helper()
	var payload protocol.ErrorResponse
	if err := json.NewDecoder(body).Decode(&payload); err != nil {
		t.Fatalf("解析错误体失败: %v", err)
	}
	return payload
}
