package routes

import (
	"errors"
	"testing"

	"github.com/gofiber/fiber/v3"
	"github.com/valyala/fasthttp"

	"github.com/any-hub/any-cache/internal/protocol"
	"github.com/any-hub/any-cache/internal/server"
)

func TestBindJSONRejectsMalformedBody(t *testing.T) {
	app := fiber.New()
	defer app.Shutdown()

	ctx := app.AcquireCtx(new(fasthttp.RequestCtx))
	defer app.ReleaseCtx(ctx)
	ctx.Request().SetBody([]byte(`{"path": "a.txt", "mode": "READ"}`))

	var req protocol.OpenRequest
	if err := bindJSON(ctx, &req); err != nil {
		t.Fatalf("合法请求体解析失败: %v", err)
	}
	if req.Path != "a.txt" || req.Mode != "READ" {
		t.Fatalf("解析结果不符: %+v", req)
	}

	ctx.Request().SetBody([]byte(`{"path":`))
	if err := bindJSON(ctx, &req); !errors.Is(err, protocol.ErrInvalidArgument) {
		t.Fatalf("非法请求体应返回 INVALID_ARGUMENT，实际 %v", err)
	}
}

func TestSendBinarySetsContentType(t *testing.T) {
	app := fiber.New()
	defer app.Shutdown()

	ctx := app.AcquireCtx(new(fasthttp.RequestCtx))
	defer app.ReleaseCtx(ctx)

	if err := sendBinary(ctx, []byte("block")); err != nil {
		t.Fatalf("sendBinary 失败: %v", err)
	}
	if got := string(ctx.Response().Header.ContentType()); got != fiber.MIMEOctetStream {
		t.Fatalf("Content-Type 不符: %s", got)
	}
	if got := string(ctx.Response().Body()); got != "block" {
		t.Fatalf("响应体不符: %q", got)
	}
}

func TestClientIDHeader(t *testing.T) {
	app := fiber.New()
	defer app.Shutdown()

	ctx := app.AcquireCtx(new(fasthttp.RequestCtx))
	defer app.ReleaseCtx(ctx)

	if err := requireClientID(ctx); !errors.Is(err, protocol.ErrInvalidArgument) {
		t.Fatalf("缺少客户端标识应返回 INVALID_ARGUMENT，实际 %v", err)
	}
	ctx.Request().Header.Set(server.HeaderClientID, "  c-42 ")
	if got := server.ClientID(ctx); got != "c-42" {
		t.Fatalf("客户端标识应去除空白，实际 %q", got)
	}
}

func TestReadSize(t *testing.T) {
	cases := []struct {
		raw  string
		want int
		err  bool
	}{
		{"", defaultReadSize, false},
		{"0", 0, false},
		{"4096", 4096, false},
		{"-1", 0, true},
		{"abc", 0, true},
		{"999999999", 0, true},
	}
	for _, tc := range cases {
		got, err := readSize(tc.raw)
		if tc.err {
			if !errors.Is(err, protocol.ErrInvalidArgument) {
				t.Fatalf("%q 应返回 INVALID_ARGUMENT，实际 %v", tc.raw, err)
			}
			continue
		}
		if err != nil || got != tc.want {
			t.Fatalf("%q: got %d err %v", tc.raw, got, err)
		}
	}
}
