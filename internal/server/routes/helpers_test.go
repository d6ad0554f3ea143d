package routes

import (
	"bytes"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/any-cache/internal/auth"
	"github.com/any-hub/any-cache/internal/cache"
	"github.com/any-hub/any-cache/internal/filesrv"
	"github.com/any-hub/any-cache/internal/protocol"
	"github.com/any-hub/any-cache/internal/proxy"
	"github.com/any-hub/any-cache/internal/remote"
	"github.com/any-hub/any-cache/internal/server"
)

const testSecret = "routes-secret"

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

type serverEnv struct {
	app  *fiber.App
	mgr  *filesrv.Manager
	root string
}

func newServerEnv(t *testing.T, secret string, maxBlock int64) *serverEnv {
	t.Helper()
	root := t.TempDir()
	backend, err := filesrv.NewLocalBackend(root)
	if err != nil {
		t.Fatalf("创建本地后端失败: %v", err)
	}
	mgr, err := filesrv.NewManager(filesrv.Options{Backend: backend, MaxBlockSize: maxBlock, Logger: quietLogger()})
	if err != nil {
		t.Fatalf("创建会话管理器失败: %v", err)
	}
	logger := quietLogger()
	app, err := server.NewApp(server.AppOptions{Logger: logger, Role: "server"})
	if err != nil {
		t.Fatalf("failed to create app: %v", err)
	}
	RegisterRPCRoutes(app, mgr, server.RequireToken(auth.NewVerifier(secret), logger))
	RegisterServerDiagnostics(app, mgr)
	return &serverEnv{app: app, mgr: mgr, root: root}
}

func (e *serverEnv) writeFile(t *testing.T, name, content string) {
	t.Helper()
	full := filepath.Join(e.root, filepath.FromSlash(name))
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		t.Fatalf("创建目录失败: %v", err)
	}
	if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
		t.Fatalf("写入文件失败: %v", err)
	}
}

func (e *serverEnv) readFile(t *testing.T, name string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(e.root, filepath.FromSlash(name)))
	if err != nil {
		t.Fatalf("读取文件失败: %v", err)
	}
	return string(data)
}

// listen 在真实端口上启动服务端 app，无法监听时跳过测试。
func (e *serverEnv) listen(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Skipf("unable to listen: %v", err)
	}
	go func() {
		_ = e.app.Listener(ln, fiber.ListenConfig{DisableStartupMessage: true})
	}()
	t.Cleanup(func() { _ = e.app.Shutdown() })
	return "http://" + ln.Addr().String()
}

type proxyEnv struct {
	app     *fiber.App
	handler *proxy.Handler
	server  *serverEnv
}

func newProxyEnv(t *testing.T, capacity int64) *proxyEnv {
	t.Helper()
	srv := newServerEnv(t, testSecret, 4)
	baseURL := srv.listen(t)

	client, err := remote.New(remote.Options{
		BaseURL:    baseURL,
		HTTPClient: &http.Client{Timeout: 5 * time.Second},
		Signer:     auth.NewSigner(testSecret, "proxy-test", time.Minute),
		Logger:     quietLogger(),
	})
	if err != nil {
		t.Fatalf("创建远程客户端失败: %v", err)
	}
	cacheMgr, err := cache.NewManager(cache.Options{Dir: t.TempDir(), Capacity: capacity, Logger: quietLogger()})
	if err != nil {
		t.Fatalf("创建缓存失败: %v", err)
	}
	handler, err := proxy.NewHandler(proxy.Options{Cache: cacheMgr, Remote: client, Logger: quietLogger(), ChunkSize: 4})
	if err != nil {
		t.Fatalf("创建 Handler 失败: %v", err)
	}
	app, err := server.NewApp(server.AppOptions{Logger: quietLogger(), Role: "proxy"})
	if err != nil {
		t.Fatalf("failed to create app: %v", err)
	}
	RegisterFileRoutes(app, handler)
	RegisterProxyDiagnostics(app, handler)
	return &proxyEnv{app: app, handler: handler, server: srv}
}

// call 发送请求并返回状态码与响应体。
func call(t *testing.T, app *fiber.App, method, target, clientID string, body []byte) (int, []byte) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	if clientID != "" {
		req.Header.Set(server.HeaderClientID, clientID)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := app.Test(req, fiber.TestConfig{Timeout: 5 * time.Second})
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("读取响应失败: %v", err)
	}
	return resp.StatusCode, data
}

func mustJSON(t *testing.T, v any) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("编码失败: %v", err)
	}
	return data
}

func decodeInto(t *testing.T, data []byte, out any) {
	t.Helper()
	if err := json.Unmarshal(data, out); err != nil {
		t.Fatalf("解析响应失败: %v (body=%s)", err, data)
	}
}

func errorCode(t *testing.T, data []byte) protocol.Code {
	t.Helper()
	var payload protocol.ErrorResponse
	decodeInto(t, data, &payload)
	return payload.Code
}
