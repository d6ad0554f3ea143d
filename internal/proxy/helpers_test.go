package proxy

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/any-hub/any-cache/internal/cache"
	"github.com/any-hub/any-cache/internal/filesrv"
	"github.com/any-hub/any-cache/internal/protocol"
)

// localRemote 在进程内直接调用 filesrv.Manager，并统计分块拉取与写会话并发度。
type localRemote struct {
	mgr *filesrv.Manager

	blocks     atomic.Int64
	down       atomic.Bool
	chunkDelay time.Duration

	mu         sync.Mutex
	writers    int
	maxWriters int
}

func (r *localRemote) check() error {
	if r.down.Load() {
		return fmt.Errorf("dial file server: %w", protocol.ErrServerUnavailable)
	}
	return nil
}

func (r *localRemote) OpenSession(ctx context.Context, path string, mode protocol.OpenMode) (protocol.Descriptor, error) {
	if err := r.check(); err != nil {
		return protocol.Descriptor{}, err
	}
	return r.mgr.OpenSession(ctx, protocol.Descriptor{Path: path, Mode: mode})
}

func (r *localRemote) CloseSession(ctx context.Context, path string) error {
	if err := r.check(); err != nil {
		return err
	}
	return r.mgr.CloseSession(ctx, path)
}

func (r *localRemote) GetBlock(ctx context.Context, block int, desc protocol.Descriptor) ([]byte, error) {
	if err := r.check(); err != nil {
		return nil, err
	}
	r.blocks.Add(1)
	return r.mgr.ReadBlock(ctx, block, desc)
}

func (r *localRemote) OpenWrite(ctx context.Context, path string) error {
	if err := r.check(); err != nil {
		return err
	}
	if err := r.mgr.OpenWrite(ctx, path); err != nil {
		return err
	}
	r.mu.Lock()
	r.writers++
	if r.writers > r.maxWriters {
		r.maxWriters = r.writers
	}
	r.mu.Unlock()
	return nil
}

func (r *localRemote) WriteChunk(ctx context.Context, path string, data []byte) error {
	if err := r.check(); err != nil {
		return err
	}
	if r.chunkDelay > 0 {
		time.Sleep(r.chunkDelay)
	}
	return r.mgr.WriteChunk(ctx, path, data)
}

func (r *localRemote) CloseWrite(ctx context.Context, path string) (int64, error) {
	if err := r.check(); err != nil {
		return 0, err
	}
	r.mu.Lock()
	r.writers--
	r.mu.Unlock()
	return r.mgr.CloseWrite(ctx, path)
}

func (r *localRemote) AbortWrite(ctx context.Context, path string) error {
	r.mu.Lock()
	r.writers--
	r.mu.Unlock()
	return r.mgr.AbortWrite(ctx, path)
}

func (r *localRemote) Unlink(ctx context.Context, path string) error {
	if err := r.check(); err != nil {
		return err
	}
	return r.mgr.Unlink(ctx, path)
}

func (r *localRemote) LastModified(ctx context.Context, path string) (int64, error) {
	if err := r.check(); err != nil {
		return 0, err
	}
	return r.mgr.LastModified(ctx, path)
}

type testEnv struct {
	handler *Handler
	cache   *cache.Manager
	server  *filesrv.Manager
	remote  *localRemote
	root    string
}

func newTestEnv(t *testing.T, capacity, maxBlock int64) *testEnv {
	t.Helper()
	root := t.TempDir()
	backend, err := filesrv.NewLocalBackend(root)
	if err != nil {
		t.Fatalf("创建本地后端失败: %v", err)
	}
	server, err := filesrv.NewManager(filesrv.Options{Backend: backend, MaxBlockSize: maxBlock})
	if err != nil {
		t.Fatalf("创建服务端管理器失败: %v", err)
	}
	cacheMgr, err := cache.NewManager(cache.Options{Dir: t.TempDir(), Capacity: capacity})
	if err != nil {
		t.Fatalf("创建缓存管理器失败: %v", err)
	}
	remote := &localRemote{mgr: server}
	handler, err := NewHandler(Options{Cache: cacheMgr, Remote: remote, ChunkSize: maxBlock})
	if err != nil {
		t.Fatalf("创建 Handler 失败: %v", err)
	}
	return &testEnv{handler: handler, cache: cacheMgr, server: server, remote: remote, root: root}
}

func (e *testEnv) writeServerFile(t *testing.T, name string, data []byte) {
	t.Helper()
	full := filepath.Join(e.root, filepath.FromSlash(name))
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		t.Fatalf("创建目录失败: %v", err)
	}
	if err := os.WriteFile(full, data, 0o644); err != nil {
		t.Fatalf("写入服务端文件失败: %v", err)
	}
}

// rewriteServerFile 通过写会话修改服务端文件，保证修改时间递增。
func (e *testEnv) rewriteServerFile(t *testing.T, name string, data []byte) {
	t.Helper()
	ctx := context.Background()
	if err := e.server.OpenWrite(ctx, name); err != nil {
		t.Fatalf("打开写会话失败: %v", err)
	}
	if err := e.server.WriteChunk(ctx, name, data); err != nil {
		t.Fatalf("写入失败: %v", err)
	}
	if _, err := e.server.CloseWrite(ctx, name); err != nil {
		t.Fatalf("关闭写会话失败: %v", err)
	}
}

func (e *testEnv) readServerFile(t *testing.T, name string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(e.root, filepath.FromSlash(name)))
	if err != nil {
		t.Fatalf("读取服务端文件失败: %v", err)
	}
	return string(data)
}

func (e *testEnv) open(t *testing.T, client, name string, mode protocol.OpenMode) int {
	t.Helper()
	fd, err := e.handler.Open(context.Background(), client, name, mode)
	if err != nil {
		t.Fatalf("打开 %s (%s) 失败: %v", name, mode, err)
	}
	return fd
}

func (e *testEnv) close(t *testing.T, client string, fd int) {
	t.Helper()
	if err := e.handler.Close(context.Background(), client, fd); err != nil {
		t.Fatalf("关闭 fd %d 失败: %v", fd, err)
	}
}

func (e *testEnv) readAll(t *testing.T, client string, fd int) string {
	t.Helper()
	var out []byte
	buf := make([]byte, 3)
	for {
		n, err := e.handler.Read(client, fd, buf)
		if err != nil {
			t.Fatalf("读取 fd %d 失败: %v", fd, err)
		}
		if n == 0 {
			return string(out)
		}
		out = append(out, buf[:n]...)
	}
}

func (e *testEnv) cached(name string) bool {
	_, err := os.Stat(e.cache.Path(name))
	return err == nil
}
