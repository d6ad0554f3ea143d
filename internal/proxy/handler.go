package proxy

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/any-cache/internal/cache"
	"github.com/any-hub/any-cache/internal/logging"
	"github.com/any-hub/any-cache/internal/metrics"
	"github.com/any-hub/any-cache/internal/protocol"
)

// Options 注入缓存管理器、服务端契约与日志。
type Options struct {
	Cache     *cache.Manager
	Remote    Remote
	Logger    *logrus.Logger
	ChunkSize int64
}

// Handler 串联一次 open 的全部阶段，并维护所有客户端的句柄表。
// 句柄编号在进程内唯一，发放与登记在同一临界区完成。
type Handler struct {
	cache     *cache.Manager
	remote    Remote
	logger    *logrus.Logger
	chunkSize int64

	mu     sync.Mutex
	nextFD int

	clientsMu sync.Mutex
	clients   map[string]*Client
}

// NewHandler 校验依赖并创建 Handler。
func NewHandler(opts Options) (*Handler, error) {
	if opts.Cache == nil {
		return nil, errors.New("cache manager is required")
	}
	if opts.Remote == nil {
		return nil, errors.New("remote is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	chunk := opts.ChunkSize
	if chunk <= 0 {
		chunk = protocol.DefaultMaxBlockSize
	}
	return &Handler{
		cache:     opts.Cache,
		remote:    opts.Remote,
		logger:    logger,
		chunkSize: chunk,
		clients:   make(map[string]*Client),
	}, nil
}

// Cache 返回底层缓存管理器。
func (h *Handler) Cache() *cache.Manager {
	return h.cache
}

// Client 返回 id 对应的句柄表，不存在时创建。
func (h *Handler) Client(id string) *Client {
	h.clientsMu.Lock()
	defer h.clientsMu.Unlock()
	client, ok := h.clients[id]
	if !ok {
		client = newClient(id)
		h.clients[id] = client
	}
	return client
}

func (h *Handler) existingClient(id string) (*Client, error) {
	h.clientsMu.Lock()
	defer h.clientsMu.Unlock()
	client, ok := h.clients[id]
	if !ok {
		return nil, fmt.Errorf("unknown client %q: %w", id, protocol.ErrBadHandle)
	}
	return client, nil
}

func (h *Handler) lookup(clientID string, fd int) (*handle, bool, error) {
	client, err := h.existingClient(clientID)
	if err != nil {
		return nil, false, err
	}
	return client.lookup(fd)
}

// register 发放句柄编号、写入句柄表并增加本地名占用计数，三者处于同一临界区。
// acquire 为空表示占用计数已由调用方持有。
func (h *Handler) register(clientID string, hd *handle, acquire string) int {
	client := h.Client(clientID)

	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextFD++
	hd.fd = h.nextFD
	client.mu.Lock()
	client.handles[hd.fd] = hd
	client.mu.Unlock()
	if acquire != "" {
		h.cache.Acquire(acquire)
	}
	metrics.AddOpenHandles(1)
	return hd.fd
}

func (h *Handler) registerDir(clientID, dirPath string) int {
	client := h.Client(clientID)

	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextFD++
	fd := h.nextFD
	client.mu.Lock()
	client.dirs[fd] = dirPath
	client.mu.Unlock()
	metrics.AddOpenHandles(1)
	return fd
}

// Unlink 完全交给服务端处理，本地缓存不做清理，下一次 open 的一致性检查会发现变化。
func (h *Handler) Unlink(ctx context.Context, filePath string) error {
	err := h.remote.Unlink(ctx, filePath)
	fields := logrus.Fields{"action": "unlink", "path": filePath}
	if err != nil {
		fields["result"] = protocol.CodeOf(err).String()
		h.logger.WithFields(fields).Warn("proxy_unlink_failed")
		return err
	}
	h.logger.WithFields(fields).Info("proxy_unlink")
	return nil
}

func (h *Handler) logOpen(clientID, filePath string, mode protocol.OpenMode, fd int, hit bool, started time.Time, err error) {
	fields := logging.OpenFields(clientID, filePath, string(mode))
	fields["action"] = "open"
	fields["cache_hit"] = hit
	fields["elapsed_ms"] = time.Since(started).Milliseconds()
	if err != nil {
		code := protocol.CodeOf(err)
		fields["result"] = code.String()
		fields["error"] = err.Error()
		metrics.RecordOpen(string(mode), code.String())
		h.logger.WithFields(fields).Warn("proxy_open_failed")
		return
	}
	fields["fd"] = fd
	metrics.RecordOpen(string(mode), "OK")
	h.logger.WithFields(fields).Info("proxy_open")
}

// cleanPath 与服务端的路径规范化保持一致，用于按服务端路径查询缓存。
func cleanPath(raw string) string {
	cleaned := strings.TrimPrefix(path.Clean("/"+raw), "/")
	if cleaned == "" {
		return "."
	}
	return cleaned
}
