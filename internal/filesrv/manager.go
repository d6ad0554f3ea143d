package filesrv

import (
	"context"
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/any-cache/internal/logging"
	"github.com/any-hub/any-cache/internal/metrics"
	"github.com/any-hub/any-cache/internal/protocol"
)

// sandbox 是路径约束校验使用的虚拟根，与真实导出目录无关。
const sandbox = "/export"

// Options 配置服务端会话管理器。
type Options struct {
	Backend      Backend
	MaxBlockSize int64
	Logger       *logrus.Logger
}

// Manager 维护每个路径的读写会话锁，并在 Backend 上执行分块读写。
type Manager struct {
	backend  Backend
	maxBlock int64
	logger   *logrus.Logger
	locks    *lockTable

	writeMu sync.Mutex
	writers map[string]Writer
}

// NewManager 创建会话管理器。
func NewManager(opts Options) (*Manager, error) {
	if opts.Backend == nil {
		return nil, errors.New("backend is required")
	}
	maxBlock := opts.MaxBlockSize
	if maxBlock <= 0 {
		maxBlock = protocol.DefaultMaxBlockSize
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	return &Manager{
		backend:  opts.Backend,
		maxBlock: maxBlock,
		logger:   logger,
		locks:    newLockTable(),
		writers:  make(map[string]Writer),
	}, nil
}

// Backend 返回底层存储。
func (m *Manager) Backend() Backend {
	return m.backend
}

// MaxBlockSize 返回分块上限。
func (m *Manager) MaxBlockSize() int64 {
	return m.maxBlock
}

// Resolve 把客户端路径规范化为导出目录内的相对路径，越界返回 PERMISSION_DENIED。
// 导出根目录本身规范化为 "."。
func Resolve(name string) (string, error) {
	joined := path.Join(sandbox, filepath.ToSlash(name))
	if joined == sandbox {
		return ".", nil
	}
	if !strings.HasPrefix(joined, sandbox+"/") {
		return "", fmt.Errorf("path %q escapes export root: %w", name, protocol.ErrPermissionDenied)
	}
	return strings.TrimPrefix(joined, sandbox+"/"), nil
}

// OpenSession 校验路径与模式，必要时创建文件，然后以共享方式打开读会话并返回描述。
// 目录直接返回 IsDir 描述，不持有锁。
func (m *Manager) OpenSession(ctx context.Context, req protocol.Descriptor) (protocol.Descriptor, error) {
	name, err := Resolve(req.Path)
	if err != nil {
		return protocol.Descriptor{}, err
	}
	mode, err := protocol.ParseOpenMode(string(req.Mode))
	if err != nil {
		return protocol.Descriptor{}, err
	}

	entry, err := m.backend.Stat(ctx, name)
	exists := err == nil
	if err != nil && !errors.Is(err, protocol.ErrNotFound) {
		return protocol.Descriptor{}, err
	}
	if exists && entry.IsDir {
		return protocol.Descriptor{Path: name, Mode: mode, IsDir: true, LastModified: entry.ModTime}, nil
	}

	switch {
	case !exists && !mode.MayCreate():
		return protocol.Descriptor{}, fmt.Errorf("open %s: %w", name, protocol.ErrNotFound)
	case exists && mode == protocol.ModeCreateNew:
		return protocol.Descriptor{}, fmt.Errorf("open %s: %w", name, protocol.ErrAlreadyExists)
	case !exists:
		if err := m.create(ctx, name, mode); err != nil {
			return protocol.Descriptor{}, err
		}
	}

	return m.OpenRead(ctx, name, mode)
}

// create 在排他锁下创建空文件，CREATE_NEW 在持锁后再次确认不存在。
func (m *Manager) create(ctx context.Context, name string, mode protocol.OpenMode) error {
	m.locks.acquireExclusive(name)
	defer func() { _ = m.locks.releaseExclusive(name) }()

	if _, err := m.backend.Stat(ctx, name); err == nil {
		if mode == protocol.ModeCreateNew {
			return fmt.Errorf("open %s: %w", name, protocol.ErrAlreadyExists)
		}
		return nil
	}
	if err := m.backend.Create(ctx, name); err != nil {
		return err
	}
	m.logger.WithFields(logging.SessionFields("create", name, "")).Info("server_file_created")
	return nil
}

// OpenRead 获取共享锁后重新读取元数据，保证返回的描述与会话期间的内容一致。
func (m *Manager) OpenRead(ctx context.Context, name string, mode protocol.OpenMode) (protocol.Descriptor, error) {
	m.locks.acquireShared(name)
	entry, err := m.backend.Stat(ctx, name)
	if err != nil {
		_ = m.locks.releaseShared(name)
		return protocol.Descriptor{}, err
	}
	if entry.IsDir {
		_ = m.locks.releaseShared(name)
		return protocol.Descriptor{Path: name, Mode: mode, IsDir: true, LastModified: entry.ModTime}, nil
	}
	m.logger.WithFields(logging.SessionFields("open_read", name, stateShared)).Debug("server_session_open")
	return protocol.Descriptor{
		Path:         name,
		Mode:         mode,
		Size:         entry.Size,
		BlockSizes:   protocol.SplitBlocks(entry.Size, m.maxBlock),
		LastModified: entry.ModTime,
	}, nil
}

// CloseSession 释放一个共享读会话。
func (m *Manager) CloseSession(_ context.Context, name string) error {
	resolved, err := Resolve(name)
	if err != nil {
		return err
	}
	if err := m.locks.releaseShared(resolved); err != nil {
		return err
	}
	m.logger.WithFields(logging.SessionFields("close_read", resolved, "released")).Debug("server_session_close")
	return nil
}

// OpenWrite 阻塞获取排他锁并开始一次整体替换写入。
func (m *Manager) OpenWrite(ctx context.Context, name string) error {
	resolved, err := Resolve(name)
	if err != nil {
		return err
	}
	if resolved == "." {
		return fmt.Errorf("open write %s: %w", name, protocol.ErrIsADirectory)
	}
	m.locks.acquireExclusive(resolved)
	writer, err := m.backend.OpenWriter(ctx, resolved)
	if err != nil {
		_ = m.locks.releaseExclusive(resolved)
		return err
	}
	m.writeMu.Lock()
	m.writers[resolved] = writer
	m.writeMu.Unlock()
	m.logger.WithFields(logging.SessionFields("open_write", resolved, stateExclusive)).Debug("server_session_open")
	return nil
}

// WriteChunk 追加一块数据到当前写会话。
func (m *Manager) WriteChunk(_ context.Context, name string, data []byte) error {
	resolved, err := Resolve(name)
	if err != nil {
		return err
	}
	writer := m.writer(resolved)
	if writer == nil {
		return fmt.Errorf("no write session on %s: %w", resolved, protocol.ErrBadHandle)
	}
	if _, err := writer.Write(data); err != nil {
		return err
	}
	metrics.RecordServerBlock("write", len(data))
	return nil
}

// CloseWrite 发布写入内容并释放排他锁。新的修改时间严格大于旧值，
// 保证连续两次写入一定能被一致性检查观察到。
func (m *Manager) CloseWrite(ctx context.Context, name string) (int64, error) {
	resolved, err := Resolve(name)
	if err != nil {
		return 0, err
	}
	m.writeMu.Lock()
	writer := m.writers[resolved]
	delete(m.writers, resolved)
	m.writeMu.Unlock()
	if writer == nil {
		return 0, fmt.Errorf("no write session on %s: %w", resolved, protocol.ErrBadHandle)
	}
	defer func() { _ = m.locks.releaseExclusive(resolved) }()

	stamp := time.Now().UnixNano()
	if prev, err := m.backend.Stat(ctx, resolved); err == nil && stamp <= prev.ModTime {
		stamp = prev.ModTime + 1
	}
	if err := writer.Commit(ctx, stamp); err != nil {
		m.logger.WithFields(logging.SessionFields("close_write", resolved, "failed")).WithError(err).Warn("server_commit_failed")
		return 0, err
	}
	m.logger.WithFields(logging.SessionFields("close_write", resolved, "released")).
		WithField("last_modified", stamp).Info("server_file_written")
	return stamp, nil
}

// AbortWrite 丢弃未提交的写会话并释放排他锁。
func (m *Manager) AbortWrite(_ context.Context, name string) error {
	resolved, err := Resolve(name)
	if err != nil {
		return err
	}
	m.writeMu.Lock()
	writer := m.writers[resolved]
	delete(m.writers, resolved)
	m.writeMu.Unlock()
	if writer == nil {
		return fmt.Errorf("no write session on %s: %w", resolved, protocol.ErrBadHandle)
	}
	_ = writer.Abort()
	return m.locks.releaseExclusive(resolved)
}

// ReadBlock 返回描述中第 n 块（从 1 开始）的内容。
func (m *Manager) ReadBlock(ctx context.Context, n int, desc protocol.Descriptor) ([]byte, error) {
	resolved, err := Resolve(desc.Path)
	if err != nil {
		return nil, err
	}
	offset, length, ok := desc.BlockRange(n)
	if !ok {
		return nil, fmt.Errorf("block %d of %s: %w", n, resolved, protocol.ErrInvalidArgument)
	}
	if length > m.maxBlock {
		return nil, fmt.Errorf("block %d of %s is %d bytes: %w", n, resolved, length, protocol.ErrInvalidArgument)
	}
	buf := make([]byte, length)
	read, err := m.backend.ReadAt(ctx, resolved, buf, offset)
	if err != nil {
		return nil, err
	}
	metrics.RecordServerBlock("read", read)
	return buf[:read], nil
}

// Unlink 在排他锁下删除文件。文件缺失返回 NOT_FOUND，其余失败统一为 PERMISSION_DENIED。
func (m *Manager) Unlink(ctx context.Context, name string) error {
	resolved, err := Resolve(name)
	if err != nil {
		return err
	}
	if resolved == "." {
		return fmt.Errorf("unlink export root: %w", protocol.ErrPermissionDenied)
	}
	m.locks.acquireExclusive(resolved)
	defer func() { _ = m.locks.releaseExclusive(resolved) }()

	if err := m.backend.Remove(ctx, resolved); err != nil {
		if errors.Is(err, protocol.ErrNotFound) {
			return err
		}
		m.logger.WithFields(logging.SessionFields("unlink", resolved, "failed")).WithError(err).Warn("server_unlink_failed")
		return fmt.Errorf("unlink %s: %v: %w", resolved, err, protocol.ErrPermissionDenied)
	}
	m.logger.WithFields(logging.SessionFields("unlink", resolved, "removed")).Info("server_file_removed")
	return nil
}

// LastModified 返回文件当前的修改时间（UnixNano）。
func (m *Manager) LastModified(ctx context.Context, name string) (int64, error) {
	resolved, err := Resolve(name)
	if err != nil {
		return 0, err
	}
	entry, err := m.backend.Stat(ctx, resolved)
	if err != nil {
		return 0, err
	}
	return entry.ModTime, nil
}

// Sessions 返回当前持锁路径的快照。
func (m *Manager) Sessions() []SessionState {
	return m.locks.snapshot()
}

func (m *Manager) writer(name string) Writer {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	return m.writers[name]
}
