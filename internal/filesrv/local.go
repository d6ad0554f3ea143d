package filesrv

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/any-hub/any-cache/internal/metrics"
	"github.com/any-hub/any-cache/internal/protocol"
)

const backendLocal = "local"

// LocalBackend 把导出目录映射到本地磁盘。
type LocalBackend struct {
	root string
}

// NewLocalBackend 确保根目录存在并返回后端。
func NewLocalBackend(root string) (*LocalBackend, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create export root: %w", err)
	}
	return &LocalBackend{root: abs}, nil
}

// Name 返回后端类型。
func (b *LocalBackend) Name() string { return backendLocal }

// Root 返回导出目录。
func (b *LocalBackend) Root() string { return b.root }

func (b *LocalBackend) full(name string) string {
	return filepath.Join(b.root, filepath.FromSlash(name))
}

func (b *LocalBackend) Stat(_ context.Context, name string) (Entry, error) {
	start := time.Now()
	info, err := os.Stat(b.full(name))
	metrics.RecordBackendOperation(backendLocal, "stat", time.Since(start), err == nil)
	if err != nil {
		return Entry{}, mapFSError("stat", name, err)
	}
	return Entry{Size: info.Size(), ModTime: info.ModTime().UnixNano(), IsDir: info.IsDir()}, nil
}

func (b *LocalBackend) Create(_ context.Context, name string) error {
	start := time.Now()
	file, err := os.OpenFile(b.full(name), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	metrics.RecordBackendOperation(backendLocal, "create", time.Since(start), err == nil || errors.Is(err, fs.ErrExist))
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return nil
		}
		return mapFSError("create", name, err)
	}
	return file.Close()
}

func (b *LocalBackend) ReadAt(_ context.Context, name string, p []byte, off int64) (int, error) {
	start := time.Now()
	file, err := os.Open(b.full(name))
	if err != nil {
		metrics.RecordBackendOperation(backendLocal, "read", time.Since(start), false)
		return 0, mapFSError("read", name, err)
	}
	defer file.Close()

	n, err := file.ReadAt(p, off)
	if errors.Is(err, io.EOF) && n == len(p) {
		err = nil
	}
	metrics.RecordBackendOperation(backendLocal, "read", time.Since(start), err == nil)
	if err != nil {
		return n, fmt.Errorf("read %s at %d: %w", name, off, protocol.ErrIO)
	}
	return n, nil
}

func (b *LocalBackend) OpenWriter(_ context.Context, name string) (Writer, error) {
	target := b.full(name)
	tmp, err := os.CreateTemp(filepath.Dir(target), ".anycache-*")
	if err != nil {
		return nil, mapFSError("open writer", name, err)
	}
	return &localWriter{file: tmp, target: target, name: name}, nil
}

func (b *LocalBackend) Remove(_ context.Context, name string) error {
	start := time.Now()
	err := os.Remove(b.full(name))
	metrics.RecordBackendOperation(backendLocal, "remove", time.Since(start), err == nil)
	if err != nil {
		return mapFSError("remove", name, err)
	}
	return nil
}

// localWriter 写入同目录下的临时文件，Commit 时设置修改时间并原子替换目标。
type localWriter struct {
	file   *os.File
	target string
	name   string
}

func (w *localWriter) Write(p []byte) (int, error) {
	n, err := w.file.Write(p)
	if err != nil {
		return n, fmt.Errorf("write %s: %w", w.name, protocol.ErrIO)
	}
	return n, nil
}

func (w *localWriter) Commit(_ context.Context, modTime int64) error {
	start := time.Now()
	tmpName := w.file.Name()
	if err := w.file.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close spool for %s: %w", w.name, protocol.ErrIO)
	}
	stamp := time.Unix(0, modTime)
	if err := os.Chtimes(tmpName, stamp, stamp); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("stamp %s: %w", w.name, protocol.ErrIO)
	}
	err := os.Rename(tmpName, w.target)
	metrics.RecordBackendOperation(backendLocal, "commit", time.Since(start), err == nil)
	if err != nil {
		_ = os.Remove(tmpName)
		return mapFSError("commit", w.name, err)
	}
	return nil
}

func (w *localWriter) Abort() error {
	tmpName := w.file.Name()
	_ = w.file.Close()
	if err := os.Remove(tmpName); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

func mapFSError(op, name string, err error) error {
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return fmt.Errorf("%s %s: %w", op, name, protocol.ErrNotFound)
	case errors.Is(err, fs.ErrPermission):
		return fmt.Errorf("%s %s: %w", op, name, protocol.ErrPermissionDenied)
	default:
		return fmt.Errorf("%s %s: %v: %w", op, name, err, protocol.ErrIO)
	}
}
