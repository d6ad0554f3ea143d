package proxy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"time"

	"github.com/any-hub/any-cache/internal/cache"
	"github.com/any-hub/any-cache/internal/logging"
	"github.com/any-hub/any-cache/internal/metrics"
	"github.com/any-hub/any-cache/internal/protocol"
)

// Open 执行一次 open：向服务端取元数据，在本地槽位锁下做一致性检查与拉取，
// 释放锁与读会话后按模式直接打开或生成私有副本，最后登记句柄。
func (h *Handler) Open(ctx context.Context, clientID, filePath string, mode protocol.OpenMode) (fd int, err error) {
	started := time.Now()
	hit := false
	defer func() { h.logOpen(clientID, filePath, mode, fd, hit, started, err) }()

	if _, err := protocol.ParseOpenMode(string(mode)); err != nil {
		return 0, err
	}

	desc, err := h.remote.OpenSession(ctx, filePath, mode)
	if err != nil {
		return 0, err
	}
	if desc.IsDir {
		if mode != protocol.ModeRead {
			return 0, fmt.Errorf("open %s as %s: %w", desc.Path, mode, protocol.ErrIsADirectory)
		}
		return h.registerDir(clientID, desc.Path), nil
	}

	master, hit, err := h.syncMaster(ctx, desc)
	if err != nil {
		return 0, err
	}
	if mode.Writable() {
		return h.openPrivate(clientID, desc, master, mode)
	}
	return h.openDirect(clientID, desc, master)
}

// syncMaster 在槽位锁下比较修改时间，必要时拉取新版本，然后释放槽位锁与读会话。
// 查找与占用在缓存锁内一步完成，返回的主副本已持有一次占用计数，调用方负责转交或释放。
func (h *Handler) syncMaster(ctx context.Context, desc protocol.Descriptor) (*cache.File, bool, error) {
	name, err := cache.LocalName(desc.Path)
	if err != nil {
		h.closeSession(ctx, desc.Path)
		return nil, false, err
	}
	unlock, err := h.cache.LockSlot(name)
	if err != nil {
		h.closeSession(ctx, desc.Path)
		if errors.Is(err, protocol.ErrPermissionDenied) {
			return nil, false, err
		}
		return nil, false, fmt.Errorf("lock slot %s: %v: %w", name, err, protocol.ErrIO)
	}

	master := h.cache.LatestMasterAcquire(desc.Path)
	hit := master != nil && master.LastModified == desc.LastModified
	metrics.RecordCacheLookup(hit)
	if !hit {
		if master != nil {
			h.cache.Release(master.LocalName)
		}
		master, err = h.fetch(ctx, desc, name, master)
		if err != nil {
			h.cache.DropPlaceholder(name)
			unlock()
			h.closeSession(ctx, desc.Path)
			return nil, false, err
		}
	}
	if master.LocalName != name {
		h.cache.DropPlaceholder(name)
	}
	unlock()

	if err := h.remote.CloseSession(ctx, desc.Path); err != nil {
		h.cache.Release(master.LocalName)
		return nil, false, err
	}
	return master, hit, nil
}

// fetch 预留空间后把服务端分块依次追加到本地文件并登记为最新版本。
// 目标名仍被其他句柄使用时写入冲突副本，否则先删除旧副本。
// 返回的条目已持有一次占用计数。
func (h *Handler) fetch(ctx context.Context, desc protocol.Descriptor, name string, stale *cache.File) (*cache.File, error) {
	target := name
	if h.cache.InUse(name) > 0 {
		target = cache.ConflictName(name)
	}
	if desc.Size > 0 {
		if err := h.cache.Reserve(desc.Size, desc.Path, target, false); err != nil {
			return nil, err
		}
	}
	if target == name && stale != nil && stale.LocalName == name {
		h.cache.Discard(stale)
	}

	out, err := os.OpenFile(h.cache.Path(target), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		h.cache.Settle(target)
		return nil, fmt.Errorf("create %s: %v: %w", target, err, protocol.ErrIO)
	}
	var written int64
	for n := 1; n <= desc.BlockCount(); n++ {
		block, err := h.remote.GetBlock(ctx, n, desc)
		if err != nil {
			_ = out.Close()
			h.abandon(target)
			return nil, err
		}
		if _, err := out.Write(block); err != nil {
			_ = out.Close()
			h.abandon(target)
			return nil, fmt.Errorf("write %s: %v: %w", target, err, protocol.ErrIO)
		}
		written += int64(len(block))
	}
	if err := out.Close(); err != nil {
		h.abandon(target)
		return nil, fmt.Errorf("close %s: %v: %w", target, err, protocol.ErrIO)
	}

	file := cache.NewFile(desc, target)
	h.cache.RegisterAcquired(desc.Path, file)
	metrics.RecordFetch(written)
	h.logger.WithFields(logging.CacheFields("fetch", desc.Path, target, written)).
		WithField("blocks", desc.BlockCount()).Info("proxy_fetch")
	return file, nil
}

func (h *Handler) abandon(name string) {
	if err := h.cache.Remove(name); err != nil {
		h.logger.WithError(err).WithField("local_name", name).Warn("proxy_fetch_cleanup_failed")
	}
}

func (h *Handler) closeSession(ctx context.Context, filePath string) {
	if err := h.remote.CloseSession(ctx, filePath); err != nil {
		h.logger.WithError(err).WithField("path", filePath).Warn("proxy_close_session_failed")
	}
}

// openDirect 以只读方式打开主副本，主副本上的占用计数直接转交给句柄。
func (h *Handler) openDirect(clientID string, desc protocol.Descriptor, master *cache.File) (int, error) {
	stream, err := os.Open(h.cache.Path(master.LocalName))
	if err != nil {
		h.cache.Release(master.LocalName)
		if errors.Is(err, fs.ErrNotExist) {
			return 0, fmt.Errorf("open %s: %w", master.LocalName, protocol.ErrNotFound)
		}
		return 0, fmt.Errorf("open %s: %v: %w", master.LocalName, err, protocol.ErrIO)
	}
	hd := &handle{file: master, stream: stream, mode: protocol.ModeRead, path: desc.Path}
	return h.register(clientID, hd, ""), nil
}

// openPrivate 复制主副本生成私有副本并绑定到写句柄。预留空间时保护同一路径的主副本。
func (h *Handler) openPrivate(clientID string, desc protocol.Descriptor, master *cache.File, mode protocol.OpenMode) (int, error) {
	defer h.cache.Release(master.LocalName)

	privateName := cache.PrivateName(master.LocalName)
	if err := h.cache.Reserve(master.Size, desc.Path, privateName, true); err != nil {
		return 0, err
	}
	stream, err := h.copyMaster(master.LocalName, privateName)
	if err != nil {
		h.abandon(privateName)
		return 0, err
	}
	h.cache.Touch(master)

	hd := &handle{
		file:   master.PrivateCopy(privateName, mode),
		stream: stream,
		mode:   mode,
		path:   desc.Path,
	}
	return h.register(clientID, hd, privateName), nil
}

func (h *Handler) copyMaster(src, dst string) (*os.File, error) {
	in, err := os.Open(h.cache.Path(src))
	if err != nil {
		return nil, fmt.Errorf("open master %s: %v: %w", src, err, protocol.ErrIO)
	}
	defer in.Close()

	out, err := os.OpenFile(h.cache.Path(dst), os.O_CREATE|os.O_EXCL|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("create private copy %s: %v: %w", dst, err, protocol.ErrIO)
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return nil, fmt.Errorf("copy %s: %v: %w", src, err, protocol.ErrIO)
	}
	if _, err := out.Seek(0, io.SeekStart); err != nil {
		_ = out.Close()
		return nil, fmt.Errorf("rewind %s: %v: %w", dst, err, protocol.ErrIO)
	}
	return out, nil
}
