package proxy

import (
	"errors"
	"fmt"
	"io"

	"github.com/any-hub/any-cache/internal/logging"
	"github.com/any-hub/any-cache/internal/protocol"
)

// Read 从当前位置读取最多 len(buf) 字节，到达末尾返回 0。
func (h *Handler) Read(clientID string, fd int, buf []byte) (int, error) {
	hd, isDir, err := h.lookup(clientID, fd)
	if err != nil {
		return 0, err
	}
	if isDir {
		return 0, fmt.Errorf("read directory fd %d: %w", fd, protocol.ErrBadHandle)
	}

	hd.mu.Lock()
	defer hd.mu.Unlock()
	if err := hd.checkOpen(); err != nil {
		return 0, err
	}
	if len(buf) == 0 {
		return 0, nil
	}
	n, err := hd.stream.Read(buf)
	if errors.Is(err, io.EOF) {
		return n, nil
	}
	if err != nil {
		return n, fmt.Errorf("read fd %d: %v: %w", fd, err, protocol.ErrIO)
	}
	return n, nil
}

// Write 在当前位置写入。超出当前文件大小的部分先向缓存预留空间；预留失败时
// 标记句柄出错并返回 0，关闭时不会把该副本推送到服务端。
func (h *Handler) Write(clientID string, fd int, buf []byte) (int, error) {
	hd, isDir, err := h.lookup(clientID, fd)
	if err != nil {
		return 0, err
	}
	if isDir {
		return 0, fmt.Errorf("write directory fd %d: %w", fd, protocol.ErrIsADirectory)
	}
	if !hd.mode.Writable() {
		return 0, fmt.Errorf("fd %d opened read-only: %w", fd, protocol.ErrBadHandle)
	}

	hd.mu.Lock()
	defer hd.mu.Unlock()
	if err := hd.checkOpen(); err != nil {
		return 0, err
	}
	if len(buf) == 0 {
		return 0, nil
	}

	pos, err := hd.stream.Seek(0, io.SeekCurrent)
	if err != nil {
		hd.file.WriteErr = true
		return 0, fmt.Errorf("locate fd %d: %v: %w", fd, err, protocol.ErrIO)
	}
	info, err := hd.stream.Stat()
	if err != nil {
		hd.file.WriteErr = true
		return 0, fmt.Errorf("stat fd %d: %v: %w", fd, err, protocol.ErrIO)
	}
	if grow := pos + int64(len(buf)) - info.Size(); grow > 0 {
		if err := h.cache.Reserve(grow, hd.path, hd.file.LocalName, true); err != nil {
			hd.file.WriteErr = true
			h.logger.WithError(err).
				WithFields(logging.CacheFields("write", hd.path, hd.file.LocalName, grow)).
				Warn("proxy_write_no_space")
			return 0, nil
		}
	}

	n, err := hd.stream.Write(buf)
	if err != nil {
		hd.file.WriteErr = true
		return n, fmt.Errorf("write fd %d: %v: %w", fd, err, protocol.ErrIO)
	}
	return n, nil
}

// Lseek 移动读写位置并返回新的绝对位置，目标为负时返回 INVALID_ARGUMENT。
func (h *Handler) Lseek(clientID string, fd int, offset int64, whence protocol.Whence) (int64, error) {
	hd, isDir, err := h.lookup(clientID, fd)
	if err != nil {
		return 0, err
	}
	if isDir {
		return 0, fmt.Errorf("seek directory fd %d: %w", fd, protocol.ErrIsADirectory)
	}

	hd.mu.Lock()
	defer hd.mu.Unlock()
	if err := hd.checkOpen(); err != nil {
		return 0, err
	}

	var base int64
	switch whence {
	case protocol.FromStart:
	case protocol.FromCurrent:
		base, err = hd.stream.Seek(0, io.SeekCurrent)
		if err != nil {
			return 0, fmt.Errorf("locate fd %d: %v: %w", fd, err, protocol.ErrIO)
		}
	case protocol.FromEnd:
		info, err := hd.stream.Stat()
		if err != nil {
			return 0, fmt.Errorf("stat fd %d: %v: %w", fd, err, protocol.ErrIO)
		}
		base = info.Size()
	default:
		return 0, fmt.Errorf("whence %q: %w", whence, protocol.ErrInvalidArgument)
	}

	target := base + offset
	if target < 0 {
		return 0, fmt.Errorf("seek to %d: %w", target, protocol.ErrInvalidArgument)
	}
	pos, err := hd.stream.Seek(target, io.SeekStart)
	if err != nil {
		return 0, fmt.Errorf("seek fd %d: %v: %w", fd, err, protocol.ErrIO)
	}
	return pos, nil
}
