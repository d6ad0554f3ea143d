package proxy

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/any-cache/internal/logging"
	"github.com/any-hub/any-cache/internal/metrics"
	"github.com/any-hub/any-cache/internal/protocol"
)

// Close 关闭句柄。写句柄在未出错时把私有副本分块推送到服务端，随后无论推送结果
// 都删除私有副本；读句柄在没有其他句柄共享同一本地名时刷新 LRU 位置。
func (h *Handler) Close(ctx context.Context, clientID string, fd int) error {
	client, err := h.existingClient(clientID)
	if err != nil {
		return err
	}
	hd, isDir, err := client.detach(fd)
	if err != nil {
		return err
	}
	metrics.AddOpenHandles(-1)
	if isDir {
		return nil
	}

	hd.mu.Lock()
	defer hd.mu.Unlock()
	hd.closed = true

	fields := logging.OpenFields(clientID, hd.path, string(hd.mode))
	fields["action"] = "close"
	fields["fd"] = fd

	if !hd.mode.Writable() {
		closeErr := hd.stream.Close()
		h.cache.Promote(hd.file)
		h.cache.Release(hd.file.LocalName)
		h.logger.WithFields(fields).Debug("proxy_close")
		if closeErr != nil {
			return fmt.Errorf("close fd %d: %v: %w", fd, closeErr, protocol.ErrIO)
		}
		return nil
	}

	var pushErr error
	if hd.file.WriteErr {
		fields["pushed"] = false
		h.logger.WithFields(fields).Warn("proxy_close_skip_push")
	} else {
		pushErr = h.push(ctx, hd, fields)
	}
	closeErr := hd.stream.Close()
	if err := h.cache.Remove(hd.file.LocalName); err != nil {
		h.logger.WithError(err).WithFields(fields).Warn("proxy_private_copy_cleanup_failed")
	}
	h.cache.Release(hd.file.LocalName)

	if pushErr != nil {
		return pushErr
	}
	if closeErr != nil {
		return fmt.Errorf("close fd %d: %v: %w", fd, closeErr, protocol.ErrIO)
	}
	return nil
}

// push 以排他写会话把私有副本按块发送到服务端；中途失败时放弃写会话，服务端内容不变。
func (h *Handler) push(ctx context.Context, hd *handle, fields logrus.Fields) error {
	info, err := hd.stream.Stat()
	if err != nil {
		return fmt.Errorf("stat private copy: %v: %w", err, protocol.ErrIO)
	}
	if err := h.remote.OpenWrite(ctx, hd.path); err != nil {
		h.logger.WithError(err).WithFields(fields).Warn("proxy_push_failed")
		return err
	}

	reader := io.NewSectionReader(hd.stream, 0, info.Size())
	buf := make([]byte, h.chunkSize)
	var pushed int64
	for {
		n, readErr := io.ReadFull(reader, buf)
		if n > 0 {
			if err := h.remote.WriteChunk(ctx, hd.path, buf[:n]); err != nil {
				h.abortPush(ctx, hd.path, err, fields)
				return err
			}
			pushed += int64(n)
		}
		if errors.Is(readErr, io.EOF) || errors.Is(readErr, io.ErrUnexpectedEOF) {
			break
		}
		if readErr != nil {
			h.abortPush(ctx, hd.path, readErr, fields)
			return fmt.Errorf("read private copy: %v: %w", readErr, protocol.ErrIO)
		}
	}

	stamp, err := h.remote.CloseWrite(ctx, hd.path)
	if err != nil {
		h.logger.WithError(err).WithFields(fields).Warn("proxy_push_failed")
		return err
	}
	metrics.RecordPush(pushed)
	fields["pushed"] = pushed
	fields["last_modified"] = stamp
	h.logger.WithFields(fields).Info("proxy_push")
	return nil
}

func (h *Handler) abortPush(ctx context.Context, filePath string, cause error, fields logrus.Fields) {
	h.logger.WithError(cause).WithFields(fields).Warn("proxy_push_failed")
	if err := h.remote.AbortWrite(ctx, filePath); err != nil {
		h.logger.WithError(err).WithFields(fields).Warn("proxy_push_abort_failed")
	}
}

// ClientDone 关闭客户端遗留的全部句柄并移除其句柄表，返回遇到的错误汇总。
func (h *Handler) ClientDone(ctx context.Context, clientID string) error {
	client, err := h.existingClient(clientID)
	if err != nil {
		return nil
	}
	var errs []error
	for _, fd := range client.FDs() {
		if err := h.Close(ctx, clientID, fd); err != nil {
			errs = append(errs, err)
		}
	}
	h.clientsMu.Lock()
	delete(h.clients, clientID)
	h.clientsMu.Unlock()
	h.logger.WithFields(logrus.Fields{"action": "client_done", "client_id": clientID}).Debug("proxy_client_done")
	return errors.Join(errs...)
}
