package proxy

import (
	"context"

	"github.com/any-hub/any-cache/internal/protocol"
)

// Remote 是代理访问文件服务端的契约；传输失败应包装为 protocol.ErrServerUnavailable。
type Remote interface {
	OpenSession(ctx context.Context, path string, mode protocol.OpenMode) (protocol.Descriptor, error)
	CloseSession(ctx context.Context, path string) error
	GetBlock(ctx context.Context, block int, desc protocol.Descriptor) ([]byte, error)
	OpenWrite(ctx context.Context, path string) error
	WriteChunk(ctx context.Context, path string, data []byte) error
	CloseWrite(ctx context.Context, path string) (int64, error)
	AbortWrite(ctx context.Context, path string) error
	Unlink(ctx context.Context, path string) error
	LastModified(ctx context.Context, path string) (int64, error)
}
