package filesrv

import (
	"context"
	"io"
)

// Entry 是后端对单个路径的描述，ModTime 为 UnixNano。
type Entry struct {
	Size    int64
	ModTime int64
	IsDir   bool
}

// Backend 抽象导出文件的存放位置。路径均为已经过约束校验的相对路径（"/" 分隔）。
// 缺失返回 protocol.ErrNotFound，权限问题返回 protocol.ErrPermissionDenied。
type Backend interface {
	Name() string
	Stat(ctx context.Context, name string) (Entry, error)
	// Create 在文件不存在时创建空文件，已存在时不做修改。
	Create(ctx context.Context, name string) error
	ReadAt(ctx context.Context, name string, p []byte, off int64) (int, error)
	// OpenWriter 开始一次整体替换写入，Commit 之前原文件保持不变。
	OpenWriter(ctx context.Context, name string) (Writer, error)
	Remove(ctx context.Context, name string) error
}

// Writer 接收一次写会话的全部字节。
type Writer interface {
	io.Writer
	// Commit 以 modTime（UnixNano）作为修改时间发布新内容。
	Commit(ctx context.Context, modTime int64) error
	Abort() error
}
