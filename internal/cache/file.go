package cache

import (
	"slices"

	"github.com/any-hub/any-cache/internal/protocol"
)

// File 描述缓存目录中的一个本地文件及其对应的服务端版本。
type File struct {
	ServerPath   string
	LocalName    string
	Size         int64
	BlockSizes   []int64
	LastModified int64
	IsDir        bool
	WriteErr     bool
	Mode         protocol.OpenMode
	Private      bool
}

// NewFile 根据服务端会话描述构建缓存条目。
func NewFile(desc protocol.Descriptor, localName string) *File {
	return &File{
		ServerPath:   desc.Path,
		LocalName:    localName,
		Size:         desc.Size,
		BlockSizes:   slices.Clone(desc.BlockSizes),
		LastModified: desc.LastModified,
		IsDir:        desc.IsDir,
		Mode:         desc.Mode,
	}
}

// PrivateCopy 派生写句柄专用的私有副本条目，仅本地名与模式不同，可变字段不共享。
func (f *File) PrivateCopy(localName string, mode protocol.OpenMode) *File {
	return &File{
		ServerPath:   f.ServerPath,
		LocalName:    localName,
		Size:         f.Size,
		BlockSizes:   slices.Clone(f.BlockSizes),
		LastModified: f.LastModified,
		IsDir:        f.IsDir,
		Mode:         mode,
		Private:      true,
	}
}

// BlockCount 返回服务端分块数量。
func (f *File) BlockCount() int {
	return len(f.BlockSizes)
}
