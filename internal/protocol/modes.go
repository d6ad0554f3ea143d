package protocol

import (
	"fmt"
	"strings"
)

// OpenMode 描述 open 调用的访问方式。
type OpenMode string

const (
	ModeRead      OpenMode = "READ"
	ModeWrite     OpenMode = "WRITE"
	ModeCreate    OpenMode = "CREATE"
	ModeCreateNew OpenMode = "CREATE_NEW"
)

// ParseOpenMode 标准化模式字符串，非法值返回 ErrInvalidArgument。
func ParseOpenMode(raw string) (OpenMode, error) {
	mode := OpenMode(strings.ToUpper(strings.TrimSpace(raw)))
	switch mode {
	case ModeRead, ModeWrite, ModeCreate, ModeCreateNew:
		return mode, nil
	default:
		return "", fmt.Errorf("open mode %q: %w", raw, ErrInvalidArgument)
	}
}

// Writable 表示该模式需要私有副本。
func (m OpenMode) Writable() bool {
	return m == ModeWrite || m == ModeCreate || m == ModeCreateNew
}

// MayCreate 表示服务端在文件缺失时可以创建它。
func (m OpenMode) MayCreate() bool {
	return m == ModeCreate || m == ModeCreateNew
}

// Whence 是 lseek 的起点。
type Whence string

const (
	FromStart   Whence = "FROM_START"
	FromCurrent Whence = "FROM_CURRENT"
	FromEnd     Whence = "FROM_END"
)

// ParseWhence 标准化 whence，非法值返回 ErrInvalidArgument。
func ParseWhence(raw string) (Whence, error) {
	w := Whence(strings.ToUpper(strings.TrimSpace(raw)))
	switch w {
	case FromStart, FromCurrent, FromEnd:
		return w, nil
	default:
		return "", fmt.Errorf("whence %q: %w", raw, ErrInvalidArgument)
	}
}
