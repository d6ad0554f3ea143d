package cache

import (
	"fmt"
	"net/url"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/any-hub/any-cache/internal/protocol"
)

const (
	privateMarker  = "_w"
	conflictMarker = "_r"
)

// LocalName 把服务端路径映射为扁平目录中的文件名，路径分隔符被转义。
func LocalName(serverPath string) (string, error) {
	trimmed := strings.TrimPrefix(filepath.ToSlash(serverPath), "/")
	name := url.PathEscape(trimmed)
	if err := validName(name); err != nil {
		return "", err
	}
	return name, nil
}

// PrivateName 为写句柄生成唯一的私有副本名，标记插在扩展名之前。
func PrivateName(localName string) string {
	return withToken(localName, privateMarker)
}

// ConflictName 在目标文件仍被其他句柄使用时，为新版本生成替代名。
func ConflictName(localName string) string {
	return withToken(localName, conflictMarker)
}

func withToken(name, marker string) string {
	token := strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	return stem + "-" + token + marker + ext
}

func validName(name string) error {
	switch {
	case name == "", name == ".", name == "..":
		return fmt.Errorf("local name %q: %w", name, protocol.ErrPermissionDenied)
	case strings.ContainsAny(name, `/\`):
		return fmt.Errorf("local name %q: %w", name, protocol.ErrPermissionDenied)
	}
	return nil
}
