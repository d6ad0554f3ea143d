package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func testConfigPath(t *testing.T, name string) string {
	t.Helper()
	return filepath.Join("testdata", name)
}

// writeTempConfig 把若干 TOML 片段拼接后写入临时目录，返回文件路径。
func writeTempConfig(t *testing.T, sections ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "any-cache.toml")
	body := strings.Join(sections, "\n")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("写入临时配置失败: %v", err)
	}
	return path
}

// loadTempConfig 写入并加载配置，加载失败直接终止测试。
func loadTempConfig(t *testing.T, sections ...string) *Config {
	t.Helper()
	cfg, err := Load(writeTempConfig(t, sections...))
	if err != nil {
		t.Fatalf("Load 返回错误: %v", err)
	}
	return cfg
}
