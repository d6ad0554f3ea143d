package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

// fixtureDir 指向 internal/config/testdata，测试从仓库根目录运行。
func fixtureDir(t *testing.T) string {
	t.Helper()
	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("获取工作目录失败: %v", err)
	}
	dir := filepath.Join(wd, "internal", "config", "testdata")
	if _, err := os.Stat(dir); err != nil {
		t.Fatalf("找不到配置样例目录 %s: %v", dir, err)
	}
	return dir
}

func configFixture(t *testing.T, name string) string {
	t.Helper()
	return filepath.Join(fixtureDir(t), name)
}

// useBufferWriters 在测试期间把 CLI 输出重定向到内存缓冲区。
func useBufferWriters(t *testing.T) {
	t.Helper()
	prevOut, prevErr := stdOut, stdErr
	stdOut, stdErr = &bytes.Buffer{}, &bytes.Buffer{}
	t.Cleanup(func() {
		stdOut, stdErr = prevOut, prevErr
	})
}

func stdOutBuffer() *bytes.Buffer {
	buf, _ := stdOut.(*bytes.Buffer)
	return buf
}

func stdErrBuffer() *bytes.Buffer {
	buf, _ := stdErr.(*bytes.Buffer)
	return buf
}
