package protocol

import (
	"errors"
	"fmt"
	"testing"
)

func TestSplitBlocks(t *testing.T) {
	testCases := []struct {
		name string
		size int64
		max  int64
		want []int64
	}{
		{"empty", 0, 4, nil},
		{"single partial", 3, 4, []int64{3}},
		{"exact", 8, 4, []int64{4, 4}},
		{"remainder", 9, 4, []int64{4, 4, 1}},
		{"default max", DefaultMaxBlockSize + 1, 0, []int64{DefaultMaxBlockSize, 1}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got := SplitBlocks(tc.size, tc.max)
			if len(got) != len(tc.want) {
				t.Fatalf("块数不符: got %v want %v", got, tc.want)
			}
			for i := range got {
				if got[i] != tc.want[i] {
					t.Fatalf("第 %d 块大小不符: got %v want %v", i+1, got, tc.want)
				}
			}
		})
	}
}

func TestDescriptorBlockRange(t *testing.T) {
	desc := Descriptor{BlockSizes: SplitBlocks(10, 4)}
	offset, length, ok := desc.BlockRange(3)
	if !ok || offset != 8 || length != 2 {
		t.Fatalf("第 3 块范围错误: offset=%d length=%d ok=%v", offset, length, ok)
	}
	if _, _, ok := desc.BlockRange(0); ok {
		t.Fatalf("块号从 1 开始，0 应该非法")
	}
	if _, _, ok := desc.BlockRange(4); ok {
		t.Fatalf("超出块数应该非法")
	}
}

func TestCodeOfWrappedErrors(t *testing.T) {
	wrapped := fmt.Errorf("open a.txt: %w", ErrAlreadyExists)
	if CodeOf(wrapped) != CodeAlreadyExists {
		t.Fatalf("包装后的错误应映射为 ALREADY_EXISTS，得到 %s", CodeOf(wrapped))
	}
	if CodeOf(errors.New("boom")) != CodeIOError {
		t.Fatalf("未知错误应映射为 IO_ERROR")
	}
	if CodeOf(nil) != CodeOK {
		t.Fatalf("nil 应映射为 OK")
	}
	if !errors.Is(CodeNoSpace.Err(), ErrNoSpace) {
		t.Fatalf("错误码应还原为对应哨兵错误")
	}
	if code, ok := ParseCode("permission_denied"); !ok || code != CodePermissionDenied {
		t.Fatalf("名称解析失败: %v %v", code, ok)
	}
}

func TestParseOpenMode(t *testing.T) {
	if mode, err := ParseOpenMode("create_new"); err != nil || mode != ModeCreateNew {
		t.Fatalf("应解析为 CREATE_NEW: %v %v", mode, err)
	}
	if _, err := ParseOpenMode("APPEND"); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("非法模式应返回 INVALID_ARGUMENT，得到 %v", err)
	}
	if ModeRead.Writable() || !ModeCreate.Writable() {
		t.Fatalf("Writable 判定错误")
	}
}
