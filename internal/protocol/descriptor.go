package protocol

// DefaultMaxBlockSize 是两个方向上分块传输的默认上限（1 MiB）。
const DefaultMaxBlockSize int64 = 1024 * 1024

// Descriptor 是 openSession 的请求与应答：请求只携带 Path/Mode，
// 应答补齐大小、分块表、服务端修改时间与目录标记。
type Descriptor struct {
	Path         string   `json:"path"`
	Mode         OpenMode `json:"mode"`
	Size         int64    `json:"size"`
	BlockSizes   []int64  `json:"block_sizes,omitempty"`
	LastModified int64    `json:"last_modified"`
	IsDir        bool     `json:"is_dir"`
	Error        Code     `json:"error"`
}

// BlockCount 返回分块数量。
func (d Descriptor) BlockCount() int {
	return len(d.BlockSizes)
}

// BlockRange 返回第 n 块（从 1 开始）的偏移与长度。
func (d Descriptor) BlockRange(n int) (offset, length int64, ok bool) {
	if n < 1 || n > len(d.BlockSizes) {
		return 0, 0, false
	}
	for i := 0; i < n-1; i++ {
		offset += d.BlockSizes[i]
	}
	return offset, d.BlockSizes[n-1], true
}

// SplitBlocks 按 maxBlock 切分 size：块数为 ceil(size/maxBlock)，size 为 0 时没有块。
func SplitBlocks(size, maxBlock int64) []int64 {
	if size <= 0 {
		return nil
	}
	if maxBlock <= 0 {
		maxBlock = DefaultMaxBlockSize
	}
	count := (size + maxBlock - 1) / maxBlock
	blocks := make([]int64, 0, count)
	for size > 0 {
		n := maxBlock
		if size < maxBlock {
			n = size
		}
		blocks = append(blocks, n)
		size -= n
	}
	return blocks
}
