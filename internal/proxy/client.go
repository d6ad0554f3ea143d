package proxy

import (
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/any-hub/any-cache/internal/cache"
	"github.com/any-hub/any-cache/internal/protocol"
)

// handle 绑定一个缓存条目与打开的本地文件流；目录句柄没有条目与流。
// closed 在 hd.mu 下由 Close 设置，之后的读写与定位都返回 BAD_HANDLE。
type handle struct {
	mu     sync.Mutex
	fd     int
	file   *cache.File
	stream *os.File
	mode   protocol.OpenMode
	path   string
	closed bool
}

// checkOpen 须在持有 hd.mu 时调用。
func (hd *handle) checkOpen() error {
	if hd.closed {
		return fmt.Errorf("fd %d already closed: %w", hd.fd, protocol.ErrBadHandle)
	}
	return nil
}

// Client 是单个客户端的句柄表，文件句柄与目录句柄分开保存。
type Client struct {
	id string

	mu      sync.Mutex
	handles map[int]*handle
	dirs    map[int]string
}

func newClient(id string) *Client {
	return &Client{
		id:      id,
		handles: make(map[int]*handle),
		dirs:    make(map[int]string),
	}
}

// ID 返回客户端标识。
func (c *Client) ID() string {
	return c.id
}

// FDs 返回当前打开的全部句柄编号（升序）。
func (c *Client) FDs() []int {
	c.mu.Lock()
	defer c.mu.Unlock()
	fds := make([]int, 0, len(c.handles)+len(c.dirs))
	for fd := range c.handles {
		fds = append(fds, fd)
	}
	for fd := range c.dirs {
		fds = append(fds, fd)
	}
	sort.Ints(fds)
	return fds
}

func (c *Client) lookup(fd int) (*handle, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.dirs[fd]; ok {
		return nil, true, nil
	}
	h, ok := c.handles[fd]
	if !ok {
		return nil, false, fmt.Errorf("fd %d: %w", fd, protocol.ErrBadHandle)
	}
	return h, false, nil
}

// detach 从表中移除句柄并返回它；目录句柄返回 isDir=true。
func (c *Client) detach(fd int) (*handle, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.dirs[fd]; ok {
		delete(c.dirs, fd)
		return nil, true, nil
	}
	h, ok := c.handles[fd]
	if !ok {
		return nil, false, fmt.Errorf("fd %d: %w", fd, protocol.ErrBadHandle)
	}
	delete(c.handles, fd)
	return h, false, nil
}
