package cache

import (
	"container/list"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/any-cache/internal/logging"
	"github.com/any-hub/any-cache/internal/metrics"
	"github.com/any-hub/any-cache/internal/protocol"
)

// Options 描述缓存目录与容量。
type Options struct {
	Dir      string
	Capacity int64
	Logger   *logrus.Logger
}

// Manager 维护版本表、LRU 顺序、占用计数与待写入预留，所有状态共享一把锁。
type Manager struct {
	dir      string
	capacity int64
	logger   *logrus.Logger

	mu       sync.Mutex
	versions map[string][]*File
	byName   map[string]*File
	lru      *list.List
	lruIndex map[*File]*list.Element
	inUse    map[string]int
	pending  map[string]int64

	slotMu sync.Mutex
	slots  map[string]*slotLock
}

// NewManager 准备缓存目录并清理上次运行遗留的文件。
func NewManager(opts Options) (*Manager, error) {
	if opts.Dir == "" {
		return nil, errors.New("cache dir is required")
	}
	if opts.Capacity <= 0 {
		return nil, fmt.Errorf("cache capacity must be positive, got %d", opts.Capacity)
	}
	abs, err := filepath.Abs(opts.Dir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("cache dir %s is not a directory", abs)
	}

	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}

	m := &Manager{
		dir:      abs,
		capacity: opts.Capacity,
		logger:   logger,
		versions: make(map[string][]*File),
		byName:   make(map[string]*File),
		lru:      list.New(),
		lruIndex: make(map[*File]*list.Element),
		inUse:    make(map[string]int),
		pending:  make(map[string]int64),
		slots:    make(map[string]*slotLock),
	}
	if err := m.purge(); err != nil {
		return nil, err
	}
	return m, nil
}

// Dir 返回缓存目录的绝对路径。
func (m *Manager) Dir() string {
	return m.dir
}

// Capacity 返回容量上限（字节）。
func (m *Manager) Capacity() int64 {
	return m.capacity
}

// Path 把本地名转换为缓存目录下的完整路径。
func (m *Manager) Path(name string) string {
	return filepath.Join(m.dir, name)
}

// Register 追加 path 的最新版本；同名旧条目对应的磁盘文件已被替换，一并移除。
func (m *Manager) Register(path string, f *File) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.registerLocked(path, f)
}

// RegisterAcquired 在同一临界区内登记新版本、刷新 LRU、增加占用计数并清除预留，
// 新拉取的文件从可见起就不会被淘汰。
func (m *Manager) RegisterAcquired(path string, f *File) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.registerLocked(path, f)
	m.touchLocked(f)
	m.inUse[f.LocalName]++
	delete(m.pending, f.LocalName)
}

func (m *Manager) registerLocked(path string, f *File) {
	if old, ok := m.byName[f.LocalName]; ok && old != f {
		m.forgetLocked(old)
	}
	f.ServerPath = path
	m.versions[path] = append(m.versions[path], f)
	m.byName[f.LocalName] = f
	m.logger.WithFields(logging.CacheFields("register", path, f.LocalName, f.Size)).Debug("cache_register")
}

// LatestMaster 返回 path 最新的非私有版本。
func (m *Manager) LatestMaster(path string) *File {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.latestMasterLocked(path)
}

// LatestMasterAcquire 查找 path 最新的非私有版本，并在同一临界区内增加其占用计数。
// 返回非 nil 时调用方负责 Release。
func (m *Manager) LatestMasterAcquire(path string) *File {
	m.mu.Lock()
	defer m.mu.Unlock()
	f := m.latestMasterLocked(path)
	if f != nil {
		m.inUse[f.LocalName]++
	}
	return f
}

func (m *Manager) latestMasterLocked(path string) *File {
	entries := m.versions[path]
	for i := len(entries) - 1; i >= 0; i-- {
		if !entries[i].Private {
			return entries[i]
		}
	}
	return nil
}

// Touch 把条目移动到 LRU 最新位置，不存在时追加。
func (m *Manager) Touch(f *File) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.touchLocked(f)
}

// Promote 仅在本地名占用数不超过 1 时刷新 LRU 位置，检查与刷新是原子的。
func (m *Manager) Promote(f *File) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.inUse[f.LocalName] > 1 {
		return false
	}
	m.touchLocked(f)
	return true
}

// Acquire 增加本地名的占用计数。
func (m *Manager) Acquire(name string) {
	m.mu.Lock()
	m.inUse[name]++
	m.mu.Unlock()
}

// Release 减少占用计数，归零时移除。
func (m *Manager) Release(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n := m.inUse[name]; n > 1 {
		m.inUse[name] = n - 1
		return
	}
	delete(m.inUse, name)
}

// InUse 返回本地名当前的占用计数。
func (m *Manager) InUse(name string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.inUse[name]
}

// Reserve 确保缓存目录还能容纳 required 字节，必要时按 LRU 顺序淘汰未占用的文件。
// private 为 true 时 path 的主副本不参与淘汰。成功后 candidate 的预留增加 required，
// 直到 Settle 为止。
func (m *Manager) Reserve(required int64, path, candidate string, private bool) error {
	if required < 0 {
		return fmt.Errorf("reserve %d bytes: %w", required, protocol.ErrInvalidArgument)
	}
	if required > m.capacity {
		m.logger.WithFields(logging.CacheFields("reserve", path, candidate, required)).Warn("cache_reserve_exceeds_capacity")
		return fmt.Errorf("reserve %d bytes exceeds capacity %d: %w", required, m.capacity, protocol.ErrNoSpace)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	used, err := m.accountedBytesLocked()
	if err != nil {
		return fmt.Errorf("scan cache dir: %w", protocol.ErrIO)
	}
	free := m.capacity - used
	if free < required {
		victims := m.victimsLocked(required-free, path, private)
		if victims == nil {
			m.logger.WithFields(logging.CacheFields("reserve", path, candidate, required)).
				WithField("free", free).Warn("cache_reserve_failed")
			return fmt.Errorf("reserve %d bytes with %d free: %w", required, free, protocol.ErrNoSpace)
		}
		for _, victim := range victims {
			freed, evictErr := m.evictLocked(victim)
			if evictErr != nil {
				return fmt.Errorf("evict %s: %w", victim.LocalName, protocol.ErrIO)
			}
			free += freed
		}
	}

	m.pending[candidate] = m.accountedSizeLocked(candidate) + required
	metrics.SetCacheUsedBytes(m.capacity - free)
	return nil
}

// victimsLocked 按 LRU 顺序挑选足以释放 need 字节的可淘汰条目，不足时返回 nil，
// 这样失败的预留不会删除任何文件。占用中、正在写入以及（私有副本预留时）
// 同一路径的主副本都会被跳过。
func (m *Manager) victimsLocked(need int64, path string, private bool) []*File {
	var (
		victims []*File
		freed   int64
	)
	for elem := m.lru.Front(); elem != nil && freed < need; elem = elem.Next() {
		victim := elem.Value.(*File)
		switch {
		case m.inUse[victim.LocalName] > 0:
		case m.pending[victim.LocalName] > 0:
		case private && victim.ServerPath == path && !victim.Private:
		default:
			victims = append(victims, victim)
			if info, err := os.Stat(m.Path(victim.LocalName)); err == nil {
				freed += info.Size()
			}
		}
	}
	if freed < need {
		return nil
	}
	return victims
}

// Discard 移除一个不再有效的条目及其磁盘文件。
func (m *Manager) Discard(f *File) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.forgetLocked(f)
	delete(m.pending, f.LocalName)
	if err := os.Remove(m.Path(f.LocalName)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		m.logger.WithError(err).WithFields(logging.CacheFields("discard", f.ServerPath, f.LocalName, f.Size)).Warn("cache_discard_failed")
	}
}

// Settle 清除 name 的待写入预留，文件已落盘或已删除时调用。
func (m *Manager) Settle(name string) {
	m.mu.Lock()
	delete(m.pending, name)
	m.mu.Unlock()
}

// Remove 删除本地文件并清除其预留；文件不存在不视为错误。
func (m *Manager) Remove(name string) error {
	if err := validName(name); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.pending, name)
	if err := os.Remove(m.Path(name)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// DropPlaceholder 删除 LockSlot 创建的空占位文件：仅当文件为空、未登记且无人占用。
func (m *Manager) DropPlaceholder(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.pending, name)
	if _, registered := m.byName[name]; registered || m.inUse[name] > 0 {
		return
	}
	info, err := os.Stat(m.Path(name))
	if err != nil || !info.Mode().IsRegular() || info.Size() != 0 {
		return
	}
	_ = os.Remove(m.Path(name))
}

// UsedBytes 返回缓存目录中普通文件的总大小。
func (m *Manager) UsedBytes() int64 {
	used, err := m.diskUsage(nil)
	if err != nil {
		m.logger.WithError(err).WithField("action", "usage").Warn("cache_usage_failed")
	}
	return used
}

func (m *Manager) touchLocked(f *File) {
	if elem, ok := m.lruIndex[f]; ok {
		m.lru.MoveToBack(elem)
		return
	}
	m.lruIndex[f] = m.lru.PushBack(f)
}

// evictLocked 删除磁盘文件并移出 LRU 与版本表，返回释放的字节数。
func (m *Manager) evictLocked(f *File) (int64, error) {
	full := m.Path(f.LocalName)
	var size int64
	if info, err := os.Stat(full); err == nil {
		size = info.Size()
	}
	if err := os.Remove(full); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return 0, err
	}
	m.forgetLocked(f)
	delete(m.pending, f.LocalName)
	metrics.RecordEviction()
	m.logger.WithFields(logging.CacheFields("evict", f.ServerPath, f.LocalName, size)).Info("cache_evict")
	return size, nil
}

// forgetLocked 从 LRU、版本表和名称索引中移除条目，不触碰磁盘。
func (m *Manager) forgetLocked(f *File) {
	if elem, ok := m.lruIndex[f]; ok {
		m.lru.Remove(elem)
		delete(m.lruIndex, f)
	}
	entries := m.versions[f.ServerPath]
	for i, entry := range entries {
		if entry == f {
			entries = append(entries[:i:i], entries[i+1:]...)
			break
		}
	}
	if len(entries) == 0 {
		delete(m.versions, f.ServerPath)
	} else {
		m.versions[f.ServerPath] = entries
	}
	if m.byName[f.LocalName] == f {
		delete(m.byName, f.LocalName)
	}
}

// accountedBytesLocked 以磁盘大小与预留的较大者计入每个文件。
func (m *Manager) accountedBytesLocked() (int64, error) {
	seen := make(map[string]struct{}, len(m.pending))
	used, err := m.diskUsage(func(name string, size int64) int64 {
		seen[name] = struct{}{}
		if p, ok := m.pending[name]; ok && p > size {
			return p
		}
		return size
	})
	if err != nil {
		return 0, err
	}
	for name, p := range m.pending {
		if _, ok := seen[name]; !ok {
			used += p
		}
	}
	return used, nil
}

func (m *Manager) accountedSizeLocked(name string) int64 {
	var size int64
	if info, err := os.Stat(m.Path(name)); err == nil {
		size = info.Size()
	}
	if p := m.pending[name]; p > size {
		return p
	}
	return size
}

func (m *Manager) diskUsage(account func(name string, size int64) int64) (int64, error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return 0, err
	}
	var used int64
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return 0, err
		}
		size := info.Size()
		if account != nil {
			size = account(entry.Name(), size)
		}
		used += size
	}
	return used, nil
}

func (m *Manager) purge() error {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return err
	}
	removed := 0
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		if err := os.Remove(filepath.Join(m.dir, entry.Name())); err != nil {
			return fmt.Errorf("purge cache dir: %w", err)
		}
		removed++
	}
	if removed > 0 {
		m.logger.WithFields(logrus.Fields{
			"action":  "purge",
			"dir":     m.dir,
			"removed": removed,
		}).Info("cache_purged")
	}
	return nil
}
