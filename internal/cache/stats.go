package cache

import "sort"

// Stats 是缓存管理器的只读快照，供 /-/status 输出。
type Stats struct {
	Dir          string         `json:"dir"`
	Capacity     int64          `json:"capacity"`
	UsedBytes    int64          `json:"usedBytes"`
	PendingBytes int64          `json:"pendingBytes"`
	Paths        int            `json:"paths"`
	Entries      int            `json:"entries"`
	LRU          []string       `json:"lru"`
	InUse        map[string]int `json:"inUse"`
}

// Stats 汇总当前容量、版本数量与 LRU 顺序（最旧在前）。
func (m *Manager) Stats() Stats {
	used := m.UsedBytes()

	m.mu.Lock()
	defer m.mu.Unlock()

	stats := Stats{
		Dir:       m.dir,
		Capacity:  m.capacity,
		UsedBytes: used,
		Paths:     len(m.versions),
		LRU:       make([]string, 0, m.lru.Len()),
		InUse:     make(map[string]int, len(m.inUse)),
	}
	for _, p := range m.pending {
		stats.PendingBytes += p
	}
	for _, entries := range m.versions {
		stats.Entries += len(entries)
	}
	for elem := m.lru.Front(); elem != nil; elem = elem.Next() {
		stats.LRU = append(stats.LRU, elem.Value.(*File).LocalName)
	}
	for name, n := range m.inUse {
		stats.InUse[name] = n
	}
	return stats
}

// Paths 返回已登记的服务端路径，按字典序排列。
func (m *Manager) Paths() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	paths := make([]string, 0, len(m.versions))
	for path := range m.versions {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	return paths
}
