package proxy

import (
	"context"

	"github.com/any-hub/any-cache/internal/cache"
)

// Freshness 对比缓存中最新主副本与服务端当前的修改时间。
type Freshness struct {
	Path           string `json:"path"`
	Cached         bool   `json:"cached"`
	LocalName      string `json:"localName,omitempty"`
	CachedModified int64  `json:"cachedModified,omitempty"`
	ServerModified int64  `json:"serverModified"`
	Fresh          bool   `json:"fresh"`
}

// Freshness 查询 path 的缓存是否仍与服务端一致，不获取会话锁，也不触发拉取。
func (h *Handler) Freshness(ctx context.Context, filePath string) (Freshness, error) {
	canonical := cleanPath(filePath)
	serverModified, err := h.remote.LastModified(ctx, canonical)
	if err != nil {
		return Freshness{}, err
	}
	result := Freshness{Path: canonical, ServerModified: serverModified}
	if master := h.cache.LatestMaster(canonical); master != nil {
		result.Cached = true
		result.LocalName = master.LocalName
		result.CachedModified = master.LastModified
		result.Fresh = master.LastModified == serverModified
	}
	return result, nil
}

// Status 汇总缓存状态与客户端句柄数量。
type Status struct {
	Cache   cache.Stats    `json:"cache"`
	Clients map[string]int `json:"clients"`
}

// Status 返回 /-/status 使用的快照。
func (h *Handler) Status() Status {
	h.clientsMu.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for _, client := range h.clients {
		clients = append(clients, client)
	}
	h.clientsMu.Unlock()

	status := Status{Cache: h.cache.Stats(), Clients: make(map[string]int, len(clients))}
	for _, client := range clients {
		status.Clients[client.ID()] = len(client.FDs())
	}
	return status
}
