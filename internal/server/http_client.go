package server

import (
	"net"
	"net/http"
	"time"

	"github.com/any-hub/any-cache/internal/config"
)

// Shared HTTP transport tunings，复用到文件服务端的长连接并集中配置超时。
var defaultTransport = &http.Transport{
	Proxy:                 http.ProxyFromEnvironment,
	MaxIdleConns:          100,
	MaxIdleConnsPerHost:   100,
	IdleConnTimeout:       90 * time.Second,
	TLSHandshakeTimeout:   10 * time.Second,
	ExpectContinueTimeout: 1 * time.Second,
	ForceAttemptHTTP2:     true,
	DialContext: (&net.Dialer{
		Timeout:   10 * time.Second,
		KeepAlive: 30 * time.Second,
	}).DialContext,
}

// NewRemoteHTTPClient 返回代理访问文件服务端使用的 http.Client。
// 未配置 RemoteTimeout 时默认 30s；单次请求最多传输一个分块，超时按块计算。
func NewRemoteHTTPClient(cfg config.ProxyConfig) *http.Client {
	timeout := 30 * time.Second
	if cfg.RemoteTimeout.DurationValue() > 0 {
		timeout = cfg.RemoteTimeout.DurationValue()
	}

	return &http.Client{
		Timeout:   timeout,
		Transport: defaultTransport.Clone(),
	}
}
