package server

import (
	"net/http"
	"testing"
	"time"

	"github.com/any-hub/any-cache/internal/config"
)

func TestNewRemoteHTTPClientUsesConfigTimeout(t *testing.T) {
	client := NewRemoteHTTPClient(config.ProxyConfig{RemoteTimeout: config.Duration(45 * time.Second)})
	if client.Timeout != 45*time.Second {
		t.Fatalf("expected timeout 45s, got %s", client.Timeout)
	}
}

func TestNewRemoteHTTPClientDefaults(t *testing.T) {
	client := NewRemoteHTTPClient(config.ProxyConfig{})
	if client.Timeout != 30*time.Second {
		t.Fatalf("expected default timeout 30s, got %s", client.Timeout)
	}
	transport, ok := client.Transport.(*http.Transport)
	if !ok {
		t.Fatalf("expected *http.Transport, got %T", client.Transport)
	}
	if transport == defaultTransport {
		t.Fatalf("每个客户端应持有独立的 transport 副本")
	}
}
