package config

import (
	"path/filepath"
	"testing"
	"time"
)

func TestLoadWithDefaults(t *testing.T) {
	cfgPath := testConfigPath(t, "valid.toml")

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load 返回错误: %v", err)
	}
	if cfg.Proxy.RemoteTimeout.DurationValue() != 10*time.Second {
		t.Fatalf("RemoteTimeout 应解析为 10s，得到 %s", cfg.Proxy.RemoteTimeout.DurationValue())
	}
	if cfg.Proxy.TokenTTL.DurationValue() == 0 {
		t.Fatalf("TokenTTL 应该自动填充默认值")
	}
	if !filepath.IsAbs(cfg.Proxy.CacheDir) {
		t.Fatalf("CacheDir 应被转换为绝对路径: %s", cfg.Proxy.CacheDir)
	}
	if cfg.Server.MaxBlockSize != 65536 {
		t.Fatalf("MaxBlockSize 应当被解析，得到 %d", cfg.Server.MaxBlockSize)
	}
	if cfg.Server.Backend != BackendLocal {
		t.Fatalf("Backend 默认应为 local，得到 %s", cfg.Server.Backend)
	}
	if cfg.RoleValue() != RoleProxy {
		t.Fatalf("Role 应为 proxy")
	}
}

func TestValidateRejectsBadProxy(t *testing.T) {
	cfgPath := testConfigPath(t, "missing.toml")

	if _, err := Load(cfgPath); err == nil {
		t.Fatalf("不合法的配置应返回错误")
	}
}

func TestValidateEnforcesListenPortRange(t *testing.T) {
	cfg := validConfig()
	cfg.Server.ListenPort = 70000
	if err := cfg.Validate(); err == nil {
		t.Fatalf("ListenPort 超出范围应当报错")
	}
}

func TestBackendValidation(t *testing.T) {
	testCases := []struct {
		name      string
		backend   string
		bucket    string
		shouldErr bool
	}{
		{"local ok", BackendLocal, "", false},
		{"s3 ok", BackendS3, "exports", false},
		{"s3 missing bucket", BackendS3, "", true},
		{"unsupported backend", "ftp", "", true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			cfg.Server.Backend = tc.backend
			cfg.Server.S3.Bucket = tc.bucket
			err := cfg.Validate()
			if tc.shouldErr && err == nil {
				t.Fatalf("expected error for backend %q", tc.backend)
			}
			if !tc.shouldErr && err != nil {
				t.Fatalf("unexpected error for backend %q: %v", tc.backend, err)
			}
		})
	}
}

func TestValidateRequiresS3CredentialPairs(t *testing.T) {
	cfg := validConfig()
	cfg.Server.Backend = BackendS3
	cfg.Server.S3.Bucket = "exports"
	cfg.Server.S3.AccessKey = "foo"
	if err := cfg.Validate(); err == nil {
		t.Fatalf("仅提供 AccessKey 时应报错")
	}
}

func TestParseRole(t *testing.T) {
	if role, err := ParseRole(" Server "); err != nil || role != RoleServer {
		t.Fatalf("应解析为 server: %v %v", role, err)
	}
	if _, err := ParseRole("client"); err == nil {
		t.Fatalf("未知角色应报错")
	}
}

func validConfig() *Config {
	return &Config{
		Global: GlobalConfig{
			LogLevel: "info",
			Role:     string(RoleProxy),
		},
		Proxy: ProxyConfig{
			ListenPort:    7000,
			CacheDir:      "./cache",
			CacheCapacity: 1024,
			ServerURL:     "http://127.0.0.1:7100",
			RemoteTimeout: Duration(time.Second),
			TokenTTL:      Duration(time.Minute),
		},
		Server: ServerConfig{
			ListenPort:   7100,
			RootDir:      "./export",
			MaxBlockSize: 1024,
			Backend:      BackendLocal,
		},
	}
}
