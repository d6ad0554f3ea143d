package config

import (
	"fmt"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"

	"github.com/any-hub/any-cache/internal/protocol"
)

// Load 读取并解析 TOML 配置文件，同时注入默认值与校验逻辑。
func Load(path string) (*Config, error) {
	if path == "" {
		path = "config.toml"
	}

	v := viper.New()
	v.SetConfigFile(path)
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置失败: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(durationDecodeHook())); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	applyGlobalDefaults(&cfg.Global)
	applyProxyDefaults(&cfg.Proxy)
	applyServerDefaults(&cfg.Server)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if err := absolutize(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("LogLevel", "info")
	v.SetDefault("LogFilePath", "")
	v.SetDefault("LogMaxSize", 100)
	v.SetDefault("LogMaxBackups", 10)
	v.SetDefault("LogCompress", true)
	v.SetDefault("Role", string(RoleProxy))

	v.SetDefault("Proxy.ListenPort", 7000)
	v.SetDefault("Proxy.CacheDir", "./cache")
	v.SetDefault("Proxy.CacheCapacity", 256*1024*1024)
	v.SetDefault("Proxy.ServerURL", "http://127.0.0.1:7100")
	v.SetDefault("Proxy.RemoteTimeout", "30s")
	v.SetDefault("Proxy.TokenTTL", "5m")

	v.SetDefault("Server.ListenPort", 7100)
	v.SetDefault("Server.RootDir", "./export")
	v.SetDefault("Server.MaxBlockSize", protocol.DefaultMaxBlockSize)
	v.SetDefault("Server.Backend", "local")
	v.SetDefault("Server.S3.Region", "us-east-1")
}

func applyGlobalDefaults(g *GlobalConfig) {
	if strings.TrimSpace(g.Role) == "" {
		g.Role = string(RoleProxy)
	}
	g.Role = strings.ToLower(strings.TrimSpace(g.Role))
}

func applyProxyDefaults(p *ProxyConfig) {
	if p.ListenPort == 0 {
		p.ListenPort = 7000
	}
	if p.RemoteTimeout.DurationValue() == 0 {
		p.RemoteTimeout = Duration(30 * time.Second)
	}
	if p.TokenTTL.DurationValue() == 0 {
		p.TokenTTL = Duration(5 * time.Minute)
	}
	p.ServerURL = strings.TrimRight(strings.TrimSpace(p.ServerURL), "/")
}

func applyServerDefaults(s *ServerConfig) {
	if s.ListenPort == 0 {
		s.ListenPort = 7100
	}
	if s.MaxBlockSize == 0 {
		s.MaxBlockSize = protocol.DefaultMaxBlockSize
	}
	s.Backend = strings.ToLower(strings.TrimSpace(s.Backend))
	if s.Backend == "" {
		s.Backend = BackendLocal
	}
}

func absolutize(cfg *Config) error {
	absCache, err := filepath.Abs(cfg.Proxy.CacheDir)
	if err != nil {
		return fmt.Errorf("无法解析缓存目录: %w", err)
	}
	cfg.Proxy.CacheDir = absCache

	absRoot, err := filepath.Abs(cfg.Server.RootDir)
	if err != nil {
		return fmt.Errorf("无法解析导出目录: %w", err)
	}
	cfg.Server.RootDir = absRoot

	if cfg.Server.S3.SpoolDir != "" {
		absSpool, err := filepath.Abs(cfg.Server.S3.SpoolDir)
		if err != nil {
			return fmt.Errorf("无法解析 S3 暂存目录: %w", err)
		}
		cfg.Server.S3.SpoolDir = absSpool
	}
	return nil
}

func durationDecodeHook() mapstructure.DecodeHookFunc {
	targetType := reflect.TypeOf(Duration(0))

	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != targetType {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			if v == "" {
				return Duration(0), nil
			}
			if parsed, err := time.ParseDuration(v); err == nil {
				return Duration(parsed), nil
			}
			if seconds, err := strconv.ParseFloat(v, 64); err == nil {
				return Duration(time.Duration(seconds * float64(time.Second))), nil
			}
			return nil, fmt.Errorf("无法解析 Duration 字段: %s", v)
		case int:
			return Duration(time.Duration(v) * time.Second), nil
		case int64:
			return Duration(time.Duration(v) * time.Second), nil
		case float64:
			return Duration(time.Duration(v * float64(time.Second))), nil
		case time.Duration:
			return Duration(v), nil
		case Duration:
			return v, nil
		default:
			return nil, fmt.Errorf("不支持的 Duration 类型: %T", v)
		}
	}
}
