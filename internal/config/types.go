package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Duration 提供更灵活的反序列化能力，同时兼容纯秒整数与 Go Duration 字符串。
type Duration time.Duration

// UnmarshalText 使 Viper 可以识别诸如 "30s"、"5m" 或纯数字秒值等配置写法。
func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		*d = Duration(0)
		return nil
	}

	if parsed, err := time.ParseDuration(raw); err == nil {
		*d = Duration(parsed)
		return nil
	}

	if intVal, err := parseInt(raw); err == nil {
		*d = Duration(time.Duration(intVal) * time.Second)
		return nil
	}

	return fmt.Errorf("invalid duration value: %s", raw)
}

// DurationValue 返回真实的 time.Duration，便于调用方计算。
func (d Duration) DurationValue() time.Duration {
	return time.Duration(d)
}

// parseInt 支持十进制或 0x 前缀的十六进制字符串解析。
func parseInt(value string) (int64, error) {
	if strings.HasPrefix(value, "0x") || strings.HasPrefix(value, "0X") {
		return strconv.ParseInt(value, 0, 64)
	}
	return strconv.ParseInt(value, 10, 64)
}

// Role 决定当前进程以代理还是文件服务端身份运行。
type Role string

const (
	RoleProxy  Role = "proxy"
	RoleServer Role = "server"
)

// ParseRole 标准化角色字符串。
func ParseRole(raw string) (Role, error) {
	role := Role(strings.ToLower(strings.TrimSpace(raw)))
	switch role {
	case RoleProxy, RoleServer:
		return role, nil
	default:
		return "", newFieldError("Role", "仅支持 proxy|server")
	}
}

// GlobalConfig 描述两种角色共享的日志参数。
type GlobalConfig struct {
	LogLevel      string `mapstructure:"LogLevel"`
	LogFilePath   string `mapstructure:"LogFilePath"`
	LogMaxSize    int    `mapstructure:"LogMaxSize"`
	LogMaxBackups int    `mapstructure:"LogMaxBackups"`
	LogCompress   bool   `mapstructure:"LogCompress"`
	Role          string `mapstructure:"Role"`
}

// ProxyConfig 控制缓存代理：本地缓存目录、容量以及上游文件服务端。
type ProxyConfig struct {
	ListenPort    int      `mapstructure:"ListenPort"`
	CacheDir      string   `mapstructure:"CacheDir"`
	CacheCapacity int64    `mapstructure:"CacheCapacity"`
	ServerURL     string   `mapstructure:"ServerURL"`
	RemoteTimeout Duration `mapstructure:"RemoteTimeout"`
	AuthSecret    string   `mapstructure:"AuthSecret"`
	TokenTTL      Duration `mapstructure:"TokenTTL"`
}

// S3Config 描述 S3 兼容存储（MinIO 等）的连接参数。
type S3Config struct {
	Endpoint  string `mapstructure:"Endpoint"`
	Bucket    string `mapstructure:"Bucket"`
	Region    string `mapstructure:"Region"`
	AccessKey string `mapstructure:"AccessKey"`
	SecretKey string `mapstructure:"SecretKey"`
	SpoolDir  string `mapstructure:"SpoolDir"`
}

// ServerConfig 控制文件服务端：导出目录或 S3 bucket、分块大小与鉴权。
type ServerConfig struct {
	ListenPort   int      `mapstructure:"ListenPort"`
	RootDir      string   `mapstructure:"RootDir"`
	MaxBlockSize int64    `mapstructure:"MaxBlockSize"`
	Backend      string   `mapstructure:"Backend"`
	AuthSecret   string   `mapstructure:"AuthSecret"`
	S3           S3Config `mapstructure:"S3"`
}

// Config 是 TOML 文件映射的整体结构。
type Config struct {
	Global GlobalConfig `mapstructure:",squash"`
	Proxy  ProxyConfig  `mapstructure:"Proxy"`
	Server ServerConfig `mapstructure:"Server"`
}

// RoleValue 返回配置中声明的角色（假定 Validate 已经通过）。
func (c *Config) RoleValue() Role {
	role, err := ParseRole(c.Global.Role)
	if err != nil {
		return RoleProxy
	}
	return role
}

// AuthMode 输出 `token` 或 `anonymous`，供日志字段使用。
func AuthMode(secret string) string {
	if strings.TrimSpace(secret) != "" {
		return "token"
	}
	return "anonymous"
}
