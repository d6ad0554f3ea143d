package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

const (
	BackendLocal = "local"
	BackendS3    = "s3"
)

var supportedLogLevels = map[string]struct{}{
	"trace": {}, "debug": {}, "info": {}, "warn": {}, "warning": {}, "error": {}, "fatal": {}, "panic": {},
}

// Validate 针对语义级别做进一步校验，防止非法配置启动服务。
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("配置为空")
	}

	if _, err := ParseRole(c.Global.Role); err != nil {
		return err
	}
	if _, ok := supportedLogLevels[strings.ToLower(c.Global.LogLevel)]; !ok {
		return newFieldError("LogLevel", "不支持的日志级别")
	}
	if c.Global.LogMaxSize < 0 || c.Global.LogMaxBackups < 0 {
		return newFieldError("LogMaxSize/LogMaxBackups", "不能为负数")
	}

	if err := c.Proxy.validate(); err != nil {
		return err
	}
	return c.Server.validate()
}

func (p ProxyConfig) validate() error {
	if err := validatePort("Proxy", p.ListenPort); err != nil {
		return err
	}
	if strings.TrimSpace(p.CacheDir) == "" {
		return newFieldError(sectionField("Proxy", "CacheDir"), "不能为空")
	}
	if p.CacheCapacity <= 0 {
		return newFieldError(sectionField("Proxy", "CacheCapacity"), "必须大于 0")
	}
	if err := validateServerURL(p.ServerURL); err != nil {
		return fmt.Errorf("%s: %w", sectionField("Proxy", "ServerURL"), err)
	}
	if p.RemoteTimeout.DurationValue() <= 0 {
		return newFieldError(sectionField("Proxy", "RemoteTimeout"), "必须大于 0")
	}
	if p.AuthSecret != "" && p.TokenTTL.DurationValue() <= 0 {
		return newFieldError(sectionField("Proxy", "TokenTTL"), "启用鉴权时必须大于 0")
	}
	return nil
}

func (s ServerConfig) validate() error {
	if err := validatePort("Server", s.ListenPort); err != nil {
		return err
	}
	if s.MaxBlockSize <= 0 {
		return newFieldError(sectionField("Server", "MaxBlockSize"), "必须大于 0")
	}
	switch s.Backend {
	case BackendLocal:
		if strings.TrimSpace(s.RootDir) == "" {
			return newFieldError(sectionField("Server", "RootDir"), "不能为空")
		}
	case BackendS3:
		if strings.TrimSpace(s.S3.Bucket) == "" {
			return newFieldError(sectionField("Server.S3", "Bucket"), "不能为空")
		}
		if (s.S3.AccessKey == "") != (s.S3.SecretKey == "") {
			return newFieldError(sectionField("Server.S3", "AccessKey/SecretKey"), "必须同时提供或同时留空")
		}
		if s.S3.Endpoint != "" {
			if err := validateServerURL(s.S3.Endpoint); err != nil {
				return fmt.Errorf("%s: %w", sectionField("Server.S3", "Endpoint"), err)
			}
		}
	default:
		return newFieldError(sectionField("Server", "Backend"), "仅支持 local|s3")
	}
	return nil
}

func validatePort(section string, port int) error {
	if port <= 0 || port > 65535 {
		return newFieldError(sectionField(section, "ListenPort"), "必须在 1-65535")
	}
	return nil
}

func validateServerURL(raw string) error {
	if raw == "" {
		return errors.New("缺少服务端地址")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("仅支持 http/https: %s", raw)
	}
	if parsed.Host == "" {
		return fmt.Errorf("地址缺少 Host: %s", raw)
	}
	return nil
}
