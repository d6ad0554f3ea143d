// Package remote 实现代理访问文件服务端的 HTTP 客户端。
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/any-cache/internal/auth"
	"github.com/any-hub/any-cache/internal/logging"
	"github.com/any-hub/any-cache/internal/protocol"
)

const (
	contentJSON   = "application/json"
	contentBinary = "application/octet-stream"
)

// Options 配置服务端地址、共享 http.Client 与可选的 token 签发器。
type Options struct {
	BaseURL    string
	HTTPClient *http.Client
	Signer     *auth.Signer
	Logger     *logrus.Logger
}

// Client 通过 /rpc 接口调用文件服务端。网络层失败统一映射为 SERVER_UNAVAILABLE，
// 服务端返回的错误体还原为对应的协议错误。
type Client struct {
	base   *url.URL
	http   *http.Client
	signer *auth.Signer
	logger *logrus.Logger
}

// New 校验地址并创建客户端。
func New(opts Options) (*Client, error) {
	if strings.TrimSpace(opts.BaseURL) == "" {
		return nil, errors.New("server url is required")
	}
	base, err := url.Parse(strings.TrimRight(opts.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse server url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("server url %q: unsupported scheme", opts.BaseURL)
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	return &Client{base: base, http: httpClient, signer: opts.Signer, logger: logger}, nil
}

// OpenSession 请求文件元数据并在服务端打开共享读会话。
func (c *Client) OpenSession(ctx context.Context, filePath string, mode protocol.OpenMode) (protocol.Descriptor, error) {
	var desc protocol.Descriptor
	err := c.postJSON(ctx, "/rpc/session/open", protocol.Descriptor{Path: filePath, Mode: mode}, &desc)
	return desc, err
}

// CloseSession 释放共享读会话。
func (c *Client) CloseSession(ctx context.Context, filePath string) error {
	return c.postJSON(ctx, "/rpc/session/close", protocol.PathRequest{Path: filePath}, nil)
}

// GetBlock 拉取描述中的第 block 块。
func (c *Client) GetBlock(ctx context.Context, block int, desc protocol.Descriptor) ([]byte, error) {
	body, err := json.Marshal(protocol.BlockRequest{Block: block, Descriptor: desc})
	if err != nil {
		return nil, fmt.Errorf("encode block request: %v: %w", err, protocol.ErrInvalidArgument)
	}
	resp, err := c.do(ctx, http.MethodPost, "/rpc/block", nil, bytes.NewReader(body), contentJSON)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read block %d of %s: %v: %w", block, desc.Path, err, protocol.ErrServerUnavailable)
	}
	if _, want, ok := desc.BlockRange(block); ok && int64(len(data)) != want {
		return nil, fmt.Errorf("block %d of %s: got %d bytes, want %d: %w", block, desc.Path, len(data), want, protocol.ErrIO)
	}
	return data, nil
}

// OpenWrite 阻塞直到服务端授予排他写会话。
func (c *Client) OpenWrite(ctx context.Context, filePath string) error {
	return c.postJSON(ctx, "/rpc/write/open", protocol.PathRequest{Path: filePath}, nil)
}

// WriteChunk 以原始字节发送一块写入数据。
func (c *Client) WriteChunk(ctx context.Context, filePath string, data []byte) error {
	query := url.Values{"path": []string{filePath}}
	resp, err := c.do(ctx, http.MethodPost, "/rpc/write/chunk", query, bytes.NewReader(data), contentBinary)
	if err != nil {
		return err
	}
	return drain(resp)
}

// CloseWrite 提交写入并返回新的修改时间。
func (c *Client) CloseWrite(ctx context.Context, filePath string) (int64, error) {
	var out protocol.LastModifiedResponse
	if err := c.postJSON(ctx, "/rpc/write/close", protocol.PathRequest{Path: filePath}, &out); err != nil {
		return 0, err
	}
	return out.LastModified, nil
}

// AbortWrite 放弃写会话，服务端文件保持不变。
func (c *Client) AbortWrite(ctx context.Context, filePath string) error {
	return c.postJSON(ctx, "/rpc/write/abort", protocol.PathRequest{Path: filePath}, nil)
}

// Unlink 删除服务端文件。
func (c *Client) Unlink(ctx context.Context, filePath string) error {
	var out protocol.UnlinkResponse
	if err := c.postJSON(ctx, "/rpc/unlink", protocol.PathRequest{Path: filePath}, &out); err != nil {
		return err
	}
	return out.Result.Err()
}

// LastModified 查询服务端当前的修改时间。
func (c *Client) LastModified(ctx context.Context, filePath string) (int64, error) {
	resp, err := c.do(ctx, http.MethodGet, "/rpc/mtime", url.Values{"path": []string{filePath}}, nil, "")
	if err != nil {
		return 0, err
	}
	var out protocol.LastModifiedResponse
	if err := decode(resp, &out); err != nil {
		return 0, err
	}
	return out.LastModified, nil
}

func (c *Client) postJSON(ctx context.Context, endpoint string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("encode %s: %v: %w", endpoint, err, protocol.ErrInvalidArgument)
	}
	resp, err := c.do(ctx, http.MethodPost, endpoint, nil, bytes.NewReader(body), contentJSON)
	if err != nil {
		return err
	}
	if out == nil {
		return drain(resp)
	}
	return decode(resp, out)
}

// do 发送请求；返回的响应一定是 2xx，调用方负责关闭 Body。
func (c *Client) do(ctx context.Context, method, endpoint string, query url.Values, body io.Reader, contentType string) (*http.Response, error) {
	target := *c.base
	target.Path = c.base.Path + endpoint
	target.RawQuery = query.Encode()

	req, err := http.NewRequestWithContext(ctx, method, target.String(), body)
	if err != nil {
		return nil, fmt.Errorf("build %s %s: %v: %w", method, endpoint, err, protocol.ErrInvalidArgument)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if c.signer != nil {
		token, err := c.signer.Token()
		if err != nil {
			return nil, fmt.Errorf("sign request: %v: %w", err, protocol.ErrPermissionDenied)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	started := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.WithFields(logrus.Fields{
			"action":     "remote_call",
			"endpoint":   endpoint,
			"elapsed_ms": time.Since(started).Milliseconds(),
		}).WithError(err).Warn("remote_unavailable")
		return nil, fmt.Errorf("%s %s: %v: %w", method, endpoint, err, protocol.ErrServerUnavailable)
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp, nil
	}
	defer resp.Body.Close()
	return nil, remoteError(endpoint, resp)
}

// remoteError 把错误体还原为协议错误；无法解析时按状态码归类。
func remoteError(endpoint string, resp *http.Response) error {
	var payload protocol.ErrorResponse
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err := json.Unmarshal(raw, &payload); err == nil && payload.Code != protocol.CodeOK {
		return fmt.Errorf("%s: %w", endpoint, payload.Code.Err())
	}
	if code, ok := protocol.ParseCode(payload.Error); ok && code != protocol.CodeOK {
		return fmt.Errorf("%s: %w", endpoint, code.Err())
	}
	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%s: status %d: %w", endpoint, resp.StatusCode, protocol.ErrPermissionDenied)
	case resp.StatusCode >= 500:
		return fmt.Errorf("%s: status %d: %w", endpoint, resp.StatusCode, protocol.ErrServerUnavailable)
	default:
		return fmt.Errorf("%s: status %d: %w", endpoint, resp.StatusCode, protocol.ErrIO)
	}
}

func decode(resp *http.Response, out any) error {
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %v: %w", err, protocol.ErrServerUnavailable)
	}
	return nil
}

func drain(resp *http.Response) error {
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
