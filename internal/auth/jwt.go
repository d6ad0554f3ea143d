// Package auth signs and verifies the HS256 bearer tokens a proxy presents to
// the file server. An empty secret disables authentication on both sides.
package auth

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const issuer = "any-cache"

var (
	// ErrMissingToken 表示请求没有携带 Bearer token。
	ErrMissingToken = errors.New("missing bearer token")
	// ErrInvalidToken 表示 token 签名、签发者或有效期校验失败。
	ErrInvalidToken = errors.New("invalid bearer token")
)

// Claims 标识发起调用的代理节点。
type Claims struct {
	Node string `json:"node"`
	jwt.RegisteredClaims
}

// Signer 为代理签发短期 token，并在过期前复用。
type Signer struct {
	secret []byte
	ttl    time.Duration
	node   string
	now    func() time.Time

	mu      sync.Mutex
	token   string
	expires time.Time
}

// NewSigner 创建签发器，secret 为空时返回 nil（匿名模式）。
func NewSigner(secret, node string, ttl time.Duration) *Signer {
	if strings.TrimSpace(secret) == "" {
		return nil
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Signer{secret: []byte(secret), ttl: ttl, node: node, now: time.Now}
}

// Token 返回当前有效 token，剩余有效期不足五分之一时重新签发。
func (s *Signer) Token() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if s.token != "" && now.Add(s.ttl/5).Before(s.expires) {
		return s.token, nil
	}

	expires := now.Add(s.ttl)
	claims := &Claims{
		Node: s.node,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expires),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    issuer,
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	s.token = signed
	s.expires = expires
	return signed, nil
}

// Verifier 校验服务端收到的 token。
type Verifier struct {
	secret []byte
}

// NewVerifier 创建校验器，secret 为空时返回 nil（不校验）。
func NewVerifier(secret string) *Verifier {
	if strings.TrimSpace(secret) == "" {
		return nil
	}
	return &Verifier{secret: []byte(secret)}
}

// Verify 解析并校验 token，只接受 HMAC 签名与本系统签发者。
func (v *Verifier) Verify(tokenStr string) (*Claims, error) {
	if tokenStr == "" {
		return nil, ErrMissingToken
	}
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.secret, nil
	}, jwt.WithIssuer(issuer), jwt.WithExpirationRequired())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// BearerToken 从 Authorization 头中提取 token。
func BearerToken(header string) string {
	const prefix = "Bearer "
	if len(header) > len(prefix) && strings.EqualFold(header[:len(prefix)], prefix) {
		return strings.TrimSpace(header[len(prefix):])
	}
	return ""
}
