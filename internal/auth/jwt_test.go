package auth

import (
	"errors"
	"testing"
	"time"
)

func TestSignAndVerify(t *testing.T) {
	signer := NewSigner("s3cret", "proxy-1", time.Minute)
	verifier := NewVerifier("s3cret")

	token, err := signer.Token()
	if err != nil {
		t.Fatalf("签发 token 失败: %v", err)
	}
	claims, err := verifier.Verify(token)
	if err != nil {
		t.Fatalf("校验 token 失败: %v", err)
	}
	if claims.Node != "proxy-1" || claims.Issuer != issuer {
		t.Fatalf("claims 不符: %+v", claims)
	}
}

func TestSignerReusesToken(t *testing.T) {
	signer := NewSigner("s3cret", "proxy-1", time.Minute)
	base := time.Now()
	signer.now = func() time.Time { return base }

	first, _ := signer.Token()
	signer.now = func() time.Time { return base.Add(10 * time.Second) }
	second, _ := signer.Token()
	if first != second {
		t.Fatalf("有效期内应复用 token")
	}
	signer.now = func() time.Time { return base.Add(55 * time.Second) }
	third, _ := signer.Token()
	if third == first {
		t.Fatalf("临近过期应重新签发")
	}
}

func TestVerifyRejects(t *testing.T) {
	verifier := NewVerifier("s3cret")
	other, _ := NewSigner("other", "proxy-1", time.Minute).Token()

	if _, err := verifier.Verify(""); !errors.Is(err, ErrMissingToken) {
		t.Fatalf("空 token 应返回 ErrMissingToken，实际 %v", err)
	}
	if _, err := verifier.Verify(other); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("错误密钥应返回 ErrInvalidToken，实际 %v", err)
	}

	expired := NewSigner("s3cret", "proxy-1", time.Minute)
	expired.now = func() time.Time { return time.Now().Add(-time.Hour) }
	stale, _ := expired.Token()
	if _, err := verifier.Verify(stale); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("过期 token 应返回 ErrInvalidToken，实际 %v", err)
	}
}

func TestAnonymousMode(t *testing.T) {
	if NewSigner("", "n", time.Minute) != nil || NewVerifier("  ") != nil {
		t.Fatalf("空密钥应关闭鉴权")
	}
}

func TestBearerToken(t *testing.T) {
	cases := map[string]string{
		"Bearer abc":  "abc",
		"bearer  xyz": "xyz",
		"Basic abc":   "",
		"":            "",
	}
	for header, want := range cases {
		if got := BearerToken(header); got != want {
			t.Fatalf("%q: 期望 %q，实际 %q", header, want, got)
		}
	}
}
