// Package auth 负责用固定凭据换取 catalog API 的 bearer token。
package auth

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// ErrTokenUnavailable 表示本次没有拿到 token（非 200、传输错误或响应缺字段）。
var ErrTokenUnavailable = errors.New("access token unavailable")

// StatusError 是 token 端点返回了非 200 的响应。
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("token endpoint returned HTTP %d: %s", e.StatusCode, e.Body)
}

// 错误 body 只截取前面一小段。
const maxErrBody = 512

// okOnly 只放行 200：其它状态码（包括 201/202/203 等 2xx）在 x/oauth2 解析 body 之前就变成错误。
type okOnly struct {
	base http.RoundTripper
}

func (t okOnly) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.base.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrBody))
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	return resp, nil
}

// Provider 通过 client-credentials 授权换取 access token。
//
// 不缓存、不检查过期：每次 Acquire 都是一次新的 token 请求，何时刷新由调用方决定。
type Provider struct {
	TokenURL     string
	ClientID     string
	ClientSecret string

	// HTTPClient 为空时使用 http.DefaultClient。
	HTTPClient *http.Client

	calls atomic.Int64
}

// Acquire 请求一个新的 access token。
//
// 凭据放在表单 body 中（grant_type=client_credentials&client_id=...&client_secret=...）。
// 失败时记录日志并返回包裹 ErrTokenUnavailable 的错误，不会返回 token。
func (p *Provider) Acquire(ctx context.Context) (string, error) {
	p.calls.Add(1)

	cfg := clientcredentials.Config{
		ClientID:     p.ClientID,
		ClientSecret: p.ClientSecret,
		TokenURL:     p.TokenURL,
		AuthStyle:    oauth2.AuthStyleInParams,
	}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, p.tokenClient())

	tok, err := cfg.Token(ctx)
	if err != nil {
		entry := log.WithField("token_url", p.TokenURL)
		var se *StatusError
		if errors.As(err, &se) {
			entry = entry.WithField("status", se.StatusCode)
		}
		entry.WithError(err).Error("获取 access token 失败")
		return "", fmt.Errorf("%w: %w", ErrTokenUnavailable, err)
	}
	if tok.AccessToken == "" {
		log.WithField("token_url", p.TokenURL).Error("token 响应缺少 access_token")
		return "", ErrTokenUnavailable
	}

	log.Debug("access token 获取成功")
	return tok.AccessToken, nil
}

// tokenClient 复制 HTTPClient（保留超时/代理），只给 token 请求套上 okOnly。
func (p *Provider) tokenClient() *http.Client {
	cl := http.Client{}
	if p.HTTPClient != nil {
		cl = *p.HTTPClient
	}
	base := cl.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	cl.Transport = okOnly{base: base}
	return &cl
}

// Calls 返回 Acquire 被调用的次数（含失败）。
func (p *Provider) Calls() int {
	return int(p.calls.Load())
}
