package httpx

import (
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// UserAgent 是所有出站请求的固定 UA。
const UserAgent = "podstats/1.0 (+https://github.com/John-Robertt/podstats)"

// Transport 给请求补默认头，并在 debug 级别记录每次往返。
//
// 不做重试：每次调用就是一次网络请求，失败直接交给调用方。
type Transport struct {
	Base http.RoundTripper

	// Accept 非空时作为默认 Accept 头。
	Accept string
}

func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req == nil {
		return nil, errors.New("nil request")
	}
	if t.Base == nil {
		return nil, errors.New("nil base transport")
	}

	// Clone 会复制 Header 等，避免在 RoundTripper 内部“污染”调用方的 request。
	r := req.Clone(req.Context())
	if r.Header.Get("User-Agent") == "" {
		r.Header.Set("User-Agent", UserAgent)
	}
	if t.Accept != "" && r.Header.Get("Accept") == "" {
		r.Header.Set("Accept", t.Accept)
	}

	start := time.Now()
	resp, err := t.Base.RoundTrip(r)
	entry := log.WithFields(log.Fields{
		"method": r.Method,
		"url":    redact(r.URL),
		"dur":    time.Since(start).Round(time.Millisecond),
	})
	if err != nil {
		entry.WithError(err).Debug("请求失败")
		return nil, err
	}
	entry.WithField("status", resp.StatusCode).Debug("请求完成")
	return resp, nil
}

// redact 只保留 scheme/host/path，避免把查询参数写进日志。
func redact(u *url.URL) string {
	if u == nil {
		return ""
	}
	return u.Scheme + "://" + u.Host + u.Path
}

// NewAPIClient 构造访问 token 端点与 catalog API 的 HTTP client。
//
// 规则：
// - proxyURL 非空：所有请求走该代理
// - timeout 为整次请求的上限；0 表示不设上限
// - 固定 UA，默认 Accept: application/json
func NewAPIClient(proxyURL string, timeout time.Duration) (*http.Client, error) {
	base := &http.Transport{
		Proxy:                 nil,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 15 * time.Second,
		MaxIdleConnsPerHost:   4,
	}

	proxyURL = strings.TrimSpace(proxyURL)
	if proxyURL != "" {
		u, err := url.Parse(proxyURL)
		if err != nil {
			return nil, errors.Wrap(err, "解析 proxy.url 失败")
		}
		if u.Scheme == "" || u.Host == "" {
			return nil, errors.Errorf("proxy.url 缺少 scheme 或 host：%q", proxyURL)
		}
		base.Proxy = http.ProxyURL(u)
	}
	if timeout < 0 {
		timeout = 0
	}

	return &http.Client{
		Transport: &Transport{Base: base, Accept: "application/json"},
		Timeout:   timeout,
	}, nil
}
