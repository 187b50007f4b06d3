package rating

import (
	"context"
	"strings"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/John-Robertt/podstats/internal/domain"
)

// DefaultWait 是导航后等待前端渲染的固定时长。
const DefaultWait = 10 * time.Second

const disableCSSScript = `for (let i = 0; i < document.styleSheets.length; i++) {
	document.styleSheets[i].disabled = true;
}`

// Browser 持有一个无头浏览器会话，整个运行期间复用，结束时必须 Close。
type Browser struct {
	PageBaseURL string
	Wait        time.Duration

	ctx         context.Context
	cancel      context.CancelFunc
	cancelAlloc context.CancelFunc
}

// NewBrowser 启动无头浏览器（禁用图片）；proxyURL 非空时走代理。
func NewBrowser(ctx context.Context, pageBaseURL, proxyURL string, wait time.Duration) (*Browser, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("blink-settings", "imagesEnabled=false"),
		chromedp.UserAgent("Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/122.0.0.0 Safari/537.36"),
	)
	if strings.TrimSpace(proxyURL) != "" {
		opts = append(opts, chromedp.ProxyServer(strings.TrimSpace(proxyURL)))
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(context.WithoutCancel(ctx), opts...)
	bctx, cancel := chromedp.NewContext(allocCtx)

	// 空 Run 会真正拉起浏览器进程，启动失败在这里暴露。
	if err := chromedp.Run(bctx); err != nil {
		cancel()
		cancelAlloc()
		return nil, errors.Wrap(err, "启动无头浏览器失败")
	}
	if wait <= 0 {
		wait = DefaultWait
	}
	return &Browser{
		PageBaseURL: pageBaseURL,
		Wait:        wait,
		ctx:         bctx,
		cancel:      cancel,
		cancelAlloc: cancelAlloc,
	}, nil
}

// RenderShowPage 打开节目页面，禁用样式表，固定等待后返回整页 HTML。
//
// 每次在新 tab 中渲染，tab 用完即关；ctx 取消会中止本次渲染。
func (b *Browser) RenderShowPage(ctx context.Context, id domain.ShowID) (string, error) {
	if b == nil || b.ctx == nil {
		return "", errors.New("browser 未启动")
	}
	tabCtx, cancel := chromedp.NewContext(b.ctx)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	var html string
	err := chromedp.Run(tabCtx,
		chromedp.Navigate(b.PageBaseURL+string(id)),
		chromedp.Evaluate(disableCSSScript, nil),
		chromedp.Sleep(b.Wait),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", errors.Wrapf(err, "渲染 %s 失败", id)
	}
	return html, nil
}

// Close 关闭浏览器进程；可重复调用。
func (b *Browser) Close() {
	if b == nil || b.cancel == nil {
		return
	}
	b.cancel()
	b.cancelAlloc()
	b.cancel = nil
	log.Debug("无头浏览器已关闭")
}
