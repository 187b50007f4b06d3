package main

import (
	"fmt"
	"io"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/John-Robertt/podstats/internal/app/run"
	"github.com/John-Robertt/podstats/internal/config"
	"github.com/John-Robertt/podstats/internal/domain"
)

var _ run.Observer = (*progressUI)(nil)

// progressUI 是交互终端下的进度输出。
//
// 过程信息只写到 stderr（或 fallback 到 stdout），不污染 stdout 的 JSON。
// 评分抓取每个节目要等好几秒，所以长时间没有新条目时会定期补一行 keepalive。
type progressUI struct {
	w io.Writer

	mu          sync.Mutex
	startedAt   time.Time
	lastPrinted time.Time

	total   int
	done    int
	ok      int
	fail    int
	current domain.ShowID

	keepaliveThreshold time.Duration
	tickerInterval     time.Duration

	stopCh        chan struct{}
	tickerStarted bool
}

func newProgressUI(w io.Writer) *progressUI {
	return &progressUI{
		w:                  w,
		keepaliveThreshold: 6 * time.Second,
		tickerInterval:     2 * time.Second,
	}
}

func (p *progressUI) OnStart(eff config.EffectiveConfig) {
	now := time.Now()

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.startedAt.IsZero() {
		p.startedAt = now
	}

	fmt.Fprintf(p.w, "[%s] podstats run\n", now.Format("15:04:05"))
	fmt.Fprintln(p.w, "配置（生效）:")
	fmt.Fprintf(p.w, "  seeds: %s\n", humanize.Comma(int64(len(eff.ShowIDs))))
	if eff.SearchEnabled {
		fmt.Fprintf(p.w, "  search: %q offsets=%v limit=%d market=%s process_extra=%s\n",
			truncate(eff.SearchQuery, 60), eff.SearchOffsets, eff.SearchLimit, eff.Market, onOff(eff.ProcessExtra),
		)
	} else {
		fmt.Fprintln(p.w, "  search: off")
	}
	fmt.Fprintf(p.w, "  episodes: %d  refresh_every: %d\n", eff.EpisodeLimit, eff.RefreshEvery)
	fmt.Fprintf(p.w, "  proxy: %s\n", formatProxy(eff.ProxyURL))
	fmt.Fprintf(p.w, "  ratings: %s\n", onOff(eff.ScrapeRatings))

	fmt.Fprintln(p.w, "输出:")
	fmt.Fprintf(p.w, "  csv: %s\n", eff.Output)
	if eff.SQLite != "" {
		fmt.Fprintf(p.w, "  sqlite: %s\n", eff.SQLite)
	}
	fmt.Fprintln(p.w)

	p.lastPrinted = time.Now()
}

func (p *progressUI) OnPhaseDone(name string, fields map[string]any, dur time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch name {
	case run.PhaseToken:
		fmt.Fprintf(p.w, "token: %s (%s)\n", okFail(boolField(fields, "ok")), formatShortDuration(dur))
	case run.PhaseSearch:
		fmt.Fprintf(p.w, "搜索: seeds=%d extra=%d (%s)\n",
			intField(fields, "seeds"), intField(fields, "extra"), formatShortDuration(dur),
		)
	case run.PhaseProcess:
		p.total = intField(fields, "total")
		fmt.Fprintf(p.w, "处理: total=%s\n\n", humanize.Comma(int64(p.total)))
		if p.total > 0 && !p.tickerStarted {
			p.startTickerLocked()
		}
	case run.PhaseRefresh:
		fmt.Fprintf(p.w, "token 刷新: after=%d %s (%s)\n",
			intField(fields, "after"), okFail(boolField(fields, "ok")), formatShortDuration(dur),
		)
	case run.PhaseWrite:
		target, _ := fields["target"].(string)
		fmt.Fprintf(p.w, "写出: %s rows=%d %s (%s)\n",
			target, intField(fields, "rows"), okFail(boolField(fields, "ok")), formatShortDuration(dur),
		)
	default:
		fmt.Fprintf(p.w, "%s (%s)\n", name, formatShortDuration(dur))
	}

	p.lastPrinted = time.Now()
}

func (p *progressUI) OnItemDone(idx, total int, id domain.ShowID, res domain.ItemResult, dur time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.done = idx
	p.total = total
	p.current = id

	switch res.Status {
	case domain.StatusProcessed:
		p.ok++
		fmt.Fprintf(p.w, "[%d/%d] %s OK %s (%s)\n",
			idx, total, id, truncate(res.Name, 60), formatShortDuration(dur),
		)
	default:
		p.fail++
		fmt.Fprintf(p.w, "[%d/%d] %s FAIL %s: %s (%s)\n",
			idx, total, id, res.ErrorCode, truncate(res.ErrorMsg, 160), formatShortDuration(dur),
		)
	}

	p.lastPrinted = time.Now()

	// 最后一条完成：停止 ticker，避免结束打印后又冒出 keepalive。
	if p.tickerStarted && p.done >= p.total {
		close(p.stopCh)
		p.tickerStarted = false
	}
}

func (p *progressUI) OnProgress(done, total, ok, fail int, current domain.ShowID, elapsed time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.printProgressLocked(done, total, ok, fail, current, elapsed)
}

// Stop 停止 keepalive；可重复调用。
func (p *progressUI) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.tickerStarted {
		close(p.stopCh)
		p.tickerStarted = false
	}
}

func (p *progressUI) printProgressLocked(done, total, ok, fail int, current domain.ShowID, elapsed time.Duration) {
	fmt.Fprintf(p.w, "进度: done=%d/%d ok=%d fail=%d last=%s elapsed=%s\n",
		done, total, ok, fail, current, formatElapsed(elapsed),
	)
	p.lastPrinted = time.Now()
}

func (p *progressUI) startTickerLocked() {
	p.stopCh = make(chan struct{})
	p.tickerStarted = true
	stopCh := p.stopCh

	interval := p.tickerInterval
	if interval <= 0 {
		interval = 2 * time.Second
	}
	threshold := p.keepaliveThreshold
	if threshold <= 0 {
		threshold = 6 * time.Second
	}

	go func() {
		t := time.NewTicker(interval)
		defer t.Stop()

		for {
			select {
			case <-t.C:
				p.mu.Lock()
				if p.total > 0 && p.done >= p.total {
					p.mu.Unlock()
					return
				}
				if time.Since(p.lastPrinted) > threshold {
					p.printProgressLocked(p.done, p.total, p.ok, p.fail, p.current, time.Since(p.startedAt))
				}
				p.mu.Unlock()
			case <-stopCh:
				return
			}
		}
	}()
}

func onOff(v bool) string {
	if v {
		return "on"
	}
	return "off"
}

func okFail(v bool) string {
	if v {
		return "ok"
	}
	return "failed"
}

func formatProxy(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "off"
	}
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "on (" + truncate(raw, 120) + ")"
	}
	auth := "off"
	if u.User != nil {
		auth = "on"
	}
	return fmt.Sprintf("on (%s://%s, auth=%s)", u.Scheme, u.Host, auth)
}

func truncate(s string, max int) string {
	s = strings.TrimSpace(s)
	if max <= 0 || len(s) <= max {
		return s
	}
	if max <= 3 {
		return s[:max]
	}
	return s[:max-3] + "..."
}

func formatShortDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	return fmt.Sprintf("%.1fs", d.Seconds())
}

func formatElapsed(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	sec := int(d.Seconds())
	h := sec / 3600
	m := (sec % 3600) / 60
	s := sec % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}

func boolField(fields map[string]any, key string) bool {
	v, _ := fields[key].(bool)
	return v
}

func intField(fields map[string]any, key string) int {
	if fields == nil {
		return 0
	}
	switch x := fields[key].(type) {
	case int:
		return x
	case int32:
		return int(x)
	case int64:
		return int(x)
	default:
		return 0
	}
}
