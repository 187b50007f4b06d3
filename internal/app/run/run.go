package run

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/John-Robertt/podstats/internal/aggregate"
	"github.com/John-Robertt/podstats/internal/catalog"
	"github.com/John-Robertt/podstats/internal/config"
	"github.com/John-Robertt/podstats/internal/domain"
	"github.com/John-Robertt/podstats/internal/rating"
)

// TokenSource 换取 bearer token；每次调用都是一次新的请求。
type TokenSource interface {
	Acquire(ctx context.Context) (string, error)
}

// Catalog 是流水线用到的三个只读端点。
type Catalog interface {
	SearchShows(ctx context.Context, query, token string, exclude map[domain.ShowID]struct{}, offset int) ([]domain.ShowID, error)
	GetShowDetail(ctx context.Context, id domain.ShowID, token string) (*domain.ShowDetail, error)
	GetEpisodes(ctx context.Context, id domain.ShowID, token string, limit int) ([]domain.Episode, error)
}

// Sink 接收完整的有序结果集（含占位）。
type Sink interface {
	Target() string
	WriteRows(ctx context.Context, rows domain.ResultSet) error
}

// Deps 是一次运行的外部协作者。
type Deps struct {
	Tokens  TokenSource
	Catalog Catalog
	// Ratings 为 nil 时不抓取评分，评分列写哨兵 0。
	Ratings rating.PageRenderer
	Sinks   []Sink
}

type job struct {
	id     domain.ShowID
	source string
}

// Execute 执行一次完整流水线，返回有序结果集与对外稳定的 RunReport。
// 单个节目失败只会产生占位与一条 failed item，不会中断后续节目。
func Execute(ctx context.Context, eff config.EffectiveConfig, deps Deps) (domain.ResultSet, domain.RunReport) {
	return ExecuteWithObserver(ctx, eff, deps, nil)
}

// ExecuteWithObserver 与 Execute 相同，但允许传入 Observer 以输出进度/阶段信息（由上层决定是否启用）。
func ExecuteWithObserver(ctx context.Context, eff config.EffectiveConfig, deps Deps, obs Observer) (domain.ResultSet, domain.RunReport) {
	if obs == nil {
		obs = nopObserver{}
	}
	obs.OnStart(eff)

	rr := domain.RunReport{
		StartedAt: time.Now().UTC(),
		SeedCount: len(eff.ShowIDs),
		Items:     make([]domain.ItemResult, 0, len(eff.ShowIDs)),
	}
	rs := make(domain.ResultSet, 0, len(eff.ShowIDs))

	tokStarted := time.Now()
	token, err := deps.Tokens.Acquire(ctx)
	obs.OnPhaseDone(PhaseToken, map[string]any{"ok": err == nil}, time.Since(tokStarted))

	if err != nil {
		// 拿不到初始 token：不请求任何节目，但仍然写出（只有表头的）结果。
		rr.Items = append(rr.Items, syntheticFailed(domain.ErrCodeTokenFailed,
			fmt.Sprintf("获取 access token 失败，跳过全部 %d 个节目：%v", len(eff.ShowIDs), err)))
	} else {
		rs = process(ctx, eff, deps, obs, token, &rr)
	}

	writeSinks(ctx, deps.Sinks, rs, obs, &rr)

	rr.FinishedAt = time.Now().UTC()
	rr.Finalize()
	return rs, rr
}

func process(ctx context.Context, eff config.EffectiveConfig, deps Deps, obs Observer, token string, rr *domain.RunReport) domain.ResultSet {
	jobs := make([]job, 0, len(eff.ShowIDs))
	for _, id := range eff.ShowIDs {
		jobs = append(jobs, job{id: id, source: domain.SourceSeed})
	}

	if eff.SearchEnabled {
		searchStarted := time.Now()
		extra := SearchExtra(ctx, deps.Catalog, eff.SearchQuery, token, eff.ShowIDs, eff.SearchOffsets)
		rr.ExtraCount = len(extra)
		obs.OnPhaseDone(PhaseSearch, map[string]any{
			"query":   eff.SearchQuery,
			"seeds":   len(eff.ShowIDs),
			"extra":   len(extra),
			"process": eff.ProcessExtra,
		}, time.Since(searchStarted))

		if eff.ProcessExtra {
			for _, id := range extra {
				jobs = append(jobs, job{id: id, source: domain.SourceExtra})
			}
		}
	}

	obs.OnPhaseDone(PhaseProcess, map[string]any{"total": len(jobs)}, 0)

	agg := aggregate.Aggregator{LinkBase: eff.ShowPageBaseURL}
	refreshEvery := eff.RefreshEvery
	if refreshEvery < 1 {
		refreshEvery = config.DefaultRefreshEvery
	}

	rs := make(domain.ResultSet, 0, len(jobs))
	for i, j := range jobs {
		if ctx.Err() != nil {
			rr.Items = append(rr.Items, syntheticFailed(domain.ErrCodeCanceled,
				fmt.Sprintf("运行被取消，剩余 %d 个节目未处理", len(jobs)-i)))
			break
		}

		oneStarted := time.Now()
		row, res := processOne(ctx, eff, deps, agg, j, token)
		rs = append(rs, row)
		rr.Items = append(rr.Items, res)
		obs.OnItemDone(i+1, len(jobs), j.id, res, time.Since(oneStarted))

		// 每处理完 refreshEvery 个节目就换一次 token（不检查过期）。
		if (i+1)%refreshEvery == 0 {
			refreshStarted := time.Now()
			rr.TokenRefreshes++
			next, err := deps.Tokens.Acquire(ctx)
			if err != nil {
				log.WithError(err).WithField("after", i+1).Warn("刷新 access token 失败，继续使用旧 token")
			} else {
				token = next
			}
			obs.OnPhaseDone(PhaseRefresh, map[string]any{
				"after": i + 1,
				"ok":    err == nil,
			}, time.Since(refreshStarted))
		}
	}
	return rs
}

func processOne(ctx context.Context, eff config.EffectiveConfig, deps Deps, agg aggregate.Aggregator, j job, token string) (*domain.ShowRow, domain.ItemResult) {
	res := domain.ItemResult{
		ShowID: string(j.id),
		Source: j.source,
		Status: domain.StatusFailed, // 成功时覆盖
	}

	detail, err := deps.Catalog.GetShowDetail(ctx, j.id, token)
	if err != nil || detail == nil {
		res.ErrorCode = domain.ErrCodeDetailFailed
		res.ErrorMsg = humanizeFetchError("获取节目详情", err)
		return nil, res
	}
	res.Name = detail.Name

	episodes, err := deps.Catalog.GetEpisodes(ctx, j.id, token, eff.EpisodeLimit)
	if err != nil {
		res.ErrorCode = domain.ErrCodeEpisodesFailed
		res.ErrorMsg = humanizeFetchError("获取单集列表", err)
		return nil, res
	}

	row, err := agg.Aggregate(j.id, detail, episodes, domain.DisabledRating())
	if err != nil {
		if errors.Is(err, aggregate.ErrEmptyEpisodeList) {
			res.ErrorCode = domain.ErrCodeEmptyEpisodes
			res.ErrorMsg = "节目没有任何单集，无法计算平均时长"
		} else {
			res.ErrorCode = domain.ErrCodeDetailFailed
			res.ErrorMsg = err.Error()
		}
		log.WithField("show_id", j.id).Warn(res.ErrorMsg)
		return nil, res
	}

	// 评分放在聚合之后：失败的节目不必等待页面渲染。
	if deps.Ratings != nil {
		row.Rating = rating.Scrape(ctx, deps.Ratings, j.id)
	}

	res.Status = domain.StatusProcessed
	return row, res
}

// SearchExtra 用 query 在各 offset 上搜索，返回不在 seeds 中、且彼此不重复的节目 ID。
// 某一页失败只会让该页贡献为空。
func SearchExtra(ctx context.Context, cat Catalog, query, token string, seeds []domain.ShowID, offsets []int) []domain.ShowID {
	exclude := make(map[domain.ShowID]struct{}, len(seeds))
	for _, id := range seeds {
		exclude[id] = struct{}{}
	}

	out := []domain.ShowID{}
	for _, off := range offsets {
		ids, _ := cat.SearchShows(ctx, query, token, exclude, off)
		for _, id := range ids {
			if _, dup := exclude[id]; dup {
				continue
			}
			exclude[id] = struct{}{}
			out = append(out, id)
		}
	}
	return out
}

func writeSinks(ctx context.Context, sinks []Sink, rs domain.ResultSet, obs Observer, rr *domain.RunReport) {
	// 取消后仍要把已收集的行写出去。
	wctx := context.WithoutCancel(ctx)
	rows := len(rs.Rows())
	for _, s := range sinks {
		started := time.Now()
		err := s.WriteRows(wctx, rs)
		obs.OnPhaseDone(PhaseWrite, map[string]any{
			"target": s.Target(),
			"rows":   rows,
			"ok":     err == nil,
		}, time.Since(started))
		if err != nil {
			log.WithError(err).WithField("target", s.Target()).Error("写出结果失败")
			rr.Items = append(rr.Items, syntheticFailed(domain.ErrCodeWriteFailed,
				fmt.Sprintf("写出 %s 失败：%v", s.Target(), err)))
			continue
		}
		rr.Outputs = append(rr.Outputs, s.Target())
	}
}

func syntheticFailed(code, msg string) domain.ItemResult {
	return domain.ItemResult{
		Status:    domain.StatusFailed,
		ErrorCode: code,
		ErrorMsg:  msg,
	}
}

func humanizeFetchError(what string, err error) string {
	if err == nil {
		return what + "失败：响应为空"
	}

	var hs *catalog.HTTPStatusError
	if errors.As(err, &hs) {
		switch hs.StatusCode {
		case http.StatusUnauthorized:
			return fmt.Sprintf("%s返回 HTTP 401（token 无效或已过期）。", what)
		case http.StatusNotFound, http.StatusBadRequest:
			return fmt.Sprintf("%s返回 HTTP %d（节目 ID 可能不存在或已下架）。", what, hs.StatusCode)
		case http.StatusTooManyRequests:
			return fmt.Sprintf("%s返回 HTTP 429（触发限流）。", what)
		default:
			return fmt.Sprintf("%s返回 HTTP %d。", what, hs.StatusCode)
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Sprintf("%s超时。建议检查网络/代理，或调大 timeout_seconds。", what)
	}
	if errors.Is(err, context.Canceled) {
		return fmt.Sprintf("%s被取消。", what)
	}
	return fmt.Sprintf("%s失败：%v", what, err)
}
