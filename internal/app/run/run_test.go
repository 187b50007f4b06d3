package run

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/John-Robertt/podstats/internal/catalog"
	"github.com/John-Robertt/podstats/internal/config"
	"github.com/John-Robertt/podstats/internal/domain"
)

type fakeTokens struct {
	calls  int
	failOn map[int]bool
}

func (f *fakeTokens) Acquire(ctx context.Context) (string, error) {
	f.calls++
	if f.failOn[f.calls] {
		return "", errors.New("token endpoint down")
	}
	return fmt.Sprintf("tok-%d", f.calls), nil
}

type fakeCatalog struct {
	failDetail   map[domain.ShowID]bool
	failEpisodes map[domain.ShowID]bool
	emptyEps     map[domain.ShowID]bool
	pages        map[int][]domain.ShowID

	detailCalls []domain.ShowID
	tokens      []string
}

func (c *fakeCatalog) SearchShows(ctx context.Context, query, token string, exclude map[domain.ShowID]struct{}, offset int) ([]domain.ShowID, error) {
	out := []domain.ShowID{}
	for _, id := range c.pages[offset] {
		if _, ok := exclude[id]; ok {
			continue
		}
		out = append(out, id)
	}
	return out, nil
}

func (c *fakeCatalog) GetShowDetail(ctx context.Context, id domain.ShowID, token string) (*domain.ShowDetail, error) {
	c.detailCalls = append(c.detailCalls, id)
	c.tokens = append(c.tokens, token)
	if c.failDetail[id] {
		return nil, &catalog.HTTPStatusError{StatusCode: http.StatusNotFound}
	}
	return &domain.ShowDetail{ID: id, Name: "show " + string(id), Languages: []string{"en"}}, nil
}

func (c *fakeCatalog) GetEpisodes(ctx context.Context, id domain.ShowID, token string, limit int) ([]domain.Episode, error) {
	if c.failEpisodes[id] {
		return nil, errors.New("connection reset")
	}
	if c.emptyEps[id] {
		return []domain.Episode{}, nil
	}
	return []domain.Episode{
		{DurationMS: 60000, ReleaseDate: "2024-01-10", ReleaseDatePrecision: domain.PrecisionDay},
		{DurationMS: 180000, ReleaseDate: "2024-01-05", ReleaseDatePrecision: domain.PrecisionDay},
	}, nil
}

type memSink struct {
	target string
	err    error
	got    []domain.ResultSet
}

func (s *memSink) Target() string { return s.target }

func (s *memSink) WriteRows(ctx context.Context, rows domain.ResultSet) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	s.got = append(s.got, rows)
	return s.err
}

type fakeRenderer struct{ calls int }

func (r *fakeRenderer) RenderShowPage(ctx context.Context, id domain.ShowID) (string, error) {
	r.calls++
	return `<div class="urKYEVZPj2k0hwDT1qzt"><span class="Type__TypeElement-sc-goli3j-0 eoWRdH">4.5</span><span class="Type__TypeElement-sc-goli3j-0 ieTwfQ">(12)</span></div>`, nil
}

func seedIDs(n int) []domain.ShowID {
	out := make([]domain.ShowID, 0, n)
	for i := 1; i <= n; i++ {
		out = append(out, domain.ShowID(fmt.Sprintf("s%02d", i)))
	}
	return out
}

func baseEff(ids ...domain.ShowID) config.EffectiveConfig {
	return config.EffectiveConfig{
		ShowIDs:         ids,
		EpisodeLimit:    10,
		RefreshEvery:    20,
		ShowPageBaseURL: "https://open.spotify.com/show/",
	}
}

func TestExecute_RefreshEvery20_Over41Shows(t *testing.T) {
	tokens := &fakeTokens{}
	cat := &fakeCatalog{}
	sink := &memSink{target: "mem"}

	rs, rr := Execute(context.Background(), baseEff(seedIDs(41)...), Deps{
		Tokens:  tokens,
		Catalog: cat,
		Sinks:   []Sink{sink},
	})

	if tokens.calls != 3 {
		t.Fatalf("期望 token 调用 3 次（初始 + 第 20、40 个之后），实际 %d", tokens.calls)
	}
	if rr.TokenRefreshes != 2 {
		t.Fatalf("期望刷新 2 次，实际 %d", rr.TokenRefreshes)
	}
	// 第 1-20 个用 tok-1，第 21-40 个用 tok-2，第 41 个用 tok-3。
	for i, tok := range cat.tokens {
		want := fmt.Sprintf("tok-%d", i/20+1)
		if tok != want {
			t.Fatalf("第 %d 个节目使用了 %q，期望 %q", i+1, tok, want)
		}
	}
	if len(rs) != 41 || len(rs.Rows()) != 41 {
		t.Fatalf("期望 41 行，实际 %d/%d", len(rs), len(rs.Rows()))
	}
	if rr.Summary.Processed != 41 || rr.Summary.Failed != 0 {
		t.Fatalf("summary 不正确：%+v", rr.Summary)
	}
	if len(sink.got) != 1 || len(rr.Outputs) != 1 || rr.Outputs[0] != "mem" {
		t.Fatalf("sink 应被调用一次：%d %v", len(sink.got), rr.Outputs)
	}
}

func TestExecute_FailedShowsDoNotAbort(t *testing.T) {
	cat := &fakeCatalog{
		failDetail:   map[domain.ShowID]bool{"bad-detail": true},
		failEpisodes: map[domain.ShowID]bool{"bad-eps": true},
		emptyEps:     map[domain.ShowID]bool{"empty": true},
	}
	sink := &memSink{target: "mem"}

	rs, rr := Execute(context.Background(), baseEff("bad-detail", "a", "bad-eps", "empty", "b"), Deps{
		Tokens:  &fakeTokens{},
		Catalog: cat,
		Sinks:   []Sink{sink},
	})

	if len(rs) != 5 {
		t.Fatalf("结果集应为每个节目保留位置，实际 %d", len(rs))
	}
	if rs[0] != nil || rs[2] != nil || rs[3] != nil {
		t.Fatalf("失败节目应为占位 nil：%v", rs)
	}
	if rs[1] == nil || rs[4] == nil || rs[4].Name != "show b" {
		t.Fatalf("后续节目应继续处理：%v", rs)
	}
	if rs[1].AvgEpisodeMinutes != 2 || rs[1].AvgReleaseGapDays.String() != "5.0" {
		t.Fatalf("聚合结果不正确：%+v", rs[1])
	}
	if rs[1].Rating != domain.DisabledRating() {
		t.Fatalf("未启用评分抓取时应为哨兵 0：%+v", rs[1].Rating)
	}

	wantCodes := []string{domain.ErrCodeDetailFailed, "", domain.ErrCodeEpisodesFailed, domain.ErrCodeEmptyEpisodes, ""}
	for i, it := range rr.Items {
		if it.ErrorCode != wantCodes[i] {
			t.Fatalf("item[%d] error_code=%q，期望 %q", i, it.ErrorCode, wantCodes[i])
		}
	}
	if rr.Summary.Processed != 2 || rr.Summary.Failed != 3 || rr.Summary.Rows != 2 {
		t.Fatalf("summary 不正确：%+v", rr.Summary)
	}
	if rr.Items[0].ErrorMsg == "" || rr.Items[3].Name != "show empty" {
		t.Fatalf("失败条目应带错误信息与节目名：%+v", rr.Items)
	}
}

func TestExecute_InitialTokenFailure_StillWrites(t *testing.T) {
	cat := &fakeCatalog{}
	sink := &memSink{target: "mem"}

	rs, rr := Execute(context.Background(), baseEff("a", "b"), Deps{
		Tokens:  &fakeTokens{failOn: map[int]bool{1: true}},
		Catalog: cat,
		Sinks:   []Sink{sink},
	})

	if len(cat.detailCalls) != 0 {
		t.Fatalf("没有 token 时不应请求节目：%v", cat.detailCalls)
	}
	if len(rs) != 0 {
		t.Fatalf("期望空结果集，实际 %d", len(rs))
	}
	if len(sink.got) != 1 {
		t.Fatalf("仍应写出结果（只有表头）")
	}
	if len(rr.Items) != 1 || rr.Items[0].ErrorCode != domain.ErrCodeTokenFailed {
		t.Fatalf("期望一条 token_failed：%+v", rr.Items)
	}
}

func TestExecute_RefreshFailureKeepsOldToken(t *testing.T) {
	cat := &fakeCatalog{}
	eff := baseEff(seedIDs(5)...)
	eff.RefreshEvery = 2

	_, rr := Execute(context.Background(), eff, Deps{
		Tokens:  &fakeTokens{failOn: map[int]bool{2: true}},
		Catalog: cat,
	})

	want := []string{"tok-1", "tok-1", "tok-1", "tok-1", "tok-3"}
	for i := range want {
		if cat.tokens[i] != want[i] {
			t.Fatalf("token 序列 %v，期望 %v", cat.tokens, want)
		}
	}
	if rr.TokenRefreshes != 2 {
		t.Fatalf("期望刷新 2 次，实际 %d", rr.TokenRefreshes)
	}
}

func TestExecute_SearchExtraAndProcessExtra(t *testing.T) {
	cat := &fakeCatalog{pages: map[int][]domain.ShowID{
		0:  {"a", "x", "y"},
		40: {"y", "z", "b"},
	}}
	eff := baseEff("a", "b")
	eff.SearchEnabled = true
	eff.SearchQuery = "product management"
	eff.SearchOffsets = []int{0, 40}

	_, rr := Execute(context.Background(), eff, Deps{Tokens: &fakeTokens{}, Catalog: cat})
	if rr.ExtraCount != 3 {
		t.Fatalf("期望 3 个 extra（x y z），实际 %d", rr.ExtraCount)
	}
	if len(cat.detailCalls) != 2 {
		t.Fatalf("未开启 process_extra 时只处理种子：%v", cat.detailCalls)
	}

	cat.detailCalls = nil
	eff.ProcessExtra = true
	_, rr = Execute(context.Background(), eff, Deps{Tokens: &fakeTokens{}, Catalog: cat})
	want := []domain.ShowID{"a", "b", "x", "y", "z"}
	if fmt.Sprint(cat.detailCalls) != fmt.Sprint(want) {
		t.Fatalf("处理顺序 %v，期望 %v", cat.detailCalls, want)
	}
	if rr.Items[4].Source != domain.SourceExtra || rr.Items[0].Source != domain.SourceSeed {
		t.Fatalf("source 标记不正确：%+v", rr.Items)
	}
}

func TestSearchExtra_SeedsKeepDuplicates(t *testing.T) {
	cat := &fakeCatalog{pages: map[int][]domain.ShowID{0: {"a", "c", "c"}}}
	got := SearchExtra(context.Background(), cat, "q", "tok", []domain.ShowID{"a", "a"}, []int{0})
	if fmt.Sprint(got) != "[c]" {
		t.Fatalf("期望 [c]，实际 %v", got)
	}
}

func TestExecute_SinkFailure(t *testing.T) {
	bad := &memSink{target: "bad.db", err: errors.New("disk full")}
	good := &memSink{target: "podcasts.csv"}

	_, rr := Execute(context.Background(), baseEff("a"), Deps{
		Tokens:  &fakeTokens{},
		Catalog: &fakeCatalog{},
		Sinks:   []Sink{bad, good},
	})

	if len(rr.Outputs) != 1 || rr.Outputs[0] != "podcasts.csv" {
		t.Fatalf("只应记录成功的输出：%v", rr.Outputs)
	}
	last := rr.Items[len(rr.Items)-1]
	if last.ErrorCode != domain.ErrCodeWriteFailed {
		t.Fatalf("期望 write_failed，实际 %+v", last)
	}
	if rr.Summary.Failed != 1 || rr.Summary.Rows != 1 {
		t.Fatalf("summary 不正确：%+v", rr.Summary)
	}
}

func TestExecute_RatingsOnlyForAggregatedShows(t *testing.T) {
	r := &fakeRenderer{}
	cat := &fakeCatalog{failDetail: map[domain.ShowID]bool{"bad": true}}

	rs, _ := Execute(context.Background(), baseEff("bad", "a"), Deps{
		Tokens:  &fakeTokens{},
		Catalog: cat,
		Ratings: r,
	})

	if r.calls != 1 {
		t.Fatalf("失败节目不应渲染页面：calls=%d", r.calls)
	}
	if rs[1].Rating != (domain.Rating{Average: "4.5", Raters: "12"}) {
		t.Fatalf("评分不正确：%+v", rs[1].Rating)
	}
}

func TestExecute_CanceledStillWrites(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	sink := &memSink{target: "mem"}

	_, rr := Execute(ctx, baseEff("a", "b"), Deps{
		Tokens:  &fakeTokens{},
		Catalog: &fakeCatalog{},
		Sinks:   []Sink{sink},
	})

	if len(sink.got) != 1 {
		t.Fatalf("取消后仍应写出已收集的结果")
	}
	if rr.Items[0].ErrorCode != domain.ErrCodeCanceled {
		t.Fatalf("期望 canceled，实际 %+v", rr.Items)
	}
}

func TestHumanizeFetchError(t *testing.T) {
	msg := humanizeFetchError("获取节目详情", &catalog.HTTPStatusError{StatusCode: 401})
	if msg != "获取节目详情返回 HTTP 401（token 无效或已过期）。" {
		t.Fatalf("401 提示不正确：%q", msg)
	}
	if got := humanizeFetchError("x", context.DeadlineExceeded); got == "" {
		t.Fatalf("期望非空提示")
	}
}
