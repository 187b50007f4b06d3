package rating

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/John-Robertt/podstats/internal/domain"
)

func readFixture(t *testing.T, name string) string {
	t.Helper()
	b, err := os.ReadFile(filepath.Join("testdata", name))
	if err != nil {
		t.Fatalf("读取 fixture 失败：%v", err)
	}
	return string(b)
}

func TestParse_Fixture(t *testing.T) {
	rt, err := Parse(readFixture(t, "show_page.html"))
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	// 容器外的同名元素不应被选中。
	if rt.Average != "4.8" {
		t.Fatalf("期望评分 4.8，实际 %q", rt.Average)
	}
	if rt.Raters != "1,234" {
		t.Fatalf("期望人数 1,234（去掉括号），实际 %q", rt.Raters)
	}
}

func TestParse_MissingElement(t *testing.T) {
	if _, err := Parse(readFixture(t, "no_rating.html")); err == nil {
		t.Fatalf("缺少评分人数元素时期望错误")
	}
	if _, err := Parse("<html><body></body></html>"); err == nil {
		t.Fatalf("缺少容器时期望错误")
	}
}

type fakeRenderer struct {
	html string
	err  error
	ids  []domain.ShowID
}

func (f *fakeRenderer) RenderShowPage(_ context.Context, id domain.ShowID) (string, error) {
	f.ids = append(f.ids, id)
	return f.html, f.err
}

func TestScrape(t *testing.T) {
	ok := &fakeRenderer{html: readFixture(t, "show_page.html")}
	if got := Scrape(context.Background(), ok, "abc"); got != (domain.Rating{Average: "4.8", Raters: "1,234"}) {
		t.Fatalf("抓取结果不正确：%+v", got)
	}
	if len(ok.ids) != 1 || ok.ids[0] != "abc" {
		t.Fatalf("应渲染一次 abc：%v", ok.ids)
	}

	broken := &fakeRenderer{html: readFixture(t, "no_rating.html")}
	if got := Scrape(context.Background(), broken, "abc"); got != domain.UnavailableRating() {
		t.Fatalf("解析失败应返回 N/A 对：%+v", got)
	}

	failing := &fakeRenderer{err: errors.New("timeout")}
	if got := Scrape(context.Background(), failing, "abc"); got != domain.UnavailableRating() {
		t.Fatalf("渲染失败应返回 N/A 对：%+v", got)
	}
}

func TestBrowser_NotStarted(t *testing.T) {
	var b *Browser
	if _, err := b.RenderShowPage(context.Background(), "abc"); err == nil {
		t.Fatalf("未启动的 browser 应返回错误")
	}
	b.Close()
}
