// Package rating 从节目公开页面抓取评分与评分人数。
//
// 页面上的 class 名由站点的样式工具链生成，改版后随时会失效；
// 调用方必须容忍本包整体失败（失败时返回 N/A 对）。
package rating

import (
	"context"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/John-Robertt/podstats/internal/domain"
)

const (
	selContainer = ".urKYEVZPj2k0hwDT1qzt"
	selAverage   = ".Type__TypeElement-sc-goli3j-0.eoWRdH"
	selRaters    = ".Type__TypeElement-sc-goli3j-0.ieTwfQ"
)

// PageRenderer 返回节目页面渲染完成后的 HTML。
type PageRenderer interface {
	RenderShowPage(ctx context.Context, id domain.ShowID) (string, error)
}

// Scrape 渲染页面并解析评分；任何失败都记日志并返回 (N/A, N/A)。
func Scrape(ctx context.Context, r PageRenderer, id domain.ShowID) domain.Rating {
	html, err := r.RenderShowPage(ctx, id)
	if err != nil {
		log.WithError(err).WithField("show_id", id).Warn("渲染节目页面失败")
		return domain.UnavailableRating()
	}
	rt, err := Parse(html)
	if err != nil {
		log.WithError(err).WithField("show_id", id).Warn("抓取评分失败")
		return domain.UnavailableRating()
	}
	log.WithFields(log.Fields{
		"show_id": id,
		"rating":  rt.Average,
		"raters":  rt.Raters,
	}).Debug("评分抓取成功")
	return rt
}

// Parse 从渲染后的 HTML 提取评分与评分人数（人数去掉外层括号）。
func Parse(html string) (domain.Rating, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return domain.Rating{}, errors.Wrap(err, "解析 HTML 失败")
	}

	box := doc.Find(selContainer).First()
	if box.Length() == 0 {
		return domain.Rating{}, errors.Errorf("未找到评分容器 %s", selContainer)
	}
	avg := box.Find(selAverage).First()
	if avg.Length() == 0 {
		return domain.Rating{}, errors.Errorf("未找到评分元素 %s", selAverage)
	}
	raters := box.Find(selRaters).First()
	if raters.Length() == 0 {
		return domain.Rating{}, errors.Errorf("未找到评分人数元素 %s", selRaters)
	}

	return domain.Rating{
		Average: strings.TrimSpace(avg.Text()),
		Raters:  strings.Trim(strings.TrimSpace(raters.Text()), "()"),
	}, nil
}
