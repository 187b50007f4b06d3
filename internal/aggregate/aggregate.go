// Package aggregate 把节目详情与单集列表聚合为一行输出。
package aggregate

import (
	"sort"
	"strings"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/John-Robertt/podstats/internal/domain"
)

// DefaultLinkBase 是节目公开页面的前缀。
const DefaultLinkBase = "https://open.spotify.com/show/"

// ErrEmptyEpisodeList 表示没有任何单集，平均时长无从计算。
var ErrEmptyEpisodeList = errors.New("empty episode list")

const dateLayout = "2006-01-02"

// Aggregator 只有一个可配置项：节目链接的前缀。
type Aggregator struct {
	LinkBase string
}

// Aggregate 使用默认链接前缀聚合一行。
func Aggregate(id domain.ShowID, detail *domain.ShowDetail, episodes []domain.Episode, rating domain.Rating) (*domain.ShowRow, error) {
	return Aggregator{}.Aggregate(id, detail, episodes, rating)
}

// Aggregate 是输入的纯函数（除了对坏日期打日志）。
func (a Aggregator) Aggregate(id domain.ShowID, detail *domain.ShowDetail, episodes []domain.Episode, rating domain.Rating) (*domain.ShowRow, error) {
	if detail == nil {
		return nil, errors.New("nil show detail")
	}
	avgLen, err := AverageEpisodeMinutes(episodes)
	if err != nil {
		return nil, err
	}

	base := a.LinkBase
	if base == "" {
		base = DefaultLinkBase
	}

	copyrights := make([]string, 0, len(detail.Copyrights))
	for _, c := range detail.Copyrights {
		copyrights = append(copyrights, c.Text)
	}

	return &domain.ShowRow{
		ShowID:            id,
		Name:              detail.Name,
		Description:       detail.Description,
		Copyright:         strings.Join(copyrights, ", "),
		Languages:         strings.Join(detail.Languages, ", "),
		Explicit:          detail.Explicit,
		Publisher:         detail.Publisher,
		ExternallyHosted:  detail.ExternallyHosted,
		TotalEpisodes:     detail.TotalEpisodes,
		Link:              base + string(id),
		AvgEpisodeMinutes: avgLen,
		AvgReleaseGapDays: AverageReleaseGapDays(id, episodes),
		Rating:            rating,
	}, nil
}

// AverageEpisodeMinutes 返回单集平均时长（分钟，保留两位小数）。
func AverageEpisodeMinutes(episodes []domain.Episode) (float64, error) {
	if len(episodes) == 0 {
		return 0, ErrEmptyEpisodeList
	}
	var total int64
	for _, e := range episodes {
		total += e.DurationMS
	}
	mean := float64(total) / float64(len(episodes))
	return domain.Round2(mean / 60000), nil
}

// AverageReleaseGapDays 返回相邻两集发布日期的平均间隔（天，保留两位小数）。
//
// 只统计精度为 day 的单集；无法解析的日期记日志后丢弃。
// 日期先按新到旧排序再做差，因此结果与 API 返回顺序无关且不会为负。
// 有效日期少于两个时返回无效值（输出为 N/A）。
func AverageReleaseGapDays(id domain.ShowID, episodes []domain.Episode) domain.OptionalFloat {
	dates := make([]time.Time, 0, len(episodes))
	for _, e := range episodes {
		if e.ReleaseDatePrecision != domain.PrecisionDay {
			continue
		}
		d, err := time.Parse(dateLayout, e.ReleaseDate)
		if err != nil {
			log.WithError(err).WithFields(log.Fields{
				"show_id":      id,
				"episode":      e.Name,
				"release_date": e.ReleaseDate,
			}).Warn("发布日期格式错误，已跳过")
			continue
		}
		dates = append(dates, d)
	}
	if len(dates) < 2 {
		return domain.OptionalFloat{}
	}

	sort.Slice(dates, func(i, j int) bool { return dates[i].After(dates[j]) })

	var sum float64
	for i := 1; i < len(dates); i++ {
		sum += dates[i-1].Sub(dates[i]).Hours() / 24
	}
	return domain.SomeFloat(domain.Round2(sum / float64(len(dates)-1)))
}
