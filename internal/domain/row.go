package domain

import (
	"math"
	"strconv"
	"strings"
)

// NotAvailable 是缺失值在输出边界上的字面量。
const NotAvailable = "N/A"

// RatingDisabled 是评分抓取关闭时写入的哨兵值。
const RatingDisabled = "0"

// 输出列名（顺序即 CSV 列顺序）。
const (
	ColName             = "Name"
	ColDescription      = "Description"
	ColCopyright        = "Copyright"
	ColLanguages        = "Languages"
	ColExplicit         = "Is Explicit?"
	ColPublisher        = "Publisher"
	ColExternallyHosted = "Externally Hosted?"
	ColTotalEpisodes    = "Total # Episodes"
	ColLink             = "Link"
	ColAvgEpisodeLength = "Average Episode Length (minutes)"
	ColAvgReleaseGap    = "Average Distance Between Episodes (days)"
	ColRating           = "Rating"
	ColRaters           = "Number of Raters"
)

var columns = []string{
	ColName,
	ColDescription,
	ColCopyright,
	ColLanguages,
	ColExplicit,
	ColPublisher,
	ColExternallyHosted,
	ColTotalEpisodes,
	ColLink,
	ColAvgEpisodeLength,
	ColAvgReleaseGap,
	ColRating,
	ColRaters,
}

// Columns 返回固定列集合的副本。
func Columns() []string {
	out := make([]string, len(columns))
	copy(out, columns)
	return out
}

// OptionalFloat 是可空数值：Valid=false 时序列化为 N/A。
type OptionalFloat struct {
	Value float64
	Valid bool
}

func SomeFloat(v float64) OptionalFloat { return OptionalFloat{Value: v, Valid: true} }

func (o OptionalFloat) String() string {
	if !o.Valid {
		return NotAvailable
	}
	return formatFloat(o.Value)
}

// Rating 是评分抓取结果（文本原样保留，抓取失败为 N/A）。
type Rating struct {
	Average string
	Raters  string
}

// DisabledRating 是抓取关闭时的哨兵评分。
func DisabledRating() Rating { return Rating{Average: RatingDisabled, Raters: RatingDisabled} }

// UnavailableRating 是抓取失败时的评分。
func UnavailableRating() Rating { return Rating{Average: NotAvailable, Raters: NotAvailable} }

// ShowRow 是每个成功处理的节目输出的一行。
//
// 约束：所有行共享同一列集合（Columns），列顺序固定。
type ShowRow struct {
	ShowID ShowID

	Name             string
	Description      string
	Copyright        string
	Languages        string
	Explicit         bool
	Publisher        string
	ExternallyHosted bool
	TotalEpisodes    int
	Link             string

	AvgEpisodeMinutes float64
	AvgReleaseGapDays OptionalFloat

	Rating Rating
}

// Columns 返回该行的列名（与 Values 一一对应）。
func (r *ShowRow) Columns() []string { return Columns() }

// Values 按列顺序返回序列化后的字段值。
func (r *ShowRow) Values() []string {
	return []string{
		r.Name,
		r.Description,
		r.Copyright,
		r.Languages,
		strconv.FormatBool(r.Explicit),
		r.Publisher,
		strconv.FormatBool(r.ExternallyHosted),
		strconv.Itoa(r.TotalEpisodes),
		r.Link,
		formatFloat(r.AvgEpisodeMinutes),
		r.AvgReleaseGapDays.String(),
		r.Rating.Average,
		r.Rating.Raters,
	}
}

// ResultSet 保持处理顺序；nil 条目是抓取失败节目的占位。
type ResultSet []*ShowRow

// Rows 返回非空行（写出时跳过占位）。
func (rs ResultSet) Rows() []*ShowRow {
	out := make([]*ShowRow, 0, len(rs))
	for _, r := range rs {
		if r != nil {
			out = append(out, r)
		}
	}
	return out
}

// Header 取首个非空行的列集合；没有任何行时退回固定列集合。
func (rs ResultSet) Header() []string {
	for _, r := range rs {
		if r != nil {
			return r.Columns()
		}
	}
	return Columns()
}

// Round2 四舍五入到两位小数。
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// formatFloat 至少保留一位小数：3 写成 3.0，3.33 原样。
func formatFloat(v float64) string {
	s := strconv.FormatFloat(v, 'f', -1, 64)
	if !strings.ContainsAny(s, ".eE") {
		s += ".0"
	}
	return s
}
