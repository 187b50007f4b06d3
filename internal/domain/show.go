package domain

import "strings"

// ShowID 是目录（catalog）中节目的不透明标识。
type ShowID string

// ParseShowID 去掉首尾空白；空串视为无效。
func ParseShowID(s string) (ShowID, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", false
	}
	return ShowID(s), true
}

// 发布日期精度（与 catalog API 的 release_date_precision 一致）。
const (
	PrecisionDay   = "day"
	PrecisionMonth = "month"
	PrecisionYear  = "year"
)

type Copyright struct {
	Text string
	Type string
}

// ShowDetail 是单个节目的详情（只保留聚合需要的字段）。
type ShowDetail struct {
	ID               ShowID
	Name             string
	Description      string
	Copyrights       []Copyright
	Languages        []string
	Explicit         bool
	Publisher        string
	ExternallyHosted bool
	TotalEpisodes    int
}

// Episode 是单集的最小元数据。
//
// ReleaseDate 保持 API 原样（精度不是 day 时可能是 "2024" 或 "2024-03"）。
type Episode struct {
	Name                 string
	DurationMS           int64
	ReleaseDate          string
	ReleaseDatePrecision string
}
