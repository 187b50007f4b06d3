package catalog

import (
	"fmt"
	"strings"

	"github.com/John-Robertt/podstats/internal/domain"
)

// HTTPStatusError 表示 catalog API 返回了非 200 的状态码。
type HTTPStatusError struct {
	URL        string
	StatusCode int
	Body       string
}

func (e *HTTPStatusError) Error() string {
	if e == nil {
		return "HTTP status error"
	}
	body := strings.TrimSpace(e.Body)
	if body == "" {
		return fmt.Sprintf("HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("HTTP %d - %s", e.StatusCode, body)
}

// 以下是 API 响应的最小解码结构，只取用到的字段。

type searchResponse struct {
	Shows struct {
		Items []*showRef `json:"items"`
	} `json:"shows"`
}

type showRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type showResponse struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Copyrights  []struct {
		Text string `json:"text"`
		Type string `json:"type"`
	} `json:"copyrights"`
	Languages          []string `json:"languages"`
	Explicit           bool     `json:"explicit"`
	Publisher          string   `json:"publisher"`
	IsExternallyHosted bool     `json:"is_externally_hosted"`
	TotalEpisodes      int      `json:"total_episodes"`
}

func (s showResponse) toDomain(id domain.ShowID) *domain.ShowDetail {
	d := &domain.ShowDetail{
		ID:               id,
		Name:             s.Name,
		Description:      s.Description,
		Languages:        s.Languages,
		Explicit:         s.Explicit,
		Publisher:        s.Publisher,
		ExternallyHosted: s.IsExternallyHosted,
		TotalEpisodes:    s.TotalEpisodes,
	}
	if s.ID != "" {
		d.ID = domain.ShowID(s.ID)
	}
	for _, c := range s.Copyrights {
		d.Copyrights = append(d.Copyrights, domain.Copyright{Text: c.Text, Type: c.Type})
	}
	return d
}

type episodesResponse struct {
	Items []*struct {
		Name                 string `json:"name"`
		DurationMS           int64  `json:"duration_ms"`
		ReleaseDate          string `json:"release_date"`
		ReleaseDatePrecision string `json:"release_date_precision"`
	} `json:"items"`
}
