// Package catalog 封装 catalog API 的三个只读端点：搜索、节目详情、节目单集。
package catalog

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/John-Robertt/podstats/internal/domain"
)

const (
	DefaultMarket       = "US"
	DefaultSearchLimit  = 40
	DefaultEpisodeLimit = 10

	// 错误 body 只截取前面一小段写进错误信息。
	maxErrBody = 512
)

// Client 除 bearer token 外无状态：不缓存、不重试，每次调用都是一次新请求。
type Client struct {
	baseURL string
	cl      *http.Client

	Market      string
	SearchLimit int
}

// New 创建 Client；baseURL 形如 https://api.spotify.com/v1。
func New(baseURL string, cl *http.Client) *Client {
	if cl == nil {
		cl = http.DefaultClient
	}
	return &Client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		cl:          cl,
		Market:      DefaultMarket,
		SearchLimit: DefaultSearchLimit,
	}
}

// SearchShows 按关键词搜索节目，返回本次新发现的 ID（保持结果顺序）。
//
// exclude 中的 ID 与本次已收集的 ID 都会被过滤。
// 失败时记录日志，并返回空切片（非 nil）与错误：调用方总能拿到一个序列。
func (c *Client) SearchShows(ctx context.Context, query, token string, exclude map[domain.ShowID]struct{}, offset int) ([]domain.ShowID, error) {
	out := []domain.ShowID{}

	q := url.Values{}
	q.Set("q", query)
	q.Set("market", c.Market)
	q.Set("type", "show")
	q.Set("limit", strconv.Itoa(c.SearchLimit))
	q.Set("offset", strconv.Itoa(offset))

	var resp searchResponse
	if err := c.getJSON(ctx, "/search?"+q.Encode(), token, &resp); err != nil {
		log.WithError(err).WithFields(log.Fields{
			"query":  query,
			"offset": offset,
		}).Error("搜索节目失败")
		return out, err
	}

	seen := make(map[domain.ShowID]struct{}, len(resp.Shows.Items))
	for _, it := range resp.Shows.Items {
		if it == nil {
			continue
		}
		id, ok := domain.ParseShowID(it.ID)
		if !ok {
			continue
		}
		if _, dup := exclude[id]; dup {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out, nil
}

// GetShowDetail 查询单个节目详情；失败时记录日志并返回 nil。
func (c *Client) GetShowDetail(ctx context.Context, id domain.ShowID, token string) (*domain.ShowDetail, error) {
	var resp showResponse
	if err := c.getJSON(ctx, "/shows/"+url.PathEscape(string(id)), token, &resp); err != nil {
		log.WithError(err).WithField("show_id", id).Error("获取节目详情失败")
		return nil, err
	}
	return resp.toDomain(id), nil
}

// GetEpisodes 查询节目最近的 limit 集（limit<=0 时取默认 10）；失败时记录日志并返回 nil。
func (c *Client) GetEpisodes(ctx context.Context, id domain.ShowID, token string, limit int) ([]domain.Episode, error) {
	if limit <= 0 {
		limit = DefaultEpisodeLimit
	}
	path := "/shows/" + url.PathEscape(string(id)) + "/episodes?limit=" + strconv.Itoa(limit)

	var resp episodesResponse
	if err := c.getJSON(ctx, path, token, &resp); err != nil {
		log.WithError(err).WithField("show_id", id).Error("获取节目单集失败")
		return nil, err
	}

	out := make([]domain.Episode, 0, len(resp.Items))
	for _, it := range resp.Items {
		// 下架/地区不可用的单集在 items 中是 null。
		if it == nil {
			continue
		}
		out = append(out, domain.Episode{
			Name:                 it.Name,
			DurationMS:           it.DurationMS,
			ReleaseDate:          it.ReleaseDate,
			ReleaseDatePrecision: it.ReleaseDatePrecision,
		})
	}
	return out, nil
}

func (c *Client) getJSON(ctx context.Context, path, token string, v any) error {
	u := c.baseURL + path
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return errors.Wrap(err, "failed to build request")
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.cl.Do(req)
	if err != nil {
		return errors.Wrap(err, "request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrBody))
		return &HTTPStatusError{URL: u, StatusCode: resp.StatusCode, Body: string(b)}
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return errors.Wrap(err, "failed to decode response")
	}
	return nil
}
