package domain

import (
	"encoding/json"
	"time"
)

const (
	StatusProcessed = "processed"
	StatusFailed    = "failed"
)

const (
	SourceSeed  = "seed"
	SourceExtra = "extra"
)

const (
	ErrCodeTokenFailed       = "token_failed"
	ErrCodeDetailFailed      = "detail_failed"
	ErrCodeEpisodesFailed    = "episodes_failed"
	ErrCodeEmptyEpisodes     = "empty_episodes"
	ErrCodeCanceled          = "canceled"
	ErrCodeWriteFailed       = "write_failed"
	ErrCodeConfigNotFound    = "config_not_found"
	ErrCodeConfigInvalid     = "config_invalid"
	ErrCodeConfigMissingCred = "config_missing_credentials"
	ErrCodeConfigMissingIDs  = "config_missing_ids"
)

// RunReport 是对外稳定输出（stdout JSON）的结构。
type RunReport struct {
	Outputs []string `json:"outputs"`

	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`

	SeedCount      int `json:"seed_count"`
	ExtraCount     int `json:"extra_count"`
	TokenRefreshes int `json:"token_refreshes"`

	Summary ReportSummary `json:"summary"`
	Items   []ItemResult  `json:"items"`
}

type ReportSummary struct {
	Processed int `json:"processed"`
	Failed    int `json:"failed"`
	Rows      int `json:"rows"`
}

// ItemResult 对应一次节目处理尝试；ShowID 为空的是合成条目（token/写出失败等）。
type ItemResult struct {
	ShowID string `json:"show_id"`
	Source string `json:"source"`
	Name   string `json:"name"`

	Status    string `json:"status"`
	ErrorCode string `json:"error_code"`
	ErrorMsg  string `json:"error_msg"`
}

// Finalize 做两件事：
// 1) 时间统一为 UTC（确保 JSON 为 RFC3339 且后缀 Z）
// 2) summary 由 items 计算得出
//
// items 保持处理顺序，不排序（与 CSV 行顺序一致）。
func (r *RunReport) Finalize() {
	r.StartedAt = r.StartedAt.UTC()
	r.FinishedAt = r.FinishedAt.UTC()
	if r.Outputs == nil {
		r.Outputs = []string{}
	}
	if r.Items == nil {
		r.Items = []ItemResult{}
	}

	var s ReportSummary
	for _, it := range r.Items {
		switch it.Status {
		case StatusProcessed:
			s.Processed++
			if it.ShowID != "" {
				s.Rows++
			}
		case StatusFailed:
			s.Failed++
		}
	}
	r.Summary = s
}

// MarshalJSON 仅用于集中约束输出的稳定性（避免未来不小心引入非确定字段）。
func (r RunReport) MarshalJSON() ([]byte, error) {
	type Alias RunReport
	return json.Marshal(Alias(r))
}
