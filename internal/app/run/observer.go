package run

import (
	"time"

	"github.com/John-Robertt/podstats/internal/config"
	"github.com/John-Robertt/podstats/internal/domain"
)

// Observer 用于把“运行进度/阶段/条目结果”从核心执行流程中解耦出来。
//
// 约束：run 包只负责发事件，不做任何输出（避免污染 stdout 的 JSON 契约）。
// 事件都在调用 ExecuteWithObserver 的 goroutine 上按顺序发出。
type Observer interface {
	// OnStart 在 ExecuteWithObserver 开始时调用。
	OnStart(eff config.EffectiveConfig)
	// OnPhaseDone 在阶段结束时调用：token、search、process、refresh、write。
	OnPhaseDone(name string, fields map[string]any, dur time.Duration)
	// OnItemDone 在某个节目处理完成时调用（idx 从 1 开始）。
	OnItemDone(idx, total int, id domain.ShowID, res domain.ItemResult, dur time.Duration)
	// OnProgress 用于 keepalive（由 CLI 自己的 ticker 触发；run 层不调用）。
	OnProgress(done, total, ok, fail int, current domain.ShowID, elapsed time.Duration)
}

// 阶段名。
const (
	PhaseToken   = "token"
	PhaseSearch  = "search"
	PhaseProcess = "process"
	PhaseRefresh = "refresh"
	PhaseWrite   = "write"
)

type nopObserver struct{}

func (nopObserver) OnStart(config.EffectiveConfig)                                       {}
func (nopObserver) OnPhaseDone(string, map[string]any, time.Duration)                     {}
func (nopObserver) OnItemDone(int, int, domain.ShowID, domain.ItemResult, time.Duration) {}
func (nopObserver) OnProgress(int, int, int, int, domain.ShowID, time.Duration)          {}
