// timeline.go — 消息与工具条目的合并时间线 (只读投影)。
package workspace

import (
	"sort"
	"time"
)

// TimelineKind 时间线条目类别。
type TimelineKind string

const (
	TimelineMessage TimelineKind = "message"
	TimelineTool    TimelineKind = "tool"
)

// TimelineEntry 合并后的单个条目。Message/Tool 按 Kind 二选一有效。
type TimelineEntry struct {
	Kind      TimelineKind
	ID        string
	CreatedAt time.Time
	Message   Message
	Tool      ToolItem
}

// BuildTimeline 合并线程消息与该线程各 run 的工具条目。
//
// 排序: 先按时间升序, 时间完全相同再按条目 id 字典序 —— 同一输入
// 永远产出同一顺序。条目 id 带 "m-"/"t-" 前缀, 消息与工具不会撞 id。
func BuildTimeline(s State, threadID string) []TimelineEntry {
	msgs := s.MessagesByThread[threadID]
	entries := make([]TimelineEntry, 0, len(msgs))
	for _, m := range msgs {
		entries = append(entries, TimelineEntry{
			Kind:      TimelineMessage,
			ID:        "m-" + m.ID,
			CreatedAt: m.CreatedAt,
			Message:   m,
		})
	}

	for runKey, tools := range s.ToolsByRun {
		if !runBelongsToThread(s, runKey, threadID) {
			continue
		}
		for _, t := range tools {
			entries = append(entries, TimelineEntry{
				Kind:      TimelineTool,
				ID:        "t-" + t.ID,
				CreatedAt: t.CreatedAt,
				Tool:      t,
			})
		}
	}

	sort.Slice(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
	return entries
}

// runBelongsToThread 判断工具桶归属; orphan 桶对所有线程可见。
func runBelongsToThread(s State, runKey, threadID string) bool {
	if runKey == OrphanRunKey {
		return true
	}
	run, ok := s.Runs[runKey]
	return ok && run.ThreadID == threadID
}
