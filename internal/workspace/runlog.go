// runlog.go — 线程审计序列 (只读投影)。
package workspace

import (
	"sort"
	"strconv"
	"strings"
	"time"
)

// RunLogKind 审计条目类别。
type RunLogKind string

const (
	RunLogRun       RunLogKind = "run"
	RunLogAgent     RunLogKind = "agent"
	RunLogTool      RunLogKind = "tool"
	RunLogChangeSet RunLogKind = "changeset"
)

// RunLogEntry 展平后的单条审计记录。
type RunLogEntry struct {
	ID          string
	Kind        RunLogKind
	CreatedAt   time.Time
	Title       string
	Description string
	RunID       string
}

// BuildRunLog 将线程内 run 起止、agent 状态、工具事件与变更集的
// 创建/决定事件展平为一条新到旧的审计序列, 不修改核心状态。
func BuildRunLog(s State, threadID string) []RunLogEntry {
	if threadID == "" {
		return []RunLogEntry{}
	}

	runIDs := map[string]bool{}
	var entries []RunLogEntry

	for _, run := range s.Runs {
		if run.ThreadID != threadID {
			continue
		}
		runIDs[run.ID] = true

		entries = append(entries, RunLogEntry{
			ID:          "run:" + run.ID + ":started",
			Kind:        RunLogRun,
			CreatedAt:   run.StartedAt,
			Title:       "Run started (" + run.Trigger + ")",
			Description: "Status: " + humanize(run.Status),
			RunID:       run.ID,
		})

		if !run.CompletedAt.IsZero() {
			title := "Run completed"
			switch run.Status {
			case RunStatusError:
				title = "Run failed"
			case RunStatusWaitingApproval:
				title = "Run waiting approval"
			}
			desc := run.Error
			if desc == "" {
				desc = "Status: " + humanize(run.Status)
			}
			entries = append(entries, RunLogEntry{
				ID:          "run:" + run.ID + ":completed",
				Kind:        RunLogRun,
				CreatedAt:   run.CompletedAt,
				Title:       title,
				Description: desc,
				RunID:       run.ID,
			})
		}
	}

	for key, status := range s.AgentStatuses {
		if !runIDs[status.RunID] {
			continue
		}
		desc := humanize(status.Status)
		if status.Note != "" {
			desc += " - " + status.Note
		}
		entries = append(entries, RunLogEntry{
			ID:          "agent:" + key + ":" + status.At.Format(time.RFC3339Nano),
			Kind:        RunLogAgent,
			CreatedAt:   status.At,
			Title:       status.Agent + " status",
			Description: desc,
			RunID:       status.RunID,
		})
	}

	for runKey, tools := range s.ToolsByRun {
		if runKey != OrphanRunKey && !runIDs[runKey] {
			continue
		}
		for _, tool := range tools {
			title := "Tool result"
			if tool.EventType == "tool.call" {
				title = "Tool call"
			}
			desc := tool.Label
			if strings.TrimSpace(desc) == "" {
				desc = title
			}
			entries = append(entries, RunLogEntry{
				ID:          "tool:" + tool.ID,
				Kind:        RunLogTool,
				CreatedAt:   tool.CreatedAt,
				Title:       title,
				Description: desc,
				RunID:       tool.RunID,
			})
		}
	}

	for _, cs := range s.ChangeSets {
		if cs.ThreadID != threadID {
			continue
		}
		desc := cs.Summary
		if desc == "" {
			desc = strconv.Itoa(len(cs.Docs)) + " doc(s) staged for review"
		}
		entries = append(entries, RunLogEntry{
			ID:          "changeset:" + cs.ID + ":created",
			Kind:        RunLogChangeSet,
			CreatedAt:   cs.CreatedAt,
			Title:       "Changeset created",
			Description: desc,
			RunID:       cs.RunID,
		})

		if !cs.DecidedAt.IsZero() {
			note := cs.DecisionNote
			if note == "" {
				note = "No decision note"
			}
			entries = append(entries, RunLogEntry{
				ID:          "changeset:" + cs.ID + ":decided",
				Kind:        RunLogChangeSet,
				CreatedAt:   cs.DecidedAt,
				Title:       "Changeset " + humanize(cs.Status),
				Description: note,
				RunID:       cs.RunID,
			})
		}
	}

	// 新到旧; 同刻条目按 id 定序, 保证输出确定。
	sort.Slice(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.ID < b.ID
	})
	if entries == nil {
		return []RunLogEntry{}
	}
	return entries
}

// humanize 将 snake_case 状态转为展示用文本。
func humanize(status string) string {
	return strings.ReplaceAll(status, "_", " ")
}
