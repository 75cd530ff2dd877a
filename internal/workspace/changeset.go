// changeset.go — 变更集的唯一归并入口。
package workspace

import (
	"maps"
	"time"
)

// changeSetPatch 部分更新: nil 字段表示"保持现状", 非 nil 表示显式覆盖。
//
// changeset.created 与 approval.required 两条创建路径、快照水合以及
// 决定事件全部经由 mergeChangeSet, 身份归并 (按 change set id) 与状态
// 单调性只在这一处实施。
type changeSetPatch struct {
	runID        *string
	interruptID  *string
	createdBy    *string
	summary      *string
	status       *string
	createdAt    *time.Time
	decidedAt    *time.Time
	decisionNote *string
	docs         []string
	diffs        map[string]string
	docChanges   []DocChange
	reviews      []Review
}

// mergeChangeSet 将 patch 合并到 existing (可为零值) 之上, 返回合并结果。
//
// 终态不可回退: existing 已离开 pending 时, patch 中的 pending 状态
// 被忽略, 其余字段照常合并。
func mergeChangeSet(existing ChangeSet, found bool, id, threadID string, patch changeSetPatch) ChangeSet {
	next := existing
	next.ID = id
	next.ThreadID = threadID
	if !found {
		next.CreatedBy = "agent"
		next.Summary = "Pending edits"
		next.Status = ChangeSetStatusPending
		next.Docs = []string{}
		next.Diffs = map[string]string{}
		next.DocChanges = []DocChange{}
		next.Reviews = []Review{}
	}

	if patch.runID != nil {
		next.RunID = *patch.runID
	}
	if patch.interruptID != nil {
		next.InterruptID = *patch.interruptID
	}
	if patch.createdBy != nil {
		next.CreatedBy = *patch.createdBy
	}
	if patch.summary != nil {
		next.Summary = *patch.summary
	}
	if patch.status != nil {
		status := *patch.status
		// 已决定的变更集不回到 pending。
		regress := status == ChangeSetStatusPending && found && existing.Terminal()
		if !regress {
			next.Status = status
		}
	}
	if patch.createdAt != nil {
		next.CreatedAt = *patch.createdAt
	}
	if patch.decidedAt != nil {
		next.DecidedAt = *patch.decidedAt
	}
	if patch.decisionNote != nil {
		next.DecisionNote = *patch.decisionNote
	}
	if patch.docs != nil {
		next.Docs = patch.docs
	}
	if patch.diffs != nil {
		next.Diffs = patch.diffs
	}
	if patch.docChanges != nil {
		next.DocChanges = patch.docChanges
	}
	if patch.reviews != nil {
		next.Reviews = patch.reviews
	}
	return next
}

// upsertChangeSet 在 ChangeSets 副本上执行归并。
func upsertChangeSet(sets map[string]ChangeSet, id, threadID string, patch changeSetPatch) map[string]ChangeSet {
	next := maps.Clone(sets)
	existing, found := sets[id]
	next[id] = mergeChangeSet(existing, found, id, threadID, patch)
	return next
}

func sp(s string) *string { return &s }

func tp(t time.Time) *time.Time { return &t }
