// approval.go — 待审批查询 (只读投影)。
package workspace

// PendingApproval 面向审批 UI 的简化视图。
type PendingApproval struct {
	RunID       string
	ChangeSetID string
	InterruptID string
	Summary     string
	Docs        []string
	Diffs       map[string]string
	Raw         ChangeSet
}

// FindPendingApproval 返回线程内第一个 pending 变更集, 没有则 ok=false。
//
// "第一个" 按 CreatedAt 最早定义, 同刻再按 id 字典序 —— 映射遍历
// 顺序不参与裁决, 结果确定。"无待审批" 是正常业务结果, 不是错误。
func FindPendingApproval(s State, threadID string) (PendingApproval, bool) {
	if threadID == "" {
		return PendingApproval{}, false
	}

	var best ChangeSet
	found := false
	for _, cs := range s.ChangeSets {
		if cs.ThreadID != threadID || cs.Status != ChangeSetStatusPending {
			continue
		}
		if !found {
			best = cs
			found = true
			continue
		}
		if cs.CreatedAt.Before(best.CreatedAt) ||
			(cs.CreatedAt.Equal(best.CreatedAt) && cs.ID < best.ID) {
			best = cs
		}
	}
	if !found {
		return PendingApproval{}, false
	}

	return PendingApproval{
		RunID:       best.RunID,
		ChangeSetID: best.ID,
		InterruptID: best.InterruptID,
		Summary:     best.Summary,
		Docs:        best.Docs,
		Diffs:       best.Diffs,
		Raw:         best,
	}, true
}
