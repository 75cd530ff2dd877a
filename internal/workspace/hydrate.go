// hydrate.go — REST 读取结果与本地操作向状态的折叠。
//
// 流事件之外的状态入口: 快照/列表水合、乐观的用户消息插入、
// 以及调用方标记的流生命周期 (开始/结束/失败)。全部保持 Apply
// 相同的值语义。
package workspace

import (
	"encoding/json"
	"fmt"
	"maps"
	"time"

	"github.com/raj-pulapakura/idea-maestro/internal/maestro"
)

// ApplyThreads 水合线程列表 (覆盖同 id 线程)。
func ApplyThreads(s State, threads []maestro.Thread) State {
	next := maps.Clone(s.Threads)
	for _, t := range threads {
		if t.ThreadID == "" {
			continue
		}
		next[t.ThreadID] = Thread{
			ID:                 t.ThreadID,
			Title:              t.Title,
			Status:             t.Status,
			CreatedAt:          parseTime(t.CreatedAt, time.Time{}),
			UpdatedAt:          parseTime(t.UpdatedAt, time.Time{}),
			LastMessagePreview: strPtr(t.LastMessagePreview),
		}
	}
	s.Threads = next
	return s
}

// ApplyDocs 水合文档列表。
func ApplyDocs(s State, docs []maestro.Doc) State {
	next := maps.Clone(s.Docs)
	for _, d := range docs {
		next[DocKey(d.ThreadID, d.DocID)] = docFromWire(d)
	}
	s.Docs = next
	return s
}

// UpsertDoc 覆盖单个文档 (整体替换, 无局部 patch)。
func UpsertDoc(s State, d maestro.Doc) State {
	next := maps.Clone(s.Docs)
	next[DocKey(d.ThreadID, d.DocID)] = docFromWire(d)
	s.Docs = next
	return s
}

func docFromWire(d maestro.Doc) Doc {
	return Doc{
		ThreadID:    d.ThreadID,
		DocID:       d.DocID,
		Title:       d.Title,
		Content:     d.Content,
		Description: d.Description,
		Version:     d.Version,
		UpdatedBy:   strPtr(d.UpdatedBy),
		CreatedAt:   parseTimePtr(d.CreatedAt),
		UpdatedAt:   parseTimePtr(d.UpdatedAt),
	}
}

// ApplyChangeSets 水合变更集列表, 与两条流式创建路径共用归并入口。
func ApplyChangeSets(s State, threadID string, sets []maestro.ChangeSet) State {
	next := s.ChangeSets
	for _, cs := range sets {
		if cs.ChangeSetID == "" {
			continue
		}
		tid := cs.ThreadID
		if tid == "" {
			tid = threadID
		}
		next = upsertChangeSet(next, cs.ChangeSetID, tid, changeSetPatchFromWire(cs))
	}
	s.ChangeSets = next
	return s
}

func changeSetPatchFromWire(cs maestro.ChangeSet) changeSetPatch {
	patch := changeSetPatch{
		runID:       sp(strPtr(cs.RunID)),
		interruptID: sp(strPtr(cs.InterruptID)),
		createdBy:   sp(cs.CreatedBy),
		summary:     sp(cs.Summary),
		status:      sp(cs.Status),
		createdAt:   tp(parseTimePtr(cs.CreatedAt)),
		decidedAt:   tp(parseTimePtr(cs.DecidedAt)),
		docs:        cs.Docs,
		diffs:       cs.Diffs,
	}
	if cs.DecisionNote != nil {
		patch.decisionNote = sp(*cs.DecisionNote)
	}
	if cs.Docs == nil {
		patch.docs = []string{}
	}
	if cs.Diffs == nil {
		patch.diffs = map[string]string{}
	}
	if cs.DocChanges != nil {
		changes := make([]DocChange, 0, len(cs.DocChanges))
		for _, dc := range cs.DocChanges {
			changes = append(changes, DocChange{
				DocID:         dc.DocID,
				BeforeContent: dc.BeforeContent,
				AfterContent:  dc.AfterContent,
				Diff:          dc.Diff,
			})
		}
		patch.docChanges = changes
	}
	if cs.Reviews != nil {
		reviews := make([]Review, 0, len(cs.Reviews))
		for _, r := range cs.Reviews {
			reviews = append(reviews, Review{
				Decision:   r.Decision,
				Comment:    strPtr(r.Comment),
				ReviewedBy: r.ReviewedBy,
				ReviewedAt: parseTimePtr(r.ReviewedAt),
			})
		}
		patch.reviews = reviews
	}
	return patch
}

// ApplySnapshot 水合完整线程快照: 线程、历史消息、文档、run、
// agent 状态与变更集一次就位。历史消息整体替换该线程消息切片。
func ApplySnapshot(s State, threadID string, snap maestro.Snapshot) State {
	s.Threads = ensureThread(s, threadID, time.Now())
	if snap.Thread != nil {
		s = ApplyThreads(s, []maestro.Thread{*snap.Thread})
	}
	s = ApplyDocs(s, snap.Docs)

	runs := maps.Clone(s.Runs)
	for _, r := range snap.Runs {
		if r.RunID == "" {
			continue
		}
		runs[r.RunID] = Run{
			ID:          r.RunID,
			ThreadID:    r.ThreadID,
			Trigger:     r.Trigger,
			Status:      r.Status,
			StartedAt:   parseTime(r.StartedAt, time.Time{}),
			CompletedAt: parseTimePtr(r.CompletedAt),
			Error:       strPtr(r.Error),
		}
	}
	s.Runs = runs

	statuses := maps.Clone(s.AgentStatuses)
	for _, a := range snap.AgentStatuses {
		statuses[AgentKey(a.RunID, a.Agent)] = AgentStatus{
			RunID:    a.RunID,
			ThreadID: a.ThreadID,
			Agent:    a.Agent,
			Status:   a.Status,
			Note:     strPtr(a.Note),
			At:       parseTime(a.At, time.Time{}),
		}
	}
	s.AgentStatuses = statuses

	s = ApplyChangeSets(s, threadID, snap.ChangeSets)
	s.MessagesByThread = appendMessages(s.MessagesByThread, threadID, historyMessages(snap.Messages))
	return s
}

// historyMessages 把落库消息行转为会话消息。
//
// content 结构松散: {"text": ...} 或 {"blocks": [...]}; 无法识别时
// 内容置空但消息保留。行缺 message id 时按下标造稳定 id。
func historyMessages(rows []maestro.MessageRow) []Message {
	out := make([]Message, 0, len(rows))
	for i, row := range rows {
		id := row.MessageID
		if id == "" {
			id = fmt.Sprintf("history-%d", i)
		}
		createdAt := parseTime(row.CreatedAt, time.Time{})
		if createdAt.IsZero() {
			// 不可解析的时间退化为保序的纪元偏移。
			createdAt = time.UnixMilli(int64(i))
		}
		out = append(out, Message{
			ID:        id,
			RunID:     strPtr(row.RunID),
			Role:      historyRole(row.Role),
			ByAgent:   strPtr(row.ByAgent),
			Content:   storedContent(row.Content),
			CreatedAt: createdAt,
		})
	}
	return out
}

func historyRole(role string) string {
	switch role {
	case RoleUser, RoleAssistant, RoleTool, RoleSystem:
		return role
	}
	return RoleAssistant
}

// storedContent 提取 text 或拼接 blocks 内的文本块。
func storedContent(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var direct string
	if err := json.Unmarshal(raw, &direct); err == nil {
		return direct
	}

	var content struct {
		Text   *string `json:"text"`
		Blocks []any   `json:"blocks"`
	}
	if err := json.Unmarshal(raw, &content); err != nil {
		return ""
	}
	if content.Text != nil {
		return *content.Text
	}
	var joined string
	for _, block := range content.Blocks {
		switch b := block.(type) {
		case string:
			joined += b
		case map[string]any:
			if s, ok := b["text"].(string); ok {
				joined += s
			}
		}
	}
	return joined
}

// PushUserMessage 乐观插入用户消息 (发送请求前即上屏)。
func PushUserMessage(s State, threadID string, msg Message) State {
	s.Threads = ensureThread(s, threadID, msg.CreatedAt)
	msgs := s.MessagesByThread[threadID]
	appended := make([]Message, 0, len(msgs)+1)
	appended = append(appended, msgs...)
	appended = append(appended, msg)
	s.MessagesByThread = appendMessages(s.MessagesByThread, threadID, appended)
	return s
}

// BeginStream 标记线程进入流式态并清除既往错误。
func BeginStream(s State, threadID string) State {
	streaming := maps.Clone(s.StreamingByThread)
	streaming[threadID] = true
	s.StreamingByThread = streaming

	errs := maps.Clone(s.ErrorByThread)
	delete(errs, threadID)
	s.ErrorByThread = errs
	return s
}

// FinishStream 正常收尾; 线程已处错误态时保持错误不被覆盖。
func FinishStream(s State, threadID string) State {
	if s.ErrorByThread[threadID] != "" {
		return s
	}
	streaming := maps.Clone(s.StreamingByThread)
	streaming[threadID] = false
	s.StreamingByThread = streaming
	return s
}

// FailStream 记录线程级错误。此前已折叠进状态的实体原样保留,
// 错误只能由下一次成功的流启动清除。
func FailStream(s State, threadID, errMsg string) State {
	streaming := maps.Clone(s.StreamingByThread)
	streaming[threadID] = false
	s.StreamingByThread = streaming

	errs := maps.Clone(s.ErrorByThread)
	errs[threadID] = errMsg
	s.ErrorByThread = errs
	return s
}
