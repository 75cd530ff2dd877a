// reducer.go — (State, StreamEvent) → State 纯折叠函数。
package workspace

import (
	"maps"
	"time"

	"github.com/google/uuid"

	"github.com/raj-pulapakura/idea-maestro/internal/maestro"
)

// Apply 将一个流事件折叠进状态, 返回新状态, 不修改入参。
//
// 全局契约 (对所有事件类型生效, 先于分类型处理):
//   - payload 无 thread_id 的事件整体丢弃 (后端契约要求每个事件都带);
//   - event_id 已见过的事件整体丢弃 (at-least-once 投递去重);
//   - 事件引用的线程若不存在, 先物化占位线程;
//   - 未知事件类型在完成上述簿记后按 no-op 处理, 不报错。
func Apply(state State, ev maestro.StreamEvent) State {
	payload := ev.Data
	if payload == nil {
		payload = map[string]any{}
	}

	threadID := strField(payload, "thread_id")
	if threadID == "" {
		return state
	}

	eventID := strField(payload, "event_id")
	if eventID != "" && state.SeenEventIDs[eventID] {
		return state
	}

	emittedAt := timeField(payload, "emitted_at", time.Now())
	runID := strFieldOr(payload, "run_id", state.CurrentRunByThread[threadID])

	next := state
	next.Threads = ensureThread(state, threadID, emittedAt)
	if eventID != "" {
		seen := maps.Clone(state.SeenEventIDs)
		seen[eventID] = true
		next.SeenEventIDs = seen
	}

	switch ev.Type {
	case maestro.EventRunStarted:
		return applyRunStarted(next, threadID, runID, payload, emittedAt)
	case maestro.EventAgentStatus:
		return applyAgentStatus(next, threadID, runID, payload, emittedAt)
	case maestro.EventKeepalive:
		return next
	case maestro.EventMessageDelta:
		return applyMessageDelta(next, threadID, runID, payload, emittedAt)
	case maestro.EventMessageCompleted:
		return applyMessageCompleted(next, threadID, runID, payload, emittedAt)
	case maestro.EventToolCall, maestro.EventToolResult:
		return applyToolEvent(next, ev.Type, runID, payload, emittedAt)
	case maestro.EventChangeSetCreated:
		return applyChangeSetCreated(next, threadID, runID, payload, emittedAt)
	case maestro.EventApprovalRequired:
		return applyApprovalRequired(next, threadID, runID, payload, emittedAt)
	case maestro.EventChangeSetApproved, maestro.EventChangeSetRejected,
		maestro.EventChangeSetRequestChanges, maestro.EventChangeSetApplied:
		return applyChangeSetDecision(next, ev.Type, threadID, payload, emittedAt)
	case maestro.EventRunError:
		return applyRunError(next, threadID, runID, payload, emittedAt)
	case maestro.EventRunCompleted:
		return applyRunCompleted(next, threadID, runID, payload, emittedAt)
	}
	return next
}

// applyRunStarted 启动新 run: 认领线程当前 run, 清除既往错误。
func applyRunStarted(s State, threadID, runID string, payload map[string]any, emittedAt time.Time) State {
	if runID == "" {
		return s
	}

	current := maps.Clone(s.CurrentRunByThread)
	current[threadID] = runID
	s.CurrentRunByThread = current

	streaming := maps.Clone(s.StreamingByThread)
	streaming[threadID] = true
	s.StreamingByThread = streaming

	errs := maps.Clone(s.ErrorByThread)
	delete(errs, threadID)
	s.ErrorByThread = errs

	runs := maps.Clone(s.Runs)
	runs[runID] = Run{
		ID:        runID,
		ThreadID:  threadID,
		Trigger:   strFieldOr(payload, "trigger", "chat"),
		Status:    RunStatusRunning,
		StartedAt: timeField(payload, "started_at", emittedAt),
	}
	s.Runs = runs
	return s
}

func applyAgentStatus(s State, threadID, runID string, payload map[string]any, emittedAt time.Time) State {
	if runID == "" {
		return s
	}
	agent := strFieldOr(payload, "agent", "agent")

	statuses := maps.Clone(s.AgentStatuses)
	statuses[AgentKey(runID, agent)] = AgentStatus{
		RunID:    runID,
		ThreadID: threadID,
		Agent:    agent,
		Status:   strFieldOr(payload, "status", "thinking"),
		Note:     strField(payload, "note"),
		At:       timeField(payload, "at", emittedAt),
	}
	s.AgentStatuses = statuses
	return s
}

// applyMessageDelta 追加增量; 已完结消息的迟到 delta 丢弃。
func applyMessageDelta(s State, threadID, runID string, payload map[string]any, emittedAt time.Time) State {
	messageID := strFieldOr(payload, "message_id", uuid.NewString())
	if s.CompletedMessageIDs[MessageKey(threadID, messageID)] {
		return s
	}

	msgs := s.MessagesByThread[threadID]
	existing, found := findMessage(msgs, messageID)

	// 部分更新: 缺失字段沿用已知值, 不清空。
	msg := existing
	msg.ID = messageID
	msg.Role = RoleAssistant
	msg.Content = existing.Content + strField(payload, "delta")
	msg.Streaming = true
	if runID != "" {
		msg.RunID = runID
	}
	if agent := agentField(payload); agent != "" {
		msg.ByAgent = agent
	}
	if !found {
		msg.CreatedAt = emittedAt
	}
	s.MessagesByThread = appendMessages(s.MessagesByThread, threadID, upsertMessage(msgs, msg))
	return s
}

// applyMessageCompleted 定稿消息并登记完结键 (幂等: 重复完结不再改动)。
func applyMessageCompleted(s State, threadID, runID string, payload map[string]any, emittedAt time.Time) State {
	messageID := strFieldOr(payload, "message_id", uuid.NewString())
	key := MessageKey(threadID, messageID)
	if s.CompletedMessageIDs[key] {
		return s
	}

	msgs := s.MessagesByThread[threadID]
	existing, found := findMessage(msgs, messageID)

	// 部分更新: 缺失字段沿用已知值, 不清空。
	msg := existing
	msg.ID = messageID
	msg.Role = RoleAssistant
	msg.Streaming = false
	if content := strField(payload, "content"); content != "" {
		msg.Content = content
	}
	if runID != "" {
		msg.RunID = runID
	}
	if agent := agentField(payload); agent != "" {
		msg.ByAgent = agent
	}
	if !found {
		msg.CreatedAt = emittedAt
	}

	completed := maps.Clone(s.CompletedMessageIDs)
	completed[key] = true
	s.CompletedMessageIDs = completed
	s.MessagesByThread = appendMessages(s.MessagesByThread, threadID, upsertMessage(msgs, msg))
	return s
}

// applyToolEvent 追加工具条目; 无 run id 的事件进 orphan 桶。
func applyToolEvent(s State, eventType, runID string, payload map[string]any, emittedAt time.Time) State {
	bucket := runID
	if bucket == "" {
		bucket = OrphanRunKey
	}

	toolName := toolNameField(payload)
	label := "Calling " + toolName
	if eventType == maestro.EventToolResult {
		label = "Result from " + toolName
	}

	s.ToolsByRun = appendTool(s.ToolsByRun, bucket, ToolItem{
		ID:        uuid.NewString(),
		RunID:     runID,
		EventType: eventType,
		ByAgent:   agentField(payload),
		Label:     label,
		CreatedAt: emittedAt,
		Payload:   payload,
	})
	return s
}

// applyChangeSetCreated 第一条创建路径: 概要与文档清单, 尚无 diff。
func applyChangeSetCreated(s State, threadID, runID string, payload map[string]any, emittedAt time.Time) State {
	changeSetID := strFieldOr(payload, "change_set_id", uuid.NewString())

	s.ChangeSets = upsertChangeSet(s.ChangeSets, changeSetID, threadID, changeSetPatch{
		runID:     sp(runID),
		createdBy: sp(strFieldOr(payload, "created_by", "agent")),
		summary:   strFieldPtr(payload, "summary"),
		status:    sp(ChangeSetStatusPending),
		createdAt: tp(timeField(payload, "emitted_at", emittedAt)),
		docs:      strSliceField(payload, "docs"),
	})
	return s
}

// applyApprovalRequired 第二条创建路径: 完整 diff 载荷与 interrupt id。
//
// change_set 不是对象时整体 no-op (全局簿记仍然生效)。
func applyApprovalRequired(s State, threadID, runID string, payload map[string]any, emittedAt time.Time) State {
	raw := mapField(payload, "change_set")
	if raw == nil {
		return s
	}

	changeSetID := strFieldOr(raw, "change_set_id", uuid.NewString())

	s.ChangeSets = upsertChangeSet(s.ChangeSets, changeSetID, threadID, changeSetPatch{
		runID:       sp(runID),
		interruptID: sp(strField(payload, "interrupt_id")),
		summary:     strFieldPtr(raw, "summary"),
		status:      sp(ChangeSetStatusPending),
		createdAt:   tp(timeField(payload, "emitted_at", emittedAt)),
		docs:        strSliceField(raw, "docs"),
		diffs:       strMapField(raw, "diffs"),
	})

	// 审批等待期间流在服务端挂起, 本地视作非 streaming。
	streaming := maps.Clone(s.StreamingByThread)
	streaming[threadID] = false
	s.StreamingByThread = streaming
	return s
}

// applyChangeSetDecision 状态迁移; 未知 change set id 严格 no-op,
// 决定事件本身绝不凭空造出变更集。
func applyChangeSetDecision(s State, eventType, threadID string, payload map[string]any, emittedAt time.Time) State {
	changeSetID := strField(payload, "change_set_id")
	if changeSetID == "" {
		return s
	}
	if _, ok := s.ChangeSets[changeSetID]; !ok {
		return s
	}

	status := map[string]string{
		maestro.EventChangeSetApproved:       ChangeSetStatusApproved,
		maestro.EventChangeSetRejected:       ChangeSetStatusRejected,
		maestro.EventChangeSetRequestChanges: ChangeSetStatusRequestChanges,
		maestro.EventChangeSetApplied:        ChangeSetStatusApplied,
	}[eventType]

	patch := changeSetPatch{
		status:    sp(status),
		decidedAt: tp(timeField(payload, "emitted_at", emittedAt)),
	}
	if note := strField(payload, "decision_note"); note != "" {
		patch.decisionNote = sp(note)
	}
	s.ChangeSets = upsertChangeSet(s.ChangeSets, changeSetID, threadID, patch)
	return s
}

func applyRunError(s State, threadID, runID string, payload map[string]any, emittedAt time.Time) State {
	errMsg := strFieldOr(payload, "error", "Run failed")

	streaming := maps.Clone(s.StreamingByThread)
	streaming[threadID] = false
	s.StreamingByThread = streaming

	errs := maps.Clone(s.ErrorByThread)
	errs[threadID] = errMsg
	s.ErrorByThread = errs

	if runID == "" {
		return s
	}

	current := maps.Clone(s.CurrentRunByThread)
	delete(current, threadID)
	s.CurrentRunByThread = current

	runs := maps.Clone(s.Runs)
	run := runs[runID]
	run.ID = runID
	run.ThreadID = threadID
	run.Status = RunStatusError
	run.Error = errMsg
	run.CompletedAt = timeField(payload, "completed_at", emittedAt)
	if run.Trigger == "" {
		run.Trigger = "chat"
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = emittedAt
	}
	runs[runID] = run
	s.Runs = runs
	return s
}

// applyRunCompleted 收尾 run。payload.status=waiting_approval 时 run 进入
// 等待审批态; runID 为空时仅释放线程当前 run, 不 upsert 任何 run 实体。
func applyRunCompleted(s State, threadID, runID string, payload map[string]any, emittedAt time.Time) State {
	streaming := maps.Clone(s.StreamingByThread)
	streaming[threadID] = false
	s.StreamingByThread = streaming

	current := maps.Clone(s.CurrentRunByThread)
	delete(current, threadID)
	s.CurrentRunByThread = current

	if runID == "" {
		return s
	}

	status := RunStatusCompleted
	if strField(payload, "status") == RunStatusWaitingApproval {
		status = RunStatusWaitingApproval
	}

	runs := maps.Clone(s.Runs)
	run := runs[runID]
	run.ID = runID
	run.ThreadID = threadID
	run.Status = status
	run.CompletedAt = timeField(payload, "completed_at", emittedAt)
	if run.Trigger == "" {
		run.Trigger = "chat"
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = emittedAt
	}
	runs[runID] = run
	s.Runs = runs
	return s
}
