// script.go — 聊天与审批两类 run 的脚本化事件回放。
package stubserver

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/raj-pulapakura/idea-maestro/internal/maestro"
	"github.com/raj-pulapakura/idea-maestro/pkg/util"
)

// emitter 接收脚本产出的单个事件 (SSE 写出 + watch 广播共用)。
type emitter func(eventType string, payload map[string]any)

// 出场的 agent 阵容。
const (
	agentMaestro      = "maestro"
	agentStrategist   = "product_strategist"
	agentTechLead     = "technical_lead"
	agentBusinessLead = "business_lead"
)

// editTriggers 用户消息包含这些词时, run 以待审批的文档编辑收尾。
var editTriggers = []string{"plan", "draft", "write", "update", "edit", "brief"}

// script 单次 run 的事件生产器: 统一信封字段与 event_id 序号。
//
// event 可被脚本 goroutine 与 keepalive 循环并发调用, seq 由锁保护。
type script struct {
	store      *Store
	threadID   string
	runID      string
	interval   time.Duration
	previewMax int
	emit       emitter

	mu  sync.Mutex
	seq int
}

func newScript(store *Store, threadID string, interval time.Duration, previewMax int, emit emitter) *script {
	return &script{
		store:      store,
		threadID:   threadID,
		runID:      uuid.NewString(),
		interval:   interval,
		previewMax: previewMax,
		emit:       emit,
	}
}

// event 补齐信封后投递。event_id 取 "{run_id}:{seq}"。
func (sc *script) event(eventType string, payload map[string]any) {
	sc.mu.Lock()
	sc.seq++
	seq := sc.seq
	sc.mu.Unlock()

	data := map[string]any{
		"event_id":   fmt.Sprintf("%s:%d", sc.runID, seq),
		"thread_id":  sc.threadID,
		"run_id":     sc.runID,
		"emitted_at": nowStamp(),
	}
	for k, v := range payload {
		data[k] = v
	}
	sc.emit(eventType, data)
}

// pause 节流 delta 输出; context 取消时立即放弃剩余脚本。
func (sc *script) pause(ctx context.Context) bool {
	select {
	case <-time.After(sc.interval):
		return true
	case <-ctx.Done():
		return false
	}
}

func (sc *script) agentStatus(agent, status, note string) {
	at := nowStamp()
	sc.store.PutAgentStatus(maestro.AgentStatus{
		RunID: sc.runID, ThreadID: sc.threadID, Agent: agent,
		Status: status, At: at, Note: notePtr(note),
	})
	payload := map[string]any{"agent": agent, "status": status, "at": at}
	if note != "" {
		payload["note"] = note
	}
	sc.event(maestro.EventAgentStatus, payload)
}

func notePtr(note string) *string {
	if note == "" {
		return nil
	}
	return &note
}

// streamAssistantMessage 按小块吐出正文再定稿, 并落库历史行。
func (sc *script) streamAssistantMessage(ctx context.Context, byAgent, text string) bool {
	messageID := uuid.NewString()
	for _, chunk := range chunked(text, 24) {
		sc.event(maestro.EventMessageDelta, map[string]any{
			"message_id": messageID,
			"delta":      chunk,
			"by_agent":   byAgent,
		})
		if !sc.pause(ctx) {
			return false
		}
	}
	sc.event(maestro.EventMessageCompleted, map[string]any{
		"message_id": messageID,
		"content":    text,
		"by_agent":   byAgent,
	})

	runID := sc.runID
	sc.store.AppendMessage(sc.threadID, maestro.MessageRow{
		MessageID: messageID,
		RunID:     &runID,
		Role:      "assistant",
		ByAgent:   &byAgent,
		Content:   []byte(fmt.Sprintf(`{"text":%q}`, text)),
		CreatedAt: nowStamp(),
	}, util.Truncate(text, sc.previewMax))
	return true
}

// chunked 按 rune 安全地切块。
func chunked(text string, size int) []string {
	runes := []rune(text)
	var out []string
	for start := 0; start < len(runes); start += size {
		end := start + size
		if end > len(runes) {
			end = len(runes)
		}
		out = append(out, string(runes[start:end]))
	}
	return out
}

// wantsEdit 判断该消息是否走文档编辑路径。
func wantsEdit(message string) bool {
	lowered := strings.ToLower(message)
	for _, trigger := range editTriggers {
		if strings.Contains(lowered, trigger) {
			return true
		}
	}
	return false
}

// PlayChat 回放一次用户消息触发的 run。
//
// 脚本: run.started → agent.status → 正文流 → 工具事件 → (可选)
// changeset.created + approval.required → run.completed。编辑路径
// run 以 waiting_approval 收尾并留下 pending 变更集。
func (sc *script) PlayChat(ctx context.Context, userMessage string) {
	startedAt := nowStamp()
	sc.store.PutRun(maestro.Run{
		RunID: sc.runID, ThreadID: sc.threadID,
		Trigger: "chat", Status: "running", StartedAt: startedAt,
	})
	sc.event(maestro.EventRunStarted, map[string]any{"trigger": "chat", "started_at": startedAt})

	sc.agentStatus(agentMaestro, "thinking", "routing the request")
	if !sc.pause(ctx) {
		return
	}

	sc.event(maestro.EventToolCall, map[string]any{
		"tool_name": "read_docs",
		"by_agent":  agentMaestro,
		"tool_call": map[string]any{"name": "read_docs", "args": map[string]any{"thread_id": sc.threadID}},
	})
	if !sc.pause(ctx) {
		return
	}
	sc.event(maestro.EventToolResult, map[string]any{
		"tool_name": "read_docs",
		"by_agent":  agentMaestro,
		"result":    "workspace docs loaded",
	})

	sc.agentStatus(agentStrategist, "drafting", "shaping the answer")
	reply := fmt.Sprintf(
		"Here's my take on %q. I reviewed the current workspace docs and summarized the direction; ask me to update a doc when you want the changes staged for review.",
		strings.TrimSpace(userMessage))
	if !sc.streamAssistantMessage(ctx, agentStrategist, reply) {
		return
	}
	sc.agentStatus(agentStrategist, "done", "")

	if wantsEdit(userMessage) {
		sc.stageDocEdit(userMessage)
		completedAt := nowStamp()
		sc.store.PutRun(maestro.Run{
			RunID: sc.runID, ThreadID: sc.threadID,
			Trigger: "chat", Status: "waiting_approval",
			StartedAt: startedAt, CompletedAt: &completedAt,
		})
		sc.event(maestro.EventRunCompleted, map[string]any{
			"status":       "waiting_approval",
			"completed_at": completedAt,
		})
		return
	}

	completedAt := nowStamp()
	sc.store.PutRun(maestro.Run{
		RunID: sc.runID, ThreadID: sc.threadID,
		Trigger: "chat", Status: "completed",
		StartedAt: startedAt, CompletedAt: &completedAt,
	})
	sc.event(maestro.EventRunCompleted, map[string]any{
		"status":       "completed",
		"completed_at": completedAt,
	})
}

// stageDocEdit 生成 pending 变更集并走两条创建路径。
func (sc *script) stageDocEdit(userMessage string) {
	changeSetID := uuid.NewString()
	interruptID := uuid.NewString()
	docID := "product_brief"
	after := fmt.Sprintf("# Product Brief\n\nUpdated in response to: %s\n", strings.TrimSpace(userMessage))

	before := ""
	if doc, err := sc.store.GetDoc(sc.threadID, docID); err == nil {
		before = doc.Content
	}
	diff := fmt.Sprintf("--- %s\n+++ %s\n-%s\n+%s", docID, docID, before, after)
	summary := "Update product brief with the latest direction"
	createdAt := nowStamp()
	runID := sc.runID

	cs := maestro.ChangeSet{
		ChangeSetID: changeSetID,
		ThreadID:    sc.threadID,
		RunID:       &runID,
		InterruptID: &interruptID,
		CreatedBy:   agentStrategist,
		Summary:     summary,
		Status:      "pending",
		CreatedAt:   &createdAt,
		Docs:        []string{docID},
		Diffs:       map[string]string{docID: diff},
		DocChanges: []maestro.DocChange{{
			DocID: docID, BeforeContent: before, AfterContent: after, Diff: diff,
		}},
	}
	sc.store.PutChangeSet(cs)

	sc.event(maestro.EventChangeSetCreated, map[string]any{
		"change_set_id": changeSetID,
		"created_by":    agentStrategist,
		"summary":       summary,
		"docs":          []any{docID},
	})
	// 嵌套 change_set 载荷即存储记录整体序列化。
	sc.event(maestro.EventApprovalRequired, map[string]any{
		"interrupt_id": interruptID,
		"change_set":   util.ToMapAny(cs),
	})
}

// PlayApproval 回放一次审批决定触发的 run。
//
// approve: 决定事件 → 文档落地 → changeset.applied → run.completed;
// reject / request_changes: 决定事件 → run.completed。
func (sc *script) PlayApproval(ctx context.Context, decision maestro.Decision, comment string) {
	startedAt := nowStamp()
	sc.store.PutRun(maestro.Run{
		RunID: sc.runID, ThreadID: sc.threadID,
		Trigger: "approval", Status: "running", StartedAt: startedAt,
	})
	sc.event(maestro.EventRunStarted, map[string]any{"trigger": "approval", "started_at": startedAt})

	pending, ok := sc.store.PendingChangeSet(sc.threadID)
	if !ok {
		sc.event(maestro.EventRunError, map[string]any{"error": "no pending changeset for this thread"})
		sc.store.PutRun(maestro.Run{
			RunID: sc.runID, ThreadID: sc.threadID,
			Trigger: "approval", Status: "error", StartedAt: startedAt,
		})
		return
	}

	status := map[maestro.Decision]string{
		maestro.DecisionApprove:        "approved",
		maestro.DecisionReject:         "rejected",
		maestro.DecisionRequestChanges: "request_changes",
	}[decision]
	decisionEvent := map[maestro.Decision]string{
		maestro.DecisionApprove:        maestro.EventChangeSetApproved,
		maestro.DecisionReject:         maestro.EventChangeSetRejected,
		maestro.DecisionRequestChanges: maestro.EventChangeSetRequestChanges,
	}[decision]

	decided, err := sc.store.DecideChangeSet(sc.threadID, pending.ChangeSetID, status, comment)
	if err != nil {
		sc.event(maestro.EventRunError, map[string]any{"error": err.Error()})
		return
	}

	payload := map[string]any{"change_set_id": decided.ChangeSetID}
	if comment != "" {
		payload["decision_note"] = comment
	}
	sc.event(decisionEvent, payload)
	if !sc.pause(ctx) {
		return
	}

	if decision == maestro.DecisionApprove {
		sc.agentStatus(agentTechLead, "applying", "writing approved edits")
		for _, change := range decided.DocChanges {
			sc.store.ApplyDocEdit(sc.threadID, change.DocID, change.AfterContent, decided.CreatedBy)
		}
		sc.store.MarkApplied(sc.threadID, decided.ChangeSetID)
		sc.event(maestro.EventChangeSetApplied, map[string]any{"change_set_id": decided.ChangeSetID})
	}

	note := fmt.Sprintf("Decision %q recorded for change set %s.", decision, decided.ChangeSetID)
	if !sc.streamAssistantMessage(ctx, agentMaestro, note) {
		return
	}

	completedAt := nowStamp()
	sc.store.PutRun(maestro.Run{
		RunID: sc.runID, ThreadID: sc.threadID,
		Trigger: "approval", Status: "completed",
		StartedAt: startedAt, CompletedAt: &completedAt,
	})
	sc.event(maestro.EventRunCompleted, map[string]any{
		"status":       "completed",
		"completed_at": completedAt,
	})
}
