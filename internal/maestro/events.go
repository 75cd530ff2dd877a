// events.go — 流事件信封与事件类型常量。
package maestro

// 后端 SSE 流的事件类型。未知类型照常投递, 由 reducer 降级为 no-op。
const (
	EventRunStarted              = "run.started"
	EventRunCompleted            = "run.completed"
	EventRunError                = "run.error"
	EventAgentStatus             = "agent.status"
	EventKeepalive               = "keepalive"
	EventMessageDelta            = "message.delta"
	EventMessageCompleted        = "message.completed"
	EventToolCall                = "tool.call"
	EventToolResult              = "tool.result"
	EventChangeSetCreated        = "changeset.created"
	EventApprovalRequired        = "approval.required"
	EventChangeSetApproved       = "changeset.approved"
	EventChangeSetRejected       = "changeset.rejected"
	EventChangeSetRequestChanges = "changeset.request_changes"
	EventChangeSetApplied        = "changeset.applied"

	// DefaultEventType SSE 块缺少 event: 行时的默认类型。
	DefaultEventType = "message"
)

// StreamEvent 解析后的 (type, data) 事件信封。
//
// Data 是松散类型映射: payload JSON 解码失败时不丢弃事件,
// 而是投递 {"raw": 原文} 包装, 下游防御式读取。
type StreamEvent struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data"`
}

// Sink 逐事件回调, 按到达顺序调用。
type Sink func(StreamEvent)
