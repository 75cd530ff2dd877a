// types.go — reducer 状态机的领域实体。
//
// 与 maestro 的 wire 类型分离: 这里的时间统一为 time.Time,
// 可空字符串统一为零值, 不保留 JSON 指针语义。
package workspace

import "time"

// 运行状态机: queued → running → {completed | waiting_approval | error}。
// run id 不复用; 重新进入 running 只能来自携带新 run id 的 run.started。
const (
	RunStatusQueued          = "queued"
	RunStatusRunning         = "running"
	RunStatusCompleted       = "completed"
	RunStatusWaitingApproval = "waiting_approval"
	RunStatusError           = "error"
)

// 变更集状态: pending 为唯一非终态。
const (
	ChangeSetStatusPending        = "pending"
	ChangeSetStatusApproved       = "approved"
	ChangeSetStatusRejected       = "rejected"
	ChangeSetStatusRequestChanges = "request_changes"
	ChangeSetStatusApplied        = "applied"
)

// 消息角色。
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
	RoleSystem    = "system"
)

// OrphanRunKey 承接缺少 run id 的工具事件的时间线桶。
const OrphanRunKey = "orphan"

// Thread 会话线程。事件携带未知 thread id 时按需物化占位线程。
type Thread struct {
	ID                 string
	Title              string
	Status             string
	CreatedAt          time.Time
	UpdatedAt          time.Time
	LastMessagePreview string
}

// Doc 共享文档, 在 State 中以 "threadID:docID" 为键。
type Doc struct {
	ThreadID    string
	DocID       string
	Title       string
	Content     string
	Description string
	Version     int
	UpdatedBy   string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Run 一次 agent 轮次。CompletedAt 零值表示尚未结束。
type Run struct {
	ID          string
	ThreadID    string
	Trigger     string
	Status      string
	StartedAt   time.Time
	CompletedAt time.Time
	Error       string
}

// AgentStatus 某 run 内单个 agent 的最新状态, 键 "runID:agent" (只保留最新)。
type AgentStatus struct {
	RunID    string
	ThreadID string
	Agent    string
	Status   string
	Note     string
	At       time.Time
}

// DocChange 变更集内单文档的前后内容。
type DocChange struct {
	DocID         string
	BeforeContent string
	AfterContent  string
	Diff          string
}

// Review 变更集的一条评审记录。
type Review struct {
	Decision   string
	Comment    string
	ReviewedBy string
	ReviewedAt time.Time
}

// ChangeSet 待审批的文档编辑批次。
//
// 同一逻辑实体有两条创建路径 (changeset.created 与 approval.required),
// 以 ID 归并, 见 mergeChangeSet。
type ChangeSet struct {
	ID           string
	ThreadID     string
	RunID        string
	InterruptID  string
	CreatedBy    string
	Summary      string
	Status       string
	CreatedAt    time.Time
	DecidedAt    time.Time
	DecisionNote string
	Docs         []string
	Diffs        map[string]string
	DocChanges   []DocChange
	Reviews      []Review
}

// Terminal 返回状态是否已离开 pending (终态不可回退)。
func (c ChangeSet) Terminal() bool {
	switch c.Status {
	case ChangeSetStatusApproved, ChangeSetStatusRejected,
		ChangeSetStatusRequestChanges, ChangeSetStatusApplied:
		return true
	}
	return false
}

// Message 会话消息。Streaming 为 true 表示 delta 仍在累积。
type Message struct {
	ID        string
	RunID     string
	Role      string
	ByAgent   string
	Content   string
	CreatedAt time.Time
	Streaming bool
}

// ToolItem 工具调用时间线条目, 按 run id 分桶。
type ToolItem struct {
	ID        string
	RunID     string
	EventType string
	ByAgent   string
	Label     string
	CreatedAt time.Time
	Payload   map[string]any
}
