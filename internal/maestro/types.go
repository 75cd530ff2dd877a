// types.go — 后端 REST 接口的 wire 类型 (snake_case)。
package maestro

import "encoding/json"

// Thread 会话线程。
type Thread struct {
	ThreadID           string  `json:"thread_id"`
	Title              string  `json:"title"`
	Status             string  `json:"status"`
	CreatedAt          string  `json:"created_at"`
	UpdatedAt          string  `json:"updated_at"`
	LastMessagePreview *string `json:"last_message_preview"`
}

// Doc 共享文档 (整体替换, 无局部 patch)。
type Doc struct {
	ThreadID    string  `json:"thread_id"`
	DocID       string  `json:"doc_id"`
	Title       string  `json:"title"`
	Content     string  `json:"content"`
	Description string  `json:"description"`
	Version     int     `json:"version"`
	UpdatedBy   *string `json:"updated_by"`
	UpdatedAt   *string `json:"updated_at"`
	CreatedAt   *string `json:"created_at"`
}

// Run 一次 agent 轮次执行。
type Run struct {
	RunID       string  `json:"run_id"`
	ThreadID    string  `json:"thread_id"`
	Trigger     string  `json:"trigger"`
	Status      string  `json:"status"`
	StartedAt   string  `json:"started_at"`
	CompletedAt *string `json:"completed_at"`
	Error       *string `json:"error"`
}

// AgentStatus 某 run 中单个 agent 的最新状态。
type AgentStatus struct {
	RunID    string  `json:"run_id"`
	ThreadID string  `json:"thread_id"`
	Agent    string  `json:"agent"`
	Status   string  `json:"status"`
	Note     *string `json:"note"`
	At       string  `json:"at"`
}

// DocChange 变更集中单个文档的前后内容与 diff。
type DocChange struct {
	DocID         string `json:"doc_id"`
	BeforeContent string `json:"before_content"`
	AfterContent  string `json:"after_content"`
	Diff          string `json:"diff"`
}

// Review 变更集的一次评审记录。
type Review struct {
	Decision   string  `json:"decision"`
	Comment    *string `json:"comment"`
	ReviewedBy string  `json:"reviewed_by"`
	ReviewedAt *string `json:"reviewed_at"`
}

// ChangeSet 待审批的文档编辑批次。
type ChangeSet struct {
	ChangeSetID  string            `json:"change_set_id"`
	ThreadID     string            `json:"thread_id"`
	RunID        *string           `json:"run_id"`
	InterruptID  *string           `json:"interrupt_id"`
	CreatedBy    string            `json:"created_by"`
	Summary      string            `json:"summary"`
	Status       string            `json:"status"`
	CreatedAt    *string           `json:"created_at"`
	DecidedAt    *string           `json:"decided_at"`
	DecisionNote *string           `json:"decision_note"`
	Docs         []string          `json:"docs"`
	Diffs        map[string]string `json:"diffs"`
	DocChanges   []DocChange       `json:"doc_changes,omitempty"`
	Reviews      []Review          `json:"reviews,omitempty"`
}

// MessageRow 落库的历史消息行。content 结构松散 (text 或 blocks)。
type MessageRow struct {
	MessageID string          `json:"message_id"`
	RunID     *string         `json:"run_id"`
	Role      string          `json:"role"`
	ByAgent   *string         `json:"by_agent"`
	Content   json.RawMessage `json:"content"`
	CreatedAt string          `json:"created_at"`
}

// Snapshot 线程快照: 可选集合统一缺省为空, reducer 不特判缺失。
type Snapshot struct {
	Thread        *Thread       `json:"thread"`
	Messages      []MessageRow  `json:"messages"`
	Docs          []Doc         `json:"docs"`
	Runs          []Run         `json:"runs"`
	AgentStatuses []AgentStatus `json:"agent_statuses"`
	ChangeSets    []ChangeSet   `json:"changesets"`
}

// Decision 审批决定的枚举。其他取值属于调用方契约违例。
type Decision string

const (
	DecisionApprove        Decision = "approve"
	DecisionReject         Decision = "reject"
	DecisionRequestChanges Decision = "request_changes"
)

// Valid 返回 decision 是否在枚举集合内。
func (d Decision) Valid() bool {
	switch d {
	case DecisionApprove, DecisionReject, DecisionRequestChanges:
		return true
	}
	return false
}
