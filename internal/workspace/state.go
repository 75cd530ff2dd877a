// state.go — 单值状态容器与复制工具。
package workspace

import (
	"maps"
	"time"
)

// State 是 reducer 折叠事件得到的全量工作区状态。
//
// 值语义: Apply 与各 hydrate 函数不修改入参, 返回携带变更的新 State
// (变更到的映射做浅拷贝, 未触及的映射原样共享)。调用方以单线程方式
// 串行替换整个值, 实体映射本身不需要锁。
type State struct {
	Threads       map[string]Thread
	Docs          map[string]Doc         // 键 "threadID:docID"
	Runs          map[string]Run         // 键 run id
	AgentStatuses map[string]AgentStatus // 键 "runID:agent"
	ChangeSets    map[string]ChangeSet   // 键 change set id

	MessagesByThread map[string][]Message
	ToolsByRun       map[string][]ToolItem // 键 run id 或 OrphanRunKey

	// 以下按线程独立, 不同线程的流互不干扰。
	CurrentRunByThread map[string]string
	StreamingByThread  map[string]bool
	ErrorByThread      map[string]string

	// 幂等集合: 重复投递的事件与已完结消息的迟到 delta 直接丢弃。
	SeenEventIDs        map[string]bool
	CompletedMessageIDs map[string]bool // 键 "threadID:messageID"
}

// NewState 返回全部映射已初始化的空状态。
func NewState() State {
	return State{
		Threads:             map[string]Thread{},
		Docs:                map[string]Doc{},
		Runs:                map[string]Run{},
		AgentStatuses:       map[string]AgentStatus{},
		ChangeSets:          map[string]ChangeSet{},
		MessagesByThread:    map[string][]Message{},
		ToolsByRun:          map[string][]ToolItem{},
		CurrentRunByThread:  map[string]string{},
		StreamingByThread:   map[string]bool{},
		ErrorByThread:       map[string]string{},
		SeenEventIDs:        map[string]bool{},
		CompletedMessageIDs: map[string]bool{},
	}
}

// DocKey 构造 Docs 映射键。
func DocKey(threadID, docID string) string { return threadID + ":" + docID }

// AgentKey 构造 AgentStatuses 映射键。
func AgentKey(runID, agent string) string { return runID + ":" + agent }

// MessageKey 构造 CompletedMessageIDs 映射键。
func MessageKey(threadID, messageID string) string { return threadID + ":" + messageID }

// CurrentRun 返回线程当前 run id, 无进行中 run 时为空串。
func (s State) CurrentRun(threadID string) string { return s.CurrentRunByThread[threadID] }

// Streaming 返回线程是否有活跃流。
func (s State) Streaming(threadID string) bool { return s.StreamingByThread[threadID] }

// ThreadError 返回线程当前错误, 无错误时为空串。
func (s State) ThreadError(threadID string) string { return s.ErrorByThread[threadID] }

// Messages 返回线程消息切片 (只读引用, 调用方不得修改)。
func (s State) Messages(threadID string) []Message { return s.MessagesByThread[threadID] }

// ========================================
// copy-on-write 辅助
// ========================================

// ensureThread 返回含占位线程的 Threads 副本; 已存在则仍复制 (写路径统一)。
func ensureThread(s State, threadID string, at time.Time) map[string]Thread {
	next := maps.Clone(s.Threads)
	if _, ok := next[threadID]; !ok {
		next[threadID] = Thread{
			ID:        threadID,
			Title:     "Untitled Thread",
			Status:    "active",
			CreatedAt: at,
			UpdatedAt: at,
		}
	}
	return next
}

// appendMessages 替换单线程消息切片, 其余线程共享底层数组。
func appendMessages(byThread map[string][]Message, threadID string, msgs []Message) map[string][]Message {
	next := maps.Clone(byThread)
	next[threadID] = msgs
	return next
}

// appendTool 向 run 桶追加一条工具条目。
func appendTool(byRun map[string][]ToolItem, runKey string, item ToolItem) map[string][]ToolItem {
	next := maps.Clone(byRun)
	bucket := byRun[runKey]
	out := make([]ToolItem, 0, len(bucket)+1)
	out = append(out, bucket...)
	out = append(out, item)
	next[runKey] = out
	return next
}

// upsertMessage 按 message id 更新或追加, 返回新切片。
func upsertMessage(msgs []Message, msg Message) []Message {
	for i, existing := range msgs {
		if existing.ID == msg.ID {
			out := make([]Message, len(msgs))
			copy(out, msgs)
			out[i] = msg
			return out
		}
	}
	out := make([]Message, 0, len(msgs)+1)
	out = append(out, msgs...)
	out = append(out, msg)
	return out
}

// findMessage 按 id 查找, 未找到返回零值与 false。
func findMessage(msgs []Message, messageID string) (Message, bool) {
	for _, m := range msgs {
		if m.ID == messageID {
			return m, true
		}
	}
	return Message{}, false
}
