// hydrate_test.go — 快照水合与流生命周期标记的测试。
package workspace

import (
	"encoding/json"
	"testing"

	"github.com/raj-pulapakura/idea-maestro/internal/maestro"
)

func strp(s string) *string { return &s }

func TestApplySnapshotHydratesAll(t *testing.T) {
	snap := maestro.Snapshot{
		Thread: &maestro.Thread{
			ThreadID: "t1", Title: "Launch plan", Status: "active",
			CreatedAt: "2026-02-01T09:00:00Z", UpdatedAt: "2026-02-01T10:00:00Z",
		},
		Messages: []maestro.MessageRow{
			{MessageID: "m1", Role: "user", Content: json.RawMessage(`{"text":"hi"}`), CreatedAt: "2026-02-01T09:30:00Z"},
			{MessageID: "m2", Role: "assistant", ByAgent: strp("maestro"), Content: json.RawMessage(`{"blocks":[{"type":"text","text":"hel"},{"type":"text","text":"lo"}]}`), CreatedAt: "2026-02-01T09:31:00Z"},
		},
		Docs: []maestro.Doc{
			{ThreadID: "t1", DocID: "product_brief", Title: "Product Brief", Content: "# Brief", Version: 3},
		},
		Runs: []maestro.Run{
			{RunID: "r1", ThreadID: "t1", Trigger: "chat", Status: "completed", StartedAt: "2026-02-01T09:29:00Z", CompletedAt: strp("2026-02-01T09:32:00Z")},
		},
		AgentStatuses: []maestro.AgentStatus{
			{RunID: "r1", ThreadID: "t1", Agent: "maestro", Status: "done", At: "2026-02-01T09:32:00Z"},
		},
		ChangeSets: []maestro.ChangeSet{
			{ChangeSetID: "cs1", ThreadID: "t1", CreatedBy: "agent", Summary: "S", Status: "approved",
				CreatedAt: strp("2026-02-01T09:31:30Z"), DecidedAt: strp("2026-02-01T09:32:00Z")},
		},
	}

	s := ApplySnapshot(NewState(), "t1", snap)

	if s.Threads["t1"].Title != "Launch plan" {
		t.Errorf("thread = %+v", s.Threads["t1"])
	}
	msgs := s.Messages("t1")
	if len(msgs) != 2 {
		t.Fatalf("messages = %d, want 2", len(msgs))
	}
	if msgs[0].Content != "hi" || msgs[0].Role != RoleUser {
		t.Errorf("msgs[0] = %+v", msgs[0])
	}
	if msgs[1].Content != "hello" {
		t.Errorf("msgs[1].Content = %q, want blocks joined", msgs[1].Content)
	}
	if s.Docs[DocKey("t1", "product_brief")].Version != 3 {
		t.Errorf("doc = %+v", s.Docs[DocKey("t1", "product_brief")])
	}
	if s.Runs["r1"].Status != RunStatusCompleted || s.Runs["r1"].CompletedAt.IsZero() {
		t.Errorf("run = %+v", s.Runs["r1"])
	}
	if s.AgentStatuses[AgentKey("r1", "maestro")].Status != "done" {
		t.Error("agent status missing")
	}
	if s.ChangeSets["cs1"].Status != ChangeSetStatusApproved {
		t.Errorf("changeset = %+v", s.ChangeSets["cs1"])
	}
}

// TestApplySnapshotThenDecisionEvent 快照水合的变更集可被后续决定事件迁移。
func TestApplySnapshotThenDecisionEvent(t *testing.T) {
	snap := maestro.Snapshot{
		ChangeSets: []maestro.ChangeSet{
			{ChangeSetID: "cs1", ThreadID: "t1", Status: "pending", CreatedAt: strp("2026-02-01T09:00:00Z")},
		},
	}
	s := ApplySnapshot(NewState(), "t1", snap)
	s = Apply(s, maestro.StreamEvent{Type: maestro.EventChangeSetApplied, Data: map[string]any{
		"thread_id": "t1", "event_id": "r1:1", "change_set_id": "cs1",
		"emitted_at": "2026-02-01T09:05:00Z",
	}})

	if got := s.ChangeSets["cs1"].Status; got != ChangeSetStatusApplied {
		t.Fatalf("Status = %q, want applied", got)
	}
}

func TestHistoryMessagesLooseContent(t *testing.T) {
	rows := []maestro.MessageRow{
		{Role: "user", Content: json.RawMessage(`"plain string"`)},
		{Role: "weird-role", Content: json.RawMessage(`{"blocks":["a",{"text":"b"},7]}`)},
		{Role: "tool", Content: json.RawMessage(`{"unknown":true}`)},
		{Role: "assistant", Content: nil},
	}
	msgs := historyMessages(rows)
	if len(msgs) != 4 {
		t.Fatalf("messages = %d, want 4 (unparseable content keeps the row)", len(msgs))
	}
	if msgs[0].Content != "plain string" {
		t.Errorf("msgs[0].Content = %q", msgs[0].Content)
	}
	if msgs[1].Content != "ab" {
		t.Errorf("msgs[1].Content = %q, want ab", msgs[1].Content)
	}
	if msgs[1].Role != RoleAssistant {
		t.Errorf("unknown role = %q, want assistant fallback", msgs[1].Role)
	}
	if msgs[2].Content != "" || msgs[3].Content != "" {
		t.Error("unrecognized content must degrade to empty")
	}
	if msgs[3].ID != "history-3" {
		t.Errorf("fallback id = %q", msgs[3].ID)
	}
}

func TestPushUserMessageMaterializesThread(t *testing.T) {
	s := PushUserMessage(NewState(), "t9", Message{ID: "u1", Role: RoleUser, Content: "hi"})
	if _, ok := s.Threads["t9"]; !ok {
		t.Fatal("thread not materialized")
	}
	if len(s.Messages("t9")) != 1 {
		t.Fatalf("messages = %d, want 1", len(s.Messages("t9")))
	}
}

func TestBeginStreamClearsError(t *testing.T) {
	s := FailStream(NewState(), "t1", "old failure")
	s = BeginStream(s, "t1")

	if s.ThreadError("t1") != "" {
		t.Error("error not cleared by stream start")
	}
	if !s.Streaming("t1") {
		t.Error("Streaming = false")
	}
}

// TestFailStreamRetainsEntities 流中途失败: 错误入线程, 已折叠实体保留。
func TestFailStreamRetainsEntities(t *testing.T) {
	s := NewState()
	s = BeginStream(s, "t1")
	s = Apply(s, maestro.StreamEvent{Type: maestro.EventMessageDelta, Data: map[string]any{
		"thread_id": "t1", "event_id": "r1:1", "message_id": "m1", "delta": "partial",
		"emitted_at": "2026-02-01T10:00:00Z",
	}})
	s = FailStream(s, "t1", "read timed out")

	if got := s.ThreadError("t1"); got != "read timed out" {
		t.Errorf("ThreadError = %q", got)
	}
	if len(s.Messages("t1")) != 1 || s.Messages("t1")[0].Content != "partial" {
		t.Error("previously reconciled message lost on stream failure")
	}
}

func TestFinishStreamKeepsErrorState(t *testing.T) {
	s := FailStream(NewState(), "t1", "boom")
	s = FinishStream(s, "t1")
	if s.ThreadError("t1") != "boom" {
		t.Error("FinishStream cleared an error it must preserve")
	}
}

func TestApplyThreadsOverwritesById(t *testing.T) {
	s := ApplyThreads(NewState(), []maestro.Thread{
		{ThreadID: "t1", Title: "Old", Status: "active", CreatedAt: "2026-02-01T09:00:00Z", UpdatedAt: "2026-02-01T09:00:00Z"},
	})
	s = ApplyThreads(s, []maestro.Thread{
		{ThreadID: "t1", Title: "New", Status: "active", CreatedAt: "2026-02-01T09:00:00Z", UpdatedAt: "2026-02-01T10:00:00Z", LastMessagePreview: strp("latest")},
		{ThreadID: "", Title: "dropped"},
	})

	if len(s.Threads) != 1 {
		t.Fatalf("threads = %d, want 1", len(s.Threads))
	}
	if s.Threads["t1"].Title != "New" || s.Threads["t1"].LastMessagePreview != "latest" {
		t.Errorf("thread = %+v", s.Threads["t1"])
	}
}

func TestUpsertDocReplacesWholeDoc(t *testing.T) {
	s := UpsertDoc(NewState(), maestro.Doc{ThreadID: "t1", DocID: "d1", Title: "T", Content: "v1", Version: 1})
	s = UpsertDoc(s, maestro.Doc{ThreadID: "t1", DocID: "d1", Title: "T", Content: "v2", Version: 2})

	doc := s.Docs[DocKey("t1", "d1")]
	if doc.Content != "v2" || doc.Version != 2 {
		t.Fatalf("doc = %+v", doc)
	}
}
