// views_test.go — 时间线/审计序列/待审批三个只读投影的测试。
package workspace

import (
	"testing"
	"time"
)

func ts(t *testing.T, value string) time.Time {
	t.Helper()
	parsed, err := time.Parse(time.RFC3339, value)
	if err != nil {
		t.Fatalf("parse %q: %v", value, err)
	}
	return parsed
}

func viewFixture(t *testing.T) State {
	t.Helper()
	s := NewState()
	s.Threads["t1"] = Thread{ID: "t1", Title: "Demo"}
	s.Runs["r1"] = Run{
		ID: "r1", ThreadID: "t1", Trigger: "chat", Status: RunStatusCompleted,
		StartedAt:   ts(t, "2026-02-01T10:00:00Z"),
		CompletedAt: ts(t, "2026-02-01T10:00:30Z"),
	}
	s.Runs["other"] = Run{
		ID: "other", ThreadID: "t2", Trigger: "chat", Status: RunStatusRunning,
		StartedAt: ts(t, "2026-02-01T09:00:00Z"),
	}
	s.MessagesByThread["t1"] = []Message{
		{ID: "m1", Role: RoleUser, Content: "hi", CreatedAt: ts(t, "2026-02-01T10:00:01Z")},
		{ID: "m2", RunID: "r1", Role: RoleAssistant, Content: "hello", CreatedAt: ts(t, "2026-02-01T10:00:10Z")},
	}
	s.ToolsByRun["r1"] = []ToolItem{
		{ID: "tool-a", RunID: "r1", EventType: "tool.call", Label: "Calling web_search", CreatedAt: ts(t, "2026-02-01T10:00:05Z")},
	}
	s.ToolsByRun["other"] = []ToolItem{
		{ID: "tool-x", RunID: "other", EventType: "tool.call", Label: "Calling x", CreatedAt: ts(t, "2026-02-01T09:00:05Z")},
	}
	s.AgentStatuses[AgentKey("r1", "maestro")] = AgentStatus{
		RunID: "r1", ThreadID: "t1", Agent: "maestro", Status: "thinking",
		At: ts(t, "2026-02-01T10:00:02Z"),
	}
	s.ChangeSets["cs1"] = ChangeSet{
		ID: "cs1", ThreadID: "t1", RunID: "r1", Status: ChangeSetStatusApproved,
		Summary:   "Edit brief",
		CreatedAt: ts(t, "2026-02-01T10:00:20Z"),
		DecidedAt: ts(t, "2026-02-01T10:00:25Z"),
		Docs:      []string{"product_brief"},
	}
	return s
}

func TestBuildTimelineOrdering(t *testing.T) {
	s := viewFixture(t)
	entries := BuildTimeline(s, "t1")

	want := []string{"m-m1", "t-tool-a", "m-m2"}
	if len(entries) != len(want) {
		t.Fatalf("entries = %d (%+v), want %d", len(entries), entries, len(want))
	}
	for i, id := range want {
		if entries[i].ID != id {
			t.Errorf("entries[%d].ID = %q, want %q", i, entries[i].ID, id)
		}
	}
}

// TestBuildTimelineTieBreak 时间戳相同的条目按 id 字典序定序。
func TestBuildTimelineTieBreak(t *testing.T) {
	s := NewState()
	at := ts(t, "2026-02-01T10:00:00Z")
	s.Runs["r1"] = Run{ID: "r1", ThreadID: "t1", StartedAt: at}
	s.MessagesByThread["t1"] = []Message{
		{ID: "zzz", Role: RoleAssistant, CreatedAt: at},
		{ID: "aaa", Role: RoleUser, CreatedAt: at},
	}
	s.ToolsByRun["r1"] = []ToolItem{{ID: "mmm", RunID: "r1", CreatedAt: at}}

	entries := BuildTimeline(s, "t1")
	want := []string{"m-aaa", "m-zzz", "t-mmm"}
	for i, id := range want {
		if entries[i].ID != id {
			t.Fatalf("entries[%d].ID = %q, want %q", i, entries[i].ID, id)
		}
	}

	// 同一输入的重复求值产出同一顺序。
	again := BuildTimeline(s, "t1")
	for i := range entries {
		if entries[i].ID != again[i].ID {
			t.Fatalf("ordering unstable at %d: %q vs %q", i, entries[i].ID, again[i].ID)
		}
	}
}

func TestBuildTimelineExcludesOtherThreadTools(t *testing.T) {
	s := viewFixture(t)
	for _, entry := range BuildTimeline(s, "t1") {
		if entry.ID == "t-tool-x" {
			t.Fatal("tool from another thread's run leaked into timeline")
		}
	}
}

func TestBuildRunLogReverseChronological(t *testing.T) {
	s := viewFixture(t)
	entries := BuildRunLog(s, "t1")

	if len(entries) == 0 {
		t.Fatal("empty run log")
	}
	for i := 1; i < len(entries); i++ {
		if entries[i].CreatedAt.After(entries[i-1].CreatedAt) {
			t.Fatalf("entries[%d] newer than entries[%d]", i, i-1)
		}
	}
	if entries[0].ID != "run:r1:completed" {
		t.Errorf("entries[0].ID = %q, want run:r1:completed (newest first)", entries[0].ID)
	}

	ids := map[string]bool{}
	for _, e := range entries {
		ids[e.ID] = true
	}
	for _, want := range []string{
		"run:r1:started", "run:r1:completed",
		"changeset:cs1:created", "changeset:cs1:decided",
		"tool:tool-a",
	} {
		if !ids[want] {
			t.Errorf("run log missing %q", want)
		}
	}
	if ids["run:other:started"] || ids["tool:tool-x"] {
		t.Error("other thread's entries leaked into run log")
	}
}

func TestBuildRunLogEmptyThread(t *testing.T) {
	if got := BuildRunLog(viewFixture(t), ""); len(got) != 0 {
		t.Fatalf("entries = %d, want 0", len(got))
	}
	if got := BuildRunLog(NewState(), "t1"); len(got) != 0 {
		t.Fatalf("entries = %d, want 0 for unknown thread", len(got))
	}
}

func TestFindPendingApprovalNone(t *testing.T) {
	// cs1 已 approved, 无 pending 是正常结果而非错误。
	if _, ok := FindPendingApproval(viewFixture(t), "t1"); ok {
		t.Fatal("found approval on thread with no pending changesets")
	}
	if _, ok := FindPendingApproval(NewState(), ""); ok {
		t.Fatal("found approval for empty thread id")
	}
}

// TestFindPendingApprovalEarliest 多个 pending 时取创建最早者, 同刻取 id 小者。
func TestFindPendingApprovalEarliest(t *testing.T) {
	s := NewState()
	s.ChangeSets["late"] = ChangeSet{
		ID: "late", ThreadID: "t1", Status: ChangeSetStatusPending,
		InterruptID: "int-late", CreatedAt: ts(t, "2026-02-01T11:00:00Z"),
	}
	s.ChangeSets["cs-b"] = ChangeSet{
		ID: "cs-b", ThreadID: "t1", Status: ChangeSetStatusPending,
		CreatedAt: ts(t, "2026-02-01T10:00:00Z"),
	}
	s.ChangeSets["cs-a"] = ChangeSet{
		ID: "cs-a", ThreadID: "t1", Status: ChangeSetStatusPending,
		InterruptID: "int-a", Summary: "S",
		Docs:      []string{"d"},
		Diffs:     map[string]string{"d": "diff"},
		CreatedAt: ts(t, "2026-02-01T10:00:00Z"),
	}
	s.ChangeSets["other-thread"] = ChangeSet{
		ID: "other-thread", ThreadID: "t2", Status: ChangeSetStatusPending,
		CreatedAt: ts(t, "2026-02-01T09:00:00Z"),
	}

	pending, ok := FindPendingApproval(s, "t1")
	if !ok {
		t.Fatal("no pending approval found")
	}
	if pending.ChangeSetID != "cs-a" {
		t.Fatalf("ChangeSetID = %q, want cs-a", pending.ChangeSetID)
	}
	if pending.InterruptID != "int-a" || pending.Summary != "S" {
		t.Errorf("view = %+v", pending)
	}
	if pending.Diffs["d"] != "diff" {
		t.Errorf("Diffs = %v", pending.Diffs)
	}
}
