// store_test.go — 内存存储的行为测试。
package stubserver

import (
	"errors"
	"testing"

	"github.com/raj-pulapakura/idea-maestro/internal/maestro"
	apperrors "github.com/raj-pulapakura/idea-maestro/pkg/errors"
)

func TestEnsureThreadSeedsDocs(t *testing.T) {
	s := NewStore()
	s.EnsureThread("t1")

	docs, err := s.ListDocs("t1")
	if err != nil {
		t.Fatalf("ListDocs: %v", err)
	}
	if len(docs) != len(seededDocs) {
		t.Fatalf("len(docs) = %d, want %d", len(docs), len(seededDocs))
	}
	found := false
	for _, d := range docs {
		if d.DocID == "product_brief" {
			found = true
			if d.Version != 1 {
				t.Fatalf("product_brief version = %d, want 1", d.Version)
			}
		}
	}
	if !found {
		t.Fatalf("product_brief missing from seeded docs")
	}
}

func TestEnsureThreadIsIdempotent(t *testing.T) {
	s := NewStore()
	first := s.EnsureThread("t1")
	s.ApplyDocEdit("t1", "product_brief", "edited", "maestro")
	second := s.EnsureThread("t1")

	if first.ThreadID != second.ThreadID {
		t.Fatalf("thread id changed across EnsureThread calls")
	}
	doc, err := s.GetDoc("t1", "product_brief")
	if err != nil {
		t.Fatalf("GetDoc: %v", err)
	}
	if doc.Content != "edited" {
		t.Fatalf("re-ensure reseeded docs: content = %q", doc.Content)
	}
}

func TestUpdateThread(t *testing.T) {
	s := NewStore()
	s.CreateThread("t1", "Old title")

	updated, err := s.UpdateThread("t1", "New title", "archived")
	if err != nil {
		t.Fatalf("UpdateThread: %v", err)
	}
	if updated.Title != "New title" || updated.Status != "archived" {
		t.Errorf("updated = %+v", updated)
	}

	// 空字段保持原值
	kept, err := s.UpdateThread("t1", "", "active")
	if err != nil {
		t.Fatalf("UpdateThread keep title: %v", err)
	}
	if kept.Title != "New title" || kept.Status != "active" {
		t.Errorf("kept = %+v", kept)
	}

	if _, err := s.UpdateThread("t1", "", "deleted"); !errors.Is(err, apperrors.ErrInvalidInput) {
		t.Errorf("bad status err = %v, want ErrInvalidInput", err)
	}
	if _, err := s.UpdateThread("missing", "x", ""); !errors.Is(err, apperrors.ErrNotFound) {
		t.Errorf("missing thread err = %v, want ErrNotFound", err)
	}
}

func TestListThreadsOrdering(t *testing.T) {
	s := NewStore()
	s.CreateThread("t1", "First")
	s.CreateThread("t2", "Second")

	// 向 t1 追加消息使其 updated_at 前移。
	s.AppendMessage("t1", maestro.MessageRow{
		MessageID: "m1", Role: "user",
		Content: []byte(`{"text":"hello"}`), CreatedAt: nowStamp(),
	}, "hello")

	threads := s.ListThreads(10, 0)
	if len(threads) != 2 {
		t.Fatalf("len(threads) = %d, want 2", len(threads))
	}
	if threads[0].ThreadID != "t1" {
		t.Fatalf("threads[0] = %s, want t1 (most recently updated first)", threads[0].ThreadID)
	}
	if threads[0].LastMessagePreview == nil || *threads[0].LastMessagePreview != "hello" {
		t.Fatalf("last_message_preview = %v, want hello", threads[0].LastMessagePreview)
	}

	page := s.ListThreads(1, 1)
	if len(page) != 1 || page[0].ThreadID != "t2" {
		t.Fatalf("offset page = %+v, want only t2", page)
	}
}

func TestSnapshotNotFound(t *testing.T) {
	s := NewStore()
	if _, err := s.Snapshot("missing"); !errors.Is(err, apperrors.ErrNotFound) {
		t.Fatalf("Snapshot err = %v, want ErrNotFound", err)
	}
}

func TestSnapshotCollectionsNonNil(t *testing.T) {
	s := NewStore()
	s.EnsureThread("t1")
	snap, err := s.Snapshot("t1")
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if snap.Thread == nil {
		t.Fatalf("snapshot thread is nil")
	}
	if snap.Messages == nil || snap.Runs == nil || snap.AgentStatuses == nil || snap.ChangeSets == nil {
		t.Fatalf("snapshot has nil collections: %+v", snap)
	}
	if len(snap.Docs) != len(seededDocs) {
		t.Fatalf("snapshot docs = %d, want %d", len(snap.Docs), len(seededDocs))
	}
}

func TestApplyDocEditBumpsVersion(t *testing.T) {
	s := NewStore()
	s.EnsureThread("t1")
	s.ApplyDocEdit("t1", "product_brief", "v2 content", "technical_lead")

	doc, err := s.GetDoc("t1", "product_brief")
	if err != nil {
		t.Fatalf("GetDoc: %v", err)
	}
	if doc.Version != 2 {
		t.Fatalf("version = %d, want 2", doc.Version)
	}
	if doc.Content != "v2 content" {
		t.Fatalf("content = %q, want %q", doc.Content, "v2 content")
	}
	if doc.UpdatedBy == nil || *doc.UpdatedBy != "technical_lead" {
		t.Fatalf("updated_by = %v, want technical_lead", doc.UpdatedBy)
	}
}

func TestDecideChangeSetIsFinal(t *testing.T) {
	s := NewStore()
	s.EnsureThread("t1")
	s.PutChangeSet(maestro.ChangeSet{
		ChangeSetID: "cs1", ThreadID: "t1",
		CreatedBy: "product_strategist", Summary: "edit brief",
		Status: "pending", Docs: []string{"product_brief"},
	})

	decided, err := s.DecideChangeSet("t1", "cs1", "approved", "lgtm")
	if err != nil {
		t.Fatalf("DecideChangeSet: %v", err)
	}
	if decided.Status != "approved" {
		t.Fatalf("status = %q, want approved", decided.Status)
	}
	if len(decided.Reviews) != 1 || decided.Reviews[0].Decision != "approved" {
		t.Fatalf("reviews = %+v, want single approved review", decided.Reviews)
	}

	if _, err := s.DecideChangeSet("t1", "cs1", "rejected", ""); !errors.Is(err, apperrors.ErrInvalidInput) {
		t.Fatalf("second decision err = %v, want ErrInvalidInput", err)
	}
}

func TestPendingChangeSetPicksEarliest(t *testing.T) {
	s := NewStore()
	s.EnsureThread("t1")
	early := "2026-01-01T00:00:00Z"
	late := "2026-01-02T00:00:00Z"
	s.PutChangeSet(maestro.ChangeSet{ChangeSetID: "cs-late", ThreadID: "t1", Status: "pending", CreatedAt: &late})
	s.PutChangeSet(maestro.ChangeSet{ChangeSetID: "cs-early", ThreadID: "t1", Status: "pending", CreatedAt: &early})
	s.PutChangeSet(maestro.ChangeSet{ChangeSetID: "cs-done", ThreadID: "t1", Status: "approved", CreatedAt: &early})

	pending, ok := s.PendingChangeSet("t1")
	if !ok {
		t.Fatalf("PendingChangeSet found nothing")
	}
	if pending.ChangeSetID != "cs-early" {
		t.Fatalf("pending = %s, want cs-early", pending.ChangeSetID)
	}
}
