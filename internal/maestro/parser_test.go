// parser_test.go — SSE 块解析器行为契约。
package maestro

import (
	"reflect"
	"testing"
)

func TestFeedSingleBlock(t *testing.T) {
	p := NewChunkParser()
	events := p.Feed("event: message.delta\ndata: {\"message_id\":\"m1\",\"delta\":\"hi\"}\n\n")

	if len(events) != 1 {
		t.Fatalf("events = %d, want 1", len(events))
	}
	if events[0].Type != "message.delta" {
		t.Errorf("Type = %q, want message.delta", events[0].Type)
	}
	if events[0].Data["delta"] != "hi" {
		t.Errorf("delta = %v, want hi", events[0].Data["delta"])
	}
}

// TestFeedPartialFrame 分两次喂入的半截块与一次喂入结果一致。
func TestFeedPartialFrame(t *testing.T) {
	p := NewChunkParser()
	if got := p.Feed("event: message.delta\ndata: {\"message_id\":\"m1\",\"delta\":\"hel"); got != nil {
		t.Fatalf("partial frame yielded %d events, want 0", len(got))
	}
	events := p.Feed("lo\"}\n\n")
	if len(events) != 1 {
		t.Fatalf("events = %d, want 1", len(events))
	}

	whole := NewChunkParser()
	want := whole.Feed("event: message.delta\ndata: {\"message_id\":\"m1\",\"delta\":\"hello\"}\n\n")
	if !reflect.DeepEqual(events, want) {
		t.Errorf("fragmented = %+v, whole = %+v", events, want)
	}
}

func TestFeedMultipleBlocksInOneFragment(t *testing.T) {
	p := NewChunkParser()
	fragment := "event: run.started\ndata: {\"run_id\":\"r1\"}\n\n" +
		"event: keepalive\ndata: {}\n\n" +
		"event: run.completed\ndata: {\"run_id\":\"r1\""
	events := p.Feed(fragment)

	if len(events) != 2 {
		t.Fatalf("events = %d, want 2 (third block incomplete)", len(events))
	}
	if events[0].Type != "run.started" || events[1].Type != "keepalive" {
		t.Errorf("types = %q, %q", events[0].Type, events[1].Type)
	}

	tail := p.Feed("}\n\n")
	if len(tail) != 1 || tail[0].Type != "run.completed" {
		t.Fatalf("tail = %+v, want single run.completed", tail)
	}
}

// TestFeedDefaultEventType 无 event: 行时类型缺省为 message。
func TestFeedDefaultEventType(t *testing.T) {
	p := NewChunkParser()
	events := p.Feed("data: {\"x\":1}\n\n")
	if len(events) != 1 {
		t.Fatalf("events = %d, want 1", len(events))
	}
	if events[0].Type != DefaultEventType {
		t.Errorf("Type = %q, want %q", events[0].Type, DefaultEventType)
	}
}

// TestFeedMalformedPayload 解码失败的块仍投递, 以 raw 包装。
func TestFeedMalformedPayload(t *testing.T) {
	p := NewChunkParser()
	events := p.Feed("event: run.error\ndata: not json at all\n\n")
	if len(events) != 1 {
		t.Fatalf("events = %d, want 1 (malformed must not be dropped)", len(events))
	}
	if events[0].Data["raw"] != "not json at all" {
		t.Errorf("raw = %v", events[0].Data["raw"])
	}
}

// TestFeedMultiDataLines 多个 data: 行以 \n 连接后再解码。
func TestFeedMultiDataLines(t *testing.T) {
	p := NewChunkParser()
	events := p.Feed("data: {\"a\":\ndata: 1}\n\n")
	if len(events) != 1 {
		t.Fatalf("events = %d, want 1", len(events))
	}
	if events[0].Data["a"] != float64(1) {
		t.Errorf("a = %v, want 1", events[0].Data["a"])
	}
}

func TestFeedCRLFNormalized(t *testing.T) {
	p := NewChunkParser()
	events := p.Feed("event: keepalive\r\ndata: {}\r\n\r\n")
	if len(events) != 1 || events[0].Type != "keepalive" {
		t.Fatalf("events = %+v, want single keepalive", events)
	}
}

// TestFeedIgnoresComments SSE 注释行与无 data 块被跳过。
func TestFeedIgnoresComments(t *testing.T) {
	p := NewChunkParser()
	events := p.Feed(": ping\n\nevent: orphan\n\ndata: {\"k\":\"v\"}\n\n")
	if len(events) != 1 {
		t.Fatalf("events = %d, want 1", len(events))
	}
	if events[0].Data["k"] != "v" {
		t.Errorf("k = %v, want v", events[0].Data["k"])
	}
}

// TestFlushTrailingBlock EOF 时未终结但含 data 的尾块仍投递。
func TestFlushTrailingBlock(t *testing.T) {
	p := NewChunkParser()
	if got := p.Feed("event: run.completed\ndata: {\"run_id\":\"r9\"}"); got != nil {
		t.Fatalf("unterminated block yielded %d events early", len(got))
	}
	events := p.Flush()
	if len(events) != 1 || events[0].Type != "run.completed" {
		t.Fatalf("Flush = %+v, want single run.completed", events)
	}
	if again := p.Flush(); again != nil {
		t.Errorf("second Flush = %+v, want nil", again)
	}
}
