// parser.go — SSE 块解析器: 字节流 → 离散 (type, data) 事件。
package maestro

import (
	"encoding/json"
	"strings"
)

// ChunkParser 将增量文本片段切分为完整 SSE 块并解码。
//
// 块以空行分隔; 每块含 0..1 个 "event:" 行和 1..n 个 "data:" 行
// (多行 data 以 \n 连接后再做 JSON 解码)。跨片段的半截块保留在
// carry-over 缓冲里, 等后续片段补齐。一个 ChunkParser 绑定一条流,
// 不可复用于新的字节源。
type ChunkParser struct {
	buf strings.Builder
}

// NewChunkParser 创建空缓冲解析器。
func NewChunkParser() *ChunkParser {
	return &ChunkParser{}
}

// Feed 吞入一个文本片段, 返回其中完整块解出的事件 (可能为空)。
//
// 片段可以只含半个块, 也可以一次带多个块; CRLF 统一归一为 LF。
func (p *ChunkParser) Feed(fragment string) []StreamEvent {
	if fragment == "" {
		return nil
	}
	p.buf.WriteString(strings.ReplaceAll(fragment, "\r\n", "\n"))

	pending := p.buf.String()
	blocks := strings.Split(pending, "\n\n")
	if len(blocks) == 1 {
		// 尚未出现块分隔符, 全部留作 carry-over。
		return nil
	}

	// 最后一段是未终结的半截块, 留到下一次 Feed。
	rest := blocks[len(blocks)-1]
	blocks = blocks[:len(blocks)-1]
	p.buf.Reset()
	p.buf.WriteString(rest)

	var events []StreamEvent
	for _, block := range blocks {
		if ev, ok := parseEventBlock(block); ok {
			events = append(events, ev)
		}
	}
	return events
}

// Flush 返回缓冲中残留的最后一个块 (流结束时调用)。
//
// 未以空行收尾但包含 data 行的尾块仍然投递, 避免丢失最后一个事件。
func (p *ChunkParser) Flush() []StreamEvent {
	rest := p.buf.String()
	p.buf.Reset()
	if strings.TrimSpace(rest) == "" {
		return nil
	}
	if ev, ok := parseEventBlock(rest); ok {
		return []StreamEvent{ev}
	}
	return nil
}

// parseEventBlock 解析一个完整块。没有 data 行的块 (如注释/空块) 丢弃。
func parseEventBlock(block string) (StreamEvent, bool) {
	eventType := DefaultEventType
	var dataLines []string

	for _, rawLine := range strings.Split(block, "\n") {
		line := strings.TrimRight(rawLine, " \t")
		switch {
		case strings.HasPrefix(line, ":"):
			// SSE 注释行
		case strings.HasPrefix(line, "event:"):
			eventType = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			dataLines = append(dataLines, strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		}
	}

	if len(dataLines) == 0 {
		return StreamEvent{}, false
	}

	dataText := strings.Join(dataLines, "\n")
	var payload map[string]any
	if err := json.Unmarshal([]byte(dataText), &payload); err != nil || payload == nil {
		// 解码失败不中断流: 以 raw 包装投递。
		return StreamEvent{Type: eventType, Data: map[string]any{"raw": dataText}}, true
	}
	return StreamEvent{Type: eventType, Data: payload}, true
}
