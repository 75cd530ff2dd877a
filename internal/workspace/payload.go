// payload.go — 松散 payload 的防御式取值。
//
// 事件 payload 来自 JSON 泛型解码 (map[string]any), 字段可能缺失、
// 类型错乱或为 null; 所有取值失败都退化为零值或调用方给定的回退,
// 绝不 panic, 绝不中断事件折叠。
package workspace

import "time"

// strField 取字符串字段, 非字符串 (含缺失) 返回空串。
func strField(payload map[string]any, key string) string {
	v, _ := payload[key].(string)
	return v
}

// strFieldOr 取字符串字段, 失败时返回 fallback。
func strFieldOr(payload map[string]any, key, fallback string) string {
	if v, ok := payload[key].(string); ok && v != "" {
		return v
	}
	return fallback
}

// strFieldPtr 取字符串字段; 缺失或空串返回 nil, 供部分归并
// "有值才覆盖" 使用。
func strFieldPtr(payload map[string]any, key string) *string {
	if v, ok := payload[key].(string); ok && v != "" {
		return &v
	}
	return nil
}

// mapField 取嵌套对象字段, 非对象返回 nil。
func mapField(payload map[string]any, key string) map[string]any {
	v, _ := payload[key].(map[string]any)
	return v
}

// strSliceField 取字符串数组字段, 逐元素过滤非字符串项。
func strSliceField(payload map[string]any, key string) []string {
	raw, ok := payload[key].([]any)
	if !ok {
		return []string{}
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// strMapField 取 map[string]string 字段 (如 diffs), 过滤非字符串值。
func strMapField(payload map[string]any, key string) map[string]string {
	raw, ok := payload[key].(map[string]any)
	if !ok {
		return map[string]string{}
	}
	out := make(map[string]string, len(raw))
	for k, v := range raw {
		if s, ok := v.(string); ok {
			out[k] = s
		}
	}
	return out
}

// timeField 取 RFC3339 时间字段, 解析失败返回 fallback。
func timeField(payload map[string]any, key string, fallback time.Time) time.Time {
	s, ok := payload[key].(string)
	if !ok {
		return fallback
	}
	return parseTime(s, fallback)
}

// parseTime 解析 RFC3339(含纳秒) 时间串, 失败返回 fallback。
func parseTime(value string, fallback time.Time) time.Time {
	if value == "" {
		return fallback
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t
	}
	return fallback
}

// parseTimePtr 解析可空时间串指针, nil/失败返回零值。
func parseTimePtr(value *string) time.Time {
	if value == nil {
		return time.Time{}
	}
	return parseTime(*value, time.Time{})
}

// strPtr 解引用可空字符串, nil 返回空串。
func strPtr(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}

// agentField 取 by_agent 字段, 兼容历史 camelCase 写法。
func agentField(payload map[string]any) string {
	if v, ok := payload["by_agent"].(string); ok {
		return v
	}
	if v, ok := payload["byAgent"].(string); ok {
		return v
	}
	return ""
}

// toolNameField 按 tool_name > tool_call.name > "tool" 的优先级提取工具名。
func toolNameField(payload map[string]any) string {
	if v, ok := payload["tool_name"].(string); ok && v != "" {
		return v
	}
	if call := mapField(payload, "tool_call"); call != nil {
		if v, ok := call["name"].(string); ok && v != "" {
			return v
		}
	}
	return "tool"
}
