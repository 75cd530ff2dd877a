// util_test.go — 工具函数单元测试。
package util

import (
	"testing"
)

func TestToMapAnyPassthrough(t *testing.T) {
	in := map[string]any{"k": "v"}
	out := ToMapAny(in)
	if out["k"] != "v" {
		t.Fatalf("out[k] = %v, want v", out["k"])
	}
}

func TestToMapAnyFromStruct(t *testing.T) {
	type payload struct {
		ThreadID string `json:"thread_id"`
	}
	out := ToMapAny(payload{ThreadID: "t1"})
	if out["thread_id"] != "t1" {
		t.Fatalf("thread_id = %v, want t1", out["thread_id"])
	}
}

func TestClampInt(t *testing.T) {
	if got := ClampInt(5, 1, 10); got != 5 {
		t.Errorf("ClampInt(5,1,10) = %d, want 5", got)
	}
	if got := ClampInt(-3, 0, 10); got != 0 {
		t.Errorf("ClampInt(-3,0,10) = %d, want 0", got)
	}
	if got := ClampInt(99, 0, 10); got != 10 {
		t.Errorf("ClampInt(99,0,10) = %d, want 10", got)
	}
}

func TestEnvInt(t *testing.T) {
	t.Setenv("UTIL_TEST_INT", "42")
	if got := EnvInt("UTIL_TEST_INT", 7, 0); got != 42 {
		t.Errorf("EnvInt = %d, want 42", got)
	}
	t.Setenv("UTIL_TEST_INT", "oops")
	if got := EnvInt("UTIL_TEST_INT", 7, 0); got != 7 {
		t.Errorf("EnvInt invalid = %d, want default 7", got)
	}
	t.Setenv("UTIL_TEST_INT", "-5")
	if got := EnvInt("UTIL_TEST_INT", 7, 0); got != 0 {
		t.Errorf("EnvInt below min = %d, want 0", got)
	}
}

func TestLoadFromEnv(t *testing.T) {
	type cfg struct {
		Name    string `env:"UTIL_TEST_NAME" default:"fallback"`
		Limit   int    `env:"UTIL_TEST_LIMIT" default:"30" min:"1"`
		Enabled bool   `env:"UTIL_TEST_ENABLED" default:"true"`
		Skipped string
	}
	t.Setenv("UTIL_TEST_NAME", "maestro")
	t.Setenv("UTIL_TEST_LIMIT", "0")

	var c cfg
	LoadFromEnv(&c)

	if c.Name != "maestro" {
		t.Errorf("Name = %q, want maestro", c.Name)
	}
	if c.Limit != 1 {
		t.Errorf("Limit = %d, want min-clamped 1", c.Limit)
	}
	if !c.Enabled {
		t.Error("Enabled = false, want default true")
	}
	if c.Skipped != "" {
		t.Errorf("Skipped = %q, want untouched", c.Skipped)
	}
}

func TestFirstNonEmpty(t *testing.T) {
	if got := FirstNonEmpty("  ", "", "hello", "world"); got != "hello" {
		t.Errorf("FirstNonEmpty = %q, want hello", got)
	}
	if got := FirstNonEmpty("  ", ""); got != "" {
		t.Errorf("FirstNonEmpty empty = %q, want \"\"", got)
	}
}

func TestTruncate(t *testing.T) {
	if got := Truncate("short", 10); got != "short" {
		t.Errorf("Truncate(short,10) = %q", got)
	}
	got := Truncate("a very long preview line", 10)
	if len([]rune(got)) != 10 {
		t.Errorf("Truncate rune len = %d, want 10", len([]rune(got)))
	}
	if got[len(got)-len("…"):] != "…" {
		t.Errorf("Truncate = %q, want ellipsis suffix", got)
	}
}
