package botlog

import (
	"strings"
	"testing"
)

func TestRenderMemberUpdateNicknameDiff(t *testing.T) {
	t.Parallel()

	r := NewRenderer()
	out := r.Render("member_update", map[string]any{
		"before": map[string]any{"nickname": "A"},
		"after":  map[string]any{"nickname": "B"},
	})
	if out != "nickname: A -> B" {
		t.Fatalf("Render = %q, want %q", out, "nickname: A -> B")
	}
}

func TestRenderDiffSkipsMissingAndUnchanged(t *testing.T) {
	t.Parallel()

	r := NewRenderer()
	out := r.Render("member_update", map[string]any{
		"before": map[string]any{"nickname": "A", "status": "online"},
		"after":  map[string]any{"nickname": "A"},
	})
	// status is missing on the after side, nickname did not change.
	if out != "" {
		t.Fatalf("Render = %q, want empty", out)
	}
}

func TestRenderListDiff(t *testing.T) {
	t.Parallel()

	r := NewRenderer()
	out := r.Render("member_update", map[string]any{
		"before": map[string]any{"roles": []string{"mod", "member"}},
		"after":  map[string]any{"roles": []string{"member", "admin"}},
	})
	want := "roles added: admin\nroles removed: mod"
	if out != want {
		t.Fatalf("Render = %q, want %q", out, want)
	}
}

func TestRenderStructSnapshots(t *testing.T) {
	t.Parallel()

	type member struct {
		Nickname string
		Status   string
	}
	r := NewRenderer()
	out := r.Render("member_update", map[string]any{
		"before": &member{Nickname: "A", Status: "online"},
		"after":  &member{Nickname: "B", Status: "online"},
	})
	if out != "nickname: A -> B" {
		t.Fatalf("Render = %q, want %q", out, "nickname: A -> B")
	}
}

func TestRenderMessageEdit(t *testing.T) {
	t.Parallel()

	r := NewRenderer()
	out := r.Render("message_edit", map[string]any{
		"before": map[string]any{"content": "helo"},
		"after":  map[string]any{"content": "hello"},
	})
	if out != "content: helo -> hello" {
		t.Fatalf("Render = %q", out)
	}
}

func TestRenderGenericFallback(t *testing.T) {
	t.Parallel()

	r := NewRenderer()

	out := r.Render("totally_unknown", map[string]any{"b": 2, "a": "one"})
	if out != "a: one\nb: 2" {
		t.Fatalf("Render = %q", out)
	}

	out = r.Render("totally_unknown", nil)
	if out != "new event: totally_unknown" {
		t.Fatalf("Render = %q", out)
	}
}

func TestRenderDiffWithoutSnapshotsFallsBack(t *testing.T) {
	t.Parallel()

	r := NewRenderer()
	out := r.Render("member_update", map[string]any{"member": "bob"})
	if out != "member: bob" {
		t.Fatalf("Render = %q", out)
	}
}

func TestRendererRegister(t *testing.T) {
	t.Parallel()

	r := NewRenderer()
	r.Register("custom", func(event string, payload map[string]any) string {
		return "custom says " + formatValue(payload["x"])
	})
	if out := r.Render("custom", map[string]any{"x": 7}); out != "custom says 7" {
		t.Fatalf("Render = %q", out)
	}

	// Wildcard override applies to unknown names.
	r.Register(Wildcard, func(event string, payload map[string]any) string {
		return "wild:" + event
	})
	if out := r.Render("whatever", nil); out != "wild:whatever" {
		t.Fatalf("Render = %q", out)
	}
}

func TestRenderRecoversFromPanickingRule(t *testing.T) {
	t.Parallel()

	r := NewRenderer()
	r.Register("boom", func(event string, payload map[string]any) string {
		panic("rule bug")
	})
	out := r.Render("boom", map[string]any{"id": 42})
	if out != "id: 42" {
		t.Fatalf("Render after panic = %q, want generic fallback", out)
	}
}

func TestRenderIgnoresUnknownPayloadAttrs(t *testing.T) {
	t.Parallel()

	r := NewRenderer()
	out := r.Render("member_update", map[string]any{
		"before": map[string]any{"nickname": "A", "shoe_size": 42},
		"after":  map[string]any{"nickname": "B", "shoe_size": 43},
	})
	// shoe_size is not a tracked attribute.
	if strings.Contains(out, "shoe_size") {
		t.Fatalf("Render leaked untracked attribute: %q", out)
	}
	if out != "nickname: A -> B" {
		t.Fatalf("Render = %q", out)
	}
}
