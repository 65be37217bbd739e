package botlog

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestTranslateUserTemplates(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		exc  *Exception
		want string
	}{
		{
			name: "missing argument",
			exc:  MissingArgument("user", "discord.member.Member"),
			want: "You did not provide the command argument: `user: discord.member.Member`",
		},
		{
			name: "bad argument",
			exc:  BadArgument("abc", "count", "int"),
			want: "Could not interpret `abc` as a `int` for argument `count`",
		},
		{
			name: "missing argument without metadata",
			exc:  NewException(KindMissingArgument, "missing required argument"),
			want: "You did not provide a required command argument.",
		},
		{
			name: "bad argument without metadata",
			exc:  NewException(KindBadArgument, "bad argument value"),
			want: "One of the command arguments could not be interpreted.",
		},
		{
			name: "check failure has no user text",
			exc:  NewException(KindCheckFailure, "not allowed here"),
			want: "",
		},
		{
			name: "internal has no user text",
			exc:  NewException(KindInternal, "boom"),
			want: "",
		},
	}

	for _, tt := range cases {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, user := Translate(tt.exc, nil)
			if user != tt.want {
				t.Fatalf("user text = %q, want %q", user, tt.want)
			}
		})
	}
}

func TestTranslateOperatorText(t *testing.T) {
	t.Parallel()

	exc := NewException(KindInternal, "db write failed").
		WithCause(fmt.Errorf("tx abort: %w", errors.New("disk full")))
	ctx := map[string]any{"user": "bob", "command": "save"}

	op, user := Translate(exc, ctx)
	if user != "" {
		t.Fatalf("internal kind produced user text %q", user)
	}

	// Outermost-first: the exception line, then each unwrap step, then the
	// context in sorted key order.
	wantOrder := []string{
		"internal: db write failed",
		"caused by: tx abort: disk full",
		"caused by: disk full",
		"context:",
		"command: save",
		"user: bob",
	}
	last := -1
	for _, part := range wantOrder {
		idx := strings.Index(op, part)
		if idx < 0 {
			t.Fatalf("operator text missing %q:\n%s", part, op)
		}
		if idx <= last {
			t.Fatalf("operator text out of order at %q:\n%s", part, op)
		}
		last = idx
	}
}

func TestTranslateNilException(t *testing.T) {
	t.Parallel()

	op, user := Translate(nil, nil)
	if op == "" {
		t.Fatal("nil exception produced empty operator text")
	}
	if user != "" {
		t.Fatalf("nil exception produced user text %q", user)
	}
}

func TestWrap(t *testing.T) {
	t.Parallel()

	base := errors.New("socket closed")
	ex := Wrap(base)
	if ex.Kind != KindInternal {
		t.Fatalf("Wrap kind = %q", ex.Kind)
	}
	if !errors.Is(ex, base) {
		t.Fatal("Wrap lost the cause chain")
	}
	if ex.Stack == "" {
		t.Fatal("Wrap did not capture a stack")
	}
	if !strings.Contains(ex.Stack, "TestWrap") {
		t.Fatalf("stack does not start at the caller:\n%s", ex.Stack)
	}

	// Already-structured errors pass through, even when wrapped.
	orig := MissingArgument("user", "discord.member.Member")
	if got := Wrap(orig); got != orig {
		t.Fatal("Wrap re-wrapped an *Exception")
	}
	if got := Wrap(fmt.Errorf("handler: %w", orig)); got != orig {
		t.Fatal("Wrap did not unwrap to the inner *Exception")
	}

	if got := Wrap(nil); got == nil || got.Kind != KindInternal {
		t.Fatalf("Wrap(nil) = %+v", got)
	}
}

func TestExceptionError(t *testing.T) {
	t.Parallel()

	exc := MissingArgument("user", "discord.member.Member")
	if got := exc.Error(); got != "missing_argument: missing required argument" {
		t.Fatalf("Error() = %q", got)
	}

	cause := errors.New("inner")
	exc = NewException(KindInternal, "outer").WithCause(cause)
	if !errors.Is(exc, cause) {
		t.Fatal("Unwrap chain broken")
	}
}

func TestTranslateStackIncluded(t *testing.T) {
	t.Parallel()

	ex := Wrap(errors.New("kaboom"))
	op, _ := Translate(ex, nil)
	if !strings.Contains(op, "stack:") {
		t.Fatalf("operator text missing stack section:\n%s", op)
	}
}
