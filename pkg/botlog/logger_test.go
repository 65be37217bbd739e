package botlog

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	kit "logbot/internal/transport"
	"logbot/pkg/logx"
)

// ---- test doubles ----

type consoleLine struct {
	sev  Severity
	line string
}

type captureConsole struct {
	mu    sync.Mutex
	lines []consoleLine
}

func (c *captureConsole) Write(sev Severity, line string) {
	c.mu.Lock()
	c.lines = append(c.lines, consoleLine{sev: sev, line: line})
	c.mu.Unlock()
}

func (c *captureConsole) Writef(sev Severity, format string, args ...any) {
	c.Write(sev, fmt.Sprintf(format, args...))
}

func (c *captureConsole) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.lines)
}

func (c *captureConsole) snapshot() []consoleLine {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]consoleLine(nil), c.lines...)
}

type sinkCall struct {
	to   kit.Channel
	body string
	at   time.Time
}

type fakeSink struct {
	mu    sync.Mutex
	calls []sinkCall
	// errs fails the n-th call (0-based).
	errs map[int]error
	// release, when set, blocks every send until the channel is closed.
	release chan struct{}
}

func (f *fakeSink) SendText(ctx context.Context, to kit.Channel, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	f.mu.Lock()
	idx := len(f.calls)
	f.calls = append(f.calls, sinkCall{to: to, body: text, at: time.Now()})
	var err error
	if f.errs != nil {
		err = f.errs[idx]
	}
	release := f.release
	f.mu.Unlock()

	if release != nil {
		<-release
	}
	if err != nil {
		return kit.MessageRef{}, err
	}
	return kit.MessageRef{ChatID: to.ChatID, MessageID: idx + 1}, nil
}

func (f *fakeSink) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeSink) snapshot() []sinkCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sinkCall(nil), f.calls...)
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("timed out waiting for condition")
}

var testChannel = kit.Channel{ChatID: -100500}

func newTestLogger(t *testing.T, cfg Config, sink kit.Sink) (*Logger, *captureConsole) {
	t.Helper()
	cc := &captureConsole{}
	l := New(cfg, sink, nil, WithConsoleSink(cc))
	t.Cleanup(func() { _ = l.Close() })
	return l, cc
}

// ---- facade behavior ----

func TestRemoteDefaultsPerSeverity(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name      string
		call      func(l *Logger) error
		wantSends int
	}{
		{name: "debug", call: func(l *Logger) error { return l.Debug("d") }, wantSends: 0},
		{name: "info", call: func(l *Logger) error { return l.Info("i") }, wantSends: 0},
		{name: "warning", call: func(l *Logger) error { return l.Warning("w") }, wantSends: 0},
		{name: "error", call: func(l *Logger) error {
			return l.Error("e", NewException(KindInternal, "x"))
		}, wantSends: 1},
		{name: "event", call: func(l *Logger) error { return l.Event("member_join", nil, nil) }, wantSends: 0},
	}

	for _, tt := range cases {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			sink := &fakeSink{}
			l, cc := newTestLogger(t, Config{DefaultChannel: testChannel}, sink)

			if err := tt.call(l); err != nil {
				t.Fatalf("call failed: %v", err)
			}
			if got := sink.count(); got != tt.wantSends {
				t.Fatalf("remote sends = %d, want %d", got, tt.wantSends)
			}
			if got := cc.count(); got != 1 {
				t.Fatalf("console writes = %d, want exactly 1", got)
			}
		})
	}
}

func TestSendOptionsOverrideDefaults(t *testing.T) {
	t.Parallel()

	sink := &fakeSink{}
	l, _ := newTestLogger(t, Config{DefaultChannel: testChannel}, sink)

	if err := l.Info("forwarded", Send()); err != nil {
		t.Fatalf("Info: %v", err)
	}
	if got := sink.count(); got != 1 {
		t.Fatalf("Send() produced %d remote calls, want 1", got)
	}

	if err := l.Error("kept local", NewException(KindInternal, "x"), ConsoleOnly()); err != nil {
		t.Fatalf("Error: %v", err)
	}
	if got := sink.count(); got != 1 {
		t.Fatalf("ConsoleOnly() still sent remotely (%d calls)", got)
	}
}

func TestErrorWithoutChannel(t *testing.T) {
	t.Parallel()

	sink := &fakeSink{}
	l, cc := newTestLogger(t, Config{}, sink)

	err := l.Error("boom", NewException(KindInternal, "x"))
	if !errors.Is(err, ErrNoChannel) {
		t.Fatalf("err = %v, want ErrNoChannel", err)
	}
	if cc.count() != 0 || sink.count() != 0 {
		t.Fatalf("misconfigured call touched sinks: console=%d remote=%d", cc.count(), sink.count())
	}
}

func TestToRoutesChannel(t *testing.T) {
	t.Parallel()

	other := kit.Channel{ChatID: -42, ThreadID: 7}
	sink := &fakeSink{}
	l, _ := newTestLogger(t, Config{DefaultChannel: testChannel}, sink)

	if err := l.Warning("routed", Send(), To(other)); err != nil {
		t.Fatalf("Warning: %v", err)
	}
	if err := l.Warning("default", Send()); err != nil {
		t.Fatalf("Warning: %v", err)
	}

	calls := sink.snapshot()
	if len(calls) != 2 {
		t.Fatalf("remote sends = %d, want 2", len(calls))
	}
	if calls[0].to != other {
		t.Fatalf("first send went to %+v, want %+v", calls[0].to, other)
	}
	if calls[1].to != testChannel {
		t.Fatalf("second send went to %+v, want default %+v", calls[1].to, testChannel)
	}
}

func TestCriticalMarker(t *testing.T) {
	t.Parallel()

	sink := &fakeSink{}
	l, _ := newTestLogger(t, Config{DefaultChannel: testChannel}, sink)

	if err := l.Error("on fire", NewException(KindInternal, "x"), Critical()); err != nil {
		t.Fatalf("Error: %v", err)
	}
	if err := l.Error("calm", NewException(KindInternal, "x")); err != nil {
		t.Fatalf("Error: %v", err)
	}

	calls := sink.snapshot()
	if len(calls) != 2 {
		t.Fatalf("remote sends = %d, want 2", len(calls))
	}
	if !strings.HasPrefix(calls[0].body, "🚨 [ERROR] ") {
		t.Fatalf("critical body missing escalation marker: %q", calls[0].body)
	}
	if strings.Contains(calls[1].body, "🚨") {
		t.Fatalf("non-critical body carries escalation marker: %q", calls[1].body)
	}
}

func TestCustomMention(t *testing.T) {
	t.Parallel()

	sink := &fakeSink{}
	l, _ := newTestLogger(t, Config{DefaultChannel: testChannel, Mention: "@oncall"}, sink)

	if err := l.Event("guild_update", nil, nil, Send(), Critical()); err != nil {
		t.Fatalf("Event: %v", err)
	}
	body := sink.snapshot()[0].body
	if !strings.HasPrefix(body, "@oncall [INFO] ") {
		t.Fatalf("body = %q", body)
	}
}

func TestRemoteFailureAbsorbed(t *testing.T) {
	t.Parallel()

	sink := &fakeSink{errs: map[int]error{
		0: kit.RateLimited(testChannel, 2*time.Second, errors.New("429")),
	}}
	l, cc := newTestLogger(t, Config{DefaultChannel: testChannel}, sink)

	// The caller never sees a transport failure.
	if err := l.Error("explode", NewException(KindInternal, "x")); err != nil {
		t.Fatalf("Error surfaced transport failure: %v", err)
	}

	lines := cc.snapshot()
	if len(lines) != 2 {
		t.Fatalf("console writes = %d, want mirror + warning", len(lines))
	}
	if lines[0].sev != SeverityError {
		t.Fatalf("mirror severity = %v", lines[0].sev)
	}
	if lines[1].sev != SeverityWarning {
		t.Fatalf("warning severity = %v", lines[1].sev)
	}
	if !strings.Contains(lines[1].line, "kind=rate_limited") {
		t.Fatalf("warning missing failure kind: %q", lines[1].line)
	}
	if !strings.Contains(lines[1].line, testChannel.String()) {
		t.Fatalf("warning missing channel: %q", lines[1].line)
	}

	st := l.Stats()
	if st.Sent != 0 || st.Failed != 1 {
		t.Fatalf("stats = %+v", st)
	}
}

func TestUserRemediationInRemoteBody(t *testing.T) {
	t.Parallel()

	sink := &fakeSink{}
	l, _ := newTestLogger(t, Config{DefaultChannel: testChannel}, sink)

	exc := MissingArgument("user", "discord.member.Member")
	if err := l.Error("command failed", exc, Field("command", "whois")); err != nil {
		t.Fatalf("Error: %v", err)
	}

	body := sink.snapshot()[0].body
	if !strings.HasPrefix(body, "[ERROR] command failed\n") {
		t.Fatalf("body header wrong: %q", body)
	}
	if !strings.Contains(body, "missing_argument: missing required argument") {
		t.Fatalf("body missing operator diagnostic: %q", body)
	}
	if !strings.Contains(body, "command: whois") {
		t.Fatalf("body missing context: %q", body)
	}
	want := "\n\n[user] You did not provide the command argument: `user: discord.member.Member`"
	if !strings.Contains(body, want) {
		t.Fatalf("body missing user remediation: %q", body)
	}
}

func TestEventRenderedEndToEnd(t *testing.T) {
	t.Parallel()

	sink := &fakeSink{}
	l, cc := newTestLogger(t, Config{DefaultChannel: testChannel}, sink)

	err := l.Event("member_update",
		map[string]any{"nickname": "A"},
		map[string]any{"nickname": "B"},
		Send())
	if err != nil {
		t.Fatalf("Event: %v", err)
	}

	wantBody := "[INFO] member_update\nnickname: A -> B"
	if body := sink.snapshot()[0].body; body != wantBody {
		t.Fatalf("body = %q, want %q", body, wantBody)
	}
	if line := cc.snapshot()[0].line; line != "member_update\nnickname: A -> B" {
		t.Fatalf("console mirror = %q", line)
	}
}

func TestEventExtraPayload(t *testing.T) {
	t.Parallel()

	sink := &fakeSink{}
	l, _ := newTestLogger(t, Config{DefaultChannel: testChannel}, sink)

	err := l.Event("command", nil, nil, Send(),
		Payload("command", "ping"),
		Payload("user", "bob"))
	if err != nil {
		t.Fatalf("Event: %v", err)
	}
	body := sink.snapshot()[0].body
	if body != "[INFO] command\ncommand: ping\nuser: bob" {
		t.Fatalf("body = %q", body)
	}
}

func TestCloseSemantics(t *testing.T) {
	t.Parallel()

	sink := &fakeSink{}
	l, cc := newTestLogger(t, Config{DefaultChannel: testChannel}, sink)

	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}

	if err := l.Info("late"); !errors.Is(err, ErrClosed) {
		t.Fatalf("Info after Close = %v, want ErrClosed", err)
	}
	if err := l.Error("late", nil); !errors.Is(err, ErrClosed) {
		t.Fatalf("Error after Close = %v, want ErrClosed", err)
	}
	if cc.count() != 0 || sink.count() != 0 {
		t.Fatalf("closed logger touched sinks: console=%d remote=%d", cc.count(), sink.count())
	}
}

func TestNilExceptionSynthesized(t *testing.T) {
	t.Parallel()

	sink := &fakeSink{}
	l, _ := newTestLogger(t, Config{DefaultChannel: testChannel}, sink)

	if err := l.Error("lost cause", nil); err != nil {
		t.Fatalf("Error: %v", err)
	}
	body := sink.snapshot()[0].body
	if !strings.Contains(body, "internal: lost cause") {
		t.Fatalf("body = %q", body)
	}
}

func TestConsoleSinkLevelFilter(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	cs := NewConsoleSink(logx.NewConsoleTo(&buf, "INFO"))
	cs.Write(SeverityDebug, "hidden line")
	cs.Write(SeverityInfo, "visible line")

	out := buf.String()
	if strings.Contains(out, "hidden line") {
		t.Fatalf("debug line leaked through INFO console: %q", out)
	}
	if !strings.Contains(out, "visible line") {
		t.Fatalf("info line missing from console: %q", out)
	}
}

func TestDirectModeStats(t *testing.T) {
	t.Parallel()

	sink := &fakeSink{}
	l, _ := newTestLogger(t, Config{DefaultChannel: testChannel}, sink)

	if st := l.Stats(); st.State != "direct" {
		t.Fatalf("state = %q, want direct", st.State)
	}
	_ = l.Info("x", Send())
	if st := l.Stats(); st.Sent != 1 || st.Pending != 0 {
		t.Fatalf("stats = %+v", st)
	}
}
