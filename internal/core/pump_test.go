package core

import (
	"context"
	"strings"
	"testing"
	"time"

	"logbot/internal/config"
	kit "logbot/internal/transport"
	"logbot/pkg/botlog"
	"logbot/pkg/logx"
)

// pumpApp wires just enough of App for update handling: a committed
// events config, the member directory, the command layer (pool not
// running) and a facade whose remote lands in the fake adapter.
func pumpApp(t *testing.T, ev config.EventsConfig) (*App, *fakeAdapter) {
	t.Helper()
	ad := &fakeAdapter{}
	blog := botlog.New(
		botlog.Config{Name: "test", DefaultChannel: kit.Channel{ChatID: -100900}},
		ad, nil,
		botlog.WithConsoleSink(botlog.NewConsoleSink(logx.Nop())),
	)
	t.Cleanup(func() { _ = blog.Close() })

	cfgm := config.NewManager("unused")
	cfgm.Commit(&config.Config{Events: ev})

	dir := NewDirectory(0)
	a := &App{
		cfgm:      cfgm,
		log:       logx.Nop(),
		blog:      blog,
		directory: dir,
		updates:   make(chan kit.Update, 16),
	}
	a.cmds = NewCommandManager(logx.Nop(), ad, blog, &Services{Directory: dir}, nil)
	return a, ad
}

func joinUpdate(userID int64, username, display string) kit.Update {
	return kit.Update{
		Kind: kit.UpdateMemberJoin,
		Time: time.Now(),
		Member: &kit.MemberEvent{
			ChatID: 42, UserID: userID, Username: username, DisplayName: display,
		},
	}
}

func TestPumpForwardsMemberJoin(t *testing.T) {
	t.Parallel()

	a, ad := pumpApp(t, config.EventsConfig{Enabled: true, Forward: []string{"*"}})
	a.handleUpdate(context.Background(), joinUpdate(7, "dana", "Dana D"))

	if got := ad.count(); got != 1 {
		t.Fatalf("sends = %d, want 1", got)
	}
	body := ad.lastText()
	for _, want := range []string{"[INFO] member_join", "chat: 42", "user: @dana (7)"} {
		if !strings.Contains(body, want) {
			t.Fatalf("body missing %q:\n%s", want, body)
		}
	}
	if _, ok := a.directory.Resolve("7"); !ok {
		t.Fatal("joined member not remembered")
	}
}

func TestPumpDisabledEventsStillObserve(t *testing.T) {
	t.Parallel()

	a, ad := pumpApp(t, config.EventsConfig{Enabled: false})
	a.handleUpdate(context.Background(), joinUpdate(7, "dana", ""))

	if got := ad.count(); got != 0 {
		t.Fatalf("sends = %d, want 0 with events disabled", got)
	}
	if _, ok := a.directory.Resolve("@dana"); !ok {
		t.Fatal("directory must observe even when events are off")
	}
}

func TestPumpMirrorOnlyWithoutForward(t *testing.T) {
	t.Parallel()

	a, ad := pumpApp(t, config.EventsConfig{Enabled: true})
	a.handleUpdate(context.Background(), joinUpdate(7, "dana", ""))

	if got := ad.count(); got != 0 {
		t.Fatalf("sends = %d, want console mirror only", got)
	}
}

func TestPumpForwardListIsSelective(t *testing.T) {
	t.Parallel()

	a, ad := pumpApp(t, config.EventsConfig{Enabled: true, Forward: []string{"member_join"}})

	a.handleUpdate(context.Background(), kit.Update{
		Kind: kit.UpdateEdited,
		Time: time.Now(),
		Message: &kit.Message{
			ID: 5, ChatID: 42, FromID: 7, Text: "new", OldText: "old",
		},
	})
	if got := ad.count(); got != 0 {
		t.Fatalf("unlisted event forwarded: %d sends", got)
	}

	a.handleUpdate(context.Background(), joinUpdate(7, "dana", ""))
	if got := ad.count(); got != 1 {
		t.Fatalf("listed event not forwarded: %d sends", got)
	}
}

func TestPumpEventChannelOverride(t *testing.T) {
	t.Parallel()

	a, ad := pumpApp(t, config.EventsConfig{Enabled: true, Forward: []string{"*"}, Channel: "-55:9"})
	a.handleUpdate(context.Background(), joinUpdate(7, "dana", ""))

	if got := ad.count(); got != 1 {
		t.Fatalf("sends = %d, want 1", got)
	}
	ad.mu.Lock()
	to := ad.sent[0].to
	ad.mu.Unlock()
	if to.ChatID != -55 || to.ThreadID != 9 {
		t.Fatalf("sent to %+v, want events channel -55:9", to)
	}
}

func TestPumpEditRendersDiff(t *testing.T) {
	t.Parallel()

	a, ad := pumpApp(t, config.EventsConfig{Enabled: true, Forward: []string{"*"}})
	a.handleUpdate(context.Background(), kit.Update{
		Kind: kit.UpdateEdited,
		Time: time.Now(),
		Message: &kit.Message{
			ID: 5, ChatID: 42, FromID: 7, FromUsername: "dana",
			Text: "new text", OldText: "old text",
		},
	})

	body := ad.lastText()
	for _, want := range []string{"[INFO] message_edit", "content: old text -> new text"} {
		if !strings.Contains(body, want) {
			t.Fatalf("body missing %q:\n%s", want, body)
		}
	}
}

func TestPumpMemberLeaveForgets(t *testing.T) {
	t.Parallel()

	a, ad := pumpApp(t, config.EventsConfig{Enabled: true, Forward: []string{"*"}})
	a.directory.Observe(MemberInfo{UserID: 7, Username: "dana"})

	a.handleUpdate(context.Background(), kit.Update{
		Kind:   kit.UpdateMemberLeave,
		Time:   time.Now(),
		Member: &kit.MemberEvent{ChatID: 42, UserID: 7, Username: "dana"},
	})

	if _, ok := a.directory.Resolve("7"); ok {
		t.Fatal("left member still in directory")
	}
	if !strings.Contains(ad.lastText(), "[INFO] member_leave") {
		t.Fatalf("leave event not forwarded:\n%s", ad.lastText())
	}
}

func TestPumpCommandEventRedactsArguments(t *testing.T) {
	t.Parallel()

	// Worker pool not running: the only adapter traffic is the forwarded
	// command event, never the command's own output.
	a, ad := pumpApp(t, config.EventsConfig{Enabled: true, Forward: []string{"*"}})
	a.handleUpdate(context.Background(), kit.Update{
		Kind: kit.UpdateMessage,
		Time: time.Now(),
		Message: &kit.Message{
			ID: 6, ChatID: 42, FromID: 7, FromUsername: "dana",
			Text: `/say the launch code is 1234`,
		},
	})

	waitFor(t, 3*time.Second, func() bool { return ad.count() >= 1 })
	for _, body := range ad.texts() {
		if strings.Contains(body, "1234") {
			t.Fatalf("command event leaked arguments:\n%s", body)
		}
	}
	body := ad.lastText()
	for _, want := range []string{"[INFO] command", "command: /say", "user: @dana (7)"} {
		if !strings.Contains(body, want) {
			t.Fatalf("body missing %q:\n%s", want, body)
		}
	}
}

func TestPumpPlainMessageOnlyObserved(t *testing.T) {
	t.Parallel()

	a, ad := pumpApp(t, config.EventsConfig{Enabled: true, Forward: []string{"*"}})
	a.handleUpdate(context.Background(), kit.Update{
		Kind: kit.UpdateMessage,
		Time: time.Now(),
		Message: &kit.Message{
			ID: 7, ChatID: 42, FromID: 9, FromUsername: "eli", Text: "morning all",
		},
	})

	if got := ad.count(); got != 0 {
		t.Fatalf("plain chatter produced %d sends", got)
	}
	if _, ok := a.directory.Resolve("@eli"); !ok {
		t.Fatal("speaker not remembered")
	}
}

func TestRunPumpStopsOnCancelAndClose(t *testing.T) {
	t.Parallel()

	a, ad := pumpApp(t, config.EventsConfig{Enabled: true, Forward: []string{"*"}})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.runPump(ctx) }()

	a.updates <- joinUpdate(7, "dana", "")
	waitFor(t, 3*time.Second, func() bool { return ad.count() >= 1 })

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("runPump returned %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("runPump did not stop on cancel")
	}

	// A second pump over a closed channel drains and exits cleanly.
	go func() { done <- a.runPump(context.Background()) }()
	close(a.updates)
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("runPump returned %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("runPump did not stop on channel close")
	}
}
