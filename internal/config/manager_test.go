package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"logbot/pkg/logx"
)

func writeTemp(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
		t.Fatalf("write temp config: %v", err)
	}
	return p
}

func TestParseJSON(t *testing.T) {
	t.Parallel()

	p := writeTemp(t, "config.json", `{
		"telegram": {"token": "123:abc", "owner_user_ids": [1], "poll_timeout": "10s"},
		"logging": {"level": "debug", "console": true, "file": {"enabled": false, "path": ""}},
		"botlog": {"channel": "-100200:7", "debug": true, "drain_interval": "2s"},
		"events": {"enabled": true, "forward": ["*"]},
		"storage": {"driver": "file", "path": "./store"}
	}`)

	m := NewManager(p)
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.BotLog.Channel != "-100200:7" || !cfg.BotLog.Debug {
		t.Fatalf("botlog section = %+v", cfg.BotLog)
	}
	if !cfg.Events.ForwardsEvent("member_join") {
		t.Fatalf("wildcard forward list not honored: %+v", cfg.Events)
	}
	if cfg.Storage == nil || cfg.Storage.Driver != "file" {
		t.Fatalf("storage section = %+v", cfg.Storage)
	}
	if got := m.Get(); got != cfg {
		t.Fatal("Get() did not return the committed config")
	}
}

func TestParseYAML(t *testing.T) {
	t.Parallel()

	p := writeTemp(t, "config.yaml", `
telegram:
  token: "123:abc"
  owner_user_ids: [1, 2]
  poll_timeout: 10s
logging:
  level: info
  console: true
  file:
    enabled: false
    path: ""
botlog:
  channel: "-100200"
  drain_interval: 1500ms
events:
  enabled: true
  forward: [member_join, member_leave]
`)

	cfg, err := NewManager(p).Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.Telegram.OwnerUserIDs) != 2 {
		t.Fatalf("owner ids = %v", cfg.Telegram.OwnerUserIDs)
	}
	if cfg.BotLog.DrainInterval != "1500ms" {
		t.Fatalf("drain interval = %q", cfg.BotLog.DrainInterval)
	}
	if !cfg.Events.ForwardsEvent("member_leave") || cfg.Events.ForwardsEvent("command") {
		t.Fatalf("forward list = %v", cfg.Events.Forward)
	}
}

func TestParseRejectsUnknownFields(t *testing.T) {
	t.Parallel()

	p := writeTemp(t, "config.json", `{"telegram": {"token": "x", "owner_user_ids": [], "poll_timeout": "1s", "legacy_group_log": "oops"}, "logging": {"level": "info", "console": true, "file": {"enabled": false, "path": ""}}, "botlog": {"channel": ""}, "events": {"enabled": false}}`)

	if _, err := NewManager(p).Parse(); err == nil {
		t.Fatal("unknown field accepted")
	}
}

func TestParseRejectsTrailingData(t *testing.T) {
	t.Parallel()

	p := writeTemp(t, "config.json", `{"telegram": {"token": "x", "owner_user_ids": [], "poll_timeout": ""}, "logging": {"level": "info", "console": true, "file": {"enabled": false, "path": ""}}, "botlog": {"channel": ""}, "events": {"enabled": false}} {"extra": 1}`)

	if _, err := NewManager(p).Parse(); err == nil {
		t.Fatal("trailing data accepted")
	}
}

func TestParseDurationField(t *testing.T) {
	t.Parallel()

	if d, err := ParseDurationField("x", " 1500ms "); err != nil || d.Milliseconds() != 1500 {
		t.Fatalf("got %v, %v", d, err)
	}
	if d, err := ParseDurationField("x", ""); err != nil || d != 0 {
		t.Fatalf("empty: got %v, %v", d, err)
	}
	if _, err := ParseDurationField("x", "nope"); err == nil {
		t.Fatal("bad duration accepted")
	}
	if _, err := ParseDurationField("x", "-5s"); err == nil {
		t.Fatal("negative duration accepted")
	}
}

func TestSummarizeChangeRedactsSecrets(t *testing.T) {
	t.Parallel()

	oldCfg := &Config{}
	newCfg := &Config{}
	newCfg.Telegram.Token = "123:very-secret"
	newCfg.BotLog.Channel = "-100200"
	newCfg.Pprof.Enabled = true
	newCfg.Pprof.Token = "pprof-secret"

	changed, attrs := SummarizeChange(oldCfg, newCfg)

	want := []string{"botlog", "pprof", "telegram"}
	if len(changed) != len(want) {
		t.Fatalf("changed = %v, want %v", changed, want)
	}
	for i := range want {
		if changed[i] != want[i] {
			t.Fatalf("changed = %v, want %v", changed, want)
		}
	}

	// Render the attrs the way the app logs them and make sure no secret
	// material survives.
	var buf bytes.Buffer
	logx.NewConsoleTo(&buf, "DEBUG").Info("config changed", attrs...)
	out := buf.String()
	if strings.Contains(out, "very-secret") || strings.Contains(out, "pprof-secret") {
		t.Fatalf("secret leaked into change summary: %s", out)
	}
	if !strings.Contains(out, "token_set=") {
		t.Fatalf("summary missing token_set marker: %s", out)
	}
}
