package core

import (
	"context"
	"fmt"
	"strings"

	kit "logbot/internal/transport"
	"logbot/pkg/botlog"
	"logbot/pkg/logx"
)

// runPump consumes adapter updates: slash messages feed the command layer,
// membership and edit updates become structured log events.
func (a *App) runPump(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-a.updates:
			if !ok {
				return nil
			}
			a.handleUpdate(ctx, up)
		}
	}
}

func (a *App) handleUpdate(ctx context.Context, up kit.Update) {
	switch up.Kind {
	case kit.UpdateMessage:
		msg := up.Message
		if msg == nil {
			return
		}
		a.directory.Observe(MemberInfo{
			UserID:   msg.FromID,
			Username: msg.FromUsername,
			ChatID:   msg.ChatID,
			LastSeen: up.Time,
		})
		if strings.HasPrefix(strings.TrimSpace(msg.Text), "/") {
			a.emitEvent("command", nil, nil, map[string]any{
				"command": commandLabel(msg.Text),
				"user":    memberLabel(msg.FromID, msg.FromUsername),
				"chat":    msg.ChatID,
			})
			a.cmds.HandleMessage(ctx, msg)
		}

	case kit.UpdateEdited:
		msg := up.Message
		if msg == nil {
			return
		}
		a.directory.Observe(MemberInfo{
			UserID:   msg.FromID,
			Username: msg.FromUsername,
			ChatID:   msg.ChatID,
			LastSeen: up.Time,
		})
		extra := map[string]any{
			"author": memberLabel(msg.FromID, msg.FromUsername),
			"chat":   msg.ChatID,
		}
		var before, after any
		if msg.OldText != "" {
			before = map[string]any{"content": msg.OldText}
			after = map[string]any{"content": msg.Text}
		} else {
			// The transport rarely carries the previous text; show only the
			// current one then.
			extra["content"] = msg.Text
		}
		a.emitEvent("message_edit", before, after, extra)

	case kit.UpdateMemberJoin:
		mem := up.Member
		if mem == nil {
			return
		}
		a.directory.Observe(MemberInfo{
			UserID:      mem.UserID,
			Username:    mem.Username,
			DisplayName: mem.DisplayName,
			ChatID:      mem.ChatID,
			LastSeen:    up.Time,
		})
		a.emitEvent("member_join", nil, nil, map[string]any{
			"user": memberLabel(mem.UserID, mem.Username),
			"chat": mem.ChatID,
		})

	case kit.UpdateMemberLeave:
		mem := up.Member
		if mem == nil {
			return
		}
		a.directory.Forget(mem.UserID)
		a.emitEvent("member_leave", nil, nil, map[string]any{
			"user": memberLabel(mem.UserID, mem.Username),
			"chat": mem.ChatID,
		})
	}
}

// emitEvent forwards one host event through the facade, honoring the
// events config. The config is re-read per event so hot-reload applies
// without restarting the pump.
func (a *App) emitEvent(name string, before, after any, extra map[string]any) {
	cfg := a.cfgm.Get()
	if cfg == nil || !cfg.Events.Enabled {
		return
	}
	opts := make([]botlog.Option, 0, len(extra)+2)
	for k, v := range extra {
		opts = append(opts, botlog.Payload(k, v))
	}
	if cfg.Events.ForwardsEvent(name) {
		opts = append(opts, botlog.Send())
		if ch, err := kit.ParseChannel(cfg.Events.Channel); err == nil && !ch.IsZero() {
			opts = append(opts, botlog.To(ch))
		}
	}
	if err := a.blog.Event(name, before, after, opts...); err != nil {
		a.log.Warn("event not logged", logx.String("event", name), logx.Err(err))
	}
}

func memberLabel(id int64, username string) string {
	if username != "" {
		return fmt.Sprintf("@%s (%d)", username, id)
	}
	return fmt.Sprintf("%d", id)
}

// commandLabel reduces a slash message to its bare command name, so logged
// command events never carry argument values.
func commandLabel(text string) string {
	tokens := tokenizeCommandLine(text)
	if len(tokens) == 0 {
		return ""
	}
	return "/" + commandWord(tokens[0])
}
