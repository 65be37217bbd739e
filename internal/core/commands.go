package core

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"runtime/debug"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"logbot/internal/digest"
	"logbot/internal/storage"
	kit "logbot/internal/transport"
	"logbot/pkg/botlog"
	"logbot/pkg/logx"
)

const (
	// maxPurgeCount caps /purge so one command cannot hold the outbound
	// rate budget for minutes.
	maxPurgeCount = 25
	// sentMemoryPerChat bounds the per-chat memory of bot replies that
	// /purge can delete.
	sentMemoryPerChat = 64
)

// Command is one chat command: a name, typed positional arguments and a
// handler. Handler errors are reported through the log facade; the chat
// user gets the remediation text (or a generic fallback).
type Command struct {
	Name        string
	Description string
	Usage       string
	Args        []ArgSpec
	OwnerOnly   bool
	Timeout     time.Duration // 0 means no per-command deadline
	Handle      HandlerFunc
}

// Request carries one parsed invocation into a handler.
type Request struct {
	Msg   *kit.Message
	Chat  kit.Channel
	Args  map[string]string
	ReqID string

	Adapter kit.Adapter
	Blog    *botlog.Logger
	Log     logx.Logger
	Serv    *Services
}

// Services bundles the host components handlers may use.
type Services struct {
	Store     storage.Store // may be nil
	Digest    *digest.Service
	Directory *Directory
}

type HandlerFunc func(ctx context.Context, req *Request) error

type Middleware func(next HandlerFunc) HandlerFunc

func Chain(h HandlerFunc, m ...Middleware) HandlerFunc {
	for i := len(m) - 1; i >= 0; i-- {
		h = m[i](h)
	}
	return h
}

func mwTimeout(d time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			if d <= 0 {
				return next(ctx, req)
			}
			cctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()
			return next(cctx, req)
		}
	}
}

func mwPanicRecover() Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) (err error) {
			defer func() {
				if r := recover(); r != nil {
					req.Log.Error("panic in command handler",
						logx.Any("panic", r),
						logx.Stack(string(debug.Stack())))
					err = fmt.Errorf("panic: %v", r)
				}
			}()
			return next(ctx, req)
		}
	}
}

func mwRequestLog() Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			start := time.Now()
			err := next(ctx, req)
			fields := []logx.Field{
				logx.Int64("chat_id", req.Chat.ChatID),
				logx.Int64("from_id", req.Msg.FromID),
				logx.Duration("dur", time.Since(start)),
			}
			if err != nil {
				req.Log.Warn("command failed", append(fields, logx.Err(err))...)
			} else {
				req.Log.Debug("command ok", fields...)
			}
			return err
		}
	}
}

// CommandManager routes slash messages onto a bounded worker pool and owns
// the built-in command set.
type CommandManager struct {
	mu     sync.RWMutex
	cmds   map[string]Command
	order  []string
	owners []int64

	log     logx.Logger
	adapter kit.Adapter
	blog    *botlog.Logger
	serv    *Services

	jobs    chan func()
	handled uint64

	sentMu     sync.Mutex
	sentByChat map[int64][]kit.MessageRef
}

func NewCommandManager(log logx.Logger, adapter kit.Adapter, blog *botlog.Logger, serv *Services, owners []int64) *CommandManager {
	if log.IsZero() {
		log = logx.Nop()
	}
	if serv == nil {
		serv = &Services{}
	}
	if serv.Directory == nil {
		serv.Directory = NewDirectory(0)
	}
	m := &CommandManager{
		cmds:       map[string]Command{},
		owners:     append([]int64(nil), owners...),
		log:        log,
		adapter:    adapter,
		blog:       blog,
		serv:       serv,
		jobs:       make(chan func(), 256),
		sentByChat: map[int64][]kit.MessageRef{},
	}
	m.Register(m.builtins()...)
	return m
}

// SetOwners swaps the owner list used for OwnerOnly checks. Safe during
// hot-reload.
func (m *CommandManager) SetOwners(owners []int64) {
	cp := append([]int64(nil), owners...)
	m.mu.Lock()
	m.owners = cp
	m.mu.Unlock()
}

func (m *CommandManager) ownersSnapshot() []int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]int64(nil), m.owners...)
}

func (m *CommandManager) Register(cmds ...Command) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range cmds {
		name := strings.ToLower(strings.TrimSpace(c.Name))
		if name == "" || strings.ContainsAny(name, " \t") || c.Handle == nil {
			continue
		}
		c.Name = name
		if _, exists := m.cmds[name]; !exists {
			m.order = append(m.order, name)
		}
		m.cmds[name] = c
	}
}

// Handled reports how many invocations reached a worker.
func (m *CommandManager) Handled() uint64 { return atomic.LoadUint64(&m.handled) }

// Run owns the worker pool; it blocks until ctx is done. Jobs still queued
// at cancellation are dropped.
func (m *CommandManager) Run(ctx context.Context) error {
	workers := runtime.NumCPU()
	if workers < 2 {
		workers = 2
	}
	m.log.Info("command workers started", logx.Int("workers", workers), logx.Int("queue_cap", cap(m.jobs)))

	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case job := <-m.jobs:
					if job != nil {
						job()
					}
				}
			}
		}()
	}
	wg.Wait()
	m.log.Info("command workers stopped")
	return nil
}

// HandleMessage routes one "/..." message. Unknown names, owner checks and
// argument failures are all answered here; matched invocations run on the
// worker pool.
func (m *CommandManager) HandleMessage(ctx context.Context, msg *kit.Message) {
	if msg == nil {
		return
	}
	tokens := tokenizeCommandLine(msg.Text)
	if len(tokens) == 0 || !strings.HasPrefix(tokens[0], "/") {
		return
	}
	word := commandWord(tokens[0])
	chat := kit.Channel{ChatID: msg.ChatID, ThreadID: msg.ThreadID}

	m.mu.RLock()
	cmd, ok := m.cmds[word]
	m.mu.RUnlock()
	if !ok {
		m.reply(ctx, chat, "unknown command. try /help")
		return
	}
	if cmd.OwnerOnly && !isOwner(msg.FromID, m.ownersSnapshot()) {
		m.reply(ctx, chat, "unauthorized")
		return
	}

	req := &Request{
		Msg:     msg,
		Chat:    chat,
		ReqID:   uuid.NewString(),
		Adapter: m.adapter,
		Blog:    m.blog,
		Serv:    m.serv,
	}
	req.Log = m.log.With(
		logx.String("rid", req.ReqID),
		logx.String("cmd", "/"+cmd.Name),
	)

	args, exc := parseArgs(cmd.Args, tokens[1:])
	job := func() {
		atomic.AddUint64(&m.handled, 1)
		if exc != nil {
			m.reportFailure(ctx, cmd, req, exc)
			return
		}
		req.Args = args
		h := Chain(cmd.Handle, mwPanicRecover(), mwRequestLog(), mwTimeout(cmd.Timeout))
		if err := h(ctx, req); err != nil {
			m.reportFailure(ctx, cmd, req, err)
		}
	}

	select {
	case m.jobs <- job:
	default:
		m.reply(ctx, chat, "busy, try again")
	}
}

// reportFailure routes a command failure through the log facade (so the
// operator gets the diagnostic on every configured path) and answers the
// chat user with the remediation text.
func (m *CommandManager) reportFailure(ctx context.Context, cmd Command, req *Request, err error) {
	exc := botlog.Wrap(err)
	opts := []botlog.Option{
		botlog.Field("command", "/"+cmd.Name),
		botlog.Field("chat_id", req.Chat.ChatID),
		botlog.Field("from_id", req.Msg.FromID),
		botlog.Field("rid", req.ReqID),
	}
	if exc.Kind == botlog.KindInternal {
		opts = append(opts, botlog.Critical())
	}
	msg := "command /" + cmd.Name + " failed"
	lerr := m.blog.Error(msg, exc, opts...)
	if errors.Is(lerr, botlog.ErrNoChannel) {
		// No remote destination configured; keep the console diagnostic.
		lerr = m.blog.Error(msg, exc, append(opts, botlog.ConsoleOnly())...)
	}
	if lerr != nil {
		req.Log.Warn("failure not logged", logx.Err(lerr))
	}

	_, user := botlog.Translate(exc, nil)
	if user == "" {
		user = "Something went wrong running /" + cmd.Name + "."
	}
	m.reply(ctx, req.Chat, user)
}

func (m *CommandManager) reply(ctx context.Context, to kit.Channel, text string) {
	ref, err := m.adapter.SendText(ctx, to, text, &kit.SendOptions{DisablePreview: true})
	if err != nil {
		m.log.Warn("reply failed", logx.Int64("chat_id", to.ChatID), logx.Err(err))
		return
	}
	m.remember(ref)
}

func (m *CommandManager) remember(ref kit.MessageRef) {
	if ref.ChatID == 0 || ref.MessageID == 0 {
		return
	}
	m.sentMu.Lock()
	lst := append(m.sentByChat[ref.ChatID], ref)
	if len(lst) > sentMemoryPerChat {
		lst = lst[len(lst)-sentMemoryPerChat:]
	}
	m.sentByChat[ref.ChatID] = lst
	m.sentMu.Unlock()
}

// takeRecent pops up to n remembered bot replies in a chat, newest first.
func (m *CommandManager) takeRecent(chatID int64, n int) []kit.MessageRef {
	m.sentMu.Lock()
	defer m.sentMu.Unlock()
	lst := m.sentByChat[chatID]
	if n > len(lst) {
		n = len(lst)
	}
	if n <= 0 {
		return nil
	}
	out := make([]kit.MessageRef, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, lst[len(lst)-1-i])
	}
	m.sentByChat[chatID] = lst[:len(lst)-n]
	return out
}

func (m *CommandManager) helpText() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var b strings.Builder
	b.WriteString("commands:")
	for _, name := range m.order {
		c := m.cmds[name]
		b.WriteString("\n")
		b.WriteString(c.Usage)
		if c.Description != "" {
			b.WriteString(" - ")
			b.WriteString(c.Description)
		}
		if c.OwnerOnly {
			b.WriteString(" (owner)")
		}
	}
	return b.String()
}

func (m *CommandManager) builtins() []Command {
	return []Command{
		{
			Name:        "help",
			Description: "show available commands",
			Usage:       "/help",
			Handle: func(ctx context.Context, req *Request) error {
				m.reply(ctx, req.Chat, m.helpText())
				return nil
			},
		},
		{
			Name:        "whois",
			Description: "look up a recently seen member",
			Usage:       "/whois <member>",
			Args:        []ArgSpec{{Name: "member", Type: "telegram.member"}},
			Handle: func(ctx context.Context, req *Request) error {
				token := req.Args["member"]
				info, ok := req.Serv.Directory.Resolve(token)
				if !ok {
					return botlog.NewException(botlog.KindNotFound, "member not found: "+token)
				}
				var b strings.Builder
				if info.Username != "" {
					b.WriteString("@" + info.Username)
				} else if info.DisplayName != "" {
					b.WriteString(info.DisplayName)
				} else {
					b.WriteString("member")
				}
				fmt.Fprintf(&b, " (id %d)", info.UserID)
				if info.DisplayName != "" && info.Username != "" {
					b.WriteString("\nname: " + info.DisplayName)
				}
				fmt.Fprintf(&b, "\nlast seen: %s in chat %d",
					info.LastSeen.UTC().Format(time.RFC3339), info.ChatID)
				m.reply(ctx, req.Chat, b.String())
				return nil
			},
		},
		{
			Name:        "purge",
			Description: "delete the bot's recent replies in this chat",
			Usage:       "/purge <count:int>",
			Args:        []ArgSpec{{Name: "count", Type: "int"}},
			OwnerOnly:   true,
			Timeout:     time.Minute,
			Handle: func(ctx context.Context, req *Request) error {
				count, _ := strconv.Atoi(req.Args["count"])
				if count < 1 || count > maxPurgeCount {
					return botlog.NewException(botlog.KindCheckFailure,
						fmt.Sprintf("purge count %d outside 1..%d", count, maxPurgeCount))
				}
				refs := m.takeRecent(req.Chat.ChatID, count)
				if len(refs) == 0 {
					m.reply(ctx, req.Chat, "nothing to purge here")
					return nil
				}
				deleted := 0
				for _, ref := range refs {
					if err := req.Adapter.Delete(ctx, ref); err != nil {
						req.Log.Warn("purge delete failed",
							logx.Int("message_id", ref.MessageID), logx.Err(err))
						continue
					}
					deleted++
				}
				m.reply(ctx, req.Chat, fmt.Sprintf("purged %d of %d requested", deleted, count))
				return nil
			},
		},
		{
			Name:        "say",
			Description: "echo a message through the bot",
			Usage:       "/say <text>",
			Args:        []ArgSpec{{Name: "text", Type: "text", Rest: true}},
			Handle: func(ctx context.Context, req *Request) error {
				m.reply(ctx, req.Chat, req.Args["text"])
				return nil
			},
		},
		{
			Name:        "stats",
			Description: "show delivery pipeline counters",
			Usage:       "/stats",
			OwnerOnly:   true,
			Handle: func(ctx context.Context, req *Request) error {
				m.reply(ctx, req.Chat, m.statsText(ctx, req))
				return nil
			},
		},
		{
			Name:        "digest",
			Description: "emit the delivery digest now",
			Usage:       "/digest",
			OwnerOnly:   true,
			Handle: func(ctx context.Context, req *Request) error {
				if req.Serv.Digest == nil {
					m.reply(ctx, req.Chat, "digest is not configured")
					return nil
				}
				req.Serv.Digest.RunNow(ctx)
				m.reply(ctx, req.Chat, "digest sent")
				return nil
			},
		},
	}
}

func (m *CommandManager) statsText(ctx context.Context, req *Request) string {
	st := req.Blog.Stats()
	var b strings.Builder
	fmt.Fprintf(&b, "queue: %s, %d pending", st.State, st.Pending)
	fmt.Fprintf(&b, "\nremote: %d sent, %d failed, %d dropped", st.Sent, st.Failed, st.Dropped)
	fmt.Fprintf(&b, "\ncommands handled: %d", m.Handled())
	fmt.Fprintf(&b, "\nmembers remembered: %d", req.Serv.Directory.Len())
	if req.Serv.Store != nil {
		cctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		counts, err := req.Serv.Store.CountsSince(cctx, time.Now().Add(-24*time.Hour))
		cancel()
		if err == nil {
			fmt.Fprintf(&b, "\njournal 24h: %d sent, %d failed, %d dropped",
				counts.Sent, counts.Failed, counts.Dropped)
		}
	}
	return b.String()
}

func isOwner(id int64, owners []int64) bool {
	for _, o := range owners {
		if o == id {
			return true
		}
	}
	return false
}

// sortedCommandNames is used by tests to assert registry contents.
func (m *CommandManager) sortedCommandNames() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := append([]string(nil), m.order...)
	sort.Strings(out)
	return out
}
