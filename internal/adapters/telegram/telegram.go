// Package telegram adapts the Telegram Bot API (via telebot long polling)
// to the transport contract: updates in, rate-limited text sends out, send
// failures classified into transport error kinds.
package telegram

import (
	"context"
	"errors"
	"net"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
	tele "gopkg.in/telebot.v4"

	kit "logbot/internal/transport"
	"logbot/pkg/logx"
)

// maxMessageRunes is Telegram's per-message text limit.
const maxMessageRunes = 4096

type Config struct {
	Token       string
	PollTimeout time.Duration
	// RatePerSec caps outbound API calls. 0 defaults to 1/s, which stays
	// inside Telegram's per-chat budget even under bursts.
	RatePerSec int
}

type Adapter struct {
	cfg Config
	log logx.Logger

	bot *tele.Bot
	lim *rate.Limiter

	out       chan<- kit.Update
	runCancel context.CancelFunc
	runWG     sync.WaitGroup
	runMu     sync.Mutex
	running   bool

	// droppedUpdates counts updates dropped because the consumer was
	// slower than the poll loop. Logged periodically, not per update.
	droppedUpdates uint64
}

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	timeout := cfg.PollTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	rps := cfg.RatePerSec
	if rps <= 0 {
		rps = 1
	}

	b, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		Poller: &tele.LongPoller{Timeout: timeout},
	})
	if err != nil {
		return nil, err
	}
	return &Adapter{
		cfg: cfg,
		log: log,
		bot: b,
		lim: rate.NewLimiter(rate.Limit(rps), rps),
	}, nil
}

func (a *Adapter) Start(ctx context.Context, out chan<- kit.Update) error {
	a.runMu.Lock()
	if a.running {
		a.runMu.Unlock()
		return nil
	}
	a.running = true
	a.out = out
	rctx, cancel := context.WithCancel(ctx)
	a.runCancel = cancel
	a.runWG.Add(2)
	a.runMu.Unlock()

	// Periodic summary for dropped updates (avoid noisy per-update logs).
	go func() {
		defer a.runWG.Done()
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-rctx.Done():
				// Final flush.
				if n := atomic.SwapUint64(&a.droppedUpdates, 0); n > 0 {
					a.log.Warn("incoming updates dropped (channel full)", logx.Uint64("count", n), logx.Int("chan_cap", cap(out)))
				}
				return
			case <-ticker.C:
				if n := atomic.SwapUint64(&a.droppedUpdates, 0); n > 0 {
					a.log.Warn("incoming updates dropped (channel full)", logx.Uint64("count", n), logx.Int("chan_cap", cap(out)))
				}
			}
		}
	}()

	a.bot.Handle(tele.OnText, func(c tele.Context) error {
		m := c.Message()
		if m == nil || m.Sender == nil {
			return nil
		}
		a.emit(kit.Update{
			Kind: kit.UpdateMessage,
			Time: m.Time(),
			Message: &kit.Message{
				ID:           m.ID,
				ChatID:       m.Chat.ID,
				ThreadID:     m.ThreadID,
				FromID:       m.Sender.ID,
				FromUsername: m.Sender.Username,
				Text:         m.Text,
				IsGroup:      m.Chat.Type != tele.ChatPrivate,
			},
		})
		return nil
	})

	a.bot.Handle(tele.OnEdited, func(c tele.Context) error {
		m := c.Message()
		if m == nil || m.Sender == nil {
			return nil
		}
		a.emit(kit.Update{
			Kind: kit.UpdateEdited,
			Time: m.Time(),
			Message: &kit.Message{
				ID:           m.ID,
				ChatID:       m.Chat.ID,
				ThreadID:     m.ThreadID,
				FromID:       m.Sender.ID,
				FromUsername: m.Sender.Username,
				Text:         m.Text,
				IsGroup:      m.Chat.Type != tele.ChatPrivate,
			},
		})
		return nil
	})

	a.bot.Handle(tele.OnUserJoined, func(c tele.Context) error {
		m := c.Message()
		if m == nil {
			return nil
		}
		joined := m.UserJoined
		if joined == nil && m.Sender != nil {
			joined = m.Sender
		}
		if joined == nil {
			return nil
		}
		a.emit(kit.Update{
			Kind: kit.UpdateMemberJoin,
			Time: m.Time(),
			Member: &kit.MemberEvent{
				ChatID:   m.Chat.ID,
				UserID:   joined.ID,
				Username: joined.Username,
			},
		})
		return nil
	})

	a.bot.Handle(tele.OnUserLeft, func(c tele.Context) error {
		m := c.Message()
		if m == nil || m.UserLeft == nil {
			return nil
		}
		a.emit(kit.Update{
			Kind: kit.UpdateMemberLeave,
			Time: m.Time(),
			Member: &kit.MemberEvent{
				ChatID:   m.Chat.ID,
				UserID:   m.UserLeft.ID,
				Username: m.UserLeft.Username,
			},
		})
		return nil
	})

	go func() {
		defer a.runWG.Done()
		// Ensure telebot stops when the context is cancelled.
		go func() {
			<-rctx.Done()
			a.bot.Stop()
		}()
		a.log.Info("polling started")
		a.bot.Start() // blocks until Stop() is called
	}()

	return nil
}

func (a *Adapter) emit(up kit.Update) {
	select {
	case a.out <- up:
	default:
		atomic.AddUint64(&a.droppedUpdates, 1)
	}
}

func (a *Adapter) Stop(ctx context.Context) error {
	// Best-effort graceful stop. Never block shutdown for too long on the
	// Telegram long-poll.
	a.runMu.Lock()
	cancel := a.runCancel
	a.runCancel = nil
	wasRunning := a.running
	a.running = false
	a.runMu.Unlock()

	if !wasRunning {
		a.log.Debug("telegram stop called but not running")
		return nil
	}

	if cancel != nil {
		cancel()
	}
	if a.bot != nil {
		go a.bot.Stop()
	}

	done := make(chan struct{})
	go func() {
		a.runWG.Wait()
		close(done)
	}()

	// Grace window: keep shutdown snappy even if getUpdates is still waiting.
	grace := 2 * time.Second
	if dl, ok := ctx.Deadline(); ok {
		rem := time.Until(dl)
		if rem > 0 && rem < grace {
			grace = rem
		}
	}
	t := time.NewTimer(grace)
	defer t.Stop()

	select {
	case <-done:
		a.log.Info("polling stopped")
		return nil
	case <-ctx.Done():
		a.log.Warn("telegram stop cancelled", logx.Any("err", ctx.Err()))
		return ctx.Err()
	case <-t.C:
		a.log.Warn("telegram stop grace elapsed; continuing shutdown")
		return nil
	}
}

// SendText delivers one text message, honoring the outbound rate budget.
// Failures come back classified so callers can report the failure class
// without parsing Telegram error strings.
func (a *Adapter) SendText(ctx context.Context, to kit.Channel, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	if opt == nil {
		opt = &kit.SendOptions{}
	}
	if a.lim != nil {
		if err := a.lim.Wait(ctx); err != nil {
			return kit.MessageRef{}, classify(to, err)
		}
	}

	chat := &tele.Chat{ID: to.ChatID}
	sendOpt := &tele.SendOptions{
		ParseMode:             opt.ParseMode,
		DisableWebPagePreview: opt.DisablePreview,
		DisableNotification:   opt.Silent,
		ThreadID:              to.ThreadID,
	}

	msg, err := a.bot.Send(chat, truncRunes(text, maxMessageRunes), sendOpt)
	if err != nil {
		return kit.MessageRef{}, classify(to, err)
	}
	return kit.MessageRef{ChatID: to.ChatID, ThreadID: to.ThreadID, MessageID: msg.ID}, nil
}

// Delete removes a previously sent message, honoring the same rate budget
// as sends.
func (a *Adapter) Delete(ctx context.Context, ref kit.MessageRef) error {
	if ref.ChatID == 0 || ref.MessageID == 0 {
		return nil
	}
	to := kit.Channel{ChatID: ref.ChatID, ThreadID: ref.ThreadID}
	if a.lim != nil {
		if err := a.lim.Wait(ctx); err != nil {
			return classify(to, err)
		}
	}
	stored := tele.StoredMessage{
		MessageID: strconv.Itoa(ref.MessageID),
		ChatID:    ref.ChatID,
	}
	if err := a.bot.Delete(stored); err != nil {
		return classify(to, err)
	}
	return nil
}

// classify maps a raw send failure onto the transport error taxonomy.
func classify(to kit.Channel, err error) error {
	if err == nil {
		return nil
	}

	var flood tele.FloodError
	if errors.As(err, &flood) {
		return kit.RateLimited(to, time.Duration(flood.RetryAfter)*time.Second, err)
	}

	var tgErr *tele.Error
	if errors.As(err, &tgErr) {
		desc := strings.ToLower(tgErr.Description)
		switch {
		case tgErr.Code == 429:
			return kit.RateLimited(to, retryAfterHint(desc), err)
		case tgErr.Code == 401 || tgErr.Code == 403:
			return kit.PermissionDenied(to, err)
		case tgErr.Code == 400 && (strings.Contains(desc, "chat not found") || strings.Contains(desc, "thread not found")):
			return kit.ChannelNotFound(to, err)
		}
		return kit.NewSendError(kit.KindUnknown, to, err)
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return kit.TransientNetwork(to, err)
	}
	var nerr net.Error
	if errors.As(err, &nerr) {
		return kit.TransientNetwork(to, err)
	}
	return kit.NewSendError(kit.KindUnknown, to, err)
}

// retryAfterHint extracts the cooldown from a lowercased 429 description,
// which reads "too many requests: retry after 14".
func retryAfterHint(desc string) time.Duration {
	_, rest, ok := strings.Cut(desc, "retry after ")
	if !ok {
		return 0
	}
	n := 0
	for _, r := range rest {
		if r < '0' || r > '9' {
			break
		}
		n = n*10 + int(r-'0')
	}
	return time.Duration(n) * time.Second
}

// truncRunes returns s truncated to at most n runes; the last rune becomes
// an ellipsis when anything was cut.
func truncRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	runes := 0
	cut := len(s)
	for i := range s {
		if runes == n-1 {
			cut = i
		}
		runes++
		if runes > n {
			return s[:cut] + "…"
		}
	}
	return s
}
