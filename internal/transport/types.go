package transport

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"
)

type UpdateKind string

const (
	UpdateMessage     UpdateKind = "message"
	UpdateEdited      UpdateKind = "edited_message"
	UpdateMemberJoin  UpdateKind = "member_join"
	UpdateMemberLeave UpdateKind = "member_leave"
)

type Update struct {
	Kind    UpdateKind
	Time    time.Time
	Message *Message
	Member  *MemberEvent
}

type Message struct {
	ID           int
	ChatID       int64
	ThreadID     int // telegram forum topic thread id (0 if none)
	FromID       int64
	FromUsername string
	Text         string
	OldText      string // previous text for edited_message (empty otherwise)
	IsGroup      bool
}

type MemberEvent struct {
	ChatID      int64
	UserID      int64
	Username    string
	DisplayName string
}

// Channel identifies a remote log destination: a chat plus an optional
// forum topic thread.
type Channel struct {
	ChatID   int64
	ThreadID int
}

func (c Channel) IsZero() bool { return c.ChatID == 0 }

func (c Channel) String() string {
	if c.ThreadID != 0 {
		return strconv.FormatInt(c.ChatID, 10) + ":" + strconv.Itoa(c.ThreadID)
	}
	return strconv.FormatInt(c.ChatID, 10)
}

// ParseChannel parses "chatID" or "chatID:threadID".
// An empty string yields the zero Channel and no error.
func ParseChannel(s string) (Channel, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Channel{}, nil
	}
	chatPart, threadPart, hasThread := strings.Cut(s, ":")
	chat, err := strconv.ParseInt(strings.TrimSpace(chatPart), 10, 64)
	if err != nil {
		return Channel{}, fmt.Errorf("transport: invalid channel %q: %w", s, err)
	}
	ch := Channel{ChatID: chat}
	if hasThread {
		th, err := strconv.Atoi(strings.TrimSpace(threadPart))
		if err != nil {
			return Channel{}, fmt.Errorf("transport: invalid channel thread %q: %w", s, err)
		}
		ch.ThreadID = th
	}
	return ch, nil
}

type MessageRef struct {
	ChatID    int64
	ThreadID  int
	MessageID int
}

type SendOptions struct {
	ParseMode      string
	DisablePreview bool
	Silent         bool // suppress the client-side notification sound
}

// Sink delivers one rendered text body to a channel. Implementations must
// report failures via *SendError so callers can classify them.
type Sink interface {
	SendText(ctx context.Context, to Channel, text string, opt *SendOptions) (MessageRef, error)
}

type Adapter interface {
	Sink

	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error

	// Delete removes a message the bot previously sent (moderation and
	// cleanup commands). Failures are classified like send failures.
	Delete(ctx context.Context, ref MessageRef) error
}
