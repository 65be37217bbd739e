package botlog

import (
	"context"
	"strings"
	"sync/atomic"
	"time"

	"logbot/internal/eventbus"
	kit "logbot/internal/transport"
)

// Dispatcher routes one request: always the console mirror, then the
// remote path when requested. It owns the drain queue in queue mode.
type Dispatcher struct {
	mention  string
	sendTO   time.Duration
	console  ConsoleSink
	remote   kit.Sink
	renderer *Renderer
	bus      eventbus.Bus

	queue *drainQueue // nil in direct mode

	sent   uint64
	failed uint64
}

func newDispatcher(cfg Config, console ConsoleSink, remote kit.Sink, renderer *Renderer, bus eventbus.Bus) *Dispatcher {
	d := &Dispatcher{
		mention:  cfg.Mention,
		sendTO:   cfg.SendTimeout,
		console:  console,
		remote:   remote,
		renderer: renderer,
		bus:      bus,
	}
	if cfg.DrainInterval > 0 {
		d.queue = newDrainQueue(cfg.DrainInterval, cfg.MaxPending, d.deliver)
	}
	return d
}

// Dispatch never blocks the caller beyond the console write (and, in
// direct mode, the remote attempt itself). Remote failures are absorbed;
// the only caller-visible error is a send request without a channel.
func (d *Dispatcher) Dispatch(req *Request) error {
	if req.Send && req.Channel.IsZero() {
		return ErrNoChannel
	}

	text := req.Message
	switch {
	case req.Exc != nil:
		if req.operatorText != "" {
			text = req.Message + "\n" + req.operatorText
		}
	case req.Event != "":
		if detail := d.renderer.Render(req.Event, req.Payload); detail != "" {
			text = req.Message + "\n" + detail
		}
	}
	d.console.Write(req.Severity, text)

	if !req.Send {
		return nil
	}

	it := queueItem{req: req, body: d.composeBody(req, text)}
	if d.queue != nil {
		evicted, err := d.queue.enqueue(it)
		if err != nil {
			return err
		}
		if evicted != nil {
			d.reportEvicted(*evicted)
		}
		return nil
	}

	d.deliver(it)
	return nil
}

// composeBody builds the remote body: severity header, the mirrored text,
// the user remediation block for error requests, and the escalation marker
// when critical.
func (d *Dispatcher) composeBody(req *Request, text string) string {
	var b strings.Builder
	if req.Critical && d.mention != "" {
		b.WriteString(d.mention)
		b.WriteString(" ")
	}
	b.WriteString("[")
	b.WriteString(req.Severity.String())
	b.WriteString("] ")
	b.WriteString(text)
	if req.userText != "" {
		b.WriteString("\n\n[user] ")
		b.WriteString(req.userText)
	}
	return b.String()
}

// deliver performs one remote attempt. At-most-once: failures produce a
// console warning and a bus event, then the entry is gone.
func (d *Dispatcher) deliver(it queueItem) {
	if d.remote == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), d.sendTO)
	ref, err := d.remote.SendText(ctx, it.req.Channel, it.body, &kit.SendOptions{
		DisablePreview: true,
		Silent:         !it.req.Critical,
	})
	cancel()

	if err != nil {
		atomic.AddUint64(&d.failed, 1)
		kind := kit.KindOf(err)
		d.console.Writef(SeverityWarning, "remote delivery failed: channel=%s kind=%s", it.req.Channel, kind)
		d.publish(TopicRemoteFailed, it.req, "failed", string(kind), err.Error(), 0)
		return
	}
	atomic.AddUint64(&d.sent, 1)
	d.publish(TopicRemoteSent, it.req, "sent", "", "", ref.MessageID)
}

func (d *Dispatcher) reportEvicted(it queueItem) {
	d.console.Writef(SeverityWarning, "remote log dropped: queue over capacity: channel=%s", it.req.Channel)
	d.publish(TopicRemoteDropped, it.req, "dropped", "", "queue over capacity", 0)
}

func (d *Dispatcher) publish(topic string, req *Request, outcome, errKind, errText string, msgID int) {
	if d.bus == nil {
		return
	}
	now := time.Now()
	d.bus.Publish(eventbus.Event{Type: topic, Time: now, Data: DeliveryEvent{
		RequestID: req.ID,
		Severity:  req.Severity.String(),
		Kind:      req.kind(),
		Event:     req.Event,
		ChatID:    req.Channel.ChatID,
		ThreadID:  req.Channel.ThreadID,
		At:        now,
		Outcome:   outcome,
		ErrorKind: errKind,
		Error:     errText,
		MessageID: msgID,
	}})
}

func (d *Dispatcher) stats() Stats {
	st := Stats{
		Sent:   atomic.LoadUint64(&d.sent),
		Failed: atomic.LoadUint64(&d.failed),
		State:  stateDirect,
	}
	if d.queue != nil {
		st.Pending = d.queue.pending()
		st.Dropped = atomic.LoadUint64(&d.queue.dropped)
		st.State = d.queue.stateName()
	}
	return st
}

func (d *Dispatcher) close() {
	if d.queue != nil {
		d.queue.stop()
	}
}
