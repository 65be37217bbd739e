// Package botlog is a leveled event-logging facade that mirrors every
// request to the local console and forwards a configurable subset to a
// remote chat channel.
//
// # Dispatch
//
// Each facade call builds an immutable Request and hands it to the
// dispatcher, which always writes one console line and then, when remote
// delivery is requested, either sends synchronously or appends to a paced
// FIFO queue. A single background drain goroutine pops one request at a
// time and leaves at least the configured interval of quiet between
// consecutive remote calls, so bursts never trip the chat API's limits.
//
// # Failure model
//
// Remote delivery is best-effort and at-most-once: a failed send is
// reported as a console warning (with the channel and failure kind) and
// dropped, never retried, and never surfaced to the original caller. The
// only error a caller sees is its own misuse (requesting a remote send
// without a channel) or ErrClosed after Close.
//
// # Rendering
//
// Structured "event" payloads are rendered through a registry of per-event
// rules with a wildcard fallback; structured exceptions are translated into
// an operator diagnostic and, for command-usage mistakes, an end-user
// remediation sentence. Both paths are total: they degrade to generic text
// instead of failing.
package botlog
