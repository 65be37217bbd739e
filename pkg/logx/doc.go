// Package logx configures logbot's structured logging.
//
// This repo uses a small wrapper (logx.Logger) on top of zerolog to keep:
//   - Console output readable (short timestamp + short caller)
//   - File output JSON-structured
//
// Forwarding log-worthy events to a remote chat channel is deliberately not
// handled here; that is pkg/botlog's job, which owns routing, pacing and
// failure absorption for the remote path.
package logx
