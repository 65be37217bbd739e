package botlog

import (
	"fmt"

	"logbot/pkg/logx"
)

// ConsoleSink mirrors requests to the local console. Writes never fail
// observably: a sink may filter by level, but the call itself always
// returns.
type ConsoleSink interface {
	Write(sev Severity, line string)
	Writef(sev Severity, format string, args ...any)
}

// NewConsoleSink adapts a logx.Logger into a ConsoleSink. The logger's own
// level decides visibility; severity maps one-to-one onto logx levels.
func NewConsoleSink(log logx.Logger) ConsoleSink {
	return &consoleSink{log: log}
}

type consoleSink struct {
	log logx.Logger
}

func (c *consoleSink) Write(sev Severity, line string) {
	switch sev {
	case SeverityDebug:
		c.log.Debug(line)
	case SeverityWarning:
		c.log.Warn(line)
	case SeverityError:
		c.log.Error(line)
	default:
		c.log.Info(line)
	}
}

func (c *consoleSink) Writef(sev Severity, format string, args ...any) {
	c.Write(sev, fmt.Sprintf(format, args...))
}
