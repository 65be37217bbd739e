package botlog

import (
	"errors"
	"sort"
	"strings"

	"logbot/pkg/logx"
)

// ExceptionKind is a closed set of failure families. Translation templates
// key off the kind; new families are added as new constants plus a template
// entry, never by inspecting concrete error types at render time.
type ExceptionKind string

const (
	KindMissingArgument ExceptionKind = "missing_argument"
	KindBadArgument     ExceptionKind = "bad_argument"
	KindCheckFailure    ExceptionKind = "check_failure"
	KindNotFound        ExceptionKind = "not_found"
	KindInternal        ExceptionKind = "internal"
)

// Metadata keys consumed by the user-facing templates.
const (
	metaParam = "param"
	metaType  = "type"
	metaValue = "value"
)

// Exception is a structured failure: a kind, a human summary, an optional
// wrapped cause chain and template metadata. It satisfies error so it can
// travel through ordinary error returns before reaching the facade.
type Exception struct {
	Kind    ExceptionKind
	Message string
	Cause   error
	Meta    map[string]string
	Stack   string
}

func NewException(kind ExceptionKind, message string) *Exception {
	if kind == "" {
		kind = KindInternal
	}
	return &Exception{Kind: kind, Message: message}
}

// MissingArgument describes a command invoked without a required argument.
func MissingArgument(param, typ string) *Exception {
	return NewException(KindMissingArgument, "missing required argument").
		WithMeta(metaParam, param).
		WithMeta(metaType, typ)
}

// BadArgument describes an argument value that could not be converted to
// its declared type.
func BadArgument(value, param, typ string) *Exception {
	return NewException(KindBadArgument, "bad argument value").
		WithMeta(metaValue, value).
		WithMeta(metaParam, param).
		WithMeta(metaType, typ)
}

// Wrap lifts an arbitrary error into an internal-kind exception, capturing
// the caller's stack. Passing an *Exception returns it unchanged.
func Wrap(err error) *Exception {
	if err == nil {
		return NewException(KindInternal, "unknown failure")
	}
	var x *Exception
	if errors.As(err, &x) {
		return x
	}
	ex := NewException(KindInternal, err.Error())
	ex.Cause = err
	ex.Stack = logx.StackTrace(3, 16)
	return ex
}

func (x *Exception) WithMeta(k, v string) *Exception {
	if x.Meta == nil {
		x.Meta = map[string]string{}
	}
	x.Meta[k] = v
	return x
}

func (x *Exception) WithCause(err error) *Exception {
	x.Cause = err
	return x
}

func (x *Exception) Error() string {
	if x == nil {
		return "<nil>"
	}
	if x.Message == "" {
		return string(x.Kind)
	}
	return string(x.Kind) + ": " + x.Message
}

func (x *Exception) Unwrap() error {
	if x == nil {
		return nil
	}
	return x.Cause
}

// Translate renders an exception into the operator diagnostic and, for
// command-usage kinds, an end-user remediation sentence (empty otherwise).
// It is total: nil input and missing metadata degrade to generic text.
func Translate(x *Exception, ctx map[string]any) (operator, user string) {
	if x == nil {
		x = NewException(KindInternal, "unknown failure")
	}

	var b strings.Builder
	b.WriteString(x.Error())
	// Cause chain, outermost first.
	for cause := x.Cause; cause != nil; cause = errors.Unwrap(cause) {
		b.WriteString("\ncaused by: ")
		b.WriteString(cause.Error())
	}
	if len(ctx) > 0 {
		b.WriteString("\ncontext:")
		keys := make([]string, 0, len(ctx))
		for k := range ctx {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			b.WriteString("\n")
			b.WriteString(k)
			b.WriteString(": ")
			b.WriteString(formatValue(ctx[k]))
		}
	}
	if x.Stack != "" {
		b.WriteString("\nstack:\n")
		b.WriteString(x.Stack)
	}

	if tmpl, ok := userTemplates[x.Kind]; ok {
		user = tmpl(x.Meta)
	}
	return b.String(), user
}

// userTemplates maps command-usage kinds to remediation sentences. Kinds
// without an entry produce no user-facing text.
var userTemplates = map[ExceptionKind]func(meta map[string]string) string{
	KindMissingArgument: missingArgumentText,
	KindBadArgument:     badArgumentText,
}

func missingArgumentText(meta map[string]string) string {
	param, typ := meta[metaParam], meta[metaType]
	if param == "" || typ == "" {
		return "You did not provide a required command argument."
	}
	return "You did not provide the command argument: `" + param + ": " + typ + "`"
}

func badArgumentText(meta map[string]string) string {
	value, param, typ := meta[metaValue], meta[metaParam], meta[metaType]
	if value == "" || param == "" || typ == "" {
		return "One of the command arguments could not be interpreted."
	}
	return "Could not interpret `" + value + "` as a `" + typ + "` for argument `" + param + "`"
}
