package core

import (
	"strconv"
	"strings"

	"logbot/pkg/botlog"
)

// ArgSpec declares one positional command argument. Type is the label shown
// in remediation texts ("int", "text", "telegram.member"); only "int" gets
// a conversion check at parse time.
type ArgSpec struct {
	Name     string
	Type     string
	Optional bool
	// Rest captures every remaining token, joined by single spaces.
	Rest bool
}

func (a ArgSpec) placeholder() string {
	name := a.Name
	if a.Rest {
		name += "..."
	}
	if a.Optional {
		return "[" + name + "]"
	}
	return "<" + name + ":" + a.Type + ">"
}

// tokenizeCommandLine splits command text into tokens while supporting quotes.
// Examples:
//
//	/cmd a "b c" d
func tokenizeCommandLine(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	var (
		out   []string
		buf   strings.Builder
		inQ   bool
		qChar byte
		esc   bool
	)
	flush := func() {
		if buf.Len() > 0 {
			out = append(out, buf.String())
			buf.Reset()
		}
	}
	for i := 0; i < len(s); i++ {
		ch := s[i]
		if esc {
			buf.WriteByte(ch)
			esc = false
			continue
		}
		if ch == '\\' {
			esc = true
			continue
		}
		if inQ {
			if ch == qChar {
				inQ = false
				continue
			}
			buf.WriteByte(ch)
			continue
		}
		switch ch {
		case '"', '\'':
			inQ = true
			qChar = ch
		case ' ', '\t', '\n', '\r':
			flush()
		default:
			buf.WriteByte(ch)
		}
	}
	flush()
	return out
}

// parseArgs binds positional tokens to their specs. Failures come back as
// typed exceptions carrying the argument metadata, so the remediation text
// can name the argument exactly.
func parseArgs(specs []ArgSpec, tokens []string) (map[string]string, *botlog.Exception) {
	out := make(map[string]string, len(specs))
	i := 0
	for _, sp := range specs {
		if sp.Rest {
			if i < len(tokens) {
				out[sp.Name] = strings.Join(tokens[i:], " ")
				i = len(tokens)
				continue
			}
			if sp.Optional {
				continue
			}
			return nil, botlog.MissingArgument(sp.Name, sp.Type)
		}
		if i >= len(tokens) {
			if sp.Optional {
				continue
			}
			return nil, botlog.MissingArgument(sp.Name, sp.Type)
		}
		tok := tokens[i]
		i++
		if sp.Type == "int" {
			if _, err := strconv.Atoi(tok); err != nil {
				return nil, botlog.BadArgument(tok, sp.Name, sp.Type)
			}
		}
		out[sp.Name] = tok
	}
	return out, nil
}

// commandWord extracts the command name from the first token: leading "/"
// stripped, "@botname" suffix dropped, lowercased.
func commandWord(tok string) string {
	word := strings.TrimPrefix(tok, "/")
	if i := strings.IndexByte(word, '@'); i >= 0 {
		word = word[:i]
	}
	return strings.ToLower(word)
}
