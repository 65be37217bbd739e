package botlog

import (
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"
)

// RenderFunc turns one event payload into a human-readable text block.
// Implementations should not panic, but a panicking rule only costs its own
// output: Render recovers and falls back to the generic form.
type RenderFunc func(event string, payload map[string]any) string

// Wildcard is the registry key for the fallback rule.
const Wildcard = "*"

// Renderer maps event names to formatting rules. The zero value is not
// usable; construct with NewRenderer, which installs the built-in rules and
// the wildcard fallback. Hosts may register additional rules (or override
// the wildcard) at any time.
type Renderer struct {
	mu    sync.RWMutex
	rules map[string]RenderFunc
}

func NewRenderer() *Renderer {
	r := &Renderer{rules: map[string]RenderFunc{}}

	r.rules["member_update"] = diffRule("avatar", "nickname", "roles", "status")
	r.rules["message_edit"] = diffRule("content")
	r.rules["channel_update"] = diffRule("name", "topic", "position")
	r.rules["role_update"] = diffRule("name", "color", "permissions")
	r.rules["guild_update"] = diffRule("name", "icon", "owner")
	r.rules["member_join"] = genericRender
	r.rules["member_leave"] = genericRender
	r.rules["message_delete"] = genericRender
	r.rules["command"] = genericRender
	r.rules[Wildcard] = genericRender

	return r
}

func (r *Renderer) Register(event string, fn RenderFunc) {
	if event == "" || fn == nil {
		return
	}
	r.mu.Lock()
	r.rules[event] = fn
	r.mu.Unlock()
}

func (r *Renderer) lookup(event string) RenderFunc {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if fn, ok := r.rules[event]; ok {
		return fn
	}
	return r.rules[Wildcard]
}

// Render is best-effort and total: it never fails, whatever the payload.
func (r *Renderer) Render(event string, payload map[string]any) string {
	if fn := r.lookup(event); fn != nil {
		if out, ok := safeRender(fn, event, payload); ok {
			return out
		}
	}
	if out, ok := safeRender(genericRender, event, payload); ok {
		return out
	}
	// Even value formatting blew up; the name is all that's left.
	return "new event: " + event
}

func safeRender(fn RenderFunc, event string, payload map[string]any) (out string, ok bool) {
	defer func() {
		if rec := recover(); rec != nil {
			out, ok = "", false
		}
	}()
	return fn(event, payload), true
}

// diffRule compares the "before" and "after" snapshots over a known
// attribute set: one line per changed attribute, list-valued attributes as
// added/removed sets. Attributes missing on either snapshot are skipped,
// never errored.
func diffRule(attrs ...string) RenderFunc {
	return func(event string, payload map[string]any) string {
		before, bok := payload["before"]
		after, aok := payload["after"]
		if !bok || !aok {
			return genericRender(event, payload)
		}

		var lines []string
		for _, attr := range attrs {
			bv, bok := lookupAttr(before, attr)
			av, aok := lookupAttr(after, attr)
			if !bok || !aok {
				continue
			}

			if bl, blOK := asList(bv); blOK {
				if al, alOK := asList(av); alOK {
					added, removed := diffLists(bl, al)
					if len(added) > 0 {
						lines = append(lines, attr+" added: "+strings.Join(added, ", "))
					}
					if len(removed) > 0 {
						lines = append(lines, attr+" removed: "+strings.Join(removed, ", "))
					}
					continue
				}
			}

			bs, as := formatValue(bv), formatValue(av)
			if bs != as {
				lines = append(lines, attr+": "+bs+" -> "+as)
			}
		}
		return strings.Join(lines, "\n")
	}
}

// genericRender lists every payload key as "key: value" in sorted order.
func genericRender(event string, payload map[string]any) string {
	if len(payload) == 0 {
		return "new event: " + event
	}
	keys := make([]string, 0, len(payload))
	for k := range payload {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString(k)
		b.WriteString(": ")
		b.WriteString(formatValue(payload[k]))
	}
	return b.String()
}

// lookupAttr reads a named attribute from a snapshot, which may be a map
// or a (pointer to) struct. Struct fields match case-insensitively so host
// types can be passed without adapters.
func lookupAttr(v any, name string) (any, bool) {
	switch m := v.(type) {
	case map[string]any:
		val, ok := m[name]
		return val, ok
	case map[string]string:
		val, ok := m[name]
		return val, ok
	case nil:
		return nil, false
	}

	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return nil, false
		}
		rv = rv.Elem()
	}
	switch rv.Kind() {
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return nil, false
		}
		mv := rv.MapIndex(reflect.ValueOf(name))
		if !mv.IsValid() {
			return nil, false
		}
		return mv.Interface(), true
	case reflect.Struct:
		rt := rv.Type()
		for i := 0; i < rt.NumField(); i++ {
			f := rt.Field(i)
			if !f.IsExported() {
				continue
			}
			if strings.EqualFold(f.Name, name) {
				return rv.Field(i).Interface(), true
			}
		}
	}
	return nil, false
}

// asList normalizes slice/array values into rendered strings.
func asList(v any) ([]string, bool) {
	switch t := v.(type) {
	case []string:
		return append([]string(nil), t...), true
	case []any:
		out := make([]string, 0, len(t))
		for _, e := range t {
			out = append(out, formatValue(e))
		}
		return out, true
	}
	rv := reflect.ValueOf(v)
	if !rv.IsValid() || (rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array) {
		return nil, false
	}
	if rv.Kind() == reflect.Slice && rv.Type().Elem().Kind() == reflect.Uint8 {
		// Byte blobs are scalars, not item lists.
		return nil, false
	}
	out := make([]string, 0, rv.Len())
	for i := 0; i < rv.Len(); i++ {
		out = append(out, formatValue(rv.Index(i).Interface()))
	}
	return out, true
}

// diffLists returns the symmetric difference, keeping input order.
func diffLists(before, after []string) (added, removed []string) {
	bset := make(map[string]struct{}, len(before))
	for _, s := range before {
		bset[s] = struct{}{}
	}
	aset := make(map[string]struct{}, len(after))
	for _, s := range after {
		aset[s] = struct{}{}
	}
	for _, s := range after {
		if _, ok := bset[s]; !ok {
			added = append(added, s)
		}
	}
	for _, s := range before {
		if _, ok := aset[s]; !ok {
			removed = append(removed, s)
		}
	}
	return added, removed
}

func formatValue(v any) string {
	switch t := v.(type) {
	case nil:
		return "<nil>"
	case string:
		return t
	}
	return fmt.Sprint(v)
}
