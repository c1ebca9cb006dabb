// Package template fills {placeholder} tokens in message content and turns
// @name mentions into Slack user references.
package template

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Defaults returns the built-in placeholders for t. Calendar messages pass
// the event start, everything else the send time.
func Defaults(t time.Time) map[string]string {
	tomorrow := t.AddDate(0, 0, 1)
	return map[string]string{
		"{time}":                  t.Format("03:04 PM"),
		"{year}":                  strconv.Itoa(t.Year()),
		"{month}":                 t.Month().String(),
		"{day}":                   strconv.Itoa(t.Day()),
		"{date}":                  FormatDate(t),
		"{date_storage}":          t.Format("2006 01 02"),
		"{date_tomorrow}":         FormatDate(tomorrow),
		"{date_tomorrow_storage}": tomorrow.Format("2006 01 02"),
	}
}

// Ordinal returns the English suffix for a day of month.
func Ordinal(day int) string {
	if n := day % 100; n >= 10 && n <= 20 {
		return "th"
	}
	switch day % 10 {
	case 1:
		return "st"
	case 2:
		return "nd"
	case 3:
		return "rd"
	}
	return "th"
}

// FormatDate renders t as "1st August 2025".
func FormatDate(t time.Time) string {
	return fmt.Sprintf("%d%s %s %d", t.Day(), Ordinal(t.Day()), t.Month(), t.Year())
}

// Merge layers overrides on top of base into a new map.
func Merge(base, overrides map[string]string) map[string]string {
	out := make(map[string]string, len(base)+len(overrides))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range overrides {
		out[k] = v
	}
	return out
}

// Replacer substitutes every placeholder in a single pass. Longer
// placeholders win when two start at the same offset.
type Replacer struct {
	r *strings.Replacer
}

func NewReplacer(repl map[string]string) *Replacer {
	keys := make([]string, 0, len(repl))
	for k := range repl {
		if k != "" {
			keys = append(keys, k)
		}
	}
	sort.Slice(keys, func(i, j int) bool {
		if len(keys[i]) != len(keys[j]) {
			return len(keys[i]) > len(keys[j])
		}
		return keys[i] < keys[j]
	})
	pairs := make([]string, 0, 2*len(keys))
	for _, k := range keys {
		pairs = append(pairs, k, repl[k])
	}
	return &Replacer{r: strings.NewReplacer(pairs...)}
}

func (r *Replacer) String(s string) string { return r.r.Replace(s) }

// Apply walks maps and slices decoded from YAML or JSON and replaces inside
// every string. Other values are returned unchanged.
func (r *Replacer) Apply(v any) any {
	return walk(v, r.String)
}

// ReplaceRecursive is NewReplacer(repl).Apply(v).
func ReplaceRecursive(v any, repl map[string]string) any {
	return NewReplacer(repl).Apply(v)
}

func walk(v any, fn func(string) string) any {
	switch x := v.(type) {
	case string:
		return fn(x)
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, vv := range x {
			out[k] = walk(vv, fn)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, vv := range x {
			out[i] = walk(vv, fn)
		}
		return out
	case []string:
		out := make([]string, len(x))
		for i, s := range x {
			out[i] = fn(s)
		}
		return out
	default:
		return v
	}
}
