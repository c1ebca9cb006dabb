package template

import "strings"

// TagUsers rewrites "@name" as "<@ID>" using members (name to user id).
// The longest name matching right after the @ wins; unknown mentions are
// left as written.
func TagUsers(text string, members map[string]string) string {
	if len(members) == 0 || !strings.Contains(text, "@") {
		return text
	}
	var b strings.Builder
	b.Grow(len(text))
	for i := 0; i < len(text); {
		if text[i] != '@' {
			b.WriteByte(text[i])
			i++
			continue
		}
		rest := text[i+1:]
		best := ""
		for name := range members {
			if len(name) > len(best) && strings.HasPrefix(rest, name) {
				best = name
			}
		}
		if best == "" {
			b.WriteByte('@')
			i++
			continue
		}
		b.WriteString("<@")
		b.WriteString(members[best])
		b.WriteByte('>')
		i += 1 + len(best)
	}
	return b.String()
}

// TagRecursive applies TagUsers to every string inside v.
func TagRecursive(v any, members map[string]string) any {
	return walk(v, func(s string) string { return TagUsers(s, members) })
}
