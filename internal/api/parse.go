package api

import (
	"net/http"
	"sort"
	"strings"

	"github.com/dreamware/comboq/internal/combo"
)

// paramPrefix marks request headers that are forwarded as combo params.
const paramPrefix = "p-"

// ParseCombos reads newline separated email:password pairs. Each line is
// split on its first ':' and both halves are trimmed. Blank lines are
// ignored; lines without a ':' or with an empty email are counted as
// skipped.
func ParseCombos(body string) ([]combo.Combo, int) {
	var (
		out     []combo.Combo
		skipped int
	)
	for _, line := range strings.Split(strings.ReplaceAll(body, "\r", ""), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		email, password, ok := strings.Cut(line, ":")
		email = strings.TrimSpace(email)
		if !ok || email == "" {
			skipped++
			continue
		}
		out = append(out, combo.Combo{Email: email, Password: strings.TrimSpace(password)})
	}
	return out, skipped
}

// ParamsFromHeader renders every p-* header as "name|value\n", with the
// prefix removed, and lower-cases the result. Headers are emitted in name
// order so identical requests produce identical params.
func ParamsFromHeader(h http.Header) string {
	names := make([]string, 0, len(h))
	for name := range h {
		if strings.HasPrefix(strings.ToLower(name), paramPrefix) {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	var b strings.Builder
	for _, name := range names {
		for _, v := range h[name] {
			b.WriteString(name[len(paramPrefix):])
			b.WriteByte('|')
			b.WriteString(v)
			b.WriteByte('\n')
		}
	}
	return strings.ToLower(b.String())
}
