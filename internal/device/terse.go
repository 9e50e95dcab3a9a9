package device

import (
	"strings"
)

type terseRecord struct {
	fields   map[string]string
	disabled bool
}

// parseTerse tokenizes "print terse" output: one record per line, an item
// number, optional flag letters (X = disabled), then key=value pairs with
// optionally quoted values. A ";;; text" line sets the comment of the
// record that follows it.
func parseTerse(out string) []terseRecord {
	var records []terseRecord
	pendingComment := ""

	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(strings.TrimRight(line, "\r"))
		if line == "" || strings.HasPrefix(line, "Flags:") {
			continue
		}
		if strings.HasPrefix(line, ";;;") {
			pendingComment = strings.TrimSpace(strings.TrimPrefix(line, ";;;"))
			continue
		}

		rec := terseRecord{fields: map[string]string{}}
		for i, token := range tokenize(line) {
			key, value, ok := strings.Cut(token, "=")
			if !ok {
				if i > 0 && strings.ContainsRune(token, 'X') {
					rec.disabled = true
				}
				continue
			}
			rec.fields[key] = value
		}
		if len(rec.fields) == 0 {
			continue
		}
		if _, ok := rec.fields["comment"]; !ok && pendingComment != "" {
			rec.fields["comment"] = pendingComment
		}
		pendingComment = ""
		records = append(records, rec)
	}
	return records
}

// tokenize splits on spaces outside double quotes, unquoting as it goes
func tokenize(line string) []string {
	var tokens []string
	var b strings.Builder
	inQuotes := false
	escaped := false
	started := false

	for _, r := range line {
		switch {
		case escaped:
			switch r {
			case 'n':
				b.WriteRune('\n')
			case 'r':
				b.WriteRune('\r')
			default:
				b.WriteRune(r)
			}
			escaped = false
		case r == '\\' && inQuotes:
			escaped = true
		case r == '"':
			inQuotes = !inQuotes
			started = true
		case (r == ' ' || r == '\t') && !inQuotes:
			if started {
				tokens = append(tokens, b.String())
				b.Reset()
				started = false
			}
		default:
			b.WriteRune(r)
			started = true
		}
	}
	if started {
		tokens = append(tokens, b.String())
	}
	return tokens
}
