package memory

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

const promptHeader = "=== MEMORY CONTEXT ==="

// FormatForPrompt renders records as a prompt block: a header line followed
// by "<Category>: <content>" per record. No records renders as "".
func FormatForPrompt(records []Record) string {
	if len(records) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString(promptHeader)
	for _, rec := range records {
		b.WriteString("\n")
		b.WriteString(HumanizeCategory(rec.Category))
		b.WriteString(": ")
		b.WriteString(rec.Content)
	}
	return b.String()
}

// HumanizeCategory turns "personal_facts" into "Personal Facts". An empty
// category renders as "General".
func HumanizeCategory(c Category) string {
	raw := strings.TrimSpace(string(c))
	if raw == "" {
		return "General"
	}
	parts := strings.Split(raw, "_")
	for i, p := range parts {
		if p == "" {
			continue
		}
		r, size := utf8.DecodeRuneInString(p)
		parts[i] = string(unicode.ToUpper(r)) + strings.ToLower(p[size:])
	}
	return strings.Join(parts, " ")
}
