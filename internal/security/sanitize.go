// Package security cleans diner supplied text before it is forwarded to
// staff screens or written to logs.
package security

import (
	"html"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Length limits for diner supplied text
const (
	MaxMessageLength = 500
	MaxNoteLength    = 200
	MaxLogLength     = 2000
)

var (
	scriptTag       = regexp.MustCompile(`(?is)<script[^>]*>.*?</script>`)
	openScriptTag   = regexp.MustCompile(`(?i)<script[^>]*>`)
	eventHandler    = regexp.MustCompile(`(?i)\bon[a-z]+\s*=\s*("[^"]*"|'[^']*'|[^>\s]*)`)
	dangerousScheme = regexp.MustCompile(`(?i)(javascript|vbscript)\s*:`)
	dataScript      = regexp.MustCompile(`(?i)data\s*:\s*[^,]*script`)
)

// SanitizeMessage cleans a diner to staff message. The result is HTML
// escaped and at most MaxMessageLength bytes.
func SanitizeMessage(message string) string {
	return clean(message, MaxMessageLength)
}

// SanitizeNote cleans an order line note
func SanitizeNote(note string) string {
	return clean(note, MaxNoteLength)
}

// SanitizeLogLine strips control characters from text forwarded by the
// diner UI log sink so one request cannot forge several log lines.
func SanitizeLogLine(line string) string {
	line = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) && r != '\t' {
			return ' '
		}
		return r
	}, line)
	return truncate(line, MaxLogLength)
}

func clean(input string, limit int) string {
	input = strings.TrimSpace(input)
	if input == "" {
		return input
	}

	input = scriptTag.ReplaceAllString(input, "")
	input = openScriptTag.ReplaceAllString(input, "")
	input = eventHandler.ReplaceAllString(input, "")
	input = dangerousScheme.ReplaceAllString(input, "")
	input = dataScript.ReplaceAllString(input, "")

	return truncate(html.EscapeString(strings.TrimSpace(input)), limit)
}

// truncate cuts s to at most limit bytes without splitting a rune
func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	s = s[:limit]
	for len(s) > 0 && !utf8.ValidString(s) {
		s = s[:len(s)-1]
	}
	return s
}

// ValidateInput reports whether sanitized text is free of markup that
// survived cleaning
func ValidateInput(input string) bool {
	suspicious := []string{
		"<script", "javascript:", "vbscript:", "onload=", "onerror=",
		"data:text/html", "\\x", "\\u00",
	}

	lower := strings.ToLower(input)
	for _, pattern := range suspicious {
		if strings.Contains(lower, pattern) {
			return false
		}
	}
	return true
}
