package text

import (
	"regexp"
	"strings"
	"unicode"
)

var spelledDigits = map[string]string{
	"zero":  "0",
	"one":   "1",
	"two":   "2",
	"three": "3",
	"four":  "4",
	"five":  "5",
	"six":   "6",
	"seven": "7",
	"eight": "8",
	"nine":  "9",
}

var (
	bracketedAt  = regexp.MustCompile(`\s*[\(\[\{<]\s*at\s*[\)\]\}>]\s*`)
	bracketedDot = regexp.MustCompile(`\s*[\(\[\{<]\s*dot\s*[\)\]\}>]\s*`)
	bareDot      = regexp.MustCompile(`([a-z0-9])\s+dot\s+([a-z]{2,})\b`)
	whitespace   = regexp.MustCompile(`\s+`)
)

// IsBlank reports whether content has no visible characters.
func IsBlank(content string) bool {
	return strings.TrimFunc(content, func(r rune) bool {
		return unicode.IsSpace(r) || isInvisible(r)
	}) == ""
}

// Normalize folds the obfuscations people use to slip contact details past filters:
// case, zero-width characters, fullwidth digits, spelled-out digits and "(at)"/"dot" tricks.
// The result is only meant for pattern matching.
func Normalize(content string) string {
	var b strings.Builder
	b.Grow(len(content))
	for _, r := range content {
		switch {
		case isInvisible(r):
			continue
		case r >= '０' && r <= '９':
			b.WriteRune('0' + (r - '０'))
		case r == '＠':
			b.WriteRune('@')
		default:
			b.WriteRune(unicode.ToLower(r))
		}
	}
	out := b.String()

	words := strings.Fields(out)
	for i, word := range words {
		if digit, ok := spelledDigits[strings.Trim(word, ".,;:!?-")]; ok {
			words[i] = digit
		}
	}
	out = strings.Join(words, " ")

	out = bracketedAt.ReplaceAllString(out, "@")
	out = bracketedDot.ReplaceAllString(out, ".")
	out = bareDot.ReplaceAllString(out, "$1.$2")
	out = whitespace.ReplaceAllString(out, " ")
	return strings.TrimSpace(out)
}

// LongestRun returns the length of the longest run of one repeated non-space rune.
func LongestRun(content string) int {
	var (
		prev    rune
		run     int
		longest int
	)
	for _, r := range content {
		if unicode.IsSpace(r) {
			run = 0
			prev = 0
			continue
		}
		if r == prev {
			run++
		} else {
			run = 1
			prev = r
		}
		if run > longest {
			longest = run
		}
	}
	return longest
}

// CountDigits counts ASCII digits in content.
func CountDigits(content string) int {
	n := 0
	for _, r := range content {
		if r >= '0' && r <= '9' {
			n++
		}
	}
	return n
}

func isInvisible(r rune) bool {
	switch r {
	case '\u200b', '\u200c', '\u200d', '\u2060', '\ufeff', '\u00ad':
		return true
	}
	return false
}
