package engine

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// DefaultReadingWPM is the reading speed used for reading time
const DefaultReadingWPM = 200

// CountWords counts whitespace-separated runs
func CountWords(text string) int {
	return len(strings.Fields(text))
}

// CountChars counts runes
func CountChars(text string) int {
	return utf8.RuneCountInString(text)
}

// ReadingTime returns whole minutes to read words at wpm, rounded up
func ReadingTime(words, wpm int) int {
	if words <= 0 {
		return 0
	}
	if wpm <= 0 {
		wpm = DefaultReadingWPM
	}
	return (words + wpm - 1) / wpm
}

// ComputePoemStats counts non-empty lines and stanzas, a stanza being a run
// of non-empty lines
func ComputePoemStats(text string, wpm int) PoemStats {
	var stats PoemStats
	inStanza := false

	for _, line := range strings.Split(text, "\n") {
		if strings.TrimSpace(line) == "" {
			inStanza = false
			continue
		}
		stats.Lines++
		if !inStanza {
			stats.Stanzas++
			inStanza = true
		}
	}

	stats.Words = CountWords(text)
	stats.ReadingTime = ReadingTime(stats.Words, wpm)
	return stats
}

// Initials derives up to two uppercase initials from a name
func Initials(name string) string {
	var b strings.Builder
	for i, word := range strings.Fields(name) {
		if i == 2 {
			break
		}
		r, _ := utf8.DecodeRuneInString(word)
		b.WriteRune(unicode.ToUpper(r))
	}
	return b.String()
}
