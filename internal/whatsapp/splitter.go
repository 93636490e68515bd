package whatsapp

import (
	"strings"
	"unicode/utf8"
)

// CharacterLimit is Twilio's maximum WhatsApp message body length.
const CharacterLimit = 1600

// SplitMessage splits a reply into deliverable parts. Parts break at the last
// sentence boundary under the limit, then at the last space, then hard.
func SplitMessage(message string) []string {
	if utf8.RuneCountInString(message) <= CharacterLimit {
		return []string{message}
	}

	var parts []string
	remaining := message
	for len(remaining) > 0 {
		if utf8.RuneCountInString(remaining) <= CharacterLimit {
			parts = append(parts, remaining)
			break
		}

		window := truncateRunes(remaining, CharacterLimit)
		splitIndex := strings.LastIndex(window, ". ")
		if splitIndex != -1 {
			splitIndex++ // keep the period with its sentence
		} else {
			splitIndex = strings.LastIndex(window, " ")
		}
		if splitIndex <= 0 {
			splitIndex = len(window)
		}
		parts = append(parts, remaining[:splitIndex])
		remaining = strings.TrimSpace(remaining[splitIndex:])
	}
	return parts
}

// truncateRunes returns the longest prefix of s holding at most n runes.
func truncateRunes(s string, n int) string {
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}
