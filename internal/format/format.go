// Package format builds bounded, markup-safe notification payloads
// from message metadata and body text.
package format

import (
	"fmt"
	"strings"
)

// DefaultLimit is the sink's hard payload limit in characters.
const DefaultLimit = 4096

// TruncationSuffix is appended whenever the body had to be cut to fit
// the limit.
const TruncationSuffix = "\n\n(message truncated)"

// PayloadTooLargeError indicates that the header alone exceeds the
// payload limit. This is a configuration error, not a data error: no
// body, however short, could produce a valid payload.
type PayloadTooLargeError struct {
	HeaderLen int
	Limit     int
}

func (e *PayloadTooLargeError) Error() string {
	return fmt.Sprintf(
		"payload header (%d chars) exceeds sink limit (%d)",
		e.HeaderLen, e.Limit,
	)
}

// Payload is a formatted notification ready for the sink's HTML mode.
type Payload struct {
	Text      string
	Truncated bool
}

// Build formats sender, subject, and body into a single HTML-safe
// payload of at most limit characters. The header (sender and subject)
// is never truncated; when the payload would exceed the limit, only the
// body is cut, and the result always ends in TruncationSuffix. A
// truncation never splits an escaped entity.
func Build(sender, subject, body string, limit int) (Payload, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if sender == "" {
		sender = "(unknown sender)"
	}
	if subject == "" {
		subject = "(no subject)"
	}

	header := "<b>New mail</b>\n" +
		"<b>From:</b> " + Escape(sender) + "\n" +
		"<b>Subject:</b> " + Escape(subject) + "\n\n"

	headerRunes := []rune(header)
	if len(headerRunes) > limit {
		return Payload{}, &PayloadTooLargeError{
			HeaderLen: len(headerRunes),
			Limit:     limit,
		}
	}

	escapedBody := []rune(Escape(body))
	if len(headerRunes)+len(escapedBody) <= limit {
		return Payload{Text: header + string(escapedBody)}, nil
	}

	suffixRunes := []rune(TruncationSuffix)
	maxBody := limit - len(headerRunes) - len(suffixRunes)
	if maxBody < 0 {
		// Header fits but leaves no room for the suffix.
		return Payload{}, &PayloadTooLargeError{
			HeaderLen: len(headerRunes),
			Limit:     limit,
		}
	}

	cut := trimPartialEntity(escapedBody[:maxBody])
	return Payload{
		Text:      header + string(cut) + TruncationSuffix,
		Truncated: true,
	}, nil
}

// Caption builds the short HTML caption attached to relayed files.
func Caption(sender, subject string) string {
	return "<b>From:</b> " + Escape(sender) + "\n" +
		"<b>Subject:</b> " + Escape(subject)
}

// htmlEscaper rewrites the characters the sink's HTML mode would
// otherwise interpret as markup.
var htmlEscaper = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
)

// Escape makes free text safe for the sink's HTML parse mode and drops
// control characters other than tab, newline, and carriage return.
func Escape(s string) string {
	escaped := htmlEscaper.Replace(s)

	var b strings.Builder
	b.Grow(len(escaped))
	for _, r := range escaped {
		if r < 0x20 && r != '\t' && r != '\n' && r != '\r' {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// longestEntity is the length of the longest escape sequence Escape can
// emit ("&amp;").
const longestEntity = 5

// trimPartialEntity removes a trailing incomplete escape sequence so a
// truncation never ends mid-entity.
func trimPartialEntity(runes []rune) []rune {
	start := len(runes) - longestEntity + 1
	if start < 0 {
		start = 0
	}
	for i := len(runes) - 1; i >= start; i-- {
		switch runes[i] {
		case ';':
			// The nearest entity-like run is complete.
			return runes
		case '&':
			return runes[:i]
		}
	}
	return runes
}
