package store

import (
	"strings"
	"unicode"
)

// Tokenize splits mixed Chinese/Latin text into BM25 terms. The same
// rules run at index build and at query time; changing them invalidates
// every persisted bundle.
//
// Rules, scanning rune by rune:
//   - A CJK Unified Ideograph (U+4E00..U+9FFF) flushes any pending
//     alphanumeric run and is emitted as its own one-character token.
//   - ASCII letters and digits extend the current alphanumeric run.
//   - Whitespace flushes the run.
//   - An ASCII comma between two digits is a thousands separator: the
//     run continues across it and the comma is never emitted. Any
//     other comma flushes the run without emitting itself.
//   - Every other rune flushes the run and is emitted as its own
//     single-character token.
//
// Example: "预算3,000元 (A/B)" -> ["预" "算" "3000" "元" "(" "A" "/" "B" ")"]
func Tokenize(text string) []string {
	var tokens []string
	var run strings.Builder

	flush := func() {
		if run.Len() > 0 {
			tokens = append(tokens, run.String())
			run.Reset()
		}
	}

	runes := []rune(text)
	for i, r := range runes {
		switch {
		case isCJK(r):
			flush()
			tokens = append(tokens, string(r))
		case isASCIIAlnum(r):
			run.WriteRune(r)
		case unicode.IsSpace(r):
			flush()
		case r == ',':
			bridges := i > 0 && i+1 < len(runes) &&
				isASCIIDigit(runes[i-1]) && isASCIIDigit(runes[i+1])
			if !bridges {
				flush()
			}
		default:
			flush()
			tokens = append(tokens, string(r))
		}
	}
	flush()

	return tokens
}

// isCJK reports whether r is a CJK Unified Ideograph.
func isCJK(r rune) bool {
	return r >= 0x4E00 && r <= 0x9FFF
}

func isASCIIAlnum(r rune) bool {
	return isASCIIDigit(r) || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')
}

func isASCIIDigit(r rune) bool {
	return r >= '0' && r <= '9'
}
