// Package dedup detects and strips duplication artifacts that upstream
// sources introduce into streamed assistant content.
//
// The token checks are cheap and run for every streamed token. The text
// checks walk the whole content and run only on demand (copy, retry,
// export).
package dedup

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// MinTailRepeat is the minimum number of non-space runes a token needs
// before ContentEndsWithToken treats a matching tail as a repeat.
const MinTailRepeat = 4

// ParagraphThreshold is the similarity at or above which a paragraph is
// considered a duplicate of the paragraph kept before it.
const ParagraphThreshold = 0.9

var paragraphBreak = regexp.MustCompile(`\n[ \t]*\n`)

// IsRepeatedToken reports whether newToken is an exact re-emission of
// lastToken.
func IsRepeatedToken(lastToken, newToken string) bool {
	return newToken == lastToken
}

// ContentEndsWithToken reports whether appending token to content would
// repeat the tail of content.
func ContentEndsWithToken(content, token string) bool {
	if utf8.RuneCountInString(strings.TrimSpace(token)) < MinTailRepeat {
		return false
	}
	return strings.HasSuffix(content, token)
}

// RemoveDuplicateContent applies, in order: the exact halves rule, the
// duplicate first line rule and paragraph level near-duplicate removal.
func RemoveDuplicateContent(text string) string {
	if text == "" {
		return text
	}

	runes := []rune(text)
	if len(runes)%2 == 0 {
		half := len(runes) / 2
		if string(runes[:half]) == string(runes[half:]) {
			return string(runes[:half])
		}
	}

	lines := strings.Split(text, "\n")
	if len(lines) >= 2 && strings.TrimSpace(lines[0]) != "" && lines[0] == lines[1] {
		return lines[0]
	}

	return removeDuplicateParagraphs(text)
}

func removeDuplicateParagraphs(text string) string {
	paragraphs := paragraphBreak.Split(text, -1)
	if len(paragraphs) < 2 {
		return text
	}

	kept := make([]string, 0, len(paragraphs))
	for _, p := range paragraphs {
		if len(kept) > 0 && Similarity(kept[len(kept)-1], p) >= ParagraphThreshold {
			continue
		}
		kept = append(kept, p)
	}

	if len(kept) == len(paragraphs) {
		return text
	}
	return strings.Join(kept, "\n\n")
}

// Similarity returns a score in [0,1] derived from the Hamming distance over
// the overlapping prefix plus the length difference, relative to the longer
// string. It is not an edit distance: an insertion near the front of a
// string shifts every later rune and scores as a large difference.
func Similarity(a, b string) float64 {
	if a == b {
		return 1.0
	}

	ra, rb := []rune(a), []rune(b)
	if len(ra) == 0 || len(rb) == 0 {
		return 0.0
	}

	shorter, longer := len(ra), len(rb)
	if shorter > longer {
		shorter, longer = longer, shorter
	}

	distance := longer - shorter
	for i := 0; i < shorter; i++ {
		if ra[i] != rb[i] {
			distance++
		}
	}

	return 1.0 - float64(distance)/float64(longer)
}
