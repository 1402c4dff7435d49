package parser

import "strings"

func isWordByte(b byte) bool {
	return (b >= 'a' && b <= 'z') || (b >= '0' && b <= '9') || b == '+' || b == '#' || b >= 0x80
}

// indexWord returns the offset of the first occurrence of term in text that
// is not embedded in a longer word, or -1. Both inputs must be lowercase.
func indexWord(text, term string) int {
	if term == "" {
		return -1
	}
	offset := 0
	for {
		i := strings.Index(text[offset:], term)
		if i < 0 {
			return -1
		}
		start := offset + i
		end := start + len(term)
		leftOK := start == 0 || !isWordByte(text[start-1]) || !isWordByte(term[0])
		rightOK := end == len(text) || !isWordByte(text[end]) || !isWordByte(term[len(term)-1])
		if leftOK && rightOK {
			return start
		}
		offset = start + 1
	}
}

// countWord counts non-overlapping whole-word occurrences of term in text.
func countWord(text, term string) int {
	n := 0
	for offset := 0; offset < len(text); {
		i := indexWord(text[offset:], term)
		if i < 0 {
			break
		}
		n++
		offset += i + len(term)
	}
	return n
}

// ContainsTerm reports whether term occurs in text as a whole word, ignoring case.
func ContainsTerm(text, term string) bool {
	return indexWord(strings.ToLower(text), strings.ToLower(strings.TrimSpace(term))) >= 0
}

// IndexTerm is the case-insensitive form of indexWord. The offset refers to
// the lowercased text.
func IndexTerm(text, term string) int {
	return indexWord(strings.ToLower(text), strings.ToLower(strings.TrimSpace(term)))
}
