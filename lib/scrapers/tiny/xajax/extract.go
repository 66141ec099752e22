package xajax

import (
	"strconv"
	"strings"
	"unicode/utf16"
	"unicode/utf8"
)

// ExtractArray locates the item-array literal inside script-call source text.
// It anchors on the items callback marker and scans forward from the first
// "[" counting bracket depth until it closes. When the marker is absent it
// falls back to the first balanced bracket region found anywhere in the text.
func ExtractArray(src string) (string, error) {
	start := -1
	if marker := strings.Index(src, string(CallbackItems)); marker >= 0 {
		bracket := strings.Index(src[marker:], "[")
		if bracket < 0 {
			return "", &ParseError{Reason: "no opening bracket after items callback", Excerpt: excerpt(src[marker:])}
		}
		start = marker + bracket
	} else {
		start = strings.Index(src, "[")
		if start < 0 {
			return "", &ParseError{Reason: "no array literal in script call", Excerpt: excerpt(src)}
		}
	}

	depth := 0
	for i := start; i < len(src); i++ {
		switch src[i] {
		case '[':
			depth++
		case ']':
			depth--
		}
		if depth == 0 {
			return src[start : i+1], nil
		}
	}
	return "", &ParseError{Reason: "unbalanced brackets in array literal", Excerpt: excerpt(src[start:])}
}

// ExtractObjects returns every brace-delimited substring in the text, tracked
// with a stack so nested objects produce inner matches before outer ones. The
// caller decides which match is authoritative.
func ExtractObjects(src string) []string {
	var stack []int
	var matches []string

	for i := 0; i < len(src); i++ {
		switch src[i] {
		case '{':
			stack = append(stack, i)
		case '}':
			if len(stack) == 0 {
				continue
			}
			start := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			matches = append(matches, src[start:i+1])
		}
	}

	return matches
}

// UnescapeJS reverses the escaping produced by JavaScript's legacy escape():
// %uXXXX for code units outside latin-1 and %XX for everything else escaped.
// Surrogate pairs encoded as two %uXXXX sequences are recombined. Invalid
// sequences pass through untouched.
func UnescapeJS(s string) string {
	// decode to utf-16 code units first, escape() operates on those
	var units []uint16
	for i := 0; i < len(s); {
		if s[i] == '%' && i+6 <= len(s) && s[i+1] == 'u' {
			n, err := strconv.ParseUint(s[i+2:i+6], 16, 16)
			if err == nil {
				units = append(units, uint16(n))
				i += 6
				continue
			}
		}
		if s[i] == '%' && i+3 <= len(s) {
			n, err := strconv.ParseUint(s[i+1:i+3], 16, 16)
			if err == nil {
				units = append(units, uint16(n))
				i += 3
				continue
			}
		}
		r, size := utf8.DecodeRuneInString(s[i:])
		units = append(units, utf16.Encode([]rune{r})...)
		i += size
	}

	return string(utf16.Decode(units))
}
