package parser

import (
	"strings"
	"unicode"
)

// maxTagLength bounds how much text is read as a tag before giving up and
// treating it as plain text.
const maxTagLength = 200

func isNameStart(r rune) bool {
	return r == '_' || unicode.IsLetter(r)
}

func isNameChar(r rune) bool {
	return isNameStart(r) || unicode.IsDigit(r) || r == '-' || r == '.' || r == ':'
}

// attribute returns the value of key in a raw attribute list such as
// ` name="write_to_file" id=3`. Values may be double-quoted,
// single-quoted or bare.
func attribute(raw, key string) (string, bool) {
	s := raw
	for {
		s = strings.TrimLeftFunc(s, unicode.IsSpace)
		if s == "" || s == "/" {
			return "", false
		}

		end := strings.IndexFunc(s, func(r rune) bool {
			return r == '=' || r == '/' || unicode.IsSpace(r)
		})
		if end < 0 {
			end = len(s)
		}
		name := s[:end]
		s = strings.TrimLeftFunc(s[end:], unicode.IsSpace)

		var value string
		hasValue := false
		if strings.HasPrefix(s, "=") {
			hasValue = true
			s = strings.TrimLeftFunc(s[1:], unicode.IsSpace)
			if s != "" && (s[0] == '"' || s[0] == '\'') {
				quote := s[0]
				closeIdx := strings.IndexByte(s[1:], quote)
				if closeIdx < 0 {
					value, s = s[1:], ""
				} else {
					value, s = s[1:closeIdx+1], s[closeIdx+2:]
				}
			} else {
				stop := strings.IndexFunc(s, func(r rune) bool { return unicode.IsSpace(r) || r == '/' })
				if stop < 0 {
					stop = len(s)
				}
				value, s = s[:stop], s[stop:]
			}
		} else if name == "" {
			// Stray character such as a lone slash.
			s = s[1:]
			continue
		}

		if name == key && hasValue {
			return value, true
		}
	}
}

// selfClosing reports whether the raw attribute text ends in "/".
func selfClosing(raw string) bool {
	return strings.HasSuffix(strings.TrimRightFunc(raw, unicode.IsSpace), "/")
}
