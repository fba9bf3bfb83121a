// Package fingerprint normalizes materialized view queries and hashes them so that
// cosmetic edits (case, spacing, comments, trailing semicolons) never trigger a rebuild.
//
// Normalization rules, applied in a single left-to-right scan:
//
//   - "--" line comments and "/* */" block comments (nested) are treated as whitespace
//   - string literals ('...', E'...'), quoted identifiers ("...") and dollar-quoted
//     bodies ($tag$...$tag$) are copied verbatim
//   - everything else is lowercased (ASCII only)
//   - whitespace runs collapse to a single space, and are dropped next to ( ) , ;
//   - leading and trailing whitespace and trailing semicolons are removed
package fingerprint

import (
	"crypto/sha256"
	"fmt"
	"strings"
)

// QueryFingerprint represents the fingerprint of a view's defining query
type QueryFingerprint struct {
	Hash string `json:"hash"` // SHA256 of the normalized query
}

// Compute generates a fingerprint for the given query text
func Compute(query string) *QueryFingerprint {
	sum := sha256.Sum256([]byte(Normalize(query)))
	return &QueryFingerprint{Hash: fmt.Sprintf("%x", sum)}
}

// ComputeWithIndex fingerprints a query together with the unique index built on the
// view, so adding, renaming or re-keying the index rebuilds the view. Without key
// columns it equals Compute(query).
func ComputeWithIndex(query, indexName string, columns []string) *QueryFingerprint {
	if len(columns) == 0 {
		return Compute(query)
	}
	text := Normalize(query) + "\nunique index " + indexName + " (" + strings.Join(columns, ",") + ")"
	sum := sha256.Sum256([]byte(text))
	return &QueryFingerprint{Hash: fmt.Sprintf("%x", sum)}
}

// String returns a human-readable representation of the fingerprint
func (f *QueryFingerprint) String() string {
	return fmt.Sprintf("Query fingerprint: %s", Short(f.Hash))
}

// Short returns the leading characters of a hash for display
func Short(hash string) string {
	if len(hash) > 8 {
		return hash[:8]
	}
	return hash
}

// Normalize returns the canonical form of a query used for change detection
func Normalize(query string) string {
	var b strings.Builder
	b.Grow(len(query))

	pendingSpace := false
	var last byte
	emit := func(token string) {
		if pendingSpace && last != 0 && !isTight(last) && !isTight(token[0]) {
			b.WriteByte(' ')
		}
		pendingSpace = false
		b.WriteString(token)
		last = token[len(token)-1]
	}

	for i := 0; i < len(query); {
		c := query[i]
		switch {
		case c == '-' && i+1 < len(query) && query[i+1] == '-':
			if end := strings.IndexByte(query[i:], '\n'); end >= 0 {
				i += end
			} else {
				i = len(query)
			}
			pendingSpace = true
		case c == '/' && i+1 < len(query) && query[i+1] == '*':
			i = skipBlockComment(query, i)
			pendingSpace = true
		case isSpace(c):
			pendingSpace = true
			i++
		case c == '\'':
			end := scanQuoted(query, i, '\'', isEscapeString(query, i))
			emit(query[i:end])
			i = end
		case c == '"':
			end := scanQuoted(query, i, '"', false)
			emit(query[i:end])
			i = end
		case c == '$':
			tag, ok := dollarTag(query, i)
			if !ok {
				emit("$")
				i++
				continue
			}
			end := len(query)
			if idx := strings.Index(query[i+len(tag):], tag); idx >= 0 {
				end = i + len(tag) + idx + len(tag)
			}
			emit(query[i:end])
			i = end
		default:
			if c >= 'A' && c <= 'Z' {
				c += 'a' - 'A'
			}
			emit(string(c))
			i++
		}
	}

	return strings.TrimRight(b.String(), "; ")
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '\f' || c == '\v'
}

// isTight reports punctuation that never needs surrounding whitespace
func isTight(c byte) bool {
	return c == '(' || c == ')' || c == ',' || c == ';'
}

func isIdentChar(c byte) bool {
	return c == '_' || c == '$' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') || c >= 0x80
}

// isEscapeString reports whether the literal starting at i is an E'...' string
func isEscapeString(s string, i int) bool {
	if i == 0 || (s[i-1] != 'e' && s[i-1] != 'E') {
		return false
	}
	return i == 1 || !isIdentChar(s[i-2])
}

// scanQuoted returns the index just past the closing quote of the token starting at start
func scanQuoted(s string, start int, quote byte, backslash bool) int {
	for j := start + 1; j < len(s); {
		switch {
		case backslash && s[j] == '\\':
			j += 2
		case s[j] == quote:
			if j+1 < len(s) && s[j+1] == quote {
				j += 2
				continue
			}
			return j + 1
		default:
			j++
		}
	}
	return len(s)
}

func skipBlockComment(s string, start int) int {
	depth := 0
	for j := start; j < len(s); {
		switch {
		case j+1 < len(s) && s[j] == '/' && s[j+1] == '*':
			depth++
			j += 2
		case j+1 < len(s) && s[j] == '*' && s[j+1] == '/':
			depth--
			j += 2
			if depth == 0 {
				return j
			}
		default:
			j++
		}
	}
	return len(s)
}

// dollarTag returns the $tag$ opening a dollar-quoted body at i. Positional
// parameters such as $1 are not tags.
func dollarTag(s string, i int) (string, bool) {
	j := i + 1
	for j < len(s) {
		c := s[j]
		if c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || c >= 0x80 || (j > i+1 && c >= '0' && c <= '9') {
			j++
			continue
		}
		break
	}
	if j < len(s) && s[j] == '$' {
		return s[i : j+1], true
	}
	return "", false
}
