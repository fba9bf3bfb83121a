package util

import (
	"strings"
	"unicode"

	"github.com/lib/pq"
)

// PostgreSQL reserved words that need quoting
var reservedWords = map[string]bool{
	"user":       true,
	"order":      true,
	"group":      true,
	"select":     true,
	"from":       true,
	"where":      true,
	"table":      true,
	"view":       true,
	"limit":      true,
	"offset":     true,
	"check":      true,
	"column":     true,
	"default":    true,
	"grant":      true,
	"analyse":    true,
	"analyze":    true,
	"window":     true,
	"primary":    true,
	"unique":     true,
	"to":         true,
	"having":     true,
	"constraint": true,
}

// NeedsQuoting checks if an identifier needs to be quoted
func NeedsQuoting(identifier string) bool {
	if identifier == "" {
		return false
	}

	if reservedWords[strings.ToLower(identifier)] {
		return true
	}

	for i, r := range identifier {
		// PostgreSQL folds unquoted identifiers to lowercase
		if unicode.IsUpper(r) {
			return true
		}
		if i == 0 && !unicode.IsLetter(r) && r != '_' {
			return true
		}
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_' {
			return true
		}
	}

	return false
}

// QuoteIdentifier adds quotes to an identifier if needed
func QuoteIdentifier(identifier string) string {
	if NeedsQuoting(identifier) {
		return pq.QuoteIdentifier(identifier)
	}
	return identifier
}

// QuoteQualifiedName quotes each dot separated part of a possibly schema qualified name
func QuoteQualifiedName(name string) string {
	parts := strings.Split(name, ".")
	for i, part := range parts {
		parts[i] = QuoteIdentifier(part)
	}
	return strings.Join(parts, ".")
}

// QuoteIdentifierList quotes and joins column names
func QuoteIdentifierList(columns []string) string {
	quoted := make([]string, len(columns))
	for i, col := range columns {
		quoted[i] = QuoteIdentifier(col)
	}
	return strings.Join(quoted, ", ")
}
