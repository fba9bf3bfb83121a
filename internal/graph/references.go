package graph

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	pg_query "github.com/pganalyze/pg_query_go/v6"

	"github.com/pgschema/pgmatview/internal/fingerprint"
	"github.com/pgschema/pgmatview/internal/logger"
)

// Reference is a relation named in a query, optionally schema qualified
type Reference struct {
	Schema string
	Name   string
}

func (r Reference) String() string {
	if r.Schema == "" {
		return r.Name
	}
	return r.Schema + "." + r.Name
}

// References returns the relations a query reads from.
//
// The query is parsed with the PostgreSQL parser and every RangeVar that is not the
// name of a CTE declared in the statement is a reference. Driver placeholders such as
// %s and %(name)s are rewritten to $n parameters first. Queries the parser still
// rejects fall back to a lexical scan that only takes relation names from FROM and
// JOIN lists; the candidates are later matched against known view names only.
func References(query string) []Reference {
	refs, err := parsedReferences(query)
	if err == nil {
		return refs
	}
	if rewritten := rewritePlaceholders(query); rewritten != query {
		if refs, rerr := parsedReferences(rewritten); rerr == nil {
			return refs
		}
	}
	logger.Get().Debug("Falling back to lexical reference scan", "error", err)
	return lexicalReferences(query)
}

var placeholderRegex = regexp.MustCompile(`%%|%\([A-Za-z_][A-Za-z0-9_]*\)s|%[sd]`)

// rewritePlaceholders turns printf and pyformat style placeholders into positional
// parameters the PostgreSQL parser accepts
func rewritePlaceholders(query string) string {
	n := 0
	return placeholderRegex.ReplaceAllStringFunc(query, func(m string) string {
		if m == "%%" {
			return "%"
		}
		n++
		return "$" + strconv.Itoa(n)
	})
}

func parsedReferences(query string) ([]Reference, error) {
	tree, err := pg_query.ParseToJSON(query)
	if err != nil {
		return nil, err
	}

	var root any
	if err := json.Unmarshal([]byte(tree), &root); err != nil {
		return nil, err
	}

	var rangeVars []Reference
	ctes := make(map[string]bool)
	walkParseTree(root, func(kind string, body map[string]any) {
		switch kind {
		case "RangeVar":
			name, _ := body["relname"].(string)
			schema, _ := body["schemaname"].(string)
			if name != "" {
				rangeVars = append(rangeVars, Reference{Schema: schema, Name: name})
			}
		case "CommonTableExpr":
			if name, ok := body["ctename"].(string); ok {
				ctes[name] = true
			}
		}
	})

	var refs []Reference
	for _, ref := range rangeVars {
		if ref.Schema == "" && ctes[ref.Name] {
			continue
		}
		refs = append(refs, ref)
	}
	return dedupe(refs), nil
}

// walkParseTree visits every node object of a pg_query JSON tree; nodes are encoded
// as {"NodeType": {...fields}}
func walkParseTree(node any, visit func(kind string, body map[string]any)) {
	switch n := node.(type) {
	case map[string]any:
		for key, value := range n {
			if body, ok := value.(map[string]any); ok && isNodeType(key) {
				visit(key, body)
			}
			walkParseTree(value, visit)
		}
	case []any:
		for _, item := range n {
			walkParseTree(item, visit)
		}
	}
}

func isNodeType(key string) bool {
	return key != "" && key[0] >= 'A' && key[0] <= 'Z'
}

var (
	literalRegex = regexp.MustCompile(`'(?:[^']|'')*'|\$([a-z_]*)\$`)
	tokenRegex   = regexp.MustCompile(`(?:"[^"]+"|[a-z_][a-z0-9_$]*)(?:\.(?:"[^"]+"|[a-z_][a-z0-9_$]*))*|[(),]`)
)

// fromListEnd are the keywords that close a FROM list at the current nesting level
var fromListEnd = map[string]bool{
	"where": true, "group": true, "order": true, "having": true, "limit": true,
	"offset": true, "fetch": true, "for": true, "window": true, "union": true,
	"except": true, "intersect": true, "returning": true, "select": true,
}

// lexicalReferences takes the relation named right after FROM, JOIN or a FROM-list
// comma. Column names and aliases elsewhere in the query are never candidates.
func lexicalReferences(query string) []Reference {
	normalized := stripLiterals(fingerprint.Normalize(query))

	var refs []Reference
	var stack []bool
	inFrom, expect := false, false
	for _, tok := range tokenRegex.FindAllString(normalized, -1) {
		switch tok {
		case "(":
			stack = append(stack, inFrom)
			inFrom, expect = false, false
			continue
		case ")":
			if len(stack) > 0 {
				inFrom = stack[len(stack)-1]
				stack = stack[:len(stack)-1]
			}
			expect = false
			continue
		case ",":
			expect = inFrom
			continue
		case "from", "join":
			inFrom, expect = true, true
			continue
		case "lateral", "only":
			continue
		}
		if fromListEnd[tok] {
			inFrom, expect = false, false
			continue
		}
		if !expect {
			continue
		}
		expect = false

		parts := strings.Split(tok, ".")
		for i := range parts {
			parts[i] = strings.Trim(parts[i], `"`)
		}
		if len(parts) == 1 {
			refs = append(refs, Reference{Name: parts[0]})
		} else {
			refs = append(refs, Reference{Schema: parts[len(parts)-2], Name: parts[len(parts)-1]})
		}
	}
	return dedupe(refs)
}

// stripLiterals blanks out string literals and dollar-quoted bodies
func stripLiterals(normalized string) string {
	var b strings.Builder
	rest := normalized
	for {
		loc := literalRegex.FindStringSubmatchIndex(rest)
		if loc == nil {
			b.WriteString(rest)
			return b.String()
		}
		b.WriteString(rest[:loc[0]])
		b.WriteByte(' ')
		end := loc[1]
		if loc[2] >= 0 {
			tag := rest[loc[0]:loc[1]]
			if idx := strings.Index(rest[end:], tag); idx >= 0 {
				end += idx + len(tag)
			} else {
				end = len(rest)
			}
		}
		rest = rest[end:]
	}
}

func dedupe(refs []Reference) []Reference {
	seen := make(map[Reference]bool, len(refs))
	result := make([]Reference, 0, len(refs))
	for _, ref := range refs {
		if seen[ref] {
			continue
		}
		seen[ref] = true
		result = append(result, ref)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].String() < result[j].String()
	})
	return result
}

// nameMatcher resolves references to known view names. Matching is
// case-insensitive and an unqualified reference matches views in public.
type nameMatcher struct {
	byKey map[string]string
}

func newNameMatcher() *nameMatcher {
	return &nameMatcher{byKey: make(map[string]string)}
}

// add registers a view name. Two views that a reference could not tell apart, such
// as x and public.x or names differing only in case, are rejected.
func (m *nameMatcher) add(name string) error {
	key := strings.ToLower(name)
	keys := []string{key}
	if unqualified, ok := strings.CutPrefix(key, "public."); ok {
		keys = append(keys, unqualified)
	} else if !strings.Contains(key, ".") {
		keys = append(keys, "public."+key)
	}
	for _, k := range keys {
		if other, taken := m.byKey[k]; taken && other != name {
			return fmt.Errorf("views %s and %s refer to the same relation", other, name)
		}
	}
	for _, k := range keys {
		m.byKey[k] = name
	}
	return nil
}

func (m *nameMatcher) match(ref Reference) (string, bool) {
	name := strings.ToLower(ref.Name)
	schema := strings.ToLower(ref.Schema)
	if schema == "" || schema == "public" {
		if target, ok := m.byKey[name]; ok {
			return target, true
		}
	}
	if schema != "" {
		target, ok := m.byKey[schema+"."+name]
		return target, ok
	}
	return "", false
}
