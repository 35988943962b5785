package postgres

import "strings"

// Statement operations
const (
	OpSelect = "SELECT"
	OpInsert = "INSERT"
	OpUpdate = "UPDATE"
	OpDelete = "DELETE"
	OpOther  = "OTHER"
)

// UnknownTable is reported when no target table can be inferred
const UnknownTable = "unknown"

// Statement is a parameterized SQL statement with optional metadata.
// Callers that know the operation and table should set them; otherwise they
// are inferred from the SQL text for logging only.
type Statement struct {
	SQL       string
	Args      []any
	Operation string
	Table     string
}

// describe fills in missing metadata
func (s Statement) describe() Statement {
	if s.Operation != "" && s.Table != "" {
		return s
	}
	op, table := ClassifySQL(s.SQL)
	if s.Operation == "" {
		s.Operation = op
	}
	if s.Table == "" {
		s.Table = table
	}
	return s
}

// ClassifySQL infers the operation and target table of a statement.
// It is a heuristic for observability and never used for access decisions.
func ClassifySQL(sql string) (operation, table string) {
	toks := tokenize(sql)

	start := -1
	for i, t := range toks {
		if t.depth != 0 || t.kind != tokWord {
			continue
		}
		if i == 0 && t.upper != "WITH" && !isOperation(t.upper) {
			return OpOther, UnknownTable
		}
		if isOperation(t.upper) {
			start = i
			break
		}
	}
	if start < 0 {
		return OpOther, UnknownTable
	}

	operation = toks[start].upper
	rest := toks[start+1:]

	switch operation {
	case OpSelect:
		table = wordAfter(rest, "FROM")
	case OpInsert:
		table = wordAfter(rest, "INTO")
	case OpDelete:
		table = wordAfter(rest, "FROM")
	case OpUpdate:
		table = nextTableName(rest)
	}
	if table == "" {
		table = UnknownTable
	}
	return operation, table
}

func isOperation(word string) bool {
	switch word {
	case OpSelect, OpInsert, OpUpdate, OpDelete:
		return true
	}
	return false
}

// wordAfter returns the table name following the first top-level keyword
func wordAfter(toks []token, keyword string) string {
	for i, t := range toks {
		if t.depth == 0 && t.kind == tokWord && t.upper == keyword {
			return nextTableName(toks[i+1:])
		}
	}
	return ""
}

// nextTableName skips ONLY and returns the following identifier, or "" for a subquery
func nextTableName(toks []token) string {
	for _, t := range toks {
		if t.kind != tokWord {
			return ""
		}
		if !t.quoted && t.upper == "ONLY" {
			continue
		}
		return t.text
	}
	return ""
}

type tokKind int

const (
	tokWord tokKind = iota
	tokOpen
	tokClose
)

type token struct {
	kind   tokKind
	text   string
	upper  string
	quoted bool
	depth  int
}

// tokenize splits SQL into identifiers/keywords and parentheses, dropping
// comments, string literals and punctuation. Dotted names such as
// "public"."shops" become one word token with quotes removed.
func tokenize(sql string) []token {
	var toks []token
	depth := 0

	for i := 0; i < len(sql); {
		c := sql[i]
		switch {
		case c == '-' && i+1 < len(sql) && sql[i+1] == '-':
			for i < len(sql) && sql[i] != '\n' {
				i++
			}
		case c == '/' && i+1 < len(sql) && sql[i+1] == '*':
			end := strings.Index(sql[i+2:], "*/")
			if end < 0 {
				return toks
			}
			i += end + 4
		case c == '\'':
			i = skipQuoted(sql, i, '\'')
		case (c == 'E' || c == 'e') && i+1 < len(sql) && sql[i+1] == '\'' && (i == 0 || !isIdentPart(sql[i-1])):
			i = skipEscaped(sql, i+1)
		case c == '$' && dollarTag(sql, i) != "":
			i = skipDollarQuoted(sql, i, dollarTag(sql, i))
		case c == '(':
			toks = append(toks, token{kind: tokOpen, depth: depth})
			depth++
			i++
		case c == ')':
			if depth > 0 {
				depth--
			}
			toks = append(toks, token{kind: tokClose, depth: depth})
			i++
		case c == '"' || isIdentStart(c):
			var t token
			t, i = readName(sql, i)
			t.depth = depth
			toks = append(toks, t)
		default:
			i++
		}
	}
	return toks
}

// readName reads a possibly dotted, possibly quoted identifier starting at i
func readName(sql string, i int) (token, int) {
	var parts []string
	quoted := false

	for {
		if i < len(sql) && sql[i] == '"' {
			end := skipQuoted(sql, i, '"')
			part := sql[i+1 : max(i+1, end-1)]
			parts = append(parts, strings.ReplaceAll(part, `""`, `"`))
			quoted = true
			i = end
		} else {
			j := i
			for j < len(sql) && isIdentPart(sql[j]) {
				j++
			}
			parts = append(parts, sql[i:j])
			i = j
		}

		if i+1 < len(sql) && sql[i] == '.' && (sql[i+1] == '"' || isIdentStart(sql[i+1])) {
			i++
			continue
		}
		break
	}

	text := strings.Join(parts, ".")
	return token{kind: tokWord, text: text, upper: strings.ToUpper(text), quoted: quoted}, i
}

// skipQuoted returns the index just past the literal opened at i.
// Doubled quote characters are escapes.
func skipQuoted(sql string, i int, q byte) int {
	for j := i + 1; j < len(sql); j++ {
		if sql[j] != q {
			continue
		}
		if j+1 < len(sql) && sql[j+1] == q {
			j++
			continue
		}
		return j + 1
	}
	return len(sql)
}

// skipEscaped skips an E'...' literal whose opening quote is at i.
// Backslash escapes the next byte.
func skipEscaped(sql string, i int) int {
	for j := i + 1; j < len(sql); j++ {
		switch sql[j] {
		case '\\':
			j++
		case '\'':
			if j+1 < len(sql) && sql[j+1] == '\'' {
				j++
				continue
			}
			return j + 1
		}
	}
	return len(sql)
}

// dollarTag returns the opening delimiter ($$ or $tag$) at i, or "".
// Positional parameters such as $1 are not delimiters.
func dollarTag(sql string, i int) string {
	for j := i + 1; j < len(sql); j++ {
		c := sql[j]
		if c == '$' {
			return sql[i : j+1]
		}
		if !(c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || c >= 0x80 || (j > i+1 && c >= '0' && c <= '9')) {
			return ""
		}
	}
	return ""
}

// skipDollarQuoted returns the index just past the body closed by tag
func skipDollarQuoted(sql string, i int, tag string) int {
	end := strings.Index(sql[i+len(tag):], tag)
	if end < 0 {
		return len(sql)
	}
	return i + len(tag) + end + len(tag)
}

func isIdentStart(c byte) bool {
	return c == '_' || c == '$' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || c >= 0x80
}

func isIdentPart(c byte) bool {
	return isIdentStart(c) || (c >= '0' && c <= '9')
}
