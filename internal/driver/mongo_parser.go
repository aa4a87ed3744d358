package driver

import (
	"strconv"
	"strings"
	"unicode"

	"github.com/queryportal/queryportal/internal/errdefs"
)

// MongoStatement is one parsed shell-style statement of the form
// db.<collection>.<method>(<jsonArgs>). Collection is empty for the
// administrative db.<command>() form.
type MongoStatement struct {
	Collection string
	Method     string
	Args       []string // raw JSON argument texts, top-level comma split
	Limit      int64    // from a trailing .limit(n) on find, 0 when absent
}

// ParseMongoStatement parses the restricted shell grammar. Collection names
// may be dotted (db.events.archive.find) or bracket-quoted
// (db["events.2024"].find); method arguments must be JSON values. The only
// chained modifier accepted is a trailing .limit(n) on find.
func ParseMongoStatement(content string) (*MongoStatement, error) {
	s := strings.TrimSpace(content)
	s = strings.TrimSuffix(s, ";")
	s = strings.TrimSpace(s)

	if !strings.HasPrefix(s, "db.") && !strings.HasPrefix(s, "db[") {
		return nil, errdefs.Validation("statement must start with db. or db[")
	}

	rest := s[2:] // after "db"
	var segments []string

	for {
		if rest == "" {
			return nil, errdefs.Validation("unexpected end of statement")
		}
		switch rest[0] {
		case '.':
			ident, remainder, err := readIdentifier(rest[1:])
			if err != nil {
				return nil, err
			}
			segments = append(segments, ident)
			rest = remainder
		case '[':
			name, remainder, err := readBracketName(rest)
			if err != nil {
				return nil, err
			}
			segments = append(segments, name)
			rest = remainder
		case '(':
			return buildStatement(segments, rest)
		default:
			return nil, errdefs.Validation("unexpected character %q in statement", rest[0])
		}
	}
}

func buildStatement(segments []string, rest string) (*MongoStatement, error) {
	if len(segments) == 0 {
		return nil, errdefs.Validation("statement has no method")
	}

	method := segments[len(segments)-1]
	collection := strings.Join(segments[:len(segments)-1], ".")

	argsText, trailing, err := readParenGroup(rest)
	if err != nil {
		return nil, err
	}

	var limit int64
	if trimmed := strings.TrimSpace(trailing); trimmed != "" {
		if method != "find" {
			return nil, errdefs.Validation("unsupported trailing expression after method call: %s", trimmed)
		}
		limit, err = parseLimitModifier(trimmed)
		if err != nil {
			return nil, err
		}
	}

	args, err := splitTopLevelArgs(argsText)
	if err != nil {
		return nil, err
	}

	return &MongoStatement{Collection: collection, Method: method, Args: args, Limit: limit}, nil
}

// parseLimitModifier consumes the one chained modifier the grammar allows,
// .limit(n) with a positive integer literal.
func parseLimitModifier(s string) (int64, error) {
	rest, ok := strings.CutPrefix(s, ".limit")
	if !ok {
		return 0, errdefs.Validation("unsupported trailing expression after method call: %s", s)
	}
	rest = strings.TrimSpace(rest)
	if !strings.HasPrefix(rest, "(") {
		return 0, errdefs.Validation("limit must be called with a count")
	}
	inner, trailing, err := readParenGroup(rest)
	if err != nil {
		return 0, err
	}
	if strings.TrimSpace(trailing) != "" {
		return 0, errdefs.Validation("unsupported trailing expression after limit: %s", strings.TrimSpace(trailing))
	}
	n, err := strconv.ParseInt(strings.TrimSpace(inner), 10, 64)
	if err != nil || n <= 0 {
		return 0, errdefs.Validation("limit requires a positive integer argument")
	}
	return n, nil
}

// readIdentifier consumes a collection or method name segment.
func readIdentifier(s string) (string, string, error) {
	var i int
	for i < len(s) {
		r := rune(s[i])
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' || r == '$' || r == '-' {
			i++
			continue
		}
		break
	}
	if i == 0 {
		return "", "", errdefs.Validation("expected identifier in statement")
	}
	return s[:i], s[i:], nil
}

// readBracketName consumes a ["quoted.name"] or ['quoted.name'] segment.
func readBracketName(s string) (string, string, error) {
	// s starts with '['
	inner := s[1:]
	if inner == "" || (inner[0] != '"' && inner[0] != '\'') {
		return "", "", errdefs.Validation("bracket-quoted collection name must be a string literal")
	}
	quote := inner[0]
	end := strings.IndexByte(inner[1:], quote)
	if end < 0 {
		return "", "", errdefs.Validation("unterminated collection name literal")
	}
	name := inner[1 : 1+end]
	remainder := inner[2+end:]
	if !strings.HasPrefix(remainder, "]") {
		return "", "", errdefs.Validation("expected ] after collection name literal")
	}
	if name == "" {
		return "", "", errdefs.Validation("collection name cannot be empty")
	}
	return name, remainder[1:], nil
}

// readParenGroup consumes a balanced (...) group starting at s[0] == '(' and
// returns its inner text plus whatever follows the closing paren. String
// literals are respected so parentheses inside JSON values do not confuse
// the balance.
func readParenGroup(s string) (string, string, error) {
	depth := 0
	var quote byte
	for i := 0; i < len(s); i++ {
		c := s[i]
		if quote != 0 {
			if c == '\\' {
				i++
				continue
			}
			if c == quote {
				quote = 0
			}
			continue
		}
		switch c {
		case '"', '\'':
			quote = c
		case '(':
			depth++
		case ')':
			depth--
			if depth == 0 {
				return s[1:i], s[i+1:], nil
			}
		}
	}
	return "", "", errdefs.Validation("unbalanced parentheses in statement")
}

// splitTopLevelArgs splits argument text on commas outside nesting.
func splitTopLevelArgs(argsText string) ([]string, error) {
	trimmed := strings.TrimSpace(argsText)
	if trimmed == "" {
		return nil, nil
	}

	var args []string
	var depth int
	var quote byte
	start := 0

	for i := 0; i < len(argsText); i++ {
		c := argsText[i]
		if quote != 0 {
			if c == '\\' {
				i++
				continue
			}
			if c == quote {
				quote = 0
			}
			continue
		}
		switch c {
		case '"', '\'':
			quote = c
		case '{', '[', '(':
			depth++
		case '}', ']', ')':
			depth--
			if depth < 0 {
				return nil, errdefs.Validation("unbalanced brackets in arguments")
			}
		case ',':
			if depth == 0 {
				args = append(args, strings.TrimSpace(argsText[start:i]))
				start = i + 1
			}
		}
	}
	if depth != 0 || quote != 0 {
		return nil, errdefs.Validation("unbalanced brackets or unterminated string in arguments")
	}
	args = append(args, strings.TrimSpace(argsText[start:]))

	for _, a := range args {
		if a == "" {
			return nil, errdefs.Validation("empty argument in statement")
		}
	}
	return args, nil
}
