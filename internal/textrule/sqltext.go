package textrule

import (
	"regexp"
	"strings"
)

// query is the pre-processed form of a statement that rules match against.
type query struct {
	// s is the lowercased text with comments removed and whitespace collapsed.
	s        string
	// m is s with every string literal replaced by '?'.
	m        string
	// top is m with all parenthesized content removed.
	top      string
	// where holds the WHERE and HAVING predicates of m; wherelit the same for s.
	where    string
	wherelit string
}

func prepare(text string) query {
	stripped, masked := scrub(text)
	q := query{
		s: strings.ToLower(collapse(stripped)),
		m: strings.ToLower(collapse(masked)),
	}
	q.top = flattenParens(q.m)
	q.where = strings.Join(predicates(q.m), " and ")
	q.wherelit = strings.Join(predicates(q.s), " and ")
	return q
}

// scrub removes comments and returns the text twice: with literals intact and with literals masked.
func scrub(text string) (stripped, masked string) {
	var sb, mb strings.Builder
	sb.Grow(len(text))
	mb.Grow(len(text))
	for i := 0; i < len(text); {
		c := text[i]
		switch {
		case c == '-' && i+1 < len(text) && text[i+1] == '-':
			for i < len(text) && text[i] != '\n' {
				i++
			}
			sb.WriteByte(' ')
			mb.WriteByte(' ')
		case c == '/' && i+1 < len(text) && text[i+1] == '*':
			end := strings.Index(text[i+2:], "*/")
			if end < 0 {
				i = len(text)
			} else {
				i += end + 4
			}
			sb.WriteByte(' ')
			mb.WriteByte(' ')
		case c == '\'':
			j := i + 1
			for j < len(text) {
				if text[j] == '\'' {
					if j+1 < len(text) && text[j+1] == '\'' {
						j += 2
						continue
					}
					break
				}
				j++
			}
			end := min(j+1, len(text))
			sb.WriteString(text[i:end])
			mb.WriteString("'?'")
			i = end
		default:
			sb.WriteByte(c)
			mb.WriteByte(c)
			i++
		}
	}
	return sb.String(), mb.String()
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// flattenParens drops everything nested inside parentheses, keeping the parens themselves.
func flattenParens(s string) string {
	var b strings.Builder
	depth := 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '(':
			if depth == 0 {
				b.WriteByte('(')
			}
			depth++
		case ')':
			if depth > 0 {
				depth--
			}
			if depth == 0 {
				b.WriteByte(')')
			}
		default:
			if depth == 0 {
				b.WriteByte(s[i])
			}
		}
	}
	return b.String()
}

var predicateClause = regexp.MustCompile(`\b(?:where|having)\b(.*?)(?:\bgroup\s+by\b|\border\s+by\b|\blimit\b|\boffset\b|\bunion\b|\breturning\b|\bwindow\b|;|$)`)

func predicates(s string) []string {
	var out []string
	for _, m := range predicateClause.FindAllStringSubmatch(s, -1) {
		if p := strings.TrimSpace(m[1]); p != "" {
			out = append(out, p)
		}
	}
	return out
}

var onClause = regexp.MustCompile(`\bon\s+(.*?)(?:\b(?:left|right|full|inner|cross|natural)\b|\bjoin\b|\bwhere\b|\bgroup\s+by\b|\border\s+by\b|\blimit\b|\bunion\b|;|$)`)

// onClauses returns the join conditions of m.
func onClauses(m string) []string {
	var out []string
	for _, idx := range onClause.FindAllStringSubmatchIndex(m, -1) {
		before := strings.TrimSpace(m[:idx[0]])
		clause := strings.TrimSpace(m[idx[2]:idx[3]])
		if strings.HasSuffix(before, "distinct") || strings.HasPrefix(clause, "conflict") {
			continue
		}
		out = append(out, clause)
	}
	return out
}

// statements splits masked text on semicolons.
func statements(m string) []string {
	var out []string
	for _, part := range strings.Split(m, ";") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func isIdentByte(c byte) bool {
	return c == '_' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9'
}

// wordAt reports whether word occurs at s[i:] delimited by non-identifier characters.
func wordAt(s string, i int, word string) bool {
	if !strings.HasPrefix(s[i:], word) {
		return false
	}
	if i > 0 && isIdentByte(s[i-1]) {
		return false
	}
	end := i + len(word)
	return end == len(s) || !isIdentByte(s[end])
}

// selectLists returns the projection of every SELECT in m, from the keyword to its FROM.
func selectLists(m string) []string {
	var out []string
	for i := 0; i < len(m); i++ {
		if !wordAt(m, i, "select") {
			continue
		}
		start := i + len("select")
		depth := 0
		end := len(m)
	scan:
		for j := start; j < len(m); j++ {
			switch {
			case m[j] == '(':
				depth++
			case m[j] == ')':
				if depth == 0 {
					end = j
					break scan
				}
				depth--
			case depth == 0 && (wordAt(m, j, "from") || m[j] == ';'):
				end = j
				break scan
			}
		}
		out = append(out, m[start:end])
	}
	return out
}

// subqueries returns the body of every parenthesized SELECT in m along with the word preceding it.
func subqueries(m string) (bodies, preceding []string) {
	for i := 0; i < len(m); i++ {
		if m[i] != '(' {
			continue
		}
		k := i + 1
		for k < len(m) && m[k] == ' ' {
			k++
		}
		if !wordAt(m, k, "select") {
			continue
		}
		depth := 0
		end := len(m)
		for j := i; j < len(m); j++ {
			if m[j] == '(' {
				depth++
			} else if m[j] == ')' {
				depth--
				if depth == 0 {
					end = j
					break
				}
			}
		}
		bodies = append(bodies, m[i+1:end])
		fields := strings.Fields(m[:i])
		prev := ""
		if len(fields) > 0 {
			prev = fields[len(fields)-1]
		}
		preceding = append(preceding, prev)
	}
	return bodies, preceding
}
