package textrule

import (
	"regexp"
	"strconv"
	"strings"
)

func has(re *regexp.Regexp, s string) ([]string, map[string]any, bool) {
	return nil, nil, re.MatchString(s)
}

var (
	reSelectStar   = regexp.MustCompile(`\bselect\s+(?:distinct\s+|all\s+)?\*`)
	reNestedStar   = regexp.MustCompile(`\(\s*select\s+(?:distinct\s+)?\*`)
	reLeadingLike  = regexp.MustCompile(`([a-z_][\w."]*)\s+(?:not\s+)?i?like\s+'%`)
	reOrderBy      = regexp.MustCompile(`\border\s+by\b`)
	reLimit        = regexp.MustCompile(`\blimit\s+(?:\d+|all|\$\d+|\?)|\bfetch\s+(?:first|next)\b`)
	reOffset       = regexp.MustCompile(`\boffset\s+(\d+)`)
	reOrderRandom  = regexp.MustCompile(`\border\s+by\s+random\s*\(\s*\)`)
	reMutation     = regexp.MustCompile(`^(delete\s+from|update)\s+(?:only\s+)?([\w."]+)`)
	reWhere        = regexp.MustCompile(`\bwhere\b`)
	reNotIn        = regexp.MustCompile(`\bnot\s+in\s*\(\s*select\b`)
	reIn           = regexp.MustCompile(`(\bnot\s+)?\bin\s*\(\s*select\b`)
	reNullEq       = regexp.MustCompile(`(?:=|<>|!=)\s*null\b`)
	reTautology    = regexp.MustCompile(`(?:^|\b(?:and|or)\s+)(?:1\s*=\s*1|true)\b`)
	reColumnFunc   = regexp.MustCompile(`\b(lower|upper|date_trunc|to_char|to_timestamp|coalesce|trim|cast|extract|date)\s*\([^()]*\)\s*(?:=|<|>|<=|>=|<>|!=|\blike\b|\bilike\b|\bin\b|\bbetween\b)`)
	reAnyFunc      = regexp.MustCompile(`\b([a-z_]\w*)\s*\(`)
	reCommaFrom    = regexp.MustCompile(`\bfrom\s+([\w."]+)(?:\s+(?:as\s+)?[a-z_]\w*)?\s*,\s*([\w."]+)`)
	reCrossJoin    = regexp.MustCompile(`\bcross\s+join\b`)
	reOr           = regexp.MustCompile(`\bor\b`)
	reDistinct     = regexp.MustCompile(`\bselect\s+distinct\b`)
	reGroupBy      = regexp.MustCompile(`\bgroup\s+by\b`)
	reHaving       = regexp.MustCompile(`\bhaving\b`)
	reAggregate    = regexp.MustCompile(`\b(?:count|sum|avg|min|max|array_agg|string_agg|json_agg|jsonb_agg|bool_and|bool_or|every|percentile_cont|percentile_disc)\s*\(`)
	reUnion        = regexp.MustCompile(`\bunion\b(\s+all\b)?`)
	reArithmetic   = regexp.MustCompile(`\b([a-z_][\w.]*)\s*[-+*/%]\s*(?:[\w.]+|'\?'|interval\s+'\?')\s*(?:=|<|>|<=|>=|<>|!=)`)
	reColumnCast   = regexp.MustCompile(`\b([a-z_][\w.]*)::\s*\w+`)
	reCastChain    = regexp.MustCompile(`::\s*(\w+)\s*::\s*(\w+)`)
	reQuotedNumber = regexp.MustCompile(`\b([a-z_][\w.]*)\s*(?:=|<>|!=|<|>|<=|>=)\s*'-?\d+(?:\.\d+)?'`)
	reCase         = regexp.MustCompile(`\bcase\b`)
	reLeftJoin     = regexp.MustCompile(`\bleft\s+(?:outer\s+)?join\s+([\w."]+)(?:\s+(?:as\s+)?([a-z_]\w*))?`)
	reCte          = regexp.MustCompile(`(?:\bwith\s+(?:recursive\s+)?|,\s*)[a-z_]\w*(?:\s*\([^()]*\))?\s+as\s+(?:not\s+)?(?:materialized\s+)?\(`)
)

var notFunctions = map[string]bool{"and": true, "or": true, "not": true, "in": true, "exists": true, "any": true, "all": true}

var sqlKeywords = map[string]bool{
	"on": true, "using": true, "where": true, "join": true, "left": true, "right": true, "inner": true,
	"full": true, "cross": true, "natural": true, "group": true, "order": true, "limit": true, "lateral": true,
}

func selectStar(q query) ([]string, map[string]any, bool) { return has(reSelectStar, q.m) }

func nestedSelectStar(q query) ([]string, map[string]any, bool) { return has(reNestedStar, q.m) }

func leadingWildcardLike(q query) ([]string, map[string]any, bool) {
	m := reLeadingLike.FindStringSubmatch(q.s)
	if m == nil {
		return nil, nil, false
	}
	return []string{m[1]}, nil, true
}

func orderByWithoutLimit(q query) ([]string, map[string]any, bool) {
	return nil, nil, reOrderBy.MatchString(q.top) && !reLimit.MatchString(q.top)
}

func limitWithoutOrderBy(q query) ([]string, map[string]any, bool) {
	return nil, nil, reLimit.MatchString(q.top) && !reOrderBy.MatchString(q.top)
}

func offsetPagination(threshold int64) matcher {
	return func(q query) ([]string, map[string]any, bool) {
		for _, m := range reOffset.FindAllStringSubmatch(q.m, -1) {
			n, err := strconv.ParseInt(m[1], 10, 64)
			if err == nil && n >= threshold {
				return nil, map[string]any{"offset": n}, true
			}
		}
		return nil, nil, false
	}
}

func orderByRandom(q query) ([]string, map[string]any, bool) { return has(reOrderRandom, q.m) }

func missingWhere(q query) ([]string, map[string]any, bool) {
	var tables []string
	for _, stmt := range statements(q.m) {
		m := reMutation.FindStringSubmatch(stmt)
		if m == nil || reWhere.MatchString(stmt) {
			continue
		}
		tables = append(tables, m[2])
	}
	return tables, nil, len(tables) > 0
}

func notInSubquery(q query) ([]string, map[string]any, bool) { return has(reNotIn, q.m) }

func inSubquery(q query) ([]string, map[string]any, bool) {
	for _, m := range reIn.FindAllStringSubmatch(q.m, -1) {
		if m[1] == "" {
			return nil, nil, true
		}
	}
	return nil, nil, false
}

func nullEquals(q query) ([]string, map[string]any, bool) {
	return has(reNullEq, q.where+" "+strings.Join(onClauses(q.m), " "))
}

func tautology(q query) ([]string, map[string]any, bool) {
	for _, p := range predicates(q.m) {
		if reTautology.MatchString(p) {
			return nil, nil, true
		}
	}
	return nil, nil, false
}

func functionOnColumn(q query) ([]string, map[string]any, bool) {
	m := reColumnFunc.FindStringSubmatch(q.where)
	if m == nil {
		return nil, nil, false
	}
	return nil, map[string]any{"function": m[1]}, true
}

func functionInJoin(q query) ([]string, map[string]any, bool) {
	for _, clause := range onClauses(q.m) {
		for _, m := range reAnyFunc.FindAllStringSubmatch(clause, -1) {
			if !notFunctions[m[1]] {
				return nil, map[string]any{"function": m[1]}, true
			}
		}
	}
	return nil, nil, false
}

func implicitCrossJoin(q query) ([]string, map[string]any, bool) {
	for _, stmt := range statements(q.m) {
		if reWhere.MatchString(stmt) {
			continue
		}
		if m := reCommaFrom.FindStringSubmatch(stmt); m != nil {
			return []string{m[1], m[2]}, nil, true
		}
	}
	return nil, nil, false
}

func crossJoin(q query) ([]string, map[string]any, bool) { return has(reCrossJoin, q.m) }

func multipleOr(threshold int) matcher {
	return func(q query) ([]string, map[string]any, bool) {
		n := len(reOr.FindAllStringIndex(q.where, -1))
		if threshold <= 0 || n < threshold {
			return nil, nil, false
		}
		return nil, map[string]any{"or_count": n}, true
	}
}

func subqueryInSelect(q query) ([]string, map[string]any, bool) {
	for _, list := range selectLists(q.m) {
		if reNestedSelect.MatchString(list) {
			return nil, nil, true
		}
	}
	return nil, nil, false
}

var reNestedSelect = regexp.MustCompile(`\(\s*select\b`)

func distinctWithGroupBy(q query) ([]string, map[string]any, bool) {
	return nil, nil, reDistinct.MatchString(q.top) && reGroupBy.MatchString(q.top)
}

func havingWithoutGroupBy(q query) ([]string, map[string]any, bool) {
	return nil, nil, reHaving.MatchString(q.top) && !reGroupBy.MatchString(q.top)
}

func groupByWithoutAggregate(q query) ([]string, map[string]any, bool) {
	return nil, nil, reGroupBy.MatchString(q.top) && !reAggregate.MatchString(q.m)
}

func unionWithoutAll(q query) ([]string, map[string]any, bool) {
	for _, m := range reUnion.FindAllStringSubmatch(q.m, -1) {
		if m[1] == "" {
			return nil, nil, true
		}
	}
	return nil, nil, false
}

func nonSargable(q query) ([]string, map[string]any, bool) {
	m := reArithmetic.FindStringSubmatch(q.where)
	if m == nil {
		return nil, nil, false
	}
	return []string{m[1]}, nil, true
}

func castInPredicate(q query) ([]string, map[string]any, bool) {
	text := q.where + " " + strings.Join(onClauses(q.m), " ")
	m := reColumnCast.FindStringSubmatch(text)
	if m == nil {
		return nil, nil, false
	}
	return []string{m[1]}, nil, true
}

func redundantCast(q query) ([]string, map[string]any, bool) {
	for _, m := range reCastChain.FindAllStringSubmatch(q.m, -1) {
		if m[1] == m[2] {
			return nil, map[string]any{"type": m[1]}, true
		}
	}
	return nil, nil, false
}

func typeMismatch(q query) ([]string, map[string]any, bool) {
	m := reQuotedNumber.FindStringSubmatch(q.wherelit)
	if m == nil {
		return nil, nil, false
	}
	return []string{m[1]}, nil, true
}

func caseInWhere(q query) ([]string, map[string]any, bool) { return has(reCase, q.where) }

func joinOnInequality(q query) ([]string, map[string]any, bool) {
	for _, clause := range onClauses(q.m) {
		cleaned := strings.NewReplacer("<=", " ", ">=", " ", "<>", " ", "!=", " ").Replace(clause)
		inequality := strings.ContainsAny(cleaned, "<>") || len(cleaned) != len(clause)
		if inequality && !strings.Contains(cleaned, "=") {
			return nil, nil, true
		}
	}
	return nil, nil, false
}

// reColumnRef captures the qualifier of a column reference and whether IS follows it.
var reColumnRef = regexp.MustCompile(`\b(\w+)\.\w+\s*(is\b)?`)

func leftJoinFilteredInWhere(q query) ([]string, map[string]any, bool) {
	if q.where == "" {
		return nil, nil, false
	}
	refs := reColumnRef.FindAllStringSubmatch(q.where, -1)
	for _, m := range reLeftJoin.FindAllStringSubmatch(q.m, -1) {
		alias := m[2]
		if alias == "" || sqlKeywords[alias] {
			parts := strings.Split(m[1], ".")
			alias = parts[len(parts)-1]
		}
		for _, r := range refs {
			if r[1] == alias && r[2] == "" {
				return []string{m[1]}, nil, true
			}
		}
	}
	return nil, nil, false
}

var reOrderByLimit = regexp.MustCompile(`\blimit\b|\bfetch\b|\boffset\b`)

func redundantOrderByInSubquery(q query) ([]string, map[string]any, bool) {
	bodies, preceding := subqueries(q.m)
	for i, body := range bodies {
		if strings.HasSuffix(preceding[i], "array") {
			continue
		}
		flat := flattenParens(body)
		if reOrderBy.MatchString(flat) && !reOrderByLimit.MatchString(flat) {
			return nil, nil, true
		}
	}
	return nil, nil, false
}

func complexCte(threshold int) matcher {
	return func(q query) ([]string, map[string]any, bool) {
		if threshold <= 0 || !strings.HasPrefix(q.m, "with ") {
			return nil, nil, false
		}
		n := len(reCte.FindAllStringIndex(q.m, -1))
		if n < threshold {
			return nil, nil, false
		}
		return nil, map[string]any{"cte_count": n}, true
	}
}
