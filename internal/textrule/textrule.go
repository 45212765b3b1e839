// Package textrule holds the static checks that run on raw SQL text.
package textrule

import (
	"strings"

	"github.com/mickamy/pgdiag/internal/config"
	"github.com/mickamy/pgdiag/internal/model"
	"github.com/mickamy/pgdiag/internal/rule"
)

// matcher inspects a prepared statement. It returns the affected objects, evidence for the
// finding's metadata and whether the pattern was found.
type matcher func(q query) (objects []string, evidence map[string]any, ok bool)

type textRule struct {
	rule.Meta
	message        string
	recommendation string
	match          matcher
}

func (r textRule) Evaluate(stmt model.SqlStatement) (*rule.Finding, error) {
	if strings.TrimSpace(stmt.Text) == "" {
		return nil, nil
	}
	objects, evidence, ok := r.match(prepare(stmt.Text))
	if !ok {
		return nil, nil
	}
	f := rule.New(r, r.message, objects...)
	for k, v := range evidence {
		f.With(k, v)
	}
	if r.recommendation != "" {
		f.With("recommendation", r.recommendation)
	}
	return f, nil
}

func define(code string, category rule.Category, severity rule.Severity, message, recommendation string, match matcher) textRule {
	return textRule{
		Meta:           rule.Meta{RuleCode: code, RuleCategory: category, RuleSeverity: severity},
		message:        message,
		recommendation: recommendation,
		match:          match,
	}
}

// Default returns every text rule with thresholds taken from cfg.
func Default(cfg config.RuleConfig) []rule.TextRule {
	return []rule.TextRule{
		define("SelectStar", rule.CategoryRewrite, rule.SeverityLow,
			"query selects every column with SELECT *",
			"list only the columns the caller needs", selectStar),
		define("NestedSelectStar", rule.CategoryRewrite, rule.SeverityLow,
			"subquery selects every column with SELECT *",
			"project only the columns the outer query uses", nestedSelectStar),
		define("LeadingWildcardLike", rule.CategoryIndex, rule.SeverityMedium,
			"LIKE pattern starts with a wildcard and cannot use a btree index",
			"use a pg_trgm GIN index or full text search", leadingWildcardLike),
		define("OrderByWithoutLimit", rule.CategoryPerformance, rule.SeverityLow,
			"ORDER BY without LIMIT sorts the whole result",
			"add LIMIT or drop the ORDER BY if the caller does not need ordering", orderByWithoutLimit),
		define("LimitWithoutOrderBy", rule.CategoryCorrectness, rule.SeverityMedium,
			"LIMIT without ORDER BY returns an arbitrary subset of rows",
			"add an ORDER BY so results are deterministic", limitWithoutOrderBy),
		define("OffsetPagination", rule.CategoryPerformance, rule.SeverityMedium,
			"large OFFSET reads and discards every skipped row",
			"switch to keyset pagination (WHERE id > last_seen ORDER BY id LIMIT n)", offsetPagination(cfg.OffsetPaginationThreshold)),
		define("OrderByRandom", rule.CategoryPerformance, rule.SeverityMedium,
			"ORDER BY random() sorts the entire table",
			"sample with TABLESAMPLE or pick random keys in the application", orderByRandom),
		define("MissingWhereDelete", rule.CategorySafety, rule.SeverityCritical,
			"DELETE or UPDATE without WHERE touches every row",
			"add a WHERE clause or use TRUNCATE if clearing the table is intended", missingWhere),
		define("NotInSubquery", rule.CategoryCorrectness, rule.SeverityHigh,
			"NOT IN (SELECT ...) yields no rows when the subquery returns a NULL",
			"rewrite as NOT EXISTS", notInSubquery),
		define("InSubquery", rule.CategoryRewrite, rule.SeverityLow,
			"IN (SELECT ...) subquery",
			"consider EXISTS or a JOIN", inSubquery),
		define("NullEqualsComparison", rule.CategoryCorrectness, rule.SeverityHigh,
			"comparison with NULL using = or <> is never true",
			"use IS NULL or IS NOT NULL", nullEquals),
		define("WhereTrueOr1Equals1", rule.CategoryRewrite, rule.SeverityInfo,
			"tautological predicate such as 1=1",
			"remove the placeholder predicate", tautology),
		define("FunctionOnColumn", rule.CategoryIndex, rule.SeverityMedium,
			"predicate wraps a column in a function, which prevents plain index use",
			"create an expression index or compare the bare column", functionOnColumn),
		define("FunctionInJoinCondition", rule.CategoryJoin, rule.SeverityMedium,
			"join condition applies a function to a column",
			"join on bare columns or index the expression", functionInJoin),
		define("ImplicitCrossJoin", rule.CategoryJoin, rule.SeverityHigh,
			"comma-separated FROM list without WHERE produces a cartesian product",
			"use explicit JOIN ... ON", implicitCrossJoin),
		define("CrossJoin", rule.CategoryJoin, rule.SeverityMedium,
			"explicit CROSS JOIN multiplies row counts",
			"make sure the cartesian product is intended", crossJoin),
		define("MultipleOrConditions", rule.CategoryIndex, rule.SeverityLow,
			"many OR conditions in one predicate",
			"use IN (...), UNION ALL or a bitmap-friendly rewrite", multipleOr(cfg.MultipleOrThreshold)),
		define("SubqueryInSelect", rule.CategoryRewrite, rule.SeverityMedium,
			"scalar subquery in the SELECT list runs once per row",
			"rewrite as a JOIN or LATERAL join", subqueryInSelect),
		define("DistinctWithGroupBy", rule.CategoryRewrite, rule.SeverityLow,
			"DISTINCT combined with GROUP BY is redundant",
			"drop the DISTINCT", distinctWithGroupBy),
		define("HavingWithoutGroupBy", rule.CategoryCorrectness, rule.SeverityMedium,
			"HAVING without GROUP BY treats the whole result as one group",
			"move the condition to WHERE or add GROUP BY", havingWithoutGroupBy),
		define("GroupByWithoutAggregate", rule.CategoryRewrite, rule.SeverityLow,
			"GROUP BY without any aggregate function",
			"use DISTINCT or drop the GROUP BY", groupByWithoutAggregate),
		define("UnionInsteadOfUnionAll", rule.CategoryPerformance, rule.SeverityLow,
			"UNION removes duplicates with an extra sort or hash step",
			"use UNION ALL when duplicates are impossible or acceptable", unionWithoutAll),
		define("NonSargableExpression", rule.CategoryIndex, rule.SeverityMedium,
			"arithmetic on a column in a predicate prevents index use",
			"move the arithmetic to the other side of the comparison", nonSargable),
		define("ImplicitCastInPredicate", rule.CategoryIndex, rule.SeverityLow,
			"column is cast inside a predicate",
			"compare values of the column's own type", castInPredicate),
		define("RedundantCast", rule.CategoryRewrite, rule.SeverityInfo,
			"the same cast is applied twice",
			"drop the repeated cast", redundantCast),
		define("TypeMismatchComparison", rule.CategoryCorrectness, rule.SeverityLow,
			"column compared with a quoted numeric literal",
			"use an unquoted number so no implicit cast is needed", typeMismatch),
		define("CaseInWhere", rule.CategoryIndex, rule.SeverityLow,
			"CASE expression inside WHERE",
			"split the predicate into plain OR branches that can use indexes", caseInWhere),
		define("JoinOnInequality", rule.CategoryJoin, rule.SeverityMedium,
			"join condition uses only inequality operators",
			"add an equality key or use a range type with a GiST index", joinOnInequality),
		define("LeftJoinFilteredInWhere", rule.CategoryCorrectness, rule.SeverityMedium,
			"WHERE filters the right side of a LEFT JOIN and turns it into an inner join",
			"move the condition into the ON clause", leftJoinFilteredInWhere),
		define("RedundantOrderByInSubquery", rule.CategoryPerformance, rule.SeverityLow,
			"ORDER BY inside a subquery without LIMIT has no effect on the result",
			"remove the inner ORDER BY", redundantOrderByInSubquery),
		define("OverlyComplexCte", rule.CategoryRewrite, rule.SeverityLow,
			"query chains many common table expressions",
			"split the query or persist intermediate results", complexCte(cfg.ComplexCteThreshold)),
	}
}
