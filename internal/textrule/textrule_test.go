package textrule_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mickamy/pgdiag/internal/config"
	"github.com/mickamy/pgdiag/internal/model"
	"github.com/mickamy/pgdiag/internal/rule"
	"github.com/mickamy/pgdiag/internal/textrule"
)

func rules() []rule.TextRule {
	return textrule.Default(config.Default().Rules)
}

func evaluate(t *testing.T, code, sql string) *rule.Finding {
	t.Helper()
	for _, r := range rules() {
		if r.Code() != code {
			continue
		}
		f, err := r.Evaluate(model.SqlStatement{Text: sql})
		require.NoError(t, err)
		return f
	}
	t.Fatalf("rule %s not registered", code)
	return nil
}

func TestRegistry(t *testing.T) {
	seen := map[string]bool{}
	for _, r := range rules() {
		assert.False(t, seen[r.Code()], "duplicate code %s", r.Code())
		seen[r.Code()] = true
		assert.True(t, r.Category().Valid(), r.Code())
	}
	assert.Len(t, seen, 31)
}

func TestRules(t *testing.T) {
	tests := []struct {
		code string
		sql  string
		want bool
	}{
		{"SelectStar", "SELECT * FROM users", true},
		{"SelectStar", "SELECT count(*) FROM users", false},
		{"SelectStar", "SELECT id FROM users -- SELECT * FROM users", false},
		{"SelectStar", "SELECT id FROM notes WHERE body = 'select * from x'", false},
		{"NestedSelectStar", "SELECT id FROM (SELECT * FROM users) u", true},
		{"LeadingWildcardLike", "SELECT id FROM users WHERE email LIKE '%@example.com'", true},
		{"LeadingWildcardLike", "SELECT id FROM users WHERE name ILIKE '%ann%'", true},
		{"LeadingWildcardLike", "SELECT id FROM users WHERE email LIKE 'bob%'", false},
		{"OrderByWithoutLimit", "SELECT id FROM users ORDER BY id", true},
		{"OrderByWithoutLimit", "SELECT id FROM users ORDER BY id LIMIT 10", false},
		{"OrderByWithoutLimit", "SELECT row_number() OVER (ORDER BY id) FROM users", false},
		{"LimitWithoutOrderBy", "SELECT id FROM users LIMIT 10", true},
		{"LimitWithoutOrderBy", "SELECT id FROM users ORDER BY id LIMIT 10", false},
		{"OffsetPagination", "SELECT id FROM users ORDER BY id LIMIT 10 OFFSET 5000", true},
		{"OffsetPagination", "SELECT id FROM users ORDER BY id LIMIT 10 OFFSET 20", false},
		{"OrderByRandom", "SELECT id FROM users ORDER BY random() LIMIT 1", true},
		{"MissingWhereDelete", "DELETE FROM sessions", true},
		{"MissingWhereDelete", "UPDATE users SET active = false", true},
		{"MissingWhereDelete", "DELETE FROM sessions WHERE expires_at < now()", false},
		{"MissingWhereDelete", "SELECT * FROM sessions", false},
		{"NotInSubquery", "SELECT id FROM a WHERE id NOT IN (SELECT a_id FROM b)", true},
		{"InSubquery", "SELECT id FROM a WHERE id IN (SELECT a_id FROM b)", true},
		{"InSubquery", "SELECT id FROM a WHERE id NOT IN (SELECT a_id FROM b)", false},
		{"NullEqualsComparison", "SELECT id FROM a WHERE deleted_at = NULL", true},
		{"NullEqualsComparison", "SELECT id FROM a WHERE deleted_at IS NULL", false},
		{"NullEqualsComparison", "UPDATE a SET deleted_at = NULL WHERE id = 1", false},
		{"WhereTrueOr1Equals1", "SELECT id FROM a WHERE 1=1 AND id = 2", true},
		{"WhereTrueOr1Equals1", "SELECT id FROM a WHERE id = 2 OR 1 = 1", true},
		{"WhereTrueOr1Equals1", "SELECT id FROM a WHERE id = 10", false},
		{"FunctionOnColumn", "SELECT id FROM users WHERE lower(email) = 'a@b.c'", true},
		{"FunctionOnColumn", "SELECT lower(email) FROM users WHERE id = 1", false},
		{"FunctionInJoinCondition", "SELECT a.id FROM a JOIN b ON lower(a.code) = b.code", true},
		{"FunctionInJoinCondition", "SELECT a.id FROM a JOIN b ON a.code = b.code AND (a.x = 1 OR b.y = 2)", false},
		{"ImplicitCrossJoin", "SELECT * FROM a, b", true},
		{"ImplicitCrossJoin", "SELECT * FROM a, b WHERE a.id = b.a_id", false},
		{"CrossJoin", "SELECT * FROM a CROSS JOIN b", true},
		{"MultipleOrConditions", "SELECT id FROM a WHERE x = 1 OR x = 2 OR x = 3 OR x = 4", true},
		{"MultipleOrConditions", "SELECT id FROM a WHERE x = 1 OR x = 2", false},
		{"SubqueryInSelect", "SELECT id, (SELECT count(*) FROM b WHERE b.a_id = a.id) FROM a", true},
		{"SubqueryInSelect", "SELECT id FROM a WHERE id IN (SELECT a_id FROM b)", false},
		{"DistinctWithGroupBy", "SELECT DISTINCT a FROM t GROUP BY a", true},
		{"HavingWithoutGroupBy", "SELECT count(*) FROM t HAVING count(*) > 1", true},
		{"HavingWithoutGroupBy", "SELECT a, count(*) FROM t GROUP BY a HAVING count(*) > 1", false},
		{"GroupByWithoutAggregate", "SELECT a FROM t GROUP BY a", true},
		{"GroupByWithoutAggregate", "SELECT a, count(*) FROM t GROUP BY a", false},
		{"UnionInsteadOfUnionAll", "SELECT a FROM t UNION SELECT a FROM u", true},
		{"UnionInsteadOfUnionAll", "SELECT a FROM t UNION ALL SELECT a FROM u", false},
		{"NonSargableExpression", "SELECT id FROM t WHERE price * 2 > 100", true},
		{"NonSargableExpression", "SELECT id FROM t WHERE created_at + interval '1 day' > now()", true},
		{"NonSargableExpression", "SELECT id FROM t WHERE price > 100", false},
		{"ImplicitCastInPredicate", "SELECT id FROM t WHERE created_at::date = '2024-01-01'", true},
		{"ImplicitCastInPredicate", "SELECT created_at::date FROM t WHERE id = 1", false},
		{"RedundantCast", "SELECT x::text::text FROM t", true},
		{"RedundantCast", "SELECT x::int::text FROM t", false},
		{"TypeMismatchComparison", "SELECT id FROM t WHERE id = '42'", true},
		{"TypeMismatchComparison", "SELECT id FROM t WHERE name = 'bob'", false},
		{"CaseInWhere", "SELECT id FROM t WHERE CASE WHEN a THEN b ELSE c END", true},
		{"JoinOnInequality", "SELECT * FROM a JOIN b ON a.ts < b.ts", true},
		{"JoinOnInequality", "SELECT * FROM a JOIN b ON a.id = b.id AND a.ts < b.ts", false},
		{"LeftJoinFilteredInWhere", "SELECT * FROM a LEFT JOIN b ON b.a_id = a.id WHERE b.status = 'x'", true},
		{"LeftJoinFilteredInWhere", "SELECT * FROM a LEFT JOIN b bb ON bb.a_id = a.id WHERE bb.status = 'x'", true},
		{"LeftJoinFilteredInWhere", "SELECT * FROM a LEFT JOIN b ON b.a_id = a.id WHERE b.id IS NULL", false},
		{"LeftJoinFilteredInWhere", "SELECT * FROM a LEFT JOIN b ON b.a_id = a.id WHERE a.status = 'x'", false},
		{"LeftJoinFilteredInWhere", "SELECT * FROM ab LEFT JOIN b ON b.a_id = ab.id WHERE ab.status = 'x'", false},
		{"LeftJoinFilteredInWhere", "SELECT * FROM a LEFT JOIN b ON b.a_id = a.id LEFT JOIN c ON c.b_id = b.id WHERE b.id IS NULL AND c.kind = 'y'", true},
		{"RedundantOrderByInSubquery", "SELECT * FROM (SELECT id FROM t ORDER BY id) s", true},
		{"RedundantOrderByInSubquery", "SELECT * FROM (SELECT id FROM t ORDER BY id LIMIT 5) s", false},
		{"RedundantOrderByInSubquery", "SELECT array(SELECT id FROM t ORDER BY id)", false},
		{"OverlyComplexCte", "WITH a AS (SELECT 1), b AS (SELECT 2), c AS (SELECT 3), d AS (SELECT 4), e AS (SELECT 5) SELECT * FROM e", true},
		{"OverlyComplexCte", "WITH a AS (SELECT 1) SELECT * FROM a", false},
	}
	for _, tt := range tests {
		t.Run(tt.code+"/"+tt.sql, func(t *testing.T) {
			f := evaluate(t, tt.code, tt.sql)
			assert.Equal(t, tt.want, f != nil)
			if f != nil {
				assert.Equal(t, tt.code, f.Code)
				assert.Empty(t, f.NodeID)
			}
		})
	}
}

func TestAffectedObjects(t *testing.T) {
	f := evaluate(t, "LeadingWildcardLike", "SELECT id FROM users WHERE email LIKE '%@example.com'")
	require.NotNil(t, f)
	assert.Equal(t, []string{"email"}, f.AffectedObjects)
	assert.Equal(t, rule.SeverityMedium, f.Severity)

	f = evaluate(t, "MissingWhereDelete", "DELETE FROM a WHERE id = 1; DELETE FROM b")
	require.NotNil(t, f)
	assert.Equal(t, []string{"b"}, f.AffectedObjects)
	assert.Equal(t, rule.SeverityCritical, f.Severity)
	assert.Equal(t, rule.CategorySafety, f.Category)

	f = evaluate(t, "OffsetPagination", "SELECT id FROM t ORDER BY id LIMIT 10 OFFSET 5000")
	require.NotNil(t, f)
	assert.EqualValues(t, 5000, f.Metadata["offset"])
}

func TestCleanQueryHasNoFindings(t *testing.T) {
	for _, sql := range []string{
		"SELECT id, name FROM users WHERE id = $1",
		"SELECT u.id, o.total FROM users u JOIN orders o ON o.user_id = u.id WHERE u.id = $1 ORDER BY o.created_at DESC LIMIT 20",
		"",
		"   ",
	} {
		for _, r := range rules() {
			f, err := r.Evaluate(model.SqlStatement{Text: sql})
			require.NoError(t, err)
			assert.Nil(t, f, "%s fired on %q", r.Code(), sql)
		}
	}
}

func TestThresholdsComeFromConfig(t *testing.T) {
	cfg := config.Default().Rules
	cfg.OffsetPaginationThreshold = 10
	for _, r := range textrule.Default(cfg) {
		if r.Code() != "OffsetPagination" {
			continue
		}
		f, err := r.Evaluate(model.SqlStatement{Text: "SELECT id FROM t ORDER BY id LIMIT 10 OFFSET 20"})
		require.NoError(t, err)
		assert.NotNil(t, f)
	}
}
