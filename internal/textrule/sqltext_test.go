package textrule

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPrepare(t *testing.T) {
	q := prepare("SELECT 'it''s -- not a comment' FROM t -- trailing\n/* block */ WHERE  x = 1")
	assert.Equal(t, "select 'it''s -- not a comment' from t where x = 1", q.s)
	assert.Equal(t, "select '?' from t where x = 1", q.m)
	assert.Equal(t, "x = 1", q.where)
}

func TestPrepareUnterminated(t *testing.T) {
	q := prepare("SELECT 'oops FROM t /* open")
	assert.Equal(t, "select '?'", q.m)

	q = prepare("SELECT id /* open")
	assert.Equal(t, "select id", q.m)
}

func TestFlattenParens(t *testing.T) {
	assert.Equal(t, "select a from () x where f()", flattenParens("select a from (select b from (c)) x where f(c)"))
}

func TestSelectLists(t *testing.T) {
	lists := selectLists("select id, (select max(x) from b) from a where id in (select a_id from c)")
	assert.Equal(t, []string{" id, (select max(x) from b) ", " max(x) ", " a_id "}, lists)
}

func TestOnClauses(t *testing.T) {
	clauses := onClauses("select distinct on (a) a from t join u on u.id = t.id left join v on v.id = u.id where x = 1")
	assert.Equal(t, []string{"u.id = t.id", "v.id = u.id"}, clauses)
}
