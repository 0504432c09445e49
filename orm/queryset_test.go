package orm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CaliLuke/go-relq/sqlast"
)

func bookQS(t *testing.T) QuerySet[Book] {
	t.Helper()
	d, err := Describe[Book]()
	require.NoError(t, err)
	return newQuerySet[Book](d, nil)
}

func compileSelect(t *testing.T, qs QuerySet[Book]) (string, []any) {
	t.Helper()
	stmt, err := qs.build()
	require.NoError(t, err)
	sql, args, err := sqlast.NewCompiler(qs.desc).Select(stmt)
	require.NoError(t, err)
	return sql, args
}

func TestChainersDoNotMutateReceiver(t *testing.T) {
	base := bookQS(t).Filter(sqlast.Where("price", sqlast.Gt, 10.0))
	before, beforeArgs := compileSelect(t, base)

	_ = base.Filter(sqlast.Eq("pages", 100)).
		Exclude(sqlast.Eq("title", "Knots")).
		OrderBy("-price", "title").
		Limit(5).
		Offset(2).
		Only("title").
		SelectRelated("author").
		PrefetchRelated("author").
		Distinct()

	after, afterArgs := compileSelect(t, base)
	assert.Equal(t, before, after)
	assert.Equal(t, beforeArgs, afterArgs)
}

func TestDerivedQuerySetsAreIndependent(t *testing.T) {
	base := bookQS(t).Filter(`price > 10`)
	cheap := base.Filter(`price < 20`)
	long := base.Filter(`pages >= 500`)

	cheapSQL, _ := compileSelect(t, cheap)
	longSQL, _ := compileSelect(t, long)
	assert.NotEqual(t, cheapSQL, longSQL)
	assert.Contains(t, cheapSQL, `"price" < ?`)
	assert.NotContains(t, cheapSQL, `"pages"`)
	assert.Contains(t, longSQL, `"pages" >= ?`)
	assert.NotContains(t, longSQL, `"price" < ?`)
}

func TestExcludeNegatesConditions(t *testing.T) {
	sql, args := compileSelect(t, bookQS(t).
		Filter(sqlast.Where("price", sqlast.Gt, 10.0)).
		Exclude(sqlast.Eq("title", "Knots")))
	assert.Contains(t, sql, `"price" > ? AND (NOT ("title" = ?))`)
	assert.Equal(t, []any{10.0, "Knots"}, args)
}

func TestOrderByParsesDescendingPrefix(t *testing.T) {
	sql, _ := compileSelect(t, bookQS(t).OrderBy("-price", "title"))
	assert.Contains(t, sql, `ORDER BY "price" DESC, "title" ASC`)
}

func TestNegativeLimitSurfacesAtTerminal(t *testing.T) {
	qs := bookQS(t).Limit(-1)
	_, err := qs.build()
	var invalid *InvalidArgumentError
	require.ErrorAs(t, err, &invalid)

	qs = bookQS(t).Offset(-3)
	_, err = qs.build()
	require.ErrorAs(t, err, &invalid)
}

func TestBadConditionStringSurfacesAtTerminal(t *testing.T) {
	qs := bookQS(t).Filter(`price >`)
	_, err := qs.build()
	var invalid *InvalidArgumentError
	require.ErrorAs(t, err, &invalid)
}

func TestOnlyRetainsPKAndRelationFKs(t *testing.T) {
	sql, _ := compileSelect(t, bookQS(t).Only("title"))
	assert.Equal(t, `SELECT "id", "title" FROM "books"`, sql)

	sql, _ = compileSelect(t, bookQS(t).Only("title").PrefetchRelated("author"))
	assert.Equal(t, `SELECT "id", "title", "author_id" FROM "books"`, sql)
}

func TestDeferDropsNamedColumns(t *testing.T) {
	sql, _ := compileSelect(t, bookQS(t).Defer("price", "pages"))
	assert.Equal(t, `SELECT "id", "title", "author_id" FROM "books"`, sql)

	// The primary key cannot be deferred away.
	sql, _ = compileSelect(t, bookQS(t).Defer("id"))
	assert.Contains(t, sql, `"id"`)
}

func TestOnlyWinsOverDefer(t *testing.T) {
	sql, _ := compileSelect(t, bookQS(t).Only("title").Defer("title"))
	assert.Equal(t, `SELECT "id", "title" FROM "books"`, sql)
}

func TestUnknownProjectionFieldErrors(t *testing.T) {
	_, err := bookQS(t).Only("publisher").build()
	var unknown *sqlast.UnknownFieldError
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, "publisher", unknown.Field)
}

func TestSelectRelatedBuildsJoin(t *testing.T) {
	sql, _ := compileSelect(t, bookQS(t).SelectRelated("author"))
	assert.Contains(t, sql, `LEFT JOIN "authors" AS "author" ON "books"."author_id" = "author"."id"`)
	assert.Contains(t, sql, `"author"."name" AS "author__name"`)
}

func TestSelectRelatedRejectsToMany(t *testing.T) {
	d, err := Describe[Author]()
	require.NoError(t, err)
	qs := newQuerySet[Author](d, nil)

	_, err = qs.SelectRelated("books").build()
	var invalid *InvalidArgumentError
	require.ErrorAs(t, err, &invalid)
	assert.Contains(t, invalid.Detail, "to-many")
}

func TestUnknownRelationErrors(t *testing.T) {
	var invalid *InvalidArgumentError
	_, err := bookQS(t).SelectRelated("publisher").build()
	require.ErrorAs(t, err, &invalid)
	_, err = bookQS(t).PrefetchRelated("publisher").build()
	require.ErrorAs(t, err, &invalid)
}

func TestDistinctIsIdempotent(t *testing.T) {
	once, _ := compileSelect(t, bookQS(t).Distinct())
	twice, _ := compileSelect(t, bookQS(t).Distinct().Distinct())
	assert.Equal(t, once, twice)
	assert.Contains(t, once, "SELECT DISTINCT")
}

func TestFilterTripleForm(t *testing.T) {
	sql, args := compileSelect(t, bookQS(t).Filter("price", sqlast.Gt, 10))
	assert.Contains(t, sql, `WHERE "price" > ?`)
	assert.Equal(t, []any{10}, args)

	sql, _ = compileSelect(t, bookQS(t).Exclude("pages", sqlast.Lte, 100))
	assert.Contains(t, sql, `WHERE NOT ("pages" <= ?)`)
}
