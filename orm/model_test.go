package orm

import (
	"reflect"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CaliLuke/go-relq/sqlast"
)

func TestDescribeMapsFields(t *testing.T) {
	d, err := describe(reflect.TypeOf(Book{}))
	require.NoError(t, err)

	assert.Equal(t, "books", d.Table())
	assert.Equal(t, "id", d.PK().Name)
	assert.True(t, d.PK().AutoIncr)

	title, ok := d.Field("title")
	require.True(t, ok)
	assert.Equal(t, sqlast.KindString, title.Kind)
	assert.True(t, title.Unique)

	fk, ok := d.Field("author_id")
	require.True(t, ok)
	assert.Equal(t, sqlast.KindInt, fk.Kind)
	assert.True(t, fk.Nullable)

	col, ok := d.Column("price")
	require.True(t, ok)
	assert.Equal(t, sqlast.KindFloat, col.Kind)
	_, ok = d.Column("publisher")
	assert.False(t, ok)

	rel, ok := d.Rel("author")
	require.True(t, ok)
	assert.Equal(t, RelToOne, rel.Kind)
	assert.Equal(t, "author_id", rel.FKColumn)
}

func TestDescribeToManyRelation(t *testing.T) {
	d, err := describe(reflect.TypeOf(Author{}))
	require.NoError(t, err)

	rel, ok := d.Rel("books")
	require.True(t, ok)
	assert.Equal(t, RelToMany, rel.Kind)
	assert.Equal(t, "author_id", rel.FKColumn)
}

func TestDescribeValueKinds(t *testing.T) {
	d, err := describe(reflect.TypeOf(Product{}))
	require.NoError(t, err)

	for field, kind := range map[string]sqlast.Kind{
		"sku":          sqlast.KindUUID,
		"name":         sqlast.KindString,
		"price":        sqlast.KindFloat,
		"stock":        sqlast.KindInt,
		"discontinued": sqlast.KindBool,
		"added_at":     sqlast.KindTime,
	} {
		fd, ok := d.Field(field)
		require.True(t, ok, field)
		assert.Equal(t, kind, fd.Kind, field)
	}
}

func TestDescribeTableNameOverride(t *testing.T) {
	type Inventory struct {
		ID int64 `db:"id,pk"`
	}
	d, err := describe(reflect.TypeOf(Inventory{}))
	require.NoError(t, err)
	assert.Equal(t, "inventorys", d.Table()) // naive pluralization without override

	d, err = describe(reflect.TypeOf(namedModel{}))
	require.NoError(t, err)
	assert.Equal(t, "stock_ledger", d.Table())
}

type namedModel struct {
	ID int64 `db:"id,pk"`
}

func (namedModel) TableName() string { return "stock_ledger" }

func TestDescribeErrors(t *testing.T) {
	type noPK struct {
		Name string `db:"name"`
	}
	_, err := describe(reflect.TypeOf(noPK{}))
	var deferr *ModelDefinitionError
	require.ErrorAs(t, err, &deferr)

	type badType struct {
		ID   int64          `db:"id,pk"`
		Data map[string]int `db:"data"`
	}
	_, err = describe(reflect.TypeOf(badType{}))
	require.ErrorAs(t, err, &deferr)

	type dupCol struct {
		ID    int64  `db:"id,pk"`
		Name  string `db:"name"`
		Alias string `db:"name"`
	}
	_, err = describe(reflect.TypeOf(dupCol{}))
	require.Error(t, err)

	type twoPKs struct {
		A int64 `db:"a,pk"`
		B int64 `db:"b,pk"`
	}
	_, err = describe(reflect.TypeOf(twoPKs{}))
	require.ErrorAs(t, err, &deferr)

	type badRel struct {
		ID  int64  `db:"id,pk"`
		Rel string `rel:"other,fk=id"`
	}
	_, err = describe(reflect.TypeOf(badRel{}))
	require.ErrorAs(t, err, &deferr)
}

func TestDescribeSkipsUntaggedFields(t *testing.T) {
	type partial struct {
		ID     int64  `db:"id,pk"`
		Kept   string `db:"kept"`
		Cache  string `db:"-"`
		Plain  string
		hidden string
		When   time.Time `db:"when"`
		Ref    uuid.UUID `db:"ref"`
	}
	_ = partial{hidden: ""}
	d, err := describe(reflect.TypeOf(partial{}))
	require.NoError(t, err)
	assert.Equal(t, []string{"id", "kept", "when", "ref"}, d.columnNames())
}
