package orm

import (
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryRegisterAndSeal(t *testing.T) {
	r := newRegistry()

	_, err := r.register(reflect.TypeOf(Author{}))
	require.NoError(t, err)
	_, err = r.register(reflect.TypeOf(Book{}))
	require.NoError(t, err)

	// Registering the same type again returns the existing descriptor.
	d1, err := r.register(reflect.TypeOf(Book{}))
	require.NoError(t, err)
	d2, err := r.describeType(reflect.TypeOf(Book{}))
	require.NoError(t, err)
	assert.Same(t, d1, d2)

	require.NoError(t, r.seal())
	require.NoError(t, r.seal()) // idempotent

	rel, ok := d2.Rel("author")
	require.True(t, ok)
	assert.NotNil(t, rel.Target())
	assert.Equal(t, "authors", rel.Target().Table())
}

func TestRegistryRejectsAfterSeal(t *testing.T) {
	r := newRegistry()
	_, err := r.register(reflect.TypeOf(Product{}))
	require.NoError(t, err)
	require.NoError(t, r.seal())

	_, err = r.register(reflect.TypeOf(Author{}))
	var sealed *RegistrationSealedError
	require.ErrorAs(t, err, &sealed)

	r.reset()
	_, err = r.register(reflect.TypeOf(Author{}))
	require.NoError(t, err)
}

func TestRegistryDuplicateTable(t *testing.T) {
	r := newRegistry()
	_, err := r.register(reflect.TypeOf(Product{}))
	require.NoError(t, err)

	_, err = r.register(reflect.TypeOf(productClash{}))
	var dup *DuplicateTableError
	require.ErrorAs(t, err, &dup)
	assert.Equal(t, "products", dup.Table)
}

type productClash struct {
	ID int64 `db:"id,pk"`
}

func (productClash) TableName() string { return "products" }

func TestRegistryUnregisteredModel(t *testing.T) {
	r := newRegistry()
	_, err := r.describeType(reflect.TypeOf(Author{}))
	var missing *UnregisteredModelError
	require.ErrorAs(t, err, &missing)
}

func TestSealFailsOnUnregisteredRelationTarget(t *testing.T) {
	r := newRegistry()
	// Book's relation points at Author, which is not registered here.
	_, err := r.register(reflect.TypeOf(Book{}))
	require.NoError(t, err)

	err = r.seal()
	var missing *UnregisteredModelError
	require.ErrorAs(t, err, &missing)
}
