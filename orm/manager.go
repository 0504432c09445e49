package orm

import (
	"context"
	"errors"
	"reflect"
	"sort"

	"github.com/CaliLuke/go-relq/sqlast"
)

// Manager is the entry point for persistence operations on one model
// type. It is bound to an executor at construction; transactional scope
// comes from the executor, not the manager.
type Manager[T any] struct {
	desc *Descriptor
	ex   Executor
}

// NewManager returns a manager for the registered model T running on ex.
func NewManager[T any](ex Executor) (*Manager[T], error) {
	d, err := Describe[T]()
	if err != nil {
		return nil, err
	}
	return &Manager[T]{desc: d, ex: ex}, nil
}

// Descriptor returns the model's descriptor.
func (m *Manager[T]) Descriptor() *Descriptor { return m.desc }

// All returns a fresh unfiltered query set.
func (m *Manager[T]) All() QuerySet[T] {
	return newQuerySet[T](m.desc, m.ex)
}

// Filter returns a fresh query set restricted by the conditions.
func (m *Manager[T]) Filter(conds ...any) QuerySet[T] {
	return m.All().Filter(conds...)
}

// Exclude returns a fresh query set excluding rows matching the
// conditions.
func (m *Manager[T]) Exclude(conds ...any) QuerySet[T] {
	return m.All().Exclude(conds...)
}

// Get returns the single entity matching the conditions.
func (m *Manager[T]) Get(ctx context.Context, conds ...any) (*T, error) {
	return m.Filter(conds...).Get(ctx)
}

// GetByPK returns the entity with the given primary key.
func (m *Manager[T]) GetByPK(ctx context.Context, pk any) (*T, error) {
	return m.Filter(sqlast.Eq(m.desc.pk.Name, pk)).Get(ctx)
}

// Exists reports whether any row exists for the model.
func (m *Manager[T]) Exists(ctx context.Context) (bool, error) {
	return m.All().Exists(ctx)
}

// Count returns the model's row count.
func (m *Manager[T]) Count(ctx context.Context) (int64, error) {
	return m.All().Count(ctx)
}

// Latest returns the entity with the greatest value of field.
func (m *Manager[T]) Latest(ctx context.Context, field string) (*T, error) {
	return m.All().Latest(ctx, field)
}

// Earliest returns the entity with the smallest value of field.
func (m *Manager[T]) Earliest(ctx context.Context, field string) (*T, error) {
	return m.All().Earliest(ctx, field)
}

// Aggregate computes aggregates over the whole table.
func (m *Manager[T]) Aggregate(ctx context.Context, aggs ...sqlast.Aggregate) (map[string]any, error) {
	return m.All().Aggregate(ctx, aggs...)
}

// insertColumns decides which columns an insert writes. An auto-increment
// primary key left at its zero value is omitted so the store assigns it.
func (m *Manager[T]) insertColumns(entity reflect.Value) []string {
	var cols []string
	for _, fd := range m.desc.fields {
		if fd.AutoIncr && entity.Field(fd.index).IsZero() {
			continue
		}
		cols = append(cols, fd.Name)
	}
	return cols
}

func (m *Manager[T]) rowValues(entity reflect.Value, cols []string) []any {
	row := make([]any, len(cols))
	for i, col := range cols {
		row[i] = m.desc.byName[col].fieldValue(entity)
	}
	return row
}

// Create inserts the entity and hydrates store-generated values (the
// auto-increment key, applied defaults) back into it. Durability is
// decided by the enclosing transaction scope, if any.
func (m *Manager[T]) Create(ctx context.Context, obj *T) error {
	if err := Seal(); err != nil {
		return err
	}
	entity := reflect.ValueOf(obj).Elem()
	cols := m.insertColumns(entity)
	returning := m.desc.columnNames()
	sqlText, args, err := sqlast.NewCompiler(m.desc).Insert(sqlast.InsertStmt{
		Columns:   cols,
		Rows:      [][]any{m.rowValues(entity, cols)},
		Returning: returning,
	})
	if err != nil {
		return err
	}
	rows, err := m.ex.Query(ctx, sqlText, args...)
	if err != nil {
		return err
	}
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return err
		}
		return &DoesNotExistError{Model: m.desc.goType.Name()}
	}
	raw, err := scanRowValues(rows, len(returning))
	if err != nil {
		return err
	}
	for i, col := range returning {
		if err := setField(entity, m.desc.byName[col], raw[i]); err != nil {
			return err
		}
	}
	return rows.Err()
}

// newFromValues builds a fresh entity from a field-name-keyed value map.
func (m *Manager[T]) newFromValues(values map[string]any) (*T, error) {
	ptr := reflect.New(m.desc.goType)
	for name, v := range values {
		fd, ok := m.desc.byName[name]
		if !ok {
			return nil, &sqlast.UnknownFieldError{Table: m.desc.table, Field: name}
		}
		if err := setGoValue(ptr.Elem(), fd, v); err != nil {
			return nil, err
		}
	}
	return ptr.Interface().(*T), nil
}

func lookupConds(lookup map[string]any) []any {
	keys := make([]string, 0, len(lookup))
	for k := range lookup {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	conds := make([]any, len(keys))
	for i, k := range keys {
		conds[i] = sqlast.Eq(k, lookup[k])
	}
	return conds
}

// GetOrCreate fetches the entity matching lookup, creating it from lookup
// plus defaults when absent. The returned bool reports whether a row was
// created. A concurrent duplicate insert surfaces as the store's unique
// constraint error; the store is the arbiter, there is no retry.
func (m *Manager[T]) GetOrCreate(ctx context.Context, lookup, defaults map[string]any) (*T, bool, error) {
	obj, err := m.Get(ctx, lookupConds(lookup)...)
	if err == nil {
		return obj, false, nil
	}
	var missing *DoesNotExistError
	if !errors.As(err, &missing) {
		return nil, false, err
	}
	merged := make(map[string]any, len(lookup)+len(defaults))
	for k, v := range defaults {
		merged[k] = v
	}
	for k, v := range lookup {
		merged[k] = v
	}
	obj, err = m.newFromValues(merged)
	if err != nil {
		return nil, false, err
	}
	if err := m.Create(ctx, obj); err != nil {
		return nil, false, err
	}
	return obj, true, nil
}

// UpdateOrCreate updates the entity matching lookup with values, creating
// it from lookup plus values when absent.
func (m *Manager[T]) UpdateOrCreate(ctx context.Context, lookup, values map[string]any) (*T, bool, error) {
	obj, err := m.Get(ctx, lookupConds(lookup)...)
	if err != nil {
		var missing *DoesNotExistError
		if !errors.As(err, &missing) {
			return nil, false, err
		}
		merged := make(map[string]any, len(lookup)+len(values))
		for k, v := range values {
			merged[k] = v
		}
		for k, v := range lookup {
			merged[k] = v
		}
		obj, err = m.newFromValues(merged)
		if err != nil {
			return nil, false, err
		}
		if err := m.Create(ctx, obj); err != nil {
			return nil, false, err
		}
		return obj, true, nil
	}
	pk := m.desc.pk.fieldValue(reflect.ValueOf(obj).Elem())
	obj, err = m.Update(ctx, pk, values)
	if err != nil {
		return nil, false, err
	}
	return obj, false, nil
}

// Update writes values to the entity with the given primary key and
// returns it with its post-update state. Values may be sqlast.F
// expressions, which the store applies relative to the current column
// value without a read. DoesNotExistError when pk misses.
func (m *Manager[T]) Update(ctx context.Context, pk any, values map[string]any) (*T, error) {
	if len(values) == 0 {
		return nil, &InvalidArgumentError{Detail: "update requires at least one value"}
	}
	if err := Seal(); err != nil {
		return nil, err
	}
	returning := m.desc.columnNames()
	sqlText, args, err := sqlast.NewCompiler(m.desc).Update(sqlast.UpdateStmt{
		Set:       sortedAssignments(values),
		Where:     sqlast.Eq(m.desc.pk.Name, pk),
		Returning: returning,
	})
	if err != nil {
		return nil, err
	}
	rows, err := m.ex.Query(ctx, sqlText, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, &DoesNotExistError{Model: m.desc.goType.Name()}
	}
	raw, err := scanRowValues(rows, len(returning))
	if err != nil {
		return nil, err
	}
	ptr := reflect.New(m.desc.goType)
	for i, col := range returning {
		if err := setField(ptr.Elem(), m.desc.byName[col], raw[i]); err != nil {
			return nil, err
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return ptr.Interface().(*T), nil
}

// DeleteByPK removes the entity with the given primary key and returns
// the number of rows removed, zero or one.
func (m *Manager[T]) DeleteByPK(ctx context.Context, pk any) (int64, error) {
	if err := Seal(); err != nil {
		return 0, err
	}
	sqlText, args, err := sqlast.NewCompiler(m.desc).Delete(sqlast.DeleteStmt{
		Where: sqlast.Eq(m.desc.pk.Name, pk),
	})
	if err != nil {
		return 0, err
	}
	res, err := m.ex.Exec(ctx, sqlText, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
