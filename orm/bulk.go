package orm

import (
	"context"
	"reflect"

	"github.com/CaliLuke/go-relq/sqlast"
)

// BulkCreate inserts all entities with a single multi-row INSERT and
// hydrates store-generated values back into each one in order. Because it
// is one statement, a constraint failure on any row persists zero rows.
func (m *Manager[T]) BulkCreate(ctx context.Context, objs []*T) error {
	if len(objs) == 0 {
		return nil
	}
	if err := Seal(); err != nil {
		return err
	}
	first := reflect.ValueOf(objs[0]).Elem()
	cols := m.insertColumns(first)
	entities := make([]reflect.Value, len(objs))
	rows := make([][]any, len(objs))
	for i, obj := range objs {
		entity := reflect.ValueOf(obj).Elem()
		// All rows must write the same columns in one statement.
		if i > 0 && len(m.insertColumns(entity)) != len(cols) {
			return &InvalidArgumentError{
				Detail: "bulk create requires all entities to have, or all to omit, the auto-increment key",
			}
		}
		entities[i] = entity
		rows[i] = m.rowValues(entity, cols)
	}
	returning := m.desc.columnNames()
	sqlText, args, err := sqlast.NewCompiler(m.desc).Insert(sqlast.InsertStmt{
		Columns:   cols,
		Rows:      rows,
		Returning: returning,
	})
	if err != nil {
		return err
	}
	res, err := m.ex.Query(ctx, sqlText, args...)
	if err != nil {
		return err
	}
	defer res.Close()
	for i := 0; res.Next(); i++ {
		if i >= len(entities) {
			break
		}
		raw, err := scanRowValues(res, len(returning))
		if err != nil {
			return err
		}
		for j, col := range returning {
			if err := setField(entities[i], m.desc.byName[col], raw[j]); err != nil {
				return err
			}
		}
	}
	return res.Err()
}

// BulkUpdate writes the named fields of all entities with one CASE-WHEN
// UPDATE keyed by primary key, and returns the number of rows affected.
// Entities must already be persisted.
func (m *Manager[T]) BulkUpdate(ctx context.Context, objs []*T, fields ...string) (int64, error) {
	if len(objs) == 0 {
		return 0, nil
	}
	if len(fields) == 0 {
		return 0, &InvalidArgumentError{Detail: "bulk update requires at least one field"}
	}
	if err := Seal(); err != nil {
		return 0, err
	}
	pkName := m.desc.pk.Name
	for _, f := range fields {
		if f == pkName {
			return 0, &InvalidArgumentError{Detail: "bulk update cannot write the primary key"}
		}
		if _, ok := m.desc.byName[f]; !ok {
			return 0, &sqlast.UnknownFieldError{Table: m.desc.table, Field: f}
		}
	}

	pks := make([]any, len(objs))
	entities := make([]reflect.Value, len(objs))
	for i, obj := range objs {
		entity := reflect.ValueOf(obj).Elem()
		if entity.Field(m.desc.pk.index).IsZero() {
			return 0, &InvalidArgumentError{Detail: "bulk update requires persisted entities with primary keys"}
		}
		entities[i] = entity
		pks[i] = m.desc.pk.fieldValue(entity)
	}

	set := make([]sqlast.Assignment, len(fields))
	for i, f := range fields {
		fd := m.desc.byName[f]
		whens := make([]sqlast.When, len(objs))
		for j, entity := range entities {
			whens[j] = sqlast.When{Match: pks[j], Value: fd.fieldValue(entity)}
		}
		set[i] = sqlast.Assignment{Column: f, Value: sqlast.Case{Key: pkName, Whens: whens}}
	}

	sqlText, args, err := sqlast.NewCompiler(m.desc).Update(sqlast.UpdateStmt{
		Set:   set,
		Where: sqlast.Where(pkName, sqlast.In, pks),
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
