package orm

import (
	"context"
	"fmt"
	"reflect"
	"time"

	"github.com/google/uuid"

	"github.com/CaliLuke/go-relq/sqlast"
)

// normKey reduces a field value to a comparable map key so rows can be
// stitched together across queries regardless of numeric width.
func normKey(v any) any {
	switch k := v.(type) {
	case uuid.UUID:
		return k.String()
	case time.Time:
		return k.UnixNano()
	case []byte:
		return string(k)
	}
	rv := reflect.ValueOf(v)
	switch {
	case rv.CanInt():
		return rv.Int()
	case rv.CanUint():
		return int64(rv.Uint())
	case rv.CanFloat():
		return rv.Float()
	}
	return v
}

// runPrefetch loads the named relations for the fetched parents, one IN
// query per relation, and stitches the children onto the parent structs.
func runPrefetch(ctx context.Context, ex Executor, d *Descriptor, parents []reflect.Value, names []string) error {
	seen := make(map[string]bool, len(names))
	for _, name := range names {
		if seen[name] {
			continue
		}
		seen[name] = true
		rel, ok := d.relByName[name]
		if !ok {
			return &InvalidArgumentError{Detail: "unknown relation " + name}
		}
		var err error
		if rel.Kind == RelToOne {
			err = prefetchToOne(ctx, ex, d, rel, parents)
		} else {
			err = prefetchToMany(ctx, ex, d, rel, parents)
		}
		if err != nil {
			return fmt.Errorf("prefetch %s: %w", name, err)
		}
	}
	return nil
}

func fetchRelated(ctx context.Context, ex Executor, target *Descriptor, field string, keys []any, order bool) ([]reflect.Value, error) {
	stmt := sqlast.SelectStmt{
		Columns: target.columnNames(),
		Where:   sqlast.Where(field, sqlast.In, keys),
		Limit:   -1,
	}
	if order {
		stmt.OrderBy = []sqlast.OrderClause{{Field: target.pk.Name}}
	}
	sqlText, args, err := sqlast.NewCompiler(target).Select(stmt)
	if err != nil {
		return nil, err
	}
	rows, err := ex.Query(ctx, sqlText, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return hydrateRows(rows, target, stmt)
}

// prefetchToOne loads the owners' foreign-key targets in one query and
// assigns each parent its child by key.
func prefetchToOne(ctx context.Context, ex Executor, d *Descriptor, rel *RelDesc, parents []reflect.Value) error {
	fk := d.byName[rel.FKColumn]
	var keys []any
	seen := make(map[any]bool)
	for _, p := range parents {
		v := fk.fieldValue(p.Elem())
		if v == nil {
			continue
		}
		if k := normKey(v); !seen[k] {
			seen[k] = true
			keys = append(keys, v)
		}
	}
	// Every foreign key was NULL, nothing to load.
	if len(keys) == 0 {
		return nil
	}
	children, err := fetchRelated(ctx, ex, rel.target, rel.target.pk.Name, keys, false)
	if err != nil {
		return err
	}
	byPK := make(map[any]reflect.Value, len(children))
	for _, c := range children {
		byPK[normKey(rel.target.pk.fieldValue(c.Elem()))] = c
	}
	for _, p := range parents {
		v := fk.fieldValue(p.Elem())
		if v == nil {
			continue
		}
		if child, ok := byPK[normKey(v)]; ok {
			p.Elem().Field(rel.index).Set(child)
		}
	}
	return nil
}

// prefetchToMany loads all children whose foreign key points at one of the
// parents and groups them onto the parents' slice fields. Parents with no
// children get an empty slice, marking the relation as loaded.
func prefetchToMany(ctx context.Context, ex Executor, d *Descriptor, rel *RelDesc, parents []reflect.Value) error {
	byPK := make(map[any]reflect.Value, len(parents))
	keys := make([]any, 0, len(parents))
	sliceType := reflect.SliceOf(reflect.PointerTo(rel.targetType))
	for _, p := range parents {
		pk := d.pk.fieldValue(p.Elem())
		byPK[normKey(pk)] = p
		keys = append(keys, pk)
		p.Elem().Field(rel.index).Set(reflect.MakeSlice(sliceType, 0, 0))
	}
	children, err := fetchRelated(ctx, ex, rel.target, rel.FKColumn, keys, true)
	if err != nil {
		return err
	}
	fk := rel.target.byName[rel.FKColumn]
	for _, c := range children {
		v := fk.fieldValue(c.Elem())
		if v == nil {
			continue
		}
		parent, ok := byPK[normKey(v)]
		if !ok {
			continue
		}
		field := parent.Elem().Field(rel.index)
		field.Set(reflect.Append(field, c))
	}
	return nil
}
