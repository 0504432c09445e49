package orm

import (
	"reflect"
	"time"

	"github.com/google/uuid"

	"github.com/CaliLuke/go-relq/sqlast"
)

// TableNamer lets a model type override its derived table name.
type TableNamer interface {
	TableName() string
}

// FieldDesc describes one mapped struct field.
type FieldDesc struct {
	// Name is the column name; fields are addressed by it in queries.
	Name     string
	Kind     sqlast.Kind
	Nullable bool
	PK       bool
	Unique   bool
	AutoIncr bool

	index  int
	goType reflect.Type
}

// RelKind distinguishes relation cardinalities.
type RelKind int

const (
	// RelToOne is a pointer field with the foreign key on this table.
	RelToOne RelKind = iota
	// RelToMany is a slice field with the foreign key on the target table.
	RelToMany
)

// RelDesc describes one declared relation.
type RelDesc struct {
	Name     string
	Kind     RelKind
	FKColumn string

	index      int
	targetType reflect.Type
	target     *Descriptor // resolved when the registry is sealed
}

// Target returns the descriptor of the related model. It is only valid
// after the registry has been sealed.
func (r *RelDesc) Target() *Descriptor { return r.target }

// Descriptor is the mapped form of one model struct. It implements
// sqlast.Schema, so the compiler can resolve field names against it.
type Descriptor struct {
	table  string
	goType reflect.Type

	fields []*FieldDesc
	byName map[string]*FieldDesc
	pk     *FieldDesc

	rels      []*RelDesc
	relByName map[string]*RelDesc
}

// Table returns the table name.
func (d *Descriptor) Table() string { return d.table }

// Column resolves a field name for the compiler.
func (d *Descriptor) Column(name string) (sqlast.Column, bool) {
	fd, ok := d.byName[name]
	if !ok {
		return sqlast.Column{}, false
	}
	return sqlast.Column{Name: fd.Name, Kind: fd.Kind, Nullable: fd.Nullable}, true
}

// GoType returns the mapped struct type.
func (d *Descriptor) GoType() reflect.Type { return d.goType }

// PK returns the primary key field.
func (d *Descriptor) PK() *FieldDesc { return d.pk }

// Field resolves a field descriptor by column name.
func (d *Descriptor) Field(name string) (*FieldDesc, bool) {
	fd, ok := d.byName[name]
	return fd, ok
}

// Fields returns the mapped fields in declaration order.
func (d *Descriptor) Fields() []*FieldDesc { return d.fields }

// Rel resolves a relation by name.
func (d *Descriptor) Rel(name string) (*RelDesc, bool) {
	r, ok := d.relByName[name]
	return r, ok
}

// columnNames returns all column names in declaration order.
func (d *Descriptor) columnNames() []string {
	names := make([]string, len(d.fields))
	for i, fd := range d.fields {
		names[i] = fd.Name
	}
	return names
}

var (
	timeType = reflect.TypeOf(time.Time{})
	uuidType = reflect.TypeOf(uuid.UUID{})
)

// fieldKind maps a Go type to its column kind. Pointer types mark the
// column nullable.
func fieldKind(t reflect.Type) (sqlast.Kind, bool, bool) {
	nullable := false
	if t.Kind() == reflect.Ptr {
		nullable = true
		t = t.Elem()
	}
	switch t {
	case timeType:
		return sqlast.KindTime, nullable, true
	case uuidType:
		return sqlast.KindUUID, nullable, true
	}
	switch t.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return sqlast.KindInt, nullable, true
	case reflect.Float32, reflect.Float64:
		return sqlast.KindFloat, nullable, true
	case reflect.String:
		return sqlast.KindString, nullable, true
	case reflect.Bool:
		return sqlast.KindBool, nullable, true
	case reflect.Slice:
		if t.Elem().Kind() == reflect.Uint8 {
			return sqlast.KindBytes, nullable, true
		}
	}
	return 0, false, false
}

// describe builds a Descriptor for a struct type by walking its fields.
func describe(t reflect.Type) (*Descriptor, error) {
	if t.Kind() != reflect.Struct {
		return nil, &ModelDefinitionError{Type: t.String(), Detail: "model must be a struct type"}
	}
	d := &Descriptor{
		goType:    t,
		byName:    make(map[string]*FieldDesc),
		relByName: make(map[string]*RelDesc),
	}

	d.table = toSnake(t.Name()) + "s"
	if namer, ok := reflect.New(t).Interface().(TableNamer); ok {
		d.table = namer.TableName()
	}

	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		if !sf.IsExported() {
			continue
		}
		if relStr, ok := sf.Tag.Lookup("rel"); ok {
			rd, err := buildRel(t, sf, relStr)
			if err != nil {
				return nil, err
			}
			rd.index = i
			if _, dup := d.relByName[rd.Name]; dup {
				return nil, &ModelDefinitionError{Type: t.Name(), Field: sf.Name,
					Detail: "duplicate relation name " + rd.Name}
			}
			d.rels = append(d.rels, rd)
			d.relByName[rd.Name] = rd
			continue
		}
		tagStr := sf.Tag.Get("db")
		ft, err := parseFieldTag(tagStr)
		if err != nil {
			return nil, &ModelDefinitionError{Type: t.Name(), Field: sf.Name, Detail: err.Error()}
		}
		if ft.Skip || tagStr == "" {
			continue
		}
		kind, nullable, ok := fieldKind(sf.Type)
		if !ok {
			return nil, &ModelDefinitionError{Type: t.Name(), Field: sf.Name,
				Detail: "unsupported field type " + sf.Type.String()}
		}
		fd := &FieldDesc{
			Name:     ft.Name,
			Kind:     kind,
			Nullable: nullable,
			PK:       ft.PK,
			Unique:   ft.Unique,
			AutoIncr: ft.AutoIncr,
			index:    i,
			goType:   sf.Type,
		}
		if _, dup := d.byName[fd.Name]; dup {
			return nil, &ModelDefinitionError{Type: t.Name(), Field: sf.Name,
				Detail: "duplicate column name " + fd.Name}
		}
		d.fields = append(d.fields, fd)
		d.byName[fd.Name] = fd
		if fd.PK {
			if d.pk != nil {
				return nil, &ModelDefinitionError{Type: t.Name(), Field: sf.Name,
					Detail: "multiple primary key fields"}
			}
			d.pk = fd
		}
	}

	if d.pk == nil {
		return nil, &ModelDefinitionError{Type: t.Name(), Detail: "no primary key field declared"}
	}
	return d, nil
}

func buildRel(owner reflect.Type, sf reflect.StructField, tag string) (*RelDesc, error) {
	rt, err := parseRelTag(tag)
	if err != nil {
		return nil, &ModelDefinitionError{Type: owner.Name(), Field: sf.Name, Detail: err.Error()}
	}
	switch {
	case sf.Type.Kind() == reflect.Ptr && sf.Type.Elem().Kind() == reflect.Struct:
		return &RelDesc{
			Name:       rt.Name,
			Kind:       RelToOne,
			FKColumn:   rt.FK,
			targetType: sf.Type.Elem(),
		}, nil
	case sf.Type.Kind() == reflect.Slice && sf.Type.Elem().Kind() == reflect.Ptr &&
		sf.Type.Elem().Elem().Kind() == reflect.Struct:
		return &RelDesc{
			Name:       rt.Name,
			Kind:       RelToMany,
			FKColumn:   rt.FK,
			targetType: sf.Type.Elem().Elem(),
		}, nil
	}
	return nil, &ModelDefinitionError{Type: owner.Name(), Field: sf.Name,
		Detail: "relation fields must be *Target or []*Target"}
}

// fieldValue extracts the column value from an entity for binding.
// Nil pointers become nil, pointer fields are dereferenced.
func (fd *FieldDesc) fieldValue(entity reflect.Value) any {
	v := entity.Field(fd.index)
	if v.Kind() == reflect.Ptr {
		if v.IsNil() {
			return nil
		}
		v = v.Elem()
	}
	return v.Interface()
}
