// Package orm maps Go structs to SQLite tables and provides lazily
// evaluated, immutable query sets over them.
package orm

import (
	"reflect"
	"sync"
)

// registry maps struct types to descriptors. Registration is two-phase:
// models register during initialization, then the registry seals and
// relation targets are resolved. The first query compilation seals
// automatically.
type registry struct {
	mu      sync.RWMutex
	byType  map[reflect.Type]*Descriptor
	byTable map[string]*Descriptor
	sealed  bool
}

var global = newRegistry()

func newRegistry() *registry {
	return &registry{
		byType:  make(map[reflect.Type]*Descriptor),
		byTable: make(map[string]*Descriptor),
	}
}

// Register maps the struct type T to a table. It must be called before the
// registry seals; registering two types onto one table is an error.
func Register[T any]() (*Descriptor, error) {
	t := reflect.TypeOf((*T)(nil)).Elem()
	return global.register(t)
}

// MustRegister calls Register and panics on error. Intended for package
// initialization.
func MustRegister[T any]() *Descriptor {
	d, err := Register[T]()
	if err != nil {
		panic(err)
	}
	return d
}

// Describe returns the descriptor for a registered type T.
func Describe[T any]() (*Descriptor, error) {
	t := reflect.TypeOf((*T)(nil)).Elem()
	return global.describeType(t)
}

// Seal resolves relation targets and freezes the registry. It is
// idempotent; later Register calls fail with RegistrationSealedError.
func Seal() error {
	return global.seal()
}

func (r *registry) register(t reflect.Type) (*Descriptor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sealed {
		return nil, &RegistrationSealedError{Type: t.Name()}
	}
	if d, ok := r.byType[t]; ok {
		return d, nil
	}
	d, err := describe(t)
	if err != nil {
		return nil, err
	}
	if existing, ok := r.byTable[d.table]; ok {
		return nil, &DuplicateTableError{Table: d.table, Existing: existing.goType.Name()}
	}
	r.byType[t] = d
	r.byTable[d.table] = d
	return d, nil
}

func (r *registry) describeType(t reflect.Type) (*Descriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.byType[t]
	if !ok {
		return nil, &UnregisteredModelError{Type: t.Name()}
	}
	return d, nil
}

func (r *registry) seal() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sealed {
		return nil
	}
	for _, d := range r.byType {
		for _, rel := range d.rels {
			target, ok := r.byType[rel.targetType]
			if !ok {
				return &UnregisteredModelError{Type: rel.targetType.Name()}
			}
			// The FK column lives on the owner for to-one relations and on
			// the target for to-many.
			fkHolder := d
			if rel.Kind == RelToMany {
				fkHolder = target
			}
			if _, ok := fkHolder.byName[rel.FKColumn]; !ok {
				return &ModelDefinitionError{Type: d.goType.Name(), Field: rel.Name,
					Detail: "fk column " + rel.FKColumn + " not found on " + fkHolder.table}
			}
			rel.target = target
		}
	}
	r.sealed = true
	return nil
}

// reset clears the registry. Tests only.
func (r *registry) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byType = make(map[reflect.Type]*Descriptor)
	r.byTable = make(map[string]*Descriptor)
	r.sealed = false
}
