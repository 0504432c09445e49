package orm

import "fmt"

// DoesNotExistError reports a lookup that matched no rows.
type DoesNotExistError struct {
	Model string
}

func (e *DoesNotExistError) Error() string {
	return fmt.Sprintf("%s matching query does not exist", e.Model)
}

// MultipleObjectsReturnedError reports a single-object lookup that matched
// more than one row.
type MultipleObjectsReturnedError struct {
	Model string
}

func (e *MultipleObjectsReturnedError) Error() string {
	return fmt.Sprintf("get on %s returned more than one object", e.Model)
}

// UnregisteredModelError reports use of a struct type that was never
// registered.
type UnregisteredModelError struct {
	Type string
}

func (e *UnregisteredModelError) Error() string {
	return fmt.Sprintf("model %s is not registered", e.Type)
}

// DuplicateTableError reports two model types claiming the same table.
type DuplicateTableError struct {
	Table    string
	Existing string
}

func (e *DuplicateTableError) Error() string {
	return fmt.Sprintf("table %q is already registered to %s", e.Table, e.Existing)
}

// RegistrationSealedError reports a Register call after the registry was
// sealed by Seal or by the first query compilation.
type RegistrationSealedError struct {
	Type string
}

func (e *RegistrationSealedError) Error() string {
	return fmt.Sprintf("cannot register %s: registry is sealed", e.Type)
}

// InvalidArgumentError reports misuse of the query API, such as a negative
// limit, a filterless bulk write, or select-related on a to-many relation.
type InvalidArgumentError struct {
	Detail string
	cause  error
}

func (e *InvalidArgumentError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.Detail, e.cause)
	}
	return e.Detail
}

func (e *InvalidArgumentError) Unwrap() error { return e.cause }

// ModelDefinitionError reports a struct that cannot be mapped, such as an
// unsupported field type or a missing primary key.
type ModelDefinitionError struct {
	Type   string
	Field  string
	Detail string
}

func (e *ModelDefinitionError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("model %s field %s: %s", e.Type, e.Field, e.Detail)
	}
	return fmt.Sprintf("model %s: %s", e.Type, e.Detail)
}
