// Package gorelq provides a lazily-evaluated ORM core for SQLite.
//
// Define your entities as Go structs with struct tags, and get type-safe
// managers, an immutable chainable query builder, composable boolean and
// arithmetic expressions, and nested transactions with savepoint semantics.
//
// The module is organized into four packages:
//
//   - [github.com/CaliLuke/go-relq/sqlast]: expression/statement AST and the SQL compiler
//   - [github.com/CaliLuke/go-relq/orm]: registry, QuerySets, managers, eager loading, bulk writes
//   - [github.com/CaliLuke/go-relq/qparse]: condition-string parser producing sqlast trees
//   - [github.com/CaliLuke/go-relq/driver]: connection handling and nested transactions over database/sql
//
// The sqlast, orm, and qparse packages compile and test without a database
// on disk; integration tests run against in-memory SQLite.
package gorelq
