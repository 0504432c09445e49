// Package driver wraps database/sql access to SQLite behind a small
// connection-oriented API.
//
// All work happens on an explicitly acquired Conn, so in-memory databases
// and transaction state behave predictably instead of hopping between pool
// connections. Atomic provides nested transactions backed by savepoints.
package driver
