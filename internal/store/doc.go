// Package store provides the shared SQLite persistence layer: connection
// setup, schema migrations, scan helpers, and history archive export. The
// snapshot, sandbox, and workflow stores all operate on one database opened
// here.
package store
