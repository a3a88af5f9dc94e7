// Package store implements the persisted state layout: users, messages,
// handover tickets, calendar commitments, and custom-agent definitions.
// SQLiteStore is the only implementation;
// every other component depends on the Store interface, not on SQLite
// directly, so tests can substitute an in-memory database by opening
// NewSQLiteStore(":memory:", nil).
//
// Compare-and-swap points live here, not in callers: AcceptHandoverTicket
// and ConsumePendingUpload both return ErrConflict under a race rather
// than requiring the caller to read-then-write.
package store
