// Package history persists a record of every job that reached a terminal
// state.
//
// The store is a small SQLite database opened in WAL mode so the CLI can read
// history while a download is still being recorded. It is an audit log only:
// nothing here is replayed on startup and no job is resumed from it.
package history
