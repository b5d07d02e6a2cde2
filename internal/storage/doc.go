// Package storage is the durable key-value surface behind lixiwatch's
// notifications, history and seen-event set.
//
// Every value is an opaque byte slice (callers write JSON arrays). Drivers:
//   - "memory": process-local map, used by tests and ephemeral runs
//   - "file":   one <key>.json file per key under a directory (tmp + rename)
//   - "sqlite": single kv table in a SQLite database file
//   - "postgres": single kv table, JSON snapshot per key
//   - "redis": one string per key under a prefix
//
// Writers are last-writer-wins: two processes sharing one store overwrite
// each other's snapshots.
package storage
