// Package storage persists the catalog between runs.
//
// It currently supports:
//   - Catalog state snapshots (books, shelves, stations, robot roster)
//   - Audit log appends (finished tasks)
package storage
