// Package testutil wires in-memory chain components for tests across the
// module. Never import this in production code.
package testutil

import (
	"github.com/tolelom/bidchain/storage"
)

// NewMemDB returns an empty LevelDB held in memory.
func NewMemDB() *storage.LevelDB {
	db, err := storage.NewMemLevelDB()
	if err != nil {
		panic(err)
	}
	return db
}

// NewMemBlockStore returns a block store over a fresh in-memory DB.
func NewMemBlockStore() *storage.LevelBlockStore {
	return storage.NewLevelBlockStore(NewMemDB())
}

// NewStateDB returns a StateDB over a fresh in-memory DB.
func NewStateDB() *storage.StateDB {
	return storage.NewStateDB(NewMemDB())
}
