package database

import (
	"fmt"

	"forum-comms/internal/common/config"

	"github.com/dgraph-io/badger/v4"
)

// NewBadger opens the embedded document store used for chat rooms and messages.
func NewBadger(cfg config.BadgerConfig) (*badger.DB, error) {
	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithLoggingLevel(badger.ERROR)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger at %q: %w", cfg.Path, err)
	}
	return db, nil
}
