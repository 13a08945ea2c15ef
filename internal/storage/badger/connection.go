package badger

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	badgerdb "github.com/dgraph-io/badger/v4"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/curro/internal/common"
	"github.com/timshannon/badgerhold/v4"
)

// DefaultGCInterval is how often the value log garbage collector runs
const DefaultGCInterval = 10 * time.Minute

// BadgerDB manages the Badger database connection
type BadgerDB struct {
	store  *badgerhold.Store
	logger arbor.ILogger
	config *common.BadgerConfig
	stopGC chan struct{}
}

// NewBadgerDB creates a new Badger database connection
func NewBadgerDB(logger arbor.ILogger, config *common.BadgerConfig) (*BadgerDB, error) {
	if logger == nil {
		logger = arbor.NewLogger()
	}

	// If reset_on_startup is enabled, delete the existing ledger
	if config.ResetOnStartup {
		if _, err := os.Stat(config.Path); err == nil {
			logger.Debug().Str("path", config.Path).Msg("Deleting existing database (reset_on_startup=true)")
			if err := os.RemoveAll(config.Path); err != nil {
				logger.Warn().Err(err).Str("path", config.Path).Msg("Failed to delete database directory")
			}
		}
	}

	// Ensure the directory exists
	dir := filepath.Dir(config.Path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	logger.Debug().Str("path", config.Path).Msg("Opening Badger database connection")

	options := badgerhold.DefaultOptions
	options.Dir = config.Path
	options.ValueDir = config.Path
	options.Logger = nil // Disable default badger logger to use arbor

	store, err := badgerhold.Open(options)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger database: %w", err)
	}

	logger.Debug().Str("path", config.Path).Msg("Badger database initialized")

	db := &BadgerDB{
		store:  store,
		logger: logger,
		config: config,
		stopGC: make(chan struct{}),
	}

	// Badgerhold never garbage collects the value log; reclaim space
	// on an interval while the store is open.
	common.SafeGo(logger, "badger-gc", db.runGC)

	return db, nil
}

func (b *BadgerDB) runGC() {
	ticker := time.NewTicker(DefaultGCInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			b.collectValueLog()
		case <-b.stopGC:
			return
		}
	}
}

// collectValueLog rewrites value log files until a pass reclaims nothing
func (b *BadgerDB) collectValueLog() {
	for {
		err := b.store.Badger().RunValueLogGC(0.5)
		if err == nil {
			continue
		}
		if !errors.Is(err, badgerdb.ErrNoRewrite) {
			b.logger.Warn().Err(err).Msg("Value log GC failed")
		}
		return
	}
}

// Store returns the underlying badgerhold store
func (b *BadgerDB) Store() *badgerhold.Store {
	return b.store
}

// Close stops the garbage collector and closes the database connection
func (b *BadgerDB) Close() error {
	if b.stopGC != nil {
		close(b.stopGC)
		b.stopGC = nil
	}
	if b.store != nil {
		return b.store.Close()
	}
	return nil
}
