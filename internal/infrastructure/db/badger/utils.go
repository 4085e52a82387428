package badgerdb

import (
	"errors"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	log "github.com/sirupsen/logrus"
	"github.com/timshannon/badgerhold/v4"
)

const valueLogGCInterval = 30 * time.Minute

// createDB opens a badgerhold store in dir, or in memory when dir is empty.
func createDB(dir string, logger badger.Logger) (*badgerhold.Store, error) {
	isInMemory := len(dir) <= 0

	opts := badger.DefaultOptions(dir)
	opts.Logger = logger
	if isInMemory {
		opts.InMemory = true
	} else {
		opts.Compression = options.ZSTD
	}

	store, err := badgerhold.Open(badgerhold.Options{
		Encoder: badgerhold.DefaultEncode,
		Decoder: badgerhold.DefaultDecode,
		Options: opts,
	})
	if err != nil {
		return nil, err
	}

	if !isInMemory {
		go runValueLogGC(store.Badger())
	}

	return store, nil
}

func runValueLogGC(db *badger.DB) {
	ticker := time.NewTicker(valueLogGCInterval)
	defer ticker.Stop()

	for range ticker.C {
		if db.IsClosed() {
			return
		}
		if err := db.RunValueLogGC(0.5); err != nil && !errors.Is(err, badger.ErrNoRewrite) {
			if errors.Is(err, badger.ErrRejected) {
				return
			}
			log.WithError(err).Warn("failed to run badger value log gc")
		}
	}
}
