package db

import (
	"fmt"
	"strings"

	"github.com/ArkLabsHQ/lnswap/internal/core/domain"
	badgerdb "github.com/ArkLabsHQ/lnswap/internal/infrastructure/db/badger"
	"github.com/dgraph-io/badger/v4"
)

var allowedTypes = strings.Join([]string{"badger"}, ",")

type ServiceConfig struct {
	DbType   string
	DbConfig []any
}

// NewSwapRepository opens the swap archive for the configured backend.
// For badger, DbConfig is [baseDir string, logger badger.Logger], an empty
// baseDir keeps the archive in memory.
func NewSwapRepository(config ServiceConfig) (domain.SwapRepository, error) {
	switch config.DbType {
	case "badger":
		if len(config.DbConfig) != 2 {
			return nil, fmt.Errorf("badger db config must have 2 elements, got %d", len(config.DbConfig))
		}
		baseDir, ok := config.DbConfig[0].(string)
		if !ok {
			return nil, fmt.Errorf("invalid base directory")
		}
		var logger badger.Logger
		if config.DbConfig[1] != nil {
			logger, ok = config.DbConfig[1].(badger.Logger)
			if !ok {
				return nil, fmt.Errorf("invalid logger")
			}
		}
		repo, err := badgerdb.NewSwapRepository(baseDir, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to open swap db: %s", err)
		}
		return repo, nil
	default:
		return nil, fmt.Errorf("unknown db type %s, must be one of: %s", config.DbType, allowedTypes)
	}
}
