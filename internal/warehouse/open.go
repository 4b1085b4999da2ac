package warehouse

import (
	"context"

	"github.com/rotisserie/eris"
)

// Open returns the backend named by driver ("postgres" or "sqlite").
func Open(ctx context.Context, driver, dsn string, poolCfg *PoolConfig) (Warehouse, error) {
	switch driver {
	case "postgres", "":
		return NewPostgres(ctx, dsn, poolCfg)
	case "sqlite":
		return NewSQLite(dsn)
	default:
		return nil, eris.Errorf("warehouse: unknown driver %q", driver)
	}
}
