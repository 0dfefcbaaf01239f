package main

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/geografi/enrich-cli/internal/store"
)

// initStore opens the SQLite cache at the configured (or overridden) path
// and ensures the schema exists.
func initStore(ctx context.Context, path string) (store.Store, error) {
	if path == "" {
		path = cfg.Cache.Path
	}
	st, err := store.NewSQLite(path)
	if err != nil {
		return nil, eris.Wrapf(err, "open cache %s", path)
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close() //nolint:errcheck
		return nil, err
	}
	return st, nil
}
