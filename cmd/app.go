package main

import (
	"context"
	"encoding/json"
	"io"

	"github.com/rotisserie/eris"

	"github.com/sells-group/leadgen/internal/leadgen"
	"github.com/sells-group/leadgen/internal/store"
)

func initStore(ctx context.Context) (store.Store, error) {
	var (
		st  store.Store
		err error
	)
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "leadgen.db"
		}
		st, err = store.NewSQLite(dsn)
	case "postgres":
		st, err = store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{MaxConns: int32(cfg.Store.MaxConns)})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}
	return st, nil
}

// appEnv bundles the store and controller a command works with.
type appEnv struct {
	Store      store.Store
	Controller *leadgen.Controller
}

func (e *appEnv) Close() {
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// initApp opens the store and wires a controller. Commands that never run
// jobs pass withDeps=false and skip collaborator construction.
func initApp(ctx context.Context, mode string, withDeps bool) (*appEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	var deps leadgen.Deps
	if withDeps {
		deps, err = leadgen.BuildDeps(cfg, st)
		if err != nil {
			_ = st.Close()
			return nil, eris.Wrap(err, "build dependencies")
		}
	}
	return &appEnv{Store: st, Controller: leadgen.NewController(st, deps)}, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
