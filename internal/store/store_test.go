package store_test

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"

	"github.com/Clark-Hu/game-reviews/internal/store"
	"github.com/Clark-Hu/game-reviews/internal/store/storetest"
)

func countGames(t *testing.T, env *storetest.Env) int {
	t.Helper()
	var n int
	if err := env.Pool.QueryRow(env.Ctx, `SELECT count(*) FROM games`).Scan(&n); err != nil {
		t.Fatalf("count games: %v", err)
	}
	return n
}

func insertGame(ctx context.Context, tx pgx.Tx, name string) error {
	_, err := tx.Exec(ctx, `INSERT INTO games (name, release_date) VALUES ($1, '2020-01-01')`, name)
	return err
}

func TestWithTxCommitRollbackPanic(t *testing.T) {
	env := storetest.Start(t)
	st := env.Store

	if err := st.WithTx(env.Ctx, func(tx pgx.Tx) error {
		return insertGame(env.Ctx, tx, "committed")
	}); err != nil {
		t.Fatalf("WithTx commit: %v", err)
	}
	if got := countGames(t, env); got != 1 {
		t.Fatalf("after commit: %d games, want 1", got)
	}

	boom := errors.New("boom")
	err := st.WithTx(env.Ctx, func(tx pgx.Tx) error {
		if err := insertGame(env.Ctx, tx, "rolled back"); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("WithTx error = %v, want boom", err)
	}
	if got := countGames(t, env); got != 1 {
		t.Fatalf("after rollback: %d games, want 1", got)
	}

	func() {
		defer func() {
			if recover() == nil {
				t.Fatalf("panic was swallowed")
			}
		}()
		_ = st.WithTx(env.Ctx, func(tx pgx.Tx) error {
			if err := insertGame(env.Ctx, tx, "panicked"); err != nil {
				return err
			}
			panic("kaboom")
		})
	}()
	if got := countGames(t, env); got != 1 {
		t.Fatalf("after panic: %d games, want 1", got)
	}
}

func TestNewAndHealthCheck(t *testing.T) {
	env := storetest.Start(t)

	st, err := store.New(env.Ctx, env.DSN, store.Options{MaxConns: 4, MinConns: 1, StatementCacheCapacity: 16})
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	defer st.Close()

	if err := st.HealthCheck(env.Ctx); err != nil {
		t.Fatalf("HealthCheck: %v", err)
	}
	if st.Stats() == nil {
		t.Fatalf("Stats() returned nil")
	}

	var nilStore *store.Store
	if err := nilStore.HealthCheck(env.Ctx); err == nil {
		t.Fatalf("HealthCheck on nil store should fail")
	}
}
