package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cwrk-planet/room-client/internal/snapshot"
)

/*
абстрактный слой над *pgxpool.Pool / pgx.Tx,
в тестах подменяется фейком
*/
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type SnapshotRepo struct {
	q         querier
	pool      *pgxpool.Pool
	namespace string
}

func NewSnapshotRepo(pool *pgxpool.Pool, namespace string) *SnapshotRepo {
	r := newSnapshotRepo(pool, namespace)
	r.pool = pool
	return r
}

func newSnapshotRepo(q querier, namespace string) *SnapshotRepo {
	if namespace == "" {
		namespace = snapshot.Namespace
	}
	return &SnapshotRepo{q: q, namespace: namespace}
}

// EnsureSchema creates the snapshots table when it is missing.
func (r *SnapshotRepo) EnsureSchema(ctx context.Context) error {
	if _, err := r.q.Exec(ctx, createSnapshotsTable); err != nil {
		return fmt.Errorf("postgres: create client_snapshots: %w", err)
	}
	return nil
}

func (r *SnapshotRepo) Load(ctx context.Context) (snapshot.Snapshot, bool, error) {
	var payload []byte
	err := r.q.QueryRow(ctx, selectSnapshot, r.namespace).Scan(&payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return snapshot.Snapshot{}, false, nil
	}
	if err != nil {
		return snapshot.Snapshot{}, false, fmt.Errorf("postgres: load snapshot: %w", err)
	}

	snap, err := snapshot.Decode(payload)
	if err != nil {
		return snapshot.Snapshot{}, false, err
	}
	return snap, true, nil
}

func (r *SnapshotRepo) Save(ctx context.Context, snap snapshot.Snapshot) error {
	b, err := snapshot.Encode(snap)
	if err != nil {
		return err
	}
	if _, err := r.q.Exec(ctx, upsertSnapshot, r.namespace, b); err != nil {
		return fmt.Errorf("postgres: save snapshot: %w", err)
	}
	return nil
}

func (r *SnapshotRepo) Clear(ctx context.Context) error {
	if _, err := r.q.Exec(ctx, deleteSnapshot, r.namespace); err != nil {
		return fmt.Errorf("postgres: clear snapshot: %w", err)
	}
	return nil
}

// Close closes the pool if the repo owns one.
func (r *SnapshotRepo) Close() error {
	if r.pool != nil {
		r.pool.Close()
	}
	return nil
}
