package cases

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const pgSchema = `
CREATE TABLE IF NOT EXISTS cases (
	id           text PRIMARY KEY,
	doc          jsonb NOT NULL,
	created_at   timestamptz NOT NULL,
	last_updated timestamptz NOT NULL
)`

// PGStore persists each case as a JSONB document in Postgres. Updates are
// serialized per case id in-process; the document is the source of truth,
// the timestamp columns exist for operator queries.
type PGStore struct {
	pool    *pgxpool.Pool
	factory Factory
	logger  *slog.Logger
	locks   *KeyedMutex
}

func NewPGStore(ctx context.Context, log *slog.Logger, pool *pgxpool.Pool, factory Factory) (*PGStore, error) {
	s := &PGStore{
		pool:    pool,
		factory: factory,
		logger:  log.With(slog.String("service", "case_store")),
		locks:   NewKeyedMutex(),
	}
	if _, err := pool.Exec(ctx, pgSchema); err != nil {
		return nil, fmt.Errorf("ensure cases schema: %w", err)
	}
	return s, nil
}

func (s *PGStore) Get(ctx context.Context, id string) (Case, bool, error) {
	var doc []byte
	err := s.pool.QueryRow(ctx, `SELECT doc FROM cases WHERE id = $1`, id).Scan(&doc)
	if errors.Is(err, pgx.ErrNoRows) {
		return Case{}, false, nil
	}
	if err != nil {
		return Case{}, false, fmt.Errorf("get case %s: %w", id, err)
	}
	var c Case
	if err := json.Unmarshal(doc, &c); err != nil {
		return Case{}, false, fmt.Errorf("decode case %s: %w", id, err)
	}
	return c, true, nil
}

func (s *PGStore) Create(ctx context.Context, id string) (Case, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	if c, ok, err := s.Get(ctx, id); err != nil {
		return Case{}, err
	} else if ok {
		return c, nil
	}

	c := s.factory(id)
	doc, err := json.Marshal(c)
	if err != nil {
		return Case{}, fmt.Errorf("encode case %s: %w", id, err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO cases (id, doc, created_at, last_updated)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (id) DO NOTHING`,
		id, doc, c.CreatedAt, c.LastUpdated)
	if err != nil {
		return Case{}, fmt.Errorf("create case %s: %w", id, err)
	}
	// Re-read in case a concurrent writer on another instance won the insert.
	stored, ok, err := s.Get(ctx, id)
	if err != nil {
		return Case{}, err
	}
	if !ok {
		return Case{}, fmt.Errorf("create case %s: row missing after insert", id)
	}
	return stored, nil
}

func (s *PGStore) Update(ctx context.Context, id string, fn Mutator) (Case, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	c, ok, err := s.Get(ctx, id)
	if err != nil {
		return Case{}, err
	}
	if !ok {
		return Case{}, ErrNotFound
	}
	if err := fn(&c); err != nil {
		return Case{}, err
	}
	c.LastUpdated = time.Now().UTC()
	doc, err := json.Marshal(c)
	if err != nil {
		return Case{}, fmt.Errorf("encode case %s: %w", id, err)
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE cases SET doc = $2, last_updated = $3 WHERE id = $1`,
		id, doc, c.LastUpdated)
	if err != nil {
		return Case{}, fmt.Errorf("update case %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return Case{}, ErrNotFound
	}
	return c, nil
}

func (s *PGStore) ListAll(ctx context.Context) ([]Case, error) {
	rows, err := s.pool.Query(ctx, `SELECT doc FROM cases ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list cases: %w", err)
	}
	defer rows.Close()

	var out []Case
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("scan case: %w", err)
		}
		var c Case
		if err := json.Unmarshal(doc, &c); err != nil {
			s.logger.Warn("skipping undecodable case row", slog.Any("error", err))
			continue
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
