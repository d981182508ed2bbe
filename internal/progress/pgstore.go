package progress

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// PGStore keeps records in Postgres for deployments where the progress file
// would live on ephemeral disk. One row per workflow; the commit runs in a
// transaction with a row lock so concurrent runners cannot interleave.
type PGStore struct {
	db *sql.DB
}

func NewPGStore(dsn string) (*PGStore, error) {
	if dsn == "" {
		return nil, fmt.Errorf("dsn is empty")
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	s := &PGStore{db: db}
	if err := s.migrate(context.Background()); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *PGStore) migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
create table if not exists badgehunter_progress (
  name text primary key,
  payload jsonb not null,
  version int not null,
  updated_at timestamptz not null
);
`)
	return err
}

func (s *PGStore) Load(ctx context.Context, name string) (Record, bool, error) {
	var raw []byte
	err := s.db.QueryRowContext(ctx, `select payload from badgehunter_progress where name=$1`, name).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, err
	}
	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return Record{}, false, fmt.Errorf("decode record %q: %w", name, err)
	}
	return rec, true, nil
}

func (s *PGStore) Commit(ctx context.Context, name string, mut Mutation) (Record, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Record{}, err
	}
	defer tx.Rollback()

	var rec Record
	var raw []byte
	err = tx.QueryRowContext(ctx, `select payload from badgehunter_progress where name=$1 for update`, name).Scan(&raw)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return Record{}, err
	default:
		if err := json.Unmarshal(raw, &rec); err != nil {
			return Record{}, fmt.Errorf("decode record %q: %w", name, err)
		}
	}

	next, err := apply(rec, name, mut, time.Now().UTC())
	if err != nil {
		return Record{}, err
	}
	payload, err := json.Marshal(next)
	if err != nil {
		return Record{}, err
	}
	_, err = tx.ExecContext(ctx, `insert into badgehunter_progress (name, payload, version, updated_at)
values ($1,$2,$3,$4)
on conflict (name) do update set payload = excluded.payload, version = excluded.version, updated_at = excluded.updated_at`,
		name, payload, next.Version, next.UpdatedAt)
	if err != nil {
		return Record{}, err
	}
	if err := tx.Commit(); err != nil {
		return Record{}, err
	}
	return next, nil
}

func (s *PGStore) All(ctx context.Context) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, `select payload from badgehunter_progress order by name asc`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Record
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var rec Record
		if err := json.Unmarshal(raw, &rec); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *PGStore) Close(ctx context.Context) error {
	return s.db.Close()
}
