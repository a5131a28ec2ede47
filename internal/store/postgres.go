// Package store persists aggregated cycle results for audit and trend reporting.
package store

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/openjobspec/ojs-operator-checks/internal/core"
)

// Postgres appends results to the balance_checks table.
type Postgres struct {
	db     *pgxpool.Pool
	logger *slog.Logger
}

// NewPostgres connects to dsn and ensures the schema exists.
func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	db, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	if err := db.Ping(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}
	if err := EnsureSchema(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("ensuring schema: %w", err)
	}
	return &Postgres{db: db, logger: slog.With("component", "store", "driver", "postgres")}, nil
}

func EnsureSchema(ctx context.Context, db *pgxpool.Pool) error {
	if db == nil {
		return nil
	}
	_, err := db.Exec(ctx, `
create table if not exists balance_checks (
  id bigserial primary key,
  stamp bigint not null,
  kind text not null,
  amount numeric not null,
  address text null,
  request_amount numeric null,
  created_at timestamptz not null default now()
);
create index if not exists balance_checks_stamp_idx on balance_checks (stamp);
create index if not exists balance_checks_kind_stamp_idx on balance_checks (kind, stamp desc);
`)
	return err
}

const insertResult = `
insert into balance_checks (stamp, kind, amount, address, request_amount)
values ($1, $2, $3::numeric, $4, $5::numeric)
`

// Append inserts each row on its own, so one bad row does not discard the
// rest of the cycle.
func (p *Postgres) Append(ctx context.Context, results []core.ProbeResult) (bool, error) {
	return appendEach(ctx, p.logger, results, func(ctx context.Context, r core.ProbeResult) error {
		_, err := p.db.Exec(ctx, insertResult, r.Stamp, r.Kind, r.Amount, nullableString(r.Address), nullableString(r.RequestAmount))
		return err
	})
}

// Recent returns the newest n results, newest first.
func (p *Postgres) Recent(ctx context.Context, n int) ([]core.ProbeResult, error) {
	rows, err := p.db.Query(ctx, `
select stamp, kind, amount::text, coalesce(address, ''), coalesce(request_amount::text, '')
from balance_checks
order by stamp desc, id desc
limit $1
`, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []core.ProbeResult
	for rows.Next() {
		var r core.ProbeResult
		if err := rows.Scan(&r.Stamp, &r.Kind, &r.Amount, &r.Address, &r.RequestAmount); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (p *Postgres) Close() error {
	p.db.Close()
	return nil
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
