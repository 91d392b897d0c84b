// Package pg wires treestore.Repository, analysisstore.Repository, and
// measurestore.Repository against Postgres via pgx/v5, using the CIDR
// containment operators named in spec §6 (`<<=`, `>>=`, `=`).
package pg

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/hexmap/aggregator/internal/schedule"
	"github.com/hexmap/aggregator/internal/store/analysisstore"
	"github.com/hexmap/aggregator/internal/store/archive"
	"github.com/hexmap/aggregator/internal/store/measurestore"
	"github.com/hexmap/aggregator/internal/store/treestore"
)

// querier is the subset of *pgxpool.Pool and pgx.Tx every repo needs,
// letting a repo bind to either the ambient pool or an open transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Pool wraps a pgxpool.Pool with the logger every repository shares.
type Pool struct {
	db  *pgxpool.Pool
	log *zap.Logger
}

// Open connects to dsn and verifies reachability with a ping.
func Open(ctx context.Context, dsn string, log *zap.Logger) (*Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("pg: parse dsn: %w", err)
	}

	db, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("pg: connect: %w", err)
	}
	if err := db.Ping(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pg: ping: %w", err)
	}

	return &Pool{db: db, log: log}, nil
}

// Close releases the pool.
func (p *Pool) Close() {
	p.db.Close()
}

// Tx is a started transaction exposing the same repo constructors as
// Pool, so a caller can group a tree/measure/analysis mutation into one
// commit (spec §4.H: "all mutations run inside a single transaction per
// response").
type Tx struct {
	tx  pgx.Tx
	log *zap.Logger
}

func (t *Tx) TreeRepo() treestore.Repository         { return &TreeRepo{q: t.tx, log: t.log} }
func (t *Tx) MeasureRepo() measurestore.Repository   { return &MeasureRepo{q: t.tx, log: t.log} }
func (t *Tx) AnalysisRepo() analysisstore.Repository { return &AnalysisRepo{q: t.tx, log: t.log} }
func (t *Tx) ArchiveRepo() archive.Repository        { return &ArchiveRepo{q: t.tx, log: t.log} }

// WithTx begins a transaction, hands it to fn, and commits on success or
// rolls back on any returned error.
func (p *Pool) WithTx(ctx context.Context, fn func(ctx context.Context, tx *Tx) error) error {
	pgxTx, err := p.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("pg: begin tx: %w", err)
	}
	defer func() {
		if rbErr := pgxTx.Rollback(ctx); rbErr != nil && rbErr != pgx.ErrTxClosed && p.log != nil {
			p.log.Debug("tx rollback", zap.Error(rbErr))
		}
	}()

	if err := fn(ctx, &Tx{tx: pgxTx, log: p.log}); err != nil {
		return err
	}
	if err := pgxTx.Commit(ctx); err != nil {
		return fmt.Errorf("pg: commit tx: %w", err)
	}
	return nil
}

// TreeRepo returns a treestore.Repository bound directly to the pool,
// for read-only callers outside a transaction (e.g. the scheduler).
func (p *Pool) TreeRepo() treestore.Repository {
	return &TreeRepo{q: p.db, log: p.log}
}

// MeasureRepo returns a measurestore.Repository bound directly to the
// pool.
func (p *Pool) MeasureRepo() measurestore.Repository {
	return &MeasureRepo{q: p.db, log: p.log}
}

// AnalysisRepo returns an analysisstore.Repository bound directly to the
// pool.
func (p *Pool) AnalysisRepo() analysisstore.Repository {
	return &AnalysisRepo{q: p.db, log: p.log}
}

// ArchiveRepo returns an archive.Repository bound directly to the pool.
func (p *Pool) ArchiveRepo() archive.Repository {
	return &ArchiveRepo{q: p.db, log: p.log}
}

// ScheduleRepo returns a schedule.Repository bound directly to the pool,
// for the analysis-timer scheduler (it never runs inside a response
// transaction).
func (p *Pool) ScheduleRepo() schedule.Repository {
	return &ScheduleRepo{q: p.db, log: p.log}
}
