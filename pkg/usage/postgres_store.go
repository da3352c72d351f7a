package usage

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const recordColumns = `id, user_id, resource, period_key, period_start, period_end, used, created_at, updated_at`

const (
	insertRecordSQL = `
INSERT INTO usage_records (id, user_id, resource, period_key, period_start, period_end)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (id) DO NOTHING`

	selectRecordSQL = `SELECT ` + recordColumns + ` FROM usage_records WHERE id = $1`

	// $3 is the largest used value that still admits $2.
	consumeSQL = `
WITH rec AS (
	UPDATE usage_records
	SET used = used + $2, updated_at = now()
	WHERE id = $1 AND used <= $3
	RETURNING ` + recordColumns + `
), granted AS (
	INSERT INTO usage_consumptions (id, record_id, amount, expires_at)
	SELECT $4, id, $2, $5 FROM rec
)
SELECT ` + recordColumns + ` FROM rec`

	releaseSQL = `
WITH released AS (
	UPDATE usage_consumptions
	SET released_at = now()
	WHERE id = $3 AND record_id = $1 AND amount = $2 AND released_at IS NULL
	RETURNING record_id, amount
)
UPDATE usage_records r
SET used = r.used - released.amount, updated_at = now()
FROM released
WHERE r.id = released.record_id
RETURNING r.id, r.user_id, r.resource, r.period_key, r.period_start, r.period_end, r.used, r.created_at, r.updated_at`

	grantExistsSQL = `
SELECT EXISTS (SELECT 1 FROM usage_consumptions WHERE id = $3 AND record_id = $1 AND amount = $2)`

	pruneGrantsSQL = `DELETE FROM usage_consumptions WHERE expires_at <= $1`
)

// PostgresStore keeps records in the usage_records table and grants in
// usage_consumptions. The schema is created by the embedded migrations, see
// pkg/pg. Expired grants are removed by PruneGrants.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore returns a ledger backed by pool.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) GetOrCreate(ctx context.Context, key RecordKey, period Period) (Record, error) {
	if err := s.ensure(ctx, key, period); err != nil {
		return Record{}, err
	}
	return s.Get(ctx, key)
}

func (s *PostgresStore) Consume(ctx context.Context, c Consumption, period Period, limit int64) (Record, bool, error) {
	if !validAmount(c.Amount) {
		return Record{}, false, ErrInvalidAmount
	}
	key := c.Key()
	if err := s.ensure(ctx, key, period); err != nil {
		return Record{}, false, err
	}

	r := room(c.Amount, limit)
	if r < 0 {
		current, err := s.Get(ctx, key)
		return current, false, err
	}

	rec, err := s.queryRecord(ctx, consumeSQL, key.String(), c.Amount, r, c.ID, grantExpiry(period))
	switch {
	case err == nil:
		return rec, true, nil
	case errors.Is(err, pgx.ErrNoRows):
		current, err := s.Get(ctx, key)
		return current, false, err
	default:
		return Record{}, false, errors.Join(ErrStoreFailure, err)
	}
}

func (s *PostgresStore) Release(ctx context.Context, c Consumption) (Record, bool, error) {
	if !validAmount(c.Amount) {
		return Record{}, false, ErrInvalidAmount
	}

	id := c.Key().String()
	rec, err := s.queryRecord(ctx, releaseSQL, id, c.Amount, c.ID)
	switch {
	case err == nil:
		return rec, true, nil
	case !errors.Is(err, pgx.ErrNoRows):
		return Record{}, false, errors.Join(ErrStoreFailure, err)
	}

	current, err := s.Get(ctx, c.Key())
	if err != nil {
		return Record{}, false, err
	}
	var granted bool
	if err := s.pool.QueryRow(ctx, grantExistsSQL, id, c.Amount, c.ID).Scan(&granted); err != nil {
		return Record{}, false, errors.Join(ErrStoreFailure, err)
	}
	if !granted {
		return current, false, ErrConsumptionNotFound
	}
	return current, false, nil
}

// PruneGrants deletes grants whose retention ended before now and reports
// how many were removed.
func (s *PostgresStore) PruneGrants(ctx context.Context, now time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, pruneGrantsSQL, now.UTC())
	if err != nil {
		return 0, errors.Join(ErrStoreFailure, err)
	}
	return tag.RowsAffected(), nil
}

func (s *PostgresStore) Get(ctx context.Context, key RecordKey) (Record, error) {
	rec, err := s.queryRecord(ctx, selectRecordSQL, key.String())
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, ErrRecordNotFound
		}
		return Record{}, errors.Join(ErrStoreFailure, err)
	}
	return rec, nil
}

func (s *PostgresStore) ensure(ctx context.Context, key RecordKey, period Period) error {
	_, err := s.pool.Exec(ctx, insertRecordSQL,
		key.String(), key.UserID, string(key.Resource), key.PeriodKey, period.Start, period.End)
	if err != nil {
		return errors.Join(ErrStoreFailure, err)
	}
	return nil
}

func (s *PostgresStore) queryRecord(ctx context.Context, sql string, args ...any) (Record, error) {
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return Record{}, err
	}
	rec, err := pgx.CollectExactlyOneRow(rows, pgx.RowToStructByName[Record])
	if err != nil {
		return Record{}, err
	}
	rec.PeriodStart = rec.PeriodStart.UTC()
	rec.PeriodEnd = rec.PeriodEnd.UTC()
	return rec, nil
}

var _ Store = (*PostgresStore)(nil)
