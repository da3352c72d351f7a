package subscription

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dmitrymomot/smartml/pkg/pg"
)

const subscriptionColumns = `id, user_id, plan_id, status, period_start, period_end, renew,
cancelled_at, renewal_failed_at, payment_ref, version, created_at, updated_at`

const paymentColumns = `id, user_id, plan_id, amount, currency, gateway_txn_id, provider,
verified, status, subscription_id, paid_at, created_at, settled_at`

const (
	selectCurrentSQL = `SELECT ` + subscriptionColumns + ` FROM subscriptions WHERE user_id = $1`

	insertCurrentSQL = `INSERT INTO subscriptions (` + subscriptionColumns + `)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

	updateCurrentSQL = `
UPDATE subscriptions
SET plan_id = $3, status = $4, period_start = $5, period_end = $6, renew = $7,
    cancelled_at = $8, renewal_failed_at = $9, payment_ref = $10, updated_at = $11,
    version = version + 1
WHERE id = $1 AND version = $2`

	deleteCurrentSQL = `DELETE FROM subscriptions WHERE id = $1 AND version = $2`

	archiveSQL = `INSERT INTO subscription_history (` + subscriptionColumns + `)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
ON CONFLICT (id) DO NOTHING`

	selectHistorySQL = `SELECT ` + subscriptionColumns + ` FROM subscription_history
WHERE user_id = $1 ORDER BY archived_at DESC, updated_at DESC`

	selectDueSQL = `SELECT ` + subscriptionColumns + ` FROM subscriptions
WHERE status IN ('active', 'cancelled_pending') AND period_end <= $1 AND user_id > $2
ORDER BY user_id
LIMIT $3`

	insertPaymentSQL = `INSERT INTO payments (` + paymentColumns + `)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

	selectPaymentSQL = `SELECT ` + paymentColumns + ` FROM payments
WHERE provider = $1 AND gateway_txn_id = $2`

	settlePaymentSQL = `
UPDATE payments
SET settled_at = COALESCE(settled_at, $3),
    subscription_id = CASE WHEN settled_at IS NULL THEN $4::text ELSE subscription_id END
WHERE provider = $1 AND gateway_txn_id = $2`

	selectPaymentsSQL = `SELECT ` + paymentColumns + ` FROM payments
WHERE user_id = $1 ORDER BY created_at DESC, id DESC`
)

// PostgresStore keeps subscriptions in the subscriptions, subscription_history
// and payments tables created by the embedded migrations.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) Get(ctx context.Context, userID string) (*Subscription, error) {
	rows, err := s.pool.Query(ctx, selectCurrentSQL, userID)
	if err != nil {
		return nil, errors.Join(ErrStoreFailure, err)
	}
	sub, err := pgx.CollectExactlyOneRow(rows, pgx.RowToStructByName[Subscription])
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSubscriptionNotFound
		}
		return nil, errors.Join(ErrStoreFailure, err)
	}
	normalizeTimes(&sub)
	return &sub, nil
}

func (s *PostgresStore) Create(ctx context.Context, sub *Subscription) error {
	if _, err := s.pool.Exec(ctx, insertCurrentSQL, subscriptionArgs(sub)...); err != nil {
		if pg.IsDuplicateKeyError(err) {
			return ErrSubscriptionAlreadyExists
		}
		return errors.Join(ErrStoreFailure, err)
	}
	return nil
}

func (s *PostgresStore) Update(ctx context.Context, sub *Subscription) error {
	tag, err := s.pool.Exec(ctx, updateCurrentSQL,
		sub.ID, sub.Version, sub.PlanID, sub.Status, sub.PeriodStart, sub.PeriodEnd, sub.Renew,
		sub.CancelledAt, sub.RenewalFailedAt, sub.PaymentRef, sub.UpdatedAt,
	)
	if err != nil {
		return errors.Join(ErrStoreFailure, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrConcurrentUpdate
	}
	sub.Version++
	return nil
}

// Replace swaps the current subscription in one transaction.
func (s *PostgresStore) Replace(ctx context.Context, old, next *Subscription) error {
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, deleteCurrentSQL, old.ID, old.Version)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrConcurrentUpdate
		}
		if _, err := tx.Exec(ctx, archiveSQL, subscriptionArgs(old)...); err != nil {
			return err
		}
		_, err = tx.Exec(ctx, insertCurrentSQL, subscriptionArgs(next)...)
		return err
	})
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrConcurrentUpdate):
		return err
	case pg.IsDuplicateKeyError(err):
		return ErrConcurrentUpdate
	default:
		return errors.Join(ErrStoreFailure, err)
	}
}

func (s *PostgresStore) History(ctx context.Context, userID string) ([]Subscription, error) {
	return s.querySubscriptions(ctx, selectHistorySQL, userID)
}

func (s *PostgresStore) ListDue(ctx context.Context, now time.Time, afterUserID string, limit int) ([]Subscription, error) {
	if limit <= 0 {
		limit = DefaultSweepBatch
	}
	return s.querySubscriptions(ctx, selectDueSQL, now.UTC(), afterUserID, limit)
}

func (s *PostgresStore) RecordPayment(ctx context.Context, p *Payment) error {
	_, err := s.pool.Exec(ctx, insertPaymentSQL,
		p.ID, p.UserID, p.PlanID, p.Amount, p.Currency, p.GatewayTxnID, p.Provider,
		p.Verified, p.Status, p.SubscriptionID, p.PaidAt, p.CreatedAt, p.SettledAt,
	)
	if err != nil {
		if pg.IsDuplicateKeyError(err) {
			return ErrDuplicatePayment
		}
		return errors.Join(ErrStoreFailure, err)
	}
	return nil
}

func (s *PostgresStore) Payment(ctx context.Context, provider, gatewayTxnID string) (*Payment, error) {
	rows, err := s.pool.Query(ctx, selectPaymentSQL, provider, gatewayTxnID)
	if err != nil {
		return nil, errors.Join(ErrStoreFailure, err)
	}
	p, err := pgx.CollectExactlyOneRow(rows, pgx.RowToStructByName[Payment])
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPaymentNotFound
		}
		return nil, errors.Join(ErrStoreFailure, err)
	}
	normalizePayment(&p)
	return &p, nil
}

func (s *PostgresStore) SettlePayment(ctx context.Context, provider, gatewayTxnID, subscriptionID string, at time.Time) error {
	tag, err := s.pool.Exec(ctx, settlePaymentSQL, provider, gatewayTxnID, at.UTC(), subscriptionID)
	if err != nil {
		return errors.Join(ErrStoreFailure, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrPaymentNotFound
	}
	return nil
}

func (s *PostgresStore) Payments(ctx context.Context, userID string) ([]Payment, error) {
	rows, err := s.pool.Query(ctx, selectPaymentsSQL, userID)
	if err != nil {
		return nil, errors.Join(ErrStoreFailure, err)
	}
	out, err := pgx.CollectRows(rows, pgx.RowToStructByName[Payment])
	if err != nil {
		return nil, errors.Join(ErrStoreFailure, err)
	}
	for i := range out {
		normalizePayment(&out[i])
	}
	return out, nil
}

func (s *PostgresStore) querySubscriptions(ctx context.Context, sql string, args ...any) ([]Subscription, error) {
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, errors.Join(ErrStoreFailure, err)
	}
	out, err := pgx.CollectRows(rows, pgx.RowToStructByName[Subscription])
	if err != nil {
		return nil, errors.Join(ErrStoreFailure, err)
	}
	for i := range out {
		normalizeTimes(&out[i])
	}
	return out, nil
}

func subscriptionArgs(s *Subscription) []any {
	return []any{
		s.ID, s.UserID, s.PlanID, s.Status, s.PeriodStart, s.PeriodEnd, s.Renew,
		s.CancelledAt, s.RenewalFailedAt, s.PaymentRef, s.Version, s.CreatedAt, s.UpdatedAt,
	}
}

var (
	_ Store        = (*PostgresStore)(nil)
	_ PaymentStore = (*PostgresStore)(nil)
)
