package repository

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/flourineV/cinemas-backend-sub000/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrOutboxMessageNotFound is returned when marking a row that no longer exists
var ErrOutboxMessageNotFound = errors.New("outbox message not found")

// PostgresOutboxRepository implements OutboxRepository using PostgreSQL
type PostgresOutboxRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresOutboxRepository creates a new PostgresOutboxRepository
func NewPostgresOutboxRepository(pool *pgxpool.Pool) *PostgresOutboxRepository {
	return &PostgresOutboxRepository{pool: pool}
}

// CreateTx queues msgs inside tx. Seq is assigned by the table, so rows keep
// the order they were written in.
func (r *PostgresOutboxRepository) CreateTx(ctx context.Context, tx pgx.Tx, msgs ...*domain.OutboxMessage) error {
	const query = `
		INSERT INTO outbox (id, aggregate_type, aggregate_id, event_type, payload,
			topic, partition_key, status, retry_count, max_retries, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING seq`

	for _, msg := range msgs {
		if msg.ID == "" {
			msg.ID = uuid.New().String()
		}
		if msg.Status == "" {
			msg.Status = domain.OutboxStatusPending
		}
		if msg.MaxRetries == 0 {
			msg.MaxRetries = domain.DefaultOutboxMaxRetries
		}
		if msg.CreatedAt.IsZero() {
			msg.CreatedAt = time.Now()
		}

		err := tx.QueryRow(ctx, query,
			msg.ID, msg.AggregateType, msg.AggregateID, msg.EventType, msg.Payload,
			msg.Topic, msg.PartitionKey, string(msg.Status), msg.RetryCount, msg.MaxRetries, msg.CreatedAt,
		).Scan(&msg.Seq)
		if err != nil {
			return fmt.Errorf("failed to queue outbox message %s: %w", msg.EventType, err)
		}
	}
	return nil
}

const outboxColumns = `o.seq, o.id, o.aggregate_type, o.aggregate_id, o.event_type,
	o.payload, o.topic, o.partition_key, o.status, o.retry_count, o.max_retries,
	COALESCE(o.last_error, ''), o.claimed_until, o.created_at, o.processed_at, o.published_at`

// claimQuery leases the rows selected by candidates. The lease keeps other
// relays off them without holding a transaction open across the produce.
func claimQuery(candidates string) string {
	return `
		WITH claimed AS (` + candidates + `
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		UPDATE outbox o SET claimed_until = NOW() + make_interval(secs => $2)
		FROM claimed
		WHERE o.id = claimed.id
		RETURNING ` + outboxColumns
}

var (
	// A pending row waits while an earlier row of its key is still being retried
	claimPendingQuery = claimQuery(`
			SELECT p.id FROM outbox p
			WHERE p.status = 'pending'
				AND (p.claimed_until IS NULL OR p.claimed_until < NOW())
				AND NOT EXISTS (
					SELECT 1 FROM outbox f
					WHERE f.partition_key = p.partition_key
						AND f.status = 'failed'
						AND f.retry_count < f.max_retries
						AND f.seq < p.seq
				)
			ORDER BY p.seq`)

	claimRetryableQuery = claimQuery(`
			SELECT id FROM outbox
			WHERE status = 'failed'
				AND retry_count < max_retries
				AND (claimed_until IS NULL OR claimed_until < NOW())
			ORDER BY seq`)
)

// FetchPending claims pending messages for lease, oldest first
func (r *PostgresOutboxRepository) FetchPending(ctx context.Context, limit int, lease time.Duration) ([]*domain.OutboxMessage, error) {
	return r.claim(ctx, claimPendingQuery, limit, lease)
}

// FetchRetryable claims failed messages that still have attempts left
func (r *PostgresOutboxRepository) FetchRetryable(ctx context.Context, limit int, lease time.Duration) ([]*domain.OutboxMessage, error) {
	return r.claim(ctx, claimRetryableQuery, limit, lease)
}

func (r *PostgresOutboxRepository) claim(ctx context.Context, query string, limit int, lease time.Duration) ([]*domain.OutboxMessage, error) {
	rows, err := r.pool.Query(ctx, query, limit, lease.Seconds())
	if err != nil {
		return nil, fmt.Errorf("failed to claim outbox messages: %w", err)
	}

	msgs, err := pgx.CollectRows(rows, scanOutboxMessage)
	if err != nil {
		return nil, fmt.Errorf("failed to read claimed outbox messages: %w", err)
	}

	// UPDATE ... RETURNING does not keep the CTE order
	slices.SortFunc(msgs, func(a, b *domain.OutboxMessage) int { return cmp.Compare(a.Seq, b.Seq) })
	return msgs, nil
}

func scanOutboxMessage(row pgx.CollectableRow) (*domain.OutboxMessage, error) {
	var (
		msg    domain.OutboxMessage
		status string
	)
	err := row.Scan(
		&msg.Seq, &msg.ID, &msg.AggregateType, &msg.AggregateID, &msg.EventType,
		&msg.Payload, &msg.Topic, &msg.PartitionKey, &status, &msg.RetryCount, &msg.MaxRetries,
		&msg.LastError, &msg.ClaimedUntil, &msg.CreatedAt, &msg.ProcessedAt, &msg.PublishedAt,
	)
	msg.Status = domain.OutboxStatus(status)
	return &msg, err
}

// MarkAsPublished records a successful produce and releases the claim
func (r *PostgresOutboxRepository) MarkAsPublished(ctx context.Context, id string) error {
	return r.mark(ctx, `
		UPDATE outbox SET status = 'published', claimed_until = NULL,
			processed_at = NOW(), published_at = NOW()
		WHERE id = $1`, id)
}

// MarkAsFailed records a failed produce, counting it against max_retries
func (r *PostgresOutboxRepository) MarkAsFailed(ctx context.Context, id string, errMsg string) error {
	return r.mark(ctx, `
		UPDATE outbox SET status = 'failed', last_error = $2, retry_count = retry_count + 1,
			claimed_until = NULL, processed_at = NOW()
		WHERE id = $1`, id, errMsg)
}

func (r *PostgresOutboxRepository) mark(ctx context.Context, query string, args ...any) error {
	tag, err := r.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update outbox message %v: %w", args[0], err)
	}
	if tag.RowsAffected() == 0 {
		return ErrOutboxMessageNotFound
	}
	return nil
}

// DeletePublished removes published rows older than retention
func (r *PostgresOutboxRepository) DeletePublished(ctx context.Context, retention time.Duration) (int64, error) {
	tag, err := r.pool.Exec(ctx,
		`DELETE FROM outbox WHERE status = 'published' AND published_at < $1`,
		time.Now().Add(-retention),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to delete published outbox messages: %w", err)
	}
	return tag.RowsAffected(), nil
}

var _ OutboxRepository = (*PostgresOutboxRepository)(nil)
