/**
 * @description
 * This file provides the PostgreSQL implementation of the `Repository`
 * interface. It contains all the SQL needed for the payments, artist
 * revenues, artist payouts, hook executions, and append-only audit_logs
 * tables.
 *
 * @notes
 * - Status transitions are conditional UPDATEs keyed on the expected status.
 *   Zero rows affected means another writer won the race; the caller gets
 *   ErrStatusConflict and must observe the row's new state.
 * - Audit rows are inserted inside the same transaction as the state change
 *   they describe.
 *
 * @dependencies
 * - context, time, errors: Standard Go libraries.
 * - github.com/jackc/pgx/v5: The PostgreSQL driver for database operations.
 * - internal/domain: Contains the domain models used for data transfer.
 */

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/tunewave/finance-service/internal/domain"
)

var (
	ErrPaymentNotFound    = errors.New("payment not found")
	ErrRevenueNotFound    = errors.New("artist revenue not found")
	ErrPayoutNotFound     = errors.New("artist payout not found")
	ErrStatusConflict     = errors.New("row is no longer in the expected status")
	ErrDuplicateReference = errors.New("reference already exists")
)

// PostgresRepository is a concrete implementation of the Repository interface for PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new instance of PostgresRepository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// querier is satisfied by both *pgxpool.Pool and pgx.Tx so helpers can run
// inside or outside a transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func marshalJSONB(v interface{}) ([]byte, error) {
	if v == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(v)
}

// insertAudit writes one append-only audit row. Used standalone and inside
// transition transactions.
func insertAudit(ctx context.Context, q querier, rec domain.AuditRecord) error {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	actor, err := json.Marshal(rec.Actor)
	if err != nil {
		return fmt.Errorf("failed to marshal audit actor: %w", err)
	}
	oldVals, err := marshalJSONB(rec.OldValues)
	if err != nil {
		return fmt.Errorf("failed to marshal audit old values: %w", err)
	}
	newVals, err := marshalJSONB(rec.NewValues)
	if err != nil {
		return fmt.Errorf("failed to marshal audit new values: %w", err)
	}
	meta, err := marshalJSONB(rec.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal audit metadata: %w", err)
	}
	query := `
		INSERT INTO audit_logs (id, category, event, narrative, actor, target_type, target_id, severity, old_values, new_values, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	_, err = q.Exec(ctx, query,
		rec.ID, rec.Category, rec.Event, rec.Narrative, actor, rec.TargetType,
		rec.TargetID, string(rec.Severity), oldVals, newVals, meta, rec.CreatedAt)
	return err
}

// InsertAuditRecord writes a standalone audit row (rejected attempts,
// warnings not tied to a state change).
func (r *PostgresRepository) InsertAuditRecord(ctx context.Context, rec domain.AuditRecord) error {
	return insertAudit(ctx, r.db, rec)
}

// ListAuditRecordsForTarget returns the newest audit rows for one entity.
func (r *PostgresRepository) ListAuditRecordsForTarget(ctx context.Context, targetType, targetID string, limit int) ([]domain.AuditRecord, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	query := `
		SELECT id, category, event, narrative, actor, target_type, target_id, severity, old_values, new_values, metadata, created_at
		FROM audit_logs
		WHERE target_type = $1 AND target_id = $2
		ORDER BY created_at DESC
		LIMIT $3
	`
	rows, err := r.db.Query(ctx, query, targetType, targetID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []domain.AuditRecord
	for rows.Next() {
		var rec domain.AuditRecord
		var severity string
		var actor, oldVals, newVals, meta []byte
		if err := rows.Scan(&rec.ID, &rec.Category, &rec.Event, &rec.Narrative, &actor,
			&rec.TargetType, &rec.TargetID, &severity, &oldVals, &newVals, &meta, &rec.CreatedAt); err != nil {
			return nil, err
		}
		rec.Severity = domain.AuditSeverity(severity)
		if err := json.Unmarshal(actor, &rec.Actor); err != nil {
			return nil, fmt.Errorf("failed to unmarshal audit actor: %w", err)
		}
		_ = json.Unmarshal(oldVals, &rec.OldValues)
		_ = json.Unmarshal(newVals, &rec.NewValues)
		_ = json.Unmarshal(meta, &rec.Metadata)
		records = append(records, rec)
	}
	return records, rows.Err()
}

// --- Payments ---

const paymentColumns = `
	id, payer_id, amount, currency, method, provider, status, reference,
	payable_type, payable_id, description, metadata, failure_reason,
	refunded_amount, refund_reason, integrity_digest, initiated_at,
	completed_at, failed_at, refunded_at, deleted_at, created_at, updated_at
`

func scanPayment(row pgx.Row) (*domain.Payment, error) {
	var p domain.Payment
	var method, status string
	var meta []byte
	err := row.Scan(&p.ID, &p.PayerID, &p.Amount, &p.Currency, &method, &p.Provider,
		&status, &p.Reference, &p.PayableType, &p.PayableID, &p.Description, &meta,
		&p.FailureReason, &p.RefundedAmount, &p.RefundReason, &p.IntegrityDigest,
		&p.InitiatedAt, &p.CompletedAt, &p.FailedAt, &p.RefundedAt, &p.DeletedAt,
		&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrPaymentNotFound
		}
		return nil, err
	}
	p.Method = domain.PaymentMethod(method)
	p.Status = domain.PaymentStatus(status)
	if len(meta) > 0 {
		_ = json.Unmarshal(meta, &p.Metadata)
	}
	return &p, nil
}

// CreatePayment inserts the payment and its creation audit row atomically.
func (r *PostgresRepository) CreatePayment(ctx context.Context, p *domain.Payment, audit *domain.AuditRecord) error {
	meta, err := marshalJSONB(p.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal payment metadata: %w", err)
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	query := `
		INSERT INTO payments (id, payer_id, amount, currency, method, provider, status, reference,
			payable_type, payable_id, description, metadata, integrity_digest, initiated_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, NOW(), NOW())
		RETURNING created_at, updated_at
	`
	err = tx.QueryRow(ctx, query,
		p.ID, p.PayerID, p.Amount, p.Currency, string(p.Method), p.Provider,
		string(p.Status), p.Reference, p.PayableType, p.PayableID, p.Description,
		meta, p.IntegrityDigest, p.InitiatedAt).Scan(&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateReference
		}
		return err
	}

	if audit != nil {
		if err := insertAudit(ctx, tx, *audit); err != nil {
			return fmt.Errorf("failed to record payment creation audit: %w", err)
		}
	}
	return tx.Commit(ctx)
}

// FindPaymentByID retrieves a payment row, including soft-retired rows, so
// audit history stays reachable.
func (r *PostgresRepository) FindPaymentByID(ctx context.Context, id uuid.UUID) (*domain.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE id = $1`
	return scanPayment(r.db.QueryRow(ctx, query, id))
}

// FindPaymentByReference retrieves a payment by its external reference string.
func (r *PostgresRepository) FindPaymentByReference(ctx context.Context, reference string) (*domain.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE reference = $1`
	return scanPayment(r.db.QueryRow(ctx, query, reference))
}

// TransitionPayment applies a compare-and-swap status change together with
// the audit row describing it.
func (r *PostgresRepository) TransitionPayment(ctx context.Context, id uuid.UUID, expected, next domain.PaymentStatus, patch PaymentStatusPatch, audit *domain.AuditRecord) error {
	meta, err := marshalJSONB(patch.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal payment patch metadata: %w", err)
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	query := `
		UPDATE payments SET
			status = $1,
			failure_reason = COALESCE($2, failure_reason),
			refunded_amount = COALESCE($3, refunded_amount),
			refund_reason = COALESCE($4, refund_reason),
			provider = COALESCE($5, provider),
			metadata = COALESCE(metadata, '{}'::jsonb) || $6::jsonb,
			completed_at = COALESCE($7, completed_at),
			failed_at = COALESCE($8, failed_at),
			refunded_at = COALESCE($9, refunded_at),
			updated_at = NOW()
		WHERE id = $10 AND status = $11
	`
	tag, err := tx.Exec(ctx, query,
		string(next), patch.FailureReason, patch.RefundedAmount, patch.RefundReason,
		patch.Provider, meta, patch.CompletedAt, patch.FailedAt, patch.RefundedAt,
		id, string(expected))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM payments WHERE id = $1)`, id).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return ErrPaymentNotFound
		}
		return ErrStatusConflict
	}

	if audit != nil {
		if err := insertAudit(ctx, tx, *audit); err != nil {
			return fmt.Errorf("failed to record payment transition audit: %w", err)
		}
	}
	return tx.Commit(ctx)
}

// ClaimHookExecution reports true the first time the (reference, hook) pair
// is seen. Later claims for the same pair report false.
func (r *PostgresRepository) ClaimHookExecution(ctx context.Context, paymentReference, hook string) (bool, error) {
	query := `
		INSERT INTO payment_hook_executions (payment_reference, hook, executed_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (payment_reference, hook) DO NOTHING
	`
	tag, err := r.db.Exec(ctx, query, paymentReference, hook)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// --- Artist revenues ---

const revenueColumns = `
	id, artist_id, revenue_type, source_type, source_id, gross_amount,
	platform_fee, distribution_fee, net_amount, currency, share_percent,
	splits, status, payout_id, accrued_at, created_at, updated_at
`

func scanRevenue(row pgx.Row) (*domain.ArtistRevenue, error) {
	var rev domain.ArtistRevenue
	var status string
	var splits []byte
	err := row.Scan(&rev.ID, &rev.ArtistID, &rev.RevenueType, &rev.SourceType,
		&rev.SourceID, &rev.GrossAmount, &rev.PlatformFee, &rev.DistributionFee,
		&rev.NetAmount, &rev.Currency, &rev.SharePercent, &splits, &status,
		&rev.PayoutID, &rev.AccruedAt, &rev.CreatedAt, &rev.UpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrRevenueNotFound
		}
		return nil, err
	}
	rev.Status = domain.RevenueStatus(status)
	if len(splits) > 0 {
		_ = json.Unmarshal(splits, &rev.Splits)
	}
	return &rev, nil
}

// CreateArtistRevenue inserts the revenue row and its audit row atomically.
func (r *PostgresRepository) CreateArtistRevenue(ctx context.Context, rev *domain.ArtistRevenue, audit *domain.AuditRecord) error {
	splits, err := json.Marshal(rev.Splits)
	if err != nil {
		return fmt.Errorf("failed to marshal revenue splits: %w", err)
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	query := `
		INSERT INTO artist_revenues (id, artist_id, revenue_type, source_type, source_id,
			gross_amount, platform_fee, distribution_fee, net_amount, currency,
			share_percent, splits, status, accrued_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, NOW(), NOW())
		RETURNING created_at, updated_at
	`
	err = tx.QueryRow(ctx, query,
		rev.ID, rev.ArtistID, rev.RevenueType, rev.SourceType, rev.SourceID,
		rev.GrossAmount, rev.PlatformFee, rev.DistributionFee, rev.NetAmount,
		rev.Currency, rev.SharePercent, splits, string(rev.Status), rev.AccruedAt).
		Scan(&rev.CreatedAt, &rev.UpdatedAt)
	if err != nil {
		return err
	}

	if audit != nil {
		if err := insertAudit(ctx, tx, *audit); err != nil {
			return fmt.Errorf("failed to record revenue creation audit: %w", err)
		}
	}
	return tx.Commit(ctx)
}

func (r *PostgresRepository) FindArtistRevenueByID(ctx context.Context, id uuid.UUID) (*domain.ArtistRevenue, error) {
	query := `SELECT ` + revenueColumns + ` FROM artist_revenues WHERE id = $1`
	return scanRevenue(r.db.QueryRow(ctx, query, id))
}

// AdvanceRevenueStatus applies a compare-and-swap monotonic advance. Setting
// payout_id only succeeds when the row is unattached or already attached to
// the same payout.
func (r *PostgresRepository) AdvanceRevenueStatus(ctx context.Context, id uuid.UUID, expected, next domain.RevenueStatus, payoutID *uuid.UUID, audit *domain.AuditRecord) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	query := `
		UPDATE artist_revenues SET
			status = $1,
			payout_id = COALESCE($2, payout_id),
			updated_at = NOW()
		WHERE id = $3 AND status = $4
			AND ($2::uuid IS NULL OR payout_id IS NULL OR payout_id = $2::uuid)
	`
	tag, err := tx.Exec(ctx, query, string(next), payoutID, id, string(expected))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM artist_revenues WHERE id = $1)`, id).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return ErrRevenueNotFound
		}
		return ErrStatusConflict
	}

	if audit != nil {
		if err := insertAudit(ctx, tx, *audit); err != nil {
			return fmt.Errorf("failed to record revenue transition audit: %w", err)
		}
	}
	return tx.Commit(ctx)
}

// TrailingAverageRevenueNet aggregates over the historical rows at
// evaluation time; no separate counters are maintained. exclude keeps the
// row under evaluation out of its own average.
func (r *PostgresRepository) TrailingAverageRevenueNet(ctx context.Context, artistID uuid.UUID, revenueType string, since time.Time, exclude uuid.UUID) (int64, int, error) {
	query := `
		SELECT COALESCE(AVG(net_amount), 0)::bigint, COUNT(*)
		FROM artist_revenues
		WHERE artist_id = $1 AND revenue_type = $2 AND accrued_at >= $3 AND id <> $4
	`
	var avg int64
	var samples int
	if err := r.db.QueryRow(ctx, query, artistID, revenueType, since, exclude).Scan(&avg, &samples); err != nil {
		return 0, 0, err
	}
	return avg, samples, nil
}

// --- Artist payouts ---

const payoutColumns = `
	id, artist_id, amount, fee, net_amount, currency, method, destination,
	status, transaction_ref, provider_tx_id, requested_by, approved_by,
	failure_reason, metadata, requested_at, approved_at, processing_at,
	completed_at, failed_at, deleted_at, created_at, updated_at
`

func scanPayout(row pgx.Row) (*domain.ArtistPayout, error) {
	var p domain.ArtistPayout
	var method, status string
	var destination, meta []byte
	err := row.Scan(&p.ID, &p.ArtistID, &p.Amount, &p.Fee, &p.NetAmount, &p.Currency,
		&method, &destination, &status, &p.TransactionRef, &p.ProviderTxID,
		&p.RequestedBy, &p.ApprovedBy, &p.FailureReason, &meta, &p.RequestedAt,
		&p.ApprovedAt, &p.ProcessingAt, &p.CompletedAt, &p.FailedAt, &p.DeletedAt,
		&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrPayoutNotFound
		}
		return nil, err
	}
	p.Method = domain.PayoutMethod(method)
	p.Status = domain.PayoutStatus(status)
	if len(destination) > 0 {
		_ = json.Unmarshal(destination, &p.Destination)
	}
	if len(meta) > 0 {
		_ = json.Unmarshal(meta, &p.Metadata)
	}
	return &p, nil
}

// CreateArtistPayoutReservingRevenue inserts the payout and reserves the
// artist's oldest processed unattached revenue rows against it, all in one
// transaction. Rows are locked FOR UPDATE so two concurrent requests cannot
// reserve the same earnings.
func (r *PostgresRepository) CreateArtistPayoutReservingRevenue(ctx context.Context, p *domain.ArtistPayout, audit *domain.AuditRecord) error {
	destination, err := json.Marshal(p.Destination)
	if err != nil {
		return fmt.Errorf("failed to marshal payout destination: %w", err)
	}
	meta, err := marshalJSONB(p.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal payout metadata: %w", err)
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	insert := `
		INSERT INTO artist_payouts (id, artist_id, amount, fee, net_amount, currency, method,
			destination, status, transaction_ref, requested_by, metadata, requested_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, NOW(), NOW())
		RETURNING created_at, updated_at
	`
	err = tx.QueryRow(ctx, insert,
		p.ID, p.ArtistID, p.Amount, p.Fee, p.NetAmount, p.Currency, string(p.Method),
		destination, string(p.Status), p.TransactionRef, p.RequestedBy, meta, p.RequestedAt).
		Scan(&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateReference
		}
		return err
	}

	// Reserve processed, unattached revenue rows oldest-first until their
	// net amounts cover the requested amount.
	rows, err := tx.Query(ctx, `
		SELECT id, net_amount
		FROM artist_revenues
		WHERE artist_id = $1 AND status = 'processed' AND payout_id IS NULL
		ORDER BY accrued_at ASC
		FOR UPDATE
	`, p.ArtistID)
	if err != nil {
		return err
	}

	var reserved int64
	var reservedIDs []uuid.UUID
	for rows.Next() {
		var revID uuid.UUID
		var net int64
		if err := rows.Scan(&revID, &net); err != nil {
			rows.Close()
			return err
		}
		reservedIDs = append(reservedIDs, revID)
		reserved += net
		if reserved >= p.Amount {
			break
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	if reserved < p.Amount {
		return domain.ErrInsufficientBalance
	}

	if _, err := tx.Exec(ctx, `
		UPDATE artist_revenues SET payout_id = $1, updated_at = NOW()
		WHERE id = ANY($2)
	`, p.ID, reservedIDs); err != nil {
		return err
	}

	if audit != nil {
		if err := insertAudit(ctx, tx, *audit); err != nil {
			return fmt.Errorf("failed to record payout creation audit: %w", err)
		}
	}
	return tx.Commit(ctx)
}

func (r *PostgresRepository) FindArtistPayoutByID(ctx context.Context, id uuid.UUID) (*domain.ArtistPayout, error) {
	query := `SELECT ` + payoutColumns + ` FROM artist_payouts WHERE id = $1`
	return scanPayout(r.db.QueryRow(ctx, query, id))
}

func (r *PostgresRepository) FindArtistPayoutByTransactionRef(ctx context.Context, ref string) (*domain.ArtistPayout, error) {
	query := `SELECT ` + payoutColumns + ` FROM artist_payouts WHERE transaction_ref = $1`
	return scanPayout(r.db.QueryRow(ctx, query, ref))
}

// TransitionPayout applies a compare-and-swap status change together with
// the audit row describing it.
func (r *PostgresRepository) TransitionPayout(ctx context.Context, id uuid.UUID, expected, next domain.PayoutStatus, patch PayoutStatusPatch, audit *domain.AuditRecord) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := transitionPayoutInTx(ctx, tx, id, expected, next, patch, audit); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// TransitionPayoutReleasingRevenue performs the same compare-and-swap status
// change and, in the same transaction, detaches the payout's still-processed
// revenue rows so they return to the available balance. Rejecting or
// cancelling a payout must never strand reserved earnings, so the release
// commits or rolls back with the transition itself.
func (r *PostgresRepository) TransitionPayoutReleasingRevenue(ctx context.Context, id uuid.UUID, expected, next domain.PayoutStatus, patch PayoutStatusPatch, audit *domain.AuditRecord) (int64, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	if err := transitionPayoutInTx(ctx, tx, id, expected, next, patch, audit); err != nil {
		return 0, err
	}
	tag, err := tx.Exec(ctx, `
		UPDATE artist_revenues SET payout_id = NULL, updated_at = NOW()
		WHERE payout_id = $1 AND status = 'processed'
	`, id)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), tx.Commit(ctx)
}

func transitionPayoutInTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, expected, next domain.PayoutStatus, patch PayoutStatusPatch, audit *domain.AuditRecord) error {
	meta, err := marshalJSONB(patch.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal payout patch metadata: %w", err)
	}

	query := `
		UPDATE artist_payouts SET
			status = $1,
			approved_by = COALESCE($2, approved_by),
			failure_reason = COALESCE($3, failure_reason),
			provider_tx_id = COALESCE($4, provider_tx_id),
			metadata = COALESCE(metadata, '{}'::jsonb) || $5::jsonb,
			approved_at = COALESCE($6, approved_at),
			processing_at = COALESCE($7, processing_at),
			completed_at = COALESCE($8, completed_at),
			failed_at = COALESCE($9, failed_at),
			updated_at = NOW()
		WHERE id = $10 AND status = $11 AND deleted_at IS NULL
	`
	tag, err := tx.Exec(ctx, query,
		string(next), patch.ApprovedBy, patch.FailureReason, patch.ProviderTxID, meta,
		patch.ApprovedAt, patch.ProcessingAt, patch.CompletedAt, patch.FailedAt,
		id, string(expected))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM artist_payouts WHERE id = $1 AND deleted_at IS NULL)`, id).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return ErrPayoutNotFound
		}
		return ErrStatusConflict
	}

	if audit != nil {
		if err := insertAudit(ctx, tx, *audit); err != nil {
			return fmt.Errorf("failed to record payout transition audit: %w", err)
		}
	}
	return nil
}

// SettleRevenueForPayout marks the payout's attached revenue rows paid,
// writing the settlement audit row in the same transaction.
func (r *PostgresRepository) SettleRevenueForPayout(ctx context.Context, payoutID uuid.UUID, audit *domain.AuditRecord) (int64, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		UPDATE artist_revenues SET status = 'paid', updated_at = NOW()
		WHERE payout_id = $1 AND status = 'processed'
	`, payoutID)
	if err != nil {
		return 0, err
	}

	if audit != nil {
		if err := insertAudit(ctx, tx, *audit); err != nil {
			return 0, fmt.Errorf("failed to record revenue settlement audit: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// CountPayoutRequestsSince counts the artist's other payout requests created
// after the cutoff, for the velocity check.
func (r *PostgresRepository) CountPayoutRequestsSince(ctx context.Context, artistID uuid.UUID, since time.Time, exclude uuid.UUID) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM artist_payouts
		WHERE artist_id = $1 AND requested_at >= $2 AND id <> $3 AND deleted_at IS NULL
	`
	var count int
	if err := r.db.QueryRow(ctx, query, artistID, since, exclude).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

// AverageCompletedPayoutAmount is the artist's historical average completed
// payout, for the magnitude check.
func (r *PostgresRepository) AverageCompletedPayoutAmount(ctx context.Context, artistID uuid.UUID) (int64, int, error) {
	query := `
		SELECT COALESCE(AVG(amount), 0)::bigint, COUNT(*)
		FROM artist_payouts
		WHERE artist_id = $1 AND status = 'completed' AND deleted_at IS NULL
	`
	var avg int64
	var samples int
	if err := r.db.QueryRow(ctx, query, artistID).Scan(&avg, &samples); err != nil {
		return 0, 0, err
	}
	return avg, samples, nil
}

// AvailablePayoutBalance is the sum of processed revenue net amounts not yet
// attached to any payout.
func (r *PostgresRepository) AvailablePayoutBalance(ctx context.Context, artistID uuid.UUID) (int64, error) {
	query := `
		SELECT COALESCE(SUM(net_amount), 0)
		FROM artist_revenues
		WHERE artist_id = $1 AND status = 'processed' AND payout_id IS NULL
	`
	var balance int64
	if err := r.db.QueryRow(ctx, query, artistID).Scan(&balance); err != nil {
		return 0, err
	}
	return balance, nil
}

// SoftDeletePayout retires a payout record. The audit row is committed in
// the same transaction; deletion of financial records is exceptional.
func (r *PostgresRepository) SoftDeletePayout(ctx context.Context, id uuid.UUID, audit *domain.AuditRecord) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		UPDATE artist_payouts SET deleted_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND deleted_at IS NULL
	`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrPayoutNotFound
	}

	if audit != nil {
		if err := insertAudit(ctx, tx, *audit); err != nil {
			return fmt.Errorf("failed to record payout deletion audit: %w", err)
		}
	}
	return tx.Commit(ctx)
}

// RestorePayout reverses a soft delete.
func (r *PostgresRepository) RestorePayout(ctx context.Context, id uuid.UUID, audit *domain.AuditRecord) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		UPDATE artist_payouts SET deleted_at = NULL, updated_at = NOW()
		WHERE id = $1 AND deleted_at IS NOT NULL
	`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrPayoutNotFound
	}

	if audit != nil {
		if err := insertAudit(ctx, tx, *audit); err != nil {
			return fmt.Errorf("failed to record payout restoration audit: %w", err)
		}
	}
	return tx.Commit(ctx)
}
