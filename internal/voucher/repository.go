package voucher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kaban-gov/kaban/internal/budget"
	"github.com/kaban-gov/kaban/internal/platform/db"
	"github.com/kaban-gov/kaban/internal/shared"
)

// Repository defines disbursement voucher data access.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error

	GetVoucher(ctx context.Context, id int64) (Voucher, error)
	ListVouchers(ctx context.Context, status Status) ([]Voucher, error)

	// GetApprovalHistory returns stage records in stage-sequence order joined
	// with actor identity. Safe to call repeatedly.
	GetApprovalHistory(ctx context.Context, voucherID int64) ([]HistoryEntry, error)
}

// TxRepository defines operations within a document transaction. The voucher
// row is locked first; every stage and status write for one approval action
// happens inside the same transaction.
type TxRepository interface {
	GenerateVoucherNumber(ctx context.Context, at time.Time) (string, error)
	CreateVoucher(ctx context.Context, input CreateVoucherInput, number string) (int64, error)
	GetVoucherForUpdate(ctx context.Context, id int64) (Voucher, error)
	GetStageRecords(ctx context.Context, voucherID int64) ([]StageRecord, error)
	CreateStageRecord(ctx context.Context, voucherID int64, stage Stage) error
	UpdateStageRecord(ctx context.Context, voucherID int64, stage Stage, status StageStatus, actorID int64, comments string, at time.Time) error
	UpdateVoucherStatus(ctx context.Context, voucherID int64, status Status) error
	SetVoucherObligation(ctx context.Context, voucherID, obligationID int64) error

	// Budget exposes the ledger within the same transaction so the accounting
	// gate re-checks availability at commit time.
	Budget() budget.TxRepository
}

var _ Repository = (*pgRepository)(nil)
var _ TxRepository = (*pgTxRepository)(nil)

type pgRepository struct {
	pool *pgxpool.Pool
}

type pgTxRepository struct {
	tx pgx.Tx
}

// NewRepository builds the PostgreSQL-backed repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &pgRepository{pool: pool}
}

func (r *pgRepository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(ctx context.Context, tx pgx.Tx) error {
		return fn(ctx, &pgTxRepository{tx: tx})
	})
}

const voucherColumns = `id, number, payee, particulars, amount, fund_cluster, object_of_expenditure, allotment_id, obligation_id, status, created_by, created_at, updated_at`

func scanVoucher(row pgx.Row) (Voucher, error) {
	var v Voucher
	var amount pgtype.Numeric
	var status string
	if err := row.Scan(&v.ID, &v.Number, &v.Payee, &v.Particulars, &amount, &v.FundCluster, &v.ObjectOfExpenditure,
		&v.AllotmentID, &v.ObligationID, &status, &v.CreatedBy, &v.CreatedAt, &v.UpdatedAt); err != nil {
		return Voucher{}, err
	}
	v.Status = Status(status)
	var err error
	v.Amount, err = shared.NumericToDecimal(amount)
	return v, err
}

func (r *pgRepository) GetVoucher(ctx context.Context, id int64) (Voucher, error) {
	v, err := scanVoucher(r.pool.QueryRow(ctx, `SELECT `+voucherColumns+` FROM disbursement_vouchers WHERE id=$1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Voucher{}, ErrVoucherNotFound
	}
	return v, err
}

func (r *pgRepository) ListVouchers(ctx context.Context, status Status) ([]Voucher, error) {
	query := `SELECT ` + voucherColumns + ` FROM disbursement_vouchers`
	args := []any{}
	if status != "" {
		query += ` WHERE status=$1`
		args = append(args, string(status))
	}
	query += ` ORDER BY id DESC`
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Voucher
	for rows.Next() {
		v, err := scanVoucher(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func (r *pgRepository) GetApprovalHistory(ctx context.Context, voucherID int64) ([]HistoryEntry, error) {
	var exists bool
	if err := r.pool.QueryRow(ctx, `SELECT true FROM disbursement_vouchers WHERE id=$1`, voucherID).Scan(&exists); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrVoucherNotFound
		}
		return nil, err
	}
	rows, err := r.pool.Query(ctx, `SELECT s.voucher_id, s.stage, s.status, s.actor_id, s.comments, s.acted_at, COALESCE(u.full_name, '')
FROM voucher_stages s
LEFT JOIN users u ON u.id = s.actor_id
WHERE s.voucher_id=$1
ORDER BY s.seq ASC`, voucherID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []HistoryEntry
	for rows.Next() {
		var e HistoryEntry
		var stage, status string
		if err := rows.Scan(&e.VoucherID, &stage, &status, &e.ActorID, &e.Comments, &e.ActedAt, &e.ActorName); err != nil {
			return nil, err
		}
		e.Stage = Stage(stage)
		e.Status = StageStatus(status)
		out = append(out, e)
	}
	return out, rows.Err()
}

// GenerateVoucherNumber issues the next sequential DV number for the period,
// e.g. DV-2026-09-0007. The counter row is locked by the upsert so numbers
// never collide under concurrent submissions.
func (tx *pgTxRepository) GenerateVoucherNumber(ctx context.Context, at time.Time) (string, error) {
	period := at.Format("2006-01")
	var seq int64
	err := tx.tx.QueryRow(ctx, `INSERT INTO dv_number_counters (period, value) VALUES ($1, 1)
ON CONFLICT (period) DO UPDATE SET value = dv_number_counters.value + 1
RETURNING value`, period).Scan(&seq)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("DV-%s-%04d", period, seq), nil
}

func (tx *pgTxRepository) CreateVoucher(ctx context.Context, input CreateVoucherInput, number string) (int64, error) {
	var id int64
	err := tx.tx.QueryRow(ctx, `INSERT INTO disbursement_vouchers
(number, payee, particulars, amount, fund_cluster, object_of_expenditure, allotment_id, status, created_by)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9) RETURNING id`,
		number, input.Payee, input.Particulars, shared.DecimalToNumeric(input.Amount), input.FundCluster,
		input.ObjectOfExpenditure, input.AllotmentID, string(StatusDraft), input.CreatedBy).Scan(&id)
	return id, err
}

func (tx *pgTxRepository) GetVoucherForUpdate(ctx context.Context, id int64) (Voucher, error) {
	v, err := scanVoucher(tx.tx.QueryRow(ctx, `SELECT `+voucherColumns+` FROM disbursement_vouchers WHERE id=$1 FOR UPDATE`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Voucher{}, ErrVoucherNotFound
	}
	return v, err
}

func (tx *pgTxRepository) GetStageRecords(ctx context.Context, voucherID int64) ([]StageRecord, error) {
	rows, err := tx.tx.Query(ctx, `SELECT voucher_id, stage, status, actor_id, comments, acted_at
FROM voucher_stages WHERE voucher_id=$1 ORDER BY seq ASC`, voucherID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []StageRecord
	for rows.Next() {
		var rec StageRecord
		var stage, status string
		if err := rows.Scan(&rec.VoucherID, &stage, &status, &rec.ActorID, &rec.Comments, &rec.ActedAt); err != nil {
			return nil, err
		}
		rec.Stage = Stage(stage)
		rec.Status = StageStatus(status)
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (tx *pgTxRepository) CreateStageRecord(ctx context.Context, voucherID int64, stage Stage) error {
	_, err := tx.tx.Exec(ctx, `INSERT INTO voucher_stages (voucher_id, stage, seq, status)
VALUES ($1, $2, $3, $4)`, voucherID, string(stage), stage.Index(), string(StagePending))
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrAlreadySubmitted
	}
	return err
}

func (tx *pgTxRepository) UpdateStageRecord(ctx context.Context, voucherID int64, stage Stage, status StageStatus, actorID int64, comments string, at time.Time) error {
	tag, err := tx.tx.Exec(ctx, `UPDATE voucher_stages
SET status=$3, actor_id=$4, comments=$5, acted_at=$6
WHERE voucher_id=$1 AND stage=$2 AND status=$7`,
		voucherID, string(stage), string(status), actorID, comments, at, string(StagePending))
	if err != nil {
		return err
	}
	// The guard on the previous status turns a lost race into a visible
	// conflict instead of a second recording.
	if tag.RowsAffected() == 0 {
		return ErrStageAlreadyProcessed
	}
	return nil
}

func (tx *pgTxRepository) UpdateVoucherStatus(ctx context.Context, voucherID int64, status Status) error {
	tag, err := tx.tx.Exec(ctx, `UPDATE disbursement_vouchers SET status=$2, updated_at=NOW() WHERE id=$1`, voucherID, string(status))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrVoucherNotFound
	}
	return nil
}

func (tx *pgTxRepository) SetVoucherObligation(ctx context.Context, voucherID, obligationID int64) error {
	tag, err := tx.tx.Exec(ctx, `UPDATE disbursement_vouchers SET obligation_id=$2, updated_at=NOW() WHERE id=$1`, voucherID, obligationID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrVoucherNotFound
	}
	return nil
}

func (tx *pgTxRepository) Budget() budget.TxRepository {
	return budget.NewTxRepository(tx.tx)
}
