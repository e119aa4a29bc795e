package budget

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/kaban-gov/kaban/internal/platform/db"
	"github.com/kaban-gov/kaban/internal/shared"
)

// Repository defines budget registry data access.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error

	GetAppropriation(ctx context.Context, id int64) (Appropriation, error)
	GetAllotment(ctx context.Context, id int64) (Allotment, error)
	GetObligation(ctx context.Context, id int64) (Obligation, error)
	ListAllotments(ctx context.Context, appropriationID int64) ([]Allotment, error)
	ListObligations(ctx context.Context, allotmentID int64) ([]Obligation, error)

	// SumObligations totals binding obligation amounts for an allotment.
	// An allotment with no obligations sums to zero, never NULL.
	SumObligations(ctx context.Context, allotmentID int64) (decimal.Decimal, error)
}

// TxRepository defines operations within a transaction.
type TxRepository interface {
	CreateAppropriation(ctx context.Context, input CreateAppropriationInput) (int64, error)
	CreateAllotment(ctx context.Context, input CreateAllotmentInput) (int64, error)
	CreateObligation(ctx context.Context, input PostObligationInput, status ObligationStatus) (int64, error)
	UpdateObligationStatus(ctx context.Context, id int64, status ObligationStatus) error

	// Row-locked reads used by commit-time gating.
	GetAllotmentForUpdate(ctx context.Context, id int64) (Allotment, error)
	GetAppropriationForUpdate(ctx context.Context, id int64) (Appropriation, error)
	GetObligationForUpdate(ctx context.Context, id int64) (Obligation, error)
	SumObligations(ctx context.Context, allotmentID int64) (decimal.Decimal, error)
	SumAllotments(ctx context.Context, appropriationID int64) (decimal.Decimal, error)
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

// NewTxRepository wraps an already-open transaction for collaborators that
// manage their own transaction boundary (the voucher workflow commits its
// obligation inside the document transaction).
func NewTxRepository(tx pgx.Tx) TxRepository {
	return &pgTxRepository{tx: tx}
}

func (r *pgRepository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(ctx context.Context, tx pgx.Tx) error {
		return fn(ctx, &pgTxRepository{tx: tx})
	})
}

const appropriationColumns = `id, fund_cluster, fiscal_year, amount, created_by, created_at`

func scanAppropriation(row pgx.Row) (Appropriation, error) {
	var a Appropriation
	var amount pgtype.Numeric
	if err := row.Scan(&a.ID, &a.FundCluster, &a.FiscalYear, &amount, &a.CreatedBy, &a.CreatedAt); err != nil {
		return Appropriation{}, err
	}
	var err error
	a.Amount, err = shared.NumericToDecimal(amount)
	return a, err
}

func (r *pgRepository) GetAppropriation(ctx context.Context, id int64) (Appropriation, error) {
	a, err := scanAppropriation(r.pool.QueryRow(ctx, `SELECT `+appropriationColumns+` FROM appropriations WHERE id=$1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Appropriation{}, ErrAppropriationNotFound
	}
	return a, err
}

const allotmentColumns = `id, appropriation_id, object_of_expenditure, allotment_class, program_code, amount, created_by, created_at`

func scanAllotment(row pgx.Row) (Allotment, error) {
	var a Allotment
	var amount pgtype.Numeric
	var class string
	if err := row.Scan(&a.ID, &a.AppropriationID, &a.ObjectOfExpenditure, &class, &a.ProgramCode, &amount, &a.CreatedBy, &a.CreatedAt); err != nil {
		return Allotment{}, err
	}
	a.AllotmentClass = AllotmentClass(class)
	var err error
	a.Amount, err = shared.NumericToDecimal(amount)
	return a, err
}

func (r *pgRepository) GetAllotment(ctx context.Context, id int64) (Allotment, error) {
	a, err := scanAllotment(r.pool.QueryRow(ctx, `SELECT `+allotmentColumns+` FROM allotments WHERE id=$1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Allotment{}, ErrAllotmentNotFound
	}
	return a, err
}

func (r *pgRepository) ListAllotments(ctx context.Context, appropriationID int64) ([]Allotment, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+allotmentColumns+` FROM allotments WHERE appropriation_id=$1 ORDER BY id`, appropriationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Allotment
	for rows.Next() {
		a, err := scanAllotment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

const obligationColumns = `id, allotment_id, payee, amount, status, created_by, approved_by, created_at, updated_at`

func scanObligation(row pgx.Row) (Obligation, error) {
	var o Obligation
	var amount pgtype.Numeric
	var status string
	if err := row.Scan(&o.ID, &o.AllotmentID, &o.Payee, &amount, &status, &o.CreatedBy, &o.ApprovedBy, &o.CreatedAt, &o.UpdatedAt); err != nil {
		return Obligation{}, err
	}
	o.Status = ObligationStatus(status)
	var err error
	o.Amount, err = shared.NumericToDecimal(amount)
	return o, err
}

func (r *pgRepository) GetObligation(ctx context.Context, id int64) (Obligation, error) {
	o, err := scanObligation(r.pool.QueryRow(ctx, `SELECT `+obligationColumns+` FROM obligations WHERE id=$1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Obligation{}, ErrObligationNotFound
	}
	return o, err
}

func (r *pgRepository) ListObligations(ctx context.Context, allotmentID int64) ([]Obligation, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+obligationColumns+` FROM obligations WHERE allotment_id=$1 ORDER BY id`, allotmentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Obligation
	for rows.Next() {
		o, err := scanObligation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

const sumObligationsSQL = `SELECT COALESCE(SUM(o.amount), 0)
FROM allotments a
LEFT JOIN obligations o ON o.allotment_id = a.id AND o.status NOT IN ('CANCELLED', 'REJECTED')
WHERE a.id = $1
GROUP BY a.id`

func sumObligations(ctx context.Context, q interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}, allotmentID int64) (decimal.Decimal, error) {
	var total pgtype.Numeric
	err := q.QueryRow(ctx, sumObligationsSQL, allotmentID).Scan(&total)
	if errors.Is(err, pgx.ErrNoRows) {
		return decimal.Zero, ErrAllotmentNotFound
	}
	if err != nil {
		return decimal.Zero, err
	}
	return shared.NumericToDecimal(total)
}

func (r *pgRepository) SumObligations(ctx context.Context, allotmentID int64) (decimal.Decimal, error) {
	return sumObligations(ctx, r.pool, allotmentID)
}

func (tx *pgTxRepository) SumObligations(ctx context.Context, allotmentID int64) (decimal.Decimal, error) {
	return sumObligations(ctx, tx.tx, allotmentID)
}

func (tx *pgTxRepository) SumAllotments(ctx context.Context, appropriationID int64) (decimal.Decimal, error) {
	var total pgtype.Numeric
	err := tx.tx.QueryRow(ctx, `SELECT COALESCE(SUM(amount), 0) FROM allotments WHERE appropriation_id=$1`, appropriationID).Scan(&total)
	if err != nil {
		return decimal.Zero, err
	}
	return shared.NumericToDecimal(total)
}

func (tx *pgTxRepository) CreateAppropriation(ctx context.Context, input CreateAppropriationInput) (int64, error) {
	var id int64
	err := tx.tx.QueryRow(ctx, `INSERT INTO appropriations (fund_cluster, fiscal_year, amount, created_by)
VALUES ($1, $2, $3, $4) RETURNING id`,
		input.FundCluster, input.FiscalYear, shared.DecimalToNumeric(input.Amount), input.CreatedBy).Scan(&id)
	return id, err
}

func (tx *pgTxRepository) CreateAllotment(ctx context.Context, input CreateAllotmentInput) (int64, error) {
	var id int64
	err := tx.tx.QueryRow(ctx, `INSERT INTO allotments (appropriation_id, object_of_expenditure, allotment_class, program_code, amount, created_by)
VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`,
		input.AppropriationID, input.ObjectOfExpenditure, string(input.AllotmentClass), input.ProgramCode,
		shared.DecimalToNumeric(input.Amount), input.CreatedBy).Scan(&id)
	return id, err
}

func (tx *pgTxRepository) CreateObligation(ctx context.Context, input PostObligationInput, status ObligationStatus) (int64, error) {
	var id int64
	var approvedBy *int64
	if input.ApprovedBy != 0 {
		approvedBy = &input.ApprovedBy
	}
	err := tx.tx.QueryRow(ctx, `INSERT INTO obligations (allotment_id, payee, amount, status, created_by, approved_by)
VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`,
		input.AllotmentID, input.Payee, shared.DecimalToNumeric(input.Amount), string(status), input.CreatedBy, approvedBy).Scan(&id)
	return id, err
}

func (tx *pgTxRepository) UpdateObligationStatus(ctx context.Context, id int64, status ObligationStatus) error {
	tag, err := tx.tx.Exec(ctx, `UPDATE obligations SET status=$2, updated_at=NOW() WHERE id=$1`, id, string(status))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrObligationNotFound
	}
	return nil
}

func (tx *pgTxRepository) GetAllotmentForUpdate(ctx context.Context, id int64) (Allotment, error) {
	a, err := scanAllotment(tx.tx.QueryRow(ctx, `SELECT `+allotmentColumns+` FROM allotments WHERE id=$1 FOR UPDATE`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Allotment{}, ErrAllotmentNotFound
	}
	return a, err
}

func (tx *pgTxRepository) GetAppropriationForUpdate(ctx context.Context, id int64) (Appropriation, error) {
	a, err := scanAppropriation(tx.tx.QueryRow(ctx, `SELECT `+appropriationColumns+` FROM appropriations WHERE id=$1 FOR UPDATE`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Appropriation{}, ErrAppropriationNotFound
	}
	return a, err
}

func (tx *pgTxRepository) GetObligationForUpdate(ctx context.Context, id int64) (Obligation, error) {
	o, err := scanObligation(tx.tx.QueryRow(ctx, `SELECT `+obligationColumns+` FROM obligations WHERE id=$1 FOR UPDATE`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Obligation{}, ErrObligationNotFound
	}
	return o, err
}
