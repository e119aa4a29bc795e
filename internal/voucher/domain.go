package voucher

import (
	"time"

	"github.com/shopspring/decimal"
)

// Status enumerates disbursement voucher statuses.
type Status string

const (
	StatusDraft             Status = "draft"
	StatusPendingBudget     Status = "pending_budget"
	StatusPendingAccounting Status = "pending_accounting"
	StatusPendingDirector   Status = "pending_director"
	StatusApproved          Status = "approved"
	StatusPaid              Status = "paid"
	StatusRejected          Status = "rejected"
	StatusCancelled         Status = "cancelled"
)

// Terminal reports whether no further stage action is permitted.
func (s Status) Terminal() bool {
	return s == StatusApproved || s == StatusPaid || s == StatusRejected || s == StatusCancelled
}

// Stage identifies a step in the approval sequence. The order below is total
// and fixed; a stage may not act until every earlier stage has approved.
type Stage string

const (
	StageDivision   Stage = "division"
	StageBudget     Stage = "budget"
	StageAccounting Stage = "accounting"
	StageDirector   Stage = "director"
)

// stageOrder fixes the total order of the approval sequence. Division is
// optional per voucher; when present it always comes first.
var stageOrder = []Stage{StageDivision, StageBudget, StageAccounting, StageDirector}

// Index returns the stage's position in the fixed order, or -1 for an unknown
// stage.
func (s Stage) Index() int {
	for i, stage := range stageOrder {
		if stage == s {
			return i
		}
	}
	return -1
}

// Valid reports whether the stage belongs to the fixed sequence.
func (s Stage) Valid() bool {
	return s.Index() >= 0
}

// pendingStatusFor maps a stage to the voucher status that awaits it.
// Division review happens while the voucher is still pending budget.
func pendingStatusFor(stage Stage) Status {
	switch stage {
	case StageAccounting:
		return StatusPendingAccounting
	case StageDirector:
		return StatusPendingDirector
	default:
		return StatusPendingBudget
	}
}

// StageStatus enumerates per-stage record statuses.
type StageStatus string

const (
	StagePending  StageStatus = "pending"
	StageApproved StageStatus = "approved"
	StageRejected StageStatus = "rejected"
)

// Voucher is a disbursement voucher: the payment request document subject to
// multi-stage approval before funds are released.
type Voucher struct {
	ID                  int64           `json:"id"`
	Number              string          `json:"number"`
	Payee               string          `json:"payee"`
	Particulars         string          `json:"particulars"`
	Amount              decimal.Decimal `json:"amount"`
	FundCluster         string          `json:"fund_cluster"`
	ObjectOfExpenditure string          `json:"object_of_expenditure"`
	AllotmentID         int64           `json:"allotment_id"`
	ObligationID        *int64          `json:"obligation_id,omitempty"`
	Status              Status          `json:"status"`
	CreatedBy           int64           `json:"created_by"`
	CreatedAt           time.Time       `json:"created_at"`
	UpdatedAt           time.Time       `json:"updated_at"`
}

// StageRecord tracks one approval stage of one voucher. At most one record
// exists per (voucher, stage).
type StageRecord struct {
	VoucherID int64       `json:"voucher_id"`
	Stage     Stage       `json:"stage"`
	Status    StageStatus `json:"status"`
	ActorID   *int64      `json:"actor_id,omitempty"`
	Comments  string      `json:"comments"`
	ActedAt   *time.Time  `json:"acted_at,omitempty"`
}

// HistoryEntry joins a stage record with the acting user's identity.
type HistoryEntry struct {
	StageRecord
	ActorName string `json:"actor_name"`
}

// --- Input DTOs ---

// CreateVoucherInput for drafting a new disbursement voucher.
type CreateVoucherInput struct {
	Payee               string
	Particulars         string
	Amount              decimal.Decimal
	FundCluster         string
	ObjectOfExpenditure string
	AllotmentID         int64
	CreatedBy           int64
}

// SubmitVoucherInput routes a draft into the approval sequence.
type SubmitVoucherInput struct {
	VoucherID      int64
	ActorID        int64
	DivisionReview bool
}

// DecisionInput carries one approve/reject action.
type DecisionInput struct {
	VoucherID int64
	Stage     Stage
	ActorID   int64
	Comments  string
}
