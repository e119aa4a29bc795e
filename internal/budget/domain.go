package budget

import (
	"time"

	"github.com/shopspring/decimal"
)

// AllotmentClass enumerates UACS allotment classes.
type AllotmentClass string

const (
	ClassPersonnelServices   AllotmentClass = "PS"
	ClassMOOE                AllotmentClass = "MOOE"
	ClassCapitalOutlay       AllotmentClass = "CO"
	ClassFinancialAssistance AllotmentClass = "FA"
)

// ObligationStatus enumerates obligation statuses.
type ObligationStatus string

const (
	ObligationPending   ObligationStatus = "PENDING"
	ObligationApproved  ObligationStatus = "APPROVED"
	ObligationCancelled ObligationStatus = "CANCELLED"
	ObligationRejected  ObligationStatus = "REJECTED"
)

// Binding reports whether an obligation in this status counts against the
// allotment balance.
func (s ObligationStatus) Binding() bool {
	return s != ObligationCancelled && s != ObligationRejected
}

// Appropriation is a fund-cluster scoped authorization of funds for a fiscal
// year. Immutable once posted except by superseding adjustment.
type Appropriation struct {
	ID          int64           `json:"id"`
	FundCluster string          `json:"fund_cluster"`
	FiscalYear  int             `json:"fiscal_year"`
	Amount      decimal.Decimal `json:"amount"`
	CreatedBy   int64           `json:"created_by"`
	CreatedAt   time.Time       `json:"created_at"`
}

// Allotment is a sub-allocation of an appropriation against one object of
// expenditure.
type Allotment struct {
	ID                  int64           `json:"id"`
	AppropriationID     int64           `json:"appropriation_id"`
	ObjectOfExpenditure string          `json:"object_of_expenditure"`
	AllotmentClass      AllotmentClass  `json:"allotment_class"`
	ProgramCode         string          `json:"program_code"`
	Amount              decimal.Decimal `json:"amount"`
	CreatedBy           int64           `json:"created_by"`
	CreatedAt           time.Time       `json:"created_at"`
}

// Obligation is a commitment of funds against an allotment, created ahead of
// actual disbursement.
type Obligation struct {
	ID          int64            `json:"id"`
	AllotmentID int64            `json:"allotment_id"`
	Payee       string           `json:"payee"`
	Amount      decimal.Decimal  `json:"amount"`
	Status      ObligationStatus `json:"status"`
	CreatedBy   int64            `json:"created_by"`
	ApprovedBy  *int64           `json:"approved_by,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
}

// Availability reports how much of an allotment remains unobligated.
type Availability struct {
	AllotmentID        int64           `json:"allotment_id"`
	AllotmentAmount    decimal.Decimal `json:"allotment_amount"`
	ObligatedAmount    decimal.Decimal `json:"obligated_amount"`
	UnobligatedBalance decimal.Decimal `json:"unobligated_balance"`
	UtilizationPct     int64           `json:"utilization_pct"`
	Available          bool            `json:"available"`
}

// --- Input DTOs ---

// CreateAppropriationInput for posting a new appropriation.
type CreateAppropriationInput struct {
	FundCluster string
	FiscalYear  int
	Amount      decimal.Decimal
	CreatedBy   int64
}

// CreateAllotmentInput for sub-allocating an appropriation.
type CreateAllotmentInput struct {
	AppropriationID     int64
	ObjectOfExpenditure string
	AllotmentClass      AllotmentClass
	ProgramCode         string
	Amount              decimal.Decimal
	CreatedBy           int64
}

// PostObligationInput for committing funds against an allotment.
type PostObligationInput struct {
	AllotmentID int64
	Payee       string
	Amount      decimal.Decimal
	CreatedBy   int64
	ApprovedBy  int64
}
