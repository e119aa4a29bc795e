package budget

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/shopspring/decimal"

	"github.com/kaban-gov/kaban/internal/shared"
)

var (
	ErrAppropriationNotFound = errors.New("appropriation not found")
	ErrAllotmentNotFound     = errors.New("allotment not found")
	ErrObligationNotFound    = errors.New("obligation not found")
	ErrInvalidAmount         = errors.New("amount must be positive")
	// ErrInsufficientBudget gates obligations against the unobligated balance.
	ErrInsufficientBudget = errors.New("Insufficient budget: amount exceeds unobligated balance")
	// ErrAllotmentOverAppropriation gates allotments against the appropriation.
	ErrAllotmentOverAppropriation = errors.New("allotment exceeds appropriation balance")
	// ErrObligationClosed indicates the obligation is no longer binding.
	ErrObligationClosed = errors.New("obligation already cancelled or rejected")
)

// Service maintains the appropriation/allotment/obligation hierarchy and
// answers availability queries against it.
type Service struct {
	repo  Repository
	audit shared.AuditSink
}

// NewService constructs the budget service.
func NewService(repo Repository, audit shared.AuditSink) *Service {
	return &Service{repo: repo, audit: audit}
}

var hundred = decimal.NewFromInt(100)

func availabilityFor(a Allotment, obligated decimal.Decimal) Availability {
	balance := a.Amount.Sub(obligated)
	var utilization int64
	if a.Amount.IsPositive() {
		utilization = obligated.Mul(hundred).Div(a.Amount).Round(0).IntPart()
	}
	return Availability{
		AllotmentID:        a.ID,
		AllotmentAmount:    a.Amount,
		ObligatedAmount:    obligated,
		UnobligatedBalance: balance,
		UtilizationPct:     utilization,
		// An exactly exhausted allotment is not available.
		Available: balance.IsPositive(),
	}
}

// CheckAvailability reports the unobligated balance of an allotment. It is a
// fresh read on every call; nothing is cached between calls.
func (s *Service) CheckAvailability(ctx context.Context, allotmentID int64) (Availability, error) {
	allotment, err := s.repo.GetAllotment(ctx, allotmentID)
	if err != nil {
		return Availability{}, err
	}
	obligated, err := s.repo.SumObligations(ctx, allotmentID)
	if err != nil {
		return Availability{}, err
	}
	return availabilityFor(allotment, obligated), nil
}

// CanObligate reports whether an obligation of the proposed amount fits within
// the unobligated balance. An amount exactly consuming the balance is allowed.
func (s *Service) CanObligate(ctx context.Context, allotmentID int64, amount decimal.Decimal) (bool, error) {
	availability, err := s.CheckAvailability(ctx, allotmentID)
	if err != nil {
		return false, err
	}
	return amount.LessThanOrEqual(availability.UnobligatedBalance), nil
}

// CreateAppropriation posts a new appropriation.
func (s *Service) CreateAppropriation(ctx context.Context, input CreateAppropriationInput) (Appropriation, error) {
	if !input.Amount.IsPositive() {
		return Appropriation{}, ErrInvalidAmount
	}
	var id int64
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		id, err = tx.CreateAppropriation(ctx, input)
		return err
	})
	if err != nil {
		return Appropriation{}, err
	}
	if s.audit != nil {
		s.audit.LogCreate(ctx, "appropriations", strconv.FormatInt(id, 10), input.CreatedBy, map[string]any{
			"fund_cluster": input.FundCluster,
			"fiscal_year":  input.FiscalYear,
			"amount":       input.Amount.String(),
		})
	}
	return s.repo.GetAppropriation(ctx, id)
}

// CreateAllotment sub-allocates an appropriation. The sum of allotments may
// never exceed the appropriation amount; the check runs under a row lock on
// the parent appropriation.
func (s *Service) CreateAllotment(ctx context.Context, input CreateAllotmentInput) (Allotment, error) {
	if !input.Amount.IsPositive() {
		return Allotment{}, ErrInvalidAmount
	}
	var id int64
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		appropriation, err := tx.GetAppropriationForUpdate(ctx, input.AppropriationID)
		if err != nil {
			return err
		}
		allotted, err := tx.SumAllotments(ctx, input.AppropriationID)
		if err != nil {
			return err
		}
		remaining := appropriation.Amount.Sub(allotted)
		if input.Amount.GreaterThan(remaining) {
			return fmt.Errorf("%w: requested %s, remaining %s", ErrAllotmentOverAppropriation, input.Amount, remaining)
		}
		id, err = tx.CreateAllotment(ctx, input)
		return err
	})
	if err != nil {
		return Allotment{}, err
	}
	if s.audit != nil {
		s.audit.LogCreate(ctx, "allotments", strconv.FormatInt(id, 10), input.CreatedBy, map[string]any{
			"appropriation_id": input.AppropriationID,
			"uacs_code":        input.ObjectOfExpenditure,
			"amount":           input.Amount.String(),
		})
	}
	return s.repo.GetAllotment(ctx, id)
}

// PostObligation commits funds against an allotment. The availability check
// and the insert run in one transaction with the allotment row locked, so two
// obligations racing for the last remaining balance cannot both succeed.
func (s *Service) PostObligation(ctx context.Context, input PostObligationInput) (Obligation, error) {
	if !input.Amount.IsPositive() {
		return Obligation{}, ErrInvalidAmount
	}
	var id int64
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		id, err = ObligateInTx(ctx, tx, input)
		return err
	})
	if err != nil {
		return Obligation{}, err
	}
	if s.audit != nil {
		s.audit.LogCreate(ctx, "obligations", strconv.FormatInt(id, 10), input.CreatedBy, map[string]any{
			"allotment_id": input.AllotmentID,
			"payee":        input.Payee,
			"amount":       input.Amount.String(),
		})
	}
	return s.repo.GetObligation(ctx, id)
}

// ObligateInTx enforces the allotment ceiling and inserts the obligation.
// Shared with the voucher workflow, which calls it at its accounting commit
// point inside the document transaction.
func ObligateInTx(ctx context.Context, tx TxRepository, input PostObligationInput) (int64, error) {
	allotment, err := tx.GetAllotmentForUpdate(ctx, input.AllotmentID)
	if err != nil {
		return 0, err
	}
	obligated, err := tx.SumObligations(ctx, input.AllotmentID)
	if err != nil {
		return 0, err
	}
	balance := allotment.Amount.Sub(obligated)
	if input.Amount.GreaterThan(balance) {
		return 0, fmt.Errorf("%w: requested %s, unobligated %s", ErrInsufficientBudget, input.Amount, balance)
	}
	return tx.CreateObligation(ctx, input, ObligationApproved)
}

// CancelObligation releases a binding obligation, restoring the allotment
// balance for subsequent availability checks.
func (s *Service) CancelObligation(ctx context.Context, obligationID, actorID int64) error {
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		obligation, err := tx.GetObligationForUpdate(ctx, obligationID)
		if err != nil {
			return err
		}
		if !obligation.Status.Binding() {
			return fmt.Errorf("%w: status %s", ErrObligationClosed, obligation.Status)
		}
		return tx.UpdateObligationStatus(ctx, obligationID, ObligationCancelled)
	})
	if err != nil {
		return err
	}
	if s.audit != nil {
		s.audit.LogUpdate(ctx, "obligations", strconv.FormatInt(obligationID, 10), actorID, map[string]any{
			"status": string(ObligationCancelled),
		})
	}
	return nil
}

// GetAllotment loads an allotment by id.
func (s *Service) GetAllotment(ctx context.Context, id int64) (Allotment, error) {
	return s.repo.GetAllotment(ctx, id)
}

// ListAllotments lists allotments under an appropriation.
func (s *Service) ListAllotments(ctx context.Context, appropriationID int64) ([]Allotment, error) {
	return s.repo.ListAllotments(ctx, appropriationID)
}

// ListObligations lists obligations against an allotment.
func (s *Service) ListObligations(ctx context.Context, allotmentID int64) ([]Obligation, error) {
	return s.repo.ListObligations(ctx, allotmentID)
}
