package voucher

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/kaban-gov/kaban/internal/budget"
	"github.com/kaban-gov/kaban/internal/shared"
)

var (
	ErrVoucherNotFound = errors.New("disbursement voucher not found")
	ErrStageNotFound   = errors.New("stage record not found for this voucher")
	ErrUnknownStage    = errors.New("unknown approval stage")
	ErrInvalidState    = errors.New("invalid status for operation")
	ErrInvalidAmount   = errors.New("amount must be positive")
	// ErrStageOutOfOrder rejects approvals that skip an earlier stage.
	ErrStageOutOfOrder = errors.New("stage out of order: prior stage not yet approved")
	// ErrStageAlreadyProcessed rejects duplicate decisions on one stage.
	ErrStageAlreadyProcessed = errors.New("stage already processed")
	// ErrVoucherClosed rejects stage actions on a terminal voucher.
	ErrVoucherClosed = errors.New("voucher already processed")
	// ErrCommentsRequired rejects a rejection without a reason.
	ErrCommentsRequired = errors.New("Comments required: rejection must include a reason")
	// ErrAlreadySubmitted indicates the stage set already exists.
	ErrAlreadySubmitted = errors.New("voucher already submitted for approval")
)

const entityTable = "disbursement_vouchers"

// DecisionNotice describes a stage decision for downstream notification.
type DecisionNotice struct {
	VoucherID int64
	Number    string
	Stage     Stage
	Action    string
	Status    Status
	ActorID   int64
}

// Notifier delivers stage decisions to interested parties. Best-effort; a
// delivery failure never rolls back the decision.
type Notifier interface {
	NotifyDecision(ctx context.Context, notice DecisionNotice) error
}

// Service drives a disbursement voucher through its fixed approval sequence,
// consulting the budget ledger before the accounting stage commits.
type Service struct {
	repo     Repository
	audit    shared.AuditSink
	notifier Notifier
}

// NewService constructs the voucher service.
func NewService(repo Repository, audit shared.AuditSink, notifier Notifier) *Service {
	return &Service{repo: repo, audit: audit, notifier: notifier}
}

// CreateVoucher drafts a new disbursement voucher with a generated DV number.
func (s *Service) CreateVoucher(ctx context.Context, input CreateVoucherInput) (Voucher, error) {
	if !input.Amount.IsPositive() {
		return Voucher{}, ErrInvalidAmount
	}
	if strings.TrimSpace(input.Payee) == "" {
		return Voucher{}, fmt.Errorf("%w: payee required", ErrInvalidState)
	}
	var id int64
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if _, err := tx.Budget().GetAllotmentForUpdate(ctx, input.AllotmentID); err != nil {
			return err
		}
		number, err := tx.GenerateVoucherNumber(ctx, time.Now())
		if err != nil {
			return err
		}
		id, err = tx.CreateVoucher(ctx, input, number)
		return err
	})
	if err != nil {
		return Voucher{}, err
	}
	voucher, err := s.repo.GetVoucher(ctx, id)
	if err != nil {
		return Voucher{}, err
	}
	if s.audit != nil {
		s.audit.LogCreate(ctx, entityTable, strconv.FormatInt(id, 10), input.CreatedBy, map[string]any{
			"number": voucher.Number,
			"payee":  voucher.Payee,
			"amount": voucher.Amount.String(),
		})
	}
	return voucher, nil
}

// SubmitVoucher routes a draft into the approval sequence, materializing one
// pending stage record per stage. Division review is optional and, when
// requested, precedes the budget stage.
func (s *Service) SubmitVoucher(ctx context.Context, input SubmitVoucherInput) error {
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		voucher, err := tx.GetVoucherForUpdate(ctx, input.VoucherID)
		if err != nil {
			return err
		}
		if voucher.Status != StatusDraft {
			return fmt.Errorf("%w: voucher is %s", ErrInvalidState, voucher.Status)
		}
		stages := []Stage{StageBudget, StageAccounting, StageDirector}
		if input.DivisionReview {
			stages = append([]Stage{StageDivision}, stages...)
		}
		for _, stage := range stages {
			if err := tx.CreateStageRecord(ctx, input.VoucherID, stage); err != nil {
				return err
			}
		}
		return tx.UpdateVoucherStatus(ctx, input.VoucherID, StatusPendingBudget)
	})
	if err != nil {
		return err
	}
	if s.audit != nil {
		s.audit.LogUpdate(ctx, entityTable, strconv.FormatInt(input.VoucherID, 10), input.ActorID, map[string]any{
			"status": string(StatusPendingBudget),
		})
	}
	return nil
}

// Approve records one stage approval. Sequencing, duplicate protection and
// the accounting-stage budget gate all run inside the document transaction,
// so a concurrent approval on the same stage observes the committed state and
// fails instead of double-recording.
func (s *Service) Approve(ctx context.Context, input DecisionInput) (StageRecord, error) {
	if !input.Stage.Valid() {
		return StageRecord{}, fmt.Errorf("%w: %q", ErrUnknownStage, input.Stage)
	}
	var record StageRecord
	var newStatus Status
	var number string
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		voucher, err := tx.GetVoucherForUpdate(ctx, input.VoucherID)
		if err != nil {
			return err
		}
		number = voucher.Number
		if voucher.Status == StatusDraft {
			return fmt.Errorf("%w: voucher not yet submitted", ErrInvalidState)
		}
		if voucher.Status.Terminal() {
			return fmt.Errorf("%w: voucher is %s", ErrVoucherClosed, voucher.Status)
		}
		records, err := tx.GetStageRecords(ctx, input.VoucherID)
		if err != nil {
			return err
		}
		_, err = checkSequence(records, input.Stage)
		if err != nil {
			return err
		}
		if input.Stage == StageAccounting {
			// Commit point: the obligation binds against the allotment here,
			// re-checking availability under the allotment row lock.
			obligationID, err := budget.ObligateInTx(ctx, tx.Budget(), budget.PostObligationInput{
				AllotmentID: voucher.AllotmentID,
				Payee:       voucher.Payee,
				Amount:      voucher.Amount,
				CreatedBy:   voucher.CreatedBy,
				ApprovedBy:  input.ActorID,
			})
			if err != nil {
				return err
			}
			if err := tx.SetVoucherObligation(ctx, voucher.ID, obligationID); err != nil {
				return err
			}
		}
		now := time.Now()
		if err := tx.UpdateStageRecord(ctx, voucher.ID, input.Stage, StageApproved, input.ActorID, input.Comments, now); err != nil {
			return err
		}
		newStatus = statusAfterApproval(records, input.Stage)
		if err := tx.UpdateVoucherStatus(ctx, voucher.ID, newStatus); err != nil {
			return err
		}
		actorID := input.ActorID
		record = StageRecord{
			VoucherID: voucher.ID,
			Stage:     input.Stage,
			Status:    StageApproved,
			ActorID:   &actorID,
			Comments:  input.Comments,
			ActedAt:   &now,
		}
		return nil
	})
	if err != nil {
		return StageRecord{}, err
	}
	if s.audit != nil {
		s.audit.LogApprove(ctx, entityTable, strconv.FormatInt(input.VoucherID, 10), input.ActorID, map[string]any{
			"stage":  string(input.Stage),
			"status": string(newStatus),
		})
	}
	if s.notifier != nil {
		_ = s.notifier.NotifyDecision(ctx, DecisionNotice{
			VoucherID: input.VoucherID,
			Number:    number,
			Stage:     input.Stage,
			Action:    shared.AuditActionApprove,
			Status:    newStatus,
			ActorID:   input.ActorID,
		})
	}
	return record, nil
}

// Reject records a stage rejection and terminates the workflow. A rejection
// without comments is never permitted.
func (s *Service) Reject(ctx context.Context, input DecisionInput) error {
	if !input.Stage.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownStage, input.Stage)
	}
	if strings.TrimSpace(input.Comments) == "" {
		return ErrCommentsRequired
	}
	var number string
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		voucher, err := tx.GetVoucherForUpdate(ctx, input.VoucherID)
		if err != nil {
			return err
		}
		number = voucher.Number
		if voucher.Status == StatusDraft {
			return fmt.Errorf("%w: voucher not yet submitted", ErrInvalidState)
		}
		if voucher.Status.Terminal() {
			return fmt.Errorf("%w: voucher is %s", ErrVoucherClosed, voucher.Status)
		}
		records, err := tx.GetStageRecords(ctx, input.VoucherID)
		if err != nil {
			return err
		}
		if _, err := checkSequence(records, input.Stage); err != nil {
			return err
		}
		if err := tx.UpdateStageRecord(ctx, voucher.ID, input.Stage, StageRejected, input.ActorID, input.Comments, time.Now()); err != nil {
			return err
		}
		return tx.UpdateVoucherStatus(ctx, voucher.ID, StatusRejected)
	})
	if err != nil {
		return err
	}
	if s.audit != nil {
		s.audit.LogReject(ctx, entityTable, strconv.FormatInt(input.VoucherID, 10), input.ActorID, map[string]any{
			"stage":    string(input.Stage),
			"status":   string(StatusRejected),
			"comments": input.Comments,
		})
	}
	if s.notifier != nil {
		_ = s.notifier.NotifyDecision(ctx, DecisionNotice{
			VoucherID: input.VoucherID,
			Number:    number,
			Stage:     input.Stage,
			Action:    shared.AuditActionReject,
			Status:    StatusRejected,
			ActorID:   input.ActorID,
		})
	}
	return nil
}

// checkSequence validates the target stage against the fixed order: every
// earlier stage present on the voucher must already be approved, and the
// target must still be pending.
func checkSequence(records []StageRecord, stage Stage) (StageRecord, error) {
	var target StageRecord
	found := false
	for _, rec := range records {
		if rec.Stage == stage {
			target = rec
			found = true
			continue
		}
		if rec.Stage.Index() < stage.Index() && rec.Status != StageApproved {
			return StageRecord{}, fmt.Errorf("%w: %s stage is %s", ErrStageOutOfOrder, rec.Stage, rec.Status)
		}
	}
	if !found {
		return StageRecord{}, ErrStageNotFound
	}
	if target.Status != StagePending {
		return StageRecord{}, fmt.Errorf("%w: %s stage already %s", ErrStageAlreadyProcessed, target.Stage, target.Status)
	}
	return target, nil
}

// statusAfterApproval resolves the voucher status once the given stage is
// approved: pending_<next> while later stages remain, approved otherwise.
func statusAfterApproval(records []StageRecord, approved Stage) Status {
	for _, rec := range records {
		if rec.Stage.Index() > approved.Index() && rec.Status == StagePending {
			return pendingStatusFor(rec.Stage)
		}
	}
	return StatusApproved
}

// MarkPaid records that the treasury released payment for an approved voucher.
func (s *Service) MarkPaid(ctx context.Context, voucherID, actorID int64) error {
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		voucher, err := tx.GetVoucherForUpdate(ctx, voucherID)
		if err != nil {
			return err
		}
		if voucher.Status != StatusApproved {
			return fmt.Errorf("%w: voucher is %s", ErrInvalidState, voucher.Status)
		}
		return tx.UpdateVoucherStatus(ctx, voucherID, StatusPaid)
	})
	if err != nil {
		return err
	}
	if s.audit != nil {
		s.audit.LogUpdate(ctx, entityTable, strconv.FormatInt(voucherID, 10), actorID, map[string]any{
			"status": string(StatusPaid),
		})
	}
	return nil
}

// CancelVoucher withdraws a draft before it enters the approval sequence.
func (s *Service) CancelVoucher(ctx context.Context, voucherID, actorID int64) error {
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		voucher, err := tx.GetVoucherForUpdate(ctx, voucherID)
		if err != nil {
			return err
		}
		if voucher.Status != StatusDraft {
			return fmt.Errorf("%w: voucher is %s", ErrInvalidState, voucher.Status)
		}
		return tx.UpdateVoucherStatus(ctx, voucherID, StatusCancelled)
	})
	if err != nil {
		return err
	}
	if s.audit != nil {
		s.audit.LogUpdate(ctx, entityTable, strconv.FormatInt(voucherID, 10), actorID, map[string]any{
			"status": string(StatusCancelled),
		})
	}
	return nil
}

// GetVoucher loads a voucher by id.
func (s *Service) GetVoucher(ctx context.Context, id int64) (Voucher, error) {
	return s.repo.GetVoucher(ctx, id)
}

// ListVouchers lists vouchers, optionally filtered by status.
func (s *Service) ListVouchers(ctx context.Context, status Status) ([]Voucher, error) {
	return s.repo.ListVouchers(ctx, status)
}

// GetApprovalHistory returns the voucher's stage records in stage-sequence
// order with actor identity attached.
func (s *Service) GetApprovalHistory(ctx context.Context, voucherID int64) ([]HistoryEntry, error) {
	return s.repo.GetApprovalHistory(ctx, voucherID)
}
