package voucher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/kaban-gov/kaban/internal/budget"
)

type memoryVoucherRepo struct {
	mu          sync.Mutex
	vouchers    map[int64]Voucher
	stages      map[int64][]StageRecord
	users       map[int64]string
	allotments  map[int64]budget.Allotment
	obligations map[int64]budget.Obligation
	counters    map[string]int64
	nextID      int64
}

type memoryVoucherTx struct {
	repo *memoryVoucherRepo
}

type memoryLedgerTx struct {
	repo *memoryVoucherRepo
}

func newMemoryVoucherRepo() *memoryVoucherRepo {
	return &memoryVoucherRepo{
		vouchers:    make(map[int64]Voucher),
		stages:      make(map[int64][]StageRecord),
		users:       make(map[int64]string),
		allotments:  make(map[int64]budget.Allotment),
		obligations: make(map[int64]budget.Obligation),
		counters:    make(map[string]int64),
	}
}

// WithTx serializes callers the way the document-scoped transaction does in
// PostgreSQL: the loser of a race observes committed state.
func (r *memoryVoucherRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return fn(ctx, &memoryVoucherTx{repo: r})
}

func (r *memoryVoucherRepo) GetVoucher(ctx context.Context, id int64) (Voucher, error) {
	v, ok := r.vouchers[id]
	if !ok {
		return Voucher{}, ErrVoucherNotFound
	}
	return v, nil
}

func (r *memoryVoucherRepo) ListVouchers(ctx context.Context, status Status) ([]Voucher, error) {
	var out []Voucher
	for _, v := range r.vouchers {
		if status != "" && v.Status != status {
			continue
		}
		out = append(out, v)
	}
	return out, nil
}

func (r *memoryVoucherRepo) GetApprovalHistory(ctx context.Context, voucherID int64) ([]HistoryEntry, error) {
	if _, ok := r.vouchers[voucherID]; !ok {
		return nil, ErrVoucherNotFound
	}
	var out []HistoryEntry
	for _, rec := range r.stages[voucherID] {
		entry := HistoryEntry{StageRecord: rec}
		if rec.ActorID != nil {
			entry.ActorName = r.users[*rec.ActorID]
		}
		out = append(out, entry)
	}
	return out, nil
}

func (tx *memoryVoucherTx) GenerateVoucherNumber(ctx context.Context, at time.Time) (string, error) {
	period := at.Format("2006-01")
	tx.repo.counters[period]++
	return fmt.Sprintf("DV-%s-%04d", period, tx.repo.counters[period]), nil
}

func (tx *memoryVoucherTx) CreateVoucher(ctx context.Context, input CreateVoucherInput, number string) (int64, error) {
	tx.repo.nextID++
	id := tx.repo.nextID
	now := time.Now()
	tx.repo.vouchers[id] = Voucher{
		ID:                  id,
		Number:              number,
		Payee:               input.Payee,
		Particulars:         input.Particulars,
		Amount:              input.Amount,
		FundCluster:         input.FundCluster,
		ObjectOfExpenditure: input.ObjectOfExpenditure,
		AllotmentID:         input.AllotmentID,
		Status:              StatusDraft,
		CreatedBy:           input.CreatedBy,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	return id, nil
}

func (tx *memoryVoucherTx) GetVoucherForUpdate(ctx context.Context, id int64) (Voucher, error) {
	return tx.repo.GetVoucher(ctx, id)
}

func (tx *memoryVoucherTx) GetStageRecords(ctx context.Context, voucherID int64) ([]StageRecord, error) {
	return append([]StageRecord(nil), tx.repo.stages[voucherID]...), nil
}

func (tx *memoryVoucherTx) CreateStageRecord(ctx context.Context, voucherID int64, stage Stage) error {
	for _, rec := range tx.repo.stages[voucherID] {
		if rec.Stage == stage {
			return ErrAlreadySubmitted
		}
	}
	tx.repo.stages[voucherID] = append(tx.repo.stages[voucherID], StageRecord{
		VoucherID: voucherID,
		Stage:     stage,
		Status:    StagePending,
	})
	records := tx.repo.stages[voucherID]
	for i := 1; i < len(records); i++ {
		for j := i; j > 0 && records[j].Stage.Index() < records[j-1].Stage.Index(); j-- {
			records[j], records[j-1] = records[j-1], records[j]
		}
	}
	return nil
}

func (tx *memoryVoucherTx) UpdateStageRecord(ctx context.Context, voucherID int64, stage Stage, status StageStatus, actorID int64, comments string, at time.Time) error {
	records := tx.repo.stages[voucherID]
	for i, rec := range records {
		if rec.Stage != stage {
			continue
		}
		if rec.Status != StagePending {
			return ErrStageAlreadyProcessed
		}
		actor := actorID
		acted := at
		records[i].Status = status
		records[i].ActorID = &actor
		records[i].Comments = comments
		records[i].ActedAt = &acted
		return nil
	}
	return ErrStageNotFound
}

func (tx *memoryVoucherTx) UpdateVoucherStatus(ctx context.Context, voucherID int64, status Status) error {
	v, ok := tx.repo.vouchers[voucherID]
	if !ok {
		return ErrVoucherNotFound
	}
	v.Status = status
	v.UpdatedAt = time.Now()
	tx.repo.vouchers[voucherID] = v
	return nil
}

func (tx *memoryVoucherTx) SetVoucherObligation(ctx context.Context, voucherID, obligationID int64) error {
	v, ok := tx.repo.vouchers[voucherID]
	if !ok {
		return ErrVoucherNotFound
	}
	v.ObligationID = &obligationID
	tx.repo.vouchers[voucherID] = v
	return nil
}

func (tx *memoryVoucherTx) Budget() budget.TxRepository {
	return &memoryLedgerTx{repo: tx.repo}
}

func (b *memoryLedgerTx) GetAllotmentForUpdate(ctx context.Context, id int64) (budget.Allotment, error) {
	a, ok := b.repo.allotments[id]
	if !ok {
		return budget.Allotment{}, budget.ErrAllotmentNotFound
	}
	return a, nil
}

func (b *memoryLedgerTx) SumObligations(ctx context.Context, allotmentID int64) (decimal.Decimal, error) {
	if _, ok := b.repo.allotments[allotmentID]; !ok {
		return decimal.Zero, budget.ErrAllotmentNotFound
	}
	total := decimal.Zero
	for _, o := range b.repo.obligations {
		if o.AllotmentID == allotmentID && o.Status.Binding() {
			total = total.Add(o.Amount)
		}
	}
	return total, nil
}

func (b *memoryLedgerTx) CreateObligation(ctx context.Context, input budget.PostObligationInput, status budget.ObligationStatus) (int64, error) {
	b.repo.nextID++
	id := b.repo.nextID
	var approvedBy *int64
	if input.ApprovedBy != 0 {
		v := input.ApprovedBy
		approvedBy = &v
	}
	b.repo.obligations[id] = budget.Obligation{
		ID:          id,
		AllotmentID: input.AllotmentID,
		Payee:       input.Payee,
		Amount:      input.Amount,
		Status:      status,
		CreatedBy:   input.CreatedBy,
		ApprovedBy:  approvedBy,
	}
	return id, nil
}

func (b *memoryLedgerTx) CreateAppropriation(ctx context.Context, input budget.CreateAppropriationInput) (int64, error) {
	return 0, errors.New("not implemented")
}

func (b *memoryLedgerTx) CreateAllotment(ctx context.Context, input budget.CreateAllotmentInput) (int64, error) {
	return 0, errors.New("not implemented")
}

func (b *memoryLedgerTx) UpdateObligationStatus(ctx context.Context, id int64, status budget.ObligationStatus) error {
	return errors.New("not implemented")
}

func (b *memoryLedgerTx) GetAppropriationForUpdate(ctx context.Context, id int64) (budget.Appropriation, error) {
	return budget.Appropriation{}, errors.New("not implemented")
}

func (b *memoryLedgerTx) GetObligationForUpdate(ctx context.Context, id int64) (budget.Obligation, error) {
	return budget.Obligation{}, errors.New("not implemented")
}

func (b *memoryLedgerTx) SumAllotments(ctx context.Context, appropriationID int64) (decimal.Decimal, error) {
	return decimal.Zero, errors.New("not implemented")
}

type recordedEvent struct {
	action  string
	entity  string
	actorID int64
}

type recordingAudit struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (a *recordingAudit) log(action, entity string, actorID int64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, recordedEvent{action: action, entity: entity, actorID: actorID})
}

func (a *recordingAudit) LogCreate(ctx context.Context, entity, entityID string, actorID int64, meta map[string]any) {
	a.log("CREATE", entity, actorID)
}

func (a *recordingAudit) LogUpdate(ctx context.Context, entity, entityID string, actorID int64, meta map[string]any) {
	a.log("UPDATE", entity, actorID)
}

func (a *recordingAudit) LogApprove(ctx context.Context, entity, entityID string, actorID int64, meta map[string]any) {
	a.log("APPROVE", entity, actorID)
}

func (a *recordingAudit) LogReject(ctx context.Context, entity, entityID string, actorID int64, meta map[string]any) {
	a.log("REJECT", entity, actorID)
}

func (a *recordingAudit) count(action string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := 0
	for _, e := range a.events {
		if e.action == action {
			n++
		}
	}
	return n
}

type recordingNotifier struct {
	mu      sync.Mutex
	notices []DecisionNotice
}

func (n *recordingNotifier) NotifyDecision(ctx context.Context, notice DecisionNotice) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notices = append(n.notices, notice)
	return nil
}

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func seedAllotment(repo *memoryVoucherRepo, amount string) int64 {
	repo.nextID++
	id := repo.nextID
	repo.allotments[id] = budget.Allotment{
		ID:                  id,
		AppropriationID:     1,
		ObjectOfExpenditure: "5-02-03-010",
		AllotmentClass:      budget.ClassMOOE,
		Amount:              dec(amount),
	}
	return id
}

func seedSubmittedVoucher(t *testing.T, svc *Service, repo *memoryVoucherRepo, amount string, allotmentID int64, division bool) Voucher {
	t.Helper()
	ctx := context.Background()
	voucher, err := svc.CreateVoucher(ctx, CreateVoucherInput{
		Payee:               "Juan dela Cruz",
		Particulars:         "Office supplies",
		Amount:              dec(amount),
		FundCluster:         "01",
		ObjectOfExpenditure: "5-02-03-010",
		AllotmentID:         allotmentID,
		CreatedBy:           1,
	})
	require.NoError(t, err)
	require.NoError(t, svc.SubmitVoucher(ctx, SubmitVoucherInput{VoucherID: voucher.ID, ActorID: 1, DivisionReview: division}))
	updated, err := svc.GetVoucher(ctx, voucher.ID)
	require.NoError(t, err)
	return updated
}

func TestCreateVoucherGeneratesSequentialNumbers(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryVoucherRepo()
	svc := NewService(repo, nil, nil)
	allotmentID := seedAllotment(repo, "500000.00")

	period := time.Now().Format("2006-01")
	for i := 1; i <= 3; i++ {
		voucher, err := svc.CreateVoucher(ctx, CreateVoucherInput{
			Payee:               "Supplier",
			Amount:              dec("1000.00"),
			FundCluster:         "01",
			ObjectOfExpenditure: "5-02-03-010",
			AllotmentID:         allotmentID,
			CreatedBy:           1,
		})
		require.NoError(t, err)
		require.Equal(t, fmt.Sprintf("DV-%s-%04d", period, i), voucher.Number)
		require.Equal(t, StatusDraft, voucher.Status)
	}
}

func TestCreateVoucherUnknownAllotment(t *testing.T) {
	repo := newMemoryVoucherRepo()
	svc := NewService(repo, nil, nil)

	_, err := svc.CreateVoucher(context.Background(), CreateVoucherInput{
		Payee:               "Supplier",
		Amount:              dec("1000.00"),
		FundCluster:         "01",
		ObjectOfExpenditure: "5-02-03-010",
		AllotmentID:         42,
		CreatedBy:           1,
	})
	require.ErrorIs(t, err, budget.ErrAllotmentNotFound)
}

func TestSubmitVoucherMaterializesStages(t *testing.T) {
	repo := newMemoryVoucherRepo()
	svc := NewService(repo, nil, nil)
	allotmentID := seedAllotment(repo, "500000.00")

	voucher := seedSubmittedVoucher(t, svc, repo, "20000.00", allotmentID, false)
	require.Equal(t, StatusPendingBudget, voucher.Status)
	require.Len(t, repo.stages[voucher.ID], 3)
	for _, rec := range repo.stages[voucher.ID] {
		require.Equal(t, StagePending, rec.Status)
	}

	err := svc.SubmitVoucher(context.Background(), SubmitVoucherInput{VoucherID: voucher.ID, ActorID: 1})
	require.ErrorIs(t, err, ErrInvalidState)
}

func TestApproveFullSequence(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryVoucherRepo()
	audit := &recordingAudit{}
	notifier := &recordingNotifier{}
	svc := NewService(repo, audit, notifier)
	allotmentID := seedAllotment(repo, "500000.00")
	voucher := seedSubmittedVoucher(t, svc, repo, "100000.00", allotmentID, false)

	_, err := svc.Approve(ctx, DecisionInput{VoucherID: voucher.ID, Stage: StageBudget, ActorID: 10})
	require.NoError(t, err)
	current, _ := svc.GetVoucher(ctx, voucher.ID)
	require.Equal(t, StatusPendingAccounting, current.Status)

	_, err = svc.Approve(ctx, DecisionInput{VoucherID: voucher.ID, Stage: StageAccounting, ActorID: 20})
	require.NoError(t, err)
	current, _ = svc.GetVoucher(ctx, voucher.ID)
	require.Equal(t, StatusPendingDirector, current.Status)
	require.NotNil(t, current.ObligationID, "accounting approval is the obligation commit point")
	obligation := repo.obligations[*current.ObligationID]
	require.True(t, obligation.Amount.Equal(dec("100000.00")))
	require.Equal(t, budget.ObligationApproved, obligation.Status)
	require.NotNil(t, obligation.ApprovedBy)
	require.EqualValues(t, 20, *obligation.ApprovedBy)

	record, err := svc.Approve(ctx, DecisionInput{VoucherID: voucher.ID, Stage: StageDirector, ActorID: 30})
	require.NoError(t, err)
	require.Equal(t, StageApproved, record.Status)
	current, _ = svc.GetVoucher(ctx, voucher.ID)
	require.Equal(t, StatusApproved, current.Status)

	require.Equal(t, 3, audit.count("APPROVE"), "one audit approve event per stage decision")
	require.Len(t, notifier.notices, 3)
}

func TestApproveSkippingStageFails(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryVoucherRepo()
	svc := NewService(repo, nil, nil)
	allotmentID := seedAllotment(repo, "500000.00")
	voucher := seedSubmittedVoucher(t, svc, repo, "10000.00", allotmentID, false)

	_, err := svc.Approve(ctx, DecisionInput{VoucherID: voucher.ID, Stage: StageDirector, ActorID: 30})
	require.ErrorIs(t, err, ErrStageOutOfOrder)

	_, err = svc.Approve(ctx, DecisionInput{VoucherID: voucher.ID, Stage: StageAccounting, ActorID: 20})
	require.ErrorIs(t, err, ErrStageOutOfOrder)

	current, _ := svc.GetVoucher(ctx, voucher.ID)
	require.Equal(t, StatusPendingBudget, current.Status, "failed approvals must not move the voucher")
}

func TestReapproveAlreadyApprovedStage(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryVoucherRepo()
	svc := NewService(repo, nil, nil)
	allotmentID := seedAllotment(repo, "500000.00")
	voucher := seedSubmittedVoucher(t, svc, repo, "10000.00", allotmentID, false)

	_, err := svc.Approve(ctx, DecisionInput{VoucherID: voucher.ID, Stage: StageBudget, ActorID: 10})
	require.NoError(t, err)

	_, err = svc.Approve(ctx, DecisionInput{VoucherID: voucher.ID, Stage: StageBudget, ActorID: 11})
	require.ErrorIs(t, err, ErrStageAlreadyProcessed)
	require.Contains(t, err.Error(), "already approved")
}

func TestApproveMissingVoucher(t *testing.T) {
	repo := newMemoryVoucherRepo()
	svc := NewService(repo, nil, nil)

	_, err := svc.Approve(context.Background(), DecisionInput{VoucherID: 404, Stage: StageBudget, ActorID: 1})
	require.ErrorIs(t, err, ErrVoucherNotFound)
}

func TestAccountingStageBudgetGate(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryVoucherRepo()
	svc := NewService(repo, nil, nil)

	// Allotment with only 50,000 left cannot fund a 100,000 voucher.
	tightID := seedAllotment(repo, "50000.00")
	voucher := seedSubmittedVoucher(t, svc, repo, "100000.00", tightID, false)
	_, err := svc.Approve(ctx, DecisionInput{VoucherID: voucher.ID, Stage: StageBudget, ActorID: 10})
	require.NoError(t, err)
	_, err = svc.Approve(ctx, DecisionInput{VoucherID: voucher.ID, Stage: StageAccounting, ActorID: 20})
	require.ErrorIs(t, err, budget.ErrInsufficientBudget)
	require.Contains(t, err.Error(), "Insufficient budget")
	current, _ := svc.GetVoucher(ctx, voucher.ID)
	require.Equal(t, StatusPendingAccounting, current.Status)
	require.Nil(t, current.ObligationID)

	// The same voucher amount clears against a 500,000 balance.
	roomyID := seedAllotment(repo, "500000.00")
	funded := seedSubmittedVoucher(t, svc, repo, "100000.00", roomyID, false)
	_, err = svc.Approve(ctx, DecisionInput{VoucherID: funded.ID, Stage: StageBudget, ActorID: 10})
	require.NoError(t, err)
	_, err = svc.Approve(ctx, DecisionInput{VoucherID: funded.ID, Stage: StageAccounting, ActorID: 20})
	require.NoError(t, err)
}

func TestRejectRequiresComments(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryVoucherRepo()
	svc := NewService(repo, nil, nil)
	allotmentID := seedAllotment(repo, "500000.00")
	voucher := seedSubmittedVoucher(t, svc, repo, "10000.00", allotmentID, false)

	err := svc.Reject(ctx, DecisionInput{VoucherID: voucher.ID, Stage: StageBudget, ActorID: 10, Comments: "   "})
	require.ErrorIs(t, err, ErrCommentsRequired)
	require.Contains(t, err.Error(), "Comments required")

	current, _ := svc.GetVoucher(ctx, voucher.ID)
	require.Equal(t, StatusPendingBudget, current.Status)
}

func TestRejectTerminatesWorkflow(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryVoucherRepo()
	audit := &recordingAudit{}
	svc := NewService(repo, audit, nil)
	allotmentID := seedAllotment(repo, "500000.00")
	voucher := seedSubmittedVoucher(t, svc, repo, "10000.00", allotmentID, false)

	err := svc.Reject(ctx, DecisionInput{VoucherID: voucher.ID, Stage: StageBudget, ActorID: 10, Comments: "Wrong UACS code"})
	require.NoError(t, err)
	current, _ := svc.GetVoucher(ctx, voucher.ID)
	require.Equal(t, StatusRejected, current.Status)
	require.Equal(t, 1, audit.count("REJECT"))

	_, err = svc.Approve(ctx, DecisionInput{VoucherID: voucher.ID, Stage: StageAccounting, ActorID: 20})
	require.ErrorIs(t, err, ErrVoucherClosed)
}

func TestDivisionReviewPrecedesBudget(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryVoucherRepo()
	svc := NewService(repo, nil, nil)
	allotmentID := seedAllotment(repo, "500000.00")
	voucher := seedSubmittedVoucher(t, svc, repo, "10000.00", allotmentID, true)
	require.Len(t, repo.stages[voucher.ID], 4)

	_, err := svc.Approve(ctx, DecisionInput{VoucherID: voucher.ID, Stage: StageBudget, ActorID: 10})
	require.ErrorIs(t, err, ErrStageOutOfOrder)

	_, err = svc.Approve(ctx, DecisionInput{VoucherID: voucher.ID, Stage: StageDivision, ActorID: 5})
	require.NoError(t, err)
	_, err = svc.Approve(ctx, DecisionInput{VoucherID: voucher.ID, Stage: StageBudget, ActorID: 10})
	require.NoError(t, err)
}

func TestApprovalHistoryOrderedAndRepeatable(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryVoucherRepo()
	svc := NewService(repo, nil, nil)
	repo.users[10] = "Maria Santos"
	repo.users[20] = "Jose Rizal"
	allotmentID := seedAllotment(repo, "500000.00")
	voucher := seedSubmittedVoucher(t, svc, repo, "10000.00", allotmentID, false)

	_, err := svc.Approve(ctx, DecisionInput{VoucherID: voucher.ID, Stage: StageBudget, ActorID: 10})
	require.NoError(t, err)
	_, err = svc.Approve(ctx, DecisionInput{VoucherID: voucher.ID, Stage: StageAccounting, ActorID: 20})
	require.NoError(t, err)

	history, err := svc.GetApprovalHistory(ctx, voucher.ID)
	require.NoError(t, err)
	require.Len(t, history, 3)
	require.Equal(t, StageBudget, history[0].Stage)
	require.Equal(t, "Maria Santos", history[0].ActorName)
	require.Equal(t, StageAccounting, history[1].Stage)
	require.Equal(t, "Jose Rizal", history[1].ActorName)
	require.Equal(t, StageDirector, history[2].Stage)
	require.Equal(t, StagePending, history[2].Status)

	again, err := svc.GetApprovalHistory(ctx, voucher.ID)
	require.NoError(t, err)
	require.Equal(t, history, again)

	_, err = svc.GetApprovalHistory(ctx, 404)
	require.ErrorIs(t, err, ErrVoucherNotFound)
}

func TestConcurrentApprovalsSameStage(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryVoucherRepo()
	svc := NewService(repo, nil, nil)
	allotmentID := seedAllotment(repo, "500000.00")
	voucher := seedSubmittedVoucher(t, svc, repo, "10000.00", allotmentID, false)

	errs := make(chan error, 2)
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(actor int64) {
			defer wg.Done()
			_, err := svc.Approve(ctx, DecisionInput{VoucherID: voucher.ID, Stage: StageBudget, ActorID: actor})
			errs <- err
		}(int64(10 + i))
	}
	wg.Wait()
	close(errs)

	var succeeded, conflicted int
	for err := range errs {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, ErrStageAlreadyProcessed):
			conflicted++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	require.Equal(t, 1, succeeded)
	require.Equal(t, 1, conflicted)
}

func TestConcurrentObligationsLastBalance(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryVoucherRepo()
	svc := NewService(repo, nil, nil)
	allotmentID := seedAllotment(repo, "100000.00")

	first := seedSubmittedVoucher(t, svc, repo, "60000.00", allotmentID, false)
	second := seedSubmittedVoucher(t, svc, repo, "60000.00", allotmentID, false)
	for _, id := range []int64{first.ID, second.ID} {
		_, err := svc.Approve(ctx, DecisionInput{VoucherID: id, Stage: StageBudget, ActorID: 10})
		require.NoError(t, err)
	}

	errs := make(chan error, 2)
	var wg sync.WaitGroup
	for _, id := range []int64{first.ID, second.ID} {
		wg.Add(1)
		go func(voucherID int64) {
			defer wg.Done()
			_, err := svc.Approve(ctx, DecisionInput{VoucherID: voucherID, Stage: StageAccounting, ActorID: 20})
			errs <- err
		}(id)
	}
	wg.Wait()
	close(errs)

	var succeeded, insufficient int
	for err := range errs {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, budget.ErrInsufficientBudget):
			insufficient++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	require.Equal(t, 1, succeeded, "only one voucher may obligate the last balance")
	require.Equal(t, 1, insufficient)
}

func TestMarkPaidAndCancel(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryVoucherRepo()
	svc := NewService(repo, nil, nil)
	allotmentID := seedAllotment(repo, "500000.00")

	voucher := seedSubmittedVoucher(t, svc, repo, "10000.00", allotmentID, false)
	err := svc.MarkPaid(ctx, voucher.ID, 1)
	require.ErrorIs(t, err, ErrInvalidState)

	for _, stage := range []Stage{StageBudget, StageAccounting, StageDirector} {
		_, err := svc.Approve(ctx, DecisionInput{VoucherID: voucher.ID, Stage: stage, ActorID: 10})
		require.NoError(t, err)
	}
	require.NoError(t, svc.MarkPaid(ctx, voucher.ID, 1))
	current, _ := svc.GetVoucher(ctx, voucher.ID)
	require.Equal(t, StatusPaid, current.Status)

	draft, err := svc.CreateVoucher(ctx, CreateVoucherInput{
		Payee:               "Supplier",
		Amount:              dec("500.00"),
		FundCluster:         "01",
		ObjectOfExpenditure: "5-02-03-010",
		AllotmentID:         allotmentID,
		CreatedBy:           1,
	})
	require.NoError(t, err)
	require.NoError(t, svc.CancelVoucher(ctx, draft.ID, 1))
	cancelled, _ := svc.GetVoucher(ctx, draft.ID)
	require.Equal(t, StatusCancelled, cancelled.Status)
	err = svc.CancelVoucher(ctx, draft.ID, 1)
	require.ErrorIs(t, err, ErrInvalidState)
}
