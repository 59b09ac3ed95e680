/*
service.go - FeeStructureService, the orchestration layer

PURPOSE:
  Owns the call graph between the generator, the allocator and the poster.
  Nothing here reacts to persistence events: each operation states what it
  recomputes and calls the pieces in order.

OPERATIONS:
  UpdatePricing   persist pricing fields, then Refresh
  Refresh         regenerate the schedule, replay receipts, post due dues
  SaveReceipt     create or edit a receipt, replay, post it
  DeleteReceipt   deactivate a receipt, replay, void its transaction
  PostDues        post installments that are due as of a date
  SyncLedger      PostDues plus re-posting every receipt, for many subjects
  BulkRefresh     Refresh for many subjects with bounded parallelism

ATOMICITY:
  Every mutating operation takes the subject lock, then runs inside one
  TxStore.WithTx. Only one failure is tolerated without rollback: a receipt
  whose subject has no ledger account is still saved, and the posting error
  is handed back in ReceiptResult.PostingError.

REFRESH FLOW:
  1. validate + generate schedule
  2. sync the admission-fee receipt
  3. void due transactions of the old installments
  4. replace installments with the replayed new schedule
  5. post dues with DueDate <= today
*/
package fee

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const defaultBulkConcurrency = 4

// Service is the FeeStructureService.
type Service struct {
	store           TxStore
	locker          SubjectLocker
	logger          *zap.Logger
	clock           Clock
	instr           Instrumentation
	bulkConcurrency int
}

type Option func(*Service)

func WithLocker(l SubjectLocker) Option { return func(s *Service) { s.locker = l } }

// WithLogger sets the logger. A nil logger disables logging.
func WithLogger(l *zap.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

func WithClock(c Clock) Option { return func(s *Service) { s.clock = c } }

func WithInstrumentation(i Instrumentation) Option {
	return func(s *Service) {
		if i != nil {
			s.instr = i
		}
	}
}

func WithBulkConcurrency(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.bulkConcurrency = n
		}
	}
}

func NewService(store TxStore, opts ...Option) *Service {
	s := &Service{
		store:           store,
		locker:          NewKeyedMutex(),
		logger:          zap.NewNop(),
		instr:           NoopInstrumentation{},
		bulkConcurrency: defaultBulkConcurrency,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Today is the service clock's current day.
func (s *Service) Today() time.Time { return s.clock.Today() }

// =============================================================================
// REQUESTS / RESULTS
// =============================================================================

type SubjectRegistration struct {
	Name             string
	Scope            string
	Pricing          PricingConfig
	ProvisionAccount bool // create the receivable ledger account
}

type PricingUpdateRequest struct {
	SubjectID SubjectID
	Pricing   PricingConfig
}

type RefreshResult struct {
	SubjectID    SubjectID
	Installments []Installment
	Unallocated  Money
	DuesPosted   int
}

// ReceiptSaveRequest creates a receipt when ReceiptID is empty and edits the
// existing one otherwise.
type ReceiptSaveRequest struct {
	ReceiptID ReceiptID
	SubjectID SubjectID
	Number    string
	Date      time.Time
	Note      string
	Lines     []PaymentLine
}

type ReceiptResult struct {
	Receipt      Receipt
	Transaction  *LedgerTransaction
	Installments []Installment
	Unallocated  Money

	// PostingError is set when the receipt was saved but could not be
	// posted because a ledger account is missing.
	PostingError error
}

type RefreshReport struct {
	Refreshed int `json:"refreshed"`
	Skipped   int `json:"skipped"`
	Failed    int `json:"failed"`
}

type SyncReport struct {
	Subjects       int `json:"subjects"`
	DuesPosted     int `json:"dues_posted"`
	ReceiptsPosted int `json:"receipts_posted"`
	Failed         int `json:"failed"`
}

// =============================================================================
// SUBJECTS
// =============================================================================

// RegisterSubject stores a new subject, optionally with its receivable
// account, and builds its schedule when a fee type is set.
func (s *Service) RegisterSubject(ctx context.Context, reg SubjectRegistration) (*Subject, error) {
	if reg.Pricing.FeeType != "" {
		if err := reg.Pricing.Validate(); err != nil {
			return nil, err
		}
	}

	now := s.clock.Now()
	subject := Subject{
		ID:        NewSubjectID(),
		Name:      reg.Name,
		Scope:     reg.Scope,
		Pricing:   reg.Pricing,
		Active:    true,
		CreatedAt: now,
		UpdatedAt: now,
	}

	err := s.store.WithTx(ctx, func(st Store) error {
		if reg.ProvisionAccount {
			acct := NewReceivableAccount(subject)
			if err := st.SaveAccount(ctx, acct); err != nil {
				return fmt.Errorf("save receivable account: %w", err)
			}
			subject.AccountID = acct.ID
		}
		if err := st.SaveSubject(ctx, subject); err != nil {
			return fmt.Errorf("save subject: %w", err)
		}
		if subject.Pricing.FeeType == "" {
			return nil
		}
		_, err := s.refresh(ctx, st, subject)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("subject registered",
		zap.String("subject_id", string(subject.ID)),
		zap.String("scope", subject.Scope),
		zap.Bool("has_account", subject.AccountID != ""))
	return &subject, nil
}

func (s *Service) GetSubject(ctx context.Context, id SubjectID) (*Subject, error) {
	return s.loadSubject(ctx, s.store, id)
}

func (s *Service) ListSubjects(ctx context.Context, filter SubjectFilter) ([]Subject, error) {
	return s.store.ListSubjects(ctx, filter)
}

func (s *Service) ListInstallments(ctx context.Context, id SubjectID) ([]Installment, error) {
	if _, err := s.loadSubject(ctx, s.store, id); err != nil {
		return nil, err
	}
	return s.store.ListInstallments(ctx, id)
}

func (s *Service) ListReceipts(ctx context.Context, id SubjectID) ([]Receipt, error) {
	if _, err := s.loadSubject(ctx, s.store, id); err != nil {
		return nil, err
	}
	return s.store.ListReceipts(ctx, id)
}

func (s *Service) GetTransaction(ctx context.Context, id TransactionID) (*LedgerTransaction, error) {
	tx, err := s.store.GetTransaction(ctx, id)
	if err != nil {
		return nil, err
	}
	if tx == nil {
		return nil, fmt.Errorf("%w: %s", ErrTransactionNotFound, id)
	}
	return tx, nil
}

// =============================================================================
// PRICING / REFRESH
// =============================================================================

// UpdatePricing stores the pricing fields and rebuilds the schedule.
func (s *Service) UpdatePricing(ctx context.Context, req PricingUpdateRequest) (*RefreshResult, error) {
	if err := req.Pricing.Validate(); err != nil {
		return nil, err
	}

	var result *RefreshResult
	err := s.withSubjectLock(ctx, req.SubjectID, func() error {
		return s.store.WithTx(ctx, func(st Store) error {
			subject, err := s.loadSubject(ctx, st, req.SubjectID)
			if err != nil {
				return err
			}
			subject.Pricing = req.Pricing
			subject.UpdatedAt = s.clock.Now()
			if err := st.SaveSubject(ctx, *subject); err != nil {
				return fmt.Errorf("save subject: %w", err)
			}
			result, err = s.refresh(ctx, st, *subject)
			return err
		})
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Refresh rebuilds the subject's schedule from its stored pricing.
func (s *Service) Refresh(ctx context.Context, id SubjectID) (*RefreshResult, error) {
	start := time.Now()
	var result *RefreshResult
	err := s.withSubjectLock(ctx, id, func() error {
		return s.store.WithTx(ctx, func(st Store) error {
			subject, err := s.loadSubject(ctx, st, id)
			if err != nil {
				return err
			}
			result, err = s.refresh(ctx, st, *subject)
			return err
		})
	})

	switch {
	case errors.Is(err, ErrNoFeeType):
		s.instr.RefreshFinished(OutcomeSkipped, time.Since(start))
	case err != nil:
		s.instr.RefreshFinished(OutcomeFailed, time.Since(start))
	default:
		s.instr.RefreshFinished(OutcomeRefreshed, time.Since(start))
	}
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Service) refresh(ctx context.Context, st Store, subject Subject) (*RefreshResult, error) {
	if subject.Pricing.FeeType == "" {
		return nil, fmt.Errorf("%w: %s", ErrNoFeeType, subject.ID)
	}
	schedule, err := GenerateSchedule(subject.Pricing)
	if err != nil {
		return nil, err
	}

	log := s.logger.With(zap.String("subject_id", string(subject.ID)))
	poster := s.poster(st)

	if err := s.syncAdmissionReceipt(ctx, st, poster, subject); err != nil {
		return nil, err
	}

	old, err := st.ListInstallments(ctx, subject.ID)
	if err != nil {
		return nil, fmt.Errorf("list installments: %w", err)
	}
	for _, inst := range old {
		if err := poster.VoidTransaction(ctx, inst.TransactionID); err != nil {
			return nil, err
		}
	}

	now := s.clock.Now()
	for i := range schedule {
		schedule[i].ID = NewInstallmentID()
		schedule[i].SubjectID = subject.ID
		schedule[i].CreatedAt = now
	}

	receipts, err := s.tuitionReceipts(ctx, st, subject.ID)
	if err != nil {
		return nil, err
	}
	alloc := Allocate(schedule, receipts, "")
	if err := alloc.Check(subject.ID); err != nil {
		log.Warn("allocation exceeds schedule", zap.Error(err))
	}
	if err := st.ReplaceInstallments(ctx, subject.ID, alloc.Installments); err != nil {
		return nil, fmt.Errorf("replace installments: %w", err)
	}

	posted, err := s.postDues(ctx, poster, subject, alloc.Installments, s.clock.Today())
	if err != nil {
		return nil, err
	}

	s.instr.ScheduleGenerated(subject.Pricing.FeeType, len(schedule))
	s.instr.ReceiptAllocated(alloc.Allocated, alloc.Unallocated)
	log.Info("schedule refreshed",
		zap.Int("installments", len(schedule)),
		zap.String("net_amount", subject.Pricing.NetAmount().String()),
		zap.String("allocated", alloc.Allocated.String()),
		zap.Int("dues_posted", posted))

	return &RefreshResult{
		SubjectID:    subject.ID,
		Installments: alloc.Installments,
		Unallocated:  alloc.Unallocated,
		DuesPosted:   posted,
	}, nil
}

// AdmissionReceiptID is the fixed ID of a subject's admission-fee receipt.
func AdmissionReceiptID(id SubjectID) ReceiptID {
	return ReceiptID("adm-" + string(id))
}

// syncAdmissionReceipt keeps one admission-fee receipt per subject in step
// with the pricing: created or updated while the fee is positive,
// deactivated when it drops to zero.
func (s *Service) syncAdmissionReceipt(ctx context.Context, st Store, poster *LedgerPoster, subject Subject) error {
	id := AdmissionReceiptID(subject.ID)
	existing, err := st.GetReceipt(ctx, id)
	if err != nil {
		return fmt.Errorf("load admission receipt: %w", err)
	}

	amount := subject.Pricing.AdmissionFee
	if !amount.IsPositive() {
		if existing == nil || !existing.Active {
			return nil
		}
		if err := poster.VoidTransaction(ctx, existing.TransactionID); err != nil {
			return err
		}
		existing.Active = false
		existing.TransactionID = ""
		return st.SaveReceipt(ctx, *existing)
	}

	r := Receipt{
		ID:        id,
		SubjectID: subject.ID,
		Kind:      ReceiptAdmissionFee,
		CreatedAt: s.clock.Now(),
	}
	if existing != nil {
		r = *existing
	}
	r.Date = DateOnly(subject.Pricing.StartDate)
	r.Note = "Admission Fee"
	r.Lines = []PaymentLine{{Method: subject.Pricing.AdmissionFeeMethod.Normalize(), Amount: amount}}
	r.Active = true
	if err := st.SaveReceipt(ctx, r); err != nil {
		return fmt.Errorf("save admission receipt: %w", err)
	}

	if _, err := poster.PostReceipt(ctx, subject, &r); err != nil {
		if !errors.Is(err, ErrMissingLedgerAccount) {
			return err
		}
		s.instr.PostingFailed(TxFeeReceipt, err)
		s.logger.Warn("admission fee not posted",
			zap.String("subject_id", string(subject.ID)), zap.Error(err))
		return nil
	}
	s.instr.TransactionPosted(TxFeeReceipt)
	return nil
}

// =============================================================================
// RECEIPTS
// =============================================================================

// SaveReceipt creates or edits a receipt, replays the subject's receipts and
// posts the receipt to the ledger.
func (s *Service) SaveReceipt(ctx context.Context, req ReceiptSaveRequest) (*ReceiptResult, error) {
	subjectID := req.SubjectID
	if req.ReceiptID != "" {
		existing, err := s.store.GetReceipt(ctx, req.ReceiptID)
		if err != nil {
			return nil, err
		}
		if err := checkEditable(existing, req.ReceiptID, subjectID); err != nil {
			return nil, err
		}
		subjectID = existing.SubjectID
	}

	draft := Receipt{
		SubjectID: subjectID,
		Number:    req.Number,
		Date:      DateOnly(req.Date),
		Kind:      ReceiptTuition,
		Note:      req.Note,
		Lines:     normalizeLines(req.Lines),
		Active:    true,
	}
	if err := draft.Validate(); err != nil {
		return nil, err
	}

	var result *ReceiptResult
	err := s.withSubjectLock(ctx, subjectID, func() error {
		return s.store.WithTx(ctx, func(st Store) error {
			subject, err := s.loadSubject(ctx, st, subjectID)
			if err != nil {
				return err
			}

			r := draft
			if req.ReceiptID == "" {
				r.ID = NewReceiptID()
				r.CreatedAt = s.clock.Now()
			} else {
				// Re-checked under the lock: a concurrent delete may have won.
				existing, err := st.GetReceipt(ctx, req.ReceiptID)
				if err != nil {
					return err
				}
				if err := checkEditable(existing, req.ReceiptID, subjectID); err != nil {
					return err
				}
				r.ID = existing.ID
				r.Kind = existing.Kind
				r.CreatedAt = existing.CreatedAt
				r.TransactionID = existing.TransactionID
			}
			if err := st.SaveReceipt(ctx, r); err != nil {
				return fmt.Errorf("save receipt: %w", err)
			}

			alloc, err := s.replay(ctx, st, *subject)
			if err != nil {
				return err
			}

			result = &ReceiptResult{Installments: alloc.Installments, Unallocated: alloc.Unallocated}
			poster := s.poster(st)
			tx, err := poster.PostReceipt(ctx, *subject, &r)
			switch {
			case errors.Is(err, ErrMissingLedgerAccount):
				s.instr.PostingFailed(TxFeeReceipt, err)
				s.logger.Warn("receipt saved without ledger posting",
					zap.String("subject_id", string(subjectID)),
					zap.String("receipt_id", string(r.ID)),
					zap.Error(err))
				result.PostingError = err
			case err != nil:
				s.instr.PostingFailed(TxFeeReceipt, err)
				return err
			default:
				s.instr.TransactionPosted(TxFeeReceipt)
				result.Transaction = tx
			}
			result.Receipt = r
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("receipt saved",
		zap.String("subject_id", string(subjectID)),
		zap.String("receipt_id", string(result.Receipt.ID)),
		zap.String("total", result.Receipt.Total().String()))
	return result, nil
}

// DeleteReceipt deactivates a receipt, voids its transaction and replays the
// remaining receipts.
func (s *Service) DeleteReceipt(ctx context.Context, id ReceiptID) (*ReceiptResult, error) {
	found, err := s.store.GetReceipt(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := checkEditable(found, id, ""); err != nil {
		return nil, err
	}

	var result *ReceiptResult
	err = s.withSubjectLock(ctx, found.SubjectID, func() error {
		return s.store.WithTx(ctx, func(st Store) error {
			r, err := st.GetReceipt(ctx, id)
			if err != nil {
				return err
			}
			if err := checkEditable(r, id, found.SubjectID); err != nil {
				return err
			}
			subject, err := s.loadSubject(ctx, st, r.SubjectID)
			if err != nil {
				return err
			}

			poster := s.poster(st)
			if err := poster.VoidTransaction(ctx, r.TransactionID); err != nil {
				return err
			}
			r.Active = false
			r.TransactionID = ""
			if err := st.SaveReceipt(ctx, *r); err != nil {
				return fmt.Errorf("save receipt: %w", err)
			}

			alloc, err := s.replay(ctx, st, *subject)
			if err != nil {
				return err
			}
			result = &ReceiptResult{Receipt: *r, Installments: alloc.Installments, Unallocated: alloc.Unallocated}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("receipt deleted",
		zap.String("subject_id", string(found.SubjectID)),
		zap.String("receipt_id", string(id)))
	return result, nil
}

// replay recomputes and persists paid state for all of the subject's
// installments.
func (s *Service) replay(ctx context.Context, st Store, subject Subject) (Allocation, error) {
	installments, err := st.ListInstallments(ctx, subject.ID)
	if err != nil {
		return Allocation{}, fmt.Errorf("list installments: %w", err)
	}
	receipts, err := s.tuitionReceipts(ctx, st, subject.ID)
	if err != nil {
		return Allocation{}, err
	}

	alloc := Allocate(installments, receipts, "")
	if err := alloc.Check(subject.ID); err != nil {
		s.logger.Warn("allocation exceeds schedule",
			zap.String("subject_id", string(subject.ID)), zap.Error(err))
	}
	for _, inst := range alloc.Installments {
		if err := st.UpdateInstallment(ctx, inst); err != nil {
			return Allocation{}, fmt.Errorf("update installment %s: %w", inst.ID, err)
		}
	}
	s.instr.ReceiptAllocated(alloc.Allocated, alloc.Unallocated)
	return alloc, nil
}

// tuitionReceipts returns the active receipts that count toward the
// schedule. The admission-fee receipt is paid outside the schedule.
func (s *Service) tuitionReceipts(ctx context.Context, st Store, id SubjectID) ([]Receipt, error) {
	all, err := st.ListReceipts(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("list receipts: %w", err)
	}
	receipts := make([]Receipt, 0, len(all))
	for _, r := range all {
		if r.Active && r.Kind != ReceiptAdmissionFee {
			receipts = append(receipts, r)
		}
	}
	return receipts, nil
}

func normalizeLines(lines []PaymentLine) []PaymentLine {
	out := make([]PaymentLine, len(lines))
	for i, l := range lines {
		out[i] = PaymentLine{Method: l.Method.Normalize(), Amount: MoneyFromDecimal(l.Amount.Value), Note: l.Note}
	}
	return out
}

// =============================================================================
// PREVIEWS - Read only
// =============================================================================

// PreviewSchedule shows the schedule cfg would produce. Nothing is stored.
func (s *Service) PreviewSchedule(cfg PricingConfig) (SchedulePreview, error) {
	return PreviewSchedule(cfg)
}

// PreviewAllocation replays the subject's receipts without the excluded one,
// showing balances as they stood before that receipt.
func (s *Service) PreviewAllocation(ctx context.Context, id SubjectID, exclude ReceiptID) (Allocation, error) {
	if _, err := s.loadSubject(ctx, s.store, id); err != nil {
		return Allocation{}, err
	}
	installments, err := s.store.ListInstallments(ctx, id)
	if err != nil {
		return Allocation{}, fmt.Errorf("list installments: %w", err)
	}
	receipts, err := s.tuitionReceipts(ctx, s.store, id)
	if err != nil {
		return Allocation{}, err
	}
	return Allocate(installments, receipts, exclude), nil
}

// =============================================================================
// LEDGER MAINTENANCE
// =============================================================================

// PostDues posts every installment due on or before asOf that has no
// transaction yet. It returns the number of new postings.
func (s *Service) PostDues(ctx context.Context, id SubjectID, asOf time.Time) (int, error) {
	var posted int
	err := s.withSubjectLock(ctx, id, func() error {
		return s.store.WithTx(ctx, func(st Store) error {
			subject, err := s.loadSubject(ctx, st, id)
			if err != nil {
				return err
			}
			installments, err := st.ListInstallments(ctx, id)
			if err != nil {
				return fmt.Errorf("list installments: %w", err)
			}
			poster := s.poster(st)
			posted, err = s.postDues(ctx, poster, *subject, installments, asOf)
			return err
		})
	})
	return posted, err
}

// postDues posts due installments in place. A subject without a ledger
// account is logged and skipped rather than failing the caller.
func (s *Service) postDues(ctx context.Context, poster *LedgerPoster, subject Subject, installments []Installment, asOf time.Time) (int, error) {
	asOf = DateOnly(asOf)
	posted := 0
	for i := range installments {
		inst := &installments[i]
		if inst.DueDate == nil || inst.DueDate.After(asOf) || inst.TransactionID != "" {
			continue
		}
		_, err := poster.PostDue(ctx, subject, inst)
		if errors.Is(err, ErrMissingLedgerAccount) {
			s.instr.PostingFailed(TxFeeDue, err)
			s.logger.Warn("dues not posted",
				zap.String("subject_id", string(subject.ID)), zap.Error(err))
			return posted, nil
		}
		if err != nil {
			s.instr.PostingFailed(TxFeeDue, err)
			return posted, err
		}
		s.instr.TransactionPosted(TxFeeDue)
		posted++
	}
	return posted, nil
}

// SyncLedger posts outstanding dues and re-posts every active receipt of the
// matching subjects. Failures are counted per subject.
func (s *Service) SyncLedger(ctx context.Context, filter SubjectFilter, asOf time.Time) (SyncReport, error) {
	subjects, err := s.store.ListSubjects(ctx, filter)
	if err != nil {
		return SyncReport{}, fmt.Errorf("list subjects: %w", err)
	}

	var report SyncReport
	for _, subject := range subjects {
		report.Subjects++
		dues, receipts, err := s.syncSubject(ctx, subject.ID, asOf)
		if err != nil {
			report.Failed++
			s.logger.Error("ledger sync failed",
				zap.String("subject_id", string(subject.ID)), zap.Error(err))
			continue
		}
		report.DuesPosted += dues
		report.ReceiptsPosted += receipts
	}

	s.logger.Info("ledger sync finished",
		zap.Int("subjects", report.Subjects),
		zap.Int("dues_posted", report.DuesPosted),
		zap.Int("receipts_posted", report.ReceiptsPosted),
		zap.Int("failed", report.Failed))
	return report, nil
}

func (s *Service) syncSubject(ctx context.Context, id SubjectID, asOf time.Time) (dues, receipts int, err error) {
	err = s.withSubjectLock(ctx, id, func() error {
		return s.store.WithTx(ctx, func(st Store) error {
			subject, err := s.loadSubject(ctx, st, id)
			if err != nil {
				return err
			}
			poster := s.poster(st)

			installments, err := st.ListInstallments(ctx, id)
			if err != nil {
				return fmt.Errorf("list installments: %w", err)
			}
			if dues, err = s.postDues(ctx, poster, *subject, installments, asOf); err != nil {
				return err
			}

			all, err := st.ListReceipts(ctx, id)
			if err != nil {
				return fmt.Errorf("list receipts: %w", err)
			}
			for i := range all {
				if !all[i].Active {
					continue
				}
				if _, err := poster.PostReceipt(ctx, *subject, &all[i]); err != nil {
					return err
				}
				s.instr.TransactionPosted(TxFeeReceipt)
				receipts++
			}
			return nil
		})
	})
	return dues, receipts, err
}

// BulkRefresh refreshes every matching subject. Subjects without a fee type
// are skipped; failures are logged and counted, never fatal.
func (s *Service) BulkRefresh(ctx context.Context, filter SubjectFilter) (RefreshReport, error) {
	subjects, err := s.store.ListSubjects(ctx, filter)
	if err != nil {
		return RefreshReport{}, fmt.Errorf("list subjects: %w", err)
	}

	var (
		mu     sync.Mutex
		report RefreshReport
		g      errgroup.Group
	)
	g.SetLimit(s.bulkConcurrency)

	for _, subject := range subjects {
		id := subject.ID
		g.Go(func() error {
			_, err := s.Refresh(ctx, id)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case errors.Is(err, ErrNoFeeType):
				report.Skipped++
			case err != nil:
				report.Failed++
				s.logger.Error("refresh failed", zap.String("subject_id", string(id)), zap.Error(err))
			default:
				report.Refreshed++
			}
			return nil
		})
	}
	_ = g.Wait()

	s.logger.Info("bulk refresh finished",
		zap.Int("refreshed", report.Refreshed),
		zap.Int("skipped", report.Skipped),
		zap.Int("failed", report.Failed))
	return report, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func (s *Service) withSubjectLock(ctx context.Context, id SubjectID, fn func() error) error {
	unlock, err := s.locker.Lock(ctx, id)
	if err != nil {
		return err
	}
	defer unlock()
	return fn()
}

func (s *Service) poster(st Store) *LedgerPoster {
	return NewLedgerPoster(st, NewStoreAccountResolver(st), s.clock)
}

// checkEditable rejects receipts that are gone, inactive, owned by another
// subject, or managed by the pricing (the admission fee).
func checkEditable(r *Receipt, id ReceiptID, subjectID SubjectID) error {
	if r == nil || !r.Active {
		return fmt.Errorf("%w: %s", ErrReceiptNotFound, id)
	}
	if subjectID != "" && subjectID != r.SubjectID {
		return &InvalidReceiptError{Reason: "receipt belongs to another subject"}
	}
	if r.Kind == ReceiptAdmissionFee {
		return &InvalidReceiptError{Reason: "admission fee receipt follows the subject's pricing"}
	}
	return nil
}

func (s *Service) loadSubject(ctx context.Context, st Store, id SubjectID) (*Subject, error) {
	subject, err := st.GetSubject(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load subject %s: %w", id, err)
	}
	if subject == nil {
		return nil, fmt.Errorf("%w: %s", ErrSubjectNotFound, id)
	}
	return subject, nil
}
