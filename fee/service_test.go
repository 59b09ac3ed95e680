package fee_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/warp/tuition-engine/fee"
	"github.com/warp/tuition-engine/fee/store"
)

var serviceToday = fee.Date(2025, 5, 20)

func newTestService(t *testing.T) (*fee.Service, *store.TxMemory) {
	t.Helper()
	mem := store.NewTxMemory()
	svc := fee.NewService(mem,
		fee.WithLogger(zap.NewNop()),
		fee.WithClock(func() time.Time { return serviceToday }))
	return svc, mem
}

// regularPricing bills 500 on the 10th of April through July 2025.
func regularPricing() fee.PricingConfig {
	course := fee.MustMoney("2000")
	return fee.PricingConfig{
		CourseFee:       &course,
		FeeType:         fee.FeeTypeInstallment,
		InstallmentType: fee.InstallmentRegular,
		StartDate:       fee.Date(2025, 4, 3),
	}
}

func register(t *testing.T, svc *fee.Service, pricing fee.PricingConfig, withAccount bool) *fee.Subject {
	t.Helper()
	subject, err := svc.RegisterSubject(context.Background(), fee.SubjectRegistration{
		Name:             "Asha",
		Scope:            "north",
		Pricing:          pricing,
		ProvisionAccount: withAccount,
	})
	require.NoError(t, err)
	return subject
}

func cash(amount string) []fee.PaymentLine {
	return []fee.PaymentLine{{Method: fee.MethodCash, Amount: fee.MustMoney(amount)}}
}

func paidAmounts(installments []fee.Installment) []string {
	out := make([]string, len(installments))
	for i, inst := range installments {
		out[i] = inst.PaidAmount.String()
	}
	return out
}

func TestService_RegisterSubject(t *testing.T) {
	svc, _ := newTestService(t)

	subject := register(t, svc, regularPricing(), true)

	assert.NotEmpty(t, subject.AccountID)
	installments, err := svc.ListInstallments(context.Background(), subject.ID)
	require.NoError(t, err)
	require.Len(t, installments, 4)

	// April and May are due by the 20th of May.
	assert.NotEmpty(t, installments[0].TransactionID)
	assert.NotEmpty(t, installments[1].TransactionID)
	assert.Empty(t, installments[2].TransactionID)
}

func TestService_RegisterSubject_NoFeeType(t *testing.T) {
	svc, _ := newTestService(t)

	subject := register(t, svc, fee.PricingConfig{}, true)

	installments, err := svc.ListInstallments(context.Background(), subject.ID)
	require.NoError(t, err)
	assert.Empty(t, installments)

	_, err = svc.Refresh(context.Background(), subject.ID)
	assert.ErrorIs(t, err, fee.ErrNoFeeType)
}

func TestService_UpdatePricing_ReplaysReceipts(t *testing.T) {
	// GIVEN: A 700 receipt on a regular schedule
	ctx := context.Background()
	svc, _ := newTestService(t)
	subject := register(t, svc, regularPricing(), true)
	_, err := svc.SaveReceipt(ctx, fee.ReceiptSaveRequest{
		SubjectID: subject.ID, Date: fee.Date(2025, 4, 5), Lines: cash("700"),
	})
	require.NoError(t, err)

	// WHEN: Switching to a two-month custom plan
	pricing := regularPricing()
	pricing.InstallmentType = fee.InstallmentCustom
	pricing.CustomMonths = 2
	result, err := svc.UpdatePricing(ctx, fee.PricingUpdateRequest{SubjectID: subject.ID, Pricing: pricing})

	// THEN: The receipt is replayed onto the new installments
	require.NoError(t, err)
	assert.Equal(t, []string{"700.00", "0.00"}, paidAmounts(result.Installments))
	assert.Equal(t, "1000.00", result.Installments[0].Amount.String())
	assert.Equal(t, 2, result.DuesPosted)
}

func TestService_AdmissionReceipt(t *testing.T) {
	// GIVEN: Pricing with an admission fee
	ctx := context.Background()
	svc, _ := newTestService(t)
	pricing := regularPricing()
	course := fee.MustMoney("2300")
	pricing.CourseFee = &course
	pricing.AdmissionFee = fee.MustMoney("300")
	pricing.AdmissionFeeMethod = fee.MethodBank

	// WHEN: Registering
	subject := register(t, svc, pricing, true)

	// THEN: An admission receipt exists but does not pay installments
	receipts, err := svc.ListReceipts(ctx, subject.ID)
	require.NoError(t, err)
	require.Len(t, receipts, 1)
	adm := receipts[0]
	assert.Equal(t, fee.AdmissionReceiptID(subject.ID), adm.ID)
	assert.Equal(t, fee.ReceiptAdmissionFee, adm.Kind)
	assert.Equal(t, "300.00", adm.Total().String())
	assert.NotEmpty(t, adm.TransactionID)

	overview, err := svc.Overview(ctx, subject.ID, serviceToday)
	require.NoError(t, err)
	assert.Equal(t, "2000.00", overview.NetAmount.String())
	assert.True(t, overview.Paid.IsZero())
	assert.Equal(t, 0, overview.ReceiptsCount)

	_, err = svc.SaveReceipt(ctx, fee.ReceiptSaveRequest{
		ReceiptID: adm.ID, Date: serviceToday, Lines: cash("1"),
	})
	assert.ErrorIs(t, err, fee.ErrInvalidReceipt)

	// WHEN: The admission fee is removed
	pricing.AdmissionFee = fee.Zero()
	_, err = svc.UpdatePricing(ctx, fee.PricingUpdateRequest{SubjectID: subject.ID, Pricing: pricing})
	require.NoError(t, err)

	// THEN: The receipt is deactivated
	receipts, err = svc.ListReceipts(ctx, subject.ID)
	require.NoError(t, err)
	assert.Empty(t, receipts)
}

func TestService_SaveReceipt_MissingAccount(t *testing.T) {
	// GIVEN: A subject without a receivable account
	ctx := context.Background()
	svc, _ := newTestService(t)
	subject := register(t, svc, regularPricing(), false)

	// WHEN: Saving a receipt
	result, err := svc.SaveReceipt(ctx, fee.ReceiptSaveRequest{
		SubjectID: subject.ID, Date: fee.Date(2025, 4, 5), Lines: cash("500"),
	})

	// THEN: It is stored and allocated, with the posting failure reported
	require.NoError(t, err)
	assert.ErrorIs(t, result.PostingError, fee.ErrMissingLedgerAccount)
	assert.Nil(t, result.Transaction)
	assert.True(t, result.Installments[0].Paid)

	receipts, err := svc.ListReceipts(ctx, subject.ID)
	require.NoError(t, err)
	assert.Len(t, receipts, 1)
}

func TestService_SaveReceipt_Edit(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)
	subject := register(t, svc, regularPricing(), true)
	created, err := svc.SaveReceipt(ctx, fee.ReceiptSaveRequest{
		SubjectID: subject.ID, Date: fee.Date(2025, 4, 5), Lines: cash("700"),
	})
	require.NoError(t, err)

	edited, err := svc.SaveReceipt(ctx, fee.ReceiptSaveRequest{
		ReceiptID: created.Receipt.ID, Date: fee.Date(2025, 4, 5), Lines: cash("300"),
	})

	require.NoError(t, err)
	assert.Equal(t, created.Receipt.ID, edited.Receipt.ID)
	assert.Equal(t, created.Transaction.ID, edited.Transaction.ID)
	assert.Equal(t, []string{"300.00", "0.00", "0.00", "0.00"}, paidAmounts(edited.Installments))
}

func TestService_SaveReceipt_Invalid(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)
	subject := register(t, svc, regularPricing(), true)

	tests := []struct {
		name    string
		req     fee.ReceiptSaveRequest
		wantErr error
	}{
		{"no lines", fee.ReceiptSaveRequest{SubjectID: subject.ID, Date: serviceToday}, fee.ErrInvalidReceipt},
		{"zero line", fee.ReceiptSaveRequest{SubjectID: subject.ID, Date: serviceToday, Lines: cash("0")}, fee.ErrInvalidReceipt},
		{"unknown subject", fee.ReceiptSaveRequest{SubjectID: "nope", Date: serviceToday, Lines: cash("1")}, fee.ErrSubjectNotFound},
		{"unknown receipt", fee.ReceiptSaveRequest{ReceiptID: "nope", Date: serviceToday, Lines: cash("1")}, fee.ErrReceiptNotFound},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.SaveReceipt(ctx, tc.req)
			assert.ErrorIs(t, err, tc.wantErr)
		})
	}
}

func TestService_DeleteReceipt(t *testing.T) {
	// GIVEN: Two receipts
	ctx := context.Background()
	svc, _ := newTestService(t)
	subject := register(t, svc, regularPricing(), true)
	first, err := svc.SaveReceipt(ctx, fee.ReceiptSaveRequest{
		SubjectID: subject.ID, Date: fee.Date(2025, 4, 5), Lines: cash("500"),
	})
	require.NoError(t, err)
	_, err = svc.SaveReceipt(ctx, fee.ReceiptSaveRequest{
		SubjectID: subject.ID, Date: fee.Date(2025, 5, 5), Lines: cash("200"),
	})
	require.NoError(t, err)

	// WHEN: Deleting the first
	result, err := svc.DeleteReceipt(ctx, first.Receipt.ID)

	// THEN: The remaining receipt is replayed from the oldest installment
	require.NoError(t, err)
	assert.False(t, result.Receipt.Active)
	assert.Equal(t, []string{"200.00", "0.00", "0.00", "0.00"}, paidAmounts(result.Installments))

	_, err = svc.GetTransaction(ctx, first.Transaction.ID)
	assert.ErrorIs(t, err, fee.ErrTransactionNotFound)

	_, err = svc.DeleteReceipt(ctx, first.Receipt.ID)
	assert.ErrorIs(t, err, fee.ErrReceiptNotFound)
}

func TestService_PreviewAllocation_Exclude(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)
	subject := register(t, svc, regularPricing(), true)
	saved, err := svc.SaveReceipt(ctx, fee.ReceiptSaveRequest{
		SubjectID: subject.ID, Date: fee.Date(2025, 4, 5), Lines: cash("700"),
	})
	require.NoError(t, err)

	alloc, err := svc.PreviewAllocation(ctx, subject.ID, saved.Receipt.ID)

	require.NoError(t, err)
	assert.True(t, alloc.Allocated.IsZero())
	stored, err := svc.ListInstallments(ctx, subject.ID)
	require.NoError(t, err)
	assert.Equal(t, "500.00", stored[0].PaidAmount.String(), "preview must not persist")
}

func TestService_SyncLedger_Idempotent(t *testing.T) {
	// GIVEN: A subject with April and May dues already posted and one receipt
	ctx := context.Background()
	svc, _ := newTestService(t)
	subject := register(t, svc, regularPricing(), true)
	_, err := svc.SaveReceipt(ctx, fee.ReceiptSaveRequest{
		SubjectID: subject.ID, Date: fee.Date(2025, 4, 5), Lines: cash("700"),
	})
	require.NoError(t, err)

	// WHEN: Syncing through the end of July twice
	asOf := fee.Date(2025, 7, 31)
	first, err := svc.SyncLedger(ctx, fee.SubjectFilter{}, asOf)
	require.NoError(t, err)
	second, err := svc.SyncLedger(ctx, fee.SubjectFilter{}, asOf)
	require.NoError(t, err)

	// THEN: Only the first run posts new dues
	assert.Equal(t, fee.SyncReport{Subjects: 1, DuesPosted: 2, ReceiptsPosted: 1}, first)
	assert.Equal(t, fee.SyncReport{Subjects: 1, DuesPosted: 0, ReceiptsPosted: 1}, second)
}

func TestService_PostDues_MissingAccountSkips(t *testing.T) {
	svc, _ := newTestService(t)
	subject := register(t, svc, regularPricing(), false)

	posted, err := svc.PostDues(context.Background(), subject.ID, fee.Date(2025, 7, 31))

	require.NoError(t, err)
	assert.Zero(t, posted)
}

func TestService_BulkRefresh(t *testing.T) {
	// GIVEN: One refreshable subject, one without a fee type and one broken
	ctx := context.Background()
	svc, mem := newTestService(t)
	register(t, svc, regularPricing(), true)
	register(t, svc, fee.PricingConfig{}, true)

	broken := regularPricing()
	broken.InstallmentType = ""
	require.NoError(t, mem.SaveSubject(ctx, fee.Subject{ID: "broken", Scope: "north", Pricing: broken, Active: true}))

	// WHEN: Refreshing everyone
	report, err := svc.BulkRefresh(ctx, fee.SubjectFilter{})

	// THEN: Each outcome is counted
	require.NoError(t, err)
	assert.Equal(t, fee.RefreshReport{Refreshed: 1, Skipped: 1, Failed: 1}, report)

	// AND: A filter narrows the run
	report, err = svc.BulkRefresh(ctx, fee.SubjectFilter{IDs: []fee.SubjectID{"broken"}})
	require.NoError(t, err)
	assert.Equal(t, fee.RefreshReport{Failed: 1}, report)
}

func TestService_Refresh_KeepsPaidState(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)
	subject := register(t, svc, regularPricing(), true)
	_, err := svc.SaveReceipt(ctx, fee.ReceiptSaveRequest{
		SubjectID: subject.ID, Date: fee.Date(2025, 4, 5), Lines: cash("1200"),
	})
	require.NoError(t, err)

	result, err := svc.Refresh(ctx, subject.ID)

	require.NoError(t, err)
	assert.Equal(t, []string{"500.00", "500.00", "200.00", "0.00"}, paidAmounts(result.Installments))
	assert.Equal(t, 2, result.DuesPosted)
}

func TestService_Overview(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)
	subject := register(t, svc, regularPricing(), true)
	_, err := svc.SaveReceipt(ctx, fee.ReceiptSaveRequest{
		SubjectID: subject.ID, Date: fee.Date(2025, 4, 5), Lines: cash("700"),
	})
	require.NoError(t, err)

	overview, err := svc.Overview(ctx, subject.ID, serviceToday)

	require.NoError(t, err)
	assert.Equal(t, "2000.00", overview.Scheduled.String())
	assert.Equal(t, "700.00", overview.Paid.String())
	assert.Equal(t, "1300.00", overview.Due.String())
	assert.Equal(t, "300.00", overview.Overdue.String())
	assert.True(t, overview.DueThisMonth.IsZero())
	require.NotNil(t, overview.NextDue)
	assert.Equal(t, 2, overview.NextDue.Sequence)
	assert.Equal(t, 1, overview.ReceiptsCount)
}

func TestService_ConcurrentReceipts(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)
	subject := register(t, svc, regularPricing(), true)

	done := make(chan error, 4)
	for i := 0; i < 4; i++ {
		go func() {
			_, err := svc.SaveReceipt(ctx, fee.ReceiptSaveRequest{
				SubjectID: subject.ID, Date: fee.Date(2025, 4, 5), Lines: cash("100"),
			})
			done <- err
		}()
	}
	for i := 0; i < 4; i++ {
		require.NoError(t, <-done)
	}

	overview, err := svc.Overview(ctx, subject.ID, serviceToday)
	require.NoError(t, err)
	assert.Equal(t, "400.00", overview.Paid.String())
}

// hookLocker runs before once, just before granting its first lock.
type hookLocker struct {
	inner  *fee.KeyedMutex
	once   sync.Once
	before func()
}

func (l *hookLocker) Lock(ctx context.Context, id fee.SubjectID) (func(), error) {
	l.once.Do(l.before)
	return l.inner.Lock(ctx, id)
}

func TestService_SaveReceipt_DeletedWhileWaitingForLock(t *testing.T) {
	// GIVEN: Two services on one store; the first is about to edit a receipt
	ctx := context.Background()
	svcB, mem := newTestService(t)
	subject := register(t, svcB, regularPricing(), true)
	saved, err := svcB.SaveReceipt(ctx, fee.ReceiptSaveRequest{
		SubjectID: subject.ID, Date: fee.Date(2025, 4, 5), Lines: cash("500"),
	})
	require.NoError(t, err)
	rid := saved.Receipt.ID

	locker := &hookLocker{inner: fee.NewKeyedMutex()}
	locker.before = func() {
		_, err := svcB.DeleteReceipt(ctx, rid)
		require.NoError(t, err)
	}
	svcA := fee.NewService(mem,
		fee.WithLogger(zap.NewNop()),
		fee.WithClock(func() time.Time { return serviceToday }),
		fee.WithLocker(locker))

	// WHEN: The delete commits before the edit takes the subject lock
	_, err = svcA.SaveReceipt(ctx, fee.ReceiptSaveRequest{
		ReceiptID: rid, Date: fee.Date(2025, 4, 5), Lines: cash("300"),
	})

	// THEN: The edit is refused and the receipt stays deleted
	require.ErrorIs(t, err, fee.ErrReceiptNotFound)
	stored, err := mem.GetReceipt(ctx, rid)
	require.NoError(t, err)
	assert.False(t, stored.Active)

	overview, err := svcA.Overview(ctx, subject.ID, serviceToday)
	require.NoError(t, err)
	assert.True(t, overview.Paid.IsZero())
}

func TestService_DeleteReceipt_AdmissionFeeRejected(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)
	pricing := regularPricing()
	course := fee.MustMoney("2300")
	pricing.CourseFee = &course
	pricing.AdmissionFee = fee.MustMoney("300")
	subject := register(t, svc, pricing, true)

	_, err := svc.DeleteReceipt(ctx, fee.AdmissionReceiptID(subject.ID))

	require.ErrorIs(t, err, fee.ErrInvalidReceipt)
	receipts, err := svc.ListReceipts(ctx, subject.ID)
	require.NoError(t, err)
	require.Len(t, receipts, 1)
	assert.True(t, receipts[0].Active)
}
