package fee

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func installmentsOf(amounts ...string) []Installment {
	out := make([]Installment, len(amounts))
	for i, a := range amounts {
		due := Date(2025, time.Month(1+i), DueDay)
		out[i] = Installment{
			ID:         InstallmentID(string(rune('a' + i))),
			Sequence:   i + 1,
			Amount:     MustMoney(a),
			PaidAmount: Zero(),
			DueDate:    &due,
		}
	}
	return out
}

func receipt(id string, date string, amounts ...string) Receipt {
	d, _ := ParseDate(date)
	r := Receipt{ID: ReceiptID(id), SubjectID: "s1", Date: d, Kind: ReceiptTuition, Active: true}
	for _, a := range amounts {
		r.Lines = append(r.Lines, PaymentLine{Method: MethodCash, Amount: MustMoney(a)})
	}
	return r
}

func paid(installments []Installment) []string {
	out := make([]string, len(installments))
	for i, inst := range installments {
		out[i] = inst.PaidAmount.String()
	}
	return out
}

func TestAllocate_FIFO(t *testing.T) {
	// GIVEN: Two 500 installments and a 700 receipt
	installments := installmentsOf("500", "500")
	receipts := []Receipt{receipt("r1", "2025-01-03", "700")}

	// WHEN: Allocating
	alloc := Allocate(installments, receipts, "")

	// THEN: The earliest installment is filled first
	assert.Equal(t, []string{"500.00", "200.00"}, paid(alloc.Installments))
	assert.True(t, alloc.Installments[0].Paid)
	assert.False(t, alloc.Installments[1].Paid)
	assert.Equal(t, "700.00", alloc.Allocated.String())
	assert.True(t, alloc.Unallocated.IsZero())
}

func TestAllocate_MultiLineReceiptUsesTotal(t *testing.T) {
	installments := installmentsOf("500", "500")
	receipts := []Receipt{receipt("r1", "2025-01-03", "300", "450")}

	alloc := Allocate(installments, receipts, "")

	assert.Equal(t, []string{"500.00", "250.00"}, paid(alloc.Installments))
}

func TestAllocate_OrdersByDueDateNotSequence(t *testing.T) {
	// GIVEN: Installments stored out of due-date order
	installments := installmentsOf("500", "500")
	installments[0], installments[1] = installments[1], installments[0]

	alloc := Allocate(installments, []Receipt{receipt("r1", "2025-01-03", "500")}, "")

	// THEN: The January installment (now at index 1) is the one paid
	assert.False(t, alloc.Installments[0].Paid)
	assert.True(t, alloc.Installments[1].Paid)
}

func TestAllocate_ReceiptOrder(t *testing.T) {
	installments := installmentsOf("100", "100", "100")

	// Receipts given out of order; replay sorts by date then ID.
	receipts := []Receipt{
		receipt("r3", "2025-02-01", "50"),
		receipt("r2", "2025-01-01", "100"),
		receipt("r1", "2025-01-01", "100"),
	}

	alloc := Allocate(installments, receipts, "")

	assert.Equal(t, []string{"100.00", "100.00", "50.00"}, paid(alloc.Installments))
}

func TestAllocate_Idempotent(t *testing.T) {
	installments := installmentsOf("500", "500", "500")
	receipts := []Receipt{
		receipt("r1", "2025-01-03", "700"),
		receipt("r2", "2025-02-03", "100"),
	}

	first := Allocate(installments, receipts, "")
	second := Allocate(first.Installments, receipts, "")

	assert.Equal(t, paid(first.Installments), paid(second.Installments))
	assert.True(t, first.Allocated.Equal(second.Allocated))
}

func TestAllocate_DoesNotMutateInput(t *testing.T) {
	installments := installmentsOf("500")
	installments[0].PaidAmount = MustMoney("123")

	_ = Allocate(installments, []Receipt{receipt("r1", "2025-01-03", "500")}, "")

	assert.Equal(t, "123.00", installments[0].PaidAmount.String())
	assert.False(t, installments[0].Paid)
}

func TestAllocate_Exclude(t *testing.T) {
	installments := installmentsOf("500", "500")
	receipts := []Receipt{
		receipt("r1", "2025-01-03", "500"),
		receipt("r2", "2025-02-03", "300"),
	}

	// WHEN: Excluding the first receipt
	alloc := Allocate(installments, receipts, "r1")

	// THEN: Only the second receipt is applied, starting from the oldest due
	assert.Equal(t, []string{"300.00", "0.00"}, paid(alloc.Installments))
}

func TestAllocate_Unallocated(t *testing.T) {
	installments := installmentsOf("500")

	alloc := Allocate(installments, []Receipt{receipt("r1", "2025-01-03", "650")}, "")

	assert.True(t, alloc.Installments[0].Paid)
	assert.Equal(t, "500.00", alloc.Allocated.String())
	assert.Equal(t, "150.00", alloc.Unallocated.String())
	assert.NoError(t, alloc.Check("s1"))
}

func TestAllocate_NoReceipts(t *testing.T) {
	installments := installmentsOf("500", "500")
	installments[0].PaidAmount = MustMoney("500")
	installments[0].Paid = true

	alloc := Allocate(installments, nil, "")

	assert.Equal(t, []string{"0.00", "0.00"}, paid(alloc.Installments))
	assert.False(t, alloc.Installments[0].Paid)
}

func TestAllocation_Check(t *testing.T) {
	alloc := Allocation{Installments: installmentsOf("500")}
	alloc.Installments[0].PaidAmount = MustMoney("500.02")

	err := alloc.Check("s1")

	require.ErrorIs(t, err, ErrAllocationInconsistency)
	var incErr *AllocationInconsistencyError
	require.ErrorAs(t, err, &incErr)
	assert.Equal(t, "500.02", incErr.Allocated.String())
	assert.Equal(t, "500.00", incErr.Scheduled.String())
}
