/*
allocation.go - Replay allocation of receipts onto installments

PURPOSE:
  Recomputes every installment's paid amount from scratch by walking the
  subject's receipts in order and applying each one FIFO by due date.
  There is no incremental path: editing, deleting or back-dating a receipt
  is handled by simply replaying again.

ORDERING:
  Receipts:      (Date asc, ID asc). IDs are time-ordered UUIDs, so ties on
                 the same day fall back to creation order.
  Installments:  (DueDate asc); installments without a due date go last,
                 by CreatedAt then Sequence.

EXCLUDE MODE:
  Allocate(..., exclude) skips one receipt. Receipt edit screens use it to
  show the balances as they were before that receipt was applied.

LEFTOVERS:
  Money beyond the total of all installments is not an error. It is
  returned as Allocation.Unallocated.
*/
package fee

import (
	"sort"
)

// Allocation is the result of one replay.
type Allocation struct {
	Installments []Installment
	Allocated    Money
	Unallocated  Money
}

// Allocate replays receipts onto a zeroed copy of installments. The inputs
// are not modified. exclude may be empty.
func Allocate(installments []Installment, receipts []Receipt, exclude ReceiptID) Allocation {
	result := Allocation{
		Installments: make([]Installment, len(installments)),
		Allocated:    Zero(),
		Unallocated:  Zero(),
	}
	copy(result.Installments, installments)
	for i := range result.Installments {
		result.Installments[i].PaidAmount = Zero()
		result.Installments[i].Paid = false
	}

	// Walk order is fixed once; indexes point into result.Installments.
	order := make([]int, len(result.Installments))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return installmentBefore(result.Installments[order[a]], result.Installments[order[b]])
	})

	for _, r := range orderedReceipts(receipts, exclude) {
		remaining := r.Total()
		for _, idx := range order {
			if !remaining.IsPositive() {
				break
			}
			inst := &result.Installments[idx]
			if inst.Paid {
				continue
			}
			apply := inst.Amount.Sub(inst.PaidAmount).Min(remaining)
			if !apply.IsPositive() {
				continue
			}
			inst.PaidAmount = inst.PaidAmount.Add(apply)
			remaining = remaining.Sub(apply)
			result.Allocated = result.Allocated.Add(apply)
			if inst.PaidAmount.GreaterThanOrEqual(inst.Amount) {
				inst.Paid = true
			}
		}
		if remaining.IsPositive() {
			result.Unallocated = result.Unallocated.Add(remaining)
		}
	}

	return result
}

// allocationEpsilon tolerates one cent of rounding drift.
var allocationEpsilon = MustMoney("0.01")

// Check reports an AllocationInconsistencyError when more was allocated than
// scheduled. It is a warning, never a reason to fail the operation.
func (a Allocation) Check(subjectID SubjectID) error {
	scheduled, paid := Zero(), Zero()
	for _, inst := range a.Installments {
		scheduled = scheduled.Add(inst.Amount)
		paid = paid.Add(inst.PaidAmount)
	}
	if paid.Sub(scheduled).GreaterThan(allocationEpsilon) {
		return &AllocationInconsistencyError{SubjectID: subjectID, Allocated: paid, Scheduled: scheduled}
	}
	return nil
}

func orderedReceipts(receipts []Receipt, exclude ReceiptID) []Receipt {
	ordered := make([]Receipt, 0, len(receipts))
	for _, r := range receipts {
		if exclude != "" && r.ID == exclude {
			continue
		}
		ordered = append(ordered, r)
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		di, dj := DateOnly(ordered[i].Date), DateOnly(ordered[j].Date)
		if !di.Equal(dj) {
			return di.Before(dj)
		}
		return ordered[i].ID < ordered[j].ID
	})
	return ordered
}

func installmentBefore(a, b Installment) bool {
	switch {
	case a.DueDate != nil && b.DueDate != nil:
		if !a.DueDate.Equal(*b.DueDate) {
			return a.DueDate.Before(*b.DueDate)
		}
		return a.Sequence < b.Sequence
	case a.DueDate != nil:
		return true
	case b.DueDate != nil:
		return false
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.Sequence < b.Sequence
}
