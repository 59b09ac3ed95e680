package fee

import (
	"context"
	"time"
)

// =============================================================================
// OVERVIEW - Fee position of one subject as of a day
// =============================================================================

type InstallmentView struct {
	Installment
	DueAmount Money
	Status    InstallmentStatus
}

type Overview struct {
	SubjectID     SubjectID
	AsOf          time.Time
	NetAmount     Money
	AdmissionFee  Money
	Scheduled     Money
	Paid          Money
	Due           Money
	Overdue       Money
	DueThisMonth  Money
	Unallocated   Money
	NextDue       *InstallmentView
	Installments  []InstallmentView
	ReceiptsCount int
}

// Overview summarizes the subject's installments against today. Paid state
// comes from a fresh replay, not from what is stored.
func (s *Service) Overview(ctx context.Context, id SubjectID, today time.Time) (*Overview, error) {
	subject, err := s.loadSubject(ctx, s.store, id)
	if err != nil {
		return nil, err
	}
	alloc, err := s.PreviewAllocation(ctx, id, "")
	if err != nil {
		return nil, err
	}
	receipts, err := s.tuitionReceipts(ctx, s.store, id)
	if err != nil {
		return nil, err
	}
	return Summarize(*subject, alloc, len(receipts), today), nil
}

// Summarize builds an Overview from a replayed allocation.
func Summarize(subject Subject, alloc Allocation, receipts int, today time.Time) *Overview {
	today = DateOnly(today)
	o := &Overview{
		SubjectID:     subject.ID,
		AsOf:          today,
		NetAmount:     subject.Pricing.NetAmount(),
		AdmissionFee:  subject.Pricing.AdmissionFee,
		Scheduled:     Zero(),
		Paid:          Zero(),
		Due:           Zero(),
		Overdue:       Zero(),
		DueThisMonth:  Zero(),
		Unallocated:   alloc.Unallocated,
		Installments:  make([]InstallmentView, 0, len(alloc.Installments)),
		ReceiptsCount: receipts,
	}

	for _, inst := range alloc.Installments {
		view := InstallmentView{Installment: inst, DueAmount: inst.DueAmount(), Status: inst.Status(today)}
		o.Installments = append(o.Installments, view)

		o.Scheduled = o.Scheduled.Add(inst.Amount)
		o.Paid = o.Paid.Add(inst.PaidAmount)
		o.Due = o.Due.Add(view.DueAmount)
		switch view.Status {
		case StatusOverdue:
			o.Overdue = o.Overdue.Add(view.DueAmount)
		case StatusDueThisMonth:
			o.DueThisMonth = o.DueThisMonth.Add(view.DueAmount)
		}
	}

	for i := range o.Installments {
		v := &o.Installments[i]
		if v.Paid || v.DueDate == nil {
			continue
		}
		if o.NextDue == nil || v.DueDate.Before(*o.NextDue.DueDate) {
			o.NextDue = v
		}
	}
	return o
}
