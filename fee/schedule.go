/*
schedule.go - Fee schedule generation

PURPOSE:
  Converts a PricingConfig into an ordered list of installments with due
  dates and amounts. Pure and deterministic: the same config always yields
  the same schedule, which is what makes preview-before-save possible and
  lets a refresh reproduce the schedule a subject already has.

SPLITTING STRATEGIES:
  one_time / finance   One "Full Payment" installment for the net amount,
                       due on the start date.
  installment/regular  4 installments of floor(net/4); remainder on the last.
  installment/special  Fixed 5500.00 installments, ceil(net/5500) of them;
                       the last takes what is left (never more than 5500).
  installment/custom   CustomMonths installments (1 if unset), same rounding
                       as regular.

DATES:
  Start day < 20   first installment in the start month
  Start day >= 20  first installment in the following month
  Each further installment is one month later. Payment date is the 5th,
  due date the 10th.

EXAMPLE:
  net 1000.00, custom 3 months, start 2025-01-15
    1  333.33  pay 2025-01-05  due 2025-01-10
    2  333.33  pay 2025-02-05  due 2025-02-10
    3  333.34  pay 2025-03-05  due 2025-03-10
*/
package fee

import (
	"fmt"
	"time"
)

const (
	RegularInstallmentCount = 4
	LateJoinDay             = 20 // joining on/after this day starts billing next month
	PaymentDay              = 5
	DueDay                  = 10
)

// SpecialInstallmentSize is the fixed amount of a "special" installment.
var SpecialInstallmentSize = MustMoney("5500.00")

// GenerateSchedule builds the installment set for cfg. Installments carry no
// IDs or subject; the service assigns those when it persists them.
func GenerateSchedule(cfg PricingConfig) ([]Installment, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	net := cfg.NetAmount()
	if !net.IsPositive() {
		return nil, nil
	}

	start := DateOnly(cfg.StartDate)

	switch cfg.FeeType {
	case FeeTypeOneTime, FeeTypeFinance:
		return []Installment{{
			Sequence:    1,
			Name:        "Full Payment",
			Amount:      net,
			DueDate:     datePtr(start),
			PaymentDate: datePtr(start),
		}}, nil
	}

	var amounts []Money
	switch cfg.InstallmentType {
	case InstallmentRegular:
		amounts = splitEven(net, RegularInstallmentCount)
	case InstallmentSpecial:
		amounts = splitFixed(net, SpecialInstallmentSize)
	case InstallmentCustom:
		amounts = splitEven(net, cfg.Months())
	}

	return datedInstallments(amounts, start), nil
}

// splitEven floors each part to cents and adds the remainder to the last part
// so the parts sum to net exactly.
func splitEven(net Money, n int) []Money {
	base := net.DivFloor(n)
	amounts := make([]Money, n)
	for i := range amounts {
		amounts[i] = base
	}
	amounts[n-1] = base.Add(net.Sub(base.Mul(n)))
	return amounts
}

// splitFixed emits size-sized parts; the last part holds the true remainder.
func splitFixed(net, size Money) []Money {
	count := int(net.Value.Div(size.Value).Ceil().IntPart())
	amounts := make([]Money, 0, count)
	remaining := net
	for i := 0; i < count; i++ {
		if i == count-1 {
			amounts = append(amounts, remaining)
			break
		}
		amounts = append(amounts, size)
		remaining = remaining.Sub(size)
	}
	return amounts
}

// datedInstallments assigns month slots and drops zero-amount parts. The
// surviving installments are numbered contiguously from 1 but keep the month
// slot of their original position.
func datedInstallments(amounts []Money, start time.Time) []Installment {
	firstOffset := 0
	if start.Day() >= LateJoinDay {
		firstOffset = 1
	}

	installments := make([]Installment, 0, len(amounts))
	for i, amt := range amounts {
		if !amt.IsPositive() {
			continue
		}
		seq := len(installments) + 1
		installments = append(installments, Installment{
			Sequence:    seq,
			Name:        fmt.Sprintf("Installment %d", seq),
			Amount:      amt,
			PaymentDate: datePtr(DayInMonth(start, firstOffset+i, PaymentDay)),
			DueDate:     datePtr(DayInMonth(start, firstOffset+i, DueDay)),
		})
	}
	return installments
}

// =============================================================================
// PREVIEW - What pricing screens show before the config is saved
// =============================================================================

type ScheduleLine struct {
	Sequence    int
	Label       string
	DueDate     time.Time
	PaymentDate time.Time
	Amount      Money
}

type SchedulePreview struct {
	NetAmount Money
	Lines     []ScheduleLine
}

// PreviewSchedule runs the generator and flattens the result for display.
// Nothing is persisted.
func PreviewSchedule(cfg PricingConfig) (SchedulePreview, error) {
	installments, err := GenerateSchedule(cfg)
	if err != nil {
		return SchedulePreview{}, err
	}

	preview := SchedulePreview{
		NetAmount: cfg.NetAmount(),
		Lines:     make([]ScheduleLine, len(installments)),
	}
	for i, inst := range installments {
		preview.Lines[i] = ScheduleLine{
			Sequence:    inst.Sequence,
			Label:       inst.Name,
			DueDate:     *inst.DueDate,
			PaymentDate: *inst.PaymentDate,
			Amount:      inst.Amount,
		}
	}
	return preview, nil
}
