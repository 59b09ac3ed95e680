/*
Package fee provides the tuition fee engine.

PURPOSE:
  This package turns a subject's pricing (course fee, discount, admission
  fee) into an installment schedule, replays the subject's receipts onto
  that schedule, and mirrors every due and received amount into a balanced
  double-entry ledger.

KEY CONCEPTS IN THIS FILE (types.go):
  - Subject: the student whose fees are tracked
  - PricingConfig: inputs to schedule generation
  - Installment: one scheduled portion of the net fee
  - Receipt / PaymentLine: money received, split by payment method
  - LedgerTransaction / LedgerEntry / Account: double-entry bookkeeping

DESIGN PRINCIPLES:
  1. Replay, don't patch: paid amounts are always recomputed from the full
     receipt history (allocation.go)
  2. Precision: Money wraps decimal.Decimal (money.go)
  3. Idempotent posting: an installment or receipt links to at most one
     ledger transaction, which is updated in place (ledger.go)
  4. Explicit call graph: the Service calls the generator, the allocator
     and the poster directly inside one atomic unit (service.go)

SEE ALSO:
  - schedule.go: FeeScheduleGenerator
  - allocation.go: PaymentAllocator
  - ledger.go: LedgerPoster
  - service.go: FeeStructureService
  - store.go: persistence interfaces
*/
package fee

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type SubjectID string
type InstallmentID string
type ReceiptID string
type TransactionID string
type AccountID string

// =============================================================================
// PRICING
// =============================================================================

type FeeType string

const (
	FeeTypeOneTime     FeeType = "one_time"
	FeeTypeInstallment FeeType = "installment"
	FeeTypeFinance     FeeType = "finance"
)

func (t FeeType) Valid() bool {
	switch t {
	case FeeTypeOneTime, FeeTypeInstallment, FeeTypeFinance:
		return true
	}
	return false
}

type InstallmentType string

const (
	InstallmentRegular InstallmentType = "regular" // fixed 4 months
	InstallmentSpecial InstallmentType = "special" // fixed 5500.00 per month
	InstallmentCustom  InstallmentType = "custom"  // caller-chosen month count
)

func (t InstallmentType) Valid() bool {
	switch t {
	case InstallmentRegular, InstallmentSpecial, InstallmentCustom:
		return true
	}
	return false
}

// PricingConfig is the input of schedule generation. It is stored on the
// Subject but never persisted as its own entity.
type PricingConfig struct {
	CourseFee       *Money // nil when no course is selected
	Discount        Money
	AdmissionFee    Money
	FeeType         FeeType
	InstallmentType InstallmentType
	CustomMonths    int
	StartDate       time.Time

	// AdmissionFeeMethod is how the admission fee was paid. It becomes the
	// single line of the subject's admission-fee receipt.
	AdmissionFeeMethod PaymentMethod
}

// NetAmount is course fee - discount - admission fee, floored at zero.
// A missing course fee yields zero.
func (c PricingConfig) NetAmount() Money {
	if c.CourseFee == nil {
		return Zero()
	}
	return c.CourseFee.Sub(c.Discount).Sub(c.AdmissionFee).FloorZero()
}

// MaxInstallments caps the length of any generated schedule.
const MaxInstallments = 120

// Months returns the custom month count, defaulting to 1 when unset.
func (c PricingConfig) Months() int {
	if c.CustomMonths < 1 {
		return 1
	}
	return c.CustomMonths
}

// Validate reports configurations that cannot produce a schedule.
// A custom month count below 1 is not an error; Months() defaults it.
func (c PricingConfig) Validate() error {
	if c.CourseFee == nil {
		return &InvalidPricingConfigError{Field: "course_fee", Reason: "no course fee"}
	}
	if c.CourseFee.IsNegative() {
		return &InvalidPricingConfigError{Field: "course_fee", Reason: "must not be negative"}
	}
	if c.Discount.IsNegative() {
		return &InvalidPricingConfigError{Field: "discount", Reason: "must not be negative"}
	}
	if c.AdmissionFee.IsNegative() {
		return &InvalidPricingConfigError{Field: "admission_fee", Reason: "must not be negative"}
	}
	if !c.FeeType.Valid() {
		return &InvalidPricingConfigError{Field: "fee_type", Reason: "unknown fee type " + string(c.FeeType)}
	}
	if c.FeeType == FeeTypeInstallment && !c.InstallmentType.Valid() {
		return &InvalidPricingConfigError{Field: "installment_type", Reason: "installment type is required"}
	}
	if c.StartDate.IsZero() {
		return &InvalidPricingConfigError{Field: "start_date", Reason: "start date is required"}
	}
	if c.StartDate.Year() > 9000 {
		return &InvalidPricingConfigError{Field: "start_date", Reason: "year out of range"}
	}
	if c.CustomMonths > MaxInstallments {
		return &InvalidPricingConfigError{Field: "custom_months",
			Reason: fmt.Sprintf("at most %d months", MaxInstallments)}
	}
	if c.FeeType == FeeTypeInstallment && c.InstallmentType == InstallmentSpecial {
		count := c.NetAmount().Value.Div(SpecialInstallmentSize.Value).Ceil()
		if count.GreaterThan(decimal.NewFromInt(MaxInstallments)) {
			return &InvalidPricingConfigError{Field: "course_fee",
				Reason: fmt.Sprintf("special plan needs more than %d installments", MaxInstallments)}
		}
	}
	return nil
}

// =============================================================================
// SUBJECT
// =============================================================================

// Subject is the person fees are tracked for (an admitted student).
type Subject struct {
	ID        SubjectID
	Name      string
	Scope     string    // branch; selects system accounts
	AccountID AccountID // receivable ledger account; empty until provisioned
	Pricing   PricingConfig
	Active    bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// SubjectFilter selects subjects for bulk operations. Zero value = all.
type SubjectFilter struct {
	IDs        []SubjectID
	Scope      string
	ActiveOnly bool
}

func (f SubjectFilter) Matches(s Subject) bool {
	if f.ActiveOnly && !s.Active {
		return false
	}
	if f.Scope != "" && f.Scope != s.Scope {
		return false
	}
	if len(f.IDs) == 0 {
		return true
	}
	for _, id := range f.IDs {
		if id == s.ID {
			return true
		}
	}
	return false
}

// =============================================================================
// INSTALLMENT
// =============================================================================

type Installment struct {
	ID            InstallmentID
	SubjectID     SubjectID
	Sequence      int
	Name          string
	Amount        Money
	PaidAmount    Money
	DueDate       *time.Time
	PaymentDate   *time.Time
	Paid          bool
	TransactionID TransactionID // fee-due posting; empty until posted
	CreatedAt     time.Time
}

// DueAmount is what is still owed, never negative.
func (i Installment) DueAmount() Money {
	return i.Amount.Sub(i.PaidAmount).FloorZero()
}

func (i Installment) IsOverdue(today time.Time) bool {
	if i.Paid || i.DueDate == nil {
		return false
	}
	return DateOnly(*i.DueDate).Before(DateOnly(today))
}

func (i Installment) IsDueInMonth(today time.Time) bool {
	if i.Paid || i.DueDate == nil {
		return false
	}
	return i.DueDate.Year() == today.Year() && i.DueDate.Month() == today.Month()
}

type InstallmentStatus string

const (
	StatusPaid         InstallmentStatus = "paid"
	StatusOverdue      InstallmentStatus = "overdue"
	StatusDueThisMonth InstallmentStatus = "due_this_month"
	StatusUpcoming     InstallmentStatus = "upcoming"
)

func (i Installment) Status(today time.Time) InstallmentStatus {
	switch {
	case i.Paid:
		return StatusPaid
	case i.IsOverdue(today):
		return StatusOverdue
	case i.IsDueInMonth(today):
		return StatusDueThisMonth
	default:
		return StatusUpcoming
	}
}

// =============================================================================
// RECEIPT
// =============================================================================

type PaymentMethod string

const (
	MethodCash     PaymentMethod = "cash"
	MethodBank     PaymentMethod = "bank"
	MethodRazorpay PaymentMethod = "razorpay"
)

// Normalize lowercases the method; the empty method is treated as cash.
func (m PaymentMethod) Normalize() PaymentMethod {
	n := PaymentMethod(strings.ToLower(strings.TrimSpace(string(m))))
	if n == "" {
		return MethodCash
	}
	return n
}

func (m PaymentMethod) IsCash() bool { return m.Normalize() == MethodCash }

type ReceiptKind string

const (
	ReceiptTuition      ReceiptKind = "tuition"
	ReceiptAdmissionFee ReceiptKind = "admission_fee"
)

type PaymentLine struct {
	Method PaymentMethod
	Amount Money
	Note   string
}

// Receipt is money received from a subject. Its total is always the sum of
// its lines and is never stored.
type Receipt struct {
	ID            ReceiptID
	SubjectID     SubjectID
	Number        string
	Date          time.Time
	Kind          ReceiptKind
	Note          string
	Lines         []PaymentLine
	TransactionID TransactionID
	Active        bool
	CreatedAt     time.Time
}

func (r Receipt) Total() Money {
	total := Zero()
	for _, l := range r.Lines {
		total = total.Add(l.Amount)
	}
	return total
}

// Validate enforces a non-empty set of positive lines.
func (r Receipt) Validate() error {
	if r.SubjectID == "" {
		return &InvalidReceiptError{Reason: "subject is required"}
	}
	if r.Date.IsZero() {
		return &InvalidReceiptError{Reason: "date is required"}
	}
	if len(r.Lines) == 0 {
		return &InvalidReceiptError{Reason: "at least one payment line is required"}
	}
	for i, l := range r.Lines {
		if !l.Amount.IsPositive() {
			return &InvalidReceiptError{Reason: "payment line amount must be positive", Line: i + 1}
		}
	}
	return nil
}

// =============================================================================
// LEDGER
// =============================================================================

type AccountRole string

const (
	RoleReceivable    AccountRole = "receivable"
	RoleCashOnHand    AccountRole = "cash-on-hand"
	RoleBank          AccountRole = "bank"
	RoleTuitionIncome AccountRole = "tuition-income"
)

// Account is a ledger account. System accounts are keyed by (Scope, Role);
// subject receivable accounts also carry the SubjectID.
type Account struct {
	ID        AccountID
	Scope     string
	Role      AccountRole
	Name      string
	SubjectID SubjectID
	CreatedAt time.Time
}

type TransactionType string

const (
	TxFeeDue     TransactionType = "fee-due"
	TxFeeReceipt TransactionType = "fee-receipt"
)

// LedgerTransaction is a balanced set of entries for one financial event.
type LedgerTransaction struct {
	ID             TransactionID
	Type           TransactionType
	Date           time.Time
	Scope          string
	SubjectID      SubjectID
	Voucher        string
	Narration      string
	Status         string
	TotalAmount    Money
	ReceivedAmount Money
	BalanceAmount  Money
	Entries        []LedgerEntry
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// LedgerEntry carries a debit or a credit, never both, never zero.
type LedgerEntry struct {
	ID            string
	TransactionID TransactionID
	AccountID     AccountID
	Debit         Money
	Credit        Money
	Description   string
}

func (t LedgerTransaction) Debits() Money {
	total := Zero()
	for _, e := range t.Entries {
		total = total.Add(e.Debit)
	}
	return total
}

func (t LedgerTransaction) Credits() Money {
	total := Zero()
	for _, e := range t.Entries {
		total = total.Add(e.Credit)
	}
	return total
}
