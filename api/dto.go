/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the fee domain model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

TYPES:
  Subjects:      SubjectDTO, CreateSubjectRequest, SubjectFilterRequest
  Schedule:      SchedulePreviewDTO, ScheduleLineDTO, InstallmentDTO
  Receipts:      ReceiptDTO, PaymentLineDTO, ReceiptResultDTO
  Ledger:        TransactionDTO, EntryDTO, SyncLedgerRequest
  Overview:      OverviewDTO
  Scenarios:     ScenarioDTO, LoadScenarioRequest

VALIDATION:
  Validation is done by the factory and the fee package, not in DTOs.
  DTOs are pure data carriers. Money fields serialize as fixed 2dp strings.

SEE ALSO:
  - handlers.go: Uses these types
  - factory/pricing.go: PricingJSON and ReceiptJSON
*/
package api

import (
	"time"

	"github.com/warp/tuition-engine/factory"
	"github.com/warp/tuition-engine/fee"
)

// =============================================================================
// SUBJECTS
// =============================================================================

type SubjectDTO struct {
	ID        string               `json:"id"`
	Name      string               `json:"name"`
	Scope     string               `json:"scope"`
	AccountID string               `json:"account_id,omitempty"`
	Active    bool                 `json:"active"`
	NetAmount fee.Money            `json:"net_amount"`
	Pricing   *factory.PricingJSON `json:"pricing,omitempty"`
	CreatedAt string               `json:"created_at,omitempty"`
	UpdatedAt string               `json:"updated_at,omitempty"`
}

// CreateSubjectRequest registers a subject. Pricing is optional; without
// it no schedule is built.
type CreateSubjectRequest struct {
	Name             string               `json:"name"`
	Scope            string               `json:"scope"`
	Pricing          *factory.PricingJSON `json:"pricing,omitempty"`
	ProvisionAccount *bool                `json:"provision_account,omitempty"` // default true
}

type SubjectFilterRequest struct {
	IDs        []string `json:"ids,omitempty"`
	Scope      string   `json:"scope,omitempty"`
	ActiveOnly bool     `json:"active_only,omitempty"`
}

func (r SubjectFilterRequest) toFilter() fee.SubjectFilter {
	f := fee.SubjectFilter{Scope: r.Scope, ActiveOnly: r.ActiveOnly}
	for _, id := range r.IDs {
		f.IDs = append(f.IDs, fee.SubjectID(id))
	}
	return f
}

// =============================================================================
// SCHEDULE
// =============================================================================

type ScheduleLineDTO struct {
	Sequence    int       `json:"sequence"`
	Label       string    `json:"label"`
	DueDate     string    `json:"due_date"`
	PaymentDate string    `json:"payment_date"`
	Amount      fee.Money `json:"amount"`
}

type SchedulePreviewDTO struct {
	NetAmount    fee.Money         `json:"net_amount"`
	Installments []ScheduleLineDTO `json:"installments"`
}

type InstallmentDTO struct {
	ID            string    `json:"id"`
	Sequence      int       `json:"sequence"`
	Name          string    `json:"name"`
	Amount        fee.Money `json:"amount"`
	PaidAmount    fee.Money `json:"paid_amount"`
	DueAmount     fee.Money `json:"due_amount"`
	DueDate       string    `json:"due_date,omitempty"`
	PaymentDate   string    `json:"payment_date,omitempty"`
	Paid          bool      `json:"paid"`
	Status        string    `json:"status,omitempty"`
	TransactionID string    `json:"transaction_id,omitempty"`
}

type RefreshResultDTO struct {
	SubjectID    string           `json:"subject_id"`
	Installments []InstallmentDTO `json:"installments"`
	Unallocated  fee.Money        `json:"unallocated"`
	DuesPosted   int              `json:"dues_posted"`
}

// =============================================================================
// RECEIPTS
// =============================================================================

type PaymentLineDTO struct {
	Method string    `json:"method"`
	Amount fee.Money `json:"amount"`
	Note   string    `json:"note,omitempty"`
}

type ReceiptDTO struct {
	ID            string           `json:"id"`
	SubjectID     string           `json:"subject_id"`
	Number        string           `json:"number,omitempty"`
	Date          string           `json:"date"`
	Kind          string           `json:"kind"`
	Note          string           `json:"note,omitempty"`
	Total         fee.Money        `json:"total"`
	Lines         []PaymentLineDTO `json:"lines"`
	TransactionID string           `json:"transaction_id,omitempty"`
}

type ReceiptResultDTO struct {
	Receipt      ReceiptDTO       `json:"receipt"`
	Transaction  *TransactionDTO  `json:"transaction,omitempty"`
	Installments []InstallmentDTO `json:"installments"`
	Unallocated  fee.Money        `json:"unallocated"`
	PostingError string           `json:"posting_error,omitempty"`
}

// =============================================================================
// LEDGER
// =============================================================================

type EntryDTO struct {
	ID          string    `json:"id"`
	AccountID   string    `json:"account_id"`
	Debit       fee.Money `json:"debit"`
	Credit      fee.Money `json:"credit"`
	Description string    `json:"description,omitempty"`
}

type TransactionDTO struct {
	ID             string     `json:"id"`
	Type           string     `json:"type"`
	Date           string     `json:"date"`
	Scope          string     `json:"scope"`
	SubjectID      string     `json:"subject_id"`
	Voucher        string     `json:"voucher"`
	Narration      string     `json:"narration,omitempty"`
	Status         string     `json:"status"`
	TotalAmount    fee.Money  `json:"total_amount"`
	ReceivedAmount fee.Money  `json:"received_amount"`
	BalanceAmount  fee.Money  `json:"balance_amount"`
	Entries        []EntryDTO `json:"entries"`
}

// SyncLedgerRequest posts dues up to AsOf (default today).
type SyncLedgerRequest struct {
	SubjectFilterRequest
	AsOf string `json:"as_of,omitempty"`
}

// =============================================================================
// OVERVIEW
// =============================================================================

type OverviewDTO struct {
	SubjectID     string           `json:"subject_id"`
	AsOf          string           `json:"as_of"`
	NetAmount     fee.Money        `json:"net_amount"`
	AdmissionFee  fee.Money        `json:"admission_fee"`
	Scheduled     fee.Money        `json:"scheduled"`
	Paid          fee.Money        `json:"paid"`
	Due           fee.Money        `json:"due"`
	Overdue       fee.Money        `json:"overdue"`
	DueThisMonth  fee.Money        `json:"due_this_month"`
	Unallocated   fee.Money        `json:"unallocated"`
	NextDue       *InstallmentDTO  `json:"next_due,omitempty"`
	Installments  []InstallmentDTO `json:"installments"`
	ReceiptsCount int              `json:"receipts_count"`
}

// =============================================================================
// SCENARIOS
// =============================================================================

type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Category    string `json:"category"`
}

type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func toSubjectDTO(s fee.Subject, pf *factory.PricingFactory) SubjectDTO {
	dto := SubjectDTO{
		ID:        string(s.ID),
		Name:      s.Name,
		Scope:     s.Scope,
		AccountID: string(s.AccountID),
		Active:    s.Active,
		NetAmount: s.Pricing.NetAmount(),
		CreatedAt: formatTimestamp(s.CreatedAt),
		UpdatedAt: formatTimestamp(s.UpdatedAt),
	}
	if s.Pricing.FeeType != "" {
		pj := pf.ToJSON(s.Pricing)
		dto.Pricing = &pj
	}
	return dto
}

func toInstallmentDTO(inst fee.Installment) InstallmentDTO {
	return InstallmentDTO{
		ID:            string(inst.ID),
		Sequence:      inst.Sequence,
		Name:          inst.Name,
		Amount:        inst.Amount,
		PaidAmount:    inst.PaidAmount,
		DueAmount:     inst.DueAmount(),
		DueDate:       formatDatePtr(inst.DueDate),
		PaymentDate:   formatDatePtr(inst.PaymentDate),
		Paid:          inst.Paid,
		TransactionID: string(inst.TransactionID),
	}
}

func toInstallmentDTOs(installments []fee.Installment, today time.Time) []InstallmentDTO {
	dtos := make([]InstallmentDTO, len(installments))
	for i, inst := range installments {
		dtos[i] = toInstallmentDTO(inst)
		dtos[i].Status = string(inst.Status(today))
	}
	return dtos
}

func toReceiptDTO(r fee.Receipt) ReceiptDTO {
	dto := ReceiptDTO{
		ID:            string(r.ID),
		SubjectID:     string(r.SubjectID),
		Number:        r.Number,
		Date:          fee.FormatDate(r.Date),
		Kind:          string(r.Kind),
		Note:          r.Note,
		Total:         r.Total(),
		Lines:         make([]PaymentLineDTO, len(r.Lines)),
		TransactionID: string(r.TransactionID),
	}
	for i, l := range r.Lines {
		dto.Lines[i] = PaymentLineDTO{Method: string(l.Method), Amount: l.Amount, Note: l.Note}
	}
	return dto
}

func toTransactionDTO(tx fee.LedgerTransaction) TransactionDTO {
	dto := TransactionDTO{
		ID:             string(tx.ID),
		Type:           string(tx.Type),
		Date:           fee.FormatDate(tx.Date),
		Scope:          tx.Scope,
		SubjectID:      string(tx.SubjectID),
		Voucher:        tx.Voucher,
		Narration:      tx.Narration,
		Status:         tx.Status,
		TotalAmount:    tx.TotalAmount,
		ReceivedAmount: tx.ReceivedAmount,
		BalanceAmount:  tx.BalanceAmount,
		Entries:        make([]EntryDTO, len(tx.Entries)),
	}
	for i, e := range tx.Entries {
		dto.Entries[i] = EntryDTO{
			ID:          e.ID,
			AccountID:   string(e.AccountID),
			Debit:       e.Debit,
			Credit:      e.Credit,
			Description: e.Description,
		}
	}
	return dto
}

func toOverviewDTO(o *fee.Overview) OverviewDTO {
	dto := OverviewDTO{
		SubjectID:     string(o.SubjectID),
		AsOf:          fee.FormatDate(o.AsOf),
		NetAmount:     o.NetAmount,
		AdmissionFee:  o.AdmissionFee,
		Scheduled:     o.Scheduled,
		Paid:          o.Paid,
		Due:           o.Due,
		Overdue:       o.Overdue,
		DueThisMonth:  o.DueThisMonth,
		Unallocated:   o.Unallocated,
		Installments:  make([]InstallmentDTO, len(o.Installments)),
		ReceiptsCount: o.ReceiptsCount,
	}
	for i, v := range o.Installments {
		dto.Installments[i] = viewDTO(v)
	}
	if o.NextDue != nil {
		next := viewDTO(*o.NextDue)
		dto.NextDue = &next
	}
	return dto
}

func viewDTO(v fee.InstallmentView) InstallmentDTO {
	dto := toInstallmentDTO(v.Installment)
	dto.DueAmount = v.DueAmount
	dto.Status = string(v.Status)
	return dto
}

func formatDatePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return fee.FormatDate(*t)
}

func formatTimestamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(time.RFC3339)
}
