/*
Package factory provides JSON to Go conversion for pricing and receipts.

PURPOSE:
  Converts JSON pricing and receipt documents into fee.PricingConfig and
  fee.ReceiptSaveRequest values. The HTTP layer, the CLI and the demo
  scenarios all accept the same documents, so they all go through here.

JSON SCHEMA (pricing):
  {
    "course_fee": "40000.00",
    "discount": "2000",
    "admission_fee": 1500,
    "fee_type": "installment",
    "installment_type": "custom",
    "custom_months": 6,
    "start_date": "2025-01-15",
    "admission_fee_method": "bank"
  }

  Amounts may be JSON strings or numbers. A missing or null course_fee
  means "no course selected".

JSON SCHEMA (receipt):
  {
    "number": "R-1042",
    "date": "2025-02-03",
    "note": "February installment",
    "lines": [
      {"method": "cash", "amount": "3000"},
      {"method": "razorpay", "amount": "2500", "note": "pay_Nf83..."}
    ]
  }

USAGE:
  f := factory.NewPricingFactory()
  cfg, err := f.ParsePricing(jsonString)
  preview, err := fee.PreviewSchedule(cfg)

SEE ALSO:
  - fee/types.go: PricingConfig and Receipt
  - api/dto.go: request bodies built from these types
*/
package factory

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/warp/tuition-engine/fee"
)

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

// PricingJSON is the JSON representation of a pricing config.
type PricingJSON struct {
	CourseFee          *fee.Money `json:"course_fee"`
	Discount           fee.Money  `json:"discount"`
	AdmissionFee       fee.Money  `json:"admission_fee"`
	FeeType            string     `json:"fee_type"`
	InstallmentType    string     `json:"installment_type,omitempty"`
	CustomMonths       int        `json:"custom_months,omitempty"`
	StartDate          string     `json:"start_date"` // YYYY-MM-DD
	AdmissionFeeMethod string     `json:"admission_fee_method,omitempty"`
}

// ReceiptJSON is the JSON representation of a receipt.
type ReceiptJSON struct {
	Number string     `json:"number,omitempty"`
	Date   string     `json:"date"` // YYYY-MM-DD
	Note   string     `json:"note,omitempty"`
	Lines  []LineJSON `json:"lines"`
}

type LineJSON struct {
	Method string    `json:"method"`
	Amount fee.Money `json:"amount"`
	Note   string    `json:"note,omitempty"`
}

// =============================================================================
// PRICING FACTORY
// =============================================================================

type PricingFactory struct{}

func NewPricingFactory() *PricingFactory {
	return &PricingFactory{}
}

// ParsePricing parses a pricing JSON document.
func (f *PricingFactory) ParsePricing(jsonStr string) (fee.PricingConfig, error) {
	var pj PricingJSON
	if err := json.Unmarshal([]byte(jsonStr), &pj); err != nil {
		return fee.PricingConfig{}, fmt.Errorf("invalid pricing JSON: %w", err)
	}
	return f.FromJSON(pj)
}

// FromJSON converts a PricingJSON into a validated PricingConfig.
func (f *PricingFactory) FromJSON(pj PricingJSON) (fee.PricingConfig, error) {
	cfg := fee.PricingConfig{
		Discount:           pj.Discount,
		AdmissionFee:       pj.AdmissionFee,
		FeeType:            fee.FeeType(normalizeEnum(pj.FeeType)),
		InstallmentType:    fee.InstallmentType(normalizeEnum(pj.InstallmentType)),
		CustomMonths:       pj.CustomMonths,
		AdmissionFeeMethod: fee.PaymentMethod(pj.AdmissionFeeMethod).Normalize(),
	}
	if pj.CourseFee != nil {
		courseFee := *pj.CourseFee
		cfg.CourseFee = &courseFee
	}
	if pj.StartDate != "" {
		start, err := fee.ParseDate(pj.StartDate)
		if err != nil {
			return fee.PricingConfig{}, &fee.InvalidPricingConfigError{Field: "start_date", Reason: "expected YYYY-MM-DD"}
		}
		cfg.StartDate = start
	}

	if err := cfg.Validate(); err != nil {
		return fee.PricingConfig{}, err
	}
	return cfg, nil
}

// ToJSON converts a PricingConfig back to its JSON representation.
func (f *PricingFactory) ToJSON(cfg fee.PricingConfig) PricingJSON {
	pj := PricingJSON{
		Discount:           cfg.Discount,
		AdmissionFee:       cfg.AdmissionFee,
		FeeType:            string(cfg.FeeType),
		InstallmentType:    string(cfg.InstallmentType),
		CustomMonths:       cfg.CustomMonths,
		AdmissionFeeMethod: string(cfg.AdmissionFeeMethod),
	}
	if cfg.CourseFee != nil {
		courseFee := *cfg.CourseFee
		pj.CourseFee = &courseFee
	}
	if !cfg.StartDate.IsZero() {
		pj.StartDate = fee.FormatDate(cfg.StartDate)
	}
	return pj
}

// ParseReceipt parses a receipt JSON document for the given subject.
func (f *PricingFactory) ParseReceipt(subjectID fee.SubjectID, jsonStr string) (fee.ReceiptSaveRequest, error) {
	var rj ReceiptJSON
	if err := json.Unmarshal([]byte(jsonStr), &rj); err != nil {
		return fee.ReceiptSaveRequest{}, fmt.Errorf("invalid receipt JSON: %w", err)
	}
	return f.ReceiptFromJSON(subjectID, "", rj)
}

// ReceiptFromJSON builds a save request. receiptID is empty for new
// receipts.
func (f *PricingFactory) ReceiptFromJSON(subjectID fee.SubjectID, receiptID fee.ReceiptID, rj ReceiptJSON) (fee.ReceiptSaveRequest, error) {
	req := fee.ReceiptSaveRequest{
		ReceiptID: receiptID,
		SubjectID: subjectID,
		Number:    strings.TrimSpace(rj.Number),
		Note:      rj.Note,
	}
	if rj.Date == "" {
		return req, &fee.InvalidReceiptError{Reason: "date is required"}
	}
	date, err := fee.ParseDate(rj.Date)
	if err != nil {
		return req, &fee.InvalidReceiptError{Reason: "date must be YYYY-MM-DD"}
	}
	req.Date = date

	for i, lj := range rj.Lines {
		method := fee.PaymentMethod(lj.Method).Normalize()
		if !knownMethod(method) {
			return req, &fee.InvalidReceiptError{Reason: "unknown payment method " + lj.Method, Line: i + 1}
		}
		req.Lines = append(req.Lines, fee.PaymentLine{Method: method, Amount: lj.Amount, Note: lj.Note})
	}
	return req, nil
}

func knownMethod(m fee.PaymentMethod) bool {
	switch m {
	case fee.MethodCash, fee.MethodBank, fee.MethodRazorpay:
		return true
	}
	return false
}

// normalizeEnum accepts "One Time", "one-time" and "one_time" alike.
func normalizeEnum(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.ReplaceAll(s, "-", "_")
	return strings.ReplaceAll(s, " ", "_")
}
