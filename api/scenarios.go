/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the store with realistic
	subjects, schedules and receipts. Dates are relative to the service
	clock so the overview always shows a mix of paid, overdue and
	upcoming installments.

AVAILABLE SCENARIOS:

	regular-installments: 40000 course fee in 4 months, two receipts
	special-installments: 5500 per month, split cash/bank receipt
	custom-split:         1000 over 3 months (rounding on the last one)
	one-time-paid:        One-time fee paid in full with an admission fee
	missing-account:      Subject without a ledger account (posting error)

HOW SCENARIOS WORK:
 1. Reset the store (clear all data)
 2. Parse pricing JSON via the factory
 3. Register the subject (schedule is generated and dues posted)
 4. Record receipts through the service

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "regular-installments"}

NOTE:

	Scenarios reset the store. Only use in development/demo environments.

SEE ALSO:
  - handlers.go: Handler, error mapping
  - factory/pricing.go: Pricing and receipt JSON definitions
*/
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/warp/tuition-engine/fee"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "regular-installments",
		Name:        "Regular Installments",
		Description: "40000 course fee split over 4 months with two tuition receipts",
		Category:    "installment",
	},
	{
		ID:          "special-installments",
		Name:        "Special Installments",
		Description: "Fixed 5500 per month with a receipt split between cash and bank",
		Category:    "installment",
	},
	{
		ID:          "custom-split",
		Name:        "Custom Split",
		Description: "1000 over 3 months, remainder carried by the last installment",
		Category:    "installment",
	},
	{
		ID:          "one-time-paid",
		Name:        "One-Time Fee Paid",
		Description: "Single installment settled in full, admission fee posted separately",
		Category:    "one_time",
	},
	{
		ID:          "missing-account",
		Name:        "Missing Ledger Account",
		Description: "Receipt is saved but cannot be posted without a receivable account",
		Category:    "ledger",
	},
}

type scenarioLoader func(ctx context.Context, today time.Time) error

func (h *Handler) scenarioLoaders() map[string]scenarioLoader {
	return map[string]scenarioLoader{
		"regular-installments": h.loadRegularInstallmentsScenario,
		"special-installments": h.loadSpecialInstallmentsScenario,
		"custom-split":         h.loadCustomSplitScenario,
		"one-time-paid":        h.loadOneTimePaidScenario,
		"missing-account":      h.loadMissingAccountScenario,
	}
}

// ListScenarios returns available scenarios.
// GET /api/scenarios
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
// GET /api/scenarios/current
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	current := h.currentScenario
	h.mu.Unlock()

	if current == "" {
		writeJSON(w, http.StatusOK, nil)
		return
	}
	for _, s := range scenarios {
		if s.ID == current {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, ScenarioDTO{ID: current, Name: current})
}

// LoadScenario resets the store and loads a predefined scenario.
// POST /api/scenarios/load
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	load, ok := h.scenarioLoaders()[req.ScenarioID]
	if !ok {
		writeError(w, http.StatusBadRequest, "Unknown scenario", nil)
		return
	}
	if h.resetter == nil {
		writeError(w, http.StatusNotImplemented, "Store does not support reset", nil)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	ctx := r.Context()
	if err := h.resetter.Reset(ctx); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset store", err)
		return
	}
	h.currentScenario = ""

	if err := load(ctx, h.Service.Today()); err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to load scenario: %v", err), err)
		return
	}
	h.currentScenario = req.ScenarioID

	h.logger.Info("scenario loaded", zap.String("scenario", req.ScenarioID))
	writeJSON(w, http.StatusOK, map[string]string{"status": "loaded", "scenario": req.ScenarioID})
}

// ResetStore clears all data.
// POST /api/scenarios/reset
func (h *Handler) ResetStore(w http.ResponseWriter, r *http.Request) {
	if h.resetter == nil {
		writeError(w, http.StatusNotImplemented, "Store does not support reset", nil)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.resetter.Reset(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset store", err)
		return
	}
	h.currentScenario = ""
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

func (h *Handler) loadRegularInstallmentsScenario(ctx context.Context, today time.Time) error {
	// Started two months ago: first installment paid, second part-paid.
	start := monthStart(today, -2)
	subject, err := h.createSubjectFromJSON(ctx, "Asha Verma", "north", true, fmt.Sprintf(`{
		"course_fee": "42500.00",
		"discount": "500.00",
		"admission_fee": "2000.00",
		"admission_fee_method": "cash",
		"fee_type": "installment",
		"installment_type": "regular",
		"start_date": %q
	}`, fee.FormatDate(start)))
	if err != nil {
		return err
	}

	if err := h.createReceiptFromJSON(ctx, subject.ID, fmt.Sprintf(`{
		"number": "RCPT-1001",
		"date": %q,
		"lines": [{"method": "cash", "amount": "10000.00"}]
	}`, fee.FormatDate(start))); err != nil {
		return err
	}
	return h.createReceiptFromJSON(ctx, subject.ID, fmt.Sprintf(`{
		"number": "RCPT-1002",
		"date": %q,
		"lines": [{"method": "bank", "amount": "4000.00", "note": "NEFT"}]
	}`, fee.FormatDate(start.AddDate(0, 1, 0))))
}

func (h *Handler) loadSpecialInstallmentsScenario(ctx context.Context, today time.Time) error {
	start := monthStart(today, -1)
	subject, err := h.createSubjectFromJSON(ctx, "Rohan Iyer", "south", true, fmt.Sprintf(`{
		"course_fee": "12000.00",
		"fee_type": "installment",
		"installment_type": "special",
		"start_date": %q
	}`, fee.FormatDate(start)))
	if err != nil {
		return err
	}

	return h.createReceiptFromJSON(ctx, subject.ID, fmt.Sprintf(`{
		"number": "RCPT-2001",
		"date": %q,
		"note": "First month",
		"lines": [
			{"method": "cash", "amount": "3000.00"},
			{"method": "bank", "amount": "2500.00"}
		]
	}`, fee.FormatDate(start)))
}

func (h *Handler) loadCustomSplitScenario(ctx context.Context, today time.Time) error {
	_, err := h.createSubjectFromJSON(ctx, "Meera Nair", "north", true, fmt.Sprintf(`{
		"course_fee": "1000.00",
		"fee_type": "installment",
		"installment_type": "custom",
		"custom_months": 3,
		"start_date": %q
	}`, fee.FormatDate(monthStart(today, 0))))
	return err
}

func (h *Handler) loadOneTimePaidScenario(ctx context.Context, today time.Time) error {
	start := monthStart(today, -1)
	subject, err := h.createSubjectFromJSON(ctx, "Kabir Shah", "north", true, fmt.Sprintf(`{
		"course_fee": "25000.00",
		"discount": "1000.00",
		"admission_fee": "1500.00",
		"admission_fee_method": "razorpay",
		"fee_type": "one_time",
		"start_date": %q
	}`, fee.FormatDate(start)))
	if err != nil {
		return err
	}

	return h.createReceiptFromJSON(ctx, subject.ID, fmt.Sprintf(`{
		"number": "RCPT-3001",
		"date": %q,
		"lines": [{"method": "razorpay", "amount": "22500.00"}]
	}`, fee.FormatDate(start)))
}

func (h *Handler) loadMissingAccountScenario(ctx context.Context, today time.Time) error {
	start := monthStart(today, 0)
	subject, err := h.createSubjectFromJSON(ctx, "Dev Malhotra", "east", false, fmt.Sprintf(`{
		"course_fee": "8000.00",
		"fee_type": "installment",
		"installment_type": "regular",
		"start_date": %q
	}`, fee.FormatDate(start)))
	if err != nil {
		return err
	}

	return h.createReceiptFromJSON(ctx, subject.ID, fmt.Sprintf(`{
		"date": %q,
		"lines": [{"method": "cash", "amount": "2000.00"}]
	}`, fee.FormatDate(start)))
}

// =============================================================================
// HELPERS
// =============================================================================

func (h *Handler) createSubjectFromJSON(ctx context.Context, name, scope string, provision bool, pricingJSON string) (*fee.Subject, error) {
	cfg, err := h.Pricing.ParsePricing(pricingJSON)
	if err != nil {
		return nil, err
	}
	return h.Service.RegisterSubject(ctx, fee.SubjectRegistration{
		Name:             name,
		Scope:            scope,
		Pricing:          cfg,
		ProvisionAccount: provision,
	})
}

func (h *Handler) createReceiptFromJSON(ctx context.Context, id fee.SubjectID, receiptJSON string) error {
	req, err := h.Pricing.ParseReceipt(id, receiptJSON)
	if err != nil {
		return err
	}
	_, err = h.Service.SaveReceipt(ctx, req)
	return err
}

// monthStart is the 5th of the month offset months from today.
func monthStart(today time.Time, offset int) time.Time {
	return fee.Date(today.Year(), today.Month()+time.Month(offset), 5)
}
