/*
handlers.go - HTTP API handlers for the tuition fee engine

PURPOSE:
  Exposes the fee engine via REST API. Handles HTTP request/response,
  JSON serialization, and delegates to fee.Service.

ENDPOINTS:
  Schedules:
    POST   /api/schedules/preview                 Preview a schedule (nothing stored)

  Subjects:
    GET    /api/subjects                          List subjects (?scope=&active=)
    POST   /api/subjects                          Register subject
    GET    /api/subjects/{id}                     Get subject
    PUT    /api/subjects/{id}/pricing             Update pricing and rebuild schedule
    POST   /api/subjects/{id}/refresh             Rebuild schedule from stored pricing
    POST   /api/subjects/refresh                  Bulk refresh (filter body)
    GET    /api/subjects/{id}/installments        Replayed installments (?exclude_receipt_id=)
    GET    /api/subjects/{id}/overview            Fee position (?as_of=)

  Receipts:
    GET    /api/subjects/{id}/receipts            List active receipts
    POST   /api/subjects/{id}/receipts            Create receipt
    PUT    /api/receipts/{id}                     Edit receipt
    DELETE /api/receipts/{id}                     Delete receipt

  Ledger:
    GET    /api/transactions/{id}                 Transaction with entries
    POST   /api/ledger/sync                       Post dues and receipts
    GET    /api/ledger/runs                       Scheduler history

ARCHITECTURE:
  Handler struct holds all dependencies:
  - Service: the fee engine
  - Pricing: JSON to PricingConfig / ReceiptSaveRequest conversion
  - Scheduler: optional due-posting scheduler
  - resetter: wipes storage before a scenario is loaded

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: invalid pricing, invalid receipt, subject without fee type
  - 404: subject, receipt or transaction not found
  - 409: subject lock unavailable
  - 500: internal errors

SECURITY NOTE:
  No authentication or authorization. All endpoints are public.

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/warp/tuition-engine/factory"
	"github.com/warp/tuition-engine/fee"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Resetter wipes all stored data.
type Resetter interface {
	Reset(ctx context.Context) error
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Service   *fee.Service
	Pricing   *factory.PricingFactory
	Scheduler *DuePostingScheduler

	logger   *zap.Logger
	resetter Resetter

	// Track currently loaded scenario
	mu              sync.Mutex
	currentScenario string
}

// NewHandler creates a handler. resetter may be nil, which disables
// scenario loading.
func NewHandler(service *fee.Service, resetter Resetter, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		Service:  service,
		Pricing:  factory.NewPricingFactory(),
		logger:   logger.Named("api"),
		resetter: resetter,
	}
}

// =============================================================================
// SCHEDULE HANDLERS
// =============================================================================

// PreviewSchedule shows the installments a pricing config would produce.
// POST /api/schedules/preview
func (h *Handler) PreviewSchedule(w http.ResponseWriter, r *http.Request) {
	var pj factory.PricingJSON
	if err := json.NewDecoder(r.Body).Decode(&pj); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	cfg, err := h.Pricing.FromJSON(pj)
	if err != nil {
		writeServiceError(w, "Invalid pricing", err)
		return
	}

	preview, err := h.Service.PreviewSchedule(cfg)
	if err != nil {
		writeServiceError(w, "Failed to preview schedule", err)
		return
	}

	dto := SchedulePreviewDTO{
		NetAmount:    preview.NetAmount,
		Installments: make([]ScheduleLineDTO, len(preview.Lines)),
	}
	for i, l := range preview.Lines {
		dto.Installments[i] = ScheduleLineDTO{
			Sequence:    l.Sequence,
			Label:       l.Label,
			DueDate:     fee.FormatDate(l.DueDate),
			PaymentDate: fee.FormatDate(l.PaymentDate),
			Amount:      l.Amount,
		}
	}
	writeJSON(w, http.StatusOK, dto)
}

// =============================================================================
// SUBJECT HANDLERS
// =============================================================================

// ListSubjects returns subjects, optionally filtered.
// GET /api/subjects?scope=&active=true
func (h *Handler) ListSubjects(w http.ResponseWriter, r *http.Request) {
	filter := fee.SubjectFilter{Scope: r.URL.Query().Get("scope")}
	if v := r.URL.Query().Get("active"); v != "" {
		active, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid active flag", err)
			return
		}
		filter.ActiveOnly = active
	}

	subjects, err := h.Service.ListSubjects(r.Context(), filter)
	if err != nil {
		writeServiceError(w, "Failed to list subjects", err)
		return
	}

	dtos := make([]SubjectDTO, len(subjects))
	for i, s := range subjects {
		dtos[i] = toSubjectDTO(s, h.Pricing)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateSubject registers a subject and builds its schedule.
// POST /api/subjects
func (h *Handler) CreateSubject(w http.ResponseWriter, r *http.Request) {
	var req CreateSubjectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required", nil)
		return
	}

	reg := fee.SubjectRegistration{
		Name:             req.Name,
		Scope:            req.Scope,
		ProvisionAccount: req.ProvisionAccount == nil || *req.ProvisionAccount,
	}
	if req.Pricing != nil {
		cfg, err := h.Pricing.FromJSON(*req.Pricing)
		if err != nil {
			writeServiceError(w, "Invalid pricing", err)
			return
		}
		reg.Pricing = cfg
	}

	subject, err := h.Service.RegisterSubject(r.Context(), reg)
	if err != nil {
		writeServiceError(w, "Failed to register subject", err)
		return
	}
	writeJSON(w, http.StatusCreated, toSubjectDTO(*subject, h.Pricing))
}

// GetSubject returns a single subject.
// GET /api/subjects/{id}
func (h *Handler) GetSubject(w http.ResponseWriter, r *http.Request) {
	subject, err := h.Service.GetSubject(r.Context(), subjectParam(r))
	if err != nil {
		writeServiceError(w, "Failed to get subject", err)
		return
	}
	writeJSON(w, http.StatusOK, toSubjectDTO(*subject, h.Pricing))
}

// UpdatePricing replaces the subject's pricing and rebuilds its schedule.
// PUT /api/subjects/{id}/pricing
func (h *Handler) UpdatePricing(w http.ResponseWriter, r *http.Request) {
	var pj factory.PricingJSON
	if err := json.NewDecoder(r.Body).Decode(&pj); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	cfg, err := h.Pricing.FromJSON(pj)
	if err != nil {
		writeServiceError(w, "Invalid pricing", err)
		return
	}

	result, err := h.Service.UpdatePricing(r.Context(), fee.PricingUpdateRequest{
		SubjectID: subjectParam(r),
		Pricing:   cfg,
	})
	if err != nil {
		writeServiceError(w, "Failed to update pricing", err)
		return
	}
	writeJSON(w, http.StatusOK, h.refreshDTO(result))
}

// RefreshSubject rebuilds one subject's schedule.
// POST /api/subjects/{id}/refresh
func (h *Handler) RefreshSubject(w http.ResponseWriter, r *http.Request) {
	if _, err := h.Service.Refresh(r.Context(), subjectParam(r)); err != nil {
		writeServiceError(w, "Failed to refresh subject", err)
		return
	}
	writeJSON(w, http.StatusOK, fee.RefreshReport{Refreshed: 1})
}

// BulkRefresh rebuilds schedules for every subject matching the filter.
// POST /api/subjects/refresh
func (h *Handler) BulkRefresh(w http.ResponseWriter, r *http.Request) {
	var req SubjectFilterRequest
	if err := decodeOptional(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	report, err := h.Service.BulkRefresh(r.Context(), req.toFilter())
	if err != nil {
		writeServiceError(w, "Failed to refresh subjects", err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// ListInstallments replays receipts onto the stored schedule. With
// exclude_receipt_id it shows balances as they stood before that receipt.
// GET /api/subjects/{id}/installments
func (h *Handler) ListInstallments(w http.ResponseWriter, r *http.Request) {
	exclude := fee.ReceiptID(r.URL.Query().Get("exclude_receipt_id"))

	alloc, err := h.Service.PreviewAllocation(r.Context(), subjectParam(r), exclude)
	if err != nil {
		writeServiceError(w, "Failed to list installments", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"installments": toInstallmentDTOs(alloc.Installments, h.Service.Today()),
		"allocated":    alloc.Allocated,
		"unallocated":  alloc.Unallocated,
	})
}

// GetOverview summarizes the subject's fee position.
// GET /api/subjects/{id}/overview?as_of=YYYY-MM-DD
func (h *Handler) GetOverview(w http.ResponseWriter, r *http.Request) {
	asOf, ok := dateQuery(w, r, "as_of", h.Service.Today())
	if !ok {
		return
	}

	overview, err := h.Service.Overview(r.Context(), subjectParam(r), asOf)
	if err != nil {
		writeServiceError(w, "Failed to build overview", err)
		return
	}
	writeJSON(w, http.StatusOK, toOverviewDTO(overview))
}

// =============================================================================
// RECEIPT HANDLERS
// =============================================================================

// ListReceipts returns the subject's active receipts.
// GET /api/subjects/{id}/receipts
func (h *Handler) ListReceipts(w http.ResponseWriter, r *http.Request) {
	receipts, err := h.Service.ListReceipts(r.Context(), subjectParam(r))
	if err != nil {
		writeServiceError(w, "Failed to list receipts", err)
		return
	}
	dtos := make([]ReceiptDTO, len(receipts))
	for i, rc := range receipts {
		dtos[i] = toReceiptDTO(rc)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateReceipt records money received from a subject.
// POST /api/subjects/{id}/receipts
func (h *Handler) CreateReceipt(w http.ResponseWriter, r *http.Request) {
	h.saveReceipt(w, r, subjectParam(r), "", http.StatusCreated)
}

// UpdateReceipt edits an existing receipt.
// PUT /api/receipts/{id}
func (h *Handler) UpdateReceipt(w http.ResponseWriter, r *http.Request) {
	h.saveReceipt(w, r, "", fee.ReceiptID(chi.URLParam(r, "id")), http.StatusOK)
}

func (h *Handler) saveReceipt(w http.ResponseWriter, r *http.Request, subjectID fee.SubjectID, receiptID fee.ReceiptID, status int) {
	var rj factory.ReceiptJSON
	if err := json.NewDecoder(r.Body).Decode(&rj); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	req, err := h.Pricing.ReceiptFromJSON(subjectID, receiptID, rj)
	if err != nil {
		writeServiceError(w, "Invalid receipt", err)
		return
	}

	result, err := h.Service.SaveReceipt(r.Context(), req)
	if err != nil {
		writeServiceError(w, "Failed to save receipt", err)
		return
	}
	writeJSON(w, status, h.receiptResultDTO(result))
}

// DeleteReceipt deactivates a receipt and voids its ledger transaction.
// DELETE /api/receipts/{id}
func (h *Handler) DeleteReceipt(w http.ResponseWriter, r *http.Request) {
	result, err := h.Service.DeleteReceipt(r.Context(), fee.ReceiptID(chi.URLParam(r, "id")))
	if err != nil {
		writeServiceError(w, "Failed to delete receipt", err)
		return
	}
	writeJSON(w, http.StatusOK, h.receiptResultDTO(result))
}

// =============================================================================
// LEDGER HANDLERS
// =============================================================================

// GetTransaction returns a ledger transaction with its entries.
// GET /api/transactions/{id}
func (h *Handler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	tx, err := h.Service.GetTransaction(r.Context(), fee.TransactionID(chi.URLParam(r, "id")))
	if err != nil {
		writeServiceError(w, "Failed to get transaction", err)
		return
	}
	writeJSON(w, http.StatusOK, toTransactionDTO(*tx))
}

// SyncLedger posts dues up to as_of and re-posts receipts.
// POST /api/ledger/sync
func (h *Handler) SyncLedger(w http.ResponseWriter, r *http.Request) {
	var req SyncLedgerRequest
	if err := decodeOptional(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	asOf := h.Service.Today()
	if req.AsOf != "" {
		parsed, err := fee.ParseDate(req.AsOf)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid as_of format (use YYYY-MM-DD)", err)
			return
		}
		asOf = parsed
	}

	report, err := h.Service.SyncLedger(r.Context(), req.toFilter(), asOf)
	if err != nil {
		writeServiceError(w, "Failed to sync ledger", err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// ListSyncRuns returns the scheduler's recent passes.
// GET /api/ledger/runs
func (h *Handler) ListSyncRuns(w http.ResponseWriter, r *http.Request) {
	if h.Scheduler == nil {
		writeJSON(w, http.StatusOK, map[string]any{"enabled": false, "runs": []SyncRun{}})
		return
	}
	resp := map[string]any{
		"enabled": h.Scheduler.Enabled,
		"runs":    h.Scheduler.Runs(),
	}
	if next := h.Scheduler.NextRunTime(); !next.IsZero() {
		resp["next_run"] = next.UTC().Format(time.RFC3339)
	}
	writeJSON(w, http.StatusOK, resp)
}

// =============================================================================
// HELPERS
// =============================================================================

func (h *Handler) refreshDTO(result *fee.RefreshResult) RefreshResultDTO {
	return RefreshResultDTO{
		SubjectID:    string(result.SubjectID),
		Installments: toInstallmentDTOs(result.Installments, h.Service.Today()),
		Unallocated:  result.Unallocated,
		DuesPosted:   result.DuesPosted,
	}
}

func (h *Handler) receiptResultDTO(result *fee.ReceiptResult) ReceiptResultDTO {
	dto := ReceiptResultDTO{
		Receipt:      toReceiptDTO(result.Receipt),
		Installments: toInstallmentDTOs(result.Installments, h.Service.Today()),
		Unallocated:  result.Unallocated,
	}
	if result.Transaction != nil {
		tx := toTransactionDTO(*result.Transaction)
		dto.Transaction = &tx
	}
	if result.PostingError != nil {
		dto.PostingError = result.PostingError.Error()
	}
	return dto
}

func subjectParam(r *http.Request) fee.SubjectID {
	return fee.SubjectID(chi.URLParam(r, "id"))
}

// dateQuery reads an optional YYYY-MM-DD query parameter. It writes a 400
// and returns false when the value is malformed.
func dateQuery(w http.ResponseWriter, r *http.Request, key string, def time.Time) (time.Time, bool) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def, true
	}
	t, err := fee.ParseDate(v)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid "+key+" format (use YYYY-MM-DD)", err)
		return time.Time{}, false
	}
	return t, true
}

// decodeOptional decodes a JSON body that may be absent.
func decodeOptional(r *http.Request, v any) error {
	if r.Body == nil {
		return nil
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeServiceError maps fee errors onto HTTP status codes.
func writeServiceError(w http.ResponseWriter, message string, err error) {
	status := http.StatusInternalServerError
	switch {
	case fee.IsNotFound(err):
		status = http.StatusNotFound
	case fee.IsClientError(err):
		status = http.StatusBadRequest
	case errors.Is(err, fee.ErrLockUnavailable):
		status = http.StatusConflict
	}
	writeError(w, status, message, err)
}
