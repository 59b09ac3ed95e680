/*
handlers_test.go - HTTP tests for the fee API

Tests for:
- Schedule preview
- Subject registration, receipts, overview and ledger lookup
- Error status mapping
- Scenario loading
*/
package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/tuition-engine/fee"
	"github.com/warp/tuition-engine/metrics"
	"github.com/warp/tuition-engine/store/sqlite"
)

type testServer struct {
	handler *Handler
	router  http.Handler
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	registry := prometheus.NewRegistry()
	service := fee.NewService(store,
		fee.WithClock(func() time.Time { return fee.Date(2025, 5, 20) }),
		fee.WithInstrumentation(metrics.New(registry, metrics.Config{Environment: "test"})),
	)
	h := NewHandler(service, store, nil)
	return &testServer{
		handler: h,
		router: NewRouter(h, RouterOptions{
			Metrics: promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		}),
	}
}

func (s *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		switch b := body.(type) {
		case string:
			buf.WriteString(b)
		default:
			require.NoError(t, json.NewEncoder(&buf).Encode(b))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

const regularPricing = `{
	"course_fee": "2000.00",
	"fee_type": "installment",
	"installment_type": "regular",
	"start_date": "2025-04-03"
}`

func (s *testServer) createSubject(t *testing.T, provision bool) SubjectDTO {
	t.Helper()
	body := `{"name": "Asha", "scope": "north", "provision_account": ` +
		map[bool]string{true: "true", false: "false"}[provision] +
		`, "pricing": ` + regularPricing + `}`
	rec := s.do(t, http.MethodPost, "/api/subjects", body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[SubjectDTO](t, rec)
}

func TestPreviewSchedule_Regular(t *testing.T) {
	srv := newTestServer(t)

	// GIVEN: A regular installment plan for 40000
	body := `{"course_fee": "40000", "fee_type": "installment", "installment_type": "regular", "start_date": "2025-01-15"}`

	// WHEN: Previewing
	rec := srv.do(t, http.MethodPost, "/api/schedules/preview", body)

	// THEN: Four equal installments, first due in the start month
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	preview := decode[SchedulePreviewDTO](t, rec)
	assert.Equal(t, "40000.00", preview.NetAmount.String())
	require.Len(t, preview.Installments, 4)
	for _, line := range preview.Installments {
		assert.Equal(t, "10000.00", line.Amount.String())
	}
	assert.Equal(t, "2025-01-10", preview.Installments[0].DueDate)
	assert.Equal(t, "2025-01-05", preview.Installments[0].PaymentDate)
	assert.Equal(t, "2025-04-10", preview.Installments[3].DueDate)
}

func TestPreviewSchedule_InvalidPricing(t *testing.T) {
	srv := newTestServer(t)

	// GIVEN: Pricing without a course fee
	body := `{"fee_type": "installment", "installment_type": "regular", "start_date": "2025-01-15"}`

	// WHEN: Previewing
	rec := srv.do(t, http.MethodPost, "/api/schedules/preview", body)

	// THEN: Client error with details
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	errResp := decode[ErrorResponse](t, rec)
	assert.Contains(t, errResp.Details, "course_fee")
}

func TestSubjectLifecycle(t *testing.T) {
	srv := newTestServer(t)

	// GIVEN: A subject on a 2000 regular plan starting 2025-04-03
	subject := srv.createSubject(t, true)
	assert.NotEmpty(t, subject.AccountID)
	assert.Equal(t, "2000.00", subject.NetAmount.String())

	// WHEN: A 700 cash receipt is recorded
	rec := srv.do(t, http.MethodPost, "/api/subjects/"+subject.ID+"/receipts",
		`{"number": "R-1", "date": "2025-04-03", "lines": [{"method": "cash", "amount": "700"}]}`)

	// THEN: The first installment is paid and 200 lands on the second
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	result := decode[ReceiptResultDTO](t, rec)
	assert.Empty(t, result.PostingError)
	require.NotNil(t, result.Transaction)
	assert.Equal(t, "R-1", result.Transaction.Voucher)
	require.Len(t, result.Installments, 4)
	assert.True(t, result.Installments[0].Paid)
	assert.Equal(t, "200.00", result.Installments[1].PaidAmount.String())
	assert.False(t, result.Installments[1].Paid)

	// AND: The ledger transaction can be fetched with balanced entries
	rec = srv.do(t, http.MethodGet, "/api/transactions/"+result.Transaction.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	tx := decode[TransactionDTO](t, rec)
	debits, credits := fee.Zero(), fee.Zero()
	for _, e := range tx.Entries {
		debits = debits.Add(e.Debit)
		credits = credits.Add(e.Credit)
	}
	assert.True(t, debits.Equal(credits))
	assert.Equal(t, "700.00", debits.String())

	// AND: The overview reflects the partial payment as of the clock
	rec = srv.do(t, http.MethodGet, "/api/subjects/"+subject.ID+"/overview", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	overview := decode[OverviewDTO](t, rec)
	assert.Equal(t, "2025-05-20", overview.AsOf)
	assert.Equal(t, "700.00", overview.Paid.String())
	assert.Equal(t, "1300.00", overview.Due.String())
	assert.Equal(t, "300.00", overview.Overdue.String())
	require.NotNil(t, overview.NextDue)
	assert.Equal(t, 2, overview.NextDue.Sequence)
}

func TestListInstallments_ExcludeReceipt(t *testing.T) {
	srv := newTestServer(t)
	subject := srv.createSubject(t, true)

	rec := srv.do(t, http.MethodPost, "/api/subjects/"+subject.ID+"/receipts",
		`{"date": "2025-04-03", "lines": [{"method": "bank", "amount": "500"}]}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	receipt := decode[ReceiptResultDTO](t, rec).Receipt

	// WHEN: Listing installments as they stood before the receipt
	rec = srv.do(t, http.MethodGet, "/api/subjects/"+subject.ID+"/installments?exclude_receipt_id="+receipt.ID, nil)

	// THEN: Nothing is paid
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[struct {
		Installments []InstallmentDTO `json:"installments"`
		Unallocated  fee.Money        `json:"unallocated"`
	}](t, rec)
	require.Len(t, body.Installments, 4)
	for _, inst := range body.Installments {
		assert.False(t, inst.Paid)
		assert.True(t, inst.PaidAmount.IsZero())
	}
}

func TestDeleteReceipt_ReplaysRemaining(t *testing.T) {
	srv := newTestServer(t)
	subject := srv.createSubject(t, true)

	rec := srv.do(t, http.MethodPost, "/api/subjects/"+subject.ID+"/receipts",
		`{"date": "2025-04-03", "lines": [{"method": "cash", "amount": "500"}]}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	created := decode[ReceiptResultDTO](t, rec)
	require.True(t, created.Installments[0].Paid)

	// WHEN: Deleting the receipt
	rec = srv.do(t, http.MethodDelete, "/api/receipts/"+created.Receipt.ID, nil)

	// THEN: The installment is unpaid and the transaction is gone
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	deleted := decode[ReceiptResultDTO](t, rec)
	assert.False(t, deleted.Installments[0].Paid)

	rec = srv.do(t, http.MethodGet, "/api/transactions/"+created.Transaction.ID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// AND: Deleting again is a 404
	rec = srv.do(t, http.MethodDelete, "/api/receipts/"+created.Receipt.ID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCreateReceipt_MissingAccountStillSaves(t *testing.T) {
	srv := newTestServer(t)

	// GIVEN: A subject without a receivable account
	subject := srv.createSubject(t, false)
	assert.Empty(t, subject.AccountID)

	// WHEN: Recording a receipt
	rec := srv.do(t, http.MethodPost, "/api/subjects/"+subject.ID+"/receipts",
		`{"date": "2025-04-03", "lines": [{"method": "cash", "amount": "500"}]}`)

	// THEN: The receipt is saved and the posting error is reported
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	result := decode[ReceiptResultDTO](t, rec)
	assert.Contains(t, result.PostingError, "missing ledger account")
	assert.Nil(t, result.Transaction)
	assert.True(t, result.Installments[0].Paid)

	rec = srv.do(t, http.MethodGet, "/api/subjects/"+subject.ID+"/receipts", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]ReceiptDTO](t, rec), 1)
}

func TestErrorStatusMapping(t *testing.T) {
	srv := newTestServer(t)
	subject := srv.createSubject(t, true)

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		want   int
	}{
		{"unknown subject", http.MethodGet, "/api/subjects/nope", "", http.StatusNotFound},
		{"unknown transaction", http.MethodGet, "/api/transactions/nope", "", http.StatusNotFound},
		{"unknown receipt", http.MethodPut, "/api/receipts/nope", `{"date": "2025-04-03", "lines": [{"method": "cash", "amount": "1"}]}`, http.StatusNotFound},
		{"malformed body", http.MethodPost, "/api/subjects", `{`, http.StatusBadRequest},
		{"unknown payment method", http.MethodPost, "/api/subjects/" + subject.ID + "/receipts", `{"date": "2025-04-03", "lines": [{"method": "cheque", "amount": "1"}]}`, http.StatusBadRequest},
		{"zero amount line", http.MethodPost, "/api/subjects/" + subject.ID + "/receipts", `{"date": "2025-04-03", "lines": [{"method": "cash", "amount": "0"}]}`, http.StatusBadRequest},
		{"bad as_of", http.MethodGet, "/api/subjects/" + subject.ID + "/overview?as_of=May", "", http.StatusBadRequest},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec := srv.do(t, tc.method, tc.path, tc.body)
			assert.Equal(t, tc.want, rec.Code, rec.Body.String())
		})
	}
}

func TestUpdatePricing_RebuildsSchedule(t *testing.T) {
	srv := newTestServer(t)
	subject := srv.createSubject(t, true)

	// WHEN: Switching to a custom three month plan
	rec := srv.do(t, http.MethodPut, "/api/subjects/"+subject.ID+"/pricing",
		`{"course_fee": "1000", "fee_type": "installment", "installment_type": "custom", "custom_months": 3, "start_date": "2025-04-03"}`)

	// THEN: The last installment carries the rounding remainder
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	result := decode[RefreshResultDTO](t, rec)
	require.Len(t, result.Installments, 3)
	assert.Equal(t, "333.33", result.Installments[0].Amount.String())
	assert.Equal(t, "333.33", result.Installments[1].Amount.String())
	assert.Equal(t, "333.34", result.Installments[2].Amount.String())
	assert.Equal(t, 2, result.DuesPosted) // April and May are due by 2025-05-20
}

func TestRefreshEndpoints(t *testing.T) {
	srv := newTestServer(t)
	subject := srv.createSubject(t, true)

	rec := srv.do(t, http.MethodPost, "/api/subjects/"+subject.ID+"/refresh", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 1, decode[fee.RefreshReport](t, rec).Refreshed)

	rec = srv.do(t, http.MethodPost, "/api/subjects/refresh", `{"scope": "north"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, fee.RefreshReport{Refreshed: 1}, decode[fee.RefreshReport](t, rec))

	rec = srv.do(t, http.MethodPost, "/api/ledger/sync", `{"as_of": "2025-07-31"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	report := decode[fee.SyncReport](t, rec)
	assert.Equal(t, 1, report.Subjects)
	assert.Equal(t, 2, report.DuesPosted) // June and July
}

func TestLoadScenario(t *testing.T) {
	srv := newTestServer(t)

	for _, sc := range scenarios {
		t.Run(sc.ID, func(t *testing.T) {
			// WHEN: Loading the scenario
			rec := srv.do(t, http.MethodPost, "/api/scenarios/load", LoadScenarioRequest{ScenarioID: sc.ID})

			// THEN: Exactly one subject exists and it is the current scenario
			require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
			rec = srv.do(t, http.MethodGet, "/api/subjects", nil)
			require.Equal(t, http.StatusOK, rec.Code)
			assert.Len(t, decode[[]SubjectDTO](t, rec), 1)

			rec = srv.do(t, http.MethodGet, "/api/scenarios/current", nil)
			assert.Equal(t, sc.ID, decode[ScenarioDTO](t, rec).ID)
		})
	}

	rec := srv.do(t, http.MethodPost, "/api/scenarios/load", `{"scenario_id": "nope"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	srv := newTestServer(t)
	srv.createSubject(t, true)

	rec := srv.do(t, http.MethodGet, "/metrics", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "fee_schedules_generated_total")
	assert.Contains(t, rec.Body.String(), `type="fee-due"`)
}
