package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"seedledger/internal/domain"
	"seedledger/internal/metrics"
	"seedledger/internal/service"
	"seedledger/internal/store"
	"seedledger/internal/store/memory"
)

// newTestAPI builds the full handler chain over an in-memory store.
func newTestAPI(t *testing.T) http.Handler {
	t.Helper()
	m := metrics.New()
	svc := service.New(memory.New(), nil, service.Config{Metrics: m})
	return New(svc, nil, m, "*").Handler()
}

func doJSON(t *testing.T, h http.Handler, method string, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	switch v := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(v))
	default:
		payload, err := json.Marshal(v)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(payload)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.NewDecoder(rec.Body).Decode(&out); err != nil {
		t.Fatalf("decode body: %v (raw: %s)", err, rec.Body.String())
	}
	return out
}

func createBatch(t *testing.T, h http.Handler, lot string, packets int) domain.StockBatch {
	t.Helper()
	rec := doJSON(t, h, http.MethodPost, "/api/v1/stock-batches", map[string]any{
		"supplier_name":         "Kaveri Seeds",
		"seed_name":             "Tomato",
		"lot_no":                lot,
		"total_packets_initial": packets,
		"cost_per_packet":       "50",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create batch: expected 201, got %d (%s)", rec.Code, rec.Body.String())
	}
	return decodeBody[domain.StockBatch](t, rec)
}

func TestHandleHealth(t *testing.T) {
	h := newTestAPI(t)
	rec := doJSON(t, h, http.MethodGet, "/healthz", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := decodeBody[map[string]any](t, rec)
	if body["ok"] != true {
		t.Fatalf("expected ok:true, got %v", body["ok"])
	}
}

func TestCreateBatchAndDuplicateLot(t *testing.T) {
	h := newTestAPI(t)
	batch := createBatch(t, h, "LOT-1", 100)
	if batch.TotalWeightInitial != 1000 || batch.PacketsAvailable != 100 {
		t.Fatalf("unexpected batch %+v", batch)
	}

	rec := doJSON(t, h, http.MethodPost, "/api/v1/stock-batches", map[string]any{
		"supplier_name":         "Other",
		"seed_name":             "Chilli",
		"lot_no":                "LOT-1",
		"total_packets_initial": 5,
		"cost_per_packet":       "1",
	})
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
	body := decodeBody[map[string]any](t, rec)
	if body["code"] != CodeDuplicateLot {
		t.Fatalf("expected duplicate_lot code, got %v", body["code"])
	}
}

func TestRecordSaleStatusMapping(t *testing.T) {
	h := newTestAPI(t)
	batch := createBatch(t, h, "LOT-S", 5)

	cases := []struct {
		name   string
		body   any
		status int
		code   string
		field  string
	}{
		{
			name:   "validation",
			body:   map[string]any{"customer_name": "", "stock_batch_id": batch.ID, "packets_sold": 1, "amount_paid": "10"},
			status: http.StatusBadRequest, code: CodeValidation, field: "customer_name",
		},
		{
			name:   "unknown field",
			body:   `{"customer_name":"Ravi","stock_batch_id":"x","packets_sold":1,"amount_paid":"1","discount":5}`,
			status: http.StatusBadRequest, code: CodeValidation,
		},
		{
			name:   "insufficient stock",
			body:   map[string]any{"customer_name": "Ravi", "stock_batch_id": batch.ID, "packets_sold": 6, "amount_paid": "10"},
			status: http.StatusInternalServerError, code: CodeInsufficientStock, field: "packets_sold",
		},
		{
			name:   "missing batch",
			body:   map[string]any{"customer_name": "Ravi", "stock_batch_id": "batch_missing", "packets_sold": 1, "amount_paid": "10"},
			status: http.StatusInternalServerError, code: CodeNotFound,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := doJSON(t, h, http.MethodPost, "/api/v1/sales", tc.body)
			if rec.Code != tc.status {
				t.Fatalf("expected %d, got %d (%s)", tc.status, rec.Code, rec.Body.String())
			}
			body := decodeBody[map[string]any](t, rec)
			if body["code"] != tc.code {
				t.Fatalf("expected code %s, got %v", tc.code, body["code"])
			}
			if tc.field != "" && body["field"] != tc.field {
				t.Fatalf("expected field %s, got %v", tc.field, body["field"])
			}
		})
	}
}

func TestRecordSaleCreatedThenReplayed(t *testing.T) {
	h := newTestAPI(t)
	batch := createBatch(t, h, "LOT-R", 20)

	payload := map[string]any{
		"customer_name":   "Ravi",
		"stock_batch_id":  batch.ID,
		"packets_sold":    10,
		"amount_paid":     "600",
		"idempotency_key": "req-42",
	}
	rec := doJSON(t, h, http.MethodPost, "/api/v1/sales", payload)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d (%s)", rec.Code, rec.Body.String())
	}
	first := decodeBody[domain.SaleResponse](t, rec)
	if first.Profit.String() != "100" {
		t.Fatalf("expected profit 100, got %s", first.Profit)
	}

	rec = doJSON(t, h, http.MethodPost, "/api/v1/sales", payload)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 on replay, got %d", rec.Code)
	}
	replay := decodeBody[domain.SaleResponse](t, rec)
	if !replay.Duplicate || replay.ID != first.ID {
		t.Fatalf("expected duplicate of %s, got %+v", first.ID, replay)
	}

	rec = doJSON(t, h, http.MethodGet, "/api/v1/stock-batches/"+batch.ID, nil)
	got := decodeBody[domain.StockBatch](t, rec)
	if got.PacketsAvailable != 10 {
		t.Fatalf("expected 10 packets left, got %d", got.PacketsAvailable)
	}
}

func TestPaymentSettleAndList(t *testing.T) {
	h := newTestAPI(t)
	batch := createBatch(t, h, "LOT-P", 20)

	rec := doJSON(t, h, http.MethodPost, "/api/v1/sales", map[string]any{
		"customer_name":    "Ravi",
		"stock_batch_id":   batch.ID,
		"packets_sold":     2,
		"amount_paid":      "400",
		"total_amount_due": "1000",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d (%s)", rec.Code, rec.Body.String())
	}
	sale := decodeBody[domain.SaleResponse](t, rec)

	rec = doJSON(t, h, http.MethodPatch, "/api/v1/sales/"+sale.ID+"/payment", map[string]any{"amount": "-5"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for negative payment, got %d", rec.Code)
	}

	rec = doJSON(t, h, http.MethodPatch, "/api/v1/sales/"+sale.ID+"/payment", map[string]any{"amount": "100"})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}
	paid := decodeBody[domain.Sale](t, rec)
	if paid.AmountPaid.String() != "500" || paid.IsFullyPaid {
		t.Fatalf("unexpected payment result %+v", paid)
	}

	rec = doJSON(t, h, http.MethodPost, "/api/v1/sales/"+sale.ID+"/settle", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}
	settled := decodeBody[domain.Sale](t, rec)
	if settled.AmountPaid.String() != "1000" || !settled.IsFullyPaid {
		t.Fatalf("unexpected settle result %+v", settled)
	}

	rec = doJSON(t, h, http.MethodPost, "/api/v1/sales/sale_missing/settle", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}

	rec = doJSON(t, h, http.MethodGet, "/api/v1/sales", nil)
	list := decodeBody[[]domain.Sale](t, rec)
	if len(list) != 1 || list[0].LotNo != "LOT-P" {
		t.Fatalf("unexpected sales list %+v", list)
	}
}

func TestDeleteBatchInUse(t *testing.T) {
	h := newTestAPI(t)
	batch := createBatch(t, h, "LOT-D", 5)

	rec := doJSON(t, h, http.MethodPost, "/api/v1/sales", map[string]any{
		"customer_name": "Ravi", "stock_batch_id": batch.ID, "packets_sold": 1, "amount_paid": "50",
	})
	sale := decodeBody[domain.SaleResponse](t, rec)

	rec = doJSON(t, h, http.MethodDelete, "/api/v1/stock-batches/"+batch.ID, nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}

	rec = doJSON(t, h, http.MethodDelete, "/api/v1/sales/"+sale.ID, nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	rec = doJSON(t, h, http.MethodDelete, "/api/v1/stock-batches/"+batch.ID, nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	rec = doJSON(t, h, http.MethodGet, "/api/v1/stock-batches/"+batch.ID, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestExpensesAndStats(t *testing.T) {
	h := newTestAPI(t)
	createBatch(t, h, "LOT-ST", 10)

	rec := doJSON(t, h, http.MethodPost, "/api/v1/expenses", map[string]any{
		"category": "Petrol", "amount": "120.50", "description": "delivery",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d (%s)", rec.Code, rec.Body.String())
	}
	expense := decodeBody[domain.Expense](t, rec)

	rec = doJSON(t, h, http.MethodPatch, "/api/v1/expenses/"+expense.ID, map[string]any{"amount": "100"})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, h, http.MethodGet, "/api/v1/stats", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	stats := decodeBody[domain.Stats](t, rec)
	if stats.HomeExpenses.String() != "100" || stats.StockPurchasedValue.String() != "500" {
		t.Fatalf("unexpected stats %+v", stats)
	}

	rec = doJSON(t, h, http.MethodDelete, "/api/v1/expenses/"+expense.ID, nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	rec = doJSON(t, h, http.MethodDelete, "/api/v1/expenses/"+expense.ID, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestCORSPreflightAllowsOnlyJSONHeaders(t *testing.T) {
	h := newTestAPI(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/sales", nil)
	req.Header.Set("Origin", "http://127.0.0.1:3000")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204 preflight, got %d", rec.Code)
	}
	allowed := rec.Header().Get("Access-Control-Allow-Headers")
	if !strings.Contains(allowed, "Content-Type") {
		t.Fatalf("expected Content-Type in allowed headers, got %q", allowed)
	}
	if strings.Contains(allowed, "Authorization") {
		t.Fatalf("Authorization must not be an allowed header, got %q", allowed)
	}
}

func TestOversizedPacketCountIsValidationError(t *testing.T) {
	h := newTestAPI(t)

	rec := doJSON(t, h, http.MethodPost, "/api/v1/stock-batches", map[string]any{
		"supplier_name":         "Kaveri Seeds",
		"seed_name":             "Tomato",
		"lot_no":                "LOT-BIG",
		"total_packets_initial": 300000000,
		"cost_per_packet":       "1",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d (%s)", rec.Code, rec.Body.String())
	}
	body := decodeBody[map[string]any](t, rec)
	if body["code"] != CodeValidation || body["field"] != "total_packets_initial" {
		t.Fatalf("unexpected error body %v", body)
	}
}

func TestExportLedger(t *testing.T) {
	h := newTestAPI(t)
	createBatch(t, h, "LOT-X", 10)

	rec := doJSON(t, h, http.MethodGet, "/api/v1/export/ledger.xlsx", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Header().Get("Content-Disposition"), "ledger-") {
		t.Fatalf("missing attachment header")
	}
	if !bytes.HasPrefix(rec.Body.Bytes(), []byte("PK")) {
		t.Fatalf("expected a zip-based xlsx payload")
	}
}

func TestMetricsEndpoint(t *testing.T) {
	h := newTestAPI(t)
	doJSON(t, h, http.MethodGet, "/healthz", nil)

	rec := doJSON(t, h, http.MethodGet, "/metrics", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "seedledger_http_request_duration_seconds") {
		t.Fatalf("expected request histogram in exposition")
	}
}

type failingRepo struct {
	store.Repository
}

func (failingRepo) ListBatches(context.Context) ([]domain.StockBatch, error) {
	return nil, store.Wrap("list batches", &net500{})
}

type net500 struct{}

func (*net500) Error() string { return "dial tcp 10.0.0.5:5432: connection refused" }

func TestStoreErrorsAreMasked(t *testing.T) {
	svc := service.New(failingRepo{}, nil, service.Config{})
	h := New(svc, nil, nil, "").Handler()

	rec := doJSON(t, h, http.MethodGet, "/api/v1/stock-batches", nil)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "10.0.0.5") {
		t.Fatalf("driver error leaked: %s", rec.Body.String())
	}
	body := decodeBody[map[string]any](t, rec)
	if body["code"] != CodeStoreError {
		t.Fatalf("expected store_error code, got %v", body["code"])
	}
}
