package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/diewo77/go-prefacturation/internal/db"
	"github.com/diewo77/go-prefacturation/internal/lock"
	"github.com/diewo77/go-prefacturation/internal/models"
	"github.com/diewo77/go-prefacturation/internal/services"
	"github.com/diewo77/go-prefacturation/internal/store"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupMux(t *testing.T) *http.ServeMux {
	t.Helper()
	// Use a unique in-memory database per test to avoid cross-test collisions.
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	sqlDB, err := conn.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := db.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	st := store.New(conn)
	locker := lock.NewMemoryLocker()
	blocks := services.NewBlockRegistry(st, locker)

	mux := http.NewServeMux()
	NewPrefacturationHandler(services.NewPrefacturationService(st, locker, blocks), nil).Register(mux)
	NewBlockHandler(blocks, nil).Register(mux)
	NewVigilanceHandler(services.NewComplianceService(st, locker), nil).Register(mux)
	NewDisputeHandler(services.NewDisputeService(st, locker), nil).Register(mux)
	NewExportHandler(services.NewExportService(st, locker), nil).Register(mux)
	return mux
}

func do(t *testing.T, mux http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("X-Actor", "tester")
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, dst any) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), dst); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
}

const generateBody = `{
	"carrier": {"id": "TR-1", "name": "Transports Martin", "tax_id": "12345678900011"},
	"client": {"id": "CLI-1", "name": "Industries Dupont"},
	"period": {"start": "2024-03-01T00:00:00Z", "end": "2024-03-31T00:00:00Z"},
	"lines": [
		{"order_id": "ORD-1", "order_reference": "CMD-1", "weight": 200, "price_per_kg": 0.5},
		{"order_id": "ORD-2", "order_reference": "CMD-2", "weight": 400, "price_per_kg": 0.25}
	]
}`

func generate(t *testing.T, mux http.Handler) models.Prefacturation {
	t.Helper()
	w := do(t, mux, http.MethodPost, "/api/prefacturations", generateBody)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201 got %d: %s", w.Code, w.Body.String())
	}
	var p models.Prefacturation
	decode(t, w, &p)
	return p
}

func validated(t *testing.T, mux http.Handler) models.Prefacturation {
	t.Helper()
	p := generate(t, mux)
	w := do(t, mux, http.MethodPost, "/api/prefacturations/send", fmt.Sprintf(`{"ids":[%d]}`, p.ID))
	if w.Code != http.StatusOK {
		t.Fatalf("send: expected 200 got %d: %s", w.Code, w.Body.String())
	}
	w = do(t, mux, http.MethodPost, fmt.Sprintf("/api/prefacturations/%d/validate", p.ID), `{"validated_by":"industrial"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("validate: expected 200 got %d: %s", w.Code, w.Body.String())
	}
	decode(t, w, &p)
	return p
}

func TestGenerateAndView(t *testing.T) {
	mux := setupMux(t)
	p := generate(t, mux)
	if p.Status != models.StatusDraft {
		t.Fatalf("expected draft got %s", p.Status)
	}
	if p.Totals.TotalTTC != 264 {
		t.Fatalf("expected TTC 264 got %v", p.Totals.TotalTTC)
	}

	w := do(t, mux, http.MethodGet, fmt.Sprintf("/api/prefacturations/%d", p.ID), "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", w.Code)
	}
	var got models.Prefacturation
	decode(t, w, &got)
	if got.Reference != p.Reference {
		t.Fatalf("expected %s got %s", p.Reference, got.Reference)
	}

	w = do(t, mux, http.MethodGet, "/api/prefacturations?status=draft,validated&carrier_id=TR-1", "")
	if w.Code != http.StatusOK {
		t.Fatalf("list: expected 200 got %d", w.Code)
	}
	var page struct {
		Items []models.Prefacturation `json:"items"`
		Total int64                   `json:"total"`
	}
	decode(t, w, &page)
	if page.Total != 1 || len(page.Items) != 1 {
		t.Fatalf("expected 1 item got %d/%d", len(page.Items), page.Total)
	}
}

func TestErrorMapping(t *testing.T) {
	mux := setupMux(t)
	p := generate(t, mux)

	cases := []struct {
		name   string
		method string
		path   string
		body   string
		status int
		code   string
	}{
		{"not found", http.MethodGet, "/api/prefacturations/999", "", http.StatusNotFound, "not_found"},
		{"bad id", http.MethodGet, "/api/prefacturations/abc", "", http.StatusBadRequest, "validation_failed"},
		{"validation", http.MethodPost, "/api/prefacturations", `{"lines":[]}`, http.StatusBadRequest, "validation_failed"},
		{"bad json", http.MethodPost, "/api/prefacturations", `{"lines":`, http.StatusBadRequest, "invalid_json"},
		{"bad status filter", http.MethodGet, "/api/prefacturations?status=nope", "", http.StatusBadRequest, "validation_failed"},
		{"invalid state", http.MethodPost, fmt.Sprintf("/api/prefacturations/%d/finalize", p.ID), "", http.StatusConflict, "invalid_state"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := do(t, mux, tc.method, tc.path, tc.body)
			if w.Code != tc.status {
				t.Fatalf("expected %d got %d: %s", tc.status, w.Code, w.Body.String())
			}
			var e struct {
				Error string `json:"error"`
			}
			decode(t, w, &e)
			if e.Error != tc.code {
				t.Fatalf("expected %s got %s", tc.code, e.Error)
			}
		})
	}
}

func TestFinalizeBlocked(t *testing.T) {
	mux := setupMux(t)
	p := validated(t, mux)

	w := do(t, mux, http.MethodPost, "/api/blocks",
		`{"entity_type":"carrier","entity_id":"TR-1","type":"manual","reason":"Pallet count disputed","severity":"high"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("create block: expected 201 got %d: %s", w.Code, w.Body.String())
	}
	var b models.Block
	decode(t, w, &b)
	if b.CreatedBy != "tester" {
		t.Fatalf("expected actor from header got %q", b.CreatedBy)
	}

	w = do(t, mux, http.MethodGet, "/api/blocks/check?entity_type=carrier&entity_id=TR-1", "")
	var check struct {
		Blocked bool           `json:"blocked"`
		Blocks  []models.Block `json:"blocks"`
	}
	decode(t, w, &check)
	if !check.Blocked || len(check.Blocks) != 1 {
		t.Fatalf("expected one active block got %+v", check)
	}

	finalize := fmt.Sprintf("/api/prefacturations/%d/finalize", p.ID)
	w = do(t, mux, http.MethodPost, finalize, "")
	if w.Code != http.StatusLocked {
		t.Fatalf("expected 423 got %d: %s", w.Code, w.Body.String())
	}
	var blocked struct {
		Error   string         `json:"error"`
		Details []models.Block `json:"details"`
	}
	decode(t, w, &blocked)
	if blocked.Error != "blocked" || len(blocked.Details) != 1 || blocked.Details[0].ID != b.ID {
		t.Fatalf("unexpected blocked payload: %s", w.Body.String())
	}

	w = do(t, mux, http.MethodPost, fmt.Sprintf("/api/blocks/%d/resolve", b.ID), `{"comment":"recounted"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("resolve: expected 200 got %d: %s", w.Code, w.Body.String())
	}
	w = do(t, mux, http.MethodPost, fmt.Sprintf("/api/blocks/%d/resolve", b.ID), "")
	if w.Code != http.StatusConflict {
		t.Fatalf("second resolve: expected 409 got %d", w.Code)
	}

	w = do(t, mux, http.MethodPost, finalize, "")
	if w.Code != http.StatusOK {
		t.Fatalf("finalize: expected 200 got %d: %s", w.Code, w.Body.String())
	}
	var got models.Prefacturation
	decode(t, w, &got)
	if got.Status != models.StatusInvoiceAccepted || !strings.HasPrefix(got.InvoiceReference, "INV-") {
		t.Fatalf("unexpected finalized pre-invoice: %s %s", got.Status, got.InvoiceReference)
	}
}

func TestPaymentsCSVDownload(t *testing.T) {
	mux := setupMux(t)
	validated(t, mux)

	w := do(t, mux, http.MethodGet, "/api/prefacturations/payments.csv", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", w.Code)
	}
	if cd := w.Header().Get("Content-Disposition"); !strings.Contains(cd, "payments.csv") {
		t.Fatalf("unexpected disposition %q", cd)
	}
	if !strings.Contains(w.Body.String(), "Transports Martin;12345678900011") {
		t.Fatalf("missing payment row: %s", w.Body.String())
	}
}

func TestExportDownload(t *testing.T) {
	mux := setupMux(t)
	p := validated(t, mux)
	if w := do(t, mux, http.MethodPost, fmt.Sprintf("/api/prefacturations/%d/finalize", p.ID), ""); w.Code != http.StatusOK {
		t.Fatalf("finalize: expected 200 got %d", w.Code)
	}

	w := do(t, mux, http.MethodPost, "/api/exports",
		fmt.Sprintf(`{"prefacturation_ids":[%d],"accounting_system":"sage","format":"csv"}`, p.ID))
	if w.Code != http.StatusCreated {
		t.Fatalf("export: expected 201 got %d: %s", w.Code, w.Body.String())
	}
	var e models.ERPExport
	decode(t, w, &e)
	if !e.Validation.IsValid || e.Totals.LinesCount != 3 {
		t.Fatalf("unexpected export: valid=%v lines=%d", e.Validation.IsValid, e.Totals.LinesCount)
	}

	w = do(t, mux, http.MethodGet, fmt.Sprintf("/api/exports/%d/download", e.ID), "")
	if w.Code != http.StatusOK {
		t.Fatalf("download: expected 200 got %d", w.Code)
	}
	if !strings.Contains(w.Header().Get("Content-Type"), "csv") {
		t.Fatalf("unexpected content type %q", w.Header().Get("Content-Type"))
	}
	if !strings.Contains(w.Body.String(), "264,00") {
		t.Fatalf("missing receivable amount: %s", w.Body.String())
	}

	w = do(t, mux, http.MethodPost, "/api/exports",
		fmt.Sprintf(`{"prefacturation_ids":[%d],"accounting_system":"sap","format":"edi"}`, p.ID))
	if w.Code != http.StatusCreated {
		t.Fatalf("edi export: expected 201 got %d: %s", w.Code, w.Body.String())
	}
	decode(t, w, &e)
	w = do(t, mux, http.MethodGet, fmt.Sprintf("/api/exports/%d/download", e.ID), "")
	if w.Code != http.StatusBadRequest || !strings.Contains(w.Body.String(), "unsupported_format") {
		t.Fatalf("edi download: expected 400 unsupported_format got %d: %s", w.Code, w.Body.String())
	}
}

func TestVigilanceRoutes(t *testing.T) {
	mux := setupMux(t)

	w := do(t, mux, http.MethodPost, "/api/carriers/TR-1/restriction", `{"blocked":true,"reason":"URSSAF certificate missing"}`)
	if w.Code != http.StatusNotFound {
		t.Fatalf("restriction on unknown carrier: expected 404 got %d", w.Code)
	}

	w = do(t, mux, http.MethodPost, "/api/carriers/TR-1/documents",
		`{"carrier_name":"Transports Martin","type":"kbis","expiry_date":"2099-01-01T00:00:00Z","file":{"name":"kbis.pdf","url":"s3://docs/kbis.pdf"}}`)
	if w.Code != http.StatusOK {
		t.Fatalf("upload: expected 200 got %d: %s", w.Code, w.Body.String())
	}
	var v models.CarrierVigilance
	decode(t, w, &v)
	if len(v.Documents) != 1 {
		t.Fatalf("expected 1 document got %d", len(v.Documents))
	}

	w = do(t, mux, http.MethodGet, "/api/carriers/TR-1/vigilance", "")
	if w.Code != http.StatusOK {
		t.Fatalf("view: expected 200 got %d", w.Code)
	}
	w = do(t, mux, http.MethodGet, "/api/vigilance?blocked=maybe", "")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("bad filter: expected 400 got %d", w.Code)
	}
	w = do(t, mux, http.MethodPost, "/api/vigilance/reevaluate", "")
	if w.Code != http.StatusOK {
		t.Fatalf("reevaluate: expected 200 got %d", w.Code)
	}
}

func TestCheckReportsNonBillingBlocks(t *testing.T) {
	mux := setupMux(t)

	w := do(t, mux, http.MethodPost, "/api/blocks",
		`{"entity_type":"client","entity_id":"CLI-1","type":"late","reason":"late pallets","blocks_billing":false}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("create block: expected 201 got %d: %s", w.Code, w.Body.String())
	}

	w = do(t, mux, http.MethodGet, "/api/blocks/check?entity_type=client&entity_id=CLI-1", "")
	if w.Code != http.StatusOK {
		t.Fatalf("check: expected 200 got %d: %s", w.Code, w.Body.String())
	}
	var check struct {
		Blocked bool           `json:"blocked"`
		Blocks  []models.Block `json:"blocks"`
	}
	decode(t, w, &check)
	if check.Blocked || len(check.Blocks) != 1 {
		t.Fatalf("expected one informational block, got %+v", check)
	}
}
