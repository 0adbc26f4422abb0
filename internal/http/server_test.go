package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"
	"time"

	"rhledger/internal/attachments"
	"rhledger/internal/core"
	"rhledger/internal/dashboard"
	"rhledger/internal/log"
	"rhledger/internal/rates"
	"rhledger/internal/services"
	"rhledger/internal/store"
	"rhledger/internal/store/memory"
)

// storeView answers reads straight from the store so tests need not wait
// for subscriptions.
type storeView struct {
	st    *memory.Store
	ready bool
}

func (v storeView) Ready() bool { return v.ready }

func (v storeView) Summary() dashboard.Summary {
	ctx := context.Background()
	p, _ := v.st.List(ctx, core.Projects)
	e, _ := v.st.List(ctx, core.Expenses)
	f, _ := v.st.List(ctx, core.Financing)
	fs, _ := core.BuildSummary(p, e, f, core.DefaultMarketingSplit)
	return dashboard.Summary{
		FinancialSummary: fs.Rounded(),
		Direction:        fs.Settlement.Direction().String(),
		Transfer:         core.Round2(fs.Settlement.Amount()),
		Message:          fs.Settlement.Message(),
	}
}

func (v storeView) Records(c core.Collection, archived bool) ([]core.Record, error) {
	all, err := v.st.List(context.Background(), c)
	if err != nil {
		return nil, err
	}
	if archived {
		return core.ArchivedOnly(all), nil
	}
	return core.Active(all), nil
}

func (v storeView) MonthlyStats() []core.MonthlyStat {
	stats, _ := v.st.ListMonthlyStats(context.Background())
	core.SortMonthly(stats)
	return stats
}

type fixedRates float64

func (r fixedRates) EGPRate() float64 { return float64(r) }

func (r fixedRates) Current() rates.Quote {
	return rates.Quote{Currency: core.EGP, Rate: float64(r), Origin: rates.OriginLive}
}

func (r fixedRates) Convert(amount float64, from, to core.Currency) (float64, error) {
	usd, err := core.ToCanonical(amount, from, float64(r))
	if err != nil {
		return 0, err
	}
	return core.FromCanonical(usd, to, float64(r))
}

type testServer struct {
	srv *Server
	st  *memory.Store
}

func newTestServer(t *testing.T, host attachments.Host, writesPerMinute int) testServer {
	t.Helper()
	st := memory.New()
	t.Cleanup(func() { st.Close() })
	svc := services.NewLedgerService(st, fixedRates(50), host, nil, log.Discard())
	srv := NewServer(Options{
		Ledger:          svc,
		View:            storeView{st: st, ready: true},
		Rates:           fixedRates(50),
		Logger:          log.Discard(),
		MaxUploadBytes:  1 << 10,
		WritesPerMinute: writesPerMinute,
	})
	t.Cleanup(func() { srv.Shutdown(context.Background()) })
	return testServer{srv: srv, st: st}
}

func (ts testServer) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	ts.srv.Handler.ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rr.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rr.Body.String(), err)
	}
	return v
}

func TestHealthAndHeaders(t *testing.T) {
	ts := newTestServer(t, nil, 0)

	rr := ts.do(t, http.MethodGet, "/healthz", "")
	if rr.Code != http.StatusOK || rr.Body.String() != "ok" {
		t.Fatalf("healthz: %d %q", rr.Code, rr.Body.String())
	}
	if rr.Header().Get("X-Content-Type-Options") != "nosniff" || rr.Header().Get("X-Frame-Options") != "DENY" {
		t.Fatalf("security headers missing: %v", rr.Header())
	}
	if !strings.HasPrefix(rr.Header().Get("X-Request-ID"), "req_") {
		t.Fatalf("request id not generated: %q", rr.Header().Get("X-Request-ID"))
	}

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	rr = httptest.NewRecorder()
	ts.srv.Handler.ServeHTTP(rr, req)
	if rr.Header().Get("X-Request-ID") != "abc-123" {
		t.Fatalf("incoming request id not kept: %q", rr.Header().Get("X-Request-ID"))
	}
}

func TestReadyz(t *testing.T) {
	st := memory.New()
	defer st.Close()
	srv := NewServer(Options{View: storeView{st: st}, Logger: log.Discard()})
	defer srv.Shutdown(context.Background())

	rr := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 before first snapshot, got %d", rr.Code)
	}

	ts := newTestServer(t, nil, 0)
	if rr := ts.do(t, http.MethodGet, "/readyz", ""); rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
}

func TestCreateRecord(t *testing.T) {
	ts := newTestServer(t, nil, 0)

	tests := []struct {
		name       string
		path       string
		body       string
		wantStatus int
		wantAmount float64
	}{
		{"sar project", "/api/records/projects", `{"name":"tower","amount":375,"currency":"SAR","category":"saudi"}`, http.StatusCreated, 100},
		{"comma amount", "/api/records/expenses", `{"name":"fuel","amount":"12,50","category":"operational"}`, http.StatusCreated, 12.5},
		{"egp expense", "/api/records/expenses", `{"name":"cement","amount":5000,"currency":"egp","category":"Purchases"}`, http.StatusCreated, 100},
		{"financing debit", "/api/records/financing", `{"name":"repay","amount":"-750","currency":"SAR"}`, http.StatusCreated, -200},
		{"exponent number", "/api/records/projects", `{"name":"villa","amount":1e3,"category":"egypt"}`, http.StatusCreated, 1000},
		{"signed exponent number", "/api/records/financing", `{"name":"repay","amount":-7.5E2,"currency":"SAR"}`, http.StatusCreated, -200},
		{"exponent string", "/api/records/projects", `{"name":"villa","amount":"1e3","category":"egypt"}`, http.StatusUnprocessableEntity, 0},
		{"blank name", "/api/records/projects", `{"name":" ","amount":1,"category":"mah"}`, http.StatusUnprocessableEntity, 0},
		{"negative project", "/api/records/projects", `{"name":"p","amount":-1,"category":"mah"}`, http.StatusUnprocessableEntity, 0},
		{"zero financing", "/api/records/financing", `{"name":"f","amount":0}`, http.StatusUnprocessableEntity, 0},
		{"unknown currency", "/api/records/projects", `{"name":"p","amount":1,"currency":"EUR","category":"mah"}`, http.StatusUnprocessableEntity, 0},
		{"wrong category", "/api/records/expenses", `{"name":"e","amount":1,"category":"egypt"}`, http.StatusUnprocessableEntity, 0},
		{"unknown field", "/api/records/projects", `{"name":"p","amount":1,"cost":3}`, http.StatusBadRequest, 0},
		{"broken json", "/api/records/projects", `{"name":`, http.StatusBadRequest, 0},
		{"unknown collection", "/api/records/loans", `{"name":"p","amount":1}`, http.StatusNotFound, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := ts.do(t, http.MethodPost, tt.path, tt.body)
			if rr.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d (%s)", rr.Code, tt.wantStatus, rr.Body.String())
			}
			if tt.wantStatus != http.StatusCreated {
				if e := decode[errorResponse](t, rr); e.Error == "" || e.RequestID == "" {
					t.Fatalf("error body incomplete: %+v", e)
				}
				return
			}
			rec := decode[recordView](t, rr)
			if rec.ID == "" || rec.Amount != tt.wantAmount {
				t.Fatalf("unexpected record %+v", rec)
			}
		})
	}
}

func TestRecordLifecycle(t *testing.T) {
	ts := newTestServer(t, nil, 0)

	created := decode[recordView](t, ts.do(t, http.MethodPost, "/api/records/projects",
		`{"name":"villa https://maps.example.com/x","amount":1000,"category":"egypt"}`))
	if len(created.Links) != 1 {
		t.Fatalf("links not extracted: %+v", created)
	}
	ts.do(t, http.MethodPost, "/api/records/projects", `{"name":"office","amount":200,"category":"mah"}`)

	summary := decode[dashboard.Summary](t, ts.do(t, http.MethodGet, "/api/summary", ""))
	if summary.TotalIncome != 1200 || summary.IncomeByRegion[core.RegionSaudi] != 0 || summary.Transfer != 480 {
		t.Fatalf("unexpected summary %+v", summary)
	}

	if rr := ts.do(t, http.MethodPost, "/api/records/projects/"+created.ID+"/archive", ""); rr.Code != http.StatusNoContent {
		t.Fatalf("archive: %d %s", rr.Code, rr.Body.String())
	}
	list := decode[struct {
		Count   int          `json:"count"`
		Records []recordView `json:"records"`
	}](t, ts.do(t, http.MethodGet, "/api/records/projects?archived=true", ""))
	if list.Count != 1 || list.Records[0].ID != created.ID {
		t.Fatalf("archived list wrong: %+v", list)
	}
	summary = decode[dashboard.Summary](t, ts.do(t, http.MethodGet, "/api/summary", ""))
	if summary.TotalIncome != 200 {
		t.Fatalf("archived record still counted: %v", summary.TotalIncome)
	}

	replaced := decode[recordView](t, ts.do(t, http.MethodPut, "/api/records/projects/"+created.ID,
		`{"name":"villa","amount":1500,"category":"egypt"}`))
	if replaced.ID == created.ID || !replaced.Archived {
		t.Fatalf("replace must create a new archived record: %+v", replaced)
	}
	if rr := ts.do(t, http.MethodDelete, "/api/records/projects/"+created.ID, ""); rr.Code != http.StatusNotFound {
		t.Fatalf("old record should be gone, got %d", rr.Code)
	}
	if rr := ts.do(t, http.MethodDelete, "/api/records/projects/"+replaced.ID, ""); rr.Code != http.StatusNoContent {
		t.Fatalf("delete: %d", rr.Code)
	}
	if rr := ts.do(t, http.MethodGet, "/api/records/projects?archived=maybe", ""); rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad flag, got %d", rr.Code)
	}
	if rr := ts.do(t, http.MethodPatch, "/api/records/projects", ""); rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rr.Code)
	}
}

func multipartBody(t *testing.T, filename, contentType, content string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, filename))
	if contentType != "" {
		h.Set("Content-Type", contentType)
	}
	part, err := mw.CreatePart(h)
	if err != nil {
		t.Fatalf("create part: %v", err)
	}
	part.Write([]byte(content))
	mw.Close()
	return &buf, mw.FormDataContentType()
}

func TestAttachment(t *testing.T) {
	host := attachments.NewMemoryHost(0)
	ts := newTestServer(t, host, 0)
	rec := decode[recordView](t, ts.do(t, http.MethodPost, "/api/records/financing", `{"name":"loan","amount":500}`))
	path := "/api/records/financing/" + rec.ID + "/attachment"

	upload := func(filename, contentType, content string) *httptest.ResponseRecorder {
		body, ct := multipartBody(t, filename, contentType, content)
		req := httptest.NewRequest(http.MethodPost, path, body)
		req.Header.Set("Content-Type", ct)
		rr := httptest.NewRecorder()
		ts.srv.Handler.ServeHTTP(rr, req)
		return rr
	}

	if rr := upload("virus.exe", "application/x-msdownload", "MZ"); rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", rr.Code)
	}
	if rr := upload("big.png", "image/png", strings.Repeat("x", 4<<10)); rr.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d", rr.Code)
	}

	rr := upload("receipt.pdf", "", "%PDF-1.4")
	if rr.Code != http.StatusOK {
		t.Fatalf("upload: %d %s", rr.Code, rr.Body.String())
	}
	url := decode[map[string]string](t, rr)["attachment"]
	if _, ct, ok := host.Open(url); !ok || ct != "application/pdf" {
		t.Fatalf("upload not stored: %q %q", url, ct)
	}
	got, _ := ts.st.Get(context.Background(), core.Financing, rec.ID)
	if got.Attachment != url {
		t.Fatalf("record not linked: %+v", got)
	}

	if rr := ts.do(t, http.MethodDelete, path, ""); rr.Code != http.StatusNoContent {
		t.Fatalf("detach: %d", rr.Code)
	}
	got, _ = ts.st.Get(context.Background(), core.Financing, rec.ID)
	if got.Attachment != "" {
		t.Fatalf("attachment not cleared: %+v", got)
	}
}

func TestAttachmentWithoutHost(t *testing.T) {
	ts := newTestServer(t, nil, 0)
	rec := decode[recordView](t, ts.do(t, http.MethodPost, "/api/records/financing", `{"name":"loan","amount":500}`))
	body, ct := multipartBody(t, "r.png", "image/png", "png")
	req := httptest.NewRequest(http.MethodPost, "/api/records/financing/"+rec.ID+"/attachment", body)
	req.Header.Set("Content-Type", ct)
	rr := httptest.NewRecorder()
	ts.srv.Handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusNotImplemented {
		t.Fatalf("expected 501, got %d", rr.Code)
	}
}

func TestMonthlyStats(t *testing.T) {
	ts := newTestServer(t, nil, 0)

	rr := ts.do(t, http.MethodPut, "/api/monthly-stats/2026-03", `{"income":1500,"expenses":400.25}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("put: %d %s", rr.Code, rr.Body.String())
	}
	if m := decode[monthlyStatView](t, rr); m.Net != 1099.75 || m.Label == "" {
		t.Fatalf("unexpected stat %+v", m)
	}
	ts.do(t, http.MethodPut, "/api/monthly-stats/2026-01", `{"income":10,"expenses":5}`)

	list := decode[struct {
		Stats []monthlyStatView `json:"stats"`
	}](t, ts.do(t, http.MethodGet, "/api/monthly-stats", ""))
	if len(list.Stats) != 2 || list.Stats[0].ID != "2026-01" {
		t.Fatalf("stats not chronological: %+v", list.Stats)
	}

	if rr := ts.do(t, http.MethodPut, "/api/monthly-stats/2026-13", `{"income":1,"expenses":1}`); rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for bad month, got %d", rr.Code)
	}
	if rr := ts.do(t, http.MethodDelete, "/api/monthly-stats/2026-01", ""); rr.Code != http.StatusNoContent {
		t.Fatalf("delete: %d", rr.Code)
	}
}

func TestRatesAndConvert(t *testing.T) {
	ts := newTestServer(t, nil, 0)

	payload := decode[map[string]json.RawMessage](t, ts.do(t, http.MethodGet, "/api/rates", ""))
	if string(payload["sar_per_usd"]) != "3.75" {
		t.Fatalf("unexpected rates payload %v", payload)
	}

	rr := ts.do(t, http.MethodPost, "/api/convert", `{"amount":"1000","from":"EGP","to":"SAR"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("convert: %d %s", rr.Code, rr.Body.String())
	}
	if res := decode[convertResponse](t, rr); res.Result != 75 || res.Rate.Rate != 50 {
		t.Fatalf("unexpected conversion %+v", res)
	}
	if rr := ts.do(t, http.MethodPost, "/api/convert", `{"amount":1,"from":"USD","to":"JPY"}`); rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", rr.Code)
	}
}

func TestWriteRateLimit(t *testing.T) {
	ts := newTestServer(t, nil, 2)
	body := `{"name":"p","amount":1,"category":"mah"}`

	for i := 0; i < 2; i++ {
		if rr := ts.do(t, http.MethodPost, "/api/records/projects", body); rr.Code != http.StatusCreated {
			t.Fatalf("write %d: %d", i, rr.Code)
		}
	}
	rr := ts.do(t, http.MethodPost, "/api/records/projects", body)
	if rr.Code != http.StatusTooManyRequests || rr.Header().Get("Retry-After") != "60" {
		t.Fatalf("expected 429, got %d", rr.Code)
	}
	if rr := ts.do(t, http.MethodGet, "/api/summary", ""); rr.Code != http.StatusOK {
		t.Fatalf("reads must not be limited, got %d", rr.Code)
	}
}

func TestRateLimiterWindow(t *testing.T) {
	rl := newRateLimiter(1, time.Minute)
	defer rl.stop()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }

	var m securityMetrics
	if !rl.allow("1.2.3.4", &m) || rl.allow("1.2.3.4", &m) {
		t.Fatalf("second request in the window must be refused")
	}
	if !rl.allow("5.6.7.8", &m) {
		t.Fatalf("clients are limited independently")
	}
	now = now.Add(time.Minute)
	if !rl.allow("1.2.3.4", &m) {
		t.Fatalf("new window must reset the quota")
	}
	if m.rateLimitHits != 1 {
		t.Fatalf("rateLimitHits = %d", m.rateLimitHits)
	}

	now = now.Add(time.Hour)
	if removed := rl.cleanupStaleEntries(); removed != 2 {
		t.Fatalf("expected both clients dropped, got %d", removed)
	}
}

func TestExtractClientIP(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		xff        string
		want       string
	}{
		{"direct", "203.0.113.9:4000", "", "203.0.113.9"},
		{"untrusted proxy ignored", "203.0.113.9:4000", "198.51.100.1", "203.0.113.9"},
		{"trusted proxy", "10.0.0.2:4000", "198.51.100.1, 10.0.0.2", "198.51.100.1"},
		{"garbage header", "10.0.0.2:4000", "not-an-ip", "10.0.0.2"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			r.RemoteAddr = tt.remoteAddr
			if tt.xff != "" {
				r.Header.Set("X-Forwarded-For", tt.xff)
			}
			if got := extractClientIP(r); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("wrap: %w", store.ErrNotFound), http.StatusNotFound},
		{fmt.Errorf("upload: %w", attachments.ErrUploadFailed), http.StatusBadGateway},
		{core.ErrInvalidMonth, http.StatusUnprocessableEntity},
		{fmt.Errorf("%w: x", core.ErrUnknownCurrency), http.StatusUnprocessableEntity},
		{services.ErrNoAttachmentHost, http.StatusNotImplemented},
		{errors.New("disk on fire"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := statusFor(tt.err); got != tt.want {
			t.Errorf("statusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}
