package http

import (
	"errors"
	"mime"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"rhledger/internal/core"
	"rhledger/internal/log"
	"rhledger/internal/rates"
	"rhledger/internal/services"
)

// recordRequest is the body of create and replace calls.
type recordRequest struct {
	Name     string      `json:"name"`
	Amount   amountInput `json:"amount"`
	Currency string      `json:"currency,omitempty"`
	Category string      `json:"category,omitempty"`
}

func (req recordRequest) entry(c core.Collection) (services.Entry, error) {
	amount, err := req.Amount.parse(c == core.Financing)
	if err != nil {
		return services.Entry{}, err
	}
	var cur core.Currency
	if s := strings.TrimSpace(req.Currency); s != "" {
		if cur, err = core.ParseCurrency(s); err != nil {
			return services.Entry{}, err
		}
	}
	return services.Entry{
		Name:     sanitizeInput(req.Name),
		Amount:   amount,
		Currency: cur,
		Category: core.Category(strings.ToLower(strings.TrimSpace(req.Category))),
	}, nil
}

// recordView is a record as returned to clients.
type recordView struct {
	core.Record
	Amount float64  `json:"amount"`
	Links  []string `json:"links,omitempty"`
}

func viewOf(r core.Record) recordView {
	return recordView{Record: r, Amount: core.Round2(r.Amount), Links: r.Links()}
}

type monthlyStatRequest struct {
	Income   float64 `json:"income"`
	Expenses float64 `json:"expenses"`
}

type monthlyStatView struct {
	core.MonthlyStat
	Net float64 `json:"net"`
}

type convertRequest struct {
	Amount amountInput `json:"amount"`
	From   string      `json:"from"`
	To     string      `json:"to"`
}

type convertResponse struct {
	Amount float64       `json:"amount"`
	From   core.Currency `json:"from"`
	To     core.Currency `json:"to"`
	Result float64       `json:"result"`
	Rate   rates.Quote   `json:"rate"`
}

// fail writes err with the mapped status. Server-side failures are logged
// and their details withheld.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		ctx := r.Context()
		log.FromContext(ctx).ErrorContext(ctx, "Request failed",
			log.FieldError, err, log.FieldMethod, r.Method, log.FieldPath, r.URL.Path)
		if status == http.StatusInternalServerError {
			writeError(w, r, status, "internal error")
			return
		}
	}
	writeError(w, r, status, err.Error())
}

// collection resolves the {collection} path segment, answering 404 itself
// when it names no ledger.
func collection(w http.ResponseWriter, r *http.Request) (core.Collection, bool) {
	c, err := core.ParseCollection(r.PathValue("collection"))
	if err != nil {
		writeError(w, r, http.StatusNotFound, err.Error())
		return "", false
	}
	return c, true
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.view.Summary())
}

func (s *Server) handleListRecords(w http.ResponseWriter, r *http.Request) {
	c, ok := collection(w, r)
	if !ok {
		return
	}
	archived := false
	if v := strings.TrimSpace(r.URL.Query().Get("archived")); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "archived must be true or false")
			return
		}
		archived = b
	}

	recs, err := s.view.Records(c, archived)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	out := make([]recordView, len(recs))
	for i, rec := range recs {
		out[i] = viewOf(rec)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"collection": c,
		"archived":   archived,
		"count":      len(out),
		"records":    out,
	})
}

func (s *Server) handleCreateRecord(w http.ResponseWriter, r *http.Request) {
	c, ok := collection(w, r)
	if !ok {
		return
	}
	var req recordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	entry, err := req.entry(c)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	rec, err := s.ledger.Add(r.Context(), c, entry)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, viewOf(rec))
}

func (s *Server) handleReplaceRecord(w http.ResponseWriter, r *http.Request) {
	c, ok := collection(w, r)
	if !ok {
		return
	}
	var req recordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	entry, err := req.entry(c)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	rec, err := s.ledger.Replace(r.Context(), c, r.PathValue("id"), entry)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(rec))
}

func (s *Server) handleDeleteRecord(w http.ResponseWriter, r *http.Request) {
	c, ok := collection(w, r)
	if !ok {
		return
	}
	if err := s.ledger.Delete(r.Context(), c, r.PathValue("id")); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSetArchived(archived bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c, ok := collection(w, r)
		if !ok {
			return
		}
		id := r.PathValue("id")
		var err error
		if archived {
			err = s.ledger.Archive(r.Context(), c, id)
		} else {
			err = s.ledger.Unarchive(r.Context(), c, id)
		}
		if err != nil {
			s.fail(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// handleAttach takes a multipart upload in the "file" field.
func (s *Server) handleAttach(w http.ResponseWriter, r *http.Request) {
	c, ok := collection(w, r)
	if !ok {
		return
	}
	// Room for the multipart envelope on top of the file itself.
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload+(1<<20))
	if err := r.ParseMultipartForm(s.maxUpload); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, r, http.StatusRequestEntityTooLarge, "file too large")
			return
		}
		writeError(w, r, http.StatusBadRequest, "invalid multipart form")
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "missing file field")
		return
	}
	defer file.Close()
	if header.Size > s.maxUpload {
		writeError(w, r, http.StatusRequestEntityTooLarge, "file too large")
		return
	}

	contentType := header.Header.Get("Content-Type")
	if contentType == "" || contentType == "application/octet-stream" {
		if byExt := mime.TypeByExtension(strings.ToLower(filepath.Ext(header.Filename))); byExt != "" {
			contentType = byExt
		}
	}

	url, err := s.ledger.AttachReceipt(r.Context(), c, r.PathValue("id"), header.Filename, contentType, file)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"attachment": url})
}

func (s *Server) handleDetach(w http.ResponseWriter, r *http.Request) {
	c, ok := collection(w, r)
	if !ok {
		return
	}
	if err := s.ledger.RemoveAttachment(r.Context(), c, r.PathValue("id")); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListMonthlyStats(w http.ResponseWriter, r *http.Request) {
	stats := s.view.MonthlyStats()
	out := make([]monthlyStatView, len(stats))
	for i, m := range stats {
		out[i] = monthlyStatView{MonthlyStat: m, Net: core.Round2(m.Net())}
	}
	writeJSON(w, http.StatusOK, map[string]any{"stats": out})
}

func (s *Server) handlePutMonthlyStat(w http.ResponseWriter, r *http.Request) {
	var req monthlyStatRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	m, err := s.ledger.SaveMonthlyStat(r.Context(), r.PathValue("month"), req.Income, req.Expenses)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, monthlyStatView{MonthlyStat: m, Net: core.Round2(m.Net())})
}

func (s *Server) handleDeleteMonthlyStat(w http.ResponseWriter, r *http.Request) {
	if err := s.ledger.DeleteMonthlyStat(r.Context(), r.PathValue("month")); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRates(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"base":        core.CanonicalCurrency,
		"egp":         s.rates.Current(),
		"sar_per_usd": core.SARPerUSD,
	})
}

func (s *Server) handleConvert(w http.ResponseWriter, r *http.Request) {
	var req convertRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	amount, err := req.Amount.parse(false)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	from, err := core.ParseCurrency(req.From)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	to, err := core.ParseCurrency(req.To)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	quote := s.rates.Current()
	result, err := s.rates.Convert(amount, from, to)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, convertResponse{
		Amount: amount,
		From:   from,
		To:     to,
		Result: core.Round2(result),
		Rate:   quote,
	})
}
