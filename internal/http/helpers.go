package http

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"rhledger/internal/attachments"
	"rhledger/internal/core"
	"rhledger/internal/services"
	"rhledger/internal/store"
)

const maxJSONBody = 64 << 10

// errorResponse is the body of every non-2xx reply.
type errorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

// validationErrors map to 422.
var validationErrors = []error{
	core.ErrEmptyName,
	core.ErrNameTooLong,
	core.ErrInvalidAmount,
	core.ErrInvalidCategory,
	core.ErrUnknownCollection,
	core.ErrEmptyPatch,
	core.ErrFinancingZeroValue,
	core.ErrUnknownCurrency,
	core.ErrInvalidRate,
	core.ErrInvalidMonth,
	core.ErrInvalidSplit,
	attachments.ErrUnsupportedType,
	attachments.ErrEmptyFile,
}

// statusFor maps a service error to an HTTP status.
func statusFor(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, attachments.ErrUploadFailed):
		return http.StatusBadGateway
	case errors.Is(err, services.ErrNoAttachmentHost):
		return http.StatusNotImplemented
	case errors.Is(err, store.ErrClosed):
		return http.StatusServiceUnavailable
	}
	for _, target := range validationErrors {
		if errors.Is(err, target) {
			return http.StatusUnprocessableEntity
		}
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg, RequestID: requestIDFrom(r)})
}

// decodeJSON reads a bounded JSON body into dst, rejecting unknown fields.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return errors.New("invalid request body: trailing data")
	}
	return nil
}

// amountInput accepts an amount as a JSON number or a string, so "12,50"
// typed into a form survives the trip.
type amountInput string

func (a *amountInput) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "null" {
		*a = ""
		return nil
	}
	if unquoted, err := strconv.Unquote(s); err == nil {
		*a = amountInput(strings.TrimSpace(unquoted))
		return nil
	}
	// A bare JSON number may arrive in exponent form (1e3); spell it out.
	d, err := decimal.NewFromString(s)
	if err != nil {
		return fmt.Errorf("invalid amount %s", s)
	}
	*a = amountInput(d.String())
	return nil
}

// parse returns the amount; signed allows a leading minus.
func (a amountInput) parse(signed bool) (float64, error) {
	s := string(a)
	negative := false
	if signed && strings.HasPrefix(s, "-") {
		negative = true
		s = strings.TrimPrefix(s, "-")
	}
	v, err := core.ParseAmount(s)
	if err != nil {
		if signed && isZero(s) {
			return 0, core.ErrFinancingZeroValue
		}
		return 0, err
	}
	if negative {
		v = -v
	}
	return v, nil
}

func isZero(s string) bool {
	f, err := strconv.ParseFloat(strings.ReplaceAll(strings.TrimSpace(s), ",", "."), 64)
	return err == nil && f == 0
}

// sanitizeInput trims and removes control characters except tab and newlines.
func sanitizeInput(s string) string {
	s = strings.TrimSpace(s)
	return strings.Map(func(r rune) rune {
		if r < 32 && r != 9 && r != 10 && r != 13 {
			return -1
		}
		return r
	}, s)
}

// generateRequestID creates a unique request ID for tracing.
func generateRequestID() string {
	bytes := make([]byte, 8)
	if _, err := rand.Read(bytes); err != nil {
		return fmt.Sprintf("req_%d", time.Now().UnixNano())
	}
	return "req_" + hex.EncodeToString(bytes)
}
