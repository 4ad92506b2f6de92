// Package api exposes the engine over HTTP with gorilla/mux.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/mims-dev/mims/internal/errs"
	"github.com/mims-dev/mims/internal/ledger"
	"github.com/mims-dev/mims/internal/loan"
	"github.com/mims-dev/mims/internal/logging"
	"github.com/mims-dev/mims/internal/reversal"
	"github.com/mims-dev/mims/internal/txn"
)

// Services are the operations the API serves.
type Services struct {
	Ledger       *ledger.Service
	Transactions *txn.Service
	Reversals    *reversal.Service
	Loans        *loan.Service
	// Ping backs /healthz. Nil means always healthy.
	Ping func(context.Context) error
}

// Handler serves the v1 API.
type Handler struct {
	svc Services
	log *logging.Logger
}

// NewRouter builds the router. metrics, when non-nil, is mounted at /metrics.
func NewRouter(svc Services, log *logging.Logger, metrics http.Handler) *mux.Router {
	if log == nil {
		log = logging.NewNop()
	}
	h := &Handler{svc: svc, log: log.Named("api")}

	r := mux.NewRouter()
	r.Use(h.logRequests)
	r.HandleFunc("/healthz", h.health).Methods(http.MethodGet)
	if metrics != nil {
		r.Handle("/metrics", metrics).Methods(http.MethodGet)
	}

	v1 := r.PathPrefix("/v1").Subrouter()
	v1.HandleFunc("/transactions", h.createTransaction).Methods(http.MethodPost)
	v1.HandleFunc("/transfers", h.createTransfer).Methods(http.MethodPost)
	v1.HandleFunc("/transactions/{number}", h.getTransaction).Methods(http.MethodGet)
	v1.HandleFunc("/transactions/{number}/reversal", h.reverseTransaction).Methods(http.MethodPost)

	v1.HandleFunc("/accounts/{number}", h.getAccount).Methods(http.MethodGet)
	v1.HandleFunc("/accounts/{number}/transactions", h.accountTransactions).Methods(http.MethodGet)
	v1.HandleFunc("/accounts/{number}/close", h.closeAccount).Methods(http.MethodPost)

	v1.HandleFunc("/customers/{ref}/accounts", h.customerAccounts).Methods(http.MethodGet)
	v1.HandleFunc("/customers/{ref}/transactions", h.customerTransactions).Methods(http.MethodGet)
	v1.HandleFunc("/customers/{ref}/loans", h.customerLoans).Methods(http.MethodGet)

	v1.HandleFunc("/loans", h.applyLoan).Methods(http.MethodPost)
	v1.HandleFunc("/loans/pending", h.pendingLoans).Methods(http.MethodGet)
	v1.HandleFunc("/loans/quote", h.quoteLoan).Methods(http.MethodGet)
	v1.HandleFunc("/loans/{number}", h.getLoan).Methods(http.MethodGet)
	v1.HandleFunc("/loans/{number}/approve", h.approveLoan).Methods(http.MethodPost)
	v1.HandleFunc("/loans/{number}/reject", h.rejectLoan).Methods(http.MethodPost)
	v1.HandleFunc("/loans/{number}/disburse", h.disburseLoan).Methods(http.MethodPost)
	v1.HandleFunc("/loans/{number}/disbursement/retry", h.retryDisbursement).Methods(http.MethodPost)

	v1.HandleFunc("/stats", h.stats).Methods(http.MethodGet)
	return r
}

// ErrorBody is the JSON shape of every error response.
type ErrorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

// StatusFor maps an error kind to an HTTP status.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, errs.ErrValidation):
		return http.StatusBadRequest
	case errs.IsNotFound(err):
		return http.StatusNotFound
	case errs.Classify(err) == "persistence_error":
		return http.StatusInternalServerError
	}
	return http.StatusConflict
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := StatusFor(err)
	body := ErrorBody{
		Error:   errs.Classify(err),
		Message: err.Error(),
		Field:   errs.FieldOf(err),
	}
	if status == http.StatusInternalServerError {
		h.log.Error("request failed", zap.String("path", r.URL.Path), zap.Error(err))
		body.Message = "internal error"
	}
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// decode reads a JSON body into v, rejecting unknown fields.
func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return errs.Invalid("body", "malformed JSON: %v", err)
	}
	return nil
}

// limit parses the optional ?limit= query parameter.
func limit(r *http.Request) (int, error) {
	v := r.URL.Query().Get("limit")
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, errs.Invalid("limit", "must be a non-negative integer, got %q", v)
	}
	return n, nil
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func (h *Handler) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		h.log.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("duration", time.Since(start)))
	})
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	if h.svc.Ping != nil {
		if err := h.svc.Ping(r.Context()); err != nil {
			h.log.Warn("health check failed", zap.Error(err))
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
