package api

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"

	"github.com/mims-dev/mims/internal/errs"
	"github.com/mims-dev/mims/internal/loan"
	"github.com/mims-dev/mims/internal/model"
	"github.com/mims-dev/mims/internal/txn"
)

func (h *Handler) createTransaction(w http.ResponseWriter, r *http.Request) {
	var req transactionRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	t, err := h.svc.Transactions.Process(r.Context(), txn.Request{
		AccountNumber:      req.AccountNumber,
		CustomerRef:        req.CustomerRef,
		Amount:             req.Amount,
		Kind:               model.TransactionKind(req.Kind),
		Description:        req.Description,
		CounterpartAccount: req.CounterpartAccount,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toTransaction(t))
}

func (h *Handler) createTransfer(w http.ResponseWriter, r *http.Request) {
	var req transferRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	res, err := h.svc.Transactions.Transfer(r.Context(), txn.TransferRequest{
		From:        req.From,
		To:          req.To,
		CustomerRef: req.CustomerRef,
		Amount:      req.Amount,
		Description: req.Description,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]transactionJSON{
		"debit":  toTransaction(&res.Debit),
		"credit": toTransaction(&res.Credit),
	})
}

func (h *Handler) getTransaction(w http.ResponseWriter, r *http.Request) {
	t, err := h.svc.Transactions.Get(r.Context(), mux.Vars(r)["number"])
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toTransaction(t))
}

func (h *Handler) reverseTransaction(w http.ResponseWriter, r *http.Request) {
	var req reversalRequest
	if r.ContentLength != 0 {
		if err := decode(r, &req); err != nil {
			h.writeError(w, r, err)
			return
		}
	}
	t, err := h.svc.Reversals.Reverse(r.Context(), mux.Vars(r)["number"], req.Reason)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toTransaction(t))
}

func (h *Handler) getAccount(w http.ResponseWriter, r *http.Request) {
	a, err := h.svc.Ledger.Get(r.Context(), mux.Vars(r)["number"])
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAccount(a))
}

func (h *Handler) accountTransactions(w http.ResponseWriter, r *http.Request) {
	n, err := limit(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	ts, err := h.svc.Transactions.ListByAccount(r.Context(), mux.Vars(r)["number"], n)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toTransactions(ts))
}

func (h *Handler) closeAccount(w http.ResponseWriter, r *http.Request) {
	a, err := h.svc.Ledger.Close(r.Context(), mux.Vars(r)["number"])
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAccount(a))
}

func (h *Handler) customerAccounts(w http.ResponseWriter, r *http.Request) {
	as, err := h.svc.Ledger.ListByCustomer(r.Context(), mux.Vars(r)["ref"])
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	out := make([]accountJSON, len(as))
	for i := range as {
		out[i] = toAccount(&as[i])
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) customerTransactions(w http.ResponseWriter, r *http.Request) {
	n, err := limit(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	ts, err := h.svc.Transactions.ListByCustomer(r.Context(), mux.Vars(r)["ref"], n)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toTransactions(ts))
}

func (h *Handler) customerLoans(w http.ResponseWriter, r *http.Request) {
	n, err := limit(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	ls, err := h.svc.Loans.ListByCustomer(r.Context(), mux.Vars(r)["ref"], n)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toLoans(ls))
}

func (h *Handler) applyLoan(w http.ResponseWriter, r *http.Request) {
	var req applyRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	l, err := h.svc.Loans.Apply(r.Context(), loan.ApplyRequest{
		CustomerRef:     req.CustomerRef,
		AccountNumber:   req.AccountNumber,
		RequestedAmount: req.RequestedAmount,
		InterestRate:    req.InterestRate,
		TermMonths:      req.TermMonths,
		Purpose:         req.Purpose,
		Collateral:      req.Collateral,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toLoan(l))
}

func (h *Handler) pendingLoans(w http.ResponseWriter, r *http.Request) {
	n, err := limit(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	ls, err := h.svc.Loans.Pending(r.Context(), n)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toLoans(ls))
}

// quoteLoan prices a loan within the configured bounds without storing it:
// GET /v1/loans/quote?amount=1000&rate=12&term=12
func (h *Handler) quoteLoan(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	amount, err := decimal.NewFromString(q.Get("amount"))
	if err != nil {
		h.writeError(w, r, errs.Invalid("amount", "must be a decimal, got %q", q.Get("amount")))
		return
	}
	rate, err := decimal.NewFromString(q.Get("rate"))
	if err != nil {
		h.writeError(w, r, errs.Invalid("rate", "must be a decimal, got %q", q.Get("rate")))
		return
	}
	term, err := strconv.Atoi(q.Get("term"))
	if err != nil {
		h.writeError(w, r, errs.Invalid("term", "must be an integer, got %q", q.Get("term")))
		return
	}
	terms, err := h.svc.Loans.Quote(amount, rate, term)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toTerms(terms))
}

func (h *Handler) getLoan(w http.ResponseWriter, r *http.Request) {
	l, err := h.svc.Loans.Get(r.Context(), mux.Vars(r)["number"])
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toLoan(l))
}

func (h *Handler) approveLoan(w http.ResponseWriter, r *http.Request) {
	var req approveRequest
	if r.ContentLength != 0 {
		if err := decode(r, &req); err != nil {
			h.writeError(w, r, err)
			return
		}
	}
	l, err := h.svc.Loans.Approve(r.Context(), mux.Vars(r)["number"], loan.ApproveRequest{
		Amount:   req.ApprovedAmount,
		Approver: req.Approver,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toLoan(l))
}

func (h *Handler) rejectLoan(w http.ResponseWriter, r *http.Request) {
	var req rejectRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	l, err := h.svc.Loans.Reject(r.Context(), mux.Vars(r)["number"], req.Reason)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toLoan(l))
}

func (h *Handler) disburseLoan(w http.ResponseWriter, r *http.Request) {
	l, err := h.svc.Loans.Disburse(r.Context(), mux.Vars(r)["number"])
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toLoan(l))
}

func (h *Handler) retryDisbursement(w http.ResponseWriter, r *http.Request) {
	l, err := h.svc.Loans.RetryDisbursement(r.Context(), mux.Vars(r)["number"])
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toLoan(l))
}

func (h *Handler) stats(w http.ResponseWriter, r *http.Request) {
	ts, err := h.svc.Transactions.Stats(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	ls, err := h.svc.Loans.Stats(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"transactions": ts,
		"loans":        ls,
	})
}
