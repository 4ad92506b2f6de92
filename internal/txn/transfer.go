package txn

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mims-dev/mims/internal/errs"
	"github.com/mims-dev/mims/internal/id"
	"github.com/mims-dev/mims/internal/model"
	"github.com/mims-dev/mims/internal/notify"
	"github.com/mims-dev/mims/internal/store"
)

// TransferRequest moves money between two accounts. CustomerRef must own From.
type TransferRequest struct {
	From        string
	To          string
	CustomerRef string
	Amount      decimal.Decimal
	Description string
}

func (r TransferRequest) validate() error {
	if err := validateAmount(r.Amount); err != nil {
		return err
	}
	if strings.TrimSpace(r.From) == "" {
		return errs.Invalid("account_number", "is required")
	}
	if strings.TrimSpace(r.To) == "" {
		return errs.Invalid("counterpart_account", "is required for transfers")
	}
	if r.From == r.To {
		return errs.Invalid("counterpart_account", "must differ from the source account")
	}
	if strings.TrimSpace(r.CustomerRef) == "" {
		return errs.Invalid("customer_ref", "is required")
	}
	return validateDescription(r.Description)
}

// TransferResult holds both legs of a transfer. Each leg names the other in
// CounterpartNumber.
type TransferResult struct {
	Debit  model.Transaction
	Credit model.Transaction
}

// Transfer debits From and credits To in one unit. The source is subject to
// the balance check and the daily limit.
func (s *Service) Transfer(ctx context.Context, req TransferRequest) (*TransferResult, error) {
	start := time.Now()
	res, err := s.transfer(ctx, req)
	s.finish(string(model.KindTransfer), start, err,
		zap.String("from", req.From), zap.String("to", req.To))
	if err != nil {
		return nil, err
	}

	s.log.Info("transfer completed",
		zap.String("debit", res.Debit.Number),
		zap.String("credit", res.Credit.Number),
		zap.String("from", req.From),
		zap.String("to", req.To),
		zap.String("amount", req.Amount.StringFixed(2)))
	s.emit(ctx, notify.TransactionCompleted, res.Debit, "counterpart="+res.Credit.Number)
	s.emit(ctx, notify.TransactionCompleted, res.Credit, "counterpart="+res.Debit.Number)
	return res, nil
}

func (s *Service) transfer(ctx context.Context, req TransferRequest) (*TransferResult, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	var res TransferResult
	err := s.store.WithinUnit(ctx, func(ctx context.Context, u store.Unit) error {
		accts, err := u.LockAccounts(ctx, req.From, req.To)
		if err != nil {
			return err
		}
		src, dst := accts[0], accts[1]
		if err := checkUsable(src, req.CustomerRef); err != nil {
			return err
		}
		if !dst.Active() {
			return fmt.Errorf("account %s: %w", dst.Number, errs.ErrAccountInactive)
		}

		now := s.now()
		if err := s.checkDebit(ctx, u, src, req.Amount, now); err != nil {
			return err
		}

		debitNo, err := s.ids.Next(ctx, u, id.PrefixTransaction)
		if err != nil {
			return err
		}
		creditNo, err := s.ids.Next(ctx, u, id.PrefixTransaction)
		if err != nil {
			return err
		}

		res.Debit = model.Transaction{
			ID:                uuid.New(),
			Number:            debitNo,
			AccountNumber:     src.Number,
			CustomerRef:       src.CustomerRef,
			Amount:            req.Amount,
			Kind:              model.KindTransfer,
			Direction:         model.DirectionOut,
			Status:            model.TxnCompleted,
			Description:       req.Description,
			CounterpartNumber: creditNo,
			CreatedAt:         now,
		}
		res.Credit = res.Debit
		res.Credit.ID = uuid.New()
		res.Credit.Number = creditNo
		res.Credit.AccountNumber = dst.Number
		res.Credit.CustomerRef = dst.CustomerRef
		res.Credit.Direction = model.DirectionIn
		res.Credit.CounterpartNumber = debitNo

		for _, leg := range []*model.Transaction{&res.Debit, &res.Credit} {
			if err := u.InsertTransaction(ctx, leg); err != nil {
				return err
			}
			if _, err := s.ledger.Adjust(ctx, u, leg.AccountNumber, leg.SignedAmount()); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, errs.Wrap("processing transfer", err)
	}
	return &res, nil
}

// Disbursement is the credit issued for a loan. Replayed is set when the
// credit already existed and nothing new was written.
type Disbursement struct {
	Transaction model.Transaction
	Replayed    bool
}

// DisbursementKey is the reservation that makes a loan's credit unique.
func DisbursementKey(loanNumber string) string {
	return "DISB-" + loanNumber
}

// CreditDisbursement deposits a loan's approved amount into accountNumber.
// It is idempotent per loan: a second call returns the first credit.
func (s *Service) CreditDisbursement(ctx context.Context, loanNumber, accountNumber, customerRef string, amount decimal.Decimal) (*Disbursement, error) {
	start := time.Now()
	d, err := s.creditDisbursement(ctx, loanNumber, accountNumber, customerRef, amount)
	s.finish("disbursement", start, err,
		zap.String("loan", loanNumber), zap.String("account", accountNumber))
	if err != nil {
		return nil, err
	}
	if d.Replayed {
		s.log.Info("disbursement already credited",
			zap.String("loan", loanNumber), zap.String("txn", d.Transaction.Number))
		return d, nil
	}

	s.log.Info("disbursement credited",
		zap.String("loan", loanNumber),
		zap.String("txn", d.Transaction.Number),
		zap.String("account", accountNumber),
		zap.String("amount", amount.StringFixed(2)))
	s.emit(ctx, notify.TransactionCompleted, d.Transaction, "loan="+loanNumber)
	return d, nil
}

func (s *Service) creditDisbursement(ctx context.Context, loanNumber, accountNumber, customerRef string, amount decimal.Decimal) (*Disbursement, error) {
	if strings.TrimSpace(loanNumber) == "" {
		return nil, errs.Invalid("loan_number", "is required")
	}
	if err := validateAmount(amount); err != nil {
		return nil, err
	}

	var d Disbursement
	err := s.store.WithinUnit(ctx, func(ctx context.Context, u store.Unit) error {
		// The account lock orders concurrent disbursements of the same loan,
		// so a losing reservation always finds the winner's credit committed.
		accts, err := u.LockAccounts(ctx, accountNumber)
		if err != nil {
			return err
		}
		a := accts[0]

		err = u.Reserve(ctx, DisbursementKey(loanNumber))
		if errors.Is(err, errs.ErrDuplicateNumber) {
			existing, err := u.DisbursementCredit(ctx, loanNumber)
			if err != nil {
				return fmt.Errorf("loading credit for loan %s: %w", loanNumber, err)
			}
			d = Disbursement{Transaction: *existing, Replayed: true}
			return nil
		}
		if err != nil {
			return err
		}

		if err := checkUsable(a, customerRef); err != nil {
			return err
		}
		number, err := s.ids.Next(ctx, u, id.PrefixTransaction)
		if err != nil {
			return err
		}
		t := model.Transaction{
			ID:            uuid.New(),
			Number:        number,
			AccountNumber: a.Number,
			CustomerRef:   a.CustomerRef,
			Amount:        amount,
			Kind:          model.KindDeposit,
			Direction:     model.DirectionIn,
			Status:        model.TxnCompleted,
			Description:   "Loan disbursement " + loanNumber,
			LoanNumber:    loanNumber,
			CreatedAt:     s.now(),
		}
		if err := u.InsertTransaction(ctx, &t); err != nil {
			return err
		}
		if _, err := s.ledger.Adjust(ctx, u, a.Number, amount); err != nil {
			return err
		}
		d = Disbursement{Transaction: t}
		return nil
	})
	if err != nil {
		return nil, errs.Wrap("crediting disbursement", err)
	}
	return &d, nil
}
