package importer

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/mims-dev/mims/internal/model"
	"github.com/mims-dev/mims/internal/txn"
)

// BatchParser reads rows that name the kind explicitly:
//
//	account_number,customer_ref,kind,amount,description,counterpart_account
//
// counterpart_account is only used by transfers.
type BatchParser struct{}

const (
	batchNumFields   = 6
	batchColAccount  = 0
	batchColCustomer = 1
	batchColKind     = 2
	batchColAmount   = 3
	batchColDesc     = 4
	batchColCounter  = 5
)

// Format returns the parser name.
func (p *BatchParser) Format() string { return "batch" }

// Parse reads a batch CSV. Kinds and amounts are checked later by the
// engine, so rows only fail here when they cannot be read at all.
func (p *BatchParser) Parse(r io.Reader) ([]txn.Request, error) {
	records, err := readRecords(r, batchNumFields)
	if err != nil {
		return nil, fmt.Errorf("reading batch CSV: %w", err)
	}

	var reqs []txn.Request
	for i, rec := range records {
		amount, err := parseAmount(rec[batchColAmount])
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i+2, err)
		}
		reqs = append(reqs, txn.Request{
			AccountNumber:      rec[batchColAccount],
			CustomerRef:        rec[batchColCustomer],
			Kind:               model.TransactionKind(strings.ToLower(rec[batchColKind])),
			Amount:             amount,
			Description:        rec[batchColDesc],
			CounterpartAccount: rec[batchColCounter],
		})
	}
	return reqs, nil
}

// SignedParser reads statement-style rows where the sign picks the kind:
// positive amounts are deposits and negative amounts withdrawals.
//
//	account_number,customer_ref,amount,description
type SignedParser struct{}

const (
	signedNumFields   = 4
	signedColAccount  = 0
	signedColCustomer = 1
	signedColAmount   = 2
	signedColDesc     = 3
)

// Format returns the parser name.
func (p *SignedParser) Format() string { return "signed" }

// Parse reads a signed CSV.
func (p *SignedParser) Parse(r io.Reader) ([]txn.Request, error) {
	records, err := readRecords(r, signedNumFields)
	if err != nil {
		return nil, fmt.Errorf("reading signed CSV: %w", err)
	}

	var reqs []txn.Request
	for i, rec := range records {
		amount, err := parseAmount(rec[signedColAmount])
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i+2, err)
		}
		kind := model.KindDeposit
		if amount.IsNegative() {
			kind = model.KindWithdrawal
		}
		reqs = append(reqs, txn.Request{
			AccountNumber: rec[signedColAccount],
			CustomerRef:   rec[signedColCustomer],
			Kind:          kind,
			Amount:        amount.Abs(),
			Description:   rec[signedColDesc],
		})
	}
	return reqs, nil
}

// readRecords returns the data rows of a CSV with a header row, fields trimmed.
func readRecords(r io.Reader, fields int) ([][]string, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = fields
	cr.TrimLeadingSpace = true

	records, err := cr.ReadAll()
	if err != nil {
		return nil, err
	}
	if len(records) <= 1 {
		return nil, nil
	}
	rows := records[1:]
	for _, rec := range rows {
		for j := range rec {
			rec[j] = strings.TrimSpace(rec[j])
		}
	}
	return rows, nil
}

func parseAmount(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("parsing amount %q: %w", s, err)
	}
	return d, nil
}
