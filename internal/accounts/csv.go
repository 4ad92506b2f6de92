// Package accounts reads and writes account seed files and opens the
// accounts they describe.
package accounts

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/mims-dev/mims/internal/ledger"
	"github.com/mims-dev/mims/internal/model"
)

const (
	numFields      = 4
	colNumber      = 0
	colCustomerRef = 1
	colType        = 2
	colBalance     = 3
)

var header = []string{"account_number", "customer_ref", "account_type", "opening_balance"}

// ReadSeeds reads an accounts.csv seed file. The first row is a header.
func ReadSeeds(r io.Reader) ([]ledger.OpenParams, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = numFields
	cr.TrimLeadingSpace = true

	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("reading accounts CSV: %w", err)
	}

	if len(records) == 0 {
		return nil, nil
	}

	var seeds []ledger.OpenParams
	for i, rec := range records[1:] {
		p, err := UnmarshalSeed(rec)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i+2, err)
		}
		seeds = append(seeds, p)
	}
	return seeds, nil
}

// WriteAccounts writes accounts in seed format, using the current balance as
// the opening balance.
func WriteAccounts(w io.Writer, accounts []model.Account) error {
	cw := csv.NewWriter(w)
	defer cw.Flush()

	if err := cw.Write(header); err != nil {
		return fmt.Errorf("writing header: %w", err)
	}

	for i, a := range accounts {
		if err := cw.Write(MarshalAccount(a)); err != nil {
			return fmt.Errorf("writing row %d: %w", i+2, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// MarshalAccount converts an Account to a CSV row.
func MarshalAccount(a model.Account) []string {
	row := make([]string, numFields)
	row[colNumber] = a.Number
	row[colCustomerRef] = a.CustomerRef
	row[colType] = string(a.Type)
	row[colBalance] = a.Balance.StringFixed(2)
	return row
}

// UnmarshalSeed converts a CSV row to open parameters. An empty balance
// column opens the account at zero.
func UnmarshalSeed(record []string) (ledger.OpenParams, error) {
	if len(record) != numFields {
		return ledger.OpenParams{}, fmt.Errorf("expected %d fields, got %d", numFields, len(record))
	}

	balance := decimal.Zero
	if v := strings.TrimSpace(record[colBalance]); v != "" {
		var err error
		balance, err = decimal.NewFromString(v)
		if err != nil {
			return ledger.OpenParams{}, fmt.Errorf("parsing opening_balance %q: %w", v, err)
		}
	}

	return ledger.OpenParams{
		Number:         strings.TrimSpace(record[colNumber]),
		CustomerRef:    strings.TrimSpace(record[colCustomerRef]),
		Type:           model.AccountType(strings.TrimSpace(record[colType])),
		OpeningBalance: balance,
	}, nil
}
