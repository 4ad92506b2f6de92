package accounts

import (
	"github.com/shopspring/decimal"

	"github.com/mims-dev/mims/internal/ledger"
	"github.com/mims-dev/mims/internal/model"
)

// DemoSeeds returns a small set of accounts for local runs.
func DemoSeeds() []ledger.OpenParams {
	return []ledger.OpenParams{
		{Number: "ACC-0001", CustomerRef: "CUST-0001", Type: model.AccountTypeSavings, OpeningBalance: decimal.NewFromInt(5000)},
		{Number: "ACC-0002", CustomerRef: "CUST-0001", Type: model.AccountTypeCurrent, OpeningBalance: decimal.NewFromInt(1200)},
		{Number: "ACC-0003", CustomerRef: "CUST-0002", Type: model.AccountTypeSavings, OpeningBalance: decimal.NewFromInt(300)},
		{Number: "ACC-0004", CustomerRef: "CUST-0003", Type: model.AccountTypeDeposit},
	}
}
