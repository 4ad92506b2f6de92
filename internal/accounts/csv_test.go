package accounts

import (
	"bytes"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mims-dev/mims/internal/model"
)

func TestRoundTrip(t *testing.T) {
	accounts := []model.Account{
		{Number: "ACC-1", CustomerRef: "CUST-1", Type: model.AccountTypeSavings, Balance: decimal.RequireFromString("150.5")},
		{Number: "ACC-2", CustomerRef: "CUST-2", Type: model.AccountTypeCurrent},
	}

	var buf bytes.Buffer
	err := WriteAccounts(&buf, accounts)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(buf.String(), "account_number,customer_ref,account_type,opening_balance\n"))

	got, err := ReadSeeds(&buf)
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, "ACC-1", got[0].Number)
	assert.Equal(t, "CUST-1", got[0].CustomerRef)
	assert.Equal(t, model.AccountTypeSavings, got[0].Type)
	assert.Equal(t, "150.50", got[0].OpeningBalance.StringFixed(2))

	assert.Equal(t, model.AccountTypeCurrent, got[1].Type)
	assert.True(t, got[1].OpeningBalance.IsZero())
}

func TestReadSeeds_EmptyBalance(t *testing.T) {
	in := "account_number,customer_ref,account_type,opening_balance\nACC-9, CUST-9, deposit,\n"
	got, err := ReadSeeds(strings.NewReader(in))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "CUST-9", got[0].CustomerRef)
	assert.Equal(t, model.AccountTypeDeposit, got[0].Type)
	assert.True(t, got[0].OpeningBalance.IsZero())
}

func TestReadSeeds_Errors(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"wrong field count", "a,b,c,d\nACC-1,CUST-1,savings\n", "reading accounts CSV"},
		{"bad balance", "a,b,c,d\nACC-1,CUST-1,savings,ten\n", "row 2: parsing opening_balance"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ReadSeeds(strings.NewReader(tt.in))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestReadSeeds_Empty(t *testing.T) {
	got, err := ReadSeeds(strings.NewReader(""))
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestDemoSeeds(t *testing.T) {
	seeds := DemoSeeds()
	require.NotEmpty(t, seeds)

	seen := make(map[string]bool)
	for _, s := range seeds {
		assert.False(t, seen[s.Number], "duplicate number %s", s.Number)
		seen[s.Number] = true
		assert.True(t, s.Type.Valid(), "account %s has invalid type", s.Number)
		assert.False(t, s.OpeningBalance.IsNegative())
	}
}
