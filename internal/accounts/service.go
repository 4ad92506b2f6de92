package accounts

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/mims-dev/mims/internal/errs"
	"github.com/mims-dev/mims/internal/ledger"
	"github.com/mims-dev/mims/internal/model"
)

// Opener opens a single account. *ledger.Service satisfies it.
type Opener interface {
	Open(ctx context.Context, p ledger.OpenParams) (*model.Account, error)
}

// Result summarizes a seeding run.
type Result struct {
	Opened  []string
	Skipped []string // already present
}

// Load reads a seed file from disk.
func Load(path string) ([]ledger.OpenParams, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening seed file: %w", err)
	}
	defer f.Close()

	seeds, err := ReadSeeds(f)
	if err != nil {
		return nil, fmt.Errorf("reading seed file %s: %w", path, err)
	}
	return seeds, nil
}

// Seed opens every account in seeds. Accounts whose number is already taken
// are skipped, so a seed file can be applied more than once. Any other error
// stops the run; accounts opened before it stay open.
func Seed(ctx context.Context, o Opener, seeds []ledger.OpenParams) (Result, error) {
	var res Result
	for _, p := range seeds {
		_, err := o.Open(ctx, p)
		switch {
		case err == nil:
			res.Opened = append(res.Opened, p.Number)
		case errors.Is(err, errs.ErrDuplicateNumber):
			res.Skipped = append(res.Skipped, p.Number)
		default:
			return res, fmt.Errorf("seeding account %s: %w", p.Number, err)
		}
	}
	return res, nil
}

// Save writes accounts to path in seed format.
func Save(path string, accounts []model.Account) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating seed file: %w", err)
	}
	defer f.Close()

	if err := WriteAccounts(f, accounts); err != nil {
		return fmt.Errorf("writing seed file: %w", err)
	}
	return nil
}
