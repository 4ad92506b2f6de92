package id

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mims-dev/mims/internal/errs"
)

// Prefixes for external numbers.
const (
	PrefixTransaction = "TXN"
	PrefixLoan        = "LN"
)

// DefaultMaxAttempts bounds reservation retries when no limit is configured.
const DefaultMaxAttempts = 5

const dateLayout = "20060102"

// Format returns an external number like "TXN-20261018-3F9A1C2B".
func Format(prefix string, t time.Time, suffix string) string {
	return fmt.Sprintf("%s-%s-%s", prefix, t.Format(dateLayout), suffix)
}

// Parse splits "TXN-20261018-3F9A1C2B" into prefix, date and suffix.
func Parse(number string) (prefix string, date time.Time, suffix string, err error) {
	parts := strings.SplitN(number, "-", 3)
	if len(parts) != 3 || parts[0] == "" || parts[2] == "" {
		return "", time.Time{}, "", fmt.Errorf("invalid number format: %q", number)
	}

	date, err = time.Parse(dateLayout, parts[1])
	if err != nil {
		return "", time.Time{}, "", fmt.Errorf("invalid date in number %q: %w", number, err)
	}
	return parts[0], date, parts[2], nil
}

// RandomSuffix returns eight upper-case hex characters drawn from a random UUID.
func RandomSuffix() string {
	u := uuid.New()
	return strings.ToUpper(strings.ReplaceAll(u.String(), "-", "")[:8])
}

// Reserver claims a number under a uniqueness constraint.
// Reserve returns errs.ErrDuplicateNumber when the number is taken.
type Reserver interface {
	Reserve(ctx context.Context, number string) error
}

// Generator produces collision-free external numbers.
type Generator struct {
	Source      func() string    // candidate suffixes; RandomSuffix when nil
	Now         func() time.Time // date component; time.Now when nil
	MaxAttempts int
	OnConflict  func(prefix string) // optional hook, called on each collision
}

// NewGenerator returns a Generator with the default source and maxAttempts.
func NewGenerator(maxAttempts int) *Generator {
	return &Generator{MaxAttempts: maxAttempts}
}

// Next draws candidates and reserves the first free one through r.
func (g *Generator) Next(ctx context.Context, r Reserver, prefix string) (string, error) {
	source := g.Source
	if source == nil {
		source = RandomSuffix
	}
	now := g.Now
	if now == nil {
		now = time.Now
	}
	attempts := g.MaxAttempts
	if attempts <= 0 {
		attempts = DefaultMaxAttempts
	}

	for i := 0; i < attempts; i++ {
		candidate := Format(prefix, now(), source())
		err := r.Reserve(ctx, candidate)
		if err == nil {
			return candidate, nil
		}
		if !errors.Is(err, errs.ErrDuplicateNumber) {
			return "", errs.Persistence("reserving "+prefix+" number", err)
		}
		if g.OnConflict != nil {
			g.OnConflict(prefix)
		}
	}
	return "", errs.Persistence(prefix+" number",
		fmt.Errorf("%w after %d attempts", errs.ErrIdentifierExhausted, attempts))
}
