package id

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mims-dev/mims/internal/errs"
)

var testDay = time.Date(2026, 10, 18, 9, 30, 0, 0, time.UTC)

// setReserver is a uniqueness-checked set, safe for concurrent use.
type setReserver struct {
	mu   sync.Mutex
	seen map[string]bool
	fail error
}

func newSetReserver(taken ...string) *setReserver {
	r := &setReserver{seen: make(map[string]bool)}
	for _, n := range taken {
		r.seen[n] = true
	}
	return r
}

func (r *setReserver) Reserve(_ context.Context, number string) error {
	if r.fail != nil {
		return r.fail
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.seen[number] {
		return errs.ErrDuplicateNumber
	}
	r.seen[number] = true
	return nil
}

func sequence(suffixes ...string) func() string {
	i := 0
	return func() string {
		s := suffixes[i%len(suffixes)]
		i++
		return s
	}
}

func TestFormat(t *testing.T) {
	tests := []struct {
		prefix, suffix string
		want           string
	}{
		{PrefixTransaction, "0000ABCD", "TXN-20261018-0000ABCD"},
		{PrefixLoan, "1", "LN-20261018-1"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Format(tt.prefix, testDay, tt.suffix))
	}
}

func TestParse(t *testing.T) {
	prefix, date, suffix, err := Parse("LN-20261018-3F9A1C2B")
	require.NoError(t, err)
	assert.Equal(t, "LN", prefix)
	assert.Equal(t, 2026, date.Year())
	assert.Equal(t, time.October, date.Month())
	assert.Equal(t, 18, date.Day())
	assert.Equal(t, "3F9A1C2B", suffix)
}

func TestParseInvalid(t *testing.T) {
	tests := []string{
		"",
		"TXN",
		"TXN-20261018",
		"TXN-2026XX18-AAAA",
		"-20261018-AAAA",
		"TXN-20261018-",
	}
	for _, input := range tests {
		_, _, _, err := Parse(input)
		assert.Error(t, err, "Parse(%q) should fail", input)
	}
}

func TestRandomSuffix(t *testing.T) {
	s := RandomSuffix()
	assert.Len(t, s, 8)
	assert.Regexp(t, "^[0-9A-F]{8}$", s)
}

func TestNext_RetriesOnConflict(t *testing.T) {
	r := newSetReserver("TXN-20261018-AAAA", "TXN-20261018-BBBB")
	conflicts := 0
	g := &Generator{
		Source:      sequence("AAAA", "BBBB", "CCCC"),
		Now:         func() time.Time { return testDay },
		MaxAttempts: 5,
		OnConflict:  func(string) { conflicts++ },
	}

	n, err := g.Next(context.Background(), r, PrefixTransaction)
	require.NoError(t, err)
	assert.Equal(t, "TXN-20261018-CCCC", n)
	assert.Equal(t, 2, conflicts)
}

func TestNext_Exhausted(t *testing.T) {
	r := newSetReserver("LN-20261018-SAME")
	g := &Generator{
		Source:      sequence("SAME"),
		Now:         func() time.Time { return testDay },
		MaxAttempts: 3,
	}

	_, err := g.Next(context.Background(), r, PrefixLoan)
	require.Error(t, err)
	assert.ErrorIs(t, err, errs.ErrPersistence)
	assert.ErrorIs(t, err, errs.ErrIdentifierExhausted)
}

func TestNext_ReserverFailure(t *testing.T) {
	r := newSetReserver()
	r.fail = errors.New("connection refused")
	g := NewGenerator(3)

	_, err := g.Next(context.Background(), r, PrefixTransaction)
	require.Error(t, err)
	assert.ErrorIs(t, err, errs.ErrPersistence)
	assert.NotErrorIs(t, err, errs.ErrIdentifierExhausted)
}

func TestNext_ConcurrentCallersNeverCollide(t *testing.T) {
	r := newSetReserver()
	// A tiny candidate space forces collisions between goroutines.
	var mu sync.Mutex
	counter := 0
	g := &Generator{
		Source: func() string {
			mu.Lock()
			defer mu.Unlock()
			counter++
			return string(rune('A' + counter%64))
		},
		Now:         func() time.Time { return testDay },
		MaxAttempts: 1000,
	}

	const workers = 50
	results := make(chan string, workers)
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			n, err := g.Next(context.Background(), r, PrefixTransaction)
			if err != nil {
				t.Errorf("Next: %v", err)
				return
			}
			results <- n
		}()
	}
	wg.Wait()
	close(results)

	seen := make(map[string]bool)
	for n := range results {
		assert.False(t, seen[n], "duplicate number %s", n)
		seen[n] = true
	}
	assert.Len(t, seen, workers)
}
