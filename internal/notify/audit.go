package notify

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// AuditHeader is the CSV header of events.csv.
const AuditHeader = "timestamp,type,subject,account,customer,amount,details"

const (
	auditFields = 7
	auditDir    = "logs"
	auditFile   = "logs/events.csv"
	colAt       = 0
	colType     = 1
	colSubject  = 2
	colAccount  = 3
	colCustomer = 4
	colAmount   = 5
	colDetails  = 6
)

// MarshalEvent converts an Event to a CSV row.
func MarshalEvent(e Event) []string {
	row := make([]string, auditFields)
	row[colAt] = e.At.UTC().Format(time.RFC3339Nano)
	row[colType] = e.Type
	row[colSubject] = e.Subject
	row[colAccount] = e.Account
	row[colCustomer] = e.Customer
	row[colAmount] = e.Amount.StringFixed(2)
	row[colDetails] = e.Details
	return row
}

// UnmarshalEvent converts a CSV row to an Event.
func UnmarshalEvent(record []string) (Event, error) {
	if len(record) != auditFields {
		return Event{}, fmt.Errorf("expected %d fields, got %d", auditFields, len(record))
	}
	at, err := time.Parse(time.RFC3339Nano, record[colAt])
	if err != nil {
		return Event{}, fmt.Errorf("parsing timestamp %q: %w", record[colAt], err)
	}
	amount, err := decimal.NewFromString(record[colAmount])
	if err != nil {
		return Event{}, fmt.Errorf("parsing amount %q: %w", record[colAmount], err)
	}
	return Event{
		At:       at,
		Type:     record[colType],
		Subject:  record[colSubject],
		Account:  record[colAccount],
		Customer: record[colCustomer],
		Amount:   amount,
		Details:  record[colDetails],
	}, nil
}

// AppendEvents writes events to <dir>/logs/events.csv, creating the file and
// header if needed.
func AppendEvents(dir string, events []Event) error {
	if err := os.MkdirAll(filepath.Join(dir, auditDir), 0o755); err != nil {
		return fmt.Errorf("creating logs dir: %w", err)
	}

	path := filepath.Join(dir, auditFile)
	needsHeader := false
	if _, err := os.Stat(path); os.IsNotExist(err) {
		needsHeader = true
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("opening event log: %w", err)
	}
	defer f.Close()

	cw := csv.NewWriter(f)
	if needsHeader {
		if err := cw.Write(strings.Split(AuditHeader, ",")); err != nil {
			return fmt.Errorf("writing header: %w", err)
		}
	}
	for i, e := range events {
		if err := cw.Write(MarshalEvent(e)); err != nil {
			return fmt.Errorf("writing event %d: %w", i, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// ReadEvents returns all events from <dir>/logs/events.csv.
// Returns an empty slice if the file does not exist.
func ReadEvents(dir string) ([]Event, error) {
	f, err := os.Open(filepath.Join(dir, auditFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("opening event log: %w", err)
	}
	defer f.Close()
	return readEvents(f)
}

func readEvents(r io.Reader) ([]Event, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = auditFields

	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("reading event log CSV: %w", err)
	}
	if len(records) <= 1 {
		return nil, nil
	}

	var events []Event
	for i, rec := range records[1:] {
		e, err := UnmarshalEvent(rec)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i+2, err)
		}
		events = append(events, e)
	}
	return events, nil
}

// AuditSink appends every event to the CSV event log under a directory.
type AuditSink struct {
	mu  sync.Mutex
	dir string
}

// NewAuditSink creates an AuditSink writing under dir.
func NewAuditSink(dir string) *AuditSink {
	return &AuditSink{dir: dir}
}

func (s *AuditSink) Name() string { return "audit" }

func (s *AuditSink) Deliver(_ context.Context, e Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return AppendEvents(s.dir, []Event{e})
}
