// Package importer posts batches of transactions collected outside the API,
// such as a field officer's day of deposits, from CSV files.
package importer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/mims-dev/mims/internal/errs"
	"github.com/mims-dev/mims/internal/model"
	"github.com/mims-dev/mims/internal/txn"
)

// Parser converts a batch CSV file into transaction requests.
type Parser interface {
	Parse(r io.Reader) ([]txn.Request, error)
	Format() string
}

// Registry holds named parsers.
type Registry struct {
	parsers map[string]Parser
}

// FileInfo describes a CSV file waiting in the import directory.
type FileInfo struct {
	Name string
	Path string
	Size int64
}

// NewRegistry creates an empty parser registry.
func NewRegistry() *Registry {
	return &Registry{parsers: make(map[string]Parser)}
}

// Register adds a parser. Panics on duplicate format.
func (r *Registry) Register(p Parser) {
	key := strings.ToLower(p.Format())
	if _, ok := r.parsers[key]; ok {
		panic("duplicate parser format: " + key)
	}
	r.parsers[key] = p
}

// Get returns the parser for format, or nil.
func (r *Registry) Get(format string) Parser {
	return r.parsers[strings.ToLower(format)]
}

// DefaultRegistry returns a registry with all built-in parsers.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(&BatchParser{})
	r.Register(&SignedParser{})
	return r
}

// processedDir is the subdirectory processed files are moved into.
const processedDir = "processed"

// Scan returns the CSV files directly inside dir.
func Scan(dir string) ([]FileInfo, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading import dir: %w", err)
	}

	var files []FileInfo
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if !strings.HasSuffix(strings.ToLower(e.Name()), ".csv") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			return nil, fmt.Errorf("stat %s: %w", e.Name(), err)
		}
		files = append(files, FileInfo{
			Name: e.Name(),
			Path: filepath.Join(dir, e.Name()),
			Size: info.Size(),
		})
	}
	return files, nil
}

// MarkProcessed moves a file from dir to dir/processed/.
func MarkProcessed(dir, fileName string) error {
	dstDir := filepath.Join(dir, processedDir)
	if err := os.MkdirAll(dstDir, 0o755); err != nil {
		return fmt.Errorf("creating processed dir: %w", err)
	}

	src := filepath.Join(dir, fileName)
	dst := filepath.Join(dstDir, fileName)
	if err := os.Rename(src, dst); err != nil {
		return fmt.Errorf("moving %s to processed: %w", fileName, err)
	}
	return nil
}

// Processor posts one transaction. *txn.Service satisfies it.
type Processor interface {
	Process(ctx context.Context, req txn.Request) (*model.Transaction, error)
}

// RowError is a row the engine refused.
type RowError struct {
	Row int // 1-based data row, header excluded
	Err error
}

// Report summarizes a posted batch.
type Report struct {
	Posted []string // transaction numbers in row order
	Failed []RowError
}

// Post submits every request in order. Rows rejected for business reasons
// are recorded in the report and the batch carries on; a persistence failure
// stops the batch and is returned.
func Post(ctx context.Context, p Processor, reqs []txn.Request) (Report, error) {
	var rep Report
	for i, req := range reqs {
		t, err := p.Process(ctx, req)
		if err == nil {
			rep.Posted = append(rep.Posted, t.Number)
			continue
		}
		if errors.Is(err, errs.ErrPersistence) {
			return rep, fmt.Errorf("row %d: %w", i+1, err)
		}
		rep.Failed = append(rep.Failed, RowError{Row: i + 1, Err: err})
	}
	return rep, nil
}
