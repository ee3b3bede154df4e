package record

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/noah-isme/taxinput/internal/credential"
	"github.com/noah-isme/taxinput/internal/csvfile"
)

// ErrNoRecords is returned by ReadAll when nothing has been persisted yet.
var ErrNoRecords = errors.New("record: no tax records found")

const (
	colRecordID   = "record_id"
	colICNumber   = "ic_number"
	colIncome     = "income"
	colRelief     = "tax_relief"
	colTaxPayable = "tax_payable"
	colComputedAt = "computed_at"
)

var header = []string{colRecordID, colICNumber, colIncome, colRelief, colTaxPayable, colComputedAt}

// Record is a single persisted tax computation.
type Record struct {
	ID         uuid.UUID `json:"record_id"`
	ICNumber   string    `json:"ic_number"`
	Income     float64   `json:"income"`
	Relief     float64   `json:"tax_relief"`
	TaxPayable float64   `json:"tax_payable"`
	ComputedAt time.Time `json:"computed_at"`
}

// CSVStore appends records to a flat CSV file.
type CSVStore struct {
	path string
	now  func() time.Time
	mu   sync.Mutex
}

// NewCSVStore constructs a store persisting to path.
func NewCSVStore(path string) (*CSVStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("record: path is required")
	}
	return &CSVStore{path: path, now: time.Now}, nil
}

// WithNow allows tests to override the time provider.
func (s *CSVStore) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// Path returns the backing file path.
func (s *CSVStore) Path() string {
	return s.path
}

// Append persists rec, assigning an ID and timestamp when they are unset.
// The header row is written only when the file is created. A file using an
// older column layout is rewritten to the current header first.
func (s *CSVStore) Append(ctx context.Context, rec Record) (Record, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, err
	}
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	if rec.ComputedAt.IsZero() {
		rec.ComputedAt = s.now()
	}
	rec.ComputedAt = rec.ComputedAt.UTC().Truncate(time.Second)

	s.mu.Lock()
	defer s.mu.Unlock()

	row := []string{
		rec.ID.String(),
		rec.ICNumber,
		formatAmount(rec.Income),
		formatAmount(rec.Relief),
		formatAmount(rec.TaxPayable),
		rec.ComputedAt.Format(time.RFC3339),
	}
	if err := s.upgradeLocked(); err != nil {
		return Record{}, fmt.Errorf("record: append: %w", err)
	}
	if err := csvfile.Append(s.path, header, row); err != nil {
		return Record{}, fmt.Errorf("record: append: %w", err)
	}
	return rec, nil
}

// upgradeLocked rewrites an existing file whose header differs from the
// current layout, carrying each row over by column name. Columns the old
// layout lacks are left empty. s.mu must be held.
func (s *CSVStore) upgradeLocked() error {
	table, err := csvfile.Read(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	if len(table.Header) == 0 || sameHeader(table.Header) {
		return nil
	}
	for _, col := range []string{colICNumber, colIncome, colRelief, colTaxPayable} {
		if _, err := table.Column(col); err != nil {
			return err
		}
	}
	rows := make([][]string, 0, len(table.Rows))
	for _, old := range table.Rows {
		row := make([]string, len(header))
		for i, col := range header {
			row[i] = table.Field(old, col)
		}
		rows = append(rows, row)
	}
	return csvfile.WriteAtomic(s.path, header, rows)
}

func sameHeader(got []string) bool {
	if len(got) != len(header) {
		return false
	}
	for i, name := range got {
		if strings.TrimSpace(strings.TrimPrefix(name, "\ufeff")) != header[i] {
			return false
		}
	}
	return true
}

// ReadAll returns every stored record in file order. It returns ErrNoRecords
// when the file is missing or holds no rows. Legacy files carrying only the
// ic_number, income, tax_relief and tax_payable columns are accepted.
func (s *CSVStore) ReadAll(ctx context.Context) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	table, err := csvfile.Read(s.path)
	s.mu.Unlock()
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNoRecords
	}
	if err != nil {
		return nil, fmt.Errorf("record: read: %w", err)
	}
	if len(table.Rows) == 0 {
		return nil, ErrNoRecords
	}
	for _, col := range []string{colICNumber, colIncome, colRelief, colTaxPayable} {
		if _, err := table.Column(col); err != nil {
			return nil, fmt.Errorf("record: read: %w", err)
		}
	}

	records := make([]Record, 0, len(table.Rows))
	for i, row := range table.Rows {
		rec, err := parseRow(table, row)
		if err != nil {
			return nil, fmt.Errorf("record: row %d: %w", i+2, err)
		}
		records = append(records, rec)
	}
	return records, nil
}

// ListByIC returns the stored records belonging to ic. Separators such as
// dashes and spaces in ic are ignored.
func (s *CSVStore) ListByIC(ctx context.Context, ic string) ([]Record, error) {
	all, err := s.ReadAll(ctx)
	if err != nil {
		return nil, err
	}
	ic = credential.DigitsOnly(ic)
	var out []Record
	for _, rec := range all {
		if rec.ICNumber == ic {
			out = append(out, rec)
		}
	}
	if len(out) == 0 {
		return nil, ErrNoRecords
	}
	return out, nil
}

// Writable reports whether the directory holding the file accepts new files.
func (s *CSVStore) Writable(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := csvfile.Probe(s.path); err != nil {
		return fmt.Errorf("record: storage not writable: %w", err)
	}
	return nil
}

func parseRow(table *csvfile.Table, row []string) (Record, error) {
	var rec Record
	var err error
	if raw := table.Field(row, colRecordID); raw != "" {
		if rec.ID, err = uuid.Parse(raw); err != nil {
			return Record{}, fmt.Errorf("%s: %w", colRecordID, err)
		}
	}
	rec.ICNumber = table.Field(row, colICNumber)
	if rec.Income, err = parseAmount(table.Field(row, colIncome)); err != nil {
		return Record{}, fmt.Errorf("%s: %w", colIncome, err)
	}
	if rec.Relief, err = parseAmount(table.Field(row, colRelief)); err != nil {
		return Record{}, fmt.Errorf("%s: %w", colRelief, err)
	}
	if rec.TaxPayable, err = parseAmount(table.Field(row, colTaxPayable)); err != nil {
		return Record{}, fmt.Errorf("%s: %w", colTaxPayable, err)
	}
	if raw := table.Field(row, colComputedAt); raw != "" {
		if rec.ComputedAt, err = time.Parse(time.RFC3339, raw); err != nil {
			return Record{}, fmt.Errorf("%s: %w", colComputedAt, err)
		}
	}
	return rec, nil
}

func parseAmount(raw string) (float64, error) {
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("amount %q is not finite", raw)
	}
	return v, nil
}

func formatAmount(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
