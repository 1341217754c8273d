package ingestion

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/wakala/hedger/internal/domain"
)

// Columns of the exposure upload. The first five are required.
const (
	colReference    = "reference"
	colType         = "type"
	colAmount       = "amount"
	colCurrency     = "currency"
	colDueDate      = "due_date"
	colCounterparty = "counterparty"
	colDescription  = "description"
	colInvoiceDate  = "invoice_date"
)

var requiredColumns = []string{colReference, colType, colAmount, colCurrency, colDueDate}

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Row is one data line of the upload, still as text. Line is the 1-based
// line number in the file, header included.
type Row struct {
	Line         int
	Reference    string
	Type         string
	Amount       string
	Currency     string
	DueDate      string
	Counterparty string
	Description  string
	InvoiceDate  string
}

// rowReader maps header names to positions so columns may come in any order.
type rowReader struct {
	csv  *csv.Reader
	cols map[string]int
}

func newRowReader(r io.Reader) (*rowReader, error) {
	br := bufio.NewReader(r)
	if prefix, err := br.Peek(len(utf8BOM)); err == nil && bytes.Equal(prefix, utf8BOM) {
		_, _ = br.Discard(len(utf8BOM))
	}

	cr := csv.NewReader(br)
	cr.TrimLeadingSpace = true
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, domain.NewValidationError("file", "is empty")
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}

	cols := make(map[string]int, len(header))
	for i, name := range header {
		key := strings.ToLower(strings.TrimSpace(name))
		if _, dup := cols[key]; dup && key != "" {
			return nil, domain.NewValidationError("header", "duplicate column "+key)
		}
		cols[key] = i
	}
	var missing []string
	for _, c := range requiredColumns {
		if _, ok := cols[c]; !ok {
			missing = append(missing, c)
		}
	}
	if len(missing) > 0 {
		return nil, domain.NewValidationError("header", "missing columns: "+strings.Join(missing, ", "))
	}
	return &rowReader{csv: cr, cols: cols}, nil
}

// next returns io.EOF after the last row. Blank lines are skipped by the
// csv reader and do not count as rows.
func (r *rowReader) next() (*Row, error) {
	rec, err := r.csv.Read()
	if err != nil {
		return nil, err
	}
	line, _ := r.csv.FieldPos(0)

	get := func(col string) string {
		i, ok := r.cols[col]
		if !ok || i >= len(rec) {
			return ""
		}
		return strings.TrimSpace(rec[i])
	}
	return &Row{
		Line:         line,
		Reference:    get(colReference),
		Type:         get(colType),
		Amount:       get(colAmount),
		Currency:     get(colCurrency),
		DueDate:      get(colDueDate),
		Counterparty: get(colCounterparty),
		Description:  get(colDescription),
		InvoiceDate:  get(colInvoiceDate),
	}, nil
}

// ParseAmount accepts "1,250,000.50", "1 250 000.50" and "1_250_000.50".
func ParseAmount(raw string) (decimal.Decimal, error) {
	cleaned := strings.NewReplacer(",", "", "_", "", " ", "").Replace(strings.TrimSpace(raw))
	if cleaned == "" {
		return decimal.Zero, domain.NewValidationError("amount", "is required")
	}
	d, err := decimal.NewFromString(cleaned)
	if err != nil {
		return decimal.Zero, domain.NewValidationError("amount", fmt.Sprintf("%q is not a number", raw))
	}
	return d, nil
}
