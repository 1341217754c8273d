package main

import (
	"encoding/csv"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"time"

	"github.com/shopspring/decimal"

	"github.com/wakala/hedger/internal/domain"
)

// Writes testdata/exposures.csv: a year of payables and receivables spread
// over the seeded counterparties, with a handful of deliberately broken
// rows to show per-row import errors.
func main() {
	rng := rand.New(rand.NewSource(42))
	baseDir := findTestdataDir()
	today := domain.Truncate(time.Now())

	type book struct {
		prefix       string
		typ          domain.ExposureType
		currency     string
		counterparty string
		minAmount    int64
		maxAmount    int64
		count        int
	}
	books := []book{
		{"INV-USD", domain.ExposurePayable, "USD", "Acme Imports", 5_000, 400_000, 40},
		{"INV-EUR", domain.ExposurePayable, "EUR", "Rhein Maschinen", 10_000, 250_000, 15},
		{"EXP-USD", domain.ExposureReceivable, "USD", "Andes Export Co", 8_000, 300_000, 25},
		{"EXP-GBP", domain.ExposureReceivable, "GBP", "", 2_000, 90_000, 8},
	}

	filePath := filepath.Join(baseDir, "exposures.csv")
	f, err := os.Create(filePath)
	if err != nil {
		panic(err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	defer w.Flush()

	w.Write([]string{"reference", "type", "amount", "currency", "due_date", "counterparty", "description", "invoice_date"})

	rows, broken := 0, 0
	for _, b := range books {
		for i := 1; i <= b.count; i++ {
			due := today.AddDate(0, 0, 3+rng.Intn(360))
			invoice := due.AddDate(0, 0, -30-rng.Intn(60))
			cents := b.minAmount*100 + rng.Int63n((b.maxAmount-b.minAmount)*100)
			amount := decimal.New(cents, -2).StringFixed(2)

			ref := fmt.Sprintf("%s-%04d", b.prefix, i)
			dueStr := due.Format(domain.DateLayout)

			// Roughly 3% carry a date in the wrong format.
			if rng.Float64() < 0.03 {
				dueStr = due.Format("02/01/2006")
				broken++
			}

			w.Write([]string{
				ref,
				string(b.typ),
				amount,
				b.currency,
				dueStr,
				b.counterparty,
				fmt.Sprintf("%s %s lot %d", b.currency, b.typ, i),
				invoice.Format(domain.DateLayout),
			})
			rows++
		}
	}

	fmt.Printf("Generated %d exposure rows (%d malformed) -> %s\n", rows, broken, filePath)
}

func findTestdataDir() string {
	for _, c := range []string{"testdata", "./testdata"} {
		if info, err := os.Stat(c); err == nil && info.IsDir() {
			return c
		}
	}
	return "testdata"
}
