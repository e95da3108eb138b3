// Package extract parses the vendor price table out of a listing page.
package extract

import (
	"bytes"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/text/unicode/norm"

	"github.com/sells-group/etrends/internal/model"
)

// DatePolicy decides what happens to a row whose date cell is missing or
// unparseable. One policy applies to every row of a run.
type DatePolicy string

const (
	// DropRow discards the row.
	DropRow DatePolicy = "drop"
	// UseToday stamps the row with the run's current UTC date.
	UseToday DatePolicy = "today"
)

// ParseDatePolicy converts a config string into a DatePolicy.
func ParseDatePolicy(s string) (DatePolicy, error) {
	switch DatePolicy(strings.ToLower(strings.TrimSpace(s))) {
	case DropRow:
		return DropRow, nil
	case UseToday:
		return UseToday, nil
	default:
		return "", eris.Errorf("unknown date policy: %q (valid: drop, today)", s)
	}
}

// Options configures table parsing.
type Options struct {
	// DateColumn is the zero-based cell index holding the observation date.
	// The listing page has moved this column between revisions.
	DateColumn int
	// MinCells is the minimum cell count for a data row.
	MinCells   int
	DatePolicy DatePolicy
}

// DefaultOptions matches the current layout of the listing page.
func DefaultOptions() Options {
	return Options{DateColumn: 4, MinCells: 6, DatePolicy: DropRow}
}

// RawRow is one unparsed data row. Line is the 1-based data row number
// within the table, for diagnostics.
type RawRow struct {
	Line    int
	Company string
	Town    string
	Price   string
	Date    string
}

// Extractor locates and parses the vendor price table.
type Extractor struct {
	opts Options
}

// New validates opts and returns an Extractor.
func New(opts Options) (*Extractor, error) {
	if opts.MinCells < 3 {
		return nil, eris.Errorf("extract: min cells must be >= 3, got %d", opts.MinCells)
	}
	if opts.DateColumn < 0 || opts.DateColumn >= opts.MinCells {
		return nil, eris.Errorf("extract: date column %d outside [0, %d)", opts.DateColumn, opts.MinCells)
	}
	if _, err := ParseDatePolicy(string(opts.DatePolicy)); err != nil {
		return nil, eris.Wrap(err, "extract")
	}
	return &Extractor{opts: opts}, nil
}

// Rows returns the raw data rows of the price table in document order. Rows
// with fewer than MinCells cells are skipped. It fails with an extraction
// error when no suitable table exists.
func (e *Extractor) Rows(html []byte) ([]RawRow, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return nil, model.ExtractionError(eris.Wrap(err, "parse html"))
	}

	table, err := selectTable(doc)
	if err != nil {
		return nil, err
	}

	log := zap.L().With(zap.String("component", "extract"))
	trs := ownRows(table)
	if trs.Length() > 0 {
		// First row is the header.
		trs = trs.Slice(1, trs.Length())
	}

	rows := make([]RawRow, 0, trs.Length())
	trs.Each(func(i int, tr *goquery.Selection) {
		cells := cellTexts(tr)
		if len(cells) < e.opts.MinCells {
			log.Debug("skipping short row", zap.Int("line", i+1), zap.Int("cells", len(cells)))
			return
		}
		rows = append(rows, RawRow{
			Line:    i + 1,
			Company: cells[0],
			Town:    cells[1],
			Price:   cells[2],
			Date:    cells[e.opts.DateColumn],
		})
	})

	log.Debug("extracted rows", zap.Int("data_rows", trs.Length()), zap.Int("kept", len(rows)))
	return rows, nil
}

// Parse extracts rows and converts them into LocalRecords. Rows with a
// missing or invalid price are dropped; rows with a missing or invalid date
// follow the configured DatePolicy. now supplies the substitute date.
func (e *Extractor) Parse(html []byte, now time.Time) ([]model.LocalRecord, error) {
	raw, err := e.Rows(html)
	if err != nil {
		return nil, err
	}

	log := zap.L().With(zap.String("component", "extract"), zap.String("date_policy", string(e.opts.DatePolicy)))
	today := model.Day(now)

	records := make([]model.LocalRecord, 0, len(raw))
	for _, r := range raw {
		price, ok := ParsePrice(r.Price)
		if !ok {
			log.Warn("skipping row: missing or invalid price",
				zap.Int("line", r.Line),
				zap.String("company", r.Company),
				zap.String("raw_price", r.Price),
			)
			continue
		}

		date, ok := ParseDate(r.Date)
		if !ok {
			if e.opts.DatePolicy == DropRow {
				log.Warn("skipping row: missing or invalid date",
					zap.Int("line", r.Line),
					zap.String("company", r.Company),
					zap.String("raw_date", r.Date),
				)
				continue
			}
			log.Info("substituting current date",
				zap.Int("line", r.Line),
				zap.String("company", r.Company),
				zap.String("raw_date", r.Date),
			)
			date = today
		}

		records = append(records, model.LocalRecord{
			Company: r.Company,
			Town:    r.Town,
			Price:   price,
			Date:    date,
		})
	}
	return records, nil
}

// ParsePrice parses a cell such as "$3,499.00". Empty cells and negative
// values report false.
func ParsePrice(s string) (decimal.Decimal, bool) {
	s = strings.NewReplacer("$", "", ",", "", " ", "").Replace(clean(s))
	if s == "" {
		return decimal.Decimal{}, false
	}
	d, err := decimal.NewFromString(s)
	if err != nil || d.IsNegative() {
		return decimal.Decimal{}, false
	}
	return d, true
}

// ParseDate parses a MM/DD/YYYY cell into a UTC calendar date.
func ParseDate(s string) (time.Time, bool) {
	s = clean(s)
	if s == "" {
		return time.Time{}, false
	}
	t, err := time.Parse("1/2/2006", s)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// selectTable picks the first table whose header row names both a company
// and a price column. A lone table is accepted without a matching header.
func selectTable(doc *goquery.Document) (*goquery.Selection, error) {
	tables := doc.Find("table")
	var match *goquery.Selection
	tables.EachWithBreak(func(_ int, t *goquery.Selection) bool {
		if isPriceHeader(cellTexts(ownRows(t).First())) {
			match = t
			return false
		}
		return true
	})
	if match != nil {
		return match, nil
	}
	if tables.Length() == 1 {
		zap.L().Warn("no table header matched, falling back to the only table on the page")
		return tables.First(), nil
	}
	return nil, model.ExtractionError(eris.Errorf("no price table found (%d tables on page)", tables.Length()))
}

func isPriceHeader(labels []string) bool {
	var company, price bool
	for _, l := range labels {
		l = strings.ToLower(l)
		if strings.Contains(l, "company") || strings.Contains(l, "vendor") || strings.Contains(l, "dealer") {
			company = true
		}
		if strings.Contains(l, "price") {
			price = true
		}
	}
	return company && price
}

// ownRows returns the rows of t, excluding rows of nested tables.
func ownRows(t *goquery.Selection) *goquery.Selection {
	self := t.Get(0)
	return t.Find("tr").FilterFunction(func(_ int, tr *goquery.Selection) bool {
		return tr.Closest("table").Get(0) == self
	})
}

func cellTexts(tr *goquery.Selection) []string {
	cells := tr.ChildrenFiltered("td, th")
	out := make([]string, 0, cells.Length())
	cells.Each(func(_ int, c *goquery.Selection) {
		out = append(out, clean(c.Text()))
	})
	return out
}

// clean folds compatibility characters (fullwidth digits, U+00A0) via NFKC
// and collapses whitespace runs. A cell holding only &nbsp; becomes "".
func clean(s string) string {
	return strings.Join(strings.Fields(norm.NFKC.String(s)), " ")
}
