package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"github.com/sells-group/etrends/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite. Dates are stored as
// YYYY-MM-DD text and prices as decimal text.
type SQLiteStore struct {
	db *sql.DB
}

// Every pooled connection gets the same pragmas. Write transactions take the
// lock at BEGIN so concurrent writers queue on busy_timeout instead of
// failing on upgrade.
const sqliteParams = "_pragma=busy_timeout(5000)" +
	"&_pragma=journal_mode(WAL)" +
	"&_pragma=synchronous(NORMAL)" +
	"&_pragma=foreign_keys(1)" +
	"&_txlock=immediate"

func sqliteDSN(path string) string {
	if !strings.HasPrefix(path, "file:") {
		path = "file:" + path
	}
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + sqliteParams
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", sqliteDSN(path))
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	if err := db.Ping(); err != nil {
		db.Close() //nolint:errcheck
		return nil, eris.Wrap(err, "sqlite: ping")
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS vendors (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	name       TEXT NOT NULL UNIQUE,
	town       TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS prices (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	vendor_id  INTEGER NOT NULL REFERENCES vendors(id),
	price      TEXT NOT NULL,
	obs_date   TEXT NOT NULL,
	updated_at TEXT NOT NULL,
	UNIQUE (vendor_id, obs_date)
);

CREATE INDEX IF NOT EXISTS idx_prices_obs_date ON prices(obs_date);

CREATE TABLE IF NOT EXISTS federal_prices (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	obs_date   TEXT NOT NULL UNIQUE,
	price      TEXT NOT NULL,
	updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS acquisition_log (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id          TEXT NOT NULL,
	logged_at       TEXT NOT NULL,
	success         INTEGER NOT NULL,
	message         TEXT NOT NULL,
	scheduled       INTEGER NOT NULL,
	kind            TEXT NOT NULL,
	created_vendors INTEGER NOT NULL DEFAULT 0,
	new_prices      INTEGER NOT NULL DEFAULT 0,
	updated_prices  INTEGER NOT NULL DEFAULT 0,
	duration_ms     INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_acquisition_log_kind ON acquisition_log(kind, id);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// InTx runs fn in an immediate transaction.
func (s *SQLiteStore) InTx(ctx context.Context, fn func(Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	if err := fn(&sqliteTx{tx: tx}); err != nil {
		return err
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit tx")
}

type sqliteTx struct {
	tx *sql.Tx
}

func (t *sqliteTx) FindVendorByName(ctx context.Context, name string) (*model.Vendor, error) {
	var (
		v       model.Vendor
		created string
	)
	err := t.tx.QueryRowContext(ctx,
		`SELECT id, name, town, created_at FROM vendors WHERE name = ?`, name,
	).Scan(&v.ID, &v.Name, &v.Town, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: find vendor %q", name)
	}
	v.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
	return &v, nil
}

func (t *sqliteTx) CreateVendor(ctx context.Context, name, town string) (*model.Vendor, error) {
	now := time.Now().UTC()
	res, err := t.tx.ExecContext(ctx,
		`INSERT INTO vendors (name, town, created_at) VALUES (?, ?, ?)`,
		name, town, now.Format(time.RFC3339Nano),
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: create vendor %q", name)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: create vendor: last insert id")
	}
	return &model.Vendor{ID: id, Name: name, Town: town, CreatedAt: now}, nil
}

func (t *sqliteTx) UpsertPrice(ctx context.Context, vendorID int64, date time.Time, price decimal.Decimal) (bool, error) {
	return t.upsertByKey(ctx,
		`SELECT id FROM prices WHERE vendor_id = ? AND obs_date = ?`,
		`UPDATE prices SET price = ?, updated_at = ? WHERE id = ?`,
		`INSERT INTO prices (vendor_id, obs_date, price, updated_at) VALUES (?, ?, ?, ?)`,
		[]any{vendorID, date.Format(model.DateLayout)},
		price,
	)
}

func (t *sqliteTx) UpsertFederalPrices(ctx context.Context, points []model.FederalPoint) (int, int, error) {
	var created, updated int
	for _, p := range points {
		inserted, err := t.upsertByKey(ctx,
			`SELECT id FROM federal_prices WHERE obs_date = ?`,
			`UPDATE federal_prices SET price = ?, updated_at = ? WHERE id = ?`,
			`INSERT INTO federal_prices (obs_date, price, updated_at) VALUES (?, ?, ?)`,
			[]any{p.Date.Format(model.DateLayout)},
			p.Price,
		)
		if err != nil {
			return 0, 0, err
		}
		if inserted {
			created++
		} else {
			updated++
		}
	}
	return created, updated, nil
}

// upsertByKey looks up a row by key; an existing row gets the new price,
// otherwise a row is inserted with key columns followed by price and
// updated_at.
func (t *sqliteTx) upsertByKey(ctx context.Context, selectSQL, updateSQL, insertSQL string, key []any, price decimal.Decimal) (bool, error) {
	now := time.Now().UTC().Format(time.RFC3339Nano)

	var id int64
	err := t.tx.QueryRowContext(ctx, selectSQL, key...).Scan(&id)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		args := append(append([]any{}, key...), price.String(), now)
		if _, err := t.tx.ExecContext(ctx, insertSQL, args...); err != nil {
			return false, eris.Wrap(err, "sqlite: insert price")
		}
		return true, nil
	case err != nil:
		return false, eris.Wrap(err, "sqlite: lookup price")
	}

	res, err := t.tx.ExecContext(ctx, updateSQL, price.String(), now, id)
	if err != nil {
		return false, eris.Wrap(err, "sqlite: update price")
	}
	if err := checkRowsAffected(res, "price", id); err != nil {
		return false, err
	}
	return false, nil
}

func (s *SQLiteStore) AppendLog(ctx context.Context, e *model.AcquisitionLogEntry) error {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO acquisition_log (run_id, logged_at, success, message, scheduled, kind,
			created_vendors, new_prices, updated_prices, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.RunID, e.Timestamp.UTC().Format(time.RFC3339Nano), e.Success, e.Message, e.Scheduled, string(e.Kind),
		e.CreatedVendors, e.NewPrices, e.UpdatedPrices, e.Duration.Milliseconds(),
	)
	if err != nil {
		return eris.Wrap(err, "sqlite: append log")
	}
	id, err := res.LastInsertId()
	if err != nil {
		return eris.Wrap(err, "sqlite: append log: last insert id")
	}
	e.ID = id
	return nil
}

const sqliteLogColumns = `id, run_id, logged_at, success, message, scheduled, kind,
	created_vendors, new_prices, updated_prices, duration_ms`

func (s *SQLiteStore) ListLog(ctx context.Context, filter model.LogFilter) ([]model.AcquisitionLogEntry, error) {
	query := `SELECT ` + sqliteLogColumns + ` FROM acquisition_log`
	var args []any
	if filter.Kind != "" {
		query += ` WHERE kind = ?`
		args = append(args, string(filter.Kind))
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, logLimit(filter))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list log")
	}
	defer rows.Close() //nolint:errcheck

	var entries []model.AcquisitionLogEntry
	for rows.Next() {
		e, err := scanSQLiteLog(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *e)
	}
	return entries, eris.Wrap(rows.Err(), "sqlite: list log: rows")
}

func (s *SQLiteStore) LastSuccess(ctx context.Context, kind model.SourceKind) (*model.AcquisitionLogEntry, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sqliteLogColumns+` FROM acquisition_log
		WHERE kind = ? AND success = 1 ORDER BY id DESC LIMIT 1`, string(kind))
	e, err := scanSQLiteLog(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return e, err
}

type scannable interface {
	Scan(dest ...any) error
}

func scanSQLiteLog(row scannable) (*model.AcquisitionLogEntry, error) {
	var (
		e        model.AcquisitionLogEntry
		loggedAt string
		kind     string
		millis   int64
	)
	err := row.Scan(&e.ID, &e.RunID, &loggedAt, &e.Success, &e.Message, &e.Scheduled, &kind,
		&e.CreatedVendors, &e.NewPrices, &e.UpdatedPrices, &millis)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan log entry")
	}
	e.Timestamp, err = time.Parse(time.RFC3339Nano, loggedAt)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: parse log timestamp %q", loggedAt)
	}
	e.Kind = model.SourceKind(kind)
	e.Duration = time.Duration(millis) * time.Millisecond
	return &e, nil
}

func (s *SQLiteStore) PricesBetween(ctx context.Context, from, to time.Time) ([]model.PriceObservation, error) {
	return s.queryObservations(ctx,
		`SELECT p.vendor_id, v.name, v.town, p.price, p.obs_date
		FROM prices p JOIN vendors v ON v.id = p.vendor_id
		WHERE p.obs_date BETWEEN ? AND ?
		ORDER BY p.obs_date, v.name`,
		from.Format(model.DateLayout), to.Format(model.DateLayout))
}

func (s *SQLiteStore) RecentPrices(ctx context.Context, limit int) ([]model.PriceObservation, error) {
	return s.queryObservations(ctx,
		`SELECT p.vendor_id, v.name, v.town, p.price, p.obs_date
		FROM prices p JOIN vendors v ON v.id = p.vendor_id
		ORDER BY p.obs_date DESC, p.id DESC
		LIMIT ?`, limit)
}

func (s *SQLiteStore) queryObservations(ctx context.Context, query string, args ...any) ([]model.PriceObservation, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: query prices")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.PriceObservation
	for rows.Next() {
		var (
			o           model.PriceObservation
			price, date string
		)
		if err := rows.Scan(&o.VendorID, &o.VendorName, &o.Town, &price, &date); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan price")
		}
		if o.Price, o.Date, err = parseStored(price, date); err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: query prices: rows")
}

func (s *SQLiteStore) FederalBetween(ctx context.Context, from, to time.Time) ([]model.FederalPriceRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT obs_date, price FROM federal_prices WHERE obs_date BETWEEN ? AND ? ORDER BY obs_date`,
		from.Format(model.DateLayout), to.Format(model.DateLayout))
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: query federal prices")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.FederalPriceRecord
	for rows.Next() {
		var (
			r           model.FederalPriceRecord
			date, price string
		)
		if err := rows.Scan(&date, &price); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan federal price")
		}
		if r.Price, r.Date, err = parseStored(price, date); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: query federal prices: rows")
}

func (s *SQLiteStore) CountVendors(ctx context.Context) (int, error) {
	return s.count(ctx, "vendors")
}

func (s *SQLiteStore) CountPrices(ctx context.Context) (int, error) {
	return s.count(ctx, "prices")
}

func (s *SQLiteStore) count(ctx context.Context, table string) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+table).Scan(&n); err != nil {
		return 0, eris.Wrapf(err, "sqlite: count %s", table)
	}
	return n, nil
}

func parseStored(price, date string) (decimal.Decimal, time.Time, error) {
	p, err := decimal.NewFromString(price)
	if err != nil {
		return decimal.Decimal{}, time.Time{}, eris.Wrapf(err, "sqlite: parse stored price %q", price)
	}
	d, err := time.Parse(model.DateLayout, date)
	if err != nil {
		return decimal.Decimal{}, time.Time{}, eris.Wrapf(err, "sqlite: parse stored date %q", date)
	}
	return p, d, nil
}

// checkRowsAffected returns an error if the result reports zero rows affected.
func checkRowsAffected(res sql.Result, entity string, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrapf(err, "sqlite: rows affected for %s %d", entity, id)
	}
	if n == 0 {
		return eris.Errorf("sqlite: %s not found: %d", entity, id)
	}
	return nil
}
