package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"

	"github.com/sells-group/etrends/internal/db"
	"github.com/sells-group/etrends/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS vendors (
	id         BIGSERIAL PRIMARY KEY,
	name       TEXT NOT NULL UNIQUE,
	town       TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS prices (
	id         BIGSERIAL PRIMARY KEY,
	vendor_id  BIGINT NOT NULL REFERENCES vendors(id),
	price      NUMERIC(12,4) NOT NULL CHECK (price >= 0),
	obs_date   DATE NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (vendor_id, obs_date)
);

CREATE INDEX IF NOT EXISTS idx_prices_obs_date ON prices(obs_date);

CREATE TABLE IF NOT EXISTS federal_prices (
	id         BIGSERIAL PRIMARY KEY,
	obs_date   DATE NOT NULL UNIQUE,
	price      NUMERIC(12,4) NOT NULL CHECK (price >= 0),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS acquisition_log (
	id              BIGSERIAL PRIMARY KEY,
	run_id          TEXT NOT NULL,
	logged_at       TIMESTAMPTZ NOT NULL,
	success         BOOLEAN NOT NULL,
	message         TEXT NOT NULL,
	scheduled       BOOLEAN NOT NULL,
	kind            TEXT NOT NULL,
	created_vendors INTEGER NOT NULL DEFAULT 0,
	new_prices      INTEGER NOT NULL DEFAULT 0,
	updated_prices  INTEGER NOT NULL DEFAULT 0,
	duration_ms     BIGINT NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_acquisition_log_kind ON acquisition_log(kind, id DESC);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.pool.Ping(ctx), "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// InTx runs fn in a pgx transaction.
func (s *PostgresStore) InTx(ctx context.Context, fn func(Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin tx")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if err := fn(&postgresTx{tx: tx}); err != nil {
		return err
	}
	return eris.Wrap(tx.Commit(ctx), "postgres: commit tx")
}

type postgresTx struct {
	tx pgx.Tx
}

func (t *postgresTx) FindVendorByName(ctx context.Context, name string) (*model.Vendor, error) {
	var v model.Vendor
	err := t.tx.QueryRow(ctx,
		`SELECT id, name, town, created_at FROM vendors WHERE name = $1`, name,
	).Scan(&v.ID, &v.Name, &v.Town, &v.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: find vendor %q", name)
	}
	return &v, nil
}

func (t *postgresTx) CreateVendor(ctx context.Context, name, town string) (*model.Vendor, error) {
	v := model.Vendor{Name: name, Town: town}
	err := t.tx.QueryRow(ctx,
		`INSERT INTO vendors (name, town) VALUES ($1, $2) RETURNING id, created_at`,
		name, town,
	).Scan(&v.ID, &v.CreatedAt)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: create vendor %q", name)
	}
	return &v, nil
}

// UpsertPrice relies on xmax being zero only for freshly inserted tuples.
func (t *postgresTx) UpsertPrice(ctx context.Context, vendorID int64, date time.Time, price decimal.Decimal) (bool, error) {
	var inserted bool
	err := t.tx.QueryRow(ctx,
		`INSERT INTO prices (vendor_id, obs_date, price) VALUES ($1, $2, $3)
		ON CONFLICT (vendor_id, obs_date) DO UPDATE SET price = EXCLUDED.price, updated_at = now()
		RETURNING (xmax = 0)`,
		vendorID, pgDate(date), toNumeric(price),
	).Scan(&inserted)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: upsert price vendor=%d date=%s", vendorID, date.Format(model.DateLayout))
	}
	return inserted, nil
}

// UpsertFederalPrices counts the dates already present, then bulk upserts the
// batch through a COPY-loaded temp table.
func (t *postgresTx) UpsertFederalPrices(ctx context.Context, points []model.FederalPoint) (int, int, error) {
	if len(points) == 0 {
		return 0, 0, nil
	}

	dates := make([]string, len(points))
	rows := make([][]any, len(points))
	for i, p := range points {
		dates[i] = p.Date.Format(model.DateLayout)
		rows[i] = []any{pgDate(p.Date), toNumeric(p.Price)}
	}

	var existing int
	if err := t.tx.QueryRow(ctx,
		`SELECT COUNT(*) FROM federal_prices WHERE obs_date = ANY($1::date[])`, dates,
	).Scan(&existing); err != nil {
		return 0, 0, eris.Wrap(err, "postgres: count existing federal prices")
	}

	if _, err := db.BulkUpsert(ctx, t.tx, db.UpsertConfig{
		Table:        "federal_prices",
		Columns:      []string{"obs_date", "price"},
		ConflictKeys: []string{"obs_date"},
		TouchCols:    []string{"updated_at"},
	}, rows); err != nil {
		return 0, 0, eris.Wrap(err, "postgres: upsert federal prices")
	}

	return len(points) - existing, existing, nil
}

func (s *PostgresStore) AppendLog(ctx context.Context, e *model.AcquisitionLogEntry) error {
	err := s.pool.QueryRow(ctx,
		`INSERT INTO acquisition_log (run_id, logged_at, success, message, scheduled, kind,
			created_vendors, new_prices, updated_prices, duration_ms)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10) RETURNING id`,
		e.RunID, e.Timestamp.UTC(), e.Success, e.Message, e.Scheduled, string(e.Kind),
		e.CreatedVendors, e.NewPrices, e.UpdatedPrices, e.Duration.Milliseconds(),
	).Scan(&e.ID)
	return eris.Wrap(err, "postgres: append log")
}

const postgresLogColumns = `id, run_id, logged_at, success, message, scheduled, kind,
	created_vendors, new_prices, updated_prices, duration_ms`

func (s *PostgresStore) ListLog(ctx context.Context, filter model.LogFilter) ([]model.AcquisitionLogEntry, error) {
	query := `SELECT ` + postgresLogColumns + ` FROM acquisition_log`
	var args []any
	if filter.Kind != "" {
		args = append(args, string(filter.Kind))
		query += ` WHERE kind = $1`
	}
	args = append(args, logLimit(filter))
	if filter.Kind != "" {
		query += ` ORDER BY id DESC LIMIT $2`
	} else {
		query += ` ORDER BY id DESC LIMIT $1`
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list log")
	}
	defer rows.Close()

	var entries []model.AcquisitionLogEntry
	for rows.Next() {
		e, err := scanPostgresLog(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *e)
	}
	return entries, eris.Wrap(rows.Err(), "postgres: list log: rows")
}

func (s *PostgresStore) LastSuccess(ctx context.Context, kind model.SourceKind) (*model.AcquisitionLogEntry, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+postgresLogColumns+` FROM acquisition_log
		WHERE kind = $1 AND success ORDER BY id DESC LIMIT 1`, string(kind))
	e, err := scanPostgresLog(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return e, err
}

func scanPostgresLog(row pgx.Row) (*model.AcquisitionLogEntry, error) {
	var (
		e      model.AcquisitionLogEntry
		kind   string
		millis int64
	)
	err := row.Scan(&e.ID, &e.RunID, &e.Timestamp, &e.Success, &e.Message, &e.Scheduled, &kind,
		&e.CreatedVendors, &e.NewPrices, &e.UpdatedPrices, &millis)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan log entry")
	}
	e.Kind = model.SourceKind(kind)
	e.Duration = time.Duration(millis) * time.Millisecond
	return &e, nil
}

func (s *PostgresStore) PricesBetween(ctx context.Context, from, to time.Time) ([]model.PriceObservation, error) {
	return s.queryObservations(ctx,
		`SELECT p.vendor_id, v.name, v.town, p.price::text, p.obs_date
		FROM prices p JOIN vendors v ON v.id = p.vendor_id
		WHERE p.obs_date BETWEEN $1 AND $2
		ORDER BY p.obs_date, v.name`,
		pgDate(from), pgDate(to))
}

func (s *PostgresStore) RecentPrices(ctx context.Context, limit int) ([]model.PriceObservation, error) {
	return s.queryObservations(ctx,
		`SELECT p.vendor_id, v.name, v.town, p.price::text, p.obs_date
		FROM prices p JOIN vendors v ON v.id = p.vendor_id
		ORDER BY p.obs_date DESC, p.id DESC
		LIMIT $1`, limit)
}

func (s *PostgresStore) queryObservations(ctx context.Context, query string, args ...any) ([]model.PriceObservation, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: query prices")
	}
	defer rows.Close()

	var out []model.PriceObservation
	for rows.Next() {
		var (
			o     model.PriceObservation
			price string
		)
		if err := rows.Scan(&o.VendorID, &o.VendorName, &o.Town, &price, &o.Date); err != nil {
			return nil, eris.Wrap(err, "postgres: scan price")
		}
		if o.Price, err = decimal.NewFromString(price); err != nil {
			return nil, eris.Wrapf(err, "postgres: parse price %q", price)
		}
		o.Date = model.Day(o.Date)
		out = append(out, o)
	}
	return out, eris.Wrap(rows.Err(), "postgres: query prices: rows")
}

func (s *PostgresStore) FederalBetween(ctx context.Context, from, to time.Time) ([]model.FederalPriceRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT obs_date, price::text FROM federal_prices WHERE obs_date BETWEEN $1 AND $2 ORDER BY obs_date`,
		pgDate(from), pgDate(to))
	if err != nil {
		return nil, eris.Wrap(err, "postgres: query federal prices")
	}
	defer rows.Close()

	var out []model.FederalPriceRecord
	for rows.Next() {
		var (
			r     model.FederalPriceRecord
			price string
		)
		if err := rows.Scan(&r.Date, &price); err != nil {
			return nil, eris.Wrap(err, "postgres: scan federal price")
		}
		if r.Price, err = decimal.NewFromString(price); err != nil {
			return nil, eris.Wrapf(err, "postgres: parse federal price %q", price)
		}
		r.Date = model.Day(r.Date)
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "postgres: query federal prices: rows")
}

func (s *PostgresStore) CountVendors(ctx context.Context) (int, error) {
	return s.count(ctx, "vendors")
}

func (s *PostgresStore) CountPrices(ctx context.Context) (int, error) {
	return s.count(ctx, "prices")
}

func (s *PostgresStore) count(ctx context.Context, table string) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM `+table).Scan(&n); err != nil {
		return 0, eris.Wrapf(err, "postgres: count %s", table)
	}
	return n, nil
}

func pgDate(t time.Time) pgtype.Date {
	return pgtype.Date{Time: model.Day(t), Valid: true}
}

func toNumeric(d decimal.Decimal) pgtype.Numeric {
	return pgtype.Numeric{Int: d.Coefficient(), Exp: d.Exponent(), Valid: true}
}
