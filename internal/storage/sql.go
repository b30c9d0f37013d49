package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib" // Postgres driver registration.
	_ "modernc.org/sqlite"             // SQLite driver registration.

	"github.com/jmylchreest/pricewatch/internal/model"
	"github.com/jmylchreest/pricewatch/migrations"
)

// SQLStore implements Store backed by database/sql.
type SQLStore struct {
	conn
	db *sql.DB
}

// Open connects to the database named by driver ("sqlite" or "postgres"),
// verifies the connection and applies pending migrations.
func Open(ctx context.Context, driver, dsn string) (*SQLStore, error) {
	d, err := lookupDialect(driver)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(d.sqlDriver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", d.name, err)
	}

	if err := prepare(ctx, db, d); err != nil {
		_ = db.Close()
		return nil, err
	}

	if err := migrations.Run(db, d.gooseName); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLStore{conn: conn{q: db, d: d}, db: db}, nil
}

// prepare applies per-dialect connection settings and verifies the connection.
func prepare(ctx context.Context, db *sql.DB, d dialect) error {
	if d.name == DriverSQLite {
		// One connection keeps :memory: databases alive and serializes writers.
		db.SetMaxOpenConns(1)
		for _, pragma := range []string{
			"PRAGMA journal_mode=WAL",
			"PRAGMA foreign_keys=ON",
			"PRAGMA busy_timeout=5000",
		} {
			if _, err := db.ExecContext(ctx, pragma); err != nil {
				return fmt.Errorf("%s: %w", pragma, err)
			}
		}
	}

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("%s ping failed: %w", d.name, err)
	}
	return nil
}

// Close closes the underlying database connection.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// DB exposes the underlying handle for migration commands.
func (s *SQLStore) DB() *sql.DB {
	return s.db
}

// Dialect returns the goose dialect name of the store.
func (s *SQLStore) Dialect() string {
	return s.d.gooseName
}

// InTx runs fn in a transaction, rolling back when fn returns an error.
func (s *SQLStore) InTx(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(&sqlTx{conn: conn{q: tx, d: s.d}}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// conn binds a querier to a dialect; both the store and its transactions
// are built on it.
type conn struct {
	q querier
	d dialect
}

func (c conn) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return c.q.ExecContext(ctx, c.d.rebind(query), args...)
}

func (c conn) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return c.q.QueryContext(ctx, c.d.rebind(query), args...)
}

func (c conn) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return c.q.QueryRowContext(ctx, c.d.rebind(query), args...)
}

// --- Competitors ---

const competitorColumns = `id, owner_id, name, base_url, is_active, last_scraped_at, created_at, updated_at`

// CreateCompetitor inserts c, assigning an ID and timestamps when unset.
func (c conn) CreateCompetitor(ctx context.Context, comp *model.Competitor) error {
	if comp.ID == uuid.Nil {
		comp.ID = uuid.New()
	}
	now := time.Now().UTC()
	comp.CreatedAt, comp.UpdatedAt = now, now

	_, err := c.exec(ctx,
		`INSERT INTO competitors (`+competitorColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		comp.ID, comp.OwnerID, comp.Name, comp.BaseURL, comp.IsActive,
		c.d.nullTimeArg(comp.LastScrapedAt), c.d.timeArg(now), c.d.timeArg(now),
	)
	if err != nil {
		return fmt.Errorf("insert competitor: %w", err)
	}
	return nil
}

// GetCompetitor returns a competitor by ID.
func (c conn) GetCompetitor(ctx context.Context, id uuid.UUID) (*model.Competitor, error) {
	row := c.queryRow(ctx, `SELECT `+competitorColumns+` FROM competitors WHERE id = ?`, id)
	comp, err := scanCompetitor(row)
	if err != nil {
		return nil, notFound(err, "competitor", id)
	}
	return comp, nil
}

// ListCompetitors returns all competitors ordered by name.
func (c conn) ListCompetitors(ctx context.Context) ([]model.Competitor, error) {
	rows, err := c.query(ctx, `SELECT `+competitorColumns+` FROM competitors ORDER BY name, id`)
	if err != nil {
		return nil, fmt.Errorf("query competitors: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []model.Competitor
	for rows.Next() {
		comp, err := scanCompetitor(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *comp)
	}
	return out, rows.Err()
}

// MarkCompetitorScraped sets last_scraped_at.
func (c conn) MarkCompetitorScraped(ctx context.Context, id uuid.UUID, at time.Time) error {
	res, err := c.exec(ctx,
		`UPDATE competitors SET last_scraped_at = ?, updated_at = ? WHERE id = ?`,
		c.d.timeArg(at), c.d.timeArg(time.Now()), id,
	)
	if err != nil {
		return fmt.Errorf("update competitor: %w", err)
	}
	return requireRow(res, "competitor", id)
}

// --- Sessions ---

const sessionColumns = `id, competitor_id, status, started_at, completed_at, products_found, error, raw_content, tokens_used`

// CreateSession inserts s. Status defaults to pending.
func (c conn) CreateSession(ctx context.Context, s *model.ScrapeSession) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	if s.Status == "" {
		s.Status = model.StatusPending
	}
	if s.StartedAt.IsZero() {
		s.StartedAt = time.Now().UTC()
	}
	payload, err := encodeSessionError(s.Error)
	if err != nil {
		return err
	}

	_, err = c.exec(ctx,
		`INSERT INTO scrape_sessions (`+sessionColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.ID, s.CompetitorID, string(s.Status), c.d.timeArg(s.StartedAt), c.d.nullTimeArg(s.CompletedAt),
		s.ProductsFound, payload, s.RawContent, s.TokensUsed,
	)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

// GetSession returns a session by ID.
func (c conn) GetSession(ctx context.Context, id uuid.UUID) (*model.ScrapeSession, error) {
	row := c.queryRow(ctx, `SELECT `+sessionColumns+` FROM scrape_sessions WHERE id = ?`, id)
	s, err := scanSession(row)
	if err != nil {
		return nil, notFound(err, "session", id)
	}
	return s, nil
}

// ListSessions returns the most recent sessions of a competitor.
func (c conn) ListSessions(ctx context.Context, competitorID uuid.UUID, limit int) ([]model.ScrapeSession, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := c.query(ctx,
		`SELECT `+sessionColumns+` FROM scrape_sessions WHERE competitor_id = ?
		 ORDER BY started_at DESC, id LIMIT ?`, competitorID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []model.ScrapeSession
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}

// UpdateSession writes s only when the stored status equals from. The move
// from → s.Status must be allowed by the state machine; from == s.Status is
// accepted for in-place updates of non-terminal sessions.
func (c conn) UpdateSession(ctx context.Context, s *model.ScrapeSession, from model.SessionStatus) error {
	if from == s.Status {
		if from.IsTerminal() {
			return fmt.Errorf("%w: %s is terminal", model.ErrInvalidTransition, from)
		}
	} else if !model.CanTransition(from, s.Status) {
		return fmt.Errorf("%w: %s -> %s", model.ErrInvalidTransition, from, s.Status)
	}

	payload, err := encodeSessionError(s.Error)
	if err != nil {
		return err
	}

	res, err := c.exec(ctx,
		`UPDATE scrape_sessions
		 SET status = ?, completed_at = ?, products_found = ?, error = ?, raw_content = ?, tokens_used = ?
		 WHERE id = ? AND status = ?`,
		string(s.Status), c.d.nullTimeArg(s.CompletedAt), s.ProductsFound, payload, s.RawContent, s.TokensUsed,
		s.ID, string(from),
	)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 1 {
		return nil
	}

	if _, err := c.GetSession(ctx, s.ID); err != nil {
		return err
	}
	return fmt.Errorf("session %s: %w", s.ID, ErrStaleStatus)
}

// --- Products ---

const productColumns = `id, competitor_id, product_identifier, name, description, category, product_url, image_url,
	current_price, currency, is_available, first_detected_at, last_updated_at`

// GetOrCreateProduct inserts p unless (competitor, identifier) exists and
// loads the stored row into p.
func (c conn) GetOrCreateProduct(ctx context.Context, p *model.Product) (bool, error) {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	now := time.Now().UTC()
	if p.FirstDetectedAt.IsZero() {
		p.FirstDetectedAt = now
	}
	if p.LastUpdatedAt.IsZero() {
		p.LastUpdatedAt = now
	}

	res, err := c.exec(ctx,
		`INSERT INTO products (`+productColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (competitor_id, product_identifier) DO NOTHING`,
		p.ID, p.CompetitorID, p.Identifier, p.Name, p.Description, p.Category, p.ProductURL, p.ImageURL,
		p.CurrentPrice, p.Currency, p.IsAvailable, c.d.timeArg(p.FirstDetectedAt), c.d.timeArg(p.LastUpdatedAt),
	)
	if err != nil {
		return false, fmt.Errorf("insert product: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}

	row := c.queryRow(ctx,
		`SELECT `+productColumns+` FROM products WHERE competitor_id = ? AND product_identifier = ?`,
		p.CompetitorID, p.Identifier,
	)
	stored, err := scanProduct(row)
	if err != nil {
		return false, fmt.Errorf("select product: %w", err)
	}
	*p = *stored
	return n == 1, nil
}

// GetProduct returns a product by ID.
func (c conn) GetProduct(ctx context.Context, id uuid.UUID) (*model.Product, error) {
	row := c.queryRow(ctx, `SELECT `+productColumns+` FROM products WHERE id = ?`, id)
	p, err := scanProduct(row)
	if err != nil {
		return nil, notFound(err, "product", id)
	}
	return p, nil
}

// ListProducts returns all products of a competitor.
func (c conn) ListProducts(ctx context.Context, competitorID uuid.UUID) ([]model.Product, error) {
	rows, err := c.query(ctx,
		`SELECT `+productColumns+` FROM products WHERE competitor_id = ? ORDER BY product_identifier`,
		competitorID,
	)
	if err != nil {
		return nil, fmt.Errorf("query products: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []model.Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

// UpdateCurrentPrice sets a product's current price.
func (c conn) UpdateCurrentPrice(ctx context.Context, productID uuid.UUID, price float64, at time.Time) error {
	res, err := c.exec(ctx,
		`UPDATE products SET current_price = ?, last_updated_at = ? WHERE id = ?`,
		price, c.d.timeArg(at), productID,
	)
	if err != nil {
		return fmt.Errorf("update product price: %w", err)
	}
	return requireRow(res, "product", productID)
}

// --- Price history ---

// AppendPrice inserts h and populates its ID.
func (c conn) AppendPrice(ctx context.Context, h *model.PriceHistory) error {
	if h.RecordedAt.IsZero() {
		h.RecordedAt = time.Now().UTC()
	}
	err := c.queryRow(ctx,
		`INSERT INTO price_history (product_id, price, recorded_at, scrape_session_id)
		 VALUES (?, ?, ?, ?) RETURNING id`,
		h.ProductID, h.Price, c.d.timeArg(h.RecordedAt), h.ScrapeSessionID,
	).Scan(&h.ID)
	if err != nil {
		return fmt.Errorf("insert price history: %w", err)
	}
	return nil
}

// RecentPrices returns up to n history rows for a product, newest first.
func (c conn) RecentPrices(ctx context.Context, productID uuid.UUID, n int) ([]model.PriceHistory, error) {
	rows, err := c.query(ctx,
		`SELECT id, product_id, price, recorded_at, scrape_session_id FROM price_history
		 WHERE product_id = ? ORDER BY recorded_at DESC, id DESC LIMIT ?`,
		productID, n,
	)
	if err != nil {
		return nil, fmt.Errorf("query price history: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []model.PriceHistory
	for rows.Next() {
		var h model.PriceHistory
		var recorded dbTime
		if err := rows.Scan(&h.ID, &h.ProductID, &h.Price, &recorded, &h.ScrapeSessionID); err != nil {
			return nil, fmt.Errorf("scan price history: %w", err)
		}
		h.RecordedAt = recorded.Time
		out = append(out, h)
	}
	return out, rows.Err()
}

// --- Alerts ---

const alertColumns = `id, owner_id, competitor_id, product_id, type, severity, title, message,
	old_value, new_value, is_read, created_at`

// CreateAlert inserts a, assigning an ID and creation time when unset.
func (c conn) CreateAlert(ctx context.Context, a *model.Alert) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	oldValue, err := encodeJSON(a.OldValue)
	if err != nil {
		return fmt.Errorf("encode old_value: %w", err)
	}
	newValue, err := encodeJSON(a.NewValue)
	if err != nil {
		return fmt.Errorf("encode new_value: %w", err)
	}

	_, err = c.exec(ctx,
		`INSERT INTO alerts (`+alertColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.OwnerID, a.CompetitorID, a.ProductID, string(a.Type), string(a.Severity), a.Title, a.Message,
		oldValue, newValue, a.IsRead, c.d.timeArg(a.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert alert: %w", err)
	}
	return nil
}

// ListAlerts returns alerts matching f, newest first.
func (c conn) ListAlerts(ctx context.Context, f AlertFilter) ([]model.Alert, error) {
	var (
		where []string
		args  []any
	)
	if f.OwnerID.Valid {
		where = append(where, "owner_id = ?")
		args = append(args, f.OwnerID.UUID)
	}
	if f.CompetitorID.Valid {
		where = append(where, "competitor_id = ?")
		args = append(args, f.CompetitorID.UUID)
	}
	if f.UnreadOnly {
		where = append(where, "is_read = ?")
		args = append(args, false)
	}

	query := `SELECT ` + alertColumns + ` FROM alerts`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY created_at DESC, id`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	rows, err := c.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query alerts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []model.Alert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

// MarkAlertRead flags an alert as read.
func (c conn) MarkAlertRead(ctx context.Context, id uuid.UUID) error {
	res, err := c.exec(ctx, `UPDATE alerts SET is_read = ? WHERE id = ?`, true, id)
	if err != nil {
		return fmt.Errorf("update alert: %w", err)
	}
	return requireRow(res, "alert", id)
}

// --- Transactions ---

type sqlTx struct {
	conn
}

var savepointName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Savepoint runs fn inside SAVEPOINT name, rolling back to it on failure.
func (t *sqlTx) Savepoint(ctx context.Context, name string, fn func() error) error {
	if !savepointName.MatchString(name) {
		return fmt.Errorf("invalid savepoint name %q", name)
	}
	if _, err := t.exec(ctx, "SAVEPOINT "+name); err != nil {
		return fmt.Errorf("savepoint %s: %w", name, err)
	}

	if err := fn(); err != nil {
		if _, rbErr := t.exec(ctx, "ROLLBACK TO SAVEPOINT "+name); rbErr != nil {
			return errors.Join(err, fmt.Errorf("rollback to savepoint %s: %w", name, rbErr))
		}
		if _, relErr := t.exec(ctx, "RELEASE SAVEPOINT "+name); relErr != nil {
			return errors.Join(err, fmt.Errorf("release savepoint %s: %w", name, relErr))
		}
		return err
	}

	if _, err := t.exec(ctx, "RELEASE SAVEPOINT "+name); err != nil {
		return fmt.Errorf("release savepoint %s: %w", name, err)
	}
	return nil
}

// --- helpers ---

type scannable interface {
	Scan(dest ...any) error
}

func notFound(err error, kind string, id uuid.UUID) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s %s: %w", kind, id, ErrNotFound)
	}
	return err
}

func requireRow(res sql.Result, kind string, id uuid.UUID) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%s %s: %w", kind, id, ErrNotFound)
	}
	return nil
}

func encodeJSON(v map[string]any) (any, error) {
	if v == nil {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func decodeJSON(s sql.NullString) (map[string]any, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	var v map[string]any
	if err := json.Unmarshal([]byte(s.String), &v); err != nil {
		return nil, err
	}
	return v, nil
}

func encodeSessionError(e *model.SessionError) (any, error) {
	if e == nil {
		return nil, nil
	}
	b, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("encode session error: %w", err)
	}
	return string(b), nil
}

func scanCompetitor(row scannable) (*model.Competitor, error) {
	var comp model.Competitor
	var lastScraped, created, updated dbTime
	err := row.Scan(&comp.ID, &comp.OwnerID, &comp.Name, &comp.BaseURL, &comp.IsActive,
		&lastScraped, &created, &updated)
	if err != nil {
		return nil, fmt.Errorf("scan competitor: %w", err)
	}
	comp.LastScrapedAt = lastScraped.ptr()
	comp.CreatedAt = created.Time
	comp.UpdatedAt = updated.Time
	return &comp, nil
}

func scanSession(row scannable) (*model.ScrapeSession, error) {
	var s model.ScrapeSession
	var status string
	var started, completed dbTime
	var payload sql.NullString
	err := row.Scan(&s.ID, &s.CompetitorID, &status, &started, &completed,
		&s.ProductsFound, &payload, &s.RawContent, &s.TokensUsed)
	if err != nil {
		return nil, fmt.Errorf("scan session: %w", err)
	}
	s.Status = model.SessionStatus(status)
	s.StartedAt = started.Time
	s.CompletedAt = completed.ptr()
	if payload.Valid && payload.String != "" {
		var e model.SessionError
		if err := json.Unmarshal([]byte(payload.String), &e); err != nil {
			return nil, fmt.Errorf("decode session error: %w", err)
		}
		s.Error = &e
	}
	return &s, nil
}

func scanProduct(row scannable) (*model.Product, error) {
	var p model.Product
	var first, last dbTime
	err := row.Scan(&p.ID, &p.CompetitorID, &p.Identifier, &p.Name, &p.Description, &p.Category,
		&p.ProductURL, &p.ImageURL, &p.CurrentPrice, &p.Currency, &p.IsAvailable, &first, &last)
	if err != nil {
		return nil, fmt.Errorf("scan product: %w", err)
	}
	p.FirstDetectedAt = first.Time
	p.LastUpdatedAt = last.Time
	return &p, nil
}

func scanAlert(row scannable) (*model.Alert, error) {
	var a model.Alert
	var typ, severity string
	var oldValue, newValue sql.NullString
	var created dbTime
	err := row.Scan(&a.ID, &a.OwnerID, &a.CompetitorID, &a.ProductID, &typ, &severity, &a.Title, &a.Message,
		&oldValue, &newValue, &a.IsRead, &created)
	if err != nil {
		return nil, fmt.Errorf("scan alert: %w", err)
	}
	a.Type = model.AlertType(typ)
	a.Severity = model.Severity(severity)
	a.CreatedAt = created.Time
	if a.OldValue, err = decodeJSON(oldValue); err != nil {
		return nil, fmt.Errorf("decode old_value: %w", err)
	}
	if a.NewValue, err = decodeJSON(newValue); err != nil {
		return nil, fmt.Errorf("decode new_value: %w", err)
	}
	return &a, nil
}
