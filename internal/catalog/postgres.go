package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/remiges-tech/prefixsearch"
	"github.com/remiges-tech/prefixsearch/internal/config"
)

const defaultPageSize = 1000

// Postgres reads the products table. Ids are compared as text so the same
// keyset query works for uuid and text primary keys.
type Postgres struct {
	db       *sql.DB
	pageSize int
	logger   *slog.Logger

	pageQuery   string
	detailQuery string
}

// OpenPostgres connects with lib/pq and verifies the connection.
func OpenPostgres(ctx context.Context, cfg config.CatalogConfig, logger *slog.Logger) (*Postgres, error) {
	db, err := sql.Open("postgres", cfg.Postgres.DSN())
	if err != nil {
		return nil, fmt.Errorf("opening postgres connection: %w", err)
	}
	db.SetMaxOpenConns(cfg.Postgres.MaxOpenConns)
	db.SetConnMaxLifetime(cfg.Postgres.ConnMaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}
	return NewPostgres(db, cfg.Table, cfg.PageSize, logger), nil
}

// NewPostgres wraps an open database. table may be schema-qualified.
func NewPostgres(db *sql.DB, table string, pageSize int, logger *slog.Logger) *Postgres {
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	quoted := quoteTable(table)
	return &Postgres{
		db:       db,
		pageSize: pageSize,
		logger:   logger.With("component", "catalog"),
		pageQuery: fmt.Sprintf(
			`SELECT id::text, name FROM %s WHERE id::text > $1 ORDER BY id::text LIMIT $2`, quoted),
		detailQuery: fmt.Sprintf(
			`SELECT id::text, name, description, price::text, stock, product_url, category, type, created_at
			 FROM %s WHERE id::text = $1`, quoted),
	}
}

func quoteTable(table string) string {
	i := strings.LastIndexByte(table, '.')
	if i < 0 {
		return pq.QuoteIdentifier(table)
	}
	return pq.QuoteIdentifier(table[:i]) + "." + pq.QuoteIdentifier(table[i+1:])
}

// Each pages through the table by id.
func (p *Postgres) Each(ctx context.Context, fn func(prefixsearch.Product) error) error {
	after := ""
	total := 0
	for {
		n, last, err := p.page(ctx, after, fn)
		if err != nil {
			return err
		}
		total += n
		if n < p.pageSize {
			p.logger.Debug("catalog scan complete", "products", total)
			return nil
		}
		after = last
	}
}

func (p *Postgres) page(ctx context.Context, after string, fn func(prefixsearch.Product) error) (int, string, error) {
	rows, err := p.db.QueryContext(ctx, p.pageQuery, after, p.pageSize)
	if err != nil {
		return 0, "", fmt.Errorf("querying products: %w", err)
	}
	defer rows.Close()

	n := 0
	last := after
	for rows.Next() {
		var prod prefixsearch.Product
		if err := rows.Scan(&prod.ID, &prod.Name); err != nil {
			return n, last, fmt.Errorf("scanning product: %w", err)
		}
		n++
		last = prod.ID
		if err := fn(prod); err != nil {
			return n, last, err
		}
	}
	if err := rows.Err(); err != nil {
		return n, last, fmt.Errorf("iterating products: %w", err)
	}
	return n, last, nil
}

func (p *Postgres) Product(ctx context.Context, id string) (Detail, error) {
	var (
		d          Detail
		createdAt  sql.NullTime
		desc, url  sql.NullString
		cat, ptype sql.NullString
	)
	err := p.db.QueryRowContext(ctx, p.detailQuery, id).Scan(
		&d.ID, &d.Name, &desc, &d.Price, &d.Stock, &url, &cat, &ptype, &createdAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return Detail{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return Detail{}, fmt.Errorf("querying product %s: %w", id, err)
	}
	d.Description = desc.String
	d.ProductURL = url.String
	d.Category = cat.String
	d.Type = ptype.String
	d.CreatedAt = createdAt.Time
	return d, nil
}

func (p *Postgres) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

func (p *Postgres) Close() error {
	return p.db.Close()
}
