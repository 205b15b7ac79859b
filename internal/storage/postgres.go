package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/IshaanNene/CartKeeper/internal/types"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

var productColumns = []string{
	"id", "url", "title", "price", "original_price", "image", "site", "display_site",
	"category", "variant_size", "variant_color", "variant_style", "date_added",
	"last_modified", "device_source", "extraction_method", "confidence",
	"archived", "archived_at",
}

// PostgresStore keeps products in PostgreSQL. Every write runs in a
// transaction holding a per-owner advisory lock.
type PostgresStore struct {
	db     *sql.DB
	now    func() time.Time
	logger *slog.Logger
}

// NewPostgresStore opens dsn with the pgx driver and applies migrations.
func NewPostgresStore(ctx context.Context, dsn string, logger *slog.Logger) (*PostgresStore, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, &types.StorageError{Backend: "postgres", Op: "open", Err: err}
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, &types.StorageError{Backend: "postgres", Op: "ping", Err: err}
	}

	s := &PostgresStore{
		db:     db,
		now:    func() time.Time { return time.Now().UTC() },
		logger: logger.With("component", "postgres_storage"),
	}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) migrate() error {
	goose.SetBaseFS(migrationsFS)
	if err := goose.SetDialect("postgres"); err != nil {
		return s.fail("migrate", fmt.Errorf("set goose dialect: %w", err))
	}

	s.logger.Info("checking for pending migrations")
	if err := goose.Up(s.db, "migrations"); err != nil {
		return s.fail("migrate", err)
	}
	return nil
}

func (s *PostgresStore) fail(op string, err error) error {
	return &types.StorageError{Backend: "postgres", Op: op, Err: err}
}

func (s *PostgresStore) Name() string { return "postgres" }

// DB exposes the pool for health checks.
func (s *PostgresStore) DB() *sql.DB { return s.db }

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProduct(row rowScanner) (types.ArchivedProduct, bool, error) {
	var (
		a          types.ArchivedProduct
		archived   bool
		archivedAt sql.NullTime
		confidence string
	)
	p := &a.Product
	err := row.Scan(
		&p.ID, &p.URL, &p.Title, &p.Price, &p.OriginalPrice, &p.Image, &p.Site, &p.DisplaySite,
		&p.Category, &p.Variants.Size, &p.Variants.Color, &p.Variants.Style, &p.DateAdded,
		&p.LastModified, &p.DeviceSource, &p.ExtractionMethod, &confidence,
		&archived, &archivedAt,
	)
	if err != nil {
		return a, false, err
	}
	p.Confidence = types.Confidence(confidence)
	p.DateAdded = p.DateAdded.UTC()
	p.LastModified = p.LastModified.UTC()
	if archivedAt.Valid {
		a.ArchivedAt = archivedAt.Time.UTC()
	}
	return a, archived, nil
}

func (s *PostgresStore) query(ctx context.Context, runner sq.BaseRunner, b sq.SelectBuilder) ([]types.ArchivedProduct, []bool, error) {
	rows, err := b.RunWith(runner).QueryContext(ctx)
	if err != nil {
		return nil, nil, s.fail("select", err)
	}
	defer rows.Close()

	var (
		out      []types.ArchivedProduct
		archived []bool
	)
	for rows.Next() {
		a, arch, err := scanProduct(rows)
		if err != nil {
			return nil, nil, s.fail("scan", err)
		}
		out = append(out, a)
		archived = append(archived, arch)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, s.fail("select", err)
	}
	return out, archived, nil
}

// load reads the owner's full state inside tx.
func (s *PostgresStore) load(ctx context.Context, tx *sql.Tx, owner string) (ownerState, error) {
	all, archived, err := s.query(ctx, tx, psql.Select(productColumns...).
		From("products").
		Where(sq.Eq{"owner_id": owner}).
		OrderBy("date_added", "id"))
	if err != nil {
		return ownerState{}, err
	}

	state := ownerState{purged: newTombstones(nil)}
	for i, a := range all {
		if archived[i] {
			state.archived = append(state.archived, a)
		} else {
			state.active = append(state.active, a.Product)
		}
	}

	rows, err := psql.Select("id", "url_key", "purged_at").
		From("product_tombstones").
		Where(sq.Eq{"owner_id": owner}).
		RunWith(tx).
		QueryContext(ctx)
	if err != nil {
		return ownerState{}, s.fail("select tombstones", err)
	}
	defer rows.Close()
	for rows.Next() {
		var t Tombstone
		if err := rows.Scan(&t.ID, &t.URLKey, &t.PurgedAt); err != nil {
			return ownerState{}, s.fail("scan tombstone", err)
		}
		state.purged.add(t)
	}
	if err := rows.Err(); err != nil {
		return ownerState{}, s.fail("select tombstones", err)
	}
	return state, nil
}

// withOwnerTx runs fn in a transaction that holds the owner's advisory lock.
func (s *PostgresStore) withOwnerTx(ctx context.Context, owner string, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return s.fail("begin", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "SELECT pg_advisory_xact_lock(hashtext($1))", owner); err != nil {
		return s.fail("lock", err)
	}
	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return s.fail("commit", err)
	}
	return nil
}

func (s *PostgresStore) insert(ctx context.Context, tx *sql.Tx, owner string, products []types.Product) error {
	if len(products) == 0 {
		return nil
	}

	b := psql.Insert("products").Columns(append([]string{"owner_id", "url_key"}, productColumns...)...)
	for _, p := range products {
		b = b.Values(
			owner, types.CanonicalURL(p.URL),
			p.ID, p.URL, p.Title, p.Price, p.OriginalPrice, p.Image, p.Site, p.DisplaySite,
			p.Category, p.Variants.Size, p.Variants.Color, p.Variants.Style, p.DateAdded.UTC(),
			p.LastModified.UTC(), p.DeviceSource, p.ExtractionMethod, string(p.Confidence),
			false, nil,
		)
	}
	if _, err := b.RunWith(tx).ExecContext(ctx); err != nil {
		return s.fail("insert", err)
	}
	return nil
}

func (s *PostgresStore) List(ctx context.Context, owner string, since *time.Time) ([]types.Product, error) {
	b := psql.Select(productColumns...).
		From("products").
		Where(sq.Eq{"owner_id": owner, "archived": false}).
		OrderBy("date_added", "id")
	if since != nil {
		b = b.Where(sq.Gt{"last_modified": since.UTC()})
	}

	rows, _, err := s.query(ctx, s.db, b)
	if err != nil {
		return nil, err
	}
	out := make([]types.Product, len(rows))
	for i, a := range rows {
		out[i] = a.Product
	}
	return out, nil
}

func (s *PostgresStore) Removed(ctx context.Context, owner string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id FROM products WHERE owner_id = $1 AND archived
		 UNION SELECT id FROM product_tombstones WHERE owner_id = $1`, owner)
	if err != nil {
		return nil, s.fail("select removed", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, s.fail("scan", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *PostgresStore) Replace(ctx context.Context, owner, deviceID string, products []types.Product) ([]string, error) {
	if err := ValidateProducts(products); err != nil {
		return nil, err
	}

	var ids []string
	err := s.withOwnerTx(ctx, owner, func(tx *sql.Tx) error {
		state, err := s.load(ctx, tx, owner)
		if err != nil {
			return err
		}
		next := planReplace(state, deviceID, products, s.now())

		_, err = psql.Delete("products").
			Where(sq.Eq{"owner_id": owner, "archived": false}).
			RunWith(tx).
			ExecContext(ctx)
		if err != nil {
			return s.fail("delete", err)
		}
		if err := s.insert(ctx, tx, owner, next); err != nil {
			return err
		}

		ids = make([]string, len(next))
		for i, p := range next {
			ids[i] = p.ID
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Debug("replaced product set", "owner", owner, "count", len(ids))
	return ids, nil
}

func (s *PostgresStore) Merge(ctx context.Context, owner, deviceID string, products []types.Product) (MergeResult, error) {
	if err := ValidateProducts(products); err != nil {
		return MergeResult{}, err
	}

	var res MergeResult
	err := s.withOwnerTx(ctx, owner, func(tx *sql.Tx) error {
		state, err := s.load(ctx, tx, owner)
		if err != nil {
			return err
		}
		added, skipped := planMerge(state, deviceID, products, s.now())
		if err := s.insert(ctx, tx, owner, added); err != nil {
			return err
		}
		res = MergeResult{Added: len(added), Skipped: skipped, Total: len(state.active) + len(added)}
		return nil
	})
	return res, err
}

func (s *PostgresStore) Status(ctx context.Context, owner string) (types.StatusResponse, error) {
	status := types.StatusResponse{ServerTime: s.now()}
	counts := make(map[string]int)

	rows, err := psql.Select("device_source", "COUNT(*)", "MAX(last_modified)").
		From("products").
		Where(sq.Eq{"owner_id": owner, "archived": false}).
		GroupBy("device_source").
		RunWith(s.db).
		QueryContext(ctx)
	if err != nil {
		return status, s.fail("status", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			device string
			count  int
			newest time.Time
		)
		if err := rows.Scan(&device, &count, &newest); err != nil {
			return status, s.fail("scan", err)
		}
		counts[device] += count
		status.TotalProducts += count
		newest = newest.UTC()
		if status.NewestUpdate == nil || newest.After(*status.NewestUpdate) {
			status.NewestUpdate = &newest
		}
	}
	if err := rows.Err(); err != nil {
		return status, s.fail("status", err)
	}
	status.DeviceBreakdown = breakdown(counts)

	err = psql.Select("COUNT(*)").
		From("products").
		Where(sq.Eq{"owner_id": owner, "archived": true}).
		RunWith(s.db).
		QueryRowContext(ctx).
		Scan(&status.ArchivedCount)
	if err != nil {
		return status, s.fail("status", err)
	}
	return status, nil
}

// missing picks ErrPurged or ErrNotFound for an id that matched nothing.
func (s *PostgresStore) missing(ctx context.Context, runner sq.BaseRunner, op, owner, id string) error {
	var n int
	err := psql.Select("COUNT(*)").
		From("product_tombstones").
		Where(sq.Eq{"owner_id": owner, "id": id}).
		RunWith(runner).
		QueryRowContext(ctx).
		Scan(&n)
	if err != nil {
		return s.fail(op, err)
	}
	if n > 0 {
		return fmt.Errorf("%s %s: %w", op, id, types.ErrPurged)
	}
	return fmt.Errorf("%s %s: %w", op, id, types.ErrNotFound)
}

func (s *PostgresStore) Archive(ctx context.Context, owner, id string) (types.ArchivedProduct, error) {
	var out types.ArchivedProduct
	err := s.withOwnerTx(ctx, owner, func(tx *sql.Tx) error {
		q, args, err := psql.Update("products").
			Set("archived", true).
			Set("archived_at", s.now()).
			Where(sq.Eq{"owner_id": owner, "id": id, "archived": false}).
			Suffix("RETURNING " + strings.Join(productColumns, ", ")).
			ToSql()
		if err != nil {
			return s.fail("archive", err)
		}
		a, _, err := scanProduct(tx.QueryRowContext(ctx, q, args...))
		if errors.Is(err, sql.ErrNoRows) {
			return s.missing(ctx, tx, "archive", owner, id)
		}
		if err != nil {
			return s.fail("archive", err)
		}
		out = a
		return nil
	})
	return out, err
}

func (s *PostgresStore) ListArchived(ctx context.Context, owner string) ([]types.ArchivedProduct, error) {
	rows, _, err := s.query(ctx, s.db, psql.Select(productColumns...).
		From("products").
		Where(sq.Eq{"owner_id": owner, "archived": true}).
		OrderBy("archived_at", "id"))
	return rows, err
}

func (s *PostgresStore) Restore(ctx context.Context, owner, id string) (types.Product, error) {
	var out types.Product
	err := s.withOwnerTx(ctx, owner, func(tx *sql.Tx) error {
		state, err := s.load(ctx, tx, owner)
		if err != nil {
			return err
		}
		i := findArchived(state.archived, id)
		if i < 0 {
			return s.missing(ctx, tx, "restore", owner, id)
		}
		if restoreConflict(state.active, state.archived[i].URL) {
			return fmt.Errorf("restore %s: %w", id, types.ErrDuplicateURL)
		}

		_, err = psql.Update("products").
			Set("archived", false).
			Set("archived_at", nil).
			Where(sq.Eq{"owner_id": owner, "id": id}).
			RunWith(tx).
			ExecContext(ctx)
		if err != nil {
			return s.fail("restore", err)
		}
		out = state.archived[i].Product
		return nil
	})
	return out, err
}

func (s *PostgresStore) Purge(ctx context.Context, owner, id string) error {
	return s.withOwnerTx(ctx, owner, func(tx *sql.Tx) error {
		q, args, err := psql.Delete("products").
			Where(sq.Eq{"owner_id": owner, "id": id, "archived": true}).
			Suffix("RETURNING url_key").
			ToSql()
		if err != nil {
			return s.fail("purge", err)
		}

		var urlKey string
		err = tx.QueryRowContext(ctx, q, args...).Scan(&urlKey)
		if errors.Is(err, sql.ErrNoRows) {
			return s.missing(ctx, tx, "purge", owner, id)
		}
		if err != nil {
			return s.fail("purge", err)
		}

		_, err = psql.Insert("product_tombstones").
			Columns("owner_id", "id", "url_key", "purged_at").
			Values(owner, id, urlKey, s.now()).
			RunWith(tx).
			ExecContext(ctx)
		if err != nil {
			return s.fail("insert tombstone", err)
		}
		s.logger.Info("product purged", "owner", owner, "id", id)
		return nil
	})
}

func (s *PostgresStore) Close() error {
	s.logger.Info("postgres storage closing")
	return s.db.Close()
}
