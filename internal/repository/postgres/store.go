package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"github.com/stackpanel/stackpanel/internal/domain"
)

// Ensure Store implements domain.Repository
var _ domain.Repository[*domain.Zone] = (*Store[domain.Zone, *domain.Zone])(nil)

// Store persists one entity kind in its own table. Identity, status, version and
// audit columns are real columns; the remaining fields live in the attributes document.
type Store[T any, PT domain.EntityPtr[T]] struct {
	db     *DB
	table  string
	logger *zap.Logger
}

// NewStore creates a PostgreSQL store for kind.
func NewStore[T any, PT domain.EntityPtr[T]](db *DB, kind domain.Kind, logger *zap.Logger) *Store[T, PT] {
	return &Store[T, PT]{
		db:     db,
		table:  TableName(kind),
		logger: logger.With(zap.String("repository", string(kind))),
	}
}

// TableName returns the table backing kind.
func TableName(kind domain.Kind) string {
	name := string(kind)
	switch {
	case strings.HasSuffix(name, "y"):
		return strings.TrimSuffix(name, "y") + "ies"
	case strings.HasSuffix(name, "x"), strings.HasSuffix(name, "s"):
		return name + "es"
	default:
		return name + "s"
	}
}

const selectColumns = `id, status, version, created_by, updated_by, created_at, updated_at, attributes`

// Create stores a new entity. The database assigns the id; the stored version is 0.
func (s *Store[T, PT]) Create(ctx context.Context, e PT) (PT, error) {
	out := domain.Clone(e)
	m := out.GetMeta()
	m.Version = 0
	if m.Status == "" {
		m.Status = domain.StatusActive
	}
	now := time.Now().UTC()
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	m.UpdatedAt = now

	attrs, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal attributes: %w", err)
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (
			natural_key, search_text, status, version, created_by, updated_by,
			created_at, updated_at, attributes
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id
	`, s.table)

	err = s.db.pool.QueryRow(ctx, query,
		nullString(out.Key()),
		searchText(out),
		string(m.Status),
		m.Version,
		m.CreatedBy,
		m.UpdatedBy,
		m.CreatedAt,
		m.UpdatedAt,
		attrs,
	).Scan(&m.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, domain.ErrAlreadyExists
		}
		s.logger.Error("Failed to create entity", zap.Error(err), zap.String("key", out.Key()))
		return nil, fmt.Errorf("failed to insert into %s: %w", s.table, err)
	}

	s.logger.Debug("Created entity", zap.Int64("id", m.ID), zap.String("key", out.Key()))
	return out, nil
}

// Get retrieves an entity by id.
func (s *Store[T, PT]) Get(ctx context.Context, id int64) (PT, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE id = $1`, selectColumns, s.table)
	return s.scanOne(s.db.pool.QueryRow(ctx, query, id))
}

// GetByKey retrieves an entity by its external key.
func (s *Store[T, PT]) GetByKey(ctx context.Context, key string) (PT, error) {
	if key == "" {
		return nil, domain.ErrNotFound
	}
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE natural_key = $1`, selectColumns, s.table)
	return s.scanOne(s.db.pool.QueryRow(ctx, query, key))
}

// List returns entities matching the filter in id order, with the total match count.
func (s *Store[T, PT]) List(ctx context.Context, filter domain.ListFilter, page domain.Page) ([]PT, int64, error) {
	where := " WHERE 1=1"
	args := []interface{}{}
	argNum := 1

	if !filter.IncludeInactive {
		where += fmt.Sprintf(" AND status = $%d", argNum)
		args = append(args, string(domain.StatusActive))
		argNum++
	}

	if filter.Search != "" {
		where += fmt.Sprintf(" AND search_text ILIKE $%d", argNum)
		args = append(args, "%"+likeEscaper.Replace(strings.ToLower(filter.Search))+"%")
		argNum++
	}

	var total int64
	countQuery := fmt.Sprintf(`SELECT COUNT(*) FROM %s%s`, s.table, where)
	if err := s.db.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count %s: %w", s.table, err)
	}

	query := fmt.Sprintf(`SELECT %s FROM %s%s ORDER BY id`, selectColumns, s.table, where)
	if page.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argNum)
		args = append(args, page.Limit)
		argNum++
	}
	if page.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argNum)
		args = append(args, page.Offset)
	}

	rows, err := s.db.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list %s: %w", s.table, err)
	}
	defer rows.Close()

	var result []PT
	for rows.Next() {
		e, err := s.scan(rows)
		if err != nil {
			return nil, 0, err
		}
		result = append(result, e)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to iterate %s: %w", s.table, err)
	}

	return result, total, nil
}

// Update replaces an entity if e's version matches the stored one and bumps the version.
func (s *Store[T, PT]) Update(ctx context.Context, e PT) (PT, error) {
	out := domain.Clone(e)
	m := out.GetMeta()
	m.UpdatedAt = time.Now().UTC()

	attrs, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal attributes: %w", err)
	}

	query := fmt.Sprintf(`
		UPDATE %s SET
			natural_key = $3, search_text = $4, status = $5, version = version + 1,
			updated_by = $6, updated_at = $7, attributes = $8
		WHERE id = $1 AND version = $2
		RETURNING version, created_by, created_at
	`, s.table)

	err = s.db.pool.QueryRow(ctx, query,
		m.ID,
		m.Version,
		nullString(out.Key()),
		searchText(out),
		string(m.Status),
		m.UpdatedBy,
		m.UpdatedAt,
		attrs,
	).Scan(&m.Version, &m.CreatedBy, &m.CreatedAt)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, s.missOrConflict(ctx, m.ID)
	}
	if err != nil {
		if isUniqueViolation(err) {
			return nil, domain.ErrAlreadyExists
		}
		return nil, fmt.Errorf("failed to update %s: %w", s.table, err)
	}

	return out, nil
}

// missOrConflict tells a missing row from a stale version after an update matched nothing.
func (s *Store[T, PT]) missOrConflict(ctx context.Context, id int64) error {
	var exists bool
	query := fmt.Sprintf(`SELECT EXISTS(SELECT 1 FROM %s WHERE id = $1)`, s.table)
	if err := s.db.pool.QueryRow(ctx, query, id).Scan(&exists); err != nil {
		return fmt.Errorf("failed to check %s: %w", s.table, err)
	}
	if !exists {
		return domain.ErrNotFound
	}
	return domain.ErrConflict
}

func (s *Store[T, PT]) scanOne(row pgx.Row) (PT, error) {
	e, err := s.scan(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return e, err
}

// scan decodes the attributes document and overlays the column values on it.
func (s *Store[T, PT]) scan(row pgx.Row) (PT, error) {
	var (
		m      domain.Meta
		status string
		attrs  []byte
	)
	err := row.Scan(&m.ID, &status, &m.Version, &m.CreatedBy, &m.UpdatedBy, &m.CreatedAt, &m.UpdatedAt, &attrs)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan %s: %w", s.table, err)
	}

	e := PT(new(T))
	if len(attrs) > 0 {
		if err := json.Unmarshal(attrs, e); err != nil {
			return nil, fmt.Errorf("failed to unmarshal %s attributes: %w", s.table, err)
		}
	}

	em := e.GetMeta()
	uuid := em.UUID
	*em = m
	em.UUID = uuid
	em.Status = domain.RecordStatus(status)
	return e, nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func searchText(e domain.Entity) string {
	return strings.ToLower(strings.Join(e.SearchText(), "\n"))
}

// nullString returns a pointer to s, or nil if empty.
func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// isUniqueViolation checks if the error is a PostgreSQL unique constraint violation.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
