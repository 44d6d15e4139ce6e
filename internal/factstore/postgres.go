package factstore

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// PostgresStore хранит документы в таблице documents с полями в JSONB.
type PostgresStore struct {
	pool   *pgxpool.Pool
	delays []time.Duration
}

// NewPostgresStore создаёт пул соединений и применяет миграции схемы.
func NewPostgresStore(dsn string) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%w: ping database: %v", ErrUnavailable, err)
	}

	s := &PostgresStore{
		pool:   pool,
		delays: []time.Duration{1 * time.Second, 3 * time.Second, 5 * time.Second},
	}

	if err := s.runMigrations(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return s, nil
}

func (s *PostgresStore) runMigrations(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(s.pool)
	defer db.Close()

	goose.SetBaseFS(migrationsFS)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}

// withRetry повторяет временные ошибки: конфликты сериализации, дедлоки и обрывы соединения.
// Исчерпав попытки на ошибке соединения, возвращает ErrUnavailable.
func (s *PostgresStore) withRetry(ctx context.Context, fn func() error) error {
	var err error
	for i := 0; i <= len(s.delays); i++ {
		err = fn()
		if err == nil {
			return nil
		}

		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		if !isRetryable(err) {
			return err
		}

		if i < len(s.delays) {
			timer := time.NewTimer(s.delays[i])
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}
	}

	if isConnectionError(err) {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return err
}

func isRetryable(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgerrcode.SerializationFailure || pgErr.Code == pgerrcode.DeadlockDetected
	}
	return isConnectionError(err)
}

func isConnectionError(err error) bool {
	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) {
		return true
	}
	return strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "broken pipe") ||
		strings.Contains(err.Error(), "connection reset by peer")
}

// Close закрывает пул соединений с БД.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// Get возвращает документ по пути.
func (s *PostgresStore) Get(ctx context.Context, path string) (Record, error) {
	collection, id, err := SplitPath(path)
	if err != nil {
		return Record{}, err
	}

	rec := Record{Path: path, ID: id}
	err = s.withRetry(ctx, func() error {
		return s.pool.QueryRow(ctx,
			`SELECT fields, created_at, updated_at FROM documents WHERE collection = $1 AND doc_id = $2`,
			collection, id,
		).Scan(&rec.Fields, &rec.CreatedAt, &rec.UpdatedAt)
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return Record{}, fmt.Errorf("get document: %w", err)
	}

	return rec, nil
}

// List возвращает документы коллекции с keyset-пагинацией по (created_at, doc_id).
func (s *PostgresStore) List(ctx context.Context, collection string, opts ListOptions) ([]Record, error) {
	query, args := buildListQuery(collection, opts)

	var res []Record
	err := s.withRetry(ctx, func() error {
		res = res[:0]

		rows, err := s.pool.Query(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var rec Record
			if err := rows.Scan(&rec.ID, &rec.Fields, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
				return fmt.Errorf("scan document: %w", err)
			}
			rec.Path = Join(collection, rec.ID)
			res = append(res, rec)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}

	return res, nil
}

func buildListQuery(collection string, opts ListOptions) (string, []any) {
	var b strings.Builder
	args := []any{collection}

	b.WriteString(`SELECT doc_id, fields, created_at, updated_at FROM documents WHERE collection = $1`)

	cmp, dir := ">", "ASC"
	if opts.Desc {
		cmp, dir = "<", "DESC"
	}

	if opts.After != nil {
		args = append(args, opts.After.CreatedAt, opts.After.ID)
		fmt.Fprintf(&b, ` AND (created_at, doc_id) %s ($2, $3)`, cmp)
	}

	fmt.Fprintf(&b, ` ORDER BY created_at %s, doc_id %s`, dir, dir)

	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		fmt.Fprintf(&b, ` LIMIT $%d`, len(args))
	}

	return b.String(), args
}

// Put создаёт документ или объединяет поля с существующими (jsonb ||).
func (s *PostgresStore) Put(ctx context.Context, path string, fields map[string]any) error {
	collection, id, err := SplitPath(path)
	if err != nil {
		return err
	}

	if fields == nil {
		fields = map[string]any{}
	}
	raw, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("marshal fields: %w", err)
	}

	err = s.withRetry(ctx, func() error {
		_, err := s.pool.Exec(ctx,
			`INSERT INTO documents (collection, doc_id, fields)
			 VALUES ($1, $2, $3::jsonb)
			 ON CONFLICT (collection, doc_id)
			 DO UPDATE SET fields = documents.fields || EXCLUDED.fields, updated_at = now()`,
			collection, id, string(raw),
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("put document: %w", err)
	}

	return nil
}

// Delete удаляет документ. Для отсутствующего документа возвращается ErrNotFound.
func (s *PostgresStore) Delete(ctx context.Context, path string) error {
	collection, id, err := SplitPath(path)
	if err != nil {
		return err
	}

	var affected int64
	err = s.withRetry(ctx, func() error {
		tag, err := s.pool.Exec(ctx,
			`DELETE FROM documents WHERE collection = $1 AND doc_id = $2`,
			collection, id,
		)
		if err != nil {
			return err
		}
		affected = tag.RowsAffected()
		return nil
	})
	if err != nil {
		return fmt.Errorf("delete document: %w", err)
	}

	if affected == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, path)
	}

	return nil
}
