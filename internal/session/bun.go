package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
)

type item struct {
	bun.BaseModel `bun:"table:session_items"`

	Name      string    `bun:"name,pk"`
	Value     string    `bun:"value,notnull"`
	UpdatedAt time.Time `bun:"updated_at,notnull"`
}

// BunStore keeps session items in a SQLite table.
type BunStore struct {
	db *bun.DB
}

// OpenSQLite opens (creating if needed) the session database at dsn.
func OpenSQLite(ctx context.Context, dsn string) (*BunStore, error) {
	sqldb, err := sql.Open(sqliteshim.ShimName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open session db: %w", err)
	}

	s := NewBunStore(bun.NewDB(sqldb, sqlitedialect.New()))
	if err := s.migrate(ctx); err != nil {
		_ = sqldb.Close()
		return nil, err
	}
	return s, nil
}

func NewBunStore(db *bun.DB) *BunStore {
	return &BunStore{db: db}
}

func (s *BunStore) migrate(ctx context.Context) error {
	_, err := s.db.NewCreateTable().
		Model((*item)(nil)).
		IfNotExists().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("create session table: %w", err)
	}
	return nil
}

func (s *BunStore) Get(ctx context.Context, key string) (string, bool, error) {
	var it item
	err := s.db.NewSelect().
		Model(&it).
		Where("name = ?", key).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get session item %q: %w", key, err)
	}
	return it.Value, true, nil
}

func (s *BunStore) Put(ctx context.Context, key, value string) error {
	it := &item{Name: key, Value: value, UpdatedAt: time.Now().UTC()}
	_, err := s.db.NewInsert().
		Model(it).
		On("CONFLICT (name) DO UPDATE").
		Set("value = EXCLUDED.value").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("put session item %q: %w", key, err)
	}
	return nil
}

func (s *BunStore) Delete(ctx context.Context, key string) error {
	_, err := s.db.NewDelete().
		Model((*item)(nil)).
		Where("name = ?", key).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("delete session item %q: %w", key, err)
	}
	return nil
}

func (s *BunStore) Close() error {
	return s.db.Close()
}
