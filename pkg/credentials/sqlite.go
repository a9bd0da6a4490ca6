package credentials

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/JordyChamba/feedsync/pkg/constants"
)

const schema = `
CREATE TABLE IF NOT EXISTS credentials (
	id            INTEGER PRIMARY KEY CHECK (id = 1),
	access_token  TEXT    NOT NULL,
	refresh_token TEXT    NOT NULL,
	user_id       INTEGER NOT NULL,
	username      TEXT    NOT NULL,
	updated_at    INTEGER NOT NULL
);`

// SQLiteStore keeps the pair in a single-row table.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

var _ Store = (*SQLiteStore)(nil)

// OpenSQLite creates or opens the database at path. ":memory:" works for
// tests.
func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open credential database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to credential database: %w", err)
	}

	// one writer, and ":memory:" databases live per connection
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply credential schema: %w", err)
	}
	return &SQLiteStore{db: db, now: time.Now}, nil
}

func (s *SQLiteStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) Load(ctx context.Context) (Pair, error) {
	var p Pair
	err := s.db.QueryRowContext(ctx,
		`SELECT access_token, refresh_token, user_id, username FROM credentials WHERE id = 1`,
	).Scan(&p.AccessToken, &p.RefreshToken, &p.UserID, &p.Username)
	if errors.Is(err, sql.ErrNoRows) {
		return Pair{}, constants.ErrNoCredential
	}
	if err != nil {
		return Pair{}, fmt.Errorf("load credentials: %w", err)
	}
	return p, nil
}

func (s *SQLiteStore) Save(ctx context.Context, p Pair) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO credentials (id, access_token, refresh_token, user_id, username, updated_at)
		VALUES (1, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			access_token  = excluded.access_token,
			refresh_token = excluded.refresh_token,
			user_id       = excluded.user_id,
			username      = excluded.username,
			updated_at    = excluded.updated_at`,
		p.AccessToken, p.RefreshToken, p.UserID, p.Username, s.now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("save credentials: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM credentials`); err != nil {
		return fmt.Errorf("clear credentials: %w", err)
	}
	return nil
}
