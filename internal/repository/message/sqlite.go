package message

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"secure_drop/internal/model"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `CREATE TABLE IF NOT EXISTS messages (
	recipient_id TEXT PRIMARY KEY,
	ciphertext   BLOB NOT NULL,
	nonce        BLOB NOT NULL,
	auth_tag     BLOB NOT NULL,
	wrapped_key  BLOB NOT NULL,
	mac          BLOB NOT NULL,
	read_once    INTEGER NOT NULL,
	expiry_utc   TEXT NOT NULL
)`

type (
	// SQLiteBackend keeps slots as rows of one table.
	SQLiteBackend struct {
		sqlDB *sql.DB
	}
)

// OpenSQLite opens (creating if needed) the database at path.
func OpenSQLite(path string) (*SQLiteBackend, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	dsn := filepath.Clean(path) + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := sqlDB.Exec(sqliteSchema); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &SQLiteBackend{sqlDB: sqlDB}, nil
}

func nonNil(b []byte) []byte {
	if b == nil {
		return []byte{}
	}
	return b
}

func (b *SQLiteBackend) Load(ctx context.Context, recipientID string) (*model.StoredMessage, error) {
	var (
		env      model.SealedEnvelope
		readOnce bool
		expiry   string
	)
	err := b.sqlDB.QueryRowContext(ctx,
		`SELECT ciphertext, nonce, auth_tag, wrapped_key, mac, read_once, expiry_utc
		   FROM messages WHERE recipient_id = ?`,
		recipientID,
	).Scan(&env.Ciphertext, &env.Nonce, &env.AuthTag, &env.WrappedKey, &env.MAC, &readOnce, &expiry)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	expiryUTC, err := time.Parse(time.RFC3339Nano, expiry)
	if err != nil {
		return nil, fmt.Errorf("%w: expiry %q: %v", ErrCorruptRecord, expiry, err)
	}
	return &model.StoredMessage{
		Envelope:  &env,
		ReadOnce:  readOnce,
		ExpiryUTC: expiryUTC,
	}, nil
}

func (b *SQLiteBackend) Save(ctx context.Context, recipientID string, msg *model.StoredMessage) error {
	env := msg.Envelope
	_, err := b.sqlDB.ExecContext(ctx,
		`INSERT OR REPLACE INTO messages (
		   recipient_id, ciphertext, nonce, auth_tag, wrapped_key, mac, read_once, expiry_utc
		 ) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		recipientID,
		nonNil(env.Ciphertext),
		nonNil(env.Nonce),
		nonNil(env.AuthTag),
		nonNil(env.WrappedKey),
		nonNil(env.MAC),
		msg.ReadOnce,
		msg.ExpiryUTC.UTC().Format(time.RFC3339Nano),
	)
	return err
}

func (b *SQLiteBackend) Remove(ctx context.Context, recipientID string) error {
	_, err := b.sqlDB.ExecContext(ctx, `DELETE FROM messages WHERE recipient_id = ?`, recipientID)
	return err
}

func (b *SQLiteBackend) RemoveAll(ctx context.Context) (int64, error) {
	res, err := b.sqlDB.ExecContext(ctx, `DELETE FROM messages`)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (b *SQLiteBackend) Close() error {
	if b == nil || b.sqlDB == nil {
		return nil
	}
	return b.sqlDB.Close()
}
