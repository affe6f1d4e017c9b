package handover

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore is the local-development store. Same contract as the
// DynamoDB store so the gateway and the Connect flow simulator can run
// without AWS.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore opens (or creates) the database at dbPath.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL; PRAGMA synchronous=NORMAL;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS handover_tokens (
		token TEXT PRIMARY KEY,
		conversation_id TEXT NOT NULL,
		caller_phone TEXT,
		created_at TIMESTAMP NOT NULL,
		expires_at TIMESTAMP NOT NULL,
		contact_id TEXT,
		ticket_id TEXT,
		summary TEXT,
		intent TEXT,
		priority TEXT,
		reason TEXT
	)`)
	return err
}

func (s *SQLiteStore) Put(ctx context.Context, p Payload) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO handover_tokens
		(token, conversation_id, caller_phone, created_at, expires_at,
		 contact_id, ticket_id, summary, intent, priority, reason)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.Token, p.ConversationID, p.CallerPhone,
		p.CreatedAt.UTC().Format(time.RFC3339), p.ExpiresAt.UTC().Format(time.RFC3339),
		p.ContactID, p.TicketID, p.Summary, p.Intent, p.Priority, p.Reason,
	)
	if err != nil {
		return fmt.Errorf("put handover record: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, token string) (Payload, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT token, conversation_id, caller_phone, created_at, expires_at,
		        contact_id, ticket_id, summary, intent, priority, reason
		 FROM handover_tokens WHERE token = ?`, token)

	var p Payload
	var created, expires string
	err := row.Scan(&p.Token, &p.ConversationID, &p.CallerPhone, &created, &expires,
		&p.ContactID, &p.TicketID, &p.Summary, &p.Intent, &p.Priority, &p.Reason)
	if errors.Is(err, sql.ErrNoRows) {
		return Payload{}, ErrNotFound
	}
	if err != nil {
		return Payload{}, fmt.Errorf("get handover record: %w", err)
	}

	p.CreatedAt, _ = time.Parse(time.RFC3339, created)
	p.ExpiresAt, err = time.Parse(time.RFC3339, expires)
	if err != nil {
		return Payload{}, fmt.Errorf("parse expiry: %w", err)
	}
	if !time.Now().Before(p.ExpiresAt) {
		return Payload{}, ErrNotFound
	}
	return p, nil
}

func (s *SQLiteStore) Delete(ctx context.Context, token string) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM handover_tokens WHERE token = ?`, token); err != nil {
		return fmt.Errorf("delete handover record: %w", err)
	}
	return nil
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
