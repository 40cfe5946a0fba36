package history

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore is the single-node embedded alternative to Postgres.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS chat_turns (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id TEXT NOT NULL,
			session_id TEXT NOT NULL,
			role TEXT NOT NULL,
			text TEXT NOT NULL,
			citation TEXT NOT NULL DEFAULT '',
			audio_url TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		);`,
		`CREATE INDEX IF NOT EXISTS idx_chat_turns_user_session ON chat_turns (user_id, session_id, seq);`,
		`CREATE TABLE IF NOT EXISTS chat_sessions (
			user_id TEXT NOT NULL,
			session_id TEXT NOT NULL,
			name TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (user_id, session_id)
		);`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("init sqlite schema: %w", err)
		}
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) CreateSession(ctx context.Context, userID string) (SessionInfo, error) {
	sessionID := newHexID()
	name := DefaultName(sessionID)
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO chat_sessions (user_id, session_id, name, created_at) VALUES (?, ?, ?, ?)`,
		userID, sessionID, name, now,
	)
	if err != nil {
		return SessionInfo{}, fmt.Errorf("create session: %w", err)
	}
	return SessionInfo{ID: sessionID, Name: name, LastModified: now}, nil
}

func (s *SQLiteStore) ListSessions(ctx context.Context, userID string) ([]SessionInfo, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT t.session_id, COALESCE(m.name, substr(t.session_id, 1, 8)), t.last_modified
		 FROM (
			SELECT session_id, MAX(created_at) AS last_modified
			FROM (
				SELECT session_id, created_at FROM chat_turns WHERE user_id = ?
				UNION ALL
				SELECT session_id, created_at FROM chat_sessions WHERE user_id = ?
			)
			GROUP BY session_id
		 ) t
		 LEFT JOIN chat_sessions m ON m.user_id = ? AND m.session_id = t.session_id
		 ORDER BY t.last_modified DESC`,
		userID, userID, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	sessions := []SessionInfo{}
	for rows.Next() {
		var si SessionInfo
		if err := rows.Scan(&si.ID, &si.Name, &si.LastModified); err != nil {
			return nil, fmt.Errorf("scan session row: %w", err)
		}
		sessions = append(sessions, si)
	}
	return sessions, rows.Err()
}

func (s *SQLiteStore) History(ctx context.Context, userID, sessionID string) ([]Turn, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT role, text, citation, audio_url FROM chat_turns
		 WHERE user_id = ? AND session_id = ? ORDER BY seq`,
		userID, sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	turns := []Turn{}
	for rows.Next() {
		var t Turn
		if err := rows.Scan(&t.Role, &t.Text, &t.Citation, &t.AudioURL); err != nil {
			return nil, fmt.Errorf("scan turn row: %w", err)
		}
		turns = append(turns, t)
	}
	return turns, rows.Err()
}

func (s *SQLiteStore) AppendTurns(ctx context.Context, userID, sessionID string, turns []Turn) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin append: %w", err)
	}
	now := time.Now().UTC()
	for _, t := range turns {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO chat_turns (user_id, session_id, role, text, citation, audio_url, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			userID, sessionID, t.Role, t.Text, t.Citation, t.AudioURL, now,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("append turn: %w", err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) SessionExists(ctx context.Context, userID, sessionID string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT (SELECT COUNT(1) FROM chat_sessions WHERE user_id = ? AND session_id = ?)
		      + (SELECT COUNT(1) FROM chat_turns WHERE user_id = ? AND session_id = ?)`,
		userID, sessionID, userID, sessionID,
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("session exists: %w", err)
	}
	return n > 0, nil
}

func (s *SQLiteStore) Rename(ctx context.Context, userID, sessionID, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return ErrEmptyName
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE chat_sessions SET name = ? WHERE user_id = ? AND session_id = ?`,
		name, userID, sessionID,
	)
	if err != nil {
		return fmt.Errorf("rename session: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) SetName(ctx context.Context, userID, sessionID, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		name = DefaultName(sessionID)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO chat_sessions (user_id, session_id, name, created_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT (user_id, session_id) DO UPDATE SET name = excluded.name`,
		userID, sessionID, name, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("set session name: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Delete(ctx context.Context, userID, sessionID string) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM chat_turns WHERE user_id = ? AND session_id = ?`,
		userID, sessionID,
	); err != nil {
		return fmt.Errorf("delete turns: %w", err)
	}
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM chat_sessions WHERE user_id = ? AND session_id = ?`,
		userID, sessionID,
	); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }
