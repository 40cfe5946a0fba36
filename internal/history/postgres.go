package history

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists transcripts in PostgreSQL. Appends are plain
// inserts, so concurrent turns on one session interleave instead of
// overwriting each other.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &PostgresStore{pool: pool}, nil
}

func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS chat_turns (
			seq BIGSERIAL PRIMARY KEY,
			user_id TEXT NOT NULL,
			session_id TEXT NOT NULL,
			role TEXT NOT NULL,
			text TEXT NOT NULL,
			citation TEXT NOT NULL DEFAULT '',
			audio_url TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
		`CREATE INDEX IF NOT EXISTS idx_chat_turns_user_session ON chat_turns (user_id, session_id, seq);`,
		`CREATE TABLE IF NOT EXISTS chat_sessions (
			user_id TEXT NOT NULL,
			session_id TEXT NOT NULL,
			name TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (user_id, session_id)
		);`,
	}
	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init history schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *PostgresStore) CreateSession(ctx context.Context, userID string) (SessionInfo, error) {
	sessionID := newHexID()
	name := DefaultName(sessionID)
	var si SessionInfo
	err := s.pool.QueryRow(ctx,
		`INSERT INTO chat_sessions (user_id, session_id, name) VALUES ($1, $2, $3)
		 RETURNING session_id, name, created_at`,
		userID, sessionID, name,
	).Scan(&si.ID, &si.Name, &si.LastModified)
	if err != nil {
		return SessionInfo{}, fmt.Errorf("create session: %w", err)
	}
	return si, nil
}

func (s *PostgresStore) ListSessions(ctx context.Context, userID string) ([]SessionInfo, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT t.session_id, COALESCE(m.name, left(t.session_id, 8)), t.last_modified
		 FROM (
			SELECT session_id, MAX(created_at) AS last_modified
			FROM (
				SELECT session_id, created_at FROM chat_turns WHERE user_id = $1
				UNION ALL
				SELECT session_id, created_at FROM chat_sessions WHERE user_id = $1
			) u
			GROUP BY session_id
		 ) t
		 LEFT JOIN chat_sessions m ON m.user_id = $1 AND m.session_id = t.session_id
		 ORDER BY t.last_modified DESC`,
		userID,
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
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate session rows: %w", err)
	}
	return sessions, nil
}

func (s *PostgresStore) History(ctx context.Context, userID, sessionID string) ([]Turn, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT role, text, citation, audio_url FROM chat_turns
		 WHERE user_id = $1 AND session_id = $2 ORDER BY seq`,
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
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate turn rows: %w", err)
	}
	return turns, nil
}

func (s *PostgresStore) AppendTurns(ctx context.Context, userID, sessionID string, turns []Turn) error {
	batch := &pgx.Batch{}
	for _, t := range turns {
		batch.Queue(
			`INSERT INTO chat_turns (user_id, session_id, role, text, citation, audio_url)
			 VALUES ($1, $2, $3, $4, $5, $6)`,
			userID, sessionID, t.Role, t.Text, t.Citation, t.AudioURL,
		)
	}
	if err := s.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("append turns: %w", err)
	}
	return nil
}

func (s *PostgresStore) SessionExists(ctx context.Context, userID, sessionID string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM chat_sessions WHERE user_id = $1 AND session_id = $2)
		     OR EXISTS (SELECT 1 FROM chat_turns WHERE user_id = $1 AND session_id = $2)`,
		userID, sessionID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("session exists: %w", err)
	}
	return exists, nil
}

func (s *PostgresStore) Rename(ctx context.Context, userID, sessionID, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return ErrEmptyName
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE chat_sessions SET name = $3 WHERE user_id = $1 AND session_id = $2`,
		userID, sessionID, name,
	)
	if err != nil {
		return fmt.Errorf("rename session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) SetName(ctx context.Context, userID, sessionID, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		name = DefaultName(sessionID)
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO chat_sessions (user_id, session_id, name) VALUES ($1, $2, $3)
		 ON CONFLICT (user_id, session_id) DO UPDATE SET name = EXCLUDED.name`,
		userID, sessionID, name,
	)
	if err != nil {
		return fmt.Errorf("set session name: %w", err)
	}
	return nil
}

func (s *PostgresStore) Delete(ctx context.Context, userID, sessionID string) error {
	if _, err := s.pool.Exec(ctx,
		`DELETE FROM chat_turns WHERE user_id = $1 AND session_id = $2`,
		userID, sessionID,
	); err != nil {
		return fmt.Errorf("delete turns: %w", err)
	}
	if _, err := s.pool.Exec(ctx,
		`DELETE FROM chat_sessions WHERE user_id = $1 AND session_id = $2`,
		userID, sessionID,
	); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
