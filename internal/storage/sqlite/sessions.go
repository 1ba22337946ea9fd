package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/lprior-repo/zjj/internal/session"
)

const sessionColumns = `name, workspace_path, bead_id, agent_id, created_at, updated_at, metadata, paused`

func scanSession(row entryScanner) (session.Session, error) {
	var s session.Session
	var beadID, agentID, metadata sql.NullString
	var paused int

	err := row.Scan(&s.Name, &s.WorkspacePath, &beadID, &agentID, &s.CreatedAt, &s.UpdatedAt, &metadata, &paused)
	if err != nil {
		return session.Session{}, err
	}

	s.BeadID = beadID.String
	s.AgentID = agentID.String
	s.Paused = paused != 0
	if metadata.Valid && metadata.String != "" {
		m := map[string]string{}
		if err := json.Unmarshal([]byte(metadata.String), &m); err == nil {
			s.Metadata = m
		}
	}
	return s, nil
}

func encodeMetadata(m map[string]string) (sql.NullString, error) {
	if len(m) == 0 {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

// Create inserts a new session row. Fails with ErrAlreadyExists if name is
// already registered.
func (s *SQLiteStorage) CreateSession(ctx context.Context, sess session.Session) error {
	metadata, err := encodeMetadata(sess.Metadata)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = now
	}
	if sess.UpdatedAt.IsZero() {
		sess.UpdatedAt = now
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sessions (name, workspace_path, bead_id, agent_id, created_at, updated_at, metadata, paused)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		sess.Name, sess.WorkspacePath, nullableString(sess.BeadID), nullableString(sess.AgentID),
		sess.CreatedAt, sess.UpdatedAt, metadata, boolToInt(sess.Paused))
	if err != nil {
		if isUniqueViolation(err) {
			return session.ErrAlreadyExists
		}
		return wrapRetryable("create session", err)
	}
	return nil
}

func (s *SQLiteStorage) GetSession(ctx context.Context, name string) (session.Session, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE name = ?`, name)
	sess, err := scanSession(row)
	if err == sql.ErrNoRows {
		return session.Session{}, session.ErrNotFound
	}
	return sess, err
}

func (s *SQLiteStorage) UpdateSession(ctx context.Context, sess session.Session) error {
	metadata, err := encodeMetadata(sess.Metadata)
	if err != nil {
		return err
	}
	sess.UpdatedAt = time.Now().UTC()

	res, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET
			workspace_path = ?, bead_id = ?, agent_id = ?, updated_at = ?, metadata = ?, paused = ?
		WHERE name = ?`,
		sess.WorkspacePath, nullableString(sess.BeadID), nullableString(sess.AgentID),
		sess.UpdatedAt, metadata, boolToInt(sess.Paused), sess.Name)
	if err != nil {
		return wrapRetryable("update session", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return session.ErrNotFound
	}
	return nil
}

func (s *SQLiteStorage) DeleteSession(ctx context.Context, name string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE name = ?`, name)
	if err != nil {
		return wrapRetryable("delete session", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return session.ErrNotFound
	}
	return nil
}

func (s *SQLiteStorage) ListSessions(ctx context.Context, f session.Filter) ([]session.Session, error) {
	var conds []string
	var args []any

	if f.BeadID != "" {
		conds = append(conds, "bead_id = ?")
		args = append(args, f.BeadID)
	}
	if f.AgentID != "" {
		conds = append(conds, "agent_id = ?")
		args = append(args, f.AgentID)
	}
	if f.Paused != nil {
		conds = append(conds, "paused = ?")
		args = append(args, boolToInt(*f.Paused))
	}

	query := `SELECT ` + sessionColumns + ` FROM sessions`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY name ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []session.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

func (s *SQLiteStorage) RenameSession(ctx context.Context, oldName, newName string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE sessions SET name = ?, updated_at = ? WHERE name = ?`,
		newName, time.Now().UTC(), oldName)
	if err != nil {
		if isUniqueViolation(err) {
			return session.ErrAlreadyExists
		}
		return wrapRetryable("rename session", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return session.ErrNotFound
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// SessionStore adapts SQLiteStorage's CreateSession/GetSession/... methods
// to the session.Store interface's plain names, which would otherwise
// collide with SQLiteStorage's queue.Store methods of the same name
// (e.g. List) but different signature.
type SessionStore struct {
	s *SQLiteStorage
}

// NewSessionStore wraps s as a session.Store.
func NewSessionStore(s *SQLiteStorage) *SessionStore {
	return &SessionStore{s: s}
}

func (w *SessionStore) Create(ctx context.Context, sess session.Session) error {
	return w.s.CreateSession(ctx, sess)
}

func (w *SessionStore) Get(ctx context.Context, name string) (session.Session, error) {
	return w.s.GetSession(ctx, name)
}

func (w *SessionStore) Update(ctx context.Context, sess session.Session) error {
	return w.s.UpdateSession(ctx, sess)
}

func (w *SessionStore) Delete(ctx context.Context, name string) error {
	return w.s.DeleteSession(ctx, name)
}

func (w *SessionStore) List(ctx context.Context, f session.Filter) ([]session.Session, error) {
	return w.s.ListSessions(ctx, f)
}

func (w *SessionStore) Rename(ctx context.Context, oldName, newName string) error {
	return w.s.RenameSession(ctx, oldName, newName)
}
